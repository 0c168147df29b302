package server

import (
	"time"

	"coronet/http"
)

type Options struct {
	Decode http.DecodeOptions
	Encode http.EncodeOptions

	// ReadTimeout and WriteTimeout bound each socket operation while a
	// request is being served. Zero disables the limit.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxBodySize caps the request body. Requests over the cap get a
	// 413 response. Zero disables the cap.
	MaxBodySize uint

	// DrainGrace is how long Stop waits for in-flight connections
	// before force-closing them.
	DrainGrace time.Duration
}

func DefaultOptions() Options {
	return Options{
		Decode:       http.DefaultDecodeOptions,
		Encode:       http.EncodeOptions{},
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		MaxBodySize:  8 << 20,
		DrainGrace:   5 * time.Second,
	}
}
