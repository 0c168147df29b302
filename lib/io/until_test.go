package iolib

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadUntil(t *testing.T) {
	sample := []byte("GET /index HTTP/1.1\r\nHost: example.com\r\n")

	testcases := []struct {
		desc     string
		delim    []byte
		expected []byte
		wantErr  error
	}{
		{
			desc:     "line",
			delim:    []byte("\r\n"),
			expected: []byte("GET /index HTTP/1.1\r\n"),
		},
		{
			desc:     "not found",
			delim:    []byte("\r\n\r\n"),
			expected: sample,
			wantErr:  io.EOF,
		},
		{
			desc:    "no delim",
			delim:   []byte(nil),
			wantErr: ErrZeroLenDelim,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			r := NewUntilReader(bytes.NewReader(sample))
			b, err := r.ReadUntil(tc.delim)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}

			assert.Equal(t, tc.expected, b)
		})
	}
}

// The delimiter has to be found even when it straddles two reads of the
// underlying reader.
func TestReadUntilStraddlingDelim(t *testing.T) {
	head := strings.Repeat("a", 1023) // fills all but one byte of a read
	r := NewUntilReader(strings.NewReader(head + "\r\nrest"))

	b, err := r.ReadUntil([]byte("\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []byte(head+"\r\n"), b)

	buf := make([]byte, 10)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("rest"), buf[:n])
}

func TestReadAfterReadUntil(t *testing.T) {
	r := NewUntilReader(strings.NewReader("Content-Length: 4\r\nbody"))

	b, err := r.ReadUntil([]byte("\r\n"))
	require.NoError(t, err)
	require.Equal(t, []byte("Content-Length: 4\r\n"), b)

	buf := make([]byte, 10)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("body"), buf[:n])
}

func TestReadUntilAfterReadUntil(t *testing.T) {
	r := NewUntilReader(strings.NewReader("one\r\ntwo\r\n"))

	b, err := r.ReadUntil([]byte("\r\n"))
	require.NoError(t, err)
	require.Equal(t, []byte("one\r\n"), b)

	b, err = r.ReadUntil([]byte("\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []byte("two\r\n"), b)
}

func TestReadUntilLimit(t *testing.T) {
	r := NewUntilReader(strings.NewReader("Hello, World!"))

	b, err := r.ReadUntilLimit([]byte("World!"), 3)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []byte("Hel"), b)

	b, err = r.ReadUntilLimit([]byte("World!"), 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("lo, World!"), b)
}

func TestReadUntilLimitZero(t *testing.T) {
	sample := []byte("Hello, World!")
	r := NewUntilReader(bytes.NewReader(sample))

	b, err := r.ReadUntilLimit([]byte("World!"), 0)
	require.NoError(t, err)
	assert.Equal(t, sample, b)
}

func TestWriteFull(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteFull(&buf, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, uint(7), n)
	assert.Equal(t, "payload", buf.String())
}
