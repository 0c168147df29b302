// Package iolib supplements the standard io package with the
// byte-stream helpers the protocol code needs: delimiter-bounded
// reads with leftover buffering, uint-based limiting, and adapters
// that bind a context to a [transport.Conn].
package iolib

import (
	"context"
	"io"

	"coronet/transport"
)

func WriteFull(w io.Writer, buf []byte) (uint, error) {
	total := uint(0)
	for total < uint(len(buf)) {
		n, err := w.Write(buf[total:])
		total += uint(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

type connReader struct {
	ctx  context.Context
	conn transport.Conn
}

// ConnReader binds ctx to conn's reads so byte-oriented decoders can
// consume a [transport.Conn] through the plain [io.Reader] interface.
func ConnReader(ctx context.Context, conn transport.Conn) io.Reader {
	return &connReader{ctx: ctx, conn: conn}
}

func (cr *connReader) Read(p []byte) (int, error) {
	return cr.conn.Read(cr.ctx, p)
}

type connWriter struct {
	ctx  context.Context
	conn transport.Conn
}

// ConnWriter is the write-side counterpart of [ConnReader].
func ConnWriter(ctx context.Context, conn transport.Conn) io.Writer {
	return &connWriter{ctx: ctx, conn: conn}
}

func (cw *connWriter) Write(p []byte) (int, error) {
	return cw.conn.Write(cw.ctx, p)
}
