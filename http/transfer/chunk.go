package transfer

import (
	"bytes"
	"io"
	"strconv"

	"coronet/http"
	iolib "coronet/lib/io"

	"github.com/pkg/errors"
)

// maxChunkLineLength bounds the chunk-size line, which is tiny in any
// legitimate message. It keeps a garbage stream from ballooning memory.
const maxChunkLineLength = 4096

type Chunk struct {
	Size       uint
	Extensions [][2]string
}

// ChunkedReader converts a chunked message body into a plain byte
// stream. It validates hex sizes and CRLF delimiters, consumes the
// terminating zero chunk, and reads trailer fields into trailerStore
// (discarding them when the store is nil).
type ChunkedReader struct {
	r     *iolib.UntilReader
	chunk *Chunk
	read  uint // reset for each chunk
	done  bool

	// trailerStore points at external trailer storage.
	trailerStore *[]http.Field
}

var _ io.Reader = (*ChunkedReader)(nil)

func NewChunkedReader(r io.Reader, trailerStore *[]http.Field) *ChunkedReader {
	ur, ok := r.(*iolib.UntilReader)
	if !ok {
		ur = iolib.NewUntilReader(r)
	}
	return &ChunkedReader{r: ur, trailerStore: trailerStore}
}

// LastChunk exposes the most recently decoded chunk header, mainly for
// inspecting extensions.
func (cr *ChunkedReader) LastChunk() *Chunk { return cr.chunk }

func (cr *ChunkedReader) Read(b []byte) (int, error) {
	if cr.done {
		return 0, io.EOF
	}

	if cr.chunk == nil {
		if err := cr.decodeChunk(); err != nil {
			return 0, errors.Wrap(err, "decoding chunk")
		}

		if cr.chunk.Size == 0 {
			// Last chunk.
			if err := cr.decodeTrailers(); err != nil {
				return 0, errors.Wrap(err, "decoding trailer")
			}
			cr.done = true
			return 0, io.EOF
		}
	}

	remain := cr.chunk.Size - cr.read
	if uint(len(b)) > remain {
		b = b[:remain]
	}

	n, err := cr.r.Read(b)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return n, errors.Wrap(err, "reading chunk data")
	}

	cr.read += uint(n)

	if cr.read == cr.chunk.Size {
		if err := cr.expectCRLF(); err != nil {
			return n, err
		}

		cr.chunk = nil
		cr.read = 0
	}

	return n, nil
}

func (cr *ChunkedReader) expectCRLF() error {
	var dump [2]byte
	if _, err := io.ReadFull(cr.r, dump[:]); err != nil {
		return errors.Wrap(err, "reading chunk delimiter")
	}

	if !bytes.Equal(dump[:], http.CRLF) {
		return errors.New("CRLF delimiter not found")
	}
	return nil
}

func (cr *ChunkedReader) decodeChunk() error {
	line, err := cr.readLine()
	if err != nil {
		return err
	}

	parts := bytes.Split(line, []byte{';'})

	sizeRaw := bytes.TrimFunc(parts[0], func(r rune) bool {
		return r == ' ' || r == '\t'
	})
	chunkSize, err := decodeChunkSize(sizeRaw)
	if err != nil {
		return errors.Wrap(err, "decoding chunk size")
	}

	// Decode chunk extensions.
	extensions := make([][2]string, 0, len(parts)-1)
	for _, part := range parts[1:] {
		k, v, _ := bytes.Cut(part, []byte{'='})
		k = bytes.TrimSpace(k)
		v = bytes.TrimSpace(v)

		extensions = append(extensions, [2]string{string(k), string(unquote(v))})
	}

	cr.chunk = &Chunk{Size: chunkSize, Extensions: extensions}

	return nil
}

func decodeChunkSize(b []byte) (uint, error) {
	if len(b) == 0 {
		return 0, errors.New("chunk size is empty")
	}

	size, err := strconv.ParseUint(string(b), 16, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "decoding hex %q", string(b))
	}

	return uint(size), nil
}

func (cr *ChunkedReader) decodeTrailers() error {
	fields := make([]http.Field, 0)
	for {
		line, err := cr.readLine()
		if err != nil {
			return errors.Wrap(err, "reading line")
		}

		if len(line) == 0 {
			// Last field.
			break
		}

		field, err := http.ParseField(line)
		if err != nil {
			return errors.Wrap(err, "parsing field")
		}

		fields = append(fields, field)
	}

	if cr.trailerStore != nil {
		*cr.trailerStore = fields
	}

	return nil
}

// readLine reads until CRLF and cuts it.
func (cr *ChunkedReader) readLine() ([]byte, error) {
	line, err := cr.r.ReadUntilLimit(http.CRLF, maxChunkLineLength)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return line[:len(line)-2], nil
}

func unquote(b []byte) []byte {
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		return b[1 : len(b)-1]
	}
	return b
}
