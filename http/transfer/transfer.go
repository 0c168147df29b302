// Package transfer implements reception of transfer codings, which is
// just chunked: this stack never generates chunked bodies, but must be
// able to receive them.
package transfer

import "github.com/pkg/errors"

// Coding is a transfer coding name as it appears in Transfer-Encoding.
type Coding string

const CodingChunked Coding = "chunked"

var ErrUnsupportedCoding = errors.New("unsupported transfer coding")
