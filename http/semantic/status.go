package semantic

// Status codes used across the stack. Any code in 100..599 is legal on
// the wire; these are the ones with canonical reason phrases.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-15
const (
	StatusContinue           uint = 100
	StatusSwitchingProtocols uint = 101

	StatusOK        uint = 200
	StatusCreated   uint = 201
	StatusAccepted  uint = 202
	StatusNoContent uint = 204

	StatusMovedPermanently uint = 301
	StatusFound            uint = 302
	StatusSeeOther         uint = 303
	StatusNotModified      uint = 304

	StatusBadRequest        uint = 400
	StatusUnauthorized      uint = 401
	StatusForbidden         uint = 403
	StatusNotFound          uint = 404
	StatusMethodNotAllowed  uint = 405
	StatusRequestTimeout    uint = 408
	StatusLengthRequired    uint = 411
	StatusContentTooLarge   uint = 413
	StatusRequestURITooLong uint = 414

	StatusInternalServerError uint = 500
	StatusNotImplemented      uint = 501
	StatusBadGateway          uint = 502
	StatusServiceUnavailable  uint = 503
	StatusGatewayTimeout      uint = 504
)

var reasonPhrases = map[uint]string{
	StatusContinue:           "Continue",
	StatusSwitchingProtocols: "Switching Protocols",

	StatusOK:        "OK",
	StatusCreated:   "Created",
	StatusAccepted:  "Accepted",
	StatusNoContent: "No Content",

	StatusMovedPermanently: "Moved Permanently",
	StatusFound:            "Found",
	StatusSeeOther:         "See Other",
	StatusNotModified:      "Not Modified",

	StatusBadRequest:        "Bad Request",
	StatusUnauthorized:      "Unauthorized",
	StatusForbidden:         "Forbidden",
	StatusNotFound:          "Not Found",
	StatusMethodNotAllowed:  "Method Not Allowed",
	StatusRequestTimeout:    "Request Timeout",
	StatusLengthRequired:    "Length Required",
	StatusContentTooLarge:   "Content Too Large",
	StatusRequestURITooLong: "Request URI Too Long",

	StatusInternalServerError: "Internal Server Error",
	StatusNotImplemented:      "Not Implemented",
	StatusBadGateway:          "Bad Gateway",
	StatusServiceUnavailable:  "Service Unavailable",
	StatusGatewayTimeout:      "Gateway Timeout",
}

// ReasonPhrase returns the canonical phrase for code, or "" for codes
// without one (they are still sent verbatim).
func ReasonPhrase(code uint) string { return reasonPhrases[code] }

// ValidStatus reports whether code fits in the wire format's three
// digits and a defined class.
func ValidStatus(code uint) bool { return code >= 100 && code <= 599 }
