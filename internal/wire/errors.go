package wire

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidEncoding    = errors.New("line is not valid UTF-8")
	ErrInvalidRequestLine = errors.New("invalid request line")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrInvalidHeaders     = errors.New("invalid headers")
	ErrMissingBody        = errors.New("declared body is missing")
)

// ParseError reports why a request buffer could not be decoded. Err is one of
// the sentinel errors above, so callers can match with errors.Is.
type ParseError struct {
	Line   int
	Err    error
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: %v: %s", e.Line, e.Err, e.Detail)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func newParseError(line int, err error, format string, args ...any) *ParseError {
	return &ParseError{Line: line, Err: err, Detail: fmt.Sprintf(format, args...)}
}
