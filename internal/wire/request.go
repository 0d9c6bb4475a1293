package wire

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// Version is the only protocol version the proxy accepts and emits.
	Version = "HTTP/1.1"

	headerContentLength = "Content-Length"
)

// Request is a decoded HTTP/1.1 request. Body is nil when the request carries
// no body.
type Request struct {
	Method  string
	Target  string
	Version string
	Header  Header
	Body    []byte
}

// Path returns the request-target without its query string.
func (r *Request) Path() string {
	if i := strings.IndexByte(r.Target, '?'); i >= 0 {
		return r.Target[:i]
	}
	return r.Target
}

func (r *Request) HasBody() bool {
	return r.Body != nil
}

// Parse decodes one complete request from buf. The buffer is treated as the
// whole request: bytes are never accumulated across reads, so a request larger
// than buf is decoded from whatever prefix is present.
//
// The returned request does not alias buf.
func Parse(buf []byte) (*Request, error) {
	sc := lineScanner{buf: buf}

	line := sc.next()
	if !utf8.Valid(line) {
		return nil, newParseError(sc.line, ErrInvalidEncoding, "request line")
	}

	tokens := strings.Fields(string(line))
	if len(tokens) != 3 {
		return nil, newParseError(sc.line, ErrInvalidRequestLine, "expected 3 tokens, got %d", len(tokens))
	}
	if tokens[2] != Version {
		return nil, newParseError(sc.line, ErrUnsupportedVersion, "%q", tokens[2])
	}

	req := &Request{
		Method:  tokens[0],
		Target:  tokens[1],
		Version: tokens[2],
	}

	terminated := false
	for !sc.done() {
		line = sc.next()
		if len(line) == 0 {
			terminated = true
			break
		}
		if !utf8.Valid(line) {
			return nil, newParseError(sc.line, ErrInvalidEncoding, "header line")
		}

		idx := bytes.IndexByte(line, ':')
		if idx < 0 {
			return nil, newParseError(sc.line, ErrInvalidHeaders, "missing colon")
		}
		name := string(line[:idx])
		if name == "" || strings.ContainsAny(name, " \t") {
			return nil, newParseError(sc.line, ErrInvalidHeaders, "malformed header name %q", name)
		}
		req.Header.Add(name, strings.TrimSpace(string(line[idx+1:])))
	}

	raw, ok := req.Header.Lookup(headerContentLength)
	if !ok {
		return req, nil
	}
	length, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return nil, newParseError(sc.line, ErrInvalidHeaders, "content-length %q", raw)
	}
	if length == 0 {
		return req, nil
	}

	rest := sc.rest()
	if !terminated || len(rest) == 0 {
		return nil, newParseError(sc.line, ErrMissingBody, "content-length %d", length)
	}
	req.Body = bytes.Clone(rest)

	return req, nil
}

// lineScanner splits a buffer on LF, dropping an optional preceding CR.
type lineScanner struct {
	buf  []byte
	off  int
	line int
}

func (s *lineScanner) done() bool {
	return s.off >= len(s.buf)
}

func (s *lineScanner) next() []byte {
	s.line++

	remaining := s.buf[s.off:]
	idx := bytes.IndexByte(remaining, '\n')
	if idx < 0 {
		s.off = len(s.buf)
		return bytes.TrimSuffix(remaining, []byte{'\r'})
	}

	s.off += idx + 1
	return bytes.TrimSuffix(remaining[:idx], []byte{'\r'})
}

func (s *lineScanner) rest() []byte {
	return s.buf[s.off:]
}
