package wire

import (
	"bytes"
	"net/http"
	"strconv"
)

const crlf = "\r\n"

// Response is a backend response ready to be written back to the client.
// Body is nil when the response carries no body.
type Response struct {
	StatusCode int
	Reason     string
	Header     Header
	Body       []byte
}

// Serialize encodes resp in HTTP/1.1 wire format. Headers are written as
// Name:Value in insertion order and the body is appended verbatim; the caller
// is responsible for Content-Length matching the body.
func Serialize(resp *Response) []byte {
	var buf bytes.Buffer
	buf.Grow(64 + 32*len(resp.Header) + len(resp.Body))

	reason := resp.Reason
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}

	buf.WriteString(Version)
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(resp.StatusCode))
	buf.WriteByte(' ')
	buf.WriteString(reason)
	buf.WriteString(crlf)

	for _, f := range resp.Header {
		buf.WriteString(f.Name)
		buf.WriteByte(':')
		buf.WriteString(f.Value)
		buf.WriteString(crlf)
	}
	buf.WriteString(crlf)

	buf.Write(resp.Body)

	return buf.Bytes()
}
