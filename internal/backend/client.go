package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/angeloszaimis/path-proxy/internal/wire"
)

const dialTimeout = 5 * time.Second

// SendError reports a transport-level failure talking to a backend. It aborts
// the current exchange only; nothing is retried.
type SendError struct {
	Backend string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Backend, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Client forwards requests to backends. Every call opens a new connection.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a client whose calls are bounded by timeout. A zero
// timeout leaves calls bounded only by the caller's context.
func NewClient(timeout time.Duration) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: dialTimeout,
		}).DialContext,
		DisableKeepAlives:  true,
		DisableCompression: true,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Forward sends req to addr, preserving method, request-target, headers and
// body. The response body is read into memory only when the backend declares a
// non-zero Content-Length.
func (c *Client) Forward(ctx context.Context, req *wire.Request, addr string) (*wire.Response, error) {
	outReq, err := newOutboundRequest(ctx, req, addr)
	if err != nil {
		return nil, &SendError{Backend: addr, Err: err}
	}

	res, err := c.httpClient.Do(outReq)
	if err != nil {
		return nil, &SendError{Backend: addr, Err: err}
	}
	defer res.Body.Close()

	resp := &wire.Response{
		StatusCode: res.StatusCode,
		Reason:     reasonPhrase(res),
		Header:     copyHeader(res.Header),
	}

	if res.ContentLength > 0 && req.Method != http.MethodHead {
		body, err := io.ReadAll(io.LimitReader(res.Body, res.ContentLength))
		if err != nil {
			return nil, &SendError{Backend: addr, Err: fmt.Errorf("read body: %w", err)}
		}
		if int64(len(body)) != res.ContentLength {
			return nil, &SendError{Backend: addr, Err: fmt.Errorf("short body: got %d of %d bytes", len(body), res.ContentLength)}
		}
		resp.Body = body
	}

	return resp, nil
}

func newOutboundRequest(ctx context.Context, req *wire.Request, addr string) (*http.Request, error) {
	var body io.Reader
	if req.HasBody() {
		body = bytes.NewReader(req.Body)
	}

	outReq, err := http.NewRequestWithContext(ctx, req.Method, "http://"+addr+req.Target, body)
	if err != nil {
		return nil, err
	}

	for _, f := range req.Header {
		if strings.EqualFold(f.Name, "Host") {
			outReq.Host = f.Value
			continue
		}
		outReq.Header.Add(f.Name, f.Value)
	}

	// net/http injects its own User-Agent unless one is present; an empty
	// value suppresses it.
	if _, ok := req.Header.Lookup("User-Agent"); !ok {
		outReq.Header.Set("User-Agent", "")
	}

	return outReq, nil
}

// copyHeader flattens an http.Header in sorted name order so serialization is
// deterministic.
func copyHeader(h http.Header) wire.Header {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(wire.Header, 0, len(h))
	for _, name := range names {
		for _, v := range h[name] {
			out.Add(name, v)
		}
	}
	return out
}

// reasonPhrase strips the status code from res.Status ("200 OK" -> "OK").
func reasonPhrase(res *http.Response) string {
	reason := strings.TrimPrefix(res.Status, strconv.Itoa(res.StatusCode))
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = http.StatusText(res.StatusCode)
	}
	return reason
}
