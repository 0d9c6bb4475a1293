package wire_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/path-proxy/internal/wire"
)

var _ = Describe("Serialize", func() {
	It("should emit status line, headers and an empty body section for 204", func() {
		resp := &wire.Response{
			StatusCode: 204,
			Reason:     "No Content",
			Header:     wire.Header{{Name: "Server", Value: "test"}},
		}

		Expect(string(wire.Serialize(resp))).To(Equal("HTTP/1.1 204 No Content\r\nServer:test\r\n\r\n"))
	})

	It("should fall back to the standard reason phrase", func() {
		out := wire.Serialize(&wire.Response{StatusCode: 404})
		Expect(string(out)).To(Equal("HTTP/1.1 404 Not Found\r\n\r\n"))
	})

	It("should preserve header order and duplicates", func() {
		resp := &wire.Response{StatusCode: 200, Reason: "OK"}
		resp.Header.Add("Set-Cookie", "a=1")
		resp.Header.Add("Content-Type", "text/plain")
		resp.Header.Add("Set-Cookie", "b=2")

		Expect(string(wire.Serialize(resp))).To(Equal(
			"HTTP/1.1 200 OK\r\nSet-Cookie:a=1\r\nContent-Type:text/plain\r\nSet-Cookie:b=2\r\n\r\n"))
	})

	It("should append the body verbatim without recomputing Content-Length", func() {
		resp := &wire.Response{
			StatusCode: 200,
			Reason:     "OK",
			Header:     wire.Header{{Name: "Content-Length", Value: "5"}},
			Body:       []byte("hello"),
		}

		Expect(string(wire.Serialize(resp))).To(Equal("HTTP/1.1 200 OK\r\nContent-Length:5\r\n\r\nhello"))
	})
})
