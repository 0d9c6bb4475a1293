package server_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/path-proxy/internal/server"
)

type handlerFunc func(ctx context.Context, conn net.Conn)

func (f handlerFunc) ServeConn(ctx context.Context, conn net.Conn) {
	f(ctx, conn)
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var _ = Describe("Server", func() {
	Context("server creation", func() {
		noop := handlerFunc(func(context.Context, net.Conn) {})

		It("creates server with IP address", func() {
			srv, err := server.New("127.0.0.1:9999", noop, 1, discard)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv).NotTo(BeNil())
		})

		It("handles port-only address", func() {
			_, err := server.New(":9999", noop, 1, discard)
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects invalid address", func() {
			srv, err := server.New("invalid:host:port", noop, 1, discard)
			Expect(err).To(HaveOccurred())
			Expect(srv).To(BeNil())
		})

		It("rejects a non-positive connection limit", func() {
			_, err := server.New("127.0.0.1:9999", noop, 0, discard)
			Expect(err).To(HaveOccurred())
		})

		It("has no address before Listen", func() {
			srv, _ := server.New("127.0.0.1:0", noop, 1, discard)
			Expect(srv.Addr()).To(BeNil())
		})
	})

	Context("server lifecycle", func() {
		var (
			srv     *server.Server
			served  chan error
			handler handlerFunc
		)

		start := func(maxConns int64) {
			var err error
			srv, err = server.New("127.0.0.1:0", handler, maxConns, discard)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv.Listen()).To(Succeed())

			served = make(chan error, 1)
			go func() {
				served <- srv.Serve()
			}()
		}

		dial := func() net.Conn {
			conn, err := net.Dial("tcp", srv.Addr().String())
			Expect(err).NotTo(HaveOccurred())
			return conn
		}

		AfterEach(func() {
			_ = srv.Shutdown(context.Background())
			Eventually(served).Should(Receive(BeNil()))
		})

		It("hands accepted connections to the handler", func() {
			handler = func(_ context.Context, conn net.Conn) {
				defer conn.Close()
				_, _ = conn.Write([]byte("hi"))
			}
			start(4)

			conn := dial()
			defer conn.Close()

			out, err := io.ReadAll(conn)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(out)).To(Equal("hi"))
		})

		It("serves at most maxConns connections at once", func() {
			var active, peak, total atomic.Int32
			release := make(chan struct{})

			handler = func(_ context.Context, conn net.Conn) {
				defer conn.Close()
				n := active.Add(1)
				defer active.Add(-1)
				total.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				<-release
			}
			start(2)

			for i := 0; i < 5; i++ {
				conn := dial()
				defer conn.Close()
			}

			Eventually(active.Load).Should(BeEquivalentTo(2))
			Consistently(total.Load, 200*time.Millisecond).Should(BeEquivalentTo(2))

			close(release)
			Eventually(total.Load).Should(BeEquivalentTo(5))
			Expect(peak.Load()).To(BeEquivalentTo(2))
		})

		It("waits for in-flight connections on shutdown", func() {
			release := make(chan struct{})
			started := make(chan struct{})
			handler = func(_ context.Context, conn net.Conn) {
				defer conn.Close()
				close(started)
				<-release
			}
			start(1)

			conn := dial()
			defer conn.Close()
			Eventually(started).Should(BeClosed())

			done := make(chan error, 1)
			go func() {
				done <- srv.Shutdown(context.Background())
			}()

			Consistently(done, 200*time.Millisecond).ShouldNot(Receive())
			close(release)
			Eventually(done).Should(Receive(BeNil()))
		})

		It("aborts connections still running when the grace period ends", func() {
			aborted := make(chan struct{})
			started := make(chan struct{})
			handler = func(ctx context.Context, conn net.Conn) {
				defer conn.Close()
				close(started)
				<-ctx.Done()
				close(aborted)
			}
			start(1)

			conn := dial()
			defer conn.Close()
			Eventually(started).Should(BeClosed())

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			err := srv.Shutdown(ctx)
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
			Expect(aborted).To(BeClosed())
		})

		It("refuses new connections after shutdown", func() {
			handler = func(_ context.Context, conn net.Conn) { conn.Close() }
			start(1)
			addr := srv.Addr().String()

			Expect(srv.Shutdown(context.Background())).To(Succeed())
			Eventually(served).Should(Receive(BeNil()))
			served <- nil

			_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
			Expect(err).To(HaveOccurred())
		})
	})
})
