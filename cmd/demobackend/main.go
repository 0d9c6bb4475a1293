// Demobackend is a small HTTP server to run behind the proxy by hand. Every
// response names the backend that produced it in the X-Backend-Server header.
//
// Usage:
//
//	demobackend --port 9001
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/angeloszaimis/path-proxy/pkg/logger"
)

// Echo is the JSON body returned for every request.
type Echo struct {
	ID      string `json:"id"`
	Backend string `json:"backend"`
	Method  string `json:"method"`
	Target  string `json:"target"`
	Body    string `json:"body,omitempty"`
}

func newMux(name string, log *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		log.Info("request",
			slog.String("method", r.Method),
			slog.String("target", r.URL.RequestURI()),
			slog.String("from", r.RemoteAddr))

		b, _ := json.Marshal(Echo{
			ID:      uuid.NewString(),
			Backend: name,
			Method:  r.Method,
			Target:  r.URL.RequestURI(),
			Body:    string(body),
		})

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", strconv.Itoa(len(b)))
		w.Header().Set("X-Backend-Server", name)
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	})

	return mux
}

func main() {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:          "demobackend",
		Short:        "Echo server for manual proxy runs",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := net.JoinHostPort(host, strconv.Itoa(port))
			log := logger.New("info", false, "dev", os.Stdout).With(slog.String("backend", addr))

			log.Info("starting backend")
			if err := http.ListenAndServe(addr, newMux(addr, log)); err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "address to listen on")
	cmd.Flags().IntVarP(&port, "port", "p", 9001, "port to listen on")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
