// Loadtest sends concurrent GET requests through the proxy and reports the
// status codes, latency percentiles and how requests spread across backends,
// as named by the X-Backend-Server response header.
//
// Usage:
//
//	loadtest --url http://127.0.0.1:8080/app/ --requests 1000 --concurrency 20
//	loadtest --url http://127.0.0.1:8080/app/ --out summary.json
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type result struct {
	backend string
	status  int
	latency time.Duration
	err     error
}

// Summary is the outcome of one load test run.
type Summary struct {
	Target      string         `json:"target"`
	Total       int            `json:"total"`
	Success     int            `json:"success"`
	Failure     int            `json:"failure"`
	DurationMS  int64          `json:"duration_ms"`
	Throughput  float64        `json:"throughput_rps"`
	StatusCodes map[int]int    `json:"status_codes"`
	Backends    map[string]int `json:"backends"`
	P50MS       float64        `json:"p50_ms"`
	P90MS       float64        `json:"p90_ms"`
	P99MS       float64        `json:"p99_ms"`
}

// runLoad issues requests GETs against url with at most concurrency in flight.
func runLoad(ctx context.Context, client *http.Client, url string, requests, concurrency int) Summary {
	results := make([]result, requests)

	var g errgroup.Group
	g.SetLimit(concurrency)

	start := time.Now()
	for i := 0; i < requests; i++ {
		g.Go(func() error {
			results[i] = fetch(ctx, client, url)
			return nil
		})
	}
	_ = g.Wait()

	return summarize(url, results, time.Since(start))
}

func fetch(ctx context.Context, client *http.Client, url string) result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return result{err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return result{err: err, latency: time.Since(start)}
	}
	defer resp.Body.Close()

	_, err = io.Copy(io.Discard, resp.Body)

	backend := resp.Header.Get("X-Backend-Server")
	if backend == "" {
		backend = "(unknown)"
	}

	return result{
		backend: backend,
		status:  resp.StatusCode,
		latency: time.Since(start),
		err:     err,
	}
}

func summarize(target string, results []result, elapsed time.Duration) Summary {
	s := Summary{
		Target:      target,
		Total:       len(results),
		DurationMS:  elapsed.Milliseconds(),
		StatusCodes: make(map[int]int),
		Backends:    make(map[string]int),
	}

	latencies := make([]time.Duration, 0, len(results))
	for _, r := range results {
		latencies = append(latencies, r.latency)

		if r.err != nil {
			s.Failure++
			continue
		}

		s.StatusCodes[r.status]++
		s.Backends[r.backend]++
		if r.status >= 200 && r.status <= 299 {
			s.Success++
		} else {
			s.Failure++
		}
	}

	if elapsed > 0 {
		s.Throughput = float64(s.Total) / elapsed.Seconds()
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	s.P50MS = millis(percentile(latencies, 0.50))
	s.P90MS = millis(percentile(latencies, 0.90))
	s.P99MS = millis(percentile(latencies, 0.99))

	return s
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*p)]
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

func (s Summary) Print(w io.Writer) {
	fmt.Fprintln(w, "--- Load Test Summary ---")
	fmt.Fprintf(w, "Target: %s\n", s.Target)
	fmt.Fprintf(w, "Total: %d  Success: %d  Failure: %d\n", s.Total, s.Success, s.Failure)
	fmt.Fprintf(w, "Duration: %dms  Throughput: %.2f req/s\n", s.DurationMS, s.Throughput)
	fmt.Fprintf(w, "Latency: p50=%.3fms p90=%.3fms p99=%.3fms\n", s.P50MS, s.P90MS, s.P99MS)

	fmt.Fprintln(w, "\nStatus codes:")
	codes := make([]int, 0, len(s.StatusCodes))
	for code := range s.StatusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  %d -> %d\n", code, s.StatusCodes[code])
	}

	fmt.Fprintln(w, "\nBackend distribution:")
	backends := make([]string, 0, len(s.Backends))
	for b := range s.Backends {
		backends = append(backends, b)
	}
	sort.Strings(backends)
	for _, b := range backends {
		fmt.Fprintf(w, "  %s -> %d\n", b, s.Backends[b])
	}
}

func main() {
	var (
		url         string
		requests    int
		concurrency int
		timeout     time.Duration
		out         string
	)

	cmd := &cobra.Command{
		Use:          "loadtest",
		Short:        "Concurrent load generator for the proxy",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if requests < 1 || concurrency < 1 {
				return fmt.Errorf("requests and concurrency must be positive")
			}

			// The proxy closes every connection after one response.
			client := &http.Client{
				Timeout:   timeout,
				Transport: &http.Transport{DisableKeepAlives: true},
			}

			summary := runLoad(cmd.Context(), client, url, requests, concurrency)
			summary.Print(cmd.OutOrStdout())

			if out != "" {
				b, err := json.MarshalIndent(summary, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, b, 0o644); err != nil {
					return fmt.Errorf("failed to write summary: %w", err)
				}
			}

			if summary.Failure > 0 {
				return fmt.Errorf("%d of %d requests failed", summary.Failure, summary.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://127.0.0.1:8080/", "target URL")
	cmd.Flags().IntVarP(&requests, "requests", "n", 100, "total number of requests")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 10, "requests in flight at once")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")
	cmd.Flags().StringVar(&out, "out", "", "write a JSON summary to this file")

	if err := cmd.Execute(); err != nil {
		os.Exit(2)
	}
}
