// Package metrics exposes the resolver's Prometheus instrumentation: query
// outcomes, forwarder outcomes, and cache size, served over a standalone
// HTTP listener separate from the DNS port.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Query outcomes recorded against QueriesTotal.
const (
	ResultHit         = "hit"
	ResultMiss        = "miss"
	ResultDedupDrop    = "dedup_drop"
	ResultParseError  = "parse_error"
	ResultRateLimited = "rate_limited"
	ResultACLDenied   = "acl_denied"
)

// Forwarder outcomes recorded against ForwarderRequestsTotal.
const (
	OutcomeOK         = "ok"
	OutcomeTimeout    = "timeout"
	OutcomeRcodeError = "rcode_error"
)

var (
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dnscached_queries_total",
			Help: "Total DNS queries processed, by result.",
		},
		[]string{"result"},
	)

	ForwarderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dnscached_forwarder_requests_total",
			Help: "Total upstream forwarder requests, by outcome.",
		},
		[]string{"outcome"},
	)

	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dnscached_query_duration_seconds",
			Help:    "End-to-end time to answer a query.",
			Buckets: prometheus.DefBuckets,
		},
	)

	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dnscached_cache_entries",
			Help: "Number of owner names currently tracked by the cache.",
		},
	)
)

func init() {
	prometheus.MustRegister(QueriesTotal, ForwarderRequestsTotal, QueryDuration, CacheEntries)
}

// Server serves the /metrics endpoint on its own listener, independent of
// the DNS UDP socket.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a metrics Server bound to addr. It does not start
// listening until Start is called.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the metrics HTTP server until the process exits or Shutdown is
// called; ListenAndServe's own error (other than the expected shutdown one)
// is returned to errCh.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
}

// Shutdown gracefully stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// PollCacheSize updates the CacheEntries gauge from fn every interval until
// ctx is canceled. fn is typically cache.Stats' Domains field.
func PollCacheSize(ctx context.Context, interval time.Duration, fn func() int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			CacheEntries.Set(float64(fn()))
		case <-ctx.Done():
			return
		}
	}
}
