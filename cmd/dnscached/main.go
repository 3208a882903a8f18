package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dnscached/dnscached/internal/acl"
	"github.com/dnscached/dnscached/internal/cache"
	"github.com/dnscached/dnscached/internal/config"
	"github.com/dnscached/dnscached/internal/dispatch"
	"github.com/dnscached/dnscached/internal/eventbus"
	"github.com/dnscached/dnscached/internal/forwarder"
	"github.com/dnscached/dnscached/internal/metrics"
	"github.com/dnscached/dnscached/internal/queryid"
	"github.com/dnscached/dnscached/internal/ratelimit"
	"github.com/dnscached/dnscached/internal/server"

	"flag"
)

var (
	listenAddr    = flag.String("p", "", "UDP listen address, e.g. :53 (overrides config file)")
	forwarderAddr = flag.String("f", "", "Upstream forwarder address, e.g. 8.8.8.8 (overrides config file)")
	configPath    = flag.String("c", "", "Path to a YAML config file")
	statsEnabled  = flag.Bool("stats", true, "Print statistics periodically")
)

func main() {
	flag.Parse()

	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║               dnscached                   ║")
	fmt.Println("║   caching forwarding DNS resolver         ║")
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println()

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error loading config %s: %v\n", *configPath, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}
	if *forwarderAddr != "" {
		cfg.Forwarder = *forwarderAddr
	}

	fmt.Printf("configuration:\n")
	fmt.Printf("  listen:        %s\n", cfg.Listen)
	fmt.Printf("  forwarder:     %s\n", cfg.Forwarder)
	fmt.Printf("  workers:       %d\n", cfg.Workers)
	fmt.Printf("  rate limit:    %.0f qps (burst %d)\n", cfg.RateLimitQPS, cfg.RateLimitBurst)
	if cfg.MetricsListen != "" {
		fmt.Printf("  metrics:       %s\n", cfg.MetricsListen)
	}
	fmt.Println()

	fwd, err := forwarder.New(cfg.Forwarder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error resolving forwarder %s: %v\n", cfg.Forwarder, err)
		os.Exit(1)
	}

	c := cache.New(cache.Config{})
	defer c.Close()

	hasher := queryid.NewHasher()
	bus := eventbus.New(32)
	go logEvents(bus)

	var limiter *ratelimit.Limiter
	if cfg.RateLimitQPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			QueriesPerSecond: cfg.RateLimitQPS,
			BurstSize:        cfg.RateLimitBurst,
			CleanupInterval:  5 * time.Minute,
		})
	}

	var gate *acl.ACL
	if len(cfg.AllowNets) > 0 || len(cfg.DenyNets) > 0 {
		gate = acl.New(true)
		for _, n := range cfg.AllowNets {
			if err := gate.AllowNet(n); err != nil {
				fmt.Fprintf(os.Stderr, "error parsing allow_nets entry %q: %v\n", n, err)
				os.Exit(1)
			}
		}
		for _, n := range cfg.DenyNets {
			if err := gate.DenyNet(n); err != nil {
				fmt.Fprintf(os.Stderr, "error parsing deny_nets entry %q: %v\n", n, err)
				os.Exit(1)
			}
		}
	}

	disp := dispatch.New(c, fwd, hasher, limiter, gate, bus)

	srv, err := server.New(server.Config{ListenAddr: cfg.Listen, Workers: cfg.Workers}, disp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error starting server: %v\n", err)
		os.Exit(1)
	}
	srv.Start()
	fmt.Println("dnscached started")
	fmt.Println()

	var metricsSrv *metrics.Server
	if cfg.MetricsListen != "" {
		metricsSrv = metrics.NewServer(cfg.MetricsListen)
		metricsErrCh := make(chan error, 1)
		metricsSrv.Start(metricsErrCh)

		pollCtx, cancelPoll := context.WithCancel(context.Background())
		defer cancelPoll()
		go metrics.PollCacheSize(pollCtx, 10*time.Second, func() int { return c.Stats().Domains })

		go func() {
			if err := <-metricsErrCh; err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
	}

	if *statsEnabled {
		go printStats(srv, c)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println()
	fmt.Println("shutting down...")

	if err := srv.Stop(5 * time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "error stopping server: %v\n", err)
	}
	if limiter != nil {
		limiter.Close()
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(shutdownCtx)
	}
	fmt.Println("dnscached stopped")
}

// logEvents subscribes to every topic the dispatcher publishes on and logs
// each event via the standard library logger. It runs for the lifetime of
// the process; the bus's subscribers are torn down implicitly on exit.
func logEvents(bus *eventbus.Bus) {
	cacheSub := bus.Subscribe(eventbus.TopicCache)
	fwdSub := bus.Subscribe(eventbus.TopicForwarder)
	serverSub := bus.Subscribe(eventbus.TopicServer)

	for {
		select {
		case ev := <-cacheSub.Ch:
			if ce, ok := ev.Data.(eventbus.CacheEvent); ok {
				log.Printf("cache: inserted %s", ce.Owner)
			}
		case ev := <-fwdSub.Ch:
			if fe, ok := ev.Data.(eventbus.ForwarderEvent); ok {
				log.Printf("forwarder: %s for %s", fe.Outcome, fe.Question)
			}
		case ev := <-serverSub.Ch:
			if se, ok := ev.Data.(eventbus.ServerEvent); ok {
				log.Printf("server: rejected %s (%s)", se.ClientIP, se.Reason)
			}
		}
	}
}

func printStats(srv *server.Server, c *cache.Cache) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		ws := srv.Stats()
		cs := c.Stats()
		fmt.Printf("─────────────────────────────────────────────\n")
		fmt.Printf("workers   submitted=%d completed=%d rejected=%d failed=%d\n",
			ws.Submitted, ws.Completed, ws.Rejected, ws.Failed)
		fmt.Printf("cache     hits=%d misses=%d domains=%d evictions=%d\n",
			cs.Hits, cs.Misses, cs.Domains, cs.Evictions)
	}
}
