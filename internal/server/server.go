// Package server runs the resolver's UDP listener loop: read a datagram,
// hand it to the worker pool for dispatch, reply on the same socket.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dnscached/dnscached/internal/dispatch"
	"github.com/dnscached/dnscached/internal/wirepool"
	"github.com/dnscached/dnscached/internal/worker"
)

// Config controls the server's listener and worker pool.
type Config struct {
	// ListenAddr is the UDP address to bind, e.g. ":53".
	ListenAddr string

	// Workers is the size of the dispatch worker pool. Zero uses the
	// worker package's default.
	Workers int

	// QueueSize bounds how many datagrams may wait for a free worker.
	QueueSize int
}

// DefaultConfig returns a Config listening on the standard DNS port.
func DefaultConfig() Config {
	return Config{ListenAddr: ":53"}
}

// Server owns the UDP socket, the worker pool, and the dispatcher that
// decides each reply.
type Server struct {
	cfg    Config
	conn   *net.UDPConn
	pool   *worker.Pool
	disp   *dispatch.Dispatcher
	cancel context.CancelFunc
	wg     sync.WaitGroup

	readErrors chan error
}

// New binds the UDP listener and starts the worker pool. The server does
// not begin reading until Start is called.
func New(cfg Config, disp *dispatch.Dispatcher) (*Server, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultConfig().ListenAddr
	}
	udpAddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("server: resolving listen address %q: %w", cfg.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("server: binding %q: %w", cfg.ListenAddr, err)
	}

	pool := worker.NewPool(worker.Config{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		PanicHandler: func(r interface{}) {
			fmt.Printf("server: worker recovered from panic: %v\n", r)
		},
	})

	return &Server{
		cfg:        cfg,
		conn:       conn,
		pool:       pool,
		disp:       disp,
		readErrors: make(chan error, 1),
	}, nil
}

// Start runs the read loop in its own goroutine and returns immediately.
func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.readLoop(ctx)

	fmt.Printf("dnscached: listening on %s (udp)\n", s.cfg.ListenAddr)
}

func (s *Server) readLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		buf := wirepool.GetBuffer()
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			wirepool.PutBuffer(buf)
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
				s.readErrors <- err
				return
			}
		}

		// Own a copy before handing off: the worker may still be
		// processing this datagram after the buffer's pool slot is
		// reused for the next read.
		data := make([]byte, n)
		copy(data, buf[:n])
		wirepool.PutBuffer(buf)

		job := worker.JobFunc(func(jobCtx context.Context) error {
			s.disp.Handle(jobCtx, data, from, s.conn)
			return nil
		})
		_ = s.pool.Submit(ctx, job) // datagram is dropped on ErrQueueFull/ErrPoolClosed
	}
}

// Errors reports read-loop failures that were not a simple deadline timeout.
func (s *Server) Errors() <-chan error {
	return s.readErrors
}

// Stop halts the read loop, closes the socket and drains the worker pool.
func (s *Server) Stop(timeout time.Duration) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.conn.Close()
	s.wg.Wait()
	return s.pool.Close(timeout)
}

// Stats reports worker pool activity.
func (s *Server) Stats() worker.Stats {
	return s.pool.Stats()
}
