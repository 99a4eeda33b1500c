package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sourcefs/sourcefs/internal/logger"
	"github.com/sourcefs/sourcefs/internal/ratelimiter"
)

// Options configures the control server.
type Options struct {
	// Address to listen on. Empty selects the default unix socket under
	// DataDir; a bare port number selects localhost TCP; host:port selects
	// TCP on that address.
	Address string

	// DataDir is the daemon data directory, used for the default socket.
	DataDir string

	// Workers is the number of request worker goroutines.
	Workers int

	// MaxConnections caps concurrent client connections. 0 = unlimited.
	MaxConnections int

	// MaxQueuedRequests bounds the request queue; requests past the bound
	// are rejected. 0 = unbounded (readers block instead).
	MaxQueuedRequests int

	// QueueTimeoutEnabled drops requests that sat in the queue longer than
	// QueueTimeout instead of executing them late.
	QueueTimeoutEnabled bool
	QueueTimeout        time.Duration

	// MinCompressBytes is the minimum response payload size that gets
	// gzip-compressed. 0 disables compression.
	MinCompressBytes int

	// RequestsPerSecond and Burst configure request admission rate
	// limiting. RequestsPerSecond 0 = unlimited.
	RequestsPerSecond uint
	Burst             uint
}

// Server is the control RPC server.
type Server struct {
	opts    Options
	handler Handler
	limiter *ratelimiter.RateLimiter

	listener net.Listener
	queue    chan *queuedRequest
	connSem  chan struct{}

	stopOnce sync.Once
	stopped  chan struct{}

	workerWG sync.WaitGroup
	connWG   sync.WaitGroup
}

type queuedRequest struct {
	conn     *conn
	req      request
	enqueued time.Time
}

// New creates a control server that executes requests against handler.
func New(opts Options, handler Handler) *Server {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	queueCap := opts.MaxQueuedRequests
	if queueCap <= 0 {
		// Unbounded queueing is expressed as blocking enqueue on a
		// buffer big enough that control traffic never fills it.
		queueCap = 1024
	}

	var connSem chan struct{}
	if opts.MaxConnections > 0 {
		connSem = make(chan struct{}, opts.MaxConnections)
	}

	return &Server{
		opts:    opts,
		handler: handler,
		limiter: ratelimiter.New(opts.RequestsPerSecond, opts.Burst),
		queue:   make(chan *queuedRequest, queueCap),
		connSem: connSem,
		stopped: make(chan struct{}),
	}
}

// Serve listens on the configured address and serves control requests until
// the context is cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	network, address, err := ResolveListenAddress(s.opts.Address, s.opts.DataDir)
	if err != nil {
		return err
	}
	if network == "unix" {
		if err := removeStaleSocket(address); err != nil {
			return err
		}
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("failed to start control listener on %s %q: %w", network, address, err)
	}
	s.listener = listener
	logger.Info("Control server listening on %s %s", network, address)

	for i := 0; i < s.opts.Workers; i++ {
		s.workerWG.Add(1)
		go s.worker()
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-s.stopped:
		}
		_ = s.listener.Close()
	}()

	for {
		tcpConn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-s.stopped:
				return nil
			default:
				logger.Debug("Error accepting control connection: %v", err)
				continue
			}
		}

		if s.connSem != nil {
			select {
			case s.connSem <- struct{}{}:
			case <-ctx.Done():
				_ = tcpConn.Close()
				return nil
			case <-s.stopped:
				_ = tcpConn.Close()
				return nil
			}
		}

		c := &conn{server: s, conn: tcpConn}
		s.connWG.Add(1)
		go c.serve(ctx)
	}
}

// Stop stops accepting connections and processing requests. In-flight
// request execution finishes; queued requests are abandoned.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
	s.workerWG.Wait()
}

// Addr returns the listener address, for tests that bind port 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) worker() {
	defer s.workerWG.Done()
	for {
		select {
		case <-s.stopped:
			return
		case qr := <-s.queue:
			s.execute(qr)
		}
	}
}

func (s *Server) execute(qr *queuedRequest) {
	if s.opts.QueueTimeoutEnabled && time.Since(qr.enqueued) > s.opts.QueueTimeout {
		logger.Warn("Dropping %s request that spent %v in queue", qr.req.Method, time.Since(qr.enqueued))
		qr.conn.sendError(qr.req.ID, "request timed out in queue")
		return
	}

	ctx := context.Background()
	result, err := s.dispatch(ctx, qr.req)
	if err != nil {
		qr.conn.sendError(qr.req.ID, err.Error())
		return
	}
	qr.conn.sendResult(qr.req.ID, result)
}

func (s *Server) dispatch(ctx context.Context, req request) (any, error) {
	switch req.Method {
	case "mount":
		var params MountRequest
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("invalid mount params: %w", err)
		}
		if err := s.handler.Mount(ctx, params); err != nil {
			return nil, err
		}
		return map[string]string{"mount_point": params.MountPoint}, nil

	case "unmount":
		var params struct {
			MountPoint string `json:"mount_point"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("invalid unmount params: %w", err)
		}
		if err := s.handler.Unmount(ctx, params.MountPoint); err != nil {
			return nil, err
		}
		return map[string]string{"mount_point": params.MountPoint}, nil

	case "list_mounts":
		return s.handler.ListMounts(ctx), nil

	case "status":
		return s.handler.Status(ctx), nil

	default:
		return nil, fmt.Errorf("unknown method %q", req.Method)
	}
}
