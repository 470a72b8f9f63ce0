package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sambigeara/messagecat/pkg/config"
	"github.com/sambigeara/messagecat/pkg/db"
	"github.com/sambigeara/messagecat/pkg/handler"
	"github.com/sambigeara/messagecat/pkg/observability/metrics"
	"github.com/sambigeara/messagecat/pkg/queue"
	"github.com/sambigeara/messagecat/pkg/ring"
	"github.com/sambigeara/messagecat/pkg/rules"
	"github.com/sambigeara/messagecat/pkg/scheduler"
	"github.com/sambigeara/messagecat/pkg/seal"
	"github.com/sambigeara/messagecat/pkg/store"
	"github.com/sambigeara/messagecat/pkg/sweeper"
	"github.com/sambigeara/messagecat/pkg/util"
)

const (
	lockedRetryMin = 10 * time.Millisecond
	lockedRetryMax = time.Second
	acceptRetryMax = time.Second
)

// Server wires the work queue, handler pool, scheduler, listen rules,
// stores and sweeper together and feeds accepted connections into them.
type Server struct {
	cfg      *config.Config
	db       *db.Store
	keys     *store.KeyStore
	messages *store.MessageStore
	rules    *rules.Registry
	queue    *queue.Queue[net.Conn]
	handlers []*handler.Handler
	manager  *scheduler.Manager[net.Conn]
	sweeper  *sweeper.Sweeper
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
}

// New opens the stores under dir and builds the server. The caller must Close it.
func New(cfg *config.Config, dir string) (*Server, error) {
	m := metrics.New(prometheus.NewRegistry())

	database, err := db.Open(cfg.DatabasePath(dir))
	if err != nil {
		return nil, err
	}

	keys, err := store.OpenKeyStore(dir, store.WithMetrics(m))
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	messages, err := store.OpenMessageStore(dir, ring.DefaultCapacity, store.WithMetrics(m))
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		db:       database,
		keys:     keys,
		messages: messages,
		rules:    rules.NewRegistry(m),
		queue:    queue.New[net.Conn](cfg.QueueLimit()),
		metrics:  m,
		log:      zap.S().Named("server"),
	}

	deps := handler.Deps{
		DB:       database,
		Keys:     keys,
		Messages: messages,
		Rules:    s.rules,
		Crypto:   seal.Box{},
		Metrics:  m,
	}
	workers := make([]scheduler.Worker[net.Conn], cfg.WorkerCount())
	for i := range workers {
		h := handler.New(i, deps)
		s.handlers = append(s.handlers, h)
		workers[i] = h
	}

	s.manager = scheduler.NewManager(s.queue, workers, cfg.Tick(),
		scheduler.WithMetrics[net.Conn](m),
		scheduler.WithDrop(func(c net.Conn) { _ = c.Close() }),
	)
	s.sweeper = sweeper.New(database, keys, cfg.TTL(), cfg.Sweep(), m)

	if cfg.AcceptRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), max(cfg.AcceptBurst, 1))
	}
	return s, nil
}

func (s *Server) Listen(ctx context.Context) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.cfg.ListenPort()))
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is cancelled or a component fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, h := range s.handlers {
		g.Go(func() error { return h.Run(ctx) })
	}
	g.Go(func() error { return s.manager.Run(ctx) })
	g.Go(func() error { return s.sweeper.Run(ctx) })
	if s.cfg.MetricsAddr != "" {
		g.Go(func() error { return s.metrics.Serve(ctx, s.cfg.MetricsAddr) })
	}
	g.Go(func() error {
		<-ctx.Done()
		s.shutdown(ln)
		return nil
	})
	g.Go(func() error { return s.acceptLoop(ctx, ln) })

	s.log.Infow("serving", "addr", ln.Addr().String(), "workers", len(s.handlers), "queueCapacity", s.queue.Cap())
	return g.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	backoff := util.Backoff{Min: lockedRetryMin, Max: acceptRetryMax}
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			d := backoff.Next()
			s.log.Warnw("accept failed", "err", err, "retryIn", d)
			if !util.Sleep(ctx, d) {
				return nil
			}
			continue
		}
		backoff.Reset()

		if s.limiter != nil && !s.limiter.Allow() {
			s.reject(conn, "rate")
			continue
		}
		s.admit(ctx, conn)
	}
}

// admit queues conn. A full queue rejects the connection; a locked queue is
// retried until it unlocks or the server stops.
func (s *Server) admit(ctx context.Context, conn net.Conn) {
	backoff := util.Backoff{Min: lockedRetryMin, Max: lockedRetryMax}
	for {
		err := s.queue.Push(conn)
		switch {
		case err == nil:
			s.metrics.RecordAccepted()
			s.metrics.SetQueueDepth(s.queue.Len())
			return
		case errors.Is(err, queue.ErrQueueFull):
			s.reject(conn, "full")
			return
		case errors.Is(err, queue.ErrQueueLocked):
			if !util.Sleep(ctx, backoff.Next()) {
				s.reject(conn, "shutdown")
				return
			}
		default:
			s.reject(conn, "error")
			return
		}
	}
}

func (s *Server) reject(conn net.Conn, reason string) {
	s.log.Debugw("rejecting connection", "remote", conn.RemoteAddr().String(), "reason", reason)
	s.metrics.RecordRejected(reason)
	_ = conn.Close()
}

func (s *Server) shutdown(ln net.Listener) {
	s.queue.Lock()
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debugw("close listener", "err", err)
	}
	for _, conn := range s.queue.Drain() {
		_ = conn.Close()
	}
}

func (s *Server) Close() error {
	return s.db.Close()
}
