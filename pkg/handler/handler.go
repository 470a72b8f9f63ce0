package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/yamux"
	"go.uber.org/zap"

	"github.com/sambigeara/messagecat/pkg/observability/metrics"
	"github.com/sambigeara/messagecat/pkg/rules"
	"github.com/sambigeara/messagecat/pkg/seal"
	"github.com/sambigeara/messagecat/pkg/store"
	"github.com/sambigeara/messagecat/pkg/types"
	"github.com/sambigeara/messagecat/pkg/wire"
)

// Deps are the shared resources every Handler in a pool works against.
type Deps struct {
	DB       Store
	Keys     *store.KeyStore
	Messages *store.MessageStore
	Rules    *rules.Registry
	Crypto   seal.Provider
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Handler is one pool slot. It parks until assigned a connection, serves
// that connection's whole lifecycle, then parks again.
type Handler struct {
	deps    Deps
	work    chan net.Conn
	log     *zap.SugaredLogger
	index   int
	busy    atomic.Bool
	pending atomic.Bool
}

func New(index int, deps Deps) *Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Crypto == nil {
		deps.Crypto = seal.Box{}
	}
	return &Handler{
		deps:  deps,
		work:  make(chan net.Conn, 1),
		log:   zap.S().Named("handler").With("handler", index),
		index: index,
	}
}

func (h *Handler) Index() int { return h.index }

// Idle reports whether the slot is neither serving nor holding pending work.
func (h *Handler) Idle() bool {
	return !h.busy.Load() && !h.pending.Load()
}

// Assign hands conn to the slot without blocking. It fails if the slot
// already holds an unclaimed connection.
func (h *Handler) Assign(conn net.Conn) bool {
	if h.busy.Load() || !h.pending.CompareAndSwap(false, true) {
		return false
	}
	h.work <- conn
	return true
}

func (h *Handler) Run(ctx context.Context) error {
	defer h.drain()

	for {
		select {
		case <-ctx.Done():
			return nil
		case conn := <-h.work:
			h.busy.Store(true)
			h.pending.Store(false)
			h.deps.Metrics.HandlerBusy(true)

			h.serve(ctx, conn)

			h.deps.Metrics.HandlerBusy(false)
			h.busy.Store(false)
		}
	}
}

func (h *Handler) drain() {
	select {
	case conn := <-h.work:
		_ = conn.Close()
	default:
	}
}

func (h *Handler) serve(ctx context.Context, conn net.Conn) {
	log := h.log.With("conn", uuid.NewString(), "remote", conn.RemoteAddr().String())
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	mux, err := wire.ServerSession(conn)
	if err != nil {
		log.Debugw("multiplex failed", "err", err)
		_ = conn.Close()
		return
	}

	s := newSession(h, conn, mux, log)
	defer func() {
		if err := s.close(); err != nil {
			log.Debugw("close connection", "err", err)
		}
	}()

	if err := s.handshake(); err != nil {
		log.Debugw("handshake failed", "err", err)
		return
	}
	log.Debug("connection established")

	for {
		b, err := s.primary.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, yamux.ErrStreamClosed) || errors.Is(err, net.ErrClosed) {
				log.Debug("connection closed by peer")
			} else {
				log.Debugw("receive failed", "err", err)
			}
			return
		}

		var req wire.Request
		if err := json.Unmarshal(b, &req); err != nil {
			log.Infow("malformed request", "err", err)
			return
		}

		resp, err := h.dispatch(ctx, s, req)
		if err != nil {
			log.Infow("protocol violation, closing", "type", req.Type.String(), "err", err)
			return
		}

		if err := s.primary.SendRaw(resp); err != nil {
			log.Debugw("send failed", "err", err)
			return
		}
	}
}

func (h *Handler) nowMillis() int64 {
	return h.deps.Now().UnixMilli()
}

func (h *Handler) generateKeys() (types.KeyPair, error) {
	return h.deps.Crypto.GenerateKeyPair()
}
