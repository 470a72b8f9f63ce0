package handler

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/hashicorp/yamux"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sambigeara/messagecat/pkg/types"
	"github.com/sambigeara/messagecat/pkg/wire"
)

const outboxSize = 64

var (
	errNoPushChannel = errors.New("push channel not established")
	errOutboxFull    = errors.New("notification outbox full")
	errSessionClosed = errors.New("session closed")
)

// session is the per-connection state of a Handler. It owns the
// connection's listen rules, so it is also their notification target.
type session struct {
	h       *Handler
	conn    net.Conn
	mux     *yamux.Session
	primary *wire.Channel
	push    *wire.Channel
	user    *types.User
	log     *zap.SugaredLogger
	outbox  chan wire.Request
	done    chan struct{}
	wg      sync.WaitGroup
}

func newSession(h *Handler, conn net.Conn, mux *yamux.Session, log *zap.SugaredLogger) *session {
	return &session{
		h:      h,
		conn:   conn,
		mux:    mux,
		log:    log,
		outbox: make(chan wire.Request, outboxSize),
		done:   make(chan struct{}),
	}
}

func (s *session) handshake() error {
	stream, err := s.mux.AcceptStream()
	if err != nil {
		return fmt.Errorf("accept primary stream: %w", err)
	}

	keys, err := s.h.generateKeys()
	if err != nil {
		return err
	}

	peer, err := wire.AcceptHandshake(stream, keys)
	if err != nil {
		return err
	}
	s.primary = wire.NewChannel(stream, s.h.deps.Crypto, keys, peer)

	push, err := s.mux.OpenStream()
	if err != nil {
		return fmt.Errorf("open push stream: %w", err)
	}
	s.push = wire.NewChannel(push, s.h.deps.Crypto, keys, peer)

	s.wg.Add(1)
	go s.deliver()
	return nil
}

// deliver writes queued notifications to the push stream. A peer that stops
// reading stalls only this goroutine; Notify drops once the outbox fills.
func (s *session) deliver() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case req := <-s.outbox:
			if err := s.push.Send(req); err != nil {
				s.log.Debugw("push failed", "err", err)
				return
			}
		}
	}
}

func (s *session) authenticated() bool { return s.user != nil }

func (s *session) userID() int {
	if s.user == nil {
		return 0
	}
	return s.user.UserID
}

// Notify queues req for the push stream without blocking.
func (s *session) Notify(req wire.Request) error {
	if s.push == nil {
		return errNoPushChannel
	}
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.outbox <- req:
		return nil
	default:
		return errOutboxFull
	}
}

func (s *session) close() error {
	if n := s.h.deps.Rules.UnregisterAll(s); n > 0 {
		s.log.Debugw("purged listen rules", "count", n)
	}
	close(s.done)
	err := s.mux.Close()
	if cerr := s.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = multierr.Append(err, cerr)
	}
	s.wg.Wait()
	return err
}
