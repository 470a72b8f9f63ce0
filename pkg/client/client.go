package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sambigeara/messagecat/pkg/seal"
	"github.com/sambigeara/messagecat/pkg/types"
	"github.com/sambigeara/messagecat/pkg/wire"
)

const notificationBuffer = 64

// Client speaks the messaging protocol to a server. Requests are sent one at
// a time on the primary stream; notifications arrive on a separate stream.
type Client struct {
	conn      net.Conn
	mux       *yamux.Session
	stream    net.Conn
	primary   *wire.Channel
	notes     chan wire.Request
	done      chan struct{}
	log       *zap.SugaredLogger
	mu        sync.Mutex
	closeOnce sync.Once
}

func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return New(conn)
}

// New runs the handshake over an established connection.
func New(conn net.Conn) (*Client, error) {
	mux, err := wire.ClientSession(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	c := &Client{
		conn:  conn,
		mux:   mux,
		notes: make(chan wire.Request, notificationBuffer),
		done:  make(chan struct{}),
		log:   zap.S().Named("client").With("server", conn.RemoteAddr().String()),
	}

	if err := c.handshake(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake() error {
	provider := seal.Box{}
	keys, err := provider.GenerateKeyPair()
	if err != nil {
		return err
	}

	stream, err := c.mux.OpenStream()
	if err != nil {
		return fmt.Errorf("open primary stream: %w", err)
	}
	peer, err := wire.InitiateHandshake(stream, keys)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	push, err := c.mux.AcceptStream()
	if err != nil {
		return fmt.Errorf("accept push stream: %w", err)
	}

	c.stream = stream
	c.primary = wire.NewChannel(stream, provider, keys, peer)
	go c.readNotifications(wire.NewChannel(push, provider, keys, peer))
	return nil
}

func (c *Client) readNotifications(ch *wire.Channel) {
	defer close(c.notes)
	for {
		b, err := ch.Receive()
		if err != nil {
			return
		}
		var req wire.Request
		if err := json.Unmarshal(b, &req); err != nil {
			c.log.Debugw("malformed notification", "err", err)
			continue
		}
		select {
		case c.notes <- req:
		case <-c.done:
			return
		}
	}
}

// Notifications yields requests forwarded by the server's listen rules. It
// is closed when the connection ends.
func (c *Client) Notifications() <-chan wire.Request {
	return c.notes
}

// Do sends req and waits for its response.
func (c *Client) Do(ctx context.Context, req wire.Request) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.stream.SetDeadline(deadline)
		defer func() { _ = c.stream.SetDeadline(time.Time{}) }()
	}

	if err := c.primary.Send(req); err != nil {
		return nil, err
	}
	b, err := c.primary.Receive()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// Call builds a request from t and data and sends it.
func (c *Client) Call(ctx context.Context, t wire.RequestType, data any, opts ...RequestOption) (json.RawMessage, error) {
	req, err := wire.NewRequest(t, data)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(&req)
	}
	return c.Do(ctx, req)
}

type RequestOption func(*wire.Request)

func WithSelector(sel string) RequestOption {
	return func(r *wire.Request) { r.Selector = sel }
}

func WithKeyPair(kp types.KeyPair) RequestOption {
	return func(r *wire.Request) { r.KeyPair = &kp }
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = multierr.Combine(c.mux.Close(), ignoreClosed(c.conn.Close()))
	})
	return err
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
