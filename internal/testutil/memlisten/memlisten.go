package memlisten

import (
	"context"
	"errors"
	"net"
	"sync"
)

var ErrListenerClosed = errors.New("listener closed")

type addr string

func (a addr) Network() string { return "mem" }
func (a addr) String() string  { return string(a) }

// Listener is an in-memory net.Listener. Dial hands one end of a net.Pipe to
// a pending Accept.
type Listener struct {
	conns     chan net.Conn
	done      chan struct{}
	addr      addr
	closeOnce sync.Once
}

func New(name string) *Listener {
	return &Listener{
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
		addr:  addr(name),
	}
}

func (l *Listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *Listener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *Listener) Addr() net.Addr { return l.addr }

func (l *Listener) Dial(ctx context.Context) (net.Conn, error) {
	server, client := net.Pipe()
	select {
	case l.conns <- server:
		return client, nil
	case <-l.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
