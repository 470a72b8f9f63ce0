package wire

import (
	"io"
	"net"

	"github.com/hashicorp/yamux"
)

func muxConfig() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.LogOutput = io.Discard
	return cfg
}

// ServerSession multiplexes conn as the responder. The client opens the
// primary request stream; the server opens the push stream.
func ServerSession(conn net.Conn) (*yamux.Session, error) {
	return yamux.Server(conn, muxConfig())
}

func ClientSession(conn net.Conn) (*yamux.Session, error) {
	return yamux.Client(conn, muxConfig())
}
