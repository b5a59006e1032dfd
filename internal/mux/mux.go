// Package mux layers independent logical streams over one physical
// connection (spec.md §4.5), backed by github.com/hashicorp/yamux, whose
// own window-update flow control satisfies the "window-update on read"
// requirement natively.
package mux

import (
	"net"
	"time"

	"github.com/hashicorp/yamux"

	"github.com/adred-codev/kvmesh/internal/errs"
)

// LogicalStream is one multiplexed bidirectional byte channel within a
// session. *yamux.Stream already satisfies net.Conn; ID exposes the
// stream number for logging/metrics correlation.
type LogicalStream struct {
	*yamux.Stream
}

func (s *LogicalStream) ID() uint32 { return s.StreamID() }

func defaultConfig() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.EnableKeepAlive = true
	cfg.KeepAliveInterval = 30 * time.Second
	return cfg
}

// ClientControl is the client-side handle: it opens new logical streams
// on demand.
type ClientControl struct {
	session *yamux.Session
}

// NewClientControl wraps conn (typically a *tls.Conn) as a yamux client
// session.
func NewClientControl(conn net.Conn) (*ClientControl, error) {
	session, err := yamux.Client(conn, defaultConfig())
	if err != nil {
		return nil, &errs.IOError{Detail: err.Error()}
	}
	return &ClientControl{session: session}, nil
}

// OpenStream opens a new logical stream over the session.
func (c *ClientControl) OpenStream() (*LogicalStream, error) {
	s, err := c.session.OpenStream()
	if err != nil {
		return nil, &errs.IOError{Detail: err.Error()}
	}
	return &LogicalStream{Stream: s}, nil
}

// Close tears down the session and every logical stream on it.
func (c *ClientControl) Close() error { return c.session.Close() }

// Server accepts inbound logical streams on conn and invokes handler for
// each, spawning one goroutine per stream, until the session closes.
type Server struct {
	session *yamux.Session
}

// NewServer wraps conn as a yamux server session and begins the accept
// loop on a new goroutine, calling handler for every inbound stream.
func NewServer(conn net.Conn, handler func(*LogicalStream)) (*Server, error) {
	session, err := yamux.Server(conn, defaultConfig())
	if err != nil {
		return nil, &errs.IOError{Detail: err.Error()}
	}
	s := &Server{session: session}
	go s.acceptLoop(handler)
	return s, nil
}

func (s *Server) acceptLoop(handler func(*LogicalStream)) {
	for {
		stream, err := s.session.AcceptStream()
		if err != nil {
			// Session closed (connection gone) or a protocol error; either
			// way there is nothing left to accept on this connection.
			return
		}
		go handler(&LogicalStream{Stream: stream})
	}
}

// Close tears down the session.
func (s *Server) Close() error { return s.session.Close() }
