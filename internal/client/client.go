// Package client implements kvmesh's connection-establishment and
// per-stream request/response wiring (spec.md §4.8): TCP dial, TLS
// connect, mux client control, and a ProstClientStream exposing
// Execute/ExecuteStreaming over one logical stream.
package client

import (
	"context"
	"net"

	"github.com/adred-codev/kvmesh/internal/errs"
	"github.com/adred-codev/kvmesh/internal/frame"
	"github.com/adred-codev/kvmesh/internal/mux"
	"github.com/adred-codev/kvmesh/internal/pb"
	"github.com/adred-codev/kvmesh/internal/tlsconn"
)

// Config names the three pieces StartClient needs to dial, connect and
// multiplex a server connection.
type Config struct {
	Addr      string
	Connector *tlsconn.ClientConnector
	Codec     frame.Codec
}

// Client owns the mux session over one TCP+TLS connection and opens
// new logical streams on demand.
type Client struct {
	control *mux.ClientControl
	codec   frame.Codec
}

// StartClient dials Addr, performs the TLS handshake via Connector, and
// establishes the mux client session.
func StartClient(ctx context.Context, cfg Config) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, &errs.IOError{Detail: err.Error()}
	}

	tlsConn, err := cfg.Connector.Connect(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	control, err := mux.NewClientControl(tlsConn)
	if err != nil {
		tlsConn.Close()
		return nil, err
	}

	return &Client{control: control, codec: cfg.Codec}, nil
}

// Close tears down every open stream and the underlying connection.
func (c *Client) Close() error { return c.control.Close() }

// OpenStream opens a new logical stream, wrapped as a ProstClientStream.
func (c *Client) OpenStream() (*ProstClientStream, error) {
	ls, err := c.control.OpenStream()
	if err != nil {
		return nil, err
	}
	return &ProstClientStream{stream: ls, codec: c.codec}, nil
}

// ProstClientStream sends CommandRequests and reads CommandResponses
// over one logical stream.
type ProstClientStream struct {
	stream *mux.LogicalStream
	codec  frame.Codec
}

// Close releases the underlying logical stream.
func (s *ProstClientStream) Close() error { return s.stream.Close() }

// Execute sends req and reads exactly one response (the non-streaming
// request/response cycle).
func (s *ProstClientStream) Execute(ctx context.Context, req *pb.CommandRequest) (*pb.CommandResponse, error) {
	if err := s.send(req); err != nil {
		return nil, err
	}
	return s.recv()
}

// StreamResult surfaces a subscription's id up front, then behaves as
// the raw response stream of subsequently published values.
type StreamResult struct {
	ID    uint32
	Inner <-chan *pb.CommandResponse
}

// ExecuteStreaming sends req, half-closes the write side of the stream
// (the server needs no further frames on a Subscribe/PSubscribe
// stream), reads the first response to learn the subscription id, and
// spawns a goroutine that keeps decoding frames into Inner until the
// stream closes.
func (s *ProstClientStream) ExecuteStreaming(ctx context.Context, req *pb.CommandRequest) (*StreamResult, error) {
	if err := s.send(req); err != nil {
		return nil, err
	}
	if err := s.stream.CloseWrite(); err != nil {
		return nil, &errs.IOError{Detail: err.Error()}
	}

	first, err := s.recv()
	if err != nil {
		return nil, err
	}
	var id uint32
	if len(first.Values) == 1 {
		id = uint32(first.Values[0].Integer)
	}

	out := make(chan *pb.CommandResponse, 128)
	go func() {
		defer close(out)
		for {
			resp, err := s.recv()
			if err != nil {
				return
			}
			select {
			case out <- resp:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &StreamResult{ID: id, Inner: out}, nil
}

func (s *ProstClientStream) send(req *pb.CommandRequest) error {
	return frame.WriteFrame(s.stream, req.Marshal(), s.codec)
}

func (s *ProstClientStream) recv() (*pb.CommandResponse, error) {
	payload, err := frame.ReadFrame(s.stream)
	if err != nil {
		return nil, err
	}
	return pb.UnmarshalCommandResponse(payload)
}
