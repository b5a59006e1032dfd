// Package server wires the TLS+mux transport to internal/service: bind
// TCP, accept loop, TLS termination, one mux session per connection, one
// goroutine per inbound logical stream decoding frames and dispatching
// commands. Mirrors the teacher's Server struct (config, logger, metrics,
// resource guard) generalized from websocket connections to TLS+mux
// sessions (DESIGN.md).
package server

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/kvmesh/internal/errs"
	"github.com/adred-codev/kvmesh/internal/frame"
	"github.com/adred-codev/kvmesh/internal/logging"
	"github.com/adred-codev/kvmesh/internal/metrics"
	"github.com/adred-codev/kvmesh/internal/mux"
	"github.com/adred-codev/kvmesh/internal/pb"
	"github.com/adred-codev/kvmesh/internal/service"
	"github.com/adred-codev/kvmesh/internal/tlsconn"
)

// Server accepts TCP connections on one address, terminates TLS, and
// multiplexes each connection into logical streams that carry kvmesh's
// command protocol.
type Server struct {
	addr     string
	acceptor *tlsconn.ServerAcceptor
	svc      *service.Service
	logger   zerolog.Logger
	limiter  *acceptLimiter
	codec    frame.Codec
}

// New builds a Server. codec selects the default compression codec used
// when encoding outbound frames above the compression threshold.
func New(addr string, acceptor *tlsconn.ServerAcceptor, svc *service.Service, logger zerolog.Logger, codec frame.Codec) *Server {
	return &Server{
		addr:     addr,
		acceptor: acceptor,
		svc:      svc,
		logger:   logger.With().Str("component", "server").Logger(),
		limiter:  newAcceptLimiter(AcceptLimiterConfig{Logger: logger}),
		codec:    codec,
	}
}

// Serve binds addr and runs the accept loop until ctx is cancelled or
// the listener errors. Each accepted connection is handled on its own
// goroutine (spec.md §5 "one goroutine per accepted TCP connection").
func (s *Server) Serve(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return &errs.IOError{Detail: err.Error()}
	}
	defer ln.Close()
	defer s.limiter.stop()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger.Info().Str("addr", s.addr).Msg("server listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return &errs.IOError{Detail: err.Error()}
			}
		}

		ip, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		if !s.limiter.allow(ip) {
			conn.Close()
			continue
		}

		metrics.ConnectionsAccepted.Inc()
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer logging.RecoverPanic(s.logger, "handleConn")
	defer conn.Close()

	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()

	handshakeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	tlsConn, err := s.acceptor.Accept(handshakeCtx, conn)
	cancel()
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("tls handshake failed")
		return
	}

	session, err := mux.NewServer(tlsConn, func(stream *mux.LogicalStream) {
		s.handleStream(ctx, stream)
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("mux session failed")
		return
	}
	defer session.Close()

	<-ctx.Done()
}

// handleStream processes one logical stream until it hits EOF or a
// transport error: read frame → decode request → dispatch → for each
// response, encode and write a frame.
//
// It runs under a context scoped to the stream's own lifetime, not the
// server's: streamCtx is cancelled on every exit path (read error, write
// failure, or the server shutting down), which unsubscribes a
// Subscribe/PSubscribe dispatched on this stream. While a subscription
// is open this loop is writing responses, not reading frames, so a
// dropped connection is noticed only when the next published value fails
// to write; until then the subscription stays in the broker's
// topic/pattern tables.
func (s *Server) handleStream(ctx context.Context, stream *mux.LogicalStream) {
	defer logging.RecoverPanic(s.logger, "handleStream")
	defer stream.Close()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()

	logger := s.logger.With().Uint32("stream_id", stream.ID()).Logger()

	for {
		payload, err := frame.ReadFrame(stream)
		if err != nil {
			logger.Debug().Err(err).Msg("stream closed")
			return
		}
		metrics.FramesRead.Inc()
		metrics.BytesRead.Add(float64(len(payload)))

		req, err := pb.UnmarshalCommandRequest(payload)
		if err != nil {
			s.writeError(stream, &logger, err)
			continue
		}

		start := time.Now()
		responses := s.svc.Dispatch(streamCtx, req)
		kindLabel := commandKindLabel(req.Kind)
		for resp := range responses {
			if err := s.writeResponse(stream, resp); err != nil {
				logger.Debug().Err(err).Msg("stream write failed")
				return
			}
		}
		metrics.CommandLatency.WithLabelValues(kindLabel).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) writeResponse(w io.Writer, resp *pb.CommandResponse) error {
	payload := resp.Marshal()
	if err := frame.WriteFrame(w, payload, s.codec); err != nil {
		return err
	}
	metrics.FramesWritten.Inc()
	metrics.BytesWritten.Add(float64(len(payload)))
	return nil
}

func (s *Server) writeError(w io.Writer, logger *zerolog.Logger, err error) {
	resp := pb.NewResponseFromError(err)
	if werr := s.writeResponse(w, resp); werr != nil {
		logger.Debug().Err(werr).Msg("failed writing error response")
	}
}

func commandKindLabel(k pb.RequestKind) string {
	switch k {
	case pb.ReqHget:
		return "hget"
	case pb.ReqHmget:
		return "hmget"
	case pb.ReqHgetall:
		return "hgetall"
	case pb.ReqHset:
		return "hset"
	case pb.ReqHmset:
		return "hmset"
	case pb.ReqHdel:
		return "hdel"
	case pb.ReqHmdel:
		return "hmdel"
	case pb.ReqHexist:
		return "hexist"
	case pb.ReqHmexist:
		return "hmexist"
	case pb.ReqSubscribe:
		return "subscribe"
	case pb.ReqUnsubscribe:
		return "unsubscribe"
	case pb.ReqPublish:
		return "publish"
	case pb.ReqPSubscribe:
		return "psubscribe"
	case pb.ReqPUnsubscribe:
		return "punsubscribe"
	default:
		return "unknown"
	}
}
