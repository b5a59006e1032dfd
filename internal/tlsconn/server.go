package tlsconn

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"

	"github.com/adred-codev/kvmesh/internal/errs"
)

// ServerAcceptor terminates TLS server-side, optionally requiring and
// verifying a client certificate (mTLS) when a client CA is configured.
type ServerAcceptor struct {
	config *tls.Config
}

// NewServerAcceptor builds a ServerAcceptor from the server's own
// certificate/key PEM and an optional client CA PEM. When clientCA is
// non-nil, mTLS is required; otherwise the acceptor does server-auth only.
func NewServerAcceptor(certPEM, keyPEM, clientCA []byte) (*ServerAcceptor, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, &errs.CertificateParseError{Which: "server certificate", Filename: "cert/key"}
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}

	if clientCA != nil {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(clientCA) {
			return nil, &errs.CertificateParseError{Which: "client ca", Filename: "client-ca"}
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return &ServerAcceptor{config: cfg}, nil
}

// Accept wraps conn in TLS and performs the server-side handshake.
func (s *ServerAcceptor) Accept(ctx context.Context, conn net.Conn) (*tls.Conn, error) {
	tlsConn := tls.Server(conn, s.config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, &errs.TlsError{Detail: err.Error()}
	}
	return tlsConn, nil
}
