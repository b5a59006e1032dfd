// Package tlsconn wraps raw net.Conn streams in TLS for both client and
// server roles (spec.md §4.4). It is the one component built directly on
// the standard library rather than a third-party wrapper — see
// DESIGN.md for why.
package tlsconn

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"

	"github.com/adred-codev/kvmesh/internal/errs"
)

// Identity is a client certificate/key pair presented during an optional
// mutual-TLS handshake.
type Identity struct {
	CertPEM []byte
	KeyPEM  []byte
}

// ClientConnector builds TLS client connections verified against a
// domain name, optionally presenting a client identity.
type ClientConnector struct {
	config *tls.Config
}

// NewClientConnector builds a ClientConnector. If ca is nil, the system
// root pool is used. If identity is non-nil, it is presented to the
// server during the handshake (mTLS).
func NewClientConnector(domain string, identity *Identity, ca []byte) (*ClientConnector, error) {
	cfg := &tls.Config{ServerName: domain}

	if ca != nil {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return nil, &errs.CertificateParseError{Which: "ca", Filename: "ca"}
		}
		cfg.RootCAs = pool
	}

	if identity != nil {
		cert, err := tls.X509KeyPair(identity.CertPEM, identity.KeyPEM)
		if err != nil {
			return nil, &errs.CertificateParseError{Which: "client identity", Filename: "cert/key"}
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return &ClientConnector{config: cfg}, nil
}

// Connect wraps conn in TLS and performs the handshake against ctx's
// deadline, verifying the server certificate against the configured
// domain name.
func (c *ClientConnector) Connect(ctx context.Context, conn net.Conn) (*tls.Conn, error) {
	tlsConn := tls.Client(conn, c.config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, &errs.TlsError{Detail: err.Error()}
	}
	return tlsConn, nil
}
