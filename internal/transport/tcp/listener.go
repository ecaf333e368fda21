package tcp

import (
	"net"

	"github.com/senscord/multi-server/internal/transport"
)

// Listener wraps net.Listener, handing each Accept()ed connection back as a
// ready-to-use *Conn.
type Listener struct {
	inner net.Listener
}

// Listen starts listening on addr (host:port, or :0 for an ephemeral port).
func Listen(addr string) (*Listener, error) {
	inner, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{inner: inner}, nil
}

// Addr returns the bound address, useful when addr was ":0".
func (l *Listener) Addr() net.Addr { return l.inner.Addr() }

// Accept blocks for the next inbound connection and wraps it as a *Conn.
func (l *Listener) Accept() (*Conn, error) {
	netConn, err := l.inner.Accept()
	if err != nil {
		return nil, err
	}
	return New(netConn), nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.inner.Close() }

// Dialer dials outbound connections, implementing transport.Dialer.
type Dialer struct{}

// Dial connects to addr and wraps the connection as a transport.Transport.
func (Dialer) Dial(addr string) (transport.Transport, error) {
	netConn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return New(netConn), nil
}
