package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/hebbarp/ahoy/pkg/crypto"
	"github.com/hebbarp/ahoy/pkg/wire"
)

var ErrBadDigest = errors.New("transport: shared secret mismatch")

// The handshake is one hello in each direction, bounded by a deadline.
// The dialer speaks first, the acceptor answers; each side proves knowledge
// of the cluster secret with a digest bound to its own node identity.

func (t *Transport) handshakeOutbound(conn net.Conn) (*wire.Hello, error) {
	if err := conn.SetDeadline(time.Now().Add(t.cfg.HandshakeTimeout)); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	if err := wire.WriteHello(conn, t.hello()); err != nil {
		return nil, err
	}
	hello, err := wire.ReadHello(conn)
	if err != nil {
		return nil, err
	}
	if err := t.verify(hello); err != nil {
		return nil, err
	}
	return hello, conn.SetDeadline(time.Time{})
}

func (t *Transport) handshakeInbound(conn net.Conn) (*wire.Hello, error) {
	if err := conn.SetDeadline(time.Now().Add(t.cfg.HandshakeTimeout)); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	hello, err := wire.ReadHello(conn)
	if err != nil {
		return nil, err
	}
	if err := t.verify(hello); err != nil {
		return nil, err
	}
	if err := wire.WriteHello(conn, t.hello()); err != nil {
		return nil, err
	}
	return hello, conn.SetDeadline(time.Time{})
}

func (t *Transport) hello() *wire.Hello {
	return &wire.Hello{
		Node:    t.self,
		Version: t.version,
		Digest:  crypto.Digest(t.key, string(t.self)),
	}
}

func (t *Transport) verify(hello *wire.Hello) error {
	if hello.Node == t.self {
		return fmt.Errorf("transport: refusing link to own identity %s", t.self)
	}
	if !crypto.VerifyDigest(t.key, string(hello.Node), hello.Digest) {
		return ErrBadDigest
	}
	return nil
}
