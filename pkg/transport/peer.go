package transport

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/hebbarp/ahoy/pkg/model"
	"github.com/hebbarp/ahoy/pkg/wire"
)

// peer is one established link. The send queue plus single writer goroutine
// gives FIFO delivery per peer.
type peer struct {
	id   model.NodeID
	conn net.Conn
	send chan *wire.Envelope
	done chan struct{}
	once sync.Once
}

func (p *peer) enqueue(env *wire.Envelope) error {
	select {
	case p.send <- env:
		return nil
	case <-p.done:
		return ErrNotConnected
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

func (t *Transport) readLoop(p *peer) {
	defer t.wg.Done()
	for {
		env, err := wire.ReadEnvelope(p.conn)
		if err != nil {
			if errors.Is(err, wire.ErrDecode) {
				// Frame boundary intact, payload garbage. Drop the
				// envelope, keep the link.
				slog.Warn("transport: dropping undecodable envelope", "node", p.id, "err", err)
				continue
			}
			t.dropPeer(p, err)
			return
		}
		select {
		case t.inbound <- Inbound{From: p.id, Env: env}:
		case <-p.done:
			return
		}
	}
}

func (t *Transport) writeLoop(p *peer) {
	defer t.wg.Done()
	for {
		select {
		case env := <-p.send:
			if err := wire.WriteEnvelope(p.conn, env); err != nil {
				t.dropPeer(p, err)
				return
			}
		case <-p.done:
			return
		}
	}
}
