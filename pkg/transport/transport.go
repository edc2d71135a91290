// Package transport maintains point-to-point reliable channels to peer
// nodes and reports their membership as explicit up/down events.
//
// Each link is one TCP connection with a shared-secret handshake. A single
// writer goroutine per peer drains a queue, so envelopes to one peer are
// delivered in the order they were sent; there is no ordering across peers.
// Lost connections surface as a node-down event and are never redialed here;
// reconnection is the discovery cycle's job.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hebbarp/ahoy/pkg/crypto"
	"github.com/hebbarp/ahoy/pkg/model"
	"github.com/hebbarp/ahoy/pkg/wire"
)

const DefaultHandshakeTimeout = 5 * time.Second

var (
	ErrNotConnected  = errors.New("transport: not connected")
	ErrClosed        = errors.New("transport: closed")
	errDuplicateLink = errors.New("transport: link already established")
)

// EventKind discriminates membership events.
type EventKind int

const (
	NodeUp EventKind = iota
	NodeDown
)

// Event reports a peer link coming up or going down.
type Event struct {
	Kind EventKind
	Node model.NodeID
}

// Inbound is one envelope received from a connected peer.
type Inbound struct {
	From model.NodeID
	Env  *wire.Envelope
}

// Config holds the transport's listen identity and handshake parameters.
type Config struct {
	ListenAddr       string        // TCP bind address, e.g. ":7100"
	Advertise        string        // address peers dial; defaults to the bound address
	Secret           string        // cluster shared secret; empty = open cluster
	HandshakeTimeout time.Duration // bound on the connect handshake
}

// Transport owns every peer link of one node.
type Transport struct {
	cfg     Config
	key     []byte
	version string

	ln   net.Listener
	self model.NodeID

	mu     sync.RWMutex
	peers  map[model.NodeID]*peer
	closed bool

	events  chan Event
	inbound chan Inbound

	wg sync.WaitGroup
}

// New creates a Transport. Start must be called before any other method.
func New(cfg Config, version string) *Transport {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Transport{
		cfg:     cfg,
		key:     crypto.DeriveKey(cfg.Secret),
		version: version,
		peers:   make(map[model.NodeID]*peer),
		events:  make(chan Event, 32),
		inbound: make(chan Inbound, 256),
	}
}

// Start binds the listener and begins accepting peer links. A bind failure
// is fatal to the transport and is returned to the caller.
func (t *Transport) Start() error {
	ln, err := net.Listen("tcp", t.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", t.cfg.ListenAddr, err)
	}
	t.ln = ln
	t.self = model.NodeID(advertiseAddr(t.cfg.Advertise, ln.Addr().String()))

	t.wg.Add(1)
	go t.acceptLoop()

	slog.Info("transport listening", "addr", ln.Addr(), "node", t.self)
	return nil
}

// Self returns this node's identity: the address peers dial.
func (t *Transport) Self() model.NodeID {
	return t.self
}

// Events returns the membership event stream. Consumed by the registry.
func (t *Transport) Events() <-chan Event {
	return t.events
}

// Inbound returns the stream of envelopes received from peers.
func (t *Transport) Inbound() <-chan Inbound {
	return t.inbound
}

// Connect establishes a link to the given node. Idempotent: connecting to an
// already-linked node succeeds trivially. A failed handshake is returned to
// the caller and not retried here.
func (t *Transport) Connect(node model.NodeID) error {
	if node == t.self {
		return nil
	}
	t.mu.RLock()
	_, connected := t.peers[node]
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if connected {
		return nil
	}

	conn, err := net.DialTimeout("tcp", string(node), t.cfg.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", node, err)
	}
	hello, err := t.handshakeOutbound(conn)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("transport: handshake with %s: %w", node, err)
	}

	if err := t.addPeer(hello.Node, conn); err != nil {
		_ = conn.Close()
		if errors.Is(err, errDuplicateLink) {
			return nil
		}
		return err
	}
	return nil
}

// Send queues one envelope for a connected peer. Delivery is asynchronous
// and FIFO with respect to other envelopes for the same peer.
func (t *Transport) Send(node model.NodeID, env *wire.Envelope) error {
	t.mu.RLock()
	p, ok := t.peers[node]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, node)
	}
	return p.enqueue(env)
}

// Broadcast queues one envelope for every currently connected peer.
func (t *Transport) Broadcast(env *wire.Envelope) {
	t.mu.RLock()
	peers := make([]*peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.RUnlock()

	for _, p := range peers {
		if err := p.enqueue(env); err != nil {
			slog.Debug("transport: broadcast skipped peer", "node", p.id, "err", err)
		}
	}
}

// Peers returns the identities of currently connected peers.
func (t *Transport) Peers() []model.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.NodeID, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	return out
}

// Close tears down every link and stops the listener. No events are emitted
// for links dropped by Close itself.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	peers := make([]*peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.Unlock()

	if t.ln != nil {
		_ = t.ln.Close()
	}
	for _, p := range peers {
		p.close()
	}
	t.wg.Wait()
	close(t.events)
	close(t.inbound)
}

func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			t.mu.RLock()
			closed := t.closed
			t.mu.RUnlock()
			if closed {
				return
			}
			slog.Warn("transport: accept failed", "err", err)
			continue
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.handleInbound(conn)
		}()
	}
}

func (t *Transport) handleInbound(conn net.Conn) {
	hello, err := t.handshakeInbound(conn)
	if err != nil {
		slog.Warn("transport: inbound handshake rejected", "remote", conn.RemoteAddr(), "err", err)
		_ = conn.Close()
		return
	}
	if err := t.addPeer(hello.Node, conn); err != nil {
		if !errors.Is(err, errDuplicateLink) {
			slog.Warn("transport: inbound link dropped", "node", hello.Node, "err", err)
		}
		_ = conn.Close()
	}
}

// addPeer registers a handshaken connection and starts its loops.
func (t *Transport) addPeer(id model.NodeID, conn net.Conn) error {
	p := &peer{
		id:   id,
		conn: conn,
		send: make(chan *wire.Envelope, 128),
		done: make(chan struct{}),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if _, exists := t.peers[id]; exists {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", errDuplicateLink, id)
	}
	t.peers[id] = p
	t.mu.Unlock()

	t.wg.Add(2)
	go t.readLoop(p)
	go t.writeLoop(p)

	slog.Info("peer connected", "node", id)
	t.emit(Event{Kind: NodeUp, Node: id})
	return nil
}

// dropPeer removes a peer after a link failure and reports it down once.
func (t *Transport) dropPeer(p *peer, cause error) {
	t.mu.Lock()
	current, present := t.peers[p.id]
	if present && current == p {
		delete(t.peers, p.id)
	} else {
		present = false
	}
	closed := t.closed
	t.mu.Unlock()

	p.close()
	if present && !closed {
		slog.Info("peer disconnected", "node", p.id, "cause", cause)
		t.emit(Event{Kind: NodeDown, Node: p.id})
	}
}

func (t *Transport) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		slog.Warn("transport: event queue full, dropping", "kind", ev.Kind, "node", ev.Node)
	}
}

// advertiseAddr picks the address peers should dial. An unspecified listen
// host is rewritten to loopback so the identity stays dialable in dev setups.
func advertiseAddr(advertise, bound string) string {
	if advertise != "" {
		return advertise
	}
	host, port, err := net.SplitHostPort(bound)
	if err != nil {
		return bound
	}
	if host == "" || host == "::" || strings.HasPrefix(host, "0.0.0.0") {
		return net.JoinHostPort("127.0.0.1", port)
	}
	return bound
}
