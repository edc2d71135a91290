// Package node assembles one running instance of the overlay: discovery,
// transport, registry, router, and the local session table, wired together
// and torn down as a unit.
package node

import (
	"fmt"
	"log/slog"

	"github.com/hebbarp/ahoy/pkg/discovery"
	"github.com/hebbarp/ahoy/pkg/model"
	"github.com/hebbarp/ahoy/pkg/registry"
	"github.com/hebbarp/ahoy/pkg/router"
	"github.com/hebbarp/ahoy/pkg/session"
	"github.com/hebbarp/ahoy/pkg/store"
	"github.com/hebbarp/ahoy/pkg/transport"
	"github.com/hebbarp/ahoy/pkg/version"
)

// Node is one running overlay instance.
type Node struct {
	cfg Config

	transport *transport.Transport
	registry  *registry.Registry
	router    *router.Router
	sessions  *session.Manager
	discovery *discovery.Discovery
	store     *store.Store // nil when persistence is disabled

	done chan struct{}
}

// New builds a node from config. Nothing listens until Start.
func New(cfg Config) (*Node, error) {
	n := &Node{cfg: cfg, done: make(chan struct{})}

	if cfg.DBPath != "" {
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("node: open chat log: %w", err)
		}
		n.store = st
	}

	n.transport = transport.New(transport.Config{
		ListenAddr: cfg.ListenAddr,
		Advertise:  cfg.Advertise,
		Secret:     cfg.Secret,
	}, version.String())
	n.sessions = session.NewManager()
	return n, nil
}

// Start binds the transport, starts the registry, and begins dispatching
// peer traffic. Discovery is started separately: its failure disables
// automatic peering but not the node.
func (n *Node) Start() error {
	if err := n.transport.Start(); err != nil {
		return err
	}
	self := n.transport.Self()

	n.registry = registry.New(self, n.transport)
	n.registry.Start()

	var log router.Log
	if n.store != nil {
		log = n.store
	}
	n.router = router.New(self, n.registry, n.sessions, n.transport, log)

	go n.dispatch()

	slog.Info("node started", "node", self, "version", version.String())
	return nil
}

// StartDiscovery opens the announcement endpoint. The error is the caller's
// to judge: a node without discovery still works with seeded peers.
func (n *Node) StartDiscovery() error {
	d := discovery.New(n.cfg.Discovery.toDiscovery(), n.transport.Self(), version.String(), n.onPeer)
	if err := d.Start(); err != nil {
		return err
	}
	n.discovery = d
	return nil
}

// onPeer reacts to a discovery announcement with a connection attempt.
// Connect is idempotent, so repeat announcements from a connected node are
// free; a failure waits for the next announcement cycle.
func (n *Node) onPeer(info model.NodeInfo) {
	go func() {
		if err := n.transport.Connect(info.Node); err != nil {
			slog.Warn("node: connect to discovered peer failed", "node", info.Node, "err", err)
		}
	}()
}

// Connect seeds a peer link by address, outside discovery.
func (n *Node) Connect(addr string) error {
	return n.transport.Connect(model.NodeID(addr))
}

// dispatch drains transport events and inbound envelopes: membership events
// feed the registry, route envelopes feed the router, node-connected
// notices fan out to local sessions, and everything else is a replication
// envelope for the registry.
func (n *Node) dispatch() {
	events := n.transport.Events()
	inbound := n.transport.Inbound()
	for events != nil || inbound != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev.Kind {
			case transport.NodeUp:
				n.registry.NodeUp(ev.Node)
			case transport.NodeDown:
				n.registry.NodeDown(ev.Node)
			}
		case in, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			switch {
			case in.Env.RouteMessage != nil:
				n.router.HandleRoute(in.Env.RouteMessage)
			case in.Env.NodeConnected != nil:
				n.sessions.NotifyAll(model.NewSystemMessage("", fmt.Sprintf("Node %s connected", in.Env.NodeConnected.Node)))
			default:
				n.registry.HandleRemote(in.From, in.Env)
			}
		}
	}
}

// Self returns this node's identity.
func (n *Node) Self() model.NodeID {
	return n.transport.Self()
}

// OpenSession connects a user on this node and joins any configured
// autojoin channels.
func (n *Node) OpenSession(username string, sink session.Sink) (*session.Session, error) {
	s, err := n.sessions.Open(username, sink, n.registry, n.router)
	if err != nil {
		return nil, err
	}
	for _, channel := range n.cfg.Autojoin {
		if err := s.JoinChannel(channel); err != nil {
			slog.Warn("node: autojoin failed", "user", username, "channel", channel, "err", err)
		}
	}
	return s, nil
}

// CloseSession disconnects a user, leaving all channels and unregistering.
func (n *Node) CloseSession(username string) {
	n.sessions.Close(username)
}

// Users returns the node's current view of the replicated directory.
func (n *Node) Users() map[string]model.User {
	return n.registry.Users()
}

// ChannelUsers returns the node's current view of a channel's members.
func (n *Node) ChannelUsers(channel string) []string {
	return n.registry.ChannelUsers(channel)
}

// DiscoveredNodes returns every peer heard via discovery since startup.
func (n *Node) DiscoveredNodes() []model.NodeInfo {
	if n.discovery == nil {
		return nil
	}
	return n.discovery.Nodes()
}

// ConnectedPeers returns currently linked peers.
func (n *Node) ConnectedPeers() []model.NodeID {
	return n.transport.Peers()
}

// ForceDiscovery sends one announcement immediately, if discovery runs.
func (n *Node) ForceDiscovery() {
	if n.discovery != nil {
		n.discovery.ForceDiscovery()
	}
}

// ChannelHistory reads recent persisted channel messages, oldest first.
func (n *Node) ChannelHistory(channel string, limit int) ([]model.Message, error) {
	if n.store == nil {
		return nil, nil
	}
	return n.store.ChannelHistory(channel, limit)
}

// Close tears the node down: sessions first so departures replicate, then
// discovery, transport, registry, and the chat log.
func (n *Node) Close() {
	n.sessions.CloseAll()
	if n.discovery != nil {
		n.discovery.Close()
	}
	n.transport.Close()
	if n.registry != nil {
		n.registry.Close()
	}
	if n.store != nil {
		_ = n.store.Close()
	}
	slog.Info("node stopped", "node", n.transport.Self())
}
