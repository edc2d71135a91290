// Package router delivers chat messages to the right recipients.
//
// The router holds no state of its own: it resolves recipients through the
// registry and either hands a message to a local session or forwards it to
// the owning node in a route envelope. Forwarding is one hop — a node that
// receives a route envelope only ever delivers locally, never relays.
package router

import (
	"fmt"
	"log/slog"

	"github.com/hebbarp/ahoy/pkg/model"
	"github.com/hebbarp/ahoy/pkg/wire"
)

// Directory is the registry surface the router reads.
type Directory interface {
	ChannelUsers(channel string) []string
	Owner(username string) (model.NodeID, bool)
}

// Local hands messages to sessions held on this node. Deliver reports
// whether a session for the username exists.
type Local interface {
	Deliver(username string, msg model.Message) bool
}

// Sender forwards envelopes to a specific peer.
type Sender interface {
	Send(node model.NodeID, env *wire.Envelope) error
}

// Log persists delivered chat messages. Optional.
type Log interface {
	Append(msg model.Message) error
}

// Router fans messages out to local sessions and remote nodes.
type Router struct {
	self  model.NodeID
	dir   Directory
	local Local
	links Sender
	log   Log // may be nil
}

// New creates a router. log may be nil to disable persistence.
func New(self model.NodeID, dir Directory, local Local, links Sender, log Log) *Router {
	return &Router{self: self, dir: dir, local: local, links: links, log: log}
}

// SendChannelMessage delivers a user message to every member of a channel,
// the sender included. A message to an empty channel is dropped: an empty
// channel is valid, it just has nobody to hear, so no error is surfaced.
func (r *Router) SendChannelMessage(from, channel, body string) {
	members := r.dir.ChannelUsers(channel)
	if len(members) == 0 {
		slog.Info("router: dropping message to empty channel", "channel", channel, "from", from)
		return
	}
	r.deliverToUsers(model.NewChannelMessage(from, channel, body), members)
}

// SendDirectMessage delivers a message to exactly the sender and recipient.
// An unknown recipient surfaces as an error event to the sender only.
func (r *Router) SendDirectMessage(from, to, body string) {
	if _, ok := r.dir.Owner(to); !ok {
		r.deliverToUsers(model.NewErrorEvent(fmt.Sprintf("User %s not found", to)), []string{from})
		return
	}
	targets := []string{from, to}
	if from == to {
		targets = targets[:1]
	}
	r.deliverToUsers(model.NewDirectMessage(from, to, body), targets)
}

// SendSystemMessage delivers a notice to every member of a channel.
func (r *Router) SendSystemMessage(channel, body string) {
	members := r.dir.ChannelUsers(channel)
	if len(members) == 0 {
		return
	}
	r.deliverToUsers(model.NewSystemMessage(channel, body), members)
}

// HandleRoute performs the local half of a forwarded message: hand the
// message to each named local session and nothing else.
func (r *Router) HandleRoute(rm *wire.RouteMessage) {
	r.handoff(rm.Message, rm.Targets)
}

// deliverToUsers resolves each target's owning node, hands local targets to
// their sessions, and groups remote targets into one route envelope per node.
func (r *Router) deliverToUsers(msg model.Message, targets []string) {
	var locals []string
	remote := make(map[model.NodeID][]string)

	for _, username := range targets {
		node, ok := r.dir.Owner(username)
		if !ok {
			slog.Debug("router: skipping unknown recipient", "user", username)
			continue
		}
		if node == r.self {
			locals = append(locals, username)
		} else {
			remote[node] = append(remote[node], username)
		}
	}

	r.handoff(msg, locals)

	for node, users := range remote {
		env := &wire.Envelope{RouteMessage: &wire.RouteMessage{Message: msg, Targets: users}}
		if err := r.links.Send(node, env); err != nil {
			slog.Warn("router: forward failed", "node", node, "targets", len(users), "err", err)
		}
	}
}

// handoff delivers to local sessions. A username without a session (already
// torn down, or a stale directory entry) is skipped silently.
func (r *Router) handoff(msg model.Message, usernames []string) {
	delivered := 0
	for _, username := range usernames {
		if !r.local.Deliver(username, msg) {
			slog.Debug("router: no local session", "user", username)
			continue
		}
		delivered++
	}
	if delivered > 0 {
		r.persist(msg)
	}
}

// persist appends user chat traffic to the log, once per node per message.
func (r *Router) persist(msg model.Message) {
	if r.log == nil {
		return
	}
	if msg.Kind != model.KindChannel && msg.Kind != model.KindDirect {
		return
	}
	if err := r.log.Append(msg); err != nil {
		slog.Warn("router: chat log append failed", "err", err)
	}
}
