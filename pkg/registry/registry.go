// Package registry maintains the replicated directory of online users and
// channel memberships.
//
// One Registry runs per node. All state is owned by a single goroutine that
// drains a mailbox in arrival order; public methods are request/response
// pairs over that mailbox, so no locking is needed anywhere in the package.
//
// Replication is flood-based: every local mutation is broadcast to all
// connected peers, remote mutations are applied without re-broadcast, and a
// newly connected peer receives this node's entire directory as a replay of
// user-online and join-channel envelopes. There is no arbitration when two
// nodes register the same username concurrently; whichever announcement a
// node hears last wins on that node.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hebbarp/ahoy/pkg/model"
	"github.com/hebbarp/ahoy/pkg/wire"
)

var ErrClosed = errors.New("registry: closed")

// Links is the transport surface the registry replicates over.
type Links interface {
	Send(node model.NodeID, env *wire.Envelope) error
	Broadcast(env *wire.Envelope)
}

type userEntry struct {
	node     model.NodeID
	channels map[string]struct{}
}

// Registry is the per-node directory actor.
type Registry struct {
	self  model.NodeID
	links Links

	mail chan any
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	// Owned exclusively by the mailbox goroutine.
	users    map[string]*userEntry
	channels map[string]map[string]struct{}
}

// Mailbox message variants. One closed set, dispatched in a single loop;
// anything else is logged and ignored.
type (
	cmdRegister struct {
		username string
		reply    chan error
	}
	cmdUnregister struct {
		username string
		reply    chan error
	}
	cmdJoin struct {
		username, channel string
		reply             chan error
	}
	cmdLeave struct {
		username, channel string
		reply             chan error
	}
	cmdUsers struct {
		reply chan map[string]model.User
	}
	cmdChannelUsers struct {
		channel string
		reply   chan []string
	}
	cmdOwner struct {
		username string
		reply    chan ownerReply
	}
	evNodeUp   struct{ node model.NodeID }
	evNodeDown struct{ node model.NodeID }
	remoteEnv  struct {
		from model.NodeID
		env  *wire.Envelope
	}
)

type ownerReply struct {
	node model.NodeID
	ok   bool
}

// New creates the registry for this node. Start must be called before use.
func New(self model.NodeID, links Links) *Registry {
	return &Registry{
		self:     self,
		links:    links,
		mail:     make(chan any, 128),
		done:     make(chan struct{}),
		users:    make(map[string]*userEntry),
		channels: make(map[string]map[string]struct{}),
	}
}

// Start launches the mailbox loop.
func (r *Registry) Start() {
	r.wg.Add(1)
	go r.loop()
}

// Close stops the mailbox loop. Pending requests fail with ErrClosed.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.done) })
	r.wg.Wait()
}

// Register inserts (or overwrites) a user owned by this node with an empty
// channel set and floods the registration to all peers.
func (r *Registry) Register(username string) error {
	reply := make(chan error, 1)
	return r.request(cmdRegister{username: username, reply: reply}, reply)
}

// Unregister removes a user and its channel memberships and floods the
// removal. Unknown users are a successful no-op.
func (r *Registry) Unregister(username string) error {
	reply := make(chan error, 1)
	return r.request(cmdUnregister{username: username, reply: reply}, reply)
}

// Join adds a channel membership. Fails with model.ErrUserNotFound for an
// unknown user and model.ErrAlreadyInChannel for a repeated local join.
func (r *Registry) Join(username, channel string) error {
	reply := make(chan error, 1)
	return r.request(cmdJoin{username: username, channel: channel, reply: reply}, reply)
}

// Leave removes a channel membership if present; otherwise a no-op.
func (r *Registry) Leave(username, channel string) error {
	reply := make(chan error, 1)
	return r.request(cmdLeave{username: username, channel: channel, reply: reply}, reply)
}

// Users returns a snapshot of the directory.
func (r *Registry) Users() map[string]model.User {
	reply := make(chan map[string]model.User, 1)
	select {
	case r.mail <- cmdUsers{reply: reply}:
	case <-r.done:
		return nil
	}
	select {
	case m := <-reply:
		return m
	case <-r.done:
		return nil
	}
}

// ChannelUsers returns the members of a channel, sorted. An unknown or
// emptied channel yields an empty slice.
func (r *Registry) ChannelUsers(channel string) []string {
	reply := make(chan []string, 1)
	select {
	case r.mail <- cmdChannelUsers{channel: channel, reply: reply}:
	case <-r.done:
		return nil
	}
	select {
	case m := <-reply:
		return m
	case <-r.done:
		return nil
	}
}

// Owner resolves the node a username's session lives on.
func (r *Registry) Owner(username string) (model.NodeID, bool) {
	reply := make(chan ownerReply, 1)
	select {
	case r.mail <- cmdOwner{username: username, reply: reply}:
	case <-r.done:
		return "", false
	}
	select {
	case m := <-reply:
		return m.node, m.ok
	case <-r.done:
		return "", false
	}
}

// NodeUp tells the registry a peer link came up; the registry replays its
// full directory to that peer.
func (r *Registry) NodeUp(node model.NodeID) {
	r.post(evNodeUp{node: node})
}

// NodeDown tells the registry a peer link went down; every user owned by
// that node is purged locally. No broadcast: each node observes the same
// event on its own link and purges independently.
func (r *Registry) NodeDown(node model.NodeID) {
	r.post(evNodeDown{node: node})
}

// HandleRemote applies a replication envelope received from a peer.
func (r *Registry) HandleRemote(from model.NodeID, env *wire.Envelope) {
	r.post(remoteEnv{from: from, env: env})
}

func (r *Registry) post(m any) {
	select {
	case r.mail <- m:
	case <-r.done:
	}
}

func (r *Registry) request(m any, reply chan error) error {
	select {
	case r.mail <- m:
	case <-r.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		return ErrClosed
	}
}

func (r *Registry) loop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case m := <-r.mail:
			r.dispatch(m)
		}
	}
}

func (r *Registry) dispatch(m any) {
	switch m := m.(type) {
	case cmdRegister:
		m.reply <- r.register(m.username)
	case cmdUnregister:
		m.reply <- r.unregister(m.username)
	case cmdJoin:
		m.reply <- r.join(m.username, m.channel)
	case cmdLeave:
		m.reply <- r.leave(m.username, m.channel)
	case cmdUsers:
		m.reply <- r.snapshot()
	case cmdChannelUsers:
		m.reply <- r.channelUsers(m.channel)
	case cmdOwner:
		if e, ok := r.users[m.username]; ok {
			m.reply <- ownerReply{node: e.node, ok: true}
		} else {
			m.reply <- ownerReply{}
		}
	case evNodeUp:
		r.replayTo(m.node)
	case evNodeDown:
		r.purgeNode(m.node)
	case remoteEnv:
		r.applyRemote(m.from, m.env)
	default:
		slog.Warn("registry: ignoring unexpected mailbox message", "type", fmt.Sprintf("%T", m))
	}
}

// ---- local operations (these replicate) ----

func (r *Registry) register(username string) error {
	r.setUser(username, r.self)
	r.links.Broadcast(&wire.Envelope{UserOnline: &wire.UserOnline{Username: username, Node: r.self}})
	slog.Debug("registry: user registered", "user", username)
	return nil
}

func (r *Registry) unregister(username string) error {
	if !r.removeUser(username) {
		return nil
	}
	r.links.Broadcast(&wire.Envelope{UserOffline: &wire.UserOffline{Username: username}})
	slog.Debug("registry: user unregistered", "user", username)
	return nil
}

func (r *Registry) join(username, channel string) error {
	e, ok := r.users[username]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrUserNotFound, username)
	}
	if _, in := e.channels[channel]; in {
		return fmt.Errorf("%w: %s", model.ErrAlreadyInChannel, channel)
	}
	r.addMembership(e, username, channel)
	r.links.Broadcast(&wire.Envelope{JoinChannel: &wire.JoinChannel{Username: username, Channel: channel}})
	return nil
}

func (r *Registry) leave(username, channel string) error {
	if !r.removeMembership(username, channel) {
		return nil
	}
	r.links.Broadcast(&wire.Envelope{LeaveChannel: &wire.LeaveChannel{Username: username, Channel: channel}})
	return nil
}

// ---- membership events ----

// replayTo pushes the full local directory to a freshly connected peer.
// The newcomer converges by receiving every node's state independently;
// there is no merge protocol. Per-peer FIFO keeps each user-online ahead
// of that user's joins.
func (r *Registry) replayTo(node model.NodeID) {
	if err := r.links.Send(node, &wire.Envelope{NodeConnected: &wire.NodeConnected{Node: r.self}}); err != nil {
		slog.Warn("registry: replay aborted", "node", node, "err", err)
		return
	}

	usernames := make([]string, 0, len(r.users))
	for u := range r.users {
		usernames = append(usernames, u)
	}
	sort.Strings(usernames)

	for _, u := range usernames {
		e := r.users[u]
		if err := r.links.Send(node, &wire.Envelope{UserOnline: &wire.UserOnline{Username: u, Node: e.node}}); err != nil {
			slog.Warn("registry: replay send failed", "node", node, "err", err)
			return
		}
		channels := make([]string, 0, len(e.channels))
		for ch := range e.channels {
			channels = append(channels, ch)
		}
		sort.Strings(channels)
		for _, ch := range channels {
			if err := r.links.Send(node, &wire.Envelope{JoinChannel: &wire.JoinChannel{Username: u, Channel: ch}}); err != nil {
				slog.Warn("registry: replay send failed", "node", node, "err", err)
				return
			}
		}
	}
	slog.Info("registry: directory replayed", "node", node, "users", len(usernames))
}

func (r *Registry) purgeNode(node model.NodeID) {
	purged := 0
	for username, e := range r.users {
		if e.node != node {
			continue
		}
		r.removeUser(username)
		purged++
	}
	if purged > 0 {
		slog.Info("registry: purged departed node", "node", node, "users", purged)
	}
}

// ---- remote envelope application (never re-broadcast) ----

func (r *Registry) applyRemote(from model.NodeID, env *wire.Envelope) {
	switch {
	case env.UserOnline != nil:
		r.setUser(env.UserOnline.Username, env.UserOnline.Node)
	case env.UserOffline != nil:
		r.removeUser(env.UserOffline.Username)
	case env.JoinChannel != nil:
		e, ok := r.users[env.JoinChannel.Username]
		if !ok {
			slog.Debug("registry: join for unknown user", "user", env.JoinChannel.Username, "from", from)
			return
		}
		// Replayed joins are idempotent, unlike the local operation.
		r.addMembership(e, env.JoinChannel.Username, env.JoinChannel.Channel)
	case env.LeaveChannel != nil:
		r.removeMembership(env.LeaveChannel.Username, env.LeaveChannel.Channel)
	default:
		slog.Warn("registry: ignoring unexpected envelope", "from", from)
	}
}

// ---- state helpers; keep user.channels and channel members bidirectional ----

// setUser inserts or overwrites a user with an empty channel set. An
// overwrite (the concurrent-register race, or a re-register) first drops
// the old entry's memberships so the inverse index stays consistent.
func (r *Registry) setUser(username string, node model.NodeID) {
	r.removeUser(username)
	r.users[username] = &userEntry{node: node, channels: make(map[string]struct{})}
}

func (r *Registry) removeUser(username string) bool {
	e, ok := r.users[username]
	if !ok {
		return false
	}
	for ch := range e.channels {
		r.removeMembership(username, ch)
	}
	delete(r.users, username)
	return true
}

func (r *Registry) addMembership(e *userEntry, username, channel string) {
	e.channels[channel] = struct{}{}
	if _, ok := r.channels[channel]; !ok {
		r.channels[channel] = make(map[string]struct{})
	}
	r.channels[channel][username] = struct{}{}
}

// removeMembership unlinks both directions. The channel entry survives even
// when emptied: an empty channel is valid state.
func (r *Registry) removeMembership(username, channel string) bool {
	e, ok := r.users[username]
	if !ok {
		return false
	}
	if _, in := e.channels[channel]; !in {
		return false
	}
	delete(e.channels, channel)
	if members, ok := r.channels[channel]; ok {
		delete(members, username)
	}
	return true
}

func (r *Registry) snapshot() map[string]model.User {
	out := make(map[string]model.User, len(r.users))
	for username, e := range r.users {
		channels := make([]string, 0, len(e.channels))
		for ch := range e.channels {
			channels = append(channels, ch)
		}
		sort.Strings(channels)
		out[username] = model.User{Username: username, Node: e.node, Channels: channels}
	}
	return out
}

func (r *Registry) channelUsers(channel string) []string {
	members := r.channels[channel]
	out := make([]string, 0, len(members))
	for u := range members {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
