// Package session holds the per-user, client-facing state machine: which
// channels the user has joined, which one is current, and a bounded history
// of everything delivered to the user.
//
// A session is Idle until its first join and Active while it has a current
// channel. Like the registry, each session is a single mailbox goroutine;
// the methods are request/response pairs over it.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hebbarp/ahoy/pkg/model"
)

// HistorySize caps the per-session message history; the oldest entry is
// dropped first.
const HistorySize = 100

var (
	ErrClosed        = errors.New("session: closed")
	ErrSessionExists = errors.New("session: username already has a session on this node")
)

// Sink receives every message addressed to the session's user.
type Sink interface {
	Deliver(msg model.Message)
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(msg model.Message)

func (f SinkFunc) Deliver(msg model.Message) { f(msg) }

// Directory is the registry surface a session drives.
type Directory interface {
	Register(username string) error
	Unregister(username string) error
	Join(username, channel string) error
	Leave(username, channel string) error
}

// Messenger is the router surface a session drives.
type Messenger interface {
	SendChannelMessage(from, channel, body string)
	SendDirectMessage(from, to, body string)
}

// Snapshot is a point-in-time copy of a session's state.
type Snapshot struct {
	Username string
	Current  string // empty while Idle
	Channels []string
	History  []model.Message
}

// Session is one connected user's state machine.
type Session struct {
	username string
	sink     Sink
	dir      Directory
	router   Messenger

	mail      chan any
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// Owned exclusively by the mailbox goroutine.
	current string
	joined  []string
	history []model.Message
}

type (
	cmdJoin struct {
		channel string
		reply   chan error
	}
	cmdLeave struct {
		channel string
		reply   chan error
	}
	cmdSwitch struct {
		channel string
		reply   chan error
	}
	cmdSend struct {
		body  string
		reply chan error
	}
	cmdDirect struct {
		to, body string
		reply    chan error
	}
	cmdDeliver struct {
		msg model.Message
	}
	cmdSnapshot struct {
		reply chan Snapshot
	}
	cmdClose struct {
		reply chan struct{}
	}
)

// New registers the user in the directory and starts the session. The
// session starts Idle: no channels, no current channel.
func New(username string, sink Sink, dir Directory, router Messenger) (*Session, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := dir.Register(username); err != nil {
		return nil, fmt.Errorf("session: register %s: %w", username, err)
	}
	s := &Session{
		username: username,
		sink:     sink,
		dir:      dir,
		router:   router,
		mail:     make(chan any, 64),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s, nil
}

// Username returns the session's user.
func (s *Session) Username() string { return s.username }

// JoinChannel joins a channel and makes it current if the session was Idle.
func (s *Session) JoinChannel(channel string) error {
	reply := make(chan error, 1)
	return s.request(cmdJoin{channel: channel, reply: reply}, reply)
}

// LeaveChannel leaves a joined channel. If it was current, the first
// remaining joined channel becomes current, or the session goes Idle.
func (s *Session) LeaveChannel(channel string) error {
	reply := make(chan error, 1)
	return s.request(cmdLeave{channel: channel, reply: reply}, reply)
}

// SwitchChannel changes the current channel to another joined channel.
func (s *Session) SwitchChannel(channel string) error {
	reply := make(chan error, 1)
	return s.request(cmdSwitch{channel: channel, reply: reply}, reply)
}

// SendMessage sends to the current channel. While Idle it fails with
// model.ErrNotInAnyChannel and emits an error event to the session's own
// sink without touching the router.
func (s *Session) SendMessage(body string) error {
	reply := make(chan error, 1)
	return s.request(cmdSend{body: body, reply: reply}, reply)
}

// SendDirectMessage sends a direct message; channel state is irrelevant.
func (s *Session) SendDirectMessage(to, body string) error {
	reply := make(chan error, 1)
	return s.request(cmdDirect{to: to, body: body, reply: reply}, reply)
}

// Deliver hands an incoming message to the session. Called by the router's
// local handoff; messages to a closed session are dropped. Non-blocking:
// a session sending to its own channel echoes through here from inside its
// own loop, so blocking on a full mailbox would wedge it.
func (s *Session) Deliver(msg model.Message) {
	select {
	case s.mail <- cmdDeliver{msg: msg}:
	case <-s.done:
	default:
		slog.Warn("session: mailbox full, dropping message", "user", s.username, "kind", msg.Kind)
	}
}

// State returns a snapshot of the session.
func (s *Session) State() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case s.mail <- cmdSnapshot{reply: reply}:
	case <-s.done:
		return Snapshot{Username: s.username}
	}
	select {
	case snap := <-reply:
		return snap
	case <-s.done:
		return Snapshot{Username: s.username}
	}
}

// Close terminates the session: it stops accepting work, leaves every joined
// channel, and unregisters the user. Runs cleanup to completion before
// returning.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		reply := make(chan struct{})
		s.mail <- cmdClose{reply: reply}
		<-reply
		close(s.done)
	})
	s.wg.Wait()
}

func (s *Session) request(m any, reply chan error) error {
	select {
	case s.mail <- m:
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case m := <-s.mail:
			if s.dispatch(m) {
				return
			}
		}
	}
}

// dispatch handles one mailbox message; it returns true on termination.
func (s *Session) dispatch(m any) bool {
	switch m := m.(type) {
	case cmdJoin:
		m.reply <- s.join(m.channel)
	case cmdLeave:
		m.reply <- s.leave(m.channel)
	case cmdSwitch:
		m.reply <- s.switchTo(m.channel)
	case cmdSend:
		m.reply <- s.send(m.body)
	case cmdDirect:
		m.reply <- s.sendDirect(m.to, m.body)
	case cmdDeliver:
		s.deliver(m.msg)
	case cmdSnapshot:
		m.reply <- s.snapshot()
	case cmdClose:
		s.terminate()
		m.reply <- struct{}{}
		return true
	default:
		slog.Warn("session: ignoring unexpected mailbox message", "user", s.username, "type", fmt.Sprintf("%T", m))
	}
	return false
}

func (s *Session) join(channel string) error {
	if err := model.ValidateChannel(channel); err != nil {
		return err
	}
	if s.isJoined(channel) {
		return fmt.Errorf("%w: %s", model.ErrAlreadyInChannel, channel)
	}
	if err := s.dir.Join(s.username, channel); err != nil {
		return err
	}
	s.joined = append(s.joined, channel)
	if s.current == "" {
		s.current = channel
	}
	s.deliver(model.NewSystemMessage(channel, "Joined "+channel))
	return nil
}

func (s *Session) leave(channel string) error {
	if !s.isJoined(channel) {
		return fmt.Errorf("%w: %s", model.ErrNotInChannel, channel)
	}
	if err := s.dir.Leave(s.username, channel); err != nil {
		return err
	}
	s.removeJoined(channel)
	if s.current == channel {
		if len(s.joined) > 0 {
			s.current = s.joined[0]
		} else {
			s.current = ""
		}
	}
	s.deliver(model.NewSystemMessage(channel, "Left "+channel))
	return nil
}

func (s *Session) switchTo(channel string) error {
	if !s.isJoined(channel) {
		return fmt.Errorf("%w: %s", model.ErrNotInChannel, channel)
	}
	s.current = channel
	return nil
}

func (s *Session) send(body string) error {
	if err := model.ValidateBody(body); err != nil {
		return err
	}
	if s.current == "" {
		s.deliver(model.NewErrorEvent("Not in any channel. Join a channel first."))
		return model.ErrNotInAnyChannel
	}
	s.router.SendChannelMessage(s.username, s.current, body)
	return nil
}

func (s *Session) sendDirect(to, body string) error {
	if err := model.ValidateBody(body); err != nil {
		return err
	}
	s.router.SendDirectMessage(s.username, to, body)
	return nil
}

// deliver appends to the bounded history and hands the message to the sink.
func (s *Session) deliver(msg model.Message) {
	s.history = append(s.history, msg)
	if len(s.history) > HistorySize {
		s.history = s.history[len(s.history)-HistorySize:]
	}
	if s.sink != nil {
		s.sink.Deliver(msg)
	}
}

func (s *Session) terminate() {
	for _, channel := range append([]string(nil), s.joined...) {
		if err := s.dir.Leave(s.username, channel); err != nil {
			slog.Warn("session: leave during teardown failed", "user", s.username, "channel", channel, "err", err)
		}
	}
	s.joined = nil
	s.current = ""
	if err := s.dir.Unregister(s.username); err != nil {
		slog.Warn("session: unregister failed", "user", s.username, "err", err)
	}
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		Username: s.username,
		Current:  s.current,
		Channels: append([]string(nil), s.joined...),
		History:  append([]model.Message(nil), s.history...),
	}
}

func (s *Session) isJoined(channel string) bool {
	for _, ch := range s.joined {
		if ch == channel {
			return true
		}
	}
	return false
}

func (s *Session) removeJoined(channel string) {
	for i, ch := range s.joined {
		if ch == channel {
			s.joined = append(s.joined[:i], s.joined[i+1:]...)
			return
		}
	}
}
