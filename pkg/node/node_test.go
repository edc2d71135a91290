package node

import (
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/hebbarp/ahoy/pkg/model"
)

// collector records everything a session sink receives.
type collector struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (c *collector) Deliver(msg model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *collector) find(kind model.MessageKind, body string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.msgs {
		if m.Kind == kind && m.Body == body {
			return true
		}
	}
	return false
}

func newTestNode(t *testing.T) *Node {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Secret = "test-cluster"
	cfg.Discovery.Disabled = true
	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(n.Close)
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTwoNodesConvergeOnChannelMembership(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	aliceSink := &collector{}
	alice, err := a.OpenSession("alice", aliceSink)
	if err != nil {
		t.Fatalf("OpenSession(alice): %v", err)
	}
	if err := alice.JoinChannel("#general"); err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}

	if err := b.Connect(string(a.Self())); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	bobSink := &collector{}
	bob, err := b.OpenSession("bob", bobSink)
	if err != nil {
		t.Fatalf("OpenSession(bob): %v", err)
	}
	if err := bob.JoinChannel("#general"); err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}

	want := []string{"alice", "bob"}
	waitFor(t, "membership to converge on a", func() bool {
		return reflect.DeepEqual(a.ChannelUsers("#general"), want)
	})
	waitFor(t, "membership to converge on b", func() bool {
		return reflect.DeepEqual(b.ChannelUsers("#general"), want)
	})
}

func TestChannelMessageCrossesNodes(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)
	if err := b.Connect(string(a.Self())); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	aliceSink := &collector{}
	alice, err := a.OpenSession("alice", aliceSink)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	bobSink := &collector{}
	bob, err := b.OpenSession("bob", bobSink)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if err := alice.JoinChannel("#general"); err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}
	if err := bob.JoinChannel("#general"); err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}
	waitFor(t, "both members visible on a", func() bool {
		return len(a.ChannelUsers("#general")) == 2
	})
	waitFor(t, "both members visible on b", func() bool {
		return len(b.ChannelUsers("#general")) == 2
	})

	if err := alice.SendMessage("hello overlay"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	waitFor(t, "bob to receive the message", func() bool {
		return bobSink.find(model.KindChannel, "hello overlay")
	})
	waitFor(t, "alice to receive her own copy", func() bool {
		return aliceSink.find(model.KindChannel, "hello overlay")
	})
}

func TestDirectMessageCrossesNodes(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)
	if err := b.Connect(string(a.Self())); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	aliceSink := &collector{}
	alice, err := a.OpenSession("alice", aliceSink)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	bobSink := &collector{}
	if _, err := b.OpenSession("bob", bobSink); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	waitFor(t, "bob visible on a", func() bool {
		_, ok := a.Users()["bob"]
		return ok
	})

	if err := alice.SendDirectMessage("bob", "psst"); err != nil {
		t.Fatalf("SendDirectMessage: %v", err)
	}

	waitFor(t, "bob to receive the dm", func() bool {
		return bobSink.find(model.KindDirect, "psst")
	})
	waitFor(t, "alice to receive her copy", func() bool {
		return aliceSink.find(model.KindDirect, "psst")
	})

	// Unknown recipients come back as a single error event to the sender.
	if err := alice.SendDirectMessage("ghost", "hello?"); err != nil {
		t.Fatalf("SendDirectMessage(ghost): %v", err)
	}
	waitFor(t, "alice to see the error", func() bool {
		return aliceSink.find(model.KindError, "User ghost not found")
	})
}

func TestNodeShutdownPurgesItsUsers(t *testing.T) {
	a := newTestNode(t)

	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Secret = "test-cluster"
	cfg.Discovery.Disabled = true
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Connect(string(a.Self())); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if _, err := b.OpenSession("bob", &collector{}); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	waitFor(t, "bob visible on a", func() bool {
		_, ok := a.Users()["bob"]
		return ok
	})

	b.Close()

	waitFor(t, "bob to be purged from a", func() bool {
		_, ok := a.Users()["bob"]
		return !ok
	})
}

func TestAutojoinOnOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Discovery.Disabled = true
	cfg.Autojoin = []string{"#general", "#random"}
	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(n.Close)

	s, err := n.OpenSession("alice", &collector{})
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	snap := s.State()
	if !reflect.DeepEqual(snap.Channels, []string{"#general", "#random"}) {
		t.Fatalf("autojoined channels = %v", snap.Channels)
	}
	if snap.Current != "#general" {
		t.Fatalf("current = %q", snap.Current)
	}
}

func TestChannelHistoryPersists(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Discovery.Disabled = true
	cfg.DBPath = filepath.Join(t.TempDir(), "chat.db")
	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(n.Close)

	s, err := n.OpenSession("alice", &collector{})
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if err := s.JoinChannel("#general"); err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}
	if err := s.SendMessage("for the record"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	waitFor(t, "message to reach the log", func() bool {
		history, err := n.ChannelHistory("#general", 0)
		return err == nil && len(history) == 1 && history[0].Body == "for the record"
	})
}
