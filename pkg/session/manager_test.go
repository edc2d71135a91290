package session

import (
	"errors"
	"testing"

	"github.com/hebbarp/ahoy/pkg/model"
)

func TestManagerOnePerUsername(t *testing.T) {
	m := NewManager()
	dir := &fakeDir{}
	router := &fakeRouter{}

	s, err := m.Open("alice", &collector{}, dir, router)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Close)

	if _, err := m.Open("alice", &collector{}, dir, router); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
	if m.Count() != 1 {
		t.Fatalf("Count = %d", m.Count())
	}
	if m.Get("alice") != s {
		t.Fatalf("Get returned wrong session")
	}
}

func TestManagerDeliverReportsMissingSessions(t *testing.T) {
	m := NewManager()
	sink := &collector{}
	if _, err := m.Open("alice", sink, &fakeDir{}, &fakeRouter{}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.CloseAll()

	if !m.Deliver("alice", model.NewSystemMessage("", "hi")) {
		t.Fatalf("delivery to open session reported false")
	}
	if m.Deliver("ghost", model.NewSystemMessage("", "hi")) {
		t.Fatalf("delivery to missing session reported true")
	}
}

func TestManagerCloseForgetsSession(t *testing.T) {
	m := NewManager()
	dir := &fakeDir{}
	if _, err := m.Open("alice", &collector{}, dir, &fakeRouter{}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	m.Close("alice")

	if m.Get("alice") != nil {
		t.Fatalf("closed session still tracked")
	}
	dir.mu.Lock()
	defer dir.mu.Unlock()
	if len(dir.unregistered) != 1 {
		t.Fatalf("close did not unregister: %v", dir.unregistered)
	}

	// Unknown users are a no-op.
	m.Close("ghost")
}

func TestManagerCloseAll(t *testing.T) {
	m := NewManager()
	dir := &fakeDir{}
	for _, u := range []string{"alice", "bob"} {
		if _, err := m.Open(u, &collector{}, dir, &fakeRouter{}); err != nil {
			t.Fatalf("Open(%s): %v", u, err)
		}
	}

	m.CloseAll()

	if m.Count() != 0 {
		t.Fatalf("Count after CloseAll = %d", m.Count())
	}
	dir.mu.Lock()
	defer dir.mu.Unlock()
	if len(dir.unregistered) != 2 {
		t.Fatalf("unregistered = %v", dir.unregistered)
	}
}
