package discovery

import (
	"testing"

	"github.com/hebbarp/ahoy/pkg/model"
	"github.com/hebbarp/ahoy/pkg/wire"
)

func encode(t *testing.T, info model.NodeInfo) []byte {
	t.Helper()
	payload, err := wire.EncodeAnnouncement(info)
	if err != nil {
		t.Fatalf("EncodeAnnouncement: %v", err)
	}
	return payload
}

func TestAnnouncementRecordsPeerAndFiresCallback(t *testing.T) {
	var heard []model.NodeInfo
	d := New(DefaultConfig(), "node-a:7100", "test", func(info model.NodeInfo) {
		heard = append(heard, info)
	})

	d.handleAnnouncement(encode(t, model.NodeInfo{Node: "node-b:7100", Timestamp: 100, Version: "test"}))

	if len(heard) != 1 || heard[0].Node != "node-b:7100" {
		t.Fatalf("callback saw %+v", heard)
	}
	nodes := d.Nodes()
	if len(nodes) != 1 || nodes[0].Node != "node-b:7100" {
		t.Fatalf("Nodes() = %+v", nodes)
	}
}

func TestRepeatAnnouncementFiresCallbackAgain(t *testing.T) {
	// Connect is idempotent downstream, so every heard announcement is a
	// fresh connect attempt; that is how failed dials get retried.
	calls := 0
	d := New(DefaultConfig(), "node-a:7100", "test", func(model.NodeInfo) { calls++ })

	for i := int64(1); i <= 3; i++ {
		d.handleAnnouncement(encode(t, model.NodeInfo{Node: "node-b:7100", Timestamp: i, Version: "test"}))
	}

	if calls != 3 {
		t.Fatalf("callback fired %d times, want 3", calls)
	}
	if nodes := d.Nodes(); len(nodes) != 1 || nodes[0].Timestamp != 3 {
		t.Fatalf("latest announcement not retained: %+v", nodes)
	}
}

func TestSelfAnnouncementIgnored(t *testing.T) {
	called := false
	d := New(DefaultConfig(), "node-a:7100", "test", func(model.NodeInfo) { called = true })

	d.handleAnnouncement(encode(t, model.NodeInfo{Node: "node-a:7100", Timestamp: 100, Version: "test"}))

	if called || len(d.Nodes()) != 0 {
		t.Fatalf("own announcement was not ignored")
	}
}

func TestMalformedAnnouncementDropped(t *testing.T) {
	called := false
	d := New(DefaultConfig(), "node-a:7100", "test", func(model.NodeInfo) { called = true })

	d.handleAnnouncement([]byte("not json"))
	d.handleAnnouncement([]byte(`{"type":"something_else","node":"node-b:7100"}`))

	if called || len(d.Nodes()) != 0 {
		t.Fatalf("malformed announcement was recorded")
	}
}

func TestNodesSortedByID(t *testing.T) {
	d := New(DefaultConfig(), "node-a:7100", "test", nil)

	for _, n := range []model.NodeID{"node-c:7100", "node-b:7100", "node-d:7100"} {
		d.handleAnnouncement(encode(t, model.NodeInfo{Node: n, Timestamp: 1, Version: "test"}))
	}

	nodes := d.Nodes()
	if len(nodes) != 3 {
		t.Fatalf("Nodes() = %+v", nodes)
	}
	for i, want := range []model.NodeID{"node-b:7100", "node-c:7100", "node-d:7100"} {
		if nodes[i].Node != want {
			t.Fatalf("nodes[%d] = %s, want %s", i, nodes[i].Node, want)
		}
	}
}
