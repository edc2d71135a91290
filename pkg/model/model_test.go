package model

import (
	"strings"
	"testing"
)

func TestValidateUsername(t *testing.T) {
	valid := []string{"alice", "Bob_42", "a", "x-y-z", strings.Repeat("a", MaxUsernameLength)}
	for _, name := range valid {
		if err := ValidateUsername(name); err != nil {
			t.Errorf("ValidateUsername(%q) = %v", name, err)
		}
	}

	invalid := []string{"", "has space", "naïve", "semi;colon", strings.Repeat("a", MaxUsernameLength+1)}
	for _, name := range invalid {
		if err := ValidateUsername(name); err == nil {
			t.Errorf("ValidateUsername(%q) accepted", name)
		}
	}
}

func TestValidateChannel(t *testing.T) {
	valid := []string{"#general", "general", "#dev-ops", "#日本語"}
	for _, name := range valid {
		if err := ValidateChannel(name); err != nil {
			t.Errorf("ValidateChannel(%q) = %v", name, err)
		}
	}

	invalid := []string{"", "#", "#   ", "#" + strings.Repeat("x", MaxChannelLength)}
	for _, name := range invalid {
		if err := ValidateChannel(name); err == nil {
			t.Errorf("ValidateChannel(%q) accepted", name)
		}
	}
}

func TestValidateBody(t *testing.T) {
	if err := ValidateBody("hello"); err != nil {
		t.Fatalf("ValidateBody: %v", err)
	}
	if err := ValidateBody(strings.Repeat("é", MessageMaxBodyLength)); err != nil {
		t.Fatalf("max-length body rejected: %v", err)
	}
	if err := ValidateBody("   "); err == nil {
		t.Fatalf("blank body accepted")
	}
	if err := ValidateBody(strings.Repeat("a", MessageMaxBodyLength+1)); err == nil {
		t.Fatalf("oversized body accepted")
	}
}

func TestMessageConstructorsStampKindAndTime(t *testing.T) {
	msg := NewChannelMessage("alice", "#general", "hi")
	if msg.Kind != KindChannel || msg.From != "alice" || msg.Channel != "#general" {
		t.Fatalf("channel message = %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Fatalf("timestamp not stamped")
	}

	dm := NewDirectMessage("alice", "bob", "psst")
	if dm.Kind != KindDirect || dm.To != "bob" {
		t.Fatalf("direct message = %+v", dm)
	}

	sys := NewSystemMessage("#general", "Joined #general")
	if sys.Kind != KindSystem || sys.From != "" {
		t.Fatalf("system message = %+v", sys)
	}

	ev := NewErrorEvent("oops")
	if ev.Kind != KindError || ev.Body != "oops" {
		t.Fatalf("error event = %+v", ev)
	}
}
