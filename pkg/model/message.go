package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const MessageMaxBodyLength = 1024

var ErrMessageBodyEmpty = errors.New("message body cannot be empty")
var ErrMessageBodyTooLong = fmt.Errorf("message body exceeds %d characters", MessageMaxBodyLength)

// MessageKind discriminates the Message variants.
type MessageKind int

const (
	KindChannel MessageKind = iota // user message to a channel
	KindDirect                     // user-to-user message
	KindSystem                     // server-generated notice
	KindError                      // delivery failure, sender-only
)

func (k MessageKind) String() string {
	switch k {
	case KindChannel:
		return "channel"
	case KindDirect:
		return "direct"
	case KindSystem:
		return "system"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is one event delivered to a session sink. Exactly the fields for
// the given Kind are set; a Message is immutable once constructed.
type Message struct {
	Kind      MessageKind `json:"kind"`
	From      string      `json:"from,omitempty"`
	To        string      `json:"to,omitempty"`
	Channel   string      `json:"channel,omitempty"`
	Body      string      `json:"body"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewChannelMessage stamps and returns a channel message.
func NewChannelMessage(from, channel, body string) Message {
	return Message{Kind: KindChannel, From: from, Channel: channel, Body: body, Timestamp: time.Now()}
}

// NewDirectMessage stamps and returns a user-to-user message.
func NewDirectMessage(from, to, body string) Message {
	return Message{Kind: KindDirect, From: from, To: to, Body: body, Timestamp: time.Now()}
}

// NewSystemMessage stamps and returns a notice. Channel may be empty for
// node-wide notices.
func NewSystemMessage(channel, body string) Message {
	return Message{Kind: KindSystem, Channel: channel, Body: body, Timestamp: time.Now()}
}

// NewErrorEvent stamps and returns an error event for the acting user only.
func NewErrorEvent(body string) Message {
	return Message{Kind: KindError, Body: body, Timestamp: time.Now()}
}

// ValidateBody rejects blank or oversized message bodies.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrMessageBodyEmpty
	}
	if utf8.RuneCountInString(body) > MessageMaxBodyLength {
		return ErrMessageBodyTooLong
	}
	return nil
}
