// Package wire defines the inter-node message formats: the tagged envelope
// union exchanged over peer links, the handshake hello, and the discovery
// announcement.
//
// Framing is a 4-byte big-endian length prefix followed by a JSON payload.
// The field sets are the contract; JSON is just the encoding.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hebbarp/ahoy/pkg/model"
)

// MaxEnvelopeSize bounds a single framed payload (64KB).
const MaxEnvelopeSize = 65536

var (
	ErrEnvelopeTooLarge = errors.New("wire: envelope too large")
	ErrEmptyEnvelope    = errors.New("wire: envelope has no variant set")

	// ErrDecode marks a payload that parsed as a frame but not as a valid
	// envelope. The stream itself is still aligned, so the reader may log,
	// drop and keep going.
	ErrDecode = errors.New("wire: decode failed")
)

// Envelope wraps all inter-node messages. Exactly one field is set.
type Envelope struct {
	UserOnline    *UserOnline    `json:"user_online,omitempty"`
	UserOffline   *UserOffline   `json:"user_offline,omitempty"`
	JoinChannel   *JoinChannel   `json:"join_channel,omitempty"`
	LeaveChannel  *LeaveChannel  `json:"leave_channel,omitempty"`
	RouteMessage  *RouteMessage  `json:"route_message,omitempty"`
	NodeConnected *NodeConnected `json:"node_connected,omitempty"`
}

// UserOnline announces a user registered on the sending node.
type UserOnline struct {
	Username string       `json:"username"`
	Node     model.NodeID `json:"node"`
}

// UserOffline announces a user unregistered anywhere on the overlay.
type UserOffline struct {
	Username string `json:"username"`
}

// JoinChannel announces a channel membership added on the sending node.
type JoinChannel struct {
	Username string `json:"username"`
	Channel  string `json:"channel"`
}

// LeaveChannel announces a channel membership removed on the sending node.
type LeaveChannel struct {
	Username string `json:"username"`
	Channel  string `json:"channel"`
}

// RouteMessage forwards a chat message for local handoff to the named
// sessions on the receiving node. The receiver never forwards it further.
type RouteMessage struct {
	Message model.Message `json:"message"`
	Targets []string      `json:"targets"`
}

// NodeConnected is an informational notice sent to a freshly connected peer,
// used for user-facing system notices only.
type NodeConnected struct {
	Node model.NodeID `json:"node"`
}

// Empty reports whether no variant is set.
func (e *Envelope) Empty() bool {
	return e.UserOnline == nil && e.UserOffline == nil && e.JoinChannel == nil &&
		e.LeaveChannel == nil && e.RouteMessage == nil && e.NodeConnected == nil
}

// WriteEnvelope writes one length-prefixed envelope to w.
func WriteEnvelope(w io.Writer, env *Envelope) error {
	if env.Empty() {
		return ErrEmptyEnvelope
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("wire: marshal envelope: %w", err)
	}
	return writeFrame(w, data)
}

// ReadEnvelope reads one length-prefixed envelope from r.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	data, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	env := &Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrDecode, err)
	}
	if env.Empty() {
		return nil, fmt.Errorf("%w: no variant set", ErrDecode)
	}
	return env, nil
}

func writeFrame(w io.Writer, data []byte) error {
	if len(data) > MaxEnvelopeSize {
		return ErrEnvelopeTooLarge
	}
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(data)))
	if _, err := w.Write(lenBuf); err != nil {
		return fmt.Errorf("wire: write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, fmt.Errorf("wire: read length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length > MaxEnvelopeSize {
		return nil, ErrEnvelopeTooLarge
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}
	return data, nil
}
