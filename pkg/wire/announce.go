package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hebbarp/ahoy/pkg/model"
)

// AnnouncementType tags discovery datagrams so stray traffic on the
// announcement port is rejected cheaply.
const AnnouncementType = "ahoy_discovery"

var ErrBadAnnouncement = errors.New("wire: bad announcement")

// Announcement is one discovery datagram. A single UDP payload, no framing.
type Announcement struct {
	Type      string       `json:"type"`
	Node      model.NodeID `json:"node"`
	Timestamp int64        `json:"timestamp"`
	Version   string       `json:"version"`
}

// EncodeAnnouncement serializes an announcement for the given node.
func EncodeAnnouncement(info model.NodeInfo) ([]byte, error) {
	a := Announcement{
		Type:      AnnouncementType,
		Node:      info.Node,
		Timestamp: info.Timestamp,
		Version:   info.Version,
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal announcement: %w", err)
	}
	return data, nil
}

// DecodeAnnouncement parses and validates a discovery datagram. Payloads
// with the wrong type tag or a blank node are rejected.
func DecodeAnnouncement(data []byte) (model.NodeInfo, error) {
	var a Announcement
	if err := json.Unmarshal(data, &a); err != nil {
		return model.NodeInfo{}, fmt.Errorf("%w: %v", ErrBadAnnouncement, err)
	}
	if a.Type != AnnouncementType {
		return model.NodeInfo{}, fmt.Errorf("%w: unexpected type %q", ErrBadAnnouncement, a.Type)
	}
	if strings.TrimSpace(string(a.Node)) == "" {
		return model.NodeInfo{}, fmt.Errorf("%w: missing node", ErrBadAnnouncement)
	}
	return model.NodeInfo{Node: a.Node, Timestamp: a.Timestamp, Version: a.Version}, nil
}
