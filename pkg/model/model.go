// Package model defines the core domain types for ahoy.
package model

// NodeID identifies one node on the overlay. Its value is the node's
// advertised transport address (host:port), so resolving an ID and dialing
// it are the same operation.
type NodeID string

// NodeInfo describes a peer heard via a discovery announcement.
// Peers are deduplicated by Node, never by Timestamp.
type NodeInfo struct {
	Node      NodeID `json:"node"`
	Timestamp int64  `json:"timestamp"` // seconds since epoch, as announced
	Version   string `json:"version"`
}

// User is one entry in the replicated directory: a connected user, the node
// its session lives on, and the channels it has joined.
type User struct {
	Username string   `json:"username"`
	Node     NodeID   `json:"node"`
	Channels []string `json:"channels"`
}
