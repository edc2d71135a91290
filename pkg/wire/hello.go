package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hebbarp/ahoy/pkg/model"
)

var ErrInvalidHello = errors.New("wire: invalid hello")

// Hello is exchanged once in each direction when a peer link is established.
// Digest proves knowledge of the cluster secret, bound to the sender's node
// identity.
type Hello struct {
	Node    model.NodeID `json:"node"`
	Version string       `json:"version"`
	Digest  string       `json:"digest"`
}

// WriteHello writes one length-prefixed hello to w.
func WriteHello(w io.Writer, h *Hello) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("wire: marshal hello: %w", err)
	}
	return writeFrame(w, data)
}

// ReadHello reads one length-prefixed hello from r.
func ReadHello(r io.Reader) (*Hello, error) {
	data, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	h := &Hello{}
	if err := json.Unmarshal(data, h); err != nil {
		return nil, fmt.Errorf("wire: unmarshal hello: %w", err)
	}
	if strings.TrimSpace(string(h.Node)) == "" || h.Digest == "" {
		return nil, ErrInvalidHello
	}
	return h, nil
}
