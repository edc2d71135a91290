// Package discovery announces this node's presence and detects peers.
//
// Nodes announce themselves on a shared multicast group on a fixed port;
// there is no central rendezvous point. Every announcement heard for a
// non-self node is handed to the peer callback, which makes reconnection
// free: the transport's connect is idempotent, so re-announcing a node the
// transport already holds is a no-op, while a node whose earlier connect
// failed gets another attempt on the next announcement cycle.
package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/hebbarp/ahoy/pkg/model"
	"github.com/hebbarp/ahoy/pkg/wire"
)

// Default announcement schedule.
const (
	DefaultGroup        = "239.255.71.79:4567"
	DefaultInterval     = 30 * time.Second
	DefaultInitialDelay = 1 * time.Second
)

// PeerFunc is invoked for every announcement heard from another node.
type PeerFunc func(model.NodeInfo)

// Config holds the announcement schedule and group address.
type Config struct {
	Group        string        // multicast group "addr:port"
	Interval     time.Duration // announcement period
	InitialDelay time.Duration // delay before the first announcement
}

// DefaultConfig returns the standard announcement schedule.
func DefaultConfig() Config {
	return Config{
		Group:        DefaultGroup,
		Interval:     DefaultInterval,
		InitialDelay: DefaultInitialDelay,
	}
}

// Discovery is the announcement loop plus the set of peers heard so far.
// The set only grows; peers are never expired.
type Discovery struct {
	cfg     Config
	self    model.NodeID
	version string
	onPeer  PeerFunc

	conn  *net.UDPConn
	group *net.UDPAddr

	mu    sync.Mutex
	nodes map[model.NodeID]model.NodeInfo

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Discovery for the given node identity. onPeer may be nil.
func New(cfg Config, self model.NodeID, version string, onPeer PeerFunc) *Discovery {
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	return &Discovery{
		cfg:     cfg,
		self:    self,
		version: version,
		onPeer:  onPeer,
		nodes:   make(map[model.NodeID]model.NodeInfo),
		done:    make(chan struct{}),
	}
}

// Start joins the announcement group and begins the announce/listen loops.
// Failure to open the endpoint is fatal to this component; the caller
// decides whether the node runs on without automatic discovery.
func (d *Discovery) Start() error {
	group, err := net.ResolveUDPAddr("udp4", d.cfg.Group)
	if err != nil {
		return fmt.Errorf("discovery: resolve group %s: %w", d.cfg.Group, err)
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return fmt.Errorf("discovery: join group %s: %w", d.cfg.Group, err)
	}
	d.group = group
	d.conn = conn

	d.wg.Add(2)
	go d.announceLoop()
	go d.readLoop()

	slog.Info("discovery started", "group", d.cfg.Group, "interval", d.cfg.Interval)
	return nil
}

// ForceDiscovery sends one announcement immediately, outside the schedule.
func (d *Discovery) ForceDiscovery() {
	d.announce()
}

// Nodes returns every peer heard since startup, ordered by node ID.
func (d *Discovery) Nodes() []model.NodeInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.NodeInfo, 0, len(d.nodes))
	for _, info := range d.nodes {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return out
}

// Close stops the loops and releases the endpoint.
func (d *Discovery) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		if d.conn != nil {
			_ = d.conn.Close()
		}
		d.wg.Wait()
	})
}

func (d *Discovery) announceLoop() {
	defer d.wg.Done()

	select {
	case <-time.After(d.cfg.InitialDelay):
	case <-d.done:
		return
	}
	d.announce()

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.announce()
		case <-d.done:
			return
		}
	}
}

func (d *Discovery) announce() {
	payload, err := wire.EncodeAnnouncement(model.NodeInfo{
		Node:      d.self,
		Timestamp: time.Now().Unix(),
		Version:   d.version,
	})
	if err != nil {
		slog.Error("discovery: encode announcement", "err", err)
		return
	}
	if _, err := d.conn.WriteToUDP(payload, d.group); err != nil {
		select {
		case <-d.done:
		default:
			slog.Warn("discovery: announce failed", "err", err)
		}
	}
}

func (d *Discovery) readLoop() {
	defer d.wg.Done()

	buf := make([]byte, 2048)
	for {
		n, _, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-d.done:
				return
			default:
				slog.Warn("discovery: read failed", "err", err)
				continue
			}
		}
		d.handleAnnouncement(buf[:n])
	}
}

// handleAnnouncement records the announcing node and notifies the peer
// callback. Malformed payloads and self-announcements are dropped.
func (d *Discovery) handleAnnouncement(payload []byte) {
	info, err := wire.DecodeAnnouncement(payload)
	if err != nil {
		slog.Debug("discovery: dropping malformed announcement", "err", err)
		return
	}
	if info.Node == d.self {
		return
	}

	d.mu.Lock()
	_, known := d.nodes[info.Node]
	d.nodes[info.Node] = info
	d.mu.Unlock()

	if !known {
		slog.Info("discovered node", "node", info.Node, "version", info.Version)
	}
	if d.onPeer != nil {
		d.onPeer(info)
	}
}
