package radio

import (
	"sync"
	"time"
)

// NodeEntry is one node in the live snapshot.
type NodeEntry struct {
	ID        NodeID
	LastHeard time.Time
	RxSnr     *float64
	Position  *Position
	User      *NodeUser
}

// Clone returns a deep copy of the entry.
func (e *NodeEntry) Clone() *NodeEntry {
	if e == nil {
		return nil
	}
	c := NodeEntry{ID: e.ID, LastHeard: e.LastHeard}
	if e.RxSnr != nil {
		v := *e.RxSnr
		c.RxSnr = &v
	}
	c.Position = e.Position.Clone()
	if e.User != nil {
		u := *e.User
		c.User = &u
	}
	return &c
}

// NodeDB is the in-memory node directory owned by the radio connector. It is
// fed by observed packets and read through copy-on-read accessors, so readers
// never see a torn update.
type NodeDB struct {
	mu    sync.RWMutex
	nodes map[NodeID]*NodeEntry
}

func NewNodeDB() *NodeDB {
	return &NodeDB{nodes: make(map[NodeID]*NodeEntry)}
}

// Observe folds one decoded packet into the directory.
func (db *NodeDB) Observe(pkt Packet) {
	if pkt.From == "" || pkt.From.IsBroadcast() {
		return
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	entry, ok := db.nodes[pkt.From]
	if !ok {
		entry = &NodeEntry{ID: pkt.From}
		db.nodes[pkt.From] = entry
	}

	if pkt.RxTime.After(entry.LastHeard) {
		entry.LastHeard = pkt.RxTime
	}
	snr := pkt.RxSnr
	entry.RxSnr = &snr

	if pkt.Decoded == nil {
		return
	}
	switch pkt.Decoded.Port {
	case PortPosition:
		if pkt.Decoded.Position != nil {
			entry.Position = pkt.Decoded.Position.Clone()
		}
	case PortNodeInfo:
		if pkt.Decoded.User != nil {
			u := *pkt.Decoded.User
			entry.User = &u
		}
	}
}

// Node returns a copy of the entry for id, or nil if unknown.
func (db *NodeDB) Node(id NodeID) *NodeEntry {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.nodes[id].Clone()
}

// Nodes returns copies of all known nodes.
func (db *NodeDB) Nodes() []*NodeEntry {
	db.mu.RLock()
	defer db.mu.RUnlock()

	entries := []*NodeEntry{}
	for _, e := range db.nodes {
		entries = append(entries, e.Clone())
	}
	return entries
}

// NodesWithPosition returns copies of all nodes that have reported a position.
func (db *NodeDB) NodesWithPosition() []*NodeEntry {
	db.mu.RLock()
	defer db.mu.RUnlock()

	entries := []*NodeEntry{}
	for _, e := range db.nodes {
		if e.Position == nil {
			continue
		}
		entries = append(entries, e.Clone())
	}
	return entries
}

// NodesWithUser returns copies of all nodes that have both a position and a
// display identity.
func (db *NodeDB) NodesWithUser() []*NodeEntry {
	db.mu.RLock()
	defer db.mu.RUnlock()

	entries := []*NodeEntry{}
	for _, e := range db.nodes {
		if e.Position == nil || e.User == nil {
			continue
		}
		entries = append(entries, e.Clone())
	}
	return entries
}
