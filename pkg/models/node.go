package models

import "time"

// NodeInfo represents a mesh radio node stored in the database. The node id
// is the stable external identifier; name and hardware model are captured on
// first sight and never overwritten by later packets.
type NodeInfo struct {
	NodeID    string    `db:"node_id"`
	NodeName  string    `db:"node_name"`
	LastHeard time.Time `db:"last_heard"`
	HwModel   string    `db:"hw_model"`

	// Latest observed coordinates, populated by the list accessors via a
	// join against the location history. Nil when the node has never
	// reported a position.
	Latitude  *float64 `db:"latitude"`
	Longitude *float64 `db:"longitude"`
}

// HasLocation returns true if the node has location information.
func (n *NodeInfo) HasLocation() bool {
	return n.Latitude != nil && n.Longitude != nil
}

// HasUser returns true if the node carries a display identity.
func (n *NodeInfo) HasUser() bool {
	return n.NodeName != ""
}
