package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kabili207/mesh-chat-gateway/pkg/models"
)

// ErrDirectoryUnavailable indicates the backing store could not be reached.
// Callers log and drop the current event rather than retrying.
var ErrDirectoryUnavailable = errors.New("node directory unavailable")

// NodeIdentity carries the identity attributes observed for a node alongside
// the source packet's reported time. Name and hardware model only take effect
// on first sight of the node.
type NodeIdentity struct {
	NodeID    string
	NodeName  string
	HwModel   string
	LastHeard time.Time
}

// Location is an observed position. Nil fields were absent from the packet
// and are replaced with sentinel defaults on insert: altitude 0, battery
// level 100, latitude/longitude 0, snr 0.
type Location struct {
	Latitude     *float64
	Longitude    *float64
	Altitude     *float64
	BatteryLevel *float64
	RxSnr        *float64
}

// NodeDirectory provides database operations for the durable node record and
// its append-only history.
type NodeDirectory interface {
	// UpsertNode creates the node on first sight or bumps last_heard on an
	// existing one. Identity attributes are never overwritten.
	UpsertNode(ident NodeIdentity) (*models.NodeInfo, error)
	// AppendMessage resolves the node via upsert semantics, then appends an
	// immutable message record.
	AppendMessage(ident NodeIdentity, text string, observedAt time.Time) error
	// AppendLocation resolves the node via upsert semantics, then appends an
	// immutable location record.
	AppendLocation(ident NodeIdentity, loc Location, observedAt time.Time) error
	// ListNodesWithPosition returns nodes whose history includes a position,
	// with the latest coordinates joined in.
	ListNodesWithPosition() ([]*models.NodeInfo, error)
	// ListNodesWithUser further filters to nodes carrying a display name.
	ListNodesWithUser() ([]*models.NodeInfo, error)
}

type postgresNodeDirectory struct {
	db *sqlx.DB
}

// NewNodeDirectory creates a new node directory store.
func NewNodeDirectory(dbconn *sqlx.DB) NodeDirectory {
	return &postgresNodeDirectory{db: dbconn}
}

func wrapUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDirectoryUnavailable, op, err)
}

// GREATEST keeps last_heard monotonically non-decreasing even when packets
// arrive out of order, in a single indivisible statement.
var upsertNodeStmt = `
	INSERT INTO nodes (node_id, node_name, last_heard, hw_model)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (node_id)
	DO UPDATE SET last_heard = GREATEST(nodes.last_heard, EXCLUDED.last_heard)
	RETURNING node_id, node_name, last_heard, hw_model;`

func upsertNode(q sqlx.Queryer, ident NodeIdentity) (*models.NodeInfo, error) {
	var node models.NodeInfo
	err := sqlx.Get(q, &node, upsertNodeStmt,
		ident.NodeID, ident.NodeName, ident.LastHeard, ident.HwModel)
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// UpsertNode creates or refreshes the record for a node id.
func (s *postgresNodeDirectory) UpsertNode(ident NodeIdentity) (*models.NodeInfo, error) {
	node, err := upsertNode(s.db, ident)
	if err != nil {
		return nil, wrapUnavailable("upsert node", err)
	}
	return node, nil
}

// AppendMessage stores one observed text payload.
func (s *postgresNodeDirectory) AppendMessage(ident NodeIdentity, text string, observedAt time.Time) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return wrapUnavailable("append message", err)
	}
	defer tx.Rollback()

	node, err := upsertNode(tx, ident)
	if err != nil {
		return wrapUnavailable("append message", err)
	}

	stmt := `INSERT INTO messages (node_id, observed_at, message) VALUES ($1, $2, $3);`
	if _, err := tx.Exec(stmt, node.NodeID, observedAt, text); err != nil {
		return wrapUnavailable("append message", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapUnavailable("append message", err)
	}
	return nil
}

// AppendLocation stores one observed position report.
func (s *postgresNodeDirectory) AppendLocation(ident NodeIdentity, loc Location, observedAt time.Time) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return wrapUnavailable("append location", err)
	}
	defer tx.Rollback()

	node, err := upsertNode(tx, ident)
	if err != nil {
		return wrapUnavailable("append location", err)
	}

	lat, lon, alt, battery, snr := locationDefaults(loc)
	stmt := `
	INSERT INTO locations (node_id, observed_at, altitude, battery_level, latitude, longitude, rx_snr)
	VALUES ($1, $2, $3, $4, $5, $6, $7);`
	if _, err := tx.Exec(stmt, node.NodeID, observedAt, alt, battery, lat, lon, snr); err != nil {
		return wrapUnavailable("append location", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapUnavailable("append location", err)
	}
	return nil
}

// locationDefaults substitutes sentinel values for fields the packet did not
// carry, keeping the append total.
func locationDefaults(loc Location) (lat, lon, alt, battery, snr float64) {
	battery = 100
	if loc.Latitude != nil {
		lat = *loc.Latitude
	}
	if loc.Longitude != nil {
		lon = *loc.Longitude
	}
	if loc.Altitude != nil {
		alt = *loc.Altitude
	}
	if loc.BatteryLevel != nil {
		battery = *loc.BatteryLevel
	}
	if loc.RxSnr != nil {
		snr = *loc.RxSnr
	}
	return
}

var selectNodesWithPosition = `
	SELECT n.node_id, n.node_name, n.last_heard, n.hw_model, l.latitude, l.longitude
	FROM nodes n
	JOIN LATERAL (
		SELECT latitude, longitude
		FROM locations
		WHERE locations.node_id = n.node_id
		ORDER BY observed_at DESC, id DESC
		LIMIT 1
	) l ON true`

// ListNodesWithPosition returns all nodes that have at least one recorded
// position, with the most recent coordinates.
func (s *postgresNodeDirectory) ListNodesWithPosition() ([]*models.NodeInfo, error) {
	nodes := []*models.NodeInfo{}
	err := s.db.Select(&nodes, selectNodesWithPosition+";")
	if err == sql.ErrNoRows {
		return nodes, nil
	}
	if err != nil {
		return nil, wrapUnavailable("list nodes with position", err)
	}
	return nodes, nil
}

// ListNodesWithUser returns positioned nodes that also carry a display name.
func (s *postgresNodeDirectory) ListNodesWithUser() ([]*models.NodeInfo, error) {
	nodes := []*models.NodeInfo{}
	err := s.db.Select(&nodes, selectNodesWithPosition+" WHERE n.node_name <> '';")
	if err == sql.ErrNoRows {
		return nodes, nil
	}
	if err != nil {
		return nil, wrapUnavailable("list nodes with user", err)
	}
	return nodes, nil
}
