package models

import "time"

// LocationRecord is one observed position report. Records are append-only and
// never mutated after insert.
type LocationRecord struct {
	ID           int64     `db:"id"`
	NodeID       *string   `db:"node_id"`
	Timestamp    time.Time `db:"observed_at"`
	Altitude     float64   `db:"altitude"`
	BatteryLevel float64   `db:"battery_level"`
	Latitude     float64   `db:"latitude"`
	Longitude    float64   `db:"longitude"`
	RxSnr        float64   `db:"rx_snr"`
}

// MessageRecord is one observed text payload. Append-only.
type MessageRecord struct {
	ID        int64     `db:"id"`
	NodeID    *string   `db:"node_id"`
	Timestamp time.Time `db:"observed_at"`
	Message   string    `db:"message"`
}
