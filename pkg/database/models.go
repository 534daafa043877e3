package database

import (
	"database/sql"
	"time"

	"github.com/sciffer/beermqtt/pkg/models"
)

// Hive represents a hive row, including its password hash
type Hive struct {
	ID           string         `db:"id"`
	Identifier   string         `db:"identifier"`
	IP           sql.NullString `db:"ip"`
	PasswordHash string         `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastSeen     sql.NullTime   `db:"last_seen"`
}

// ToModel strips the password hash
func (h *Hive) ToModel() *models.Hive {
	hive := &models.Hive{
		ID:         h.ID,
		Identifier: h.Identifier,
		CreatedAt:  h.CreatedAt,
		UpdatedAt:  h.UpdatedAt,
	}
	if h.IP.Valid {
		ip := h.IP.String
		hive.IP = &ip
	}
	if h.LastSeen.Valid {
		seen := h.LastSeen.Time
		hive.LastSeen = &seen
	}
	return hive
}

// HiveUpdate lists the columns an edit may change. Nil fields are left alone;
// an empty IP clears it.
type HiveUpdate struct {
	Identifier   *string
	IP           *string
	PasswordHash *string
}

// metricReadRow is one joined metric/read row
type metricReadRow struct {
	MetricID   int64     `db:"metric_id"`
	RecordedAt string    `db:"recorded_at"`
	ReceivedAt time.Time `db:"received_at"`
	ReadID     int64     `db:"read_id"`
	SensorID   int       `db:"sensor_id"`
	Value      string    `db:"value"`
	Kind       string    `db:"kind"`
}

const hiveColumns = `id, identifier, ip, password_hash, created_at, updated_at, last_seen`
