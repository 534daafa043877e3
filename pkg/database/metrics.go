package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sciffer/beermqtt/pkg/models"
)

// CreateMetric stores a batch and all of its reads in one transaction. Either
// everything is written or nothing is.
func (db *DB) CreateMetric(ctx context.Context, hiveID string, batch *models.ReadingBatch) (*models.Metric, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, classify("begin metric", err)
	}
	defer func() { _ = tx.Rollback() }()

	metric := &models.Metric{
		Date:       batch.Date,
		ReceivedAt: time.Now().UTC(),
		Reads:      make([]models.Read, 0, len(batch.Reads)),
	}

	err = tx.QueryRowxContext(ctx,
		`INSERT INTO metrics (hive_id, recorded_at, received_at) VALUES ($1, $2, $3) RETURNING id`,
		hiveID, metric.Date, metric.ReceivedAt,
	).Scan(&metric.ID)
	if err != nil {
		return nil, classify("insert metric", err)
	}

	for i, read := range batch.Reads {
		var readID int64
		err = tx.QueryRowxContext(ctx,
			`INSERT INTO reads (metric_id, sensor_id, value, kind) VALUES ($1, $2, $3, $4) RETURNING id`,
			metric.ID, read.SensorID, read.Value.String(), string(read.Value.Kind()),
		).Scan(&readID)
		if err != nil {
			return nil, classify(fmt.Sprintf("insert read %d", i), err)
		}
		metric.Reads = append(metric.Reads, models.Read{
			ID:       readID,
			SensorID: read.SensorID,
			Value:    read.Value,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, classify("commit metric", err)
	}
	return metric, nil
}

// ListMetrics returns up to limit metrics of a hive, newest insertion first,
// each with its reads in submission order
func (db *DB) ListMetrics(ctx context.Context, hiveID string, limit int) ([]*models.Metric, error) {
	query := `
		SELECT m.id AS metric_id, m.recorded_at, m.received_at,
		       r.id AS read_id, r.sensor_id, r.value, r.kind
		FROM (
			SELECT id, recorded_at, received_at FROM metrics
			WHERE hive_id = $1
			ORDER BY id DESC
			LIMIT $2
		) m
		JOIN reads r ON r.metric_id = m.id
		ORDER BY m.id DESC, r.id ASC
	`
	rows := []metricReadRow{}
	if err := db.SelectContext(ctx, &rows, query, hiveID, limit); err != nil {
		return nil, classify("list metrics", err)
	}

	metrics := []*models.Metric{}
	var current *models.Metric
	for _, row := range rows {
		if current == nil || current.ID != row.MetricID {
			current = &models.Metric{
				ID:         row.MetricID,
				Date:       row.RecordedAt,
				ReceivedAt: row.ReceivedAt,
			}
			metrics = append(metrics, current)
		}
		current.Reads = append(current.Reads, models.Read{
			ID:       row.ReadID,
			SensorID: row.SensorID,
			Value:    models.NewValue(row.Value, models.ValueKind(row.Kind)),
		})
	}
	return metrics, nil
}

// CountMetrics returns the number of stored metrics across all hives
func (db *DB) CountMetrics(ctx context.Context) (int64, error) {
	var n int64
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM metrics`); err != nil {
		return 0, classify("count metrics", err)
	}
	return n, nil
}
