package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sciffer/beermqtt/internal/config"
	"github.com/sciffer/beermqtt/pkg/database"
	"github.com/sciffer/beermqtt/pkg/hives"
	"github.com/sciffer/beermqtt/pkg/models"
)

// FastHashParams keeps Argon2id cheap enough for tests
var FastHashParams = hives.HashParams{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// NewDB opens a migrated SQLite database in a temp dir that is removed when
// the test ends
func NewDB(t *testing.T) *database.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := database.NewDB(config.DatabaseConfig{Path: path}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// NewHives returns a hive service over db with fast hashing
func NewHives(db *database.DB, opts ...hives.Option) *hives.Service {
	opts = append([]hives.Option{hives.WithHashParams(FastHashParams)}, opts...)
	return hives.NewService(db, zap.NewNop(), opts...)
}

// CreateHive creates a hive with generated credentials
func CreateHive(t *testing.T, svc *hives.Service) *models.HiveCredentials {
	t.Helper()

	creds, err := svc.CreateHive(context.Background())
	require.NoError(t, err)
	return creds
}

// Batch builds a reading batch with string values
func Batch(date string, reads map[int]string) *models.ReadingBatch {
	batch := &models.ReadingBatch{Date: date}
	for sensor := 0; sensor <= 40; sensor++ {
		if v, ok := reads[sensor]; ok {
			batch.Reads = append(batch.Reads, models.Read{SensorID: sensor, Value: models.StringValue(v)})
		}
	}
	return batch
}
