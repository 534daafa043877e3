package query

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sciffer/beermqtt/pkg/database"
	"github.com/sciffer/beermqtt/pkg/models"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// ErrInvalidLimit is returned for a limit outside 0..MaxLimit
var ErrInvalidLimit = errors.New("invalid limit")

// Store is the read side the query service needs
type Store interface {
	GetHive(ctx context.Context, identifier string) (*database.Hive, error)
	ListMetrics(ctx context.Context, hiveID string, limit int) ([]*models.Metric, error)
}

// Service serves stored reading batches
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a new query service
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// QueryReadings returns up to limit metrics of a hive, newest first, with
// their reads. A zero limit means DefaultLimit.
func (s *Service) QueryReadings(ctx context.Context, identifier string, limit int) ([]*models.Metric, error) {
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return nil, fmt.Errorf("%w: must be between 1 and %d", ErrInvalidLimit, MaxLimit)
	}

	hive, err := s.store.GetHive(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to get hive %s: %w", identifier, err)
	}

	metrics, err := s.store.ListMetrics(ctx, hive.ID, limit)
	if err != nil {
		s.logger.Error("failed to list metrics", zap.String("hive", identifier), zap.Error(err))
		return nil, fmt.Errorf("failed to list metrics for %s: %w", identifier, err)
	}
	return metrics, nil
}
