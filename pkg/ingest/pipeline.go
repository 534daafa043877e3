package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sciffer/beermqtt/pkg/database"
	"github.com/sciffer/beermqtt/pkg/metrics"
	"github.com/sciffer/beermqtt/pkg/models"
)

// DropReason says why a message was not stored
type DropReason string

const (
	ReasonInvalidPayload DropReason = "invalid-payload"
	ReasonUnknownOwner   DropReason = "unknown-owner"
	ReasonPersistence    DropReason = "persistence-failure"
	ReasonOverloaded     DropReason = "overloaded"
	ReasonRateLimited    DropReason = "rate-limited"
	ReasonInternal       DropReason = "internal-error"
)

// Result is the outcome of one message. Err carries the underlying cause of a drop.
type Result struct {
	Dropped bool
	Reason  DropReason
	Metric  *models.Metric
	Err     error
}

// OK reports whether the message was stored
func (r Result) OK() bool {
	return !r.Dropped
}

func drop(reason DropReason, err error) Result {
	return Result{Dropped: true, Reason: reason, Err: err}
}

// Validator turns a raw payload into a reading batch
type Validator interface {
	Validate(raw []byte) (*models.ReadingBatch, error)
}

// Store resolves owners and persists batches atomically
type Store interface {
	GetHive(ctx context.Context, identifier string) (*database.Hive, error)
	CreateMetric(ctx context.Context, hiveID string, batch *models.ReadingBatch) (*models.Metric, error)
}

// Notifier is told about every stored metric
type Notifier interface {
	Publish(identifier string, metric *models.Metric)
}

// Options tunes a Pipeline
type Options struct {
	// Timeout bounds waiting for a slot plus all store calls of one message
	Timeout time.Duration
	// MaxConcurrent bounds messages talking to the store at once
	MaxConcurrent int64
	Notifier      Notifier
}

// Pipeline validates, resolves the owner of, and stores inbound reading batches
type Pipeline struct {
	validator Validator
	store     Store
	notifier  Notifier
	recorder  metrics.Recorder
	sem       *semaphore.Weighted
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates a pipeline
func New(validator Validator, store Store, opts Options, recorder metrics.Recorder, logger *zap.Logger) *Pipeline {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 64
	}
	if recorder == nil {
		recorder = metrics.Noop()
	}
	return &Pipeline{
		validator: validator,
		store:     store,
		notifier:  opts.Notifier,
		recorder:  recorder,
		sem:       semaphore.NewWeighted(opts.MaxConcurrent),
		timeout:   opts.Timeout,
		logger:    logger,
	}
}

// Ingest handles one message published by the hive authenticated as
// identity. It never panics and never partially stores a batch; every
// failure becomes a logged drop.
func (p *Pipeline) Ingest(ctx context.Context, identity string, payload []byte) (res Result) {
	start := time.Now()
	log := p.logger.With(zap.String("hive", identity))

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while ingesting message", zap.Any("panic", r), zap.Stack("stack"))
			res = drop(ReasonInternal, fmt.Errorf("panic: %v", r))
		}
		outcome := metrics.OutcomeAccepted
		if res.Dropped {
			outcome = string(res.Reason)
		}
		p.recorder.IngestResult(outcome)
		p.recorder.ObserveIngestDuration(time.Since(start))
	}()

	batch, err := p.validator.Validate(payload)
	if err != nil {
		log.Warn("dropping invalid payload", zap.String("reason", string(ReasonInvalidPayload)), zap.Error(err))
		return drop(ReasonInvalidPayload, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		log.Warn("dropping message, ingestion saturated", zap.String("reason", string(ReasonOverloaded)), zap.Error(err))
		return drop(ReasonOverloaded, err)
	}
	defer p.sem.Release(1)

	hive, err := p.store.GetHive(ctx, identity)
	if errors.Is(err, database.ErrNotFound) {
		// authenticated connections should always resolve
		log.Error("dropping message from unknown owner", zap.String("reason", string(ReasonUnknownOwner)))
		return drop(ReasonUnknownOwner, err)
	}
	if err != nil {
		log.Error("failed to resolve hive, message dropped", zap.String("reason", string(ReasonPersistence)), zap.Error(err))
		return drop(ReasonPersistence, err)
	}

	metric, err := p.store.CreateMetric(ctx, hive.ID, batch)
	if errors.Is(err, database.ErrNotFound) {
		log.Warn("hive deleted while ingesting, message dropped", zap.String("reason", string(ReasonUnknownOwner)))
		return drop(ReasonUnknownOwner, err)
	}
	if err != nil {
		log.Error("failed to persist metric, message dropped", zap.String("reason", string(ReasonPersistence)), zap.Error(err))
		return drop(ReasonPersistence, err)
	}

	log.Debug("metric stored", zap.Int64("metric_id", metric.ID), zap.Int("reads", len(metric.Reads)))
	if p.notifier != nil {
		p.notifier.Publish(identity, metric)
	}
	return Result{Metric: metric}
}
