package metrics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StoreCounter reports store-wide totals
type StoreCounter interface {
	CountHives(ctx context.Context) (int, error)
	CountMetrics(ctx context.Context) (int64, error)
}

// Collector periodically samples store totals into gauges
type Collector struct {
	store    StoreCounter
	recorder Recorder
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(store StoreCounter, recorder Recorder, interval time.Duration, logger *zap.Logger) *Collector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Collector{
		store:    store,
		recorder: recorder,
		interval: interval,
		stopChan: make(chan struct{}),
		logger:   logger,
	}
}

// Start starts the collection loop
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.collectLoop(ctx)
	}()
}

// Stop stops the collection loop and waits for it to exit
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
}

func (c *Collector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Collect immediately on start
	c.Collect(ctx)

	for {
		select {
		case <-ticker.C:
			c.Collect(ctx)
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Collect samples the store once
func (c *Collector) Collect(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.interval)
	defer cancel()

	if n, err := c.store.CountHives(ctx); err != nil {
		c.logger.Warn("failed to count hives", zap.Error(err))
	} else {
		c.recorder.SetHives(n)
	}

	if n, err := c.store.CountMetrics(ctx); err != nil {
		c.logger.Warn("failed to count metrics", zap.Error(err))
	} else {
		c.recorder.SetStoredMetrics(n)
	}
}
