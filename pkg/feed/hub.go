package feed

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sciffer/beermqtt/pkg/models"
)

// Hub fans freshly stored metrics out to live subscribers of a hive.
// Delivery is best effort: a subscriber that falls behind misses metrics
// rather than slowing ingestion down.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	buffer int
	logger *zap.Logger
}

type subscription struct {
	ch chan *models.Metric
}

// NewHub creates a hub whose subscriber channels hold buffer metrics
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer < 1 {
		buffer = 16
	}
	return &Hub{
		subs:   make(map[string]map[*subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe returns a channel of metrics for identifier and a cancel func.
// The channel is closed by cancel or when the hive is closed.
func (h *Hub) Subscribe(identifier string) (<-chan *models.Metric, func()) {
	sub := &subscription{ch: make(chan *models.Metric, h.buffer)}

	h.mu.Lock()
	if h.subs[identifier] == nil {
		h.subs[identifier] = make(map[*subscription]struct{})
	}
	h.subs[identifier][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { h.remove(identifier, sub) })
	}
	return sub.ch, cancel
}

// Publish delivers metric to every current subscriber of identifier
func (h *Hub) Publish(identifier string, metric *models.Metric) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[identifier] {
		select {
		case sub.ch <- metric:
		default:
			h.logger.Debug("live subscriber lagging, metric skipped",
				zap.String("hive", identifier),
				zap.Int64("metric_id", metric.ID))
		}
	}
}

// CloseHive ends every subscription of identifier, e.g. after it was deleted
func (h *Hub) CloseHive(identifier string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[identifier] {
		close(sub.ch)
	}
	delete(h.subs, identifier)
}

// Subscribers returns the number of live subscribers of identifier
func (h *Hub) Subscribers(identifier string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[identifier])
}

func (h *Hub) remove(identifier string, sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subs[identifier]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		// already closed by CloseHive
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(h.subs, identifier)
	}
}
