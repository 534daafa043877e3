package broker

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"
	"go.uber.org/zap"

	"github.com/sciffer/beermqtt/internal/config"
	"github.com/sciffer/beermqtt/pkg/metrics"
)

const listenerID = "hives-tcp"

// Broker is the embedded MQTT server hives connect to
type Broker struct {
	server   *mqtt.Server
	listener *listeners.TCP
	logger   *zap.Logger

	closeOnce sync.Once
}

// New builds a broker listening on cfg.Address(). Nothing is accepted until Start.
func New(cfg config.MQTTConfig, authn Authenticator, ingester Ingester, recorder metrics.Recorder, logger *zap.Logger) (*Broker, error) {
	if recorder == nil {
		recorder = metrics.Noop()
	}

	server := mqtt.New(&mqtt.Options{
		Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})

	timeout := cfg.IngestTimeoutDuration()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	hook := &hiveHook{
		topic:       cfg.Topic,
		authTimeout: timeout,
		authn:       authn,
		ingester:    ingester,
		limiter:     newHiveLimiter(cfg.RateLimit, cfg.RateBurst),
		recorder:    recorder,
		logger:      logger,
	}
	if err := server.AddHook(hook, nil); err != nil {
		return nil, fmt.Errorf("failed to add broker hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: listenerID, Address: cfg.Address()})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Address(), err)
	}

	return &Broker{
		server:   server,
		listener: tcp,
		logger:   logger,
	}, nil
}

// Start begins accepting connections
func (b *Broker) Start() error {
	if err := b.server.Serve(); err != nil {
		return fmt.Errorf("failed to start broker: %w", err)
	}
	b.logger.Info("MQTT broker started", zap.String("address", b.Address()))
	return nil
}

// Address returns the address the broker listens on
func (b *Broker) Address() string {
	return b.listener.Address()
}

// Close disconnects every client and stops the listener
func (b *Broker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.server.Close()
		b.logger.Info("MQTT broker stopped")
	})
	return err
}
