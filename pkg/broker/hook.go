package broker

import (
	"bytes"
	"context"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"go.uber.org/zap"

	"github.com/sciffer/beermqtt/pkg/ingest"
	"github.com/sciffer/beermqtt/pkg/metrics"
)

// Authenticator accepts or rejects connecting hives
type Authenticator interface {
	Authenticate(ctx context.Context, identifier, password string) error
}

// Ingester consumes published reading batches
type Ingester interface {
	Ingest(ctx context.Context, identity string, payload []byte) ingest.Result
}

// hiveHook binds connections to hive credentials and feeds the ingest topic
// into the pipeline. mochi calls OnPublish from the publishing client's read
// loop, so one hive's messages are handled one at a time and in order.
type hiveHook struct {
	mqtt.HookBase
	topic       string
	authTimeout time.Duration
	authn       Authenticator
	ingester    Ingester
	limiter     *hiveLimiter
	recorder    metrics.Recorder
	logger      *zap.Logger
}

func (h *hiveHook) ID() string {
	return "beermqtt-hives"
}

func (h *hiveHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
		mqtt.OnPublish,
		mqtt.OnDisconnect,
	}, []byte{b})
}

// OnConnectAuthenticate requires the MQTT username to be a hive identifier
// and the client id to match it
func (h *hiveHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	identifier := string(pk.Connect.Username)
	if identifier != "" && cl.ID != identifier {
		h.logger.Warn("authentication rejected",
			zap.String("hive", identifier),
			zap.String("client_id", cl.ID),
			zap.String("reason", "client id mismatch"))
		h.recorder.AuthAttempt(false)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.authTimeout)
	defer cancel()
	return h.authn.Authenticate(ctx, identifier, string(pk.Connect.Password)) == nil
}

// OnACLCheck lets hives publish anywhere but keeps the ingest topic private
func (h *hiveHook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	if write {
		return true
	}
	if topic == h.topic || topic == "#" {
		h.logger.Warn("subscription to ingest topic denied",
			zap.String("hive", string(cl.Properties.Username)),
			zap.String("topic", topic))
		return false
	}
	return true
}

func (h *hiveHook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	if pk.TopicName != h.topic {
		return pk, nil
	}

	identity := string(cl.Properties.Username)
	if !h.limiter.Allow(identity) {
		h.logger.Warn("dropping message, hive over rate limit",
			zap.String("hive", identity),
			zap.String("reason", string(ingest.ReasonRateLimited)))
		h.recorder.IngestResult(string(ingest.ReasonRateLimited))
		return pk, nil
	}

	h.ingester.Ingest(context.Background(), identity, pk.Payload)
	return pk, nil
}

func (h *hiveHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	// rate buckets stay with the identity, so a reconnect keeps its budget
	h.logger.Debug("hive disconnected",
		zap.String("hive", string(cl.Properties.Username)),
		zap.Bool("session_expired", expire),
		zap.Error(err))
}
