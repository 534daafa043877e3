package api

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// LiveStream handles GET /hives/{identifier}/live. Each metric stored for the
// hive after the upgrade is sent as one JSON text message. The stream ends
// with a normal close frame when the hive is deleted.
func (h *Handler) LiveStream(w http.ResponseWriter, r *http.Request) {
	identifier := mux.Vars(r)["identifier"]

	if _, err := h.hives.GetHive(r.Context(), identifier); err != nil {
		h.respondError(w, 0, "hive not found", err)
		return
	}

	// subscribe first so nothing stored after a successful upgrade is missed
	metrics, cancel := h.feed.Subscribe(identifier)
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("hive", identifier), zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.logger.WithHive(identifier)
	log.Info("live stream attached")

	// the client never sends data; reading surfaces its close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case metric, ok := <-metrics:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "hive removed")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				log.Info("live stream closed, hive removed")
				return
			}
			data, err := json.Marshal(metric)
			if err != nil {
				log.Error("failed to encode metric", zap.Error(err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("live stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			log.Debug("live stream detached")
			return
		}
	}
}
