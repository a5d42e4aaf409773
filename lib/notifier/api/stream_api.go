package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/desain-gratis/order-notifier/delivery/helper"
	"github.com/desain-gratis/order-notifier/lib/notifier"
	"github.com/desain-gratis/order-notifier/lib/notifier/impl"
	"github.com/desain-gratis/order-notifier/repository/limiter"
	types "github.com/desain-gratis/order-notifier/types/http"
	"github.com/desain-gratis/order-notifier/types/notification"
)

const (
	ErrMissingParameters = "Missing required parameters: type, target, clientId"
	ErrInvalidType       = `Invalid type. Must be "kitchen" or "customer"`
)

type StreamConfig struct {
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	QueueSize         int
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		HeartbeatInterval: 30 * time.Second,
		WriteTimeout:      5 * time.Second,
		QueueSize:         impl.DefaultQueueSize,
	}
}

type api struct {
	registry notifier.Registry
	limiter  *limiter.Limiter
	cfg      StreamConfig
}

func NewStreamAPI(registry notifier.Registry, limiter *limiter.Limiter, cfg StreamConfig) *api {
	return &api{registry: registry, limiter: limiter, cfg: cfg}
}

func (c *api) Metrics(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	stat, ok := c.registry.(notifier.Metric)
	if !ok {
		http.Error(w, "registry implementation does not support metric query", http.StatusInternalServerError)
		return
	}

	helper.WriteJSON(w, http.StatusOK, stat.Metric())
}

// Subscribe opens one server-sent event stream for a kitchen or customer client.
//
//	GET /notifications/subscribe?type=kitchen&target=<restaurant id>&clientId=<id>
func (c *api) Subscribe(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	query := r.URL.Query()
	if !helper.HasRequiredFields(query, "type", "target", "clientId") {
		helper.SetPlainError(w, ErrMissingParameters, http.StatusBadRequest)
		return
	}

	subscriberType, ok := notification.ParseSubscriberType(query.Get("type"))
	if !ok {
		helper.SetPlainError(w, ErrInvalidType, http.StatusBadRequest)
		return
	}
	target := query.Get("target")
	clientID := query.Get("clientId")

	if !c.limiter.Allow(r.Context(), helper.ClientIP(r)) {
		helper.SetError(w, types.Error{
			HTTPCode: http.StatusTooManyRequests,
			Code:     "TOO_MANY_SUBSCRIBE_ATTEMPTS",
			Message:  "Too many subscribe attempts, retry later",
		}, http.StatusTooManyRequests)
		return
	}

	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	rc := http.NewResponseController(w)

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	write := func(frame []byte) error {
		if c.cfg.WriteTimeout > 0 {
			err := rc.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
		return rc.Flush()
	}

	confirm, err := dataFrame(notification.NewConnection(subscriberType, target, time.Now()))
	if err != nil {
		log.Err(err).Msgf("stream: failed to encode connection frame")
		return
	}
	if err := write(confirm); err != nil {
		log.Err(err).Msgf("stream: client %v gone before subscribe", clientID)
		return
	}

	queue := impl.NewQueue(clientID, c.cfg.QueueSize)
	defer queue.Close()

	sub := c.registry.Subscribe(clientID, subscriberType, target, queue.Publish)
	defer sub.Disconnect()

	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msgf("stream: client %v closed: %v", clientID, context.Cause(r.Context()))
			return
		case <-sub.Done():
			log.Warn().Msgf("stream: subscription of %v dropped by the hub, ending stream", clientID)
			return
		case <-heartbeat.C:
			if err := write(heartbeatFrame); err != nil {
				log.Err(err).Msgf("stream: heartbeat to %v failed", clientID)
				return
			}
			sub.Touch()
		case msg, ok := <-queue.Listen():
			if !ok {
				log.Warn().Msgf("stream: queue for %v closed, ending stream", clientID)
				return
			}

			frame, err := dataFrame(msg)
			if err != nil {
				log.Err(err).Msgf("stream: failed to encode %v", msg.OrderID)
				continue
			}
			if err := write(frame); err != nil {
				log.Err(err).Msgf("stream: write to %v failed", clientID)
				return
			}
			sub.Touch()
		}
	}
}

// Publish is a debug helper to broadcast directly; only reaches consumers inside the same process.
//
//	POST /notifications/publish?type=customer&target=<customer id>
func (c *api) Publish(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	query := r.URL.Query()
	subscriberType, ok := notification.ParseSubscriberType(query.Get("type"))
	if !ok || query.Get("target") == "" {
		helper.SetPlainError(w, ErrInvalidType, http.StatusBadRequest)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var n notification.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		helper.SetPlainError(w, "invalid notification payload", http.StatusBadRequest)
		return
	}
	if n.Timestamp == 0 {
		n.Timestamp = notification.Now()
	}
	if err := n.Validate(); err != nil {
		helper.SetPlainError(w, err.Error(), http.StatusBadRequest)
		return
	}

	sent := c.registry.Broadcast(r.Context(), n, subscriberType, query.Get("target"))

	helper.WriteJSON(w, http.StatusAccepted, map[string]int{"sent": sent})
}
