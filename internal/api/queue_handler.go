package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sungwon/queue-proxy/internal/logger"
	"github.com/sungwon/queue-proxy/internal/queue"
)

// publishRequest is the JSON body for publishing a message.
type publishRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// PublishHandler handles POST /api/v1/queues/{name}/messages.
// Backend failures are reported as a generic server error; internal
// transport detail is never exposed to clients.
func PublishHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queueName := chi.URLParam(r, "name")
		if queueName == "" {
			respondError(w, http.StatusBadRequest, "queue name is required")
			return
		}

		var req publishRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(req.Payload) == 0 {
			respondError(w, http.StatusBadRequest, "payload is required")
			return
		}

		var payload any
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			respondError(w, http.StatusBadRequest, "payload must be valid JSON")
			return
		}

		if err := svc.Publish(r.Context(), queueName, payload); err != nil {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Str("queue", queueName).Msg("publish failed")
			respondError(w, http.StatusInternalServerError, "failed to publish message")
			return
		}

		respondJSON(w, http.StatusAccepted, map[string]string{
			"status": "published",
			"queue":  queueName,
		})
	}
}

// SubscribeHandler handles POST /api/v1/queues/{name}/subscriptions.
// The subscription uses the service's default handler; a success response
// means consumption setup succeeded, not that any message was delivered.
func SubscribeHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queueName := chi.URLParam(r, "name")
		if queueName == "" {
			respondError(w, http.StatusBadRequest, "queue name is required")
			return
		}

		// The consumption loop outlives the request, so it must not die
		// with the request context.
		ctx := context.WithoutCancel(r.Context())
		if err := svc.Subscribe(ctx, queueName, nil); err != nil {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Str("queue", queueName).Msg("subscribe failed")
			respondError(w, http.StatusInternalServerError, "failed to subscribe to queue")
			return
		}

		respondJSON(w, http.StatusCreated, map[string]string{
			"status": "subscribed",
			"queue":  queueName,
		})
	}
}
