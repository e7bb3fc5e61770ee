// Package api defines the HTTP handlers business modules and clients use to
// request deliveries, pull their queued backlog, and acknowledge it.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sanushilshad/vitis-sub000/pkg/notify"
)

const (
	defaultBatchLimit = 50
	maxBatchLimit     = 500
)

// API holds the dependencies for the stateless HTTP handlers.
type API struct {
	notifier notify.Notifier
	outbox   notify.Outbox
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewAPI creates a new, stateless API handler.
func NewAPI(notifier notify.Notifier, outbox notify.Outbox, logger *slog.Logger) *API {
	return &API{
		notifier: notifier,
		outbox:   outbox,
		logger:   logger,
	}
}

// Wait blocks until background tasks (acknowledgment deletions) complete.
func (a *API) Wait() {
	a.wg.Wait()
}

// notifyRequest is the body of POST /api/notifications.
type notifyRequest struct {
	Target  notify.Identity `json:"target"`
	Action  string          `json:"actionType"`
	Data    json.RawMessage `json:"data"`
	Urgency string          `json:"urgency"`
}

// NotifyHandler is the HTTP face of the dispatch decision.
func (a *API) NotifyHandler(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.logger.Warn("Failed to decode notify request", "err", err)
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Target.IsZero() {
		writeJSONError(w, http.StatusBadRequest, "target identity is required")
		return
	}
	action, err := notify.ParseActionType(req.Action)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "unknown action type")
		return
	}
	urgency, err := notify.ParseUrgency(req.Urgency)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "unknown urgency")
		return
	}

	log := a.logger.With("key", string(req.Target.Key()), "action", action.String())

	if err := a.notifier.Notify(r.Context(), req.Target, action, req.Data, urgency); err != nil {
		// The only notify failure is a failed outbox enqueue; the caller can
		// retry without any cleanup.
		log.Error("Failed to dispatch notification", "err", err)
		writeJSONError(w, http.StatusServiceUnavailable, "notification could not be queued")
		return
	}

	log.Debug("Notification dispatched")
	writeJSON(w, http.StatusAccepted, nil)
}

// backlogResponse is the body of GET /api/notifications.
type backlogResponse struct {
	Notifications []*notify.QueuedNotification `json:"notifications"`
}

// BacklogHandler implements the "pull" side of the outbox for a client that
// prefers fetching over waiting for its WebSocket drain.
func (a *API) BacklogHandler(w http.ResponseWriter, r *http.Request) {
	id, err := notify.IdentityFromHeaders(r.Header)
	if err != nil {
		a.logger.Warn("BacklogHandler: no identity headers")
		writeJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	key := id.Key()

	limit := defaultBatchLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		val, err := strconv.Atoi(limitStr)
		if err != nil {
			a.logger.Warn("Invalid 'limit' parameter", "limit", limitStr)
			writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter, must be an integer")
			return
		}
		if val > maxBatchLimit {
			limit = maxBatchLimit
		} else if val > 0 {
			limit = val
		}
	}

	log := a.logger.With("key", string(key), "limit", limit)

	notifications, err := a.outbox.RetrieveBatch(r.Context(), key, limit)
	if err != nil {
		log.Error("Failed to retrieve backlog", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to retrieve notifications")
		return
	}

	log.Info("Retrieved backlog batch", "count", len(notifications))
	writeJSON(w, http.StatusOK, backlogResponse{Notifications: notifications})
}

// AcknowledgeHandler deletes delivered rows by ID. Deletion runs in the
// background so the client gets its 204 immediately.
func (a *API) AcknowledgeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := notify.IdentityFromHeaders(r.Header)
	if err != nil {
		a.logger.Warn("AcknowledgeHandler: no identity headers")
		writeJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	key := id.Key()

	var ackBody struct {
		NotificationIDs []string `json:"notificationIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&ackBody); err != nil {
		a.logger.Warn("Failed to decode ack body", "err", err, "key", string(key))
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if len(ackBody.NotificationIDs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	log := a.logger.With("key", string(key), "count", len(ackBody.NotificationIDs))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := a.outbox.DeleteDelivered(ctx, key, ackBody.NotificationIDs); err != nil {
			log.Error("Failed to delete acknowledged notifications", "err", err)
			return
		}
		log.Info("Acknowledged notifications deleted")
	}()

	w.WriteHeader(http.StatusNoContent)
}
