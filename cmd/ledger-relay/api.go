package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/logger"
	"github.com/get-eventually/eventledger/relay"
	"github.com/get-eventually/eventledger/security"
	"github.com/get-eventually/eventledger/tenant"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type api struct {
	relay       *relay.Relay
	deadLetters relay.DeadLetterStore
	tracker     event.Tracker
	ready       Pinger
	tenants     security.Middleware
	logger      logger.Logger
}

type ledgerEvent struct {
	GlobalSequenceID int64     `json:"globalSequenceId"`
	Stream           string    `json:"stream"`
	SequenceNumber   int64     `json:"sequenceNumber"`
	Type             string    `json:"type"`
	Revision         string    `json:"revision"`
	RecordedAt       time.Time `json:"recordedAt"`
	CorrelationID    string    `json:"correlationId,omitempty"`
}

func (a api) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.StripSlashes)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/ready", a.readiness)

	r.Route("/relay", func(r chi.Router) {
		r.Get("/status", a.status)
		r.Get("/dead-letters", a.listDeadLetters)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.tenants.Handler)
		r.Get("/ledger/events", a.listEvents)
	})

	return r
}

func (a api) readiness(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready.Ping(r.Context()); err != nil {
			logger.Warn(a.logger, "Readiness check failed", logger.Err(err))
			http.Error(w, "not ready", http.StatusServiceUnavailable)

			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (a api) status(w http.ResponseWriter, r *http.Request) {
	status, err := a.relay.Status(r.Context())
	if err != nil {
		a.fail(w, "Failed to read relay status", err)
		return
	}

	a.respond(w, map[string]any{
		"name":         status.Name,
		"segment":      status.Segment.String(),
		"cursor":       status.Cursor.String(),
		"head":         status.Head,
		"lag":          status.Lag,
		"published":    status.Published,
		"deadLettered": status.DeadLettered,
		"running":      status.Running,
	})
}

func (a api) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	status, err := a.relay.Status(r.Context())
	if err != nil {
		a.fail(w, "Failed to read relay status", err)
		return
	}

	deadLetters, err := a.deadLetters.List(r.Context(), status.Name)
	if err != nil {
		a.fail(w, "Failed to list dead letters", err)
		return
	}

	a.respond(w, deadLetters)
}

// listEvents pages through the ledger of the tenant resolved by the
// security middleware, in global order.
func (a api) listEvents(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.IDFromContext(r.Context())
	if tenantID == "" {
		http.Error(w, "tenant is required", http.StatusBadRequest)
		return
	}

	after, err := queryInt(r, "after")
	if err != nil || after < 0 {
		http.Error(w, "invalid after", http.StatusBadRequest)
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil || limit < 0 {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}

	selector := event.TrackingSelector{After: after, TenantID: tenantID, Limit: int(limit)}

	events, err := event.StreamToSlice(r.Context(), func(ctx context.Context, stream event.StreamWrite) error {
		return a.tracker.StreamAll(ctx, stream, selector)
	})
	if err != nil {
		a.fail(w, "Failed to read the ledger", err)
		return
	}

	page := make([]ledgerEvent, 0, len(events))
	for _, evt := range events {
		page = append(page, ledgerEvent{
			GlobalSequenceID: evt.GlobalSequenceID,
			Stream:           evt.Name,
			SequenceNumber:   evt.SequenceNumber,
			Type:             evt.PayloadType(),
			Revision:         evt.PayloadRevision(),
			RecordedAt:       evt.RecordedAt,
			CorrelationID:    evt.Metadata.Get(event.MetadataKeyCorrelationID),
		})
	}

	a.respond(w, page)
}

func queryInt(r *http.Request, key string) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}

	return strconv.ParseInt(v, 10, 64)
}

func (a api) respond(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn(a.logger, "Failed to write response", logger.Err(err))
	}
}

func (a api) fail(w http.ResponseWriter, msg string, err error) {
	logger.Error(a.logger, msg, logger.Err(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
