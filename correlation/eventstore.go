package correlation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/tenant"
	"github.com/get-eventually/eventledger/version"
)

var _ event.Appender = EventStoreWrapper{}

// Generator is a function used to generate ids.
type Generator func() string

// EventStoreWrapper is an event.Appender wrapper that stamps the events
// appended with the tenant and correlation context of the operation.
//
// Without a tenant context the append is a system operation: it may only
// target system streams, and its events carry Origin: system instead of
// a Tenant-Id.
type EventStoreWrapper struct {
	event.Appender

	// Generator generates event and causation ids. Defaults to random UUIDs.
	Generator Generator
}

func (es EventStoreWrapper) generate() string {
	if es.Generator != nil {
		return es.Generator()
	}

	return uuid.NewString()
}

// Append stamps the events with the context metadata and forwards them
// to the wrapped event.Appender.
func (es EventStoreWrapper) Append(
	ctx context.Context,
	id event.StreamID,
	expected version.Check,
	events ...event.Envelope,
) (event.Commit, error) {
	info, hasTenant := tenant.FromContext(ctx)

	switch {
	case hasTenant && info.TenantID == "":
		return event.Commit{}, fmt.Errorf("correlation.EventStoreWrapper: %w",
			event.ValidationError{Field: "tenant", Reason: "tenant context carries a blank tenant"})

	case hasTenant && id.TenantID == "":
		id.TenantID = info.TenantID

	case hasTenant && id.TenantID != info.TenantID:
		return event.Commit{}, fmt.Errorf("correlation.EventStoreWrapper: stream tenant %q, context tenant %q, %w",
			id.TenantID, info.TenantID, tenant.ErrTenantContextMismatch)

	case !hasTenant && id.TenantID == "":
		id.TenantID = event.SystemTenantID

	case !hasTenant && id.TenantID != event.SystemTenantID:
		return event.Commit{}, fmt.Errorf("correlation.EventStoreWrapper: %w", event.ValidationError{
			Field:  "tenant",
			Reason: "operations without tenant context can only write system streams",
		})
	}

	causeID := es.generate()

	correlationID, ok := CorrelationID(ctx)
	if !ok {
		correlationID = causeID
	}

	causationID, ok := CausationID(ctx)
	if !ok {
		causationID = causeID
	}

	stamped := make([]event.Envelope, 0, len(events))

	for _, evt := range events {
		metadata := evt.Metadata.Clone().
			With(CorrelationIDKey, correlationID).
			With(CausationIDKey, causationID)

		if metadata.Get(EventIDKey) == "" {
			metadata = metadata.With(EventIDKey, es.generate())
		}

		if hasTenant {
			metadata = metadata.With(TenantIDKey, info.TenantID)

			if info.UserID != "" {
				metadata = metadata.With(UserIDKey, info.UserID)
			}
		} else {
			delete(metadata, TenantIDKey)
			metadata = metadata.With(OriginKey, event.OriginSystem)
		}

		stamped = append(stamped, event.Envelope{Message: evt.Message, Metadata: metadata})
	}

	return es.Appender.Append(ctx, id, expected, stamped...)
}
