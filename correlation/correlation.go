// Package correlation enriches Domain Events with the tenant, user,
// correlation and causation ids of the operation that produced them,
// and restores that context on the consuming side.
package correlation

import (
	"context"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/message"
	"github.com/get-eventually/eventledger/tenant"
)

// Metadata keys written by the enricher.
const (
	EventIDKey       = event.MetadataKeyEventID
	TenantIDKey      = event.MetadataKeyTenantID
	UserIDKey        = event.MetadataKeyUserID
	CorrelationIDKey = event.MetadataKeyCorrelationID
	CausationIDKey   = event.MetadataKeyCausationID
	OriginKey        = event.MetadataKeyOrigin
)

type (
	correlationCtxKey struct{}
	causationCtxKey   struct{}
)

// WithCorrelationID sets the correlation id used for the events appended with ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationCtxKey{}, id)
}

// WithCausationID sets the causation id used for the events appended with ctx.
func WithCausationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, causationCtxKey{}, id)
}

// CorrelationID returns the correlation id of ctx: the explicit one if set,
// the one of the tenant context otherwise.
func CorrelationID(ctx context.Context) (string, bool) {
	if id, ok := ctx.Value(correlationCtxKey{}).(string); ok && id != "" {
		return id, true
	}

	if info, ok := tenant.FromContext(ctx); ok && info.CorrelationID != "" {
		return info.CorrelationID, true
	}

	return "", false
}

// CausationID returns the causation id set in ctx, if any.
func CausationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(causationCtxKey{}).(string)
	return id, ok && id != ""
}

// ContextFromMetadata restores the context of the operation that produced
// an event with the provided metadata: the tenant context (explicitly unset
// for system events), the correlation id, and the event id as causation id.
func ContextFromMetadata(ctx context.Context, md message.Metadata) context.Context {
	correlationID := md.Get(CorrelationIDKey)

	if tenantID := md.Get(TenantIDKey); tenantID != "" {
		ctx = tenant.WithInfo(ctx, tenant.Info{
			TenantID:      tenantID,
			UserID:        md.Get(UserIDKey),
			CorrelationID: correlationID,
		})
	} else {
		ctx = tenant.WithoutInfo(ctx)
	}

	if correlationID != "" {
		ctx = WithCorrelationID(ctx, correlationID)
	}

	// Anything done while handling the event is caused by the event itself.
	if eventID := md.Get(EventIDKey); eventID != "" {
		ctx = WithCausationID(ctx, eventID)
	}

	return ctx
}
