// Package tenant propagates the tenant context of an operation across
// synchronous calls, goroutines, pooled workers and service boundaries.
//
// The tenant context travels in a context.Context. Pooled workers hold it
// in a per-worker Carrier, so that a task never observes the tenant of the
// task that ran on the same worker before it.
package tenant

import "context"

// Info is the tenant context of an operation.
type Info struct {
	TenantID      string
	UserID        string
	CorrelationID string
}

type infoKey struct{}

type infoValue struct {
	info   Info
	set    bool
	forced bool
}

// WithInfo returns a context carrying the provided tenant Info.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoKey{}, infoValue{info: info, set: true})
}

// WithoutInfo returns a context where the tenant context is explicitly unset,
// hiding any Info carried by the parent context.
func WithoutInfo(ctx context.Context) context.Context {
	if _, ok := FromContext(ctx); !ok {
		return ctx
	}

	return context.WithValue(ctx, infoKey{}, infoValue{})
}

// FromContext returns the tenant Info carried by the context, if any.
func FromContext(ctx context.Context) (Info, bool) {
	v, ok := ctx.Value(infoKey{}).(infoValue)
	if !ok || !v.set {
		return Info{}, false
	}

	return v.info, true
}

// IDFromContext returns the tenant id carried by the context, or an empty string.
func IDFromContext(ctx context.Context) string {
	info, _ := FromContext(ctx)
	return info.TenantID
}

func isForced(ctx context.Context) bool {
	v, ok := ctx.Value(infoKey{}).(infoValue)
	return ok && v.set && v.forced
}
