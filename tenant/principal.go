package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrTenantContextMismatch is returned when the authenticated principal
// and the explicit tenant context disagree on the tenant.
var ErrTenantContextMismatch = errors.New("tenant: principal and tenant context disagree")

// Principal is the verified identity of the caller, as established by the
// authentication layer. Principals are read-only.
type Principal interface {
	TenantID() string
	UserID() string
	Roles() []string
}

// Claims is a Principal built from verified token claims.
type Claims struct {
	Tenant  string
	Subject string
	Scopes  []string
}

// TenantID implements Principal.
func (c Claims) TenantID() string { return c.Tenant }

// UserID implements Principal.
func (c Claims) UserID() string { return c.Subject }

// Roles implements Principal.
func (c Claims) Roles() []string { return c.Scopes }

type principalKey struct{}

// WithPrincipal returns a context carrying the verified Principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the Principal carried by the context, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p != nil
}

// Force sets the tenant context regardless of the Principal. It is the only
// way to act on behalf of a tenant other than the principal's own.
func Force(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoKey{}, infoValue{info: info, set: true, forced: true})
}

// Bridge reconciles the Principal of the caller with the explicit tenant context.
type Bridge struct {
	// NewCorrelationID generates correlation ids for operations starting
	// without one. Defaults to random UUIDs.
	NewCorrelationID func() string
}

func (b Bridge) newCorrelationID() string {
	if b.NewCorrelationID != nil {
		return b.NewCorrelationID()
	}

	return uuid.NewString()
}

// Resolve returns a context carrying the effective tenant Info:
//   - with both a Principal and an explicit Info, they must agree on the tenant,
//     unless the Info was set through Force;
//   - with a Principal only, the Info is derived from it;
//   - with neither, the operation is a system one and no Info is returned.
func (b Bridge) Resolve(ctx context.Context) (context.Context, Info, error) {
	principal, hasPrincipal := PrincipalFromContext(ctx)
	info, hasInfo := FromContext(ctx)

	switch {
	case hasPrincipal && hasInfo:
		if principal.TenantID() != info.TenantID && !isForced(ctx) {
			return ctx, Info{}, fmt.Errorf("tenant.Bridge: principal tenant %q, context tenant %q, %w",
				principal.TenantID(), info.TenantID, ErrTenantContextMismatch)
		}

		if info.UserID == "" {
			info.UserID = principal.UserID()
		}

	case hasPrincipal:
		info = Info{TenantID: principal.TenantID(), UserID: principal.UserID()}

	case !hasInfo:
		return ctx, Info{}, nil
	}

	if info.CorrelationID == "" {
		info.CorrelationID = b.newCorrelationID()
	}

	if isForced(ctx) {
		return Force(ctx, info), info, nil
	}

	return WithInfo(ctx, info), info, nil
}
