package security

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/get-eventually/eventledger/logger"
	"github.com/get-eventually/eventledger/tenant"
)

// TenantHeader is the response header echoing the resolved tenant id.
const TenantHeader = "X-Tenant-Id"

// Middleware resolves the tenant context of inbound HTTP requests.
//
// The tenant id comes from the verified Principal in the request context,
// if any, or else from the first non-blank header configured in the Validator.
// The resolved tenant id is echoed back in the X-Tenant-Id response header.
type Middleware struct {
	Validator *Validator
	Bridge    tenant.Bridge
	Logger    logger.Logger

	// Required rejects requests that assert no tenant at all.
	Required bool
}

// Handler wraps next with tenant resolution.
func (m Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		assertion := Assertion{ClientID: clientID(r)}

		principal, hasPrincipal := tenant.PrincipalFromContext(ctx)

		switch {
		case hasPrincipal:
			assertion.TenantID, assertion.Source = principal.TenantID(), SourceToken
		default:
			assertion.TenantID, assertion.Source = m.fromHeaders(r), SourceHeader
		}

		if strings.TrimSpace(assertion.TenantID) == "" {
			if m.Required {
				http.Error(w, "tenant is required", http.StatusBadRequest)
				return
			}

			next.ServeHTTP(w, r)

			return
		}

		tenantID, err := m.Validator.Validate(ctx, assertion)
		if err != nil {
			http.Error(w, http.StatusText(statusOf(err)), statusOf(err))
			return
		}

		info := tenant.Info{TenantID: tenantID, CorrelationID: middleware.GetReqID(ctx)}
		if hasPrincipal {
			info.UserID = principal.UserID()
		}

		ctx, info, err = m.Bridge.Resolve(tenant.WithInfo(ctx, info))
		if err != nil {
			logger.Warn(m.Logger, "Tenant context rejected", logger.Err(err))
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)

			return
		}

		w.Header().Set(TenantHeader, info.TenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m Middleware) fromHeaders(r *http.Request) string {
	for _, name := range m.Validator.Config().Headers {
		if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
			return v
		}
	}

	return ""
}

func clientID(r *http.Request) string {
	if p, ok := tenant.PrincipalFromContext(r.Context()); ok && p.UserID() != "" {
		return "user:" + p.UserID()
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "addr:" + r.RemoteAddr
	}

	return "addr:" + host
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrSuspiciousActivity):
		return http.StatusForbidden
	case IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
