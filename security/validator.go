// Package security validates the tenant ids asserted by inbound requests
// and messages before they are trusted as tenant context.
package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/get-eventually/eventledger/logger"
)

// Errors returned by the Validator when failing closed.
var (
	ErrRateLimitExceeded  = errors.New("security: rate limit exceeded")
	ErrSuspiciousActivity = errors.New("security: suspicious activity")
)

// Assertion is a raw tenant id asserted by a client.
type Assertion struct {
	TenantID string
	Source   Source
	ClientID string
}

// Option customizes a Validator.
type Option func(*Validator)

// WithLimiter replaces the default in-process Limiter, e.g. with a RedisLimiter.
func WithLimiter(l Limiter) Option {
	return func(v *Validator) { v.limiter = l }
}

// WithLogger sets the Logger used to audit rejections.
func WithLogger(l logger.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// WithClock replaces the clock used for anomaly scoring.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// Validator sanitizes, rate-limits and scores tenant assertions.
type Validator struct {
	cfg      Config
	limiter  Limiter
	detector *AnomalyDetector
	logger   logger.Logger
	now      func() time.Time
}

// NewValidator returns a Validator using the provided Config; zero fields
// take the values of DefaultConfig, except HeaderRatioThreshold which
// stays disabled unless set.
func NewValidator(cfg Config, options ...Option) *Validator {
	cfg = cfg.withDefaults()

	v := &Validator{
		cfg:      cfg,
		detector: NewAnomalyDetector(cfg),
		now:      time.Now,
	}

	for _, opt := range options {
		opt(v)
	}

	if v.limiter == nil {
		local := NewLocalLimiter(cfg.RateLimit, cfg.RateWindow)
		local.now = v.now
		v.limiter = local
	}

	return v
}

// Config returns the effective configuration.
func (v *Validator) Config() Config { return v.cfg }

func (v *Validator) reject(clientID string, err error, fields ...logger.Field) error {
	fields = append(fields, logger.With("client", clientID), logger.Err(err))
	logger.Warn(v.logger, "Tenant assertion rejected", fields...)

	return err
}

// Validate validates the asserted tenant id and returns the tenant id to trust.
//
// Header-sourced assertions are sanitized first; token claims are validated verbatim.
func (v *Validator) Validate(ctx context.Context, a Assertion) (string, error) {
	allowed, err := v.limiter.Allow(ctx, a.ClientID)
	if err != nil {
		return "", fmt.Errorf("security.Validator: rate limiter failed, %w", err)
	}

	if !allowed {
		return "", v.reject(a.ClientID, ErrRateLimitExceeded)
	}

	id := a.TenantID
	if a.Source == SourceHeader {
		id = Sanitize(id, v.cfg.MaxLength)
	}

	if err := CheckFormat(id, v.cfg.MaxLength); err != nil {
		return "", v.reject(a.ClientID, fmt.Errorf("security.Validator: %w", err))
	}

	verdict := v.detector.Observe(a.ClientID, id, a.Source, v.now())
	if verdict.Reject {
		return "", v.reject(a.ClientID, ErrSuspiciousActivity,
			logger.With("switches", verdict.Switches),
			logger.With("headerRatio", verdict.HeaderRatio),
		)
	}

	return id, nil
}

// ValidateTransition validates a tenant switch of the client from one tenant
// to another, recording it for anomaly scoring. An empty from, i.e. the
// first assertion of a session, is always permitted.
func (v *Validator) ValidateTransition(_ context.Context, from, to, clientID string) (string, error) {
	if err := CheckFormat(to, v.cfg.MaxLength); err != nil {
		return "", v.reject(clientID, fmt.Errorf("security.Validator: %w", err))
	}

	verdict := v.detector.ObserveSwitch(clientID, from, to, v.now())
	if from != "" && verdict.Reject {
		return "", v.reject(clientID, ErrSuspiciousActivity, logger.With("switches", verdict.Switches))
	}

	return to, nil
}
