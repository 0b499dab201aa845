package security

import "time"

// Config contains the tunables of the Validator.
type Config struct {
	// MaxLength is the maximum length of a tenant id.
	MaxLength int

	// Headers are the inbound header names a tenant id can be asserted with,
	// in priority order. The first non-blank one wins.
	Headers []string

	// RateLimit is the maximum number of validations per client in RateWindow.
	RateLimit  int
	RateWindow time.Duration

	// SwitchThreshold is the number of tenant switches by the same client
	// within AnomalyWindow that makes the client suspicious.
	SwitchThreshold int

	// HeaderRatioThreshold is the share of header-sourced assertions (out of
	// at least MinSamples) within AnomalyWindow that makes the client suspicious.
	// Only clients that also presented token claims in the window are scored,
	// so header-only clients are never flagged by it.
	//
	// The check is opt-in: zero, the default, disables it, and withDefaults
	// leaves it untouched.
	HeaderRatioThreshold float64
	MinSamples           int

	AnomalyWindow time.Duration

	// SuspicionLimit is the number of consecutive suspicious assertions
	// after which the client is rejected.
	SuspicionLimit int
}

// DefaultConfig returns the default Validator configuration.
func DefaultConfig() Config {
	return Config{
		MaxLength:            64,
		Headers:              []string{"X-Tenant-Id", "X-Tenant"},
		RateLimit:            100,
		RateWindow:           time.Minute,
		SwitchThreshold:      5,
		HeaderRatioThreshold: 0,
		MinSamples:           20,
		AnomalyWindow:        time.Minute,
		SuspicionLimit:       3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.MaxLength <= 0 {
		c.MaxLength = d.MaxLength
	}

	if len(c.Headers) == 0 {
		c.Headers = d.Headers
	}

	if c.RateLimit <= 0 {
		c.RateLimit = d.RateLimit
	}

	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}

	if c.SwitchThreshold <= 0 {
		c.SwitchThreshold = d.SwitchThreshold
	}

	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}

	if c.AnomalyWindow <= 0 {
		c.AnomalyWindow = d.AnomalyWindow
	}

	if c.SuspicionLimit <= 0 {
		c.SuspicionLimit = d.SuspicionLimit
	}

	return c
}
