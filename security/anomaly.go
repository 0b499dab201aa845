package security

import (
	"sync"
	"time"
)

// Source is where a tenant assertion comes from.
type Source int

// All the supported assertion sources.
const (
	// SourceToken is a cryptographically verified token claim.
	SourceToken Source = iota
	// SourceHeader is a free-form inbound header.
	SourceHeader
)

func (s Source) String() string {
	if s == SourceHeader {
		return "header"
	}

	return "token"
}

type clientActivity struct {
	lastTenant  string
	switches    []time.Time
	windowStart time.Time
	headers     int
	tokens      int
	total       int
	suspicious  int
	lastSeen    time.Time
}

// Verdict is the result of an anomaly evaluation.
type Verdict struct {
	Switches    int
	HeaderRatio float64
	Suspicious  bool
	// Reject is true once the client has been suspicious SuspicionLimit times in a row.
	Reject bool
}

// AnomalyDetector scores the assertions of each client, flagging rapid tenant
// switching and, when enabled, token-holding clients falling back to headers.
type AnomalyDetector struct {
	cfg Config

	mx           sync.Mutex
	clients      map[string]*clientActivity
	observations int
}

// NewAnomalyDetector returns an AnomalyDetector using the thresholds in cfg.
func NewAnomalyDetector(cfg Config) *AnomalyDetector {
	return &AnomalyDetector{
		cfg:     cfg.withDefaults(),
		clients: make(map[string]*clientActivity),
	}
}

func (d *AnomalyDetector) activity(clientID string, now time.Time) *clientActivity {
	if d.observations++; d.observations%sweepEvery == 0 {
		for id, a := range d.clients {
			if now.Sub(a.lastSeen) > d.cfg.AnomalyWindow {
				delete(d.clients, id)
			}
		}
	}

	a, ok := d.clients[clientID]
	if !ok {
		a = &clientActivity{windowStart: now}
		d.clients[clientID] = a
	}

	if now.Sub(a.windowStart) > d.cfg.AnomalyWindow {
		a.windowStart, a.headers, a.tokens, a.total = now, 0, 0, 0
	}

	cutoff := now.Add(-d.cfg.AnomalyWindow)
	kept := a.switches[:0]

	for _, at := range a.switches {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	a.switches = kept
	a.lastSeen = now

	return a
}

// Observe records an assertion of tenantID by the client and evaluates it.
func (d *AnomalyDetector) Observe(clientID, tenantID string, source Source, now time.Time) Verdict {
	d.mx.Lock()
	defer d.mx.Unlock()

	a := d.activity(clientID, now)

	if a.lastTenant != "" && a.lastTenant != tenantID {
		a.switches = append(a.switches, now)
	}

	a.lastTenant = tenantID
	a.total++

	if source == SourceHeader {
		a.headers++
	} else {
		a.tokens++
	}

	return d.evaluate(a)
}

// headerDowngrade reports whether a client holding token claims keeps
// asserting its tenant through headers instead.
func (d *AnomalyDetector) headerDowngrade(a *clientActivity, ratio float64) bool {
	return d.cfg.HeaderRatioThreshold > 0 &&
		a.tokens > 0 &&
		a.total >= d.cfg.MinSamples &&
		ratio >= d.cfg.HeaderRatioThreshold
}

// ObserveSwitch records an explicit tenant transition of the client.
func (d *AnomalyDetector) ObserveSwitch(clientID, from, to string, now time.Time) Verdict {
	d.mx.Lock()
	defer d.mx.Unlock()

	a := d.activity(clientID, now)

	if from != "" && from != to {
		a.switches = append(a.switches, now)
	}

	a.lastTenant = to

	return d.evaluate(a)
}

func (d *AnomalyDetector) evaluate(a *clientActivity) Verdict {
	v := Verdict{Switches: len(a.switches)}

	if a.total > 0 {
		v.HeaderRatio = float64(a.headers) / float64(a.total)
	}

	v.Suspicious = v.Switches >= d.cfg.SwitchThreshold || d.headerDowngrade(a, v.HeaderRatio)

	if v.Suspicious {
		a.suspicious++
	} else {
		a.suspicious = 0
	}

	v.Reject = a.suspicious >= d.cfg.SuspicionLimit

	return v
}
