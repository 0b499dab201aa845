package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/get-eventually/eventledger/cursor"
)

// GapPolicy decides what the Relay does with an event it could not publish.
type GapPolicy int

const (
	// GapPolicyHalt stops the Relay on the failing event, leaving the cursor
	// before it. Nothing is ever skipped: an operator has to intervene.
	GapPolicyHalt GapPolicy = iota

	// GapPolicySkip records the event as a DeadLetter and moves past it.
	GapPolicySkip
)

func (p GapPolicy) String() string {
	switch p {
	case GapPolicySkip:
		return "skip"
	default:
		return "halt"
	}
}

// ParseGapPolicy parses the text form of a GapPolicy: "halt" or "skip".
func ParseGapPolicy(s string) (GapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "halt":
		return GapPolicyHalt, nil
	case "skip":
		return GapPolicySkip, nil
	default:
		return GapPolicyHalt, fmt.Errorf("relay.ParseGapPolicy: unknown gap policy %q", s)
	}
}

// Default values of the Relay Options.
const (
	DefaultName           = "outbox-relay"
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 10 * time.Second
)

// Options configures a Relay.
type Options struct {
	// Name identifies the Relay cursor; relays of different segments
	// get the segment appended to it.
	Name string

	// MaxAttempts is the number of publish attempts per event.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	GapPolicy GapPolicy

	// Segment is the shard of the ledger relayed by this instance.
	Segment cursor.Segment

	BatchSize       int
	PullEvery       time.Duration
	MaxPullInterval time.Duration

	// StartFromLatest makes a Relay with no cursor skip the existing ledger.
	StartFromLatest bool

	// PublishRate caps the events published per second, with bursts of
	// PublishBurst. Zero publishes as fast as the Publisher acknowledges.
	PublishRate  float64
	PublishBurst int
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = DefaultName
	}

	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}

	if o.InitialBackoff <= 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}

	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}

	if o.PublishRate > 0 && o.PublishBurst <= 0 {
		o.PublishBurst = 1
	}

	return o
}

// ConsumerName returns the name the Relay cursor is stored under.
func (o Options) ConsumerName() string {
	o = o.withDefaults()

	if segment := o.Segment.String(); segment != "" {
		return o.Name + "@" + segment
	}

	return o.Name
}
