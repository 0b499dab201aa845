package subscription_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/get-eventually/eventledger/cursor"
	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/internal/account"
	"github.com/get-eventually/eventledger/logger"
	"github.com/get-eventually/eventledger/subscription"
	"github.com/get-eventually/eventledger/version"
)

type collector struct {
	mx     sync.Mutex
	events []event.Persisted
}

func (c *collector) Process(_ context.Context, evt event.Persisted) error {
	c.mx.Lock()
	defer c.mx.Unlock()

	c.events = append(c.events, evt)

	return nil
}

func (c *collector) ids() []int64 {
	c.mx.Lock()
	defer c.mx.Unlock()

	ids := make([]int64, 0, len(c.events))
	for _, evt := range c.events {
		ids = append(ids, evt.GlobalSequenceID)
	}

	return ids
}

type PullCatchUpSuite struct {
	suite.Suite

	store   *event.InMemoryStore
	cursors *cursor.InMemoryStore
}

func TestPullCatchUp(t *testing.T) {
	suite.Run(t, new(PullCatchUpSuite))
}

func (s *PullCatchUpSuite) SetupTest() {
	s.store = event.NewInMemoryStore()
	s.cursors = cursor.NewInMemoryStore()
}

func (s *PullCatchUpSuite) appendDeposits(tenantID, stream string, n int) {
	for i := 0; i < n; i++ {
		_, err := s.store.Append(context.Background(), event.StreamID{TenantID: tenantID, Name: stream}, version.Any,
			event.ToEnvelope(&account.MoneyWasDeposited{Amount: int64(i + 1)}))
		s.Require().NoError(err)
	}
}

func (s *PullCatchUpSuite) subscription(segment cursor.Segment) *subscription.PullCatchUp {
	return &subscription.PullCatchUp{
		SubscriptionName: s.T().Name(),
		Tracker:          s.store,
		Cursors:          s.cursors,
		Segment:          segment,
		PullEvery:        time.Millisecond,
		MaxInterval:      5 * time.Millisecond,
		BatchSize:        3,
		Logger:           logger.NewTest(s.T()),
	}
}

// run processes events until the collector has seen want events, then stops the runner.
func (s *PullCatchUpSuite) run(sub *subscription.PullCatchUp, c *collector, want int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runner := event.ProcessorRunner{
		Processor: event.ProcessorFunc(func(ctx context.Context, evt event.Persisted) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := c.Process(ctx, evt); err != nil {
				return err
			}

			if len(c.ids()) >= want {
				defer cancel()
			}

			return nil
		}),
		Subscription: sub,
		BufferSize:   1,
	}

	err := runner.Run(ctx)
	s.Require().True(err == nil || errors.Is(err, context.Canceled), "unexpected error: %v", err)
	s.Require().GreaterOrEqual(len(c.ids()), want)
}

func (s *PullCatchUpSuite) TestDeliversTheWholeLedgerInGlobalOrder() {
	s.appendDeposits("acme", "Account-1", 4)
	s.appendDeposits("globex", "Account-1", 3)

	c := new(collector)
	s.run(s.subscription(cursor.All), c, 7)

	s.Equal([]int64{1, 2, 3, 4, 5, 6, 7}, c.ids()[:7])
}

func (s *PullCatchUpSuite) TestResumesFromTheLastCheckpoint() {
	s.appendDeposits("acme", "Account-1", 5)

	first := new(collector)
	s.run(s.subscription(cursor.All), first, 2)

	checkpoint, err := s.cursors.Read(context.Background(), s.T().Name())
	s.Require().NoError(err)
	s.Require().GreaterOrEqual(checkpoint.GlobalSequenceID, int64(1))

	second := new(collector)
	s.run(s.subscription(cursor.All), second, int(5-checkpoint.GlobalSequenceID))

	s.Equal(checkpoint.GlobalSequenceID+1, second.ids()[0])
}

func (s *PullCatchUpSuite) TestSegmentsPartitionTheLedger() {
	for _, stream := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		s.appendDeposits("acme", stream, 2)
	}

	seen := make(map[int64]int)

	for index := 0; index < 3; index++ {
		segment := cursor.Segment{Index: index, Count: 3}
		owned := 0

		for _, stream := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
			if segment.Owns("acme", stream) {
				owned += 2
			}
		}

		if owned == 0 {
			continue
		}

		c := new(collector)
		sub := s.subscription(segment)
		sub.SubscriptionName = segment.String()
		s.run(sub, c, owned)

		for _, evt := range c.events {
			s.True(segment.Owns(evt.TenantID, evt.Name))
			seen[evt.GlobalSequenceID]++
		}
	}

	s.Len(seen, 16)

	for _, count := range seen {
		s.Equal(1, count)
	}
}

func (s *PullCatchUpSuite) TestStartFromLatestSkipsHistory() {
	s.appendDeposits("acme", "Account-1", 3)

	sub := s.subscription(cursor.All)
	sub.StartFromLatest = true

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.appendDeposits("acme", "Account-2", 1)
	}()

	c := new(collector)
	s.run(sub, c, 1)

	s.Equal([]int64{4}, c.ids())
}

func (s *PullCatchUpSuite) TestRejectsCheckpointsOfOtherSegments() {
	s.Require().NoError(s.cursors.Write(context.Background(), s.T().Name(), cursor.At(1).In(cursor.Segment{Index: 0, Count: 2})))

	err := s.subscription(cursor.All).Start(context.Background(), make(chan event.Persisted, 1))
	s.Error(err)
}
