package security

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether a client can perform one more validation.
type Limiter interface {
	Allow(ctx context.Context, clientID string) (bool, error)
}

const sweepEvery = 1024

var _ Limiter = new(LocalLimiter)

// LocalLimiter is an in-process Limiter keeping a rolling window log per client.
//
// A validation is allowed when fewer than limit validations of the client
// were allowed in the last window. Rejected attempts are not logged.
type LocalLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mx       sync.Mutex
	clients  map[string]*windowLog
	requests int
}

// windowLog is a ring buffer of the times of the allowed validations,
// oldest first.
type windowLog struct {
	times []time.Time
	head  int
	size  int
}

func (w *windowLog) prune(cutoff time.Time) {
	for w.size > 0 && !w.times[w.head].After(cutoff) {
		w.head = (w.head + 1) % len(w.times)
		w.size--
	}
}

func (w *windowLog) push(at time.Time) {
	w.times[(w.head+w.size)%len(w.times)] = at
	w.size++
}

func (w *windowLog) latest() time.Time {
	return w.times[(w.head+w.size-1)%len(w.times)]
}

// NewLocalLimiter returns a LocalLimiter allowing limit validations per window.
func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*windowLog),
	}
}

// Allow implements Limiter.
func (l *LocalLimiter) Allow(_ context.Context, clientID string) (bool, error) {
	if l.limit <= 0 {
		return false, nil
	}

	l.mx.Lock()
	defer l.mx.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	if l.requests++; l.requests%sweepEvery == 0 {
		l.sweep(cutoff)
	}

	log, ok := l.clients[clientID]
	if !ok {
		log = &windowLog{times: make([]time.Time, l.limit)}
		l.clients[clientID] = log
	}

	log.prune(cutoff)

	if log.size >= l.limit {
		return false, nil
	}

	log.push(now)

	return true, nil
}

// sweep forgets clients with no validation left in the window.
func (l *LocalLimiter) sweep(cutoff time.Time) {
	for clientID, log := range l.clients {
		if log.size == 0 || !log.latest().After(cutoff) {
			delete(l.clients, clientID)
		}
	}
}

var _ Limiter = RedisLimiter{}

// RedisLimiter is a Limiter shared by every replica, using a sorted set per
// client as an exact rolling window log.
type RedisLimiter struct {
	Client redis.UniversalClient
	Limit  int
	Window time.Duration
	Prefix string

	now func() time.Time
}

// NewRedisLimiter returns a RedisLimiter allowing limit validations per window.
func NewRedisLimiter(client redis.UniversalClient, limit int, window time.Duration) RedisLimiter {
	return RedisLimiter{
		Client: client,
		Limit:  limit,
		Window: window,
		Prefix: "ledger:ratelimit:",
		now:    time.Now,
	}
}

// Allow implements Limiter. Rejected attempts are not counted in the window.
func (l RedisLimiter) Allow(ctx context.Context, clientID string) (bool, error) {
	now := time.Now
	if l.now != nil {
		now = l.now
	}

	var (
		at     = now()
		key    = l.Prefix + clientID
		member = strconv.FormatInt(at.UnixMicro(), 10) + "-" + uuid.NewString()
	)

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(at.Add(-l.Window).UnixMicro(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMicro()), Member: member})
	count := pipe.ZCard(ctx, key)
	pipe.PExpire(ctx, key, l.Window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("security.RedisLimiter: failed to update window, %w", err)
	}

	if count.Val() <= int64(l.Limit) {
		return true, nil
	}

	if err := l.Client.ZRem(ctx, key, member).Err(); err != nil {
		return false, fmt.Errorf("security.RedisLimiter: failed to discard rejected attempt, %w", err)
	}

	return false, nil
}
