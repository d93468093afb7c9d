package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ErrPassInProgress is returned when another replica holds the retention lock.
var ErrPassInProgress = errors.New("retention pass already in progress")

const retentionLockKey = "lock:retention"

type passRunner interface {
	RunOnce(ctx context.Context, now time.Time) (PassReport, error)
}

type locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// RetentionScheduler fires retention passes on a cron schedule or on demand.
// Passes never overlap: singleflight joins concurrent triggers in-process and
// a Redis lock keeps other replicas out.
type RetentionScheduler struct {
	collector passRunner
	locker    locker
	schedule  string
	lockTTL   time.Duration
	cron      *cron.Cron
	group     singleflight.Group
	now       func() time.Time
}

func NewRetentionScheduler(collector passRunner, lk locker, schedule string, lockTTL time.Duration) *RetentionScheduler {
	logger := cronLogger{}
	return &RetentionScheduler{
		collector: collector,
		locker:    lk,
		schedule:  schedule,
		lockTTL:   lockTTL,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
		),
		now: time.Now,
	}
}

func (s *RetentionScheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.lockTTL)
		defer cancel()

		if _, err := s.Trigger(ctx); err != nil {
			if errors.Is(err, ErrPassInProgress) {
				log.Info().Msg("Retention pass skipped, another run holds the lock")
				return
			}
			log.Error().Err(err).Msg("Scheduled retention pass failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention %q: %w", s.schedule, err)
	}

	s.cron.Start()
	log.Info().Str("schedule", s.schedule).Msg("Retention scheduler started")
	return nil
}

// Stop prevents new passes and waits for a running one, or for ctx.
func (s *RetentionScheduler) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("Retention pass still running at shutdown")
	}
}

// Trigger runs a pass now. Concurrent callers share the same pass, which is
// detached from any single caller's cancellation and bounded by the lock TTL.
// A caller whose ctx ends stops waiting; the pass keeps running.
func (s *RetentionScheduler) Trigger(ctx context.Context) (PassReport, error) {
	ch := s.group.DoChan("retention", func() (any, error) {
		passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lockTTL)
		defer cancel()
		return s.runLocked(passCtx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			log.Debug().Msg("Joined in-flight retention pass")
		}
		report, _ := res.Val.(PassReport)
		return report, res.Err
	case <-ctx.Done():
		log.Warn().Err(ctx.Err()).Msg("Stopped waiting for retention pass, pass continues")
		return PassReport{}, ctx.Err()
	}
}

func (s *RetentionScheduler) runLocked(ctx context.Context) (PassReport, error) {
	token, ok, err := s.locker.Acquire(ctx, retentionLockKey, s.lockTTL)
	if err != nil {
		return PassReport{}, fmt.Errorf("acquire retention lock: %w", err)
	}
	if !ok {
		return PassReport{}, ErrPassInProgress
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, retentionLockKey, token); err != nil {
			log.Warn().Err(err).Msg("Failed to release retention lock")
		}
	}()

	return s.collector.RunOnce(ctx, s.now())
}

type lockClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a single-instance Redis lock with a TTL.
type RedisLocker struct {
	rdb lockClient
}

func NewRedisLocker(rdb lockClient) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
}

// cronLogger routes cron's internal logging through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
