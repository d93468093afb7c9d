package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	calls   atomic.Int32
	release chan struct{}
	started chan struct{}
	once    sync.Once
	ctxErr  chan error
}

func (r *blockingRunner) RunOnce(ctx context.Context, now time.Time) (PassReport, error) {
	r.calls.Add(1)
	r.once.Do(func() { close(r.started) })
	<-r.release
	if r.ctxErr != nil {
		r.ctxErr <- ctx.Err()
	}
	return PassReport{Due: 2, Cleaned: 2}, nil
}

type memLocker struct {
	mu       sync.Mutex
	held     map[string]string
	err      error
	released int
}

func newMemLocker() *memLocker { return &memLocker{held: map[string]string{}} }

func (l *memLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.held[key] = "token"
	return "token", true, nil
}

func (l *memLocker) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		l.released++
	}
	return nil
}

func TestTrigger_ConcurrentCallersShareOnePass(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{}), started: make(chan struct{})}
	lk := newMemLocker()
	s := NewRetentionScheduler(runner, lk, "0 0 * * *", time.Minute)

	var wg sync.WaitGroup
	results := make([]PassReport, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = s.Trigger(context.Background())
	}()
	<-runner.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = s.Trigger(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	close(runner.release)
	wg.Wait()

	assert.Equal(t, int32(1), runner.calls.Load())
	assert.Equal(t, 2, results[0].Cleaned)
	assert.Equal(t, 1, lk.released)
}

func TestTrigger_CallerCancelDoesNotAbortPass(t *testing.T) {
	runner := &blockingRunner{
		release: make(chan struct{}),
		started: make(chan struct{}),
		ctxErr:  make(chan error, 1),
	}
	lk := newMemLocker()
	s := NewRetentionScheduler(runner, lk, "0 0 * * *", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := s.Trigger(ctx)
		errc <- err
	}()
	<-runner.started

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(runner.release)
	assert.NoError(t, <-runner.ctxErr, "pass context survives the caller")
	assert.Eventually(t, func() bool {
		lk.mu.Lock()
		defer lk.mu.Unlock()
		return lk.released == 1
	}, time.Second, 10*time.Millisecond)
}

func TestTrigger_LockHeldElsewhere(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{}), started: make(chan struct{})}
	close(runner.release)
	lk := newMemLocker()
	lk.held[retentionLockKey] = "other-replica"

	s := NewRetentionScheduler(runner, lk, "0 0 * * *", time.Minute)
	_, err := s.Trigger(context.Background())

	assert.ErrorIs(t, err, ErrPassInProgress)
	assert.Zero(t, runner.calls.Load())
	assert.Equal(t, "other-replica", lk.held[retentionLockKey])
}

func TestTrigger_LockErrorSkipsPass(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{}), started: make(chan struct{})}
	lk := newMemLocker()
	lk.err = errors.New("redis: connection refused")

	s := NewRetentionScheduler(runner, lk, "0 0 * * *", time.Minute)
	_, err := s.Trigger(context.Background())

	require.Error(t, err)
	assert.Zero(t, runner.calls.Load())
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	s := NewRetentionScheduler(&blockingRunner{}, newMemLocker(), "every day", time.Minute)
	assert.Error(t, s.Start())
}

func TestStartStop(t *testing.T) {
	s := NewRetentionScheduler(&blockingRunner{}, newMemLocker(), "@daily", time.Minute)
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
