package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu            sync.Mutex
	pingFailures  int
	lpushFailures int
	pings         int
	pushed        map[string][]string
	registry      map[string]bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{pushed: map[string][]string{}, registry: map[string]bool{}}
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	if f.pingFailures > 0 {
		f.pingFailures--
		return redis.NewStatusResult("", errors.New("connection refused"))
	}
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lpushFailures > 0 {
		f.lpushFailures--
		return redis.NewIntResult(0, errors.New("broken pipe"))
	}
	for _, v := range values {
		f.pushed[key] = append(f.pushed[key], string(v.([]byte)))
	}
	return redis.NewIntResult(int64(len(f.pushed[key])), nil)
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		f.registry[key+"|"+m.(string)] = true
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) messages(key string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pushed[key]...)
}

func newTestClient(t *testing.T, rdb *fakeRedis) *Client {
	t.Helper()
	c := NewClient(rdb, Options{KeyPrefix: "queue:", MinBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond})
	c.Start()
	t.Cleanup(c.Stop)
	return c
}

func TestPublish_WaitsForReconnect(t *testing.T) {
	rdb := newFakeRedis()
	rdb.pingFailures = 3
	c := newTestClient(t, rdb)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.Publish(ctx, Download, map[string]string{"videoId": "v1", "url": "https://example.com/a"})
	require.NoError(t, err)

	msgs := rdb.messages("queue:download")
	require.Len(t, msgs, 1)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(msgs[0]), &decoded))
	assert.Equal(t, "https://example.com/a", decoded["url"])
	assert.Equal(t, StateReady, c.State())
}

func TestPublish_DeclaresDurableQueuesOnConnect(t *testing.T) {
	rdb := newFakeRedis()
	c := newTestClient(t, rdb)

	require.NoError(t, c.Publish(context.Background(), EditProcess, map[string]string{"videoId": "v1"}))

	rdb.mu.Lock()
	defer rdb.mu.Unlock()
	for _, name := range Names {
		assert.True(t, rdb.registry["queue:registry|"+name], "queue %s not declared", name)
	}
}

func TestPublish_RetriesAfterLostConnection(t *testing.T) {
	rdb := newFakeRedis()
	rdb.lpushFailures = 1
	c := newTestClient(t, rdb)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, c.Publish(ctx, AIProcess, map[string]int{"file_index": 0}))
	assert.Len(t, rdb.messages("queue:ai_process"), 1)
}

func TestPublish_GivesUpWhenContextEnds(t *testing.T) {
	rdb := newFakeRedis()
	rdb.pingFailures = 1 << 30
	c := newTestClient(t, rdb)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := c.Publish(ctx, Download, map[string]string{"videoId": "v1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, rdb.messages("queue:download"))
	assert.NotEqual(t, StateReady, c.State())
}

func TestPublish_RejectsUnencodablePayload(t *testing.T) {
	c := NewClient(newFakeRedis(), Options{})
	err := c.Publish(context.Background(), Download, make(chan int))
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "ready", StateReady.String())
}
