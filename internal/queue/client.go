// Package queue publishes persistent work messages to named durable queues
// backed by Redis lists. Workers pop from the right end (BRPOP) so messages
// are consumed in publish order.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Durable queue names shared with the external workers.
const (
	Download      = "download"
	UserEditing   = "user_editing"
	AIProcess     = "ai_process"
	EditProcess   = "edit_process"
	TextToSpeech  = "text_to_speech"
	SpeechToAudio = "speech_to_audio"
)

// Names lists every queue declared at connect time.
var Names = []string{Download, UserEditing, AIProcess, EditProcess, TextToSpeech, SpeechToAudio}

const (
	registryKeySuffix = "registry"
	healthInterval    = 15 * time.Second
	publishAttempts   = 2
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// commander is the subset of *redis.Client the queue needs.
type commander interface {
	Ping(ctx context.Context) *redis.StatusCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
}

type Options struct {
	KeyPrefix  string
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Client owns the broker connection. Publish blocks until the supervisor
// reports the connection ready (or the caller's context ends).
type Client struct {
	rdb  commander
	opts Options

	mu       sync.Mutex
	state    State
	ready    chan struct{} // closed while state == StateReady
	declared map[string]bool

	lost     chan struct{}
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewClient(rdb commander, opts Options) *Client {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = opts.MinBackoff
	}
	return &Client{
		rdb:      rdb,
		opts:     opts,
		state:    StateDisconnected,
		ready:    make(chan struct{}),
		declared: make(map[string]bool),
		lost:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the reconnect supervisor.
func (c *Client) Start() {
	go c.supervise()
}

// Stop terminates the supervisor and waits for it to exit.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Key returns the Redis list key for a queue name.
func (c *Client) Key(queue string) string {
	return c.opts.KeyPrefix + queue
}

// Publish JSON-encodes payload and appends it to the named queue.
func (c *Client) Publish(ctx context.Context, queue string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", queue, err)
	}

	var lastErr error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		if err := c.awaitReady(ctx); err != nil {
			if lastErr != nil {
				return fmt.Errorf("publish to %s: %w (last error: %v)", queue, err, lastErr)
			}
			return fmt.Errorf("publish to %s: %w", queue, err)
		}

		if err := c.declare(ctx, queue); err != nil {
			lastErr = err
			c.markLost(err)
			continue
		}

		if err := c.rdb.LPush(ctx, c.Key(queue), body).Err(); err != nil {
			lastErr = err
			c.markLost(err)
			continue
		}

		log.Debug().Str("queue", queue).Int("bytes", len(body)).Msg("Published work message")
		return nil
	}
	return fmt.Errorf("publish to %s: %w", queue, lastErr)
}

func (c *Client) awaitReady(ctx context.Context) error {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stop:
		return fmt.Errorf("queue client stopped")
	}
}

// declare registers the queue name once per connection. SADD is idempotent.
func (c *Client) declare(ctx context.Context, queue string) error {
	c.mu.Lock()
	known := c.declared[queue]
	c.mu.Unlock()
	if known {
		return nil
	}

	if err := c.rdb.SAdd(ctx, c.Key(registryKeySuffix), queue).Err(); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}

	c.mu.Lock()
	c.declared[queue] = true
	c.mu.Unlock()
	return nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == s {
		return
	}
	switch {
	case s == StateReady:
		close(c.ready)
	case c.state == StateReady:
		c.ready = make(chan struct{})
		c.declared = make(map[string]bool)
	}
	c.state = s
}

// markLost tells the supervisor the connection looks broken.
func (c *Client) markLost(err error) {
	log.Warn().Err(err).Msg("Job queue connection lost")
	c.setState(StateDisconnected)
	select {
	case c.lost <- struct{}{}:
	default:
	}
}

func (c *Client) supervise() {
	defer close(c.done)

	backoff := c.opts.MinBackoff
	for {
		select {
		case <-c.stop:
			c.setState(StateDisconnected)
			return
		default:
		}

		c.setState(StateConnecting)
		if err := c.connect(); err != nil {
			c.setState(StateDisconnected)
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("Job queue connect failed")
			if !c.sleep(backoff) {
				return
			}
			backoff *= 2
			if backoff > c.opts.MaxBackoff {
				backoff = c.opts.MaxBackoff
			}
			continue
		}

		backoff = c.opts.MinBackoff
		c.setState(StateReady)
		log.Info().Int("queues", len(Names)).Msg("Job queue ready")

		if !c.watch() {
			return
		}
	}
}

func (c *Client) connect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	for _, name := range Names {
		if err := c.declare(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// watch blocks while the connection is healthy. It returns false on Stop.
func (c *Client) watch() bool {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			c.setState(StateDisconnected)
			return false
		case <-c.lost:
			return true
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := c.rdb.Ping(ctx).Err()
			cancel()
			if err != nil {
				c.markLost(err)
				<-c.lost
				return true
			}
		}
	}
}

func (c *Client) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.stop:
		return false
	case <-t.C:
		return true
	case <-c.lost:
		return true
	}
}
