package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/query-router-agent/internal/cache"
	"github.com/example/query-router-agent/internal/telemetry"
)

// Middleware decorates a Client.
type Middleware func(Client) Client

// Chain applies middlewares so that the first one is the outermost.
func Chain(c Client, mws ...Middleware) Client {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			c = mws[i](c)
		}
	}
	return c
}

// Retrying retries transient provider failures (timeouts, 408, 429, 5xx)
// with exponential backoff starting at 500ms.
func Retrying(attempts int) Middleware {
	if attempts < 1 {
		attempts = 1
	}
	return func(next Client) Client {
		return &retryingClient{next: next, attempts: attempts, sleep: sleepCtx}
	}
}

type retryingClient struct {
	next     Client
	attempts int
	sleep    func(ctx context.Context, d time.Duration) error
}

func (c *retryingClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	return c.do(ctx, func() (string, error) { return c.next.GenerateText(ctx, prompt) })
}

func (c *retryingClient) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	return c.do(ctx, func() (string, error) { return c.next.GenerateJSON(ctx, prompt) })
}

// GenerateTextStream is not retried: deltas may already have been delivered.
func (c *retryingClient) GenerateTextStream(ctx context.Context, prompt string, onDelta func(chunk string) error) error {
	_, err := Stream(ctx, c.next, prompt, onDelta)
	return err
}

func (c *retryingClient) do(ctx context.Context, call func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		out, err := call()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == c.attempts-1 {
			break
		}
		if err := c.sleep(ctx, backoff(attempt)); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 408 || se.Code == 429 || (se.Code >= 500 && se.Code <= 599)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func backoff(i int) time.Duration {
	return time.Duration(500*(1<<i)) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RateLimited blocks callers until the shared limiter admits the request.
// rps <= 0 disables limiting.
func RateLimited(rps float64, burst int) Middleware {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next Client) Client {
		return &limitedClient{next: next, limiter: lim}
	}
}

type limitedClient struct {
	next    Client
	limiter *rate.Limiter
}

func (c *limitedClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return c.next.GenerateText(ctx, prompt)
}

func (c *limitedClient) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return c.next.GenerateJSON(ctx, prompt)
}

func (c *limitedClient) GenerateTextStream(ctx context.Context, prompt string, onDelta func(chunk string) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := Stream(ctx, c.next, prompt, onDelta)
	return err
}

// Cached memoizes free-form completions in store. JSON completions are never
// cached: the evaluator must see a fresh judgement on every step. Store
// failures fall through to the provider and are logged on logger; a nil logger
// logs through clue.
func Cached(store cache.Store, ttl time.Duration, logger telemetry.Logger) Middleware {
	if store == nil {
		return nil
	}
	if logger == nil {
		logger = telemetry.ClueLogger{}
	}
	return func(next Client) Client {
		return &cachedClient{next: next, store: store, ttl: ttl, log: logger}
	}
}

type cachedClient struct {
	next  Client
	store cache.Store
	ttl   time.Duration
	log   telemetry.Logger
}

func (c *cachedClient) lookup(ctx context.Context, key string) (string, bool) {
	v, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn(ctx, "completion cache read failed", "key", key, "err", err)
		return "", false
	}
	return v, ok
}

func (c *cachedClient) remember(ctx context.Context, key, out string) {
	if err := c.store.Set(ctx, key, out, c.ttl); err != nil {
		c.log.Warn(ctx, "completion cache write failed", "key", key, "err", err)
	}
}

func (c *cachedClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	key := cacheKey(prompt)
	if v, ok := c.lookup(ctx, key); ok {
		return v, nil
	}
	out, err := c.next.GenerateText(ctx, prompt)
	if err != nil {
		return "", err
	}
	c.remember(ctx, key, out)
	return out, nil
}

func (c *cachedClient) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	return c.next.GenerateJSON(ctx, prompt)
}

func (c *cachedClient) GenerateTextStream(ctx context.Context, prompt string, onDelta func(chunk string) error) error {
	key := cacheKey(prompt)
	if v, ok := c.lookup(ctx, key); ok {
		return onDelta(v)
	}
	out, err := Stream(ctx, c.next, prompt, onDelta)
	if err != nil {
		return err
	}
	c.remember(ctx, key, out)
	return nil
}

func cacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return "llm:" + hex.EncodeToString(sum[:])
}
