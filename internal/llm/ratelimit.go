package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/neotalk/edge-ai/pkg/models"
)

// limiterRate is a provider's request budget.
type limiterRate struct {
	perSecond float64
	burst     float64
}

// providerRates are the per-provider request budgets. Unknown providers
// fall back to 10 req/s.
var providerRates = map[models.BackendType]limiterRate{
	models.BackendOpenAI:    {perSecond: 10, burst: 20},
	models.BackendAnthropic: {perSecond: 5, burst: 10},
	models.BackendGoogle:    {perSecond: 8, burst: 16},
	models.BackendXAI:       {perSecond: 5, burst: 10},
	models.BackendOllama:    {perSecond: 50, burst: 100},
}

var defaultRate = limiterRate{perSecond: 10, burst: 20}

// bucket is a token bucket refilled continuously.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func newBucket(rate limiterRate) *bucket {
	return &bucket{
		tokens:     rate.burst,
		maxTokens:  rate.burst,
		refillRate: rate.perSecond,
		lastRefill: time.Now(),
	}
}

func (b *bucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (b *bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// Limiter rate-limits outbound requests per (provider, api-key) pair.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{buckets: make(map[string]*bucket)}
}

// sharedLimiter is the process-wide limiter all runtimes consult.
var sharedLimiter = NewLimiter()

// LimiterKey derives the bucket key from the provider and a hash of the
// API key; the key itself never leaves the runtime.
func LimiterKey(provider models.BackendType, apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return string(provider) + ":" + hex.EncodeToString(sum[:8])
}

// Acquire blocks until a request token is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, provider models.BackendType, key string) error {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		rate, found := providerRates[provider]
		if !found {
			rate = defaultRate
		}
		b = newBucket(rate)
		l.buckets[key] = b
	}
	l.mu.Unlock()

	for {
		if b.allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return rateLimitErr("rate limit wait cancelled: " + ctx.Err().Error())
		case <-time.After(20 * time.Millisecond):
		}
	}
}
