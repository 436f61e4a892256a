package llm

import (
	"context"
	"testing"
	"time"

	"github.com/neotalk/edge-ai/pkg/models"
)

func TestLimiterKeyStablePerProviderAndKey(t *testing.T) {
	a := LimiterKey(models.BackendOpenAI, "sk-one")
	b := LimiterKey(models.BackendOpenAI, "sk-one")
	if a != b {
		t.Error("same provider and key must map to the same bucket")
	}
	if LimiterKey(models.BackendOpenAI, "sk-two") == a {
		t.Error("different keys must map to different buckets")
	}
	if LimiterKey(models.BackendAnthropic, "sk-one") == a {
		t.Error("different providers must map to different buckets")
	}
}

func TestAcquireBurstThenBlocks(t *testing.T) {
	l := NewLimiter()
	ctx := context.Background()
	key := LimiterKey(models.BackendAnthropic, "k")

	// The Anthropic burst is 10; those acquire instantly.
	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := l.Acquire(ctx, models.BackendAnthropic, key); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("burst acquires should not block")
	}

	// The next acquire has to wait for a refill (5/s => ~200ms).
	start = time.Now()
	if err := l.Acquire(ctx, models.BackendAnthropic, key); err != nil {
		t.Fatalf("acquire after burst: %v", err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Error("post-burst acquire should have waited for refill")
	}
}

func TestAcquireCancellable(t *testing.T) {
	l := NewLimiter()
	key := LimiterKey(models.BackendAnthropic, "cancel")
	for i := 0; i < 10; i++ {
		if err := l.Acquire(context.Background(), models.BackendAnthropic, key); err != nil {
			t.Fatal(err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, models.BackendAnthropic, key)
	if err == nil {
		t.Fatal("cancelled acquire should error")
	}
	var llmErr *Error
	if !asLlmError(err, &llmErr) || llmErr.Kind != ErrRateLimit || !llmErr.Retryable {
		t.Errorf("error = %#v, want retryable rate-limit error", err)
	}
}

func asLlmError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}
