package llm

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

func TestPoolRotatesRoundRobin(t *testing.T) {
	t.Parallel()

	p := NewPool([]string{"a", "", "b", "c"}, 0)
	require.Equal(t, 3, p.Len())

	var got []string
	for i := 0; i < 6; i++ {
		c, ok := p.Next()
		require.True(t, ok)
		got = append(got, c.Key)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, got)

	_, ok := NewPool(nil, 0).Next()
	assert.False(t, ok)
}

func TestPoolRotationIsRaceFree(t *testing.T) {
	t.Parallel()

	p := NewPool([]string{"a", "b"}, 0)
	var wg sync.WaitGroup
	counts := make([]atomic.Int64, 2)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, _ := p.Next()
			if c.Key == "a" {
				counts[0].Add(1)
			} else {
				counts[1].Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), counts[0].Load())
	assert.Equal(t, int64(50), counts[1].Load())
}

func TestPoolCooldownSkipsRestingCredentials(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPool([]string{"a", "b"}, time.Minute)
	p.now = func() time.Time { return now }

	p.Rest(p.creds[0], KindRateLimit)
	cands := p.Candidates()
	require.Len(t, cands, 1)
	assert.Equal(t, "b", cands[0].Key)

	now = now.Add(2 * time.Minute)
	assert.Len(t, p.Candidates(), 2)
}

func TestBackendFailsOverAcrossCredentials(t *testing.T) {
	t.Parallel()

	var tried []string
	var mu sync.Mutex
	transport := TransportFunc(func(_ context.Context, cred Credential, _ Request) (string, error) {
		mu.Lock()
		tried = append(tried, cred.Key)
		mu.Unlock()
		if cred.Key == "bad" {
			return "", &APIError{StatusCode: 429, Message: "rate limit reached"}
		}
		return "  hello  ", nil
	})

	b := NewBackend(NewPool([]string{"bad", "good"}, time.Minute), transport, Options{})
	out, err := b.Generate(context.Background(), Request{Purpose: PurposeReply, Prompt: "hi", NoCache: true})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, []string{"bad", "good"}, tried)
}

func TestBackendReturnsUnavailableWhenExhausted(t *testing.T) {
	t.Parallel()

	calls := 0
	transport := TransportFunc(func(context.Context, Credential, Request) (string, error) {
		calls++
		return "", &APIError{StatusCode: 503, Message: "upstream"}
	})
	b := NewBackend(NewPool([]string{"a", "b", "c"}, 0), transport, Options{})

	_, err := b.Generate(context.Background(), Request{Purpose: PurposeClassify, Prompt: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, calls)
}

func TestBackendStopsOnBadRequest(t *testing.T) {
	t.Parallel()

	calls := 0
	transport := TransportFunc(func(context.Context, Credential, Request) (string, error) {
		calls++
		return "", &APIError{StatusCode: 400, Message: "invalid"}
	})
	b := NewBackend(NewPool([]string{"a", "b"}, 0), transport, Options{})

	_, err := b.Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, calls)
}

func TestBackendWithoutCredentials(t *testing.T) {
	t.Parallel()

	b := NewBackend(NewPool(nil, 0), nil, Options{})
	_, err := b.Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)

	var nilBackend *Backend
	_, err = nilBackend.Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestBackendAttemptTimeout(t *testing.T) {
	t.Parallel()

	transport := TransportFunc(func(ctx context.Context, _ Credential, _ Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	b := NewBackend(NewPool([]string{"a"}, 0), transport, Options{CallTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := b.Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBackendCachesResponses(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	transport := TransportFunc(func(context.Context, Credential, Request) (string, error) {
		calls.Add(1)
		return `{"is_scam": true}`, nil
	})
	b := NewBackend(NewPool([]string{"a"}, 0), transport, Options{Cache: NewCache(time.Minute, 10)})

	req := Request{Purpose: PurposeClassify, Prompt: "Your  account is BLOCKED"}
	_, err := b.Generate(context.Background(), req)
	require.NoError(t, err)
	req.Prompt = "your account is blocked"
	_, err = b.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	req.Scope = "other"
	_, err = b.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCacheExpiryAndEviction(t *testing.T) {
	t.Parallel()

	now := time.Now()
	c := NewCache(time.Minute, 2)
	c.now = func() time.Time { return now }

	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("c", "3")
	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry evicted")
	assert.Equal(t, 2, c.Len())

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("b")
	assert.False(t, ok, "expired")

	assert.Nil(t, NewCache(0, 10))
	var nilCache *Cache
	nilCache.Set("x", "y")
	_, ok = nilCache.Get("x")
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want ErrorKind
	}{
		{&APIError{StatusCode: 429}, KindRateLimit},
		{&APIError{StatusCode: 401}, KindAuth},
		{&APIError{StatusCode: 402}, KindBilling},
		{&APIError{StatusCode: 400}, KindBadRequest},
		{&APIError{StatusCode: 503}, KindRetryable},
		{&APIError{StatusCode: 500, Message: "model overloaded"}, KindOverloaded},
		{context.DeadlineExceeded, KindTimeout},
		{context.Canceled, KindCanceled},
		{errors.New("connection reset"), KindRetryable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), tt.err.Error())
	}
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `{"a":1}`, ExtractJSON("Sure!\n```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":{"b":2}}`, ExtractJSON(`result: {"a":{"b":2}} done`))
	assert.Equal(t, "", ExtractJSON("no json here"))
}
