// Package llm is the generation backend shared by classification,
// extraction and reply rendering.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashureev/honeypot/internal/observability"
)

// Purpose tags a request for caching and metrics.
type Purpose string

const (
	PurposeClassify Purpose = "classify"
	PurposeExtract  Purpose = "extract"
	PurposeReply    Purpose = "reply"
)

// Request is one completion call.
type Request struct {
	Purpose     Purpose
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// Scope is folded into the cache key. Requests that differ only in
	// scope never share a cached response.
	Scope   string
	NoCache bool
}

// Generator produces a completion for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Transport performs a single completion with one credential.
type Transport interface {
	Complete(ctx context.Context, cred Credential, req Request) (string, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, cred Credential, req Request) (string, error)

// Complete implements Transport.
func (f TransportFunc) Complete(ctx context.Context, cred Credential, req Request) (string, error) {
	return f(ctx, cred, req)
}

// Options tunes a Backend.
type Options struct {
	Model       string
	CallTimeout time.Duration
	Cache       *Cache
	Logger      *slog.Logger
}

// Backend fans calls out over a credential pool with per-attempt timeouts,
// a response cache and collapsing of identical in-flight calls.
type Backend struct {
	pool        *Pool
	transport   Transport
	cache       *Cache
	model       string
	callTimeout time.Duration
	logger      *slog.Logger
	group       singleflight.Group
}

// NewBackend creates a Backend.
func NewBackend(pool *Pool, transport Transport, opts Options) *Backend {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 8 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Backend{
		pool:        pool,
		transport:   transport,
		cache:       opts.Cache,
		model:       opts.Model,
		callTimeout: opts.CallTimeout,
		logger:      opts.Logger,
	}
}

// Generate returns a completion or an error wrapping ErrUnavailable once all
// credentials were tried.
func (b *Backend) Generate(ctx context.Context, req Request) (string, error) {
	if b == nil || b.transport == nil || b.pool == nil || b.pool.Len() == 0 {
		return "", fmt.Errorf("%w: no credentials configured", ErrUnavailable)
	}

	key := CacheKey(string(req.Purpose), b.model, req.System, normalizePrompt(req.Prompt), req.Scope)
	if !req.NoCache {
		if v, ok := b.cache.Get(key); ok {
			observability.RecordGeneration(string(req.Purpose), "cache_hit", 0)
			return v, nil
		}
	}

	ch := b.group.DoChan(key, func() (interface{}, error) {
		return b.generate(ctx, req, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}
}

func (b *Backend) generate(ctx context.Context, req Request, key string) (string, error) {
	start := time.Now()
	candidates := b.pool.Candidates()
	if len(candidates) == 0 {
		observability.RecordGeneration(string(req.Purpose), "unavailable", time.Since(start))
		return "", fmt.Errorf("%w: all credentials cooling down", ErrUnavailable)
	}

	var lastErr error
	for _, cred := range candidates {
		out, err := b.attempt(ctx, cred, req)
		if err == nil {
			if !req.NoCache {
				b.cache.Set(key, out)
			}
			observability.RecordGeneration(string(req.Purpose), "ok", time.Since(start))
			return out, nil
		}

		lastErr = err
		kind := Classify(err)
		b.logger.Warn("Generation attempt failed",
			"purpose", req.Purpose,
			"credential", cred.ID,
			"kind", kind.String(),
			"error", err)

		if kind.cooldown() {
			b.pool.Rest(cred, kind)
		}
		if ctx.Err() != nil || !kind.failover() {
			break
		}
	}

	observability.RecordGeneration(string(req.Purpose), "unavailable", time.Since(start))
	return "", fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}

func (b *Backend) attempt(ctx context.Context, cred Credential, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	out, err := b.transport.Complete(ctx, cred, req)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New("empty completion")
	}
	return out, nil
}

// normalizePrompt folds whitespace and case so trivially different inputs
// share a cache entry.
func normalizePrompt(p string) string {
	return strings.ToLower(strings.Join(strings.Fields(p), " "))
}
