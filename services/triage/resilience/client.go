// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience wraps a text generator with admission control,
// caching, a circuit breaker and bounded retry.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianTriage/services/llm"
)

// Config tunes a Client. Zero values take the defaults from DefaultConfig.
type Config struct {
	// MaxAttempts is the total number of network attempts per call.
	MaxAttempts int `yaml:"max_attempts" validate:"gte=0,lte=10"`

	// BackoffBase is multiplied by the attempt index between attempts.
	BackoffBase time.Duration `yaml:"backoff_base" validate:"gte=0"`

	// AttemptTimeout bounds each attempt independently of the caller.
	AttemptTimeout time.Duration `yaml:"attempt_timeout" validate:"gte=0"`

	// BreakerThreshold is the consecutive-failure count that opens the circuit.
	BreakerThreshold int `yaml:"breaker_threshold" validate:"gte=0"`

	// BreakerCoolDown is how long the circuit stays open before a trial.
	BreakerCoolDown time.Duration `yaml:"breaker_cooldown" validate:"gte=0"`

	// CacheTTL of zero disables caching.
	CacheTTL        time.Duration `yaml:"cache_ttl" validate:"gte=0"`
	CacheMaxEntries int           `yaml:"cache_max_entries" validate:"gte=0"`

	// RateLimit of zero disables admission limiting.
	RateLimit  int           `yaml:"rate_limit" validate:"gte=0"`
	RateWindow time.Duration `yaml:"rate_window" validate:"gte=0"`
}

// DefaultConfig returns 3 attempts, 750ms backoff base, 60s per attempt, a
// breaker opening after 3 failures for 30s, a 10 minute cache and 20 calls
// per minute.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		BackoffBase:      750 * time.Millisecond,
		AttemptTimeout:   60 * time.Second,
		BreakerThreshold: 3,
		BreakerCoolDown:  30 * time.Second,
		CacheTTL:         10 * time.Minute,
		CacheMaxEntries:  1024,
		RateLimit:        20,
		RateWindow:       time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = def.AttemptTimeout
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = def.BreakerThreshold
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	return c
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces the time source of the limiter, cache and breaker.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.limiter.now = now
		c.cache.now = now
		c.breaker.now = now
	}
}

// WithSleep replaces the backoff sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// Client is a resilient front for an llm.Generator.
//
// Description:
//
//	Order per call: rate limiter, cache, then up to MaxAttempts network
//	attempts each gated by the circuit breaker. Attempts run on a context
//	detached from the caller's cancellation, bounded by AttemptTimeout, so
//	a disconnecting caller does not abort an in-flight generation.
//
// Thread Safety: Safe for concurrent use. The limiter, cache and breaker each
// own a mutex; none is held across the network call.
type Client struct {
	gen      llm.Generator
	cfg      Config
	limiter  *RateLimiter
	cache    *Cache
	breaker  *Breaker
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	provider string
}

// NewClient wraps gen.
//
// Inputs:
//   - gen: The underlying generator. Must not be nil.
//   - cfg: Tuning; zero fields take defaults.
//   - opts: Optional overrides.
//
// Outputs:
//   - *Client: The resilient client.
func NewClient(gen llm.Generator, cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		gen:      gen,
		cfg:      cfg,
		limiter:  NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		cache:    NewCache(cfg.CacheTTL, cfg.CacheMaxEntries),
		breaker:  NewBreaker(cfg.BreakerThreshold, cfg.BreakerCoolDown),
		logger:   slog.Default(),
		sleep:    sleepContext,
		provider: gen.Provider(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker.onChange = func(from, to State) {
		recordBreakerState(c.provider, to)
		c.logger.Warn("circuit breaker state change",
			slog.String("provider", c.provider),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	}
	recordBreakerState(c.provider, StateClosed)
	return c
}

// Provider returns the wrapped generator's provider name.
func (c *Client) Provider() string { return c.provider }

// BreakerState returns the current circuit state.
func (c *Client) BreakerState() State { return c.breaker.State() }

// Generate is GenerateRequest with only prompt, system and model set.
func (c *Client) Generate(ctx context.Context, prompt, system, model string) (string, error) {
	return c.GenerateRequest(ctx, llm.Request{Prompt: prompt, System: system, Model: model})
}

// GenerateRequest runs one resilient generation.
//
// Outputs:
//   - string: Non-empty generated text.
//   - error: Wraps exactly one of ErrRateLimited, ErrCircuitOpen, ErrTimeout,
//     ErrEmptyResponse or ErrUpstream, plus the last underlying cause.
func (c *Client) GenerateRequest(ctx context.Context, req llm.Request) (text string, err error) {
	ctx, span := otel.Tracer("aleutian.triage").Start(ctx, "resilience.generate",
		oteltrace.WithAttributes(
			attribute.String("provider", c.provider),
			attribute.String("model", req.Model),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, ErrorClass(err))
		}
		span.End()
	}()

	if ok, retryAfter := c.limiter.Allow(c.provider); !ok {
		recordOutcome(c.provider, "rate_limited")
		return "", fmt.Errorf("%w: retry after %s", ErrRateLimited, retryAfter.Round(time.Millisecond))
	}

	key := ""
	if c.cache.Enabled() {
		key = CacheKey(req.Prompt, req.System, req.Model)
		cached, hit := c.cache.Get(key)
		recordCacheLookup(hit)
		if hit {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			recordOutcome(c.provider, "cache_hit")
			return cached, nil
		}
	}

	detached := context.WithoutCancel(ctx)
	var lastErr error
	lastKind := kindTransport

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if berr := c.breaker.Allow(); berr != nil {
			recordOutcome(c.provider, "circuit_open")
			span.SetAttributes(attribute.Int("attempts", attempt-1))
			if lastErr != nil {
				return "", fmt.Errorf("%w: %w", ErrCircuitOpen, lastErr)
			}
			return "", ErrCircuitOpen
		}

		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(detached, c.cfg.AttemptTimeout)
		out, genErr := c.gen.Generate(attemptCtx, req)
		cancel()
		elapsed := time.Since(start).Seconds()

		if genErr == nil && strings.TrimSpace(out) == "" {
			genErr = llm.ErrEmptyResponse
		}
		if genErr == nil {
			c.breaker.Success()
			recordAttempt(c.provider, "success", elapsed)
			recordOutcome(c.provider, "success")
			span.SetAttributes(attribute.Int("attempts", attempt))
			if key != "" {
				c.cache.Put(key, out)
			}
			return out, nil
		}

		kind := classify(genErr)
		recordAttempt(c.provider, kind.String(), elapsed)
		c.logger.Warn("generation attempt failed",
			slog.String("provider", c.provider),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.cfg.MaxAttempts),
			slog.String("kind", kind.String()),
			slog.String("error", llm.SafeLogString(genErr.Error())),
		)

		if kind == kindFatal {
			c.breaker.Release()
			err := fmt.Errorf("%w: %w", ErrUpstream, genErr)
			recordOutcome(c.provider, ErrorClass(err))
			span.SetAttributes(attribute.Int("attempts", attempt))
			return "", err
		}
		c.breaker.Failure()
		lastErr, lastKind = genErr, kind

		if attempt < c.cfg.MaxAttempts {
			backoff := c.cfg.BackoffBase * time.Duration(attempt)
			if serr := c.sleep(detached, backoff); serr != nil {
				break
			}
		}
	}

	span.SetAttributes(attribute.Int("attempts", c.cfg.MaxAttempts))
	sentinel := sentinelFor(lastKind)
	recordOutcome(c.provider, ErrorClass(sentinel))
	return "", fmt.Errorf("%w: %w", sentinel, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
