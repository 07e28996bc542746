// Package embedding turns text into vectors through an external provider,
// keeping document and query embeddings apart.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/WessleyAI/regcheck/engine/domain"
	"github.com/WessleyAI/regcheck/pkg/fn"
	"github.com/WessleyAI/regcheck/pkg/metrics"
	"github.com/WessleyAI/regcheck/pkg/resilience"
)

// Task selects the embedding mode. Asymmetric models embed stored passages
// and search queries differently.
type Task int

const (
	TaskDocument Task = iota
	TaskQuery
)

func (t Task) String() string {
	if t == TaskQuery {
		return "query"
	}
	return "document"
}

// Provider embeds one batch of texts, returning one vector per text in order.
type Provider interface {
	Model() string
	Embed(ctx context.Context, texts []string, task Task) ([][]float32, error)
}

// Options configures the Gateway.
type Options struct {
	// BatchSize caps the texts sent per provider call.
	BatchSize int
	// Timeout bounds each provider call.
	Timeout time.Duration
	// Dimension is the index dimension. Zero adopts the first response's length.
	Dimension int
	Retry     fn.RetryOpts
	Limiter   resilience.LimiterOpts
	Breaker   resilience.BreakerOpts
}

// DefaultOptions returns batches of 64 with a 30s call timeout.
func DefaultOptions() Options {
	retry := fn.DefaultRetry
	return Options{
		BatchSize: 64,
		Timeout:   30 * time.Second,
		Retry:     retry,
		Breaker:   resilience.DefaultBreakerOpts,
	}
}

// Gateway batches texts through a Provider behind a rate limiter and circuit
// breaker, retrying transient failures. Every returned vector has the
// gateway's dimension and is non-zero.
type Gateway struct {
	provider Provider
	opts     Options
	limiter  *resilience.Limiter
	breaker  *resilience.Breaker
	logger   *slog.Logger

	mu  sync.Mutex
	dim int

	calls    *metrics.Counter
	failures *metrics.Counter
	latency  *metrics.Histogram
}

// New creates a Gateway. reg may be nil.
func New(p Provider, opts Options, reg *metrics.Registry, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = retryable
	}
	if reg == nil {
		reg = metrics.New()
	}
	if opts.Breaker.Name == "" {
		opts.Breaker.Name = "embedding:" + p.Model()
	}
	if opts.Breaker.OnChange == nil {
		opts.Breaker.OnChange = resilience.Observe(reg, logger)
	}
	return &Gateway{
		provider: p,
		opts:     opts,
		limiter:  resilience.NewLimiter(opts.Limiter),
		breaker:  resilience.NewBreaker(opts.Breaker),
		logger:   logger,
		dim:      opts.Dimension,
		calls:    reg.Counter("regcheck_embedding_calls_total", "Embedding provider calls."),
		failures: reg.Counter("regcheck_embedding_failures_total", "Failed embedding provider calls."),
		latency:  reg.Histogram("regcheck_embedding_call_seconds", "Embedding provider call latency.", nil),
	}
}

func retryable(err error) bool {
	return resilience.Retryable(err) &&
		!errors.Is(err, domain.ErrDimensionMismatch) &&
		!errors.Is(err, domain.ErrZeroVector)
}

// Model names the underlying provider model.
func (g *Gateway) Model() string { return g.provider.Model() }

// Dimension returns the locked vector dimension, or zero before the first
// successful call when none was configured.
func (g *Gateway) Dimension() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dim
}

// Embed returns one vector per text, in input order. Any failure aborts the
// whole call with an error of kind domain.ErrEmbeddingProvider; a provider
// call that hit its deadline also matches domain.ErrTimeout.
func (g *Gateway) Embed(ctx context.Context, texts []string, task Task) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	op := "embed " + task.String()
	out := make([][]float32, 0, len(texts))
	for _, batch := range fn.Batches(texts, g.opts.BatchSize) {
		vecs, err := fn.Retry(ctx, g.opts.Retry, func(ctx context.Context) ([][]float32, error) {
			return g.call(ctx, batch, task)
		})
		if err != nil {
			g.logger.Warn("embedding: call failed", "model", g.Model(), "task", task.String(), "batch", len(batch), "err", err)
			return nil, domain.Wrap(domain.ErrEmbeddingProvider, op, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery embeds a single search query.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.Embed(ctx, []string{text}, TaskQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (g *Gateway) call(ctx context.Context, batch []string, task Task) ([][]float32, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var vecs [][]float32
	start := time.Now()
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
		g.calls.Inc()
		v, err := g.provider.Embed(cctx, batch, task)
		if err != nil {
			if cctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				return fmt.Errorf("%s: %w", g.Model(), context.DeadlineExceeded)
			}
			return err
		}
		vecs = v
		return nil
	})
	g.latency.Since(start)
	if err != nil {
		g.failures.Inc()
		if d, ok := resilience.RetryAfter(err, time.Second); ok {
			g.logger.Warn("embedding: provider throttled", "model", g.Model(), "pause", d)
			g.limiter.Pause(d)
		}
		return nil, err
	}
	if err := g.check(batch, vecs); err != nil {
		g.failures.Inc()
		return nil, err
	}
	return vecs, nil
}

// check enforces one non-zero vector per text, all of the gateway dimension.
func (g *Gateway) check(batch []string, vecs [][]float32) error {
	if len(vecs) != len(batch) {
		return resilience.Permanent(fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(batch)))
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	dim := g.dim
	if dim == 0 {
		dim = len(vecs[0])
	}
	for i, v := range vecs {
		if err := domain.ValidateEmbedding(v, dim); err != nil {
			return fmt.Errorf("vector %d: %w", i, err)
		}
	}
	g.dim = dim
	return nil
}
