// Package rag orchestrates a compliance assessment: it retrieves regulatory
// context for a concern, asks the language model for a structured verdict,
// and parses the reply. A reply that cannot be parsed yields a degraded
// assessment instead of an error.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/WessleyAI/regcheck/engine/domain"
	"github.com/WessleyAI/regcheck/pkg/fn"
	"github.com/WessleyAI/regcheck/pkg/metrics"
	"github.com/WessleyAI/regcheck/pkg/resilience"
)

var tracer = otel.Tracer("github.com/WessleyAI/regcheck/engine/rag")

// Retriever finds context for a concern.
type Retriever interface {
	Retrieve(ctx context.Context, query, extra string, maxResults int) ([]domain.RetrievedResult, error)
}

// Generator is the language model: one system+user exchange, text back.
type Generator interface {
	Complete(ctx context.Context, system, prompt string, temperature float64, maxTokens int) (string, error)
}

// Phase is a step of one assessment.
type Phase string

const (
	PhaseReceived   Phase = "RECEIVED"
	PhaseRetrieving Phase = "RETRIEVING"
	PhaseGenerating Phase = "GENERATING"
	PhaseParsing    Phase = "PARSING"
	PhaseSucceeded  Phase = "SUCCEEDED"
	PhaseDegraded   Phase = "DEGRADED"
)

// Options configures the Service.
type Options struct {
	MaxResults      int
	Temperature     float64
	MaxTokens       int
	MaxContextChars int
	ExcerptChars    int
	// GenerateTimeout bounds each model call.
	GenerateTimeout time.Duration
	Retry           fn.RetryOpts
	Breaker         resilience.BreakerOpts
}

// DefaultOptions returns low-temperature settings with an 8000 character
// context budget.
func DefaultOptions() Options {
	return Options{
		MaxResults:      10,
		Temperature:     0.1,
		MaxTokens:       1500,
		MaxContextChars: 8000,
		ExcerptChars:    500,
		GenerateTimeout: 60 * time.Second,
		Retry:           fn.RetryOpts{MaxAttempts: 2, InitialWait: time.Second, MaxWait: 5 * time.Second, Jitter: true},
		Breaker:         resilience.DefaultBreakerOpts,
	}
}

// Service is the assessment orchestrator.
type Service struct {
	retriever Retriever
	generator Generator
	opts      Options
	breaker   *resilience.Breaker
	logger    *slog.Logger
	now       func() time.Time

	outcomes *metrics.CounterVec
	duration *metrics.Histogram
}

// New creates a Service. reg may be nil.
func New(retriever Retriever, generator Generator, opts Options, reg *metrics.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = 60 * time.Second
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = resilience.Retryable
	}
	if opts.Breaker.Name == "" {
		opts.Breaker.Name = "generation"
	}
	if opts.Breaker.OnChange == nil {
		opts.Breaker.OnChange = resilience.Observe(reg, logger)
	}
	return &Service{
		retriever: retriever,
		generator: generator,
		opts:      opts,
		breaker:   resilience.NewBreaker(opts.Breaker),
		logger:    logger,
		now:       time.Now,
		outcomes:  reg.CounterVec("regcheck_assessments_total", "Assessments by outcome.", "outcome"),
		duration:  reg.Histogram("regcheck_assessment_seconds", "Assessment latency.", nil),
	}
}

// Assess answers a compliance concern. Parse failures produce a degraded
// assessment; retrieval and generation failures are returned as errors of
// their domain kind.
func (s *Service) Assess(ctx context.Context, concern, extra string) (*domain.ComplianceAssessment, error) {
	start := s.now()
	ctx, span := tracer.Start(ctx, "rag.Assess")
	defer span.End()

	log := s.logger.With("concern_len", utf8.RuneCountInString(concern))
	phase := func(p Phase, args ...any) {
		log.Info("rag phase", append([]any{"phase", string(p)}, args...)...)
		span.AddEvent(string(p))
	}
	fail := func(p Phase, err error) (*domain.ComplianceAssessment, error) {
		kind := domain.KindOf(err)
		log.Error("rag failed", "phase", string(p), "kind", kind, "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		s.count("failed")
		return nil, err
	}

	phase(PhaseReceived)
	if err := domain.ValidateConcern(concern); err != nil {
		return fail(PhaseReceived, err)
	}

	phase(PhaseRetrieving)
	results, err := s.retriever.Retrieve(ctx, concern, extra, s.opts.MaxResults)
	if err != nil {
		return fail(PhaseRetrieving, fmt.Errorf("rag: retrieve: %w", err))
	}
	span.SetAttributes(attribute.Int("rag.results", len(results)))

	phase(PhaseGenerating, "results", len(results))
	prompt := BuildPrompt(concern, extra, results, s.opts.MaxContextChars)
	raw, err := s.generate(ctx, prompt)
	if err != nil {
		return fail(PhaseGenerating, fmt.Errorf("rag: generate: %w", err))
	}

	phase(PhaseParsing, "reply_len", len(raw))
	a, perr := Parse(raw)
	final := PhaseSucceeded
	if perr != nil {
		final = PhaseDegraded
		log.Warn("rag: reply not parseable, degrading", "err", perr)
		a = Degraded(raw)
	}
	if len(results) == 0 {
		a.Status = domain.StatusRequiresReview
	}
	a.RelevantDocuments = RelevantDocuments(results, s.opts.ExcerptChars)
	a.QueryTimestamp = start.UTC()
	a.ProcessingTimeMS = s.now().Sub(start).Milliseconds()

	phase(final, "status", string(a.Status), "processing_ms", a.ProcessingTimeMS)
	span.SetAttributes(attribute.String("rag.outcome", string(final)), attribute.String("rag.status", string(a.Status)))
	s.count(strings.ToLower(string(final)))
	s.duration.Observe(float64(a.ProcessingTimeMS) / 1000)
	return &a, nil
}

func (s *Service) generate(ctx context.Context, prompt string) (string, error) {
	raw, err := fn.Retry(ctx, s.opts.Retry, func(ctx context.Context) (string, error) {
		var out string
		err := s.breaker.Call(ctx, func(ctx context.Context) error {
			cctx, cancel := context.WithTimeout(ctx, s.opts.GenerateTimeout)
			defer cancel()
			text, err := s.generator.Complete(cctx, systemPrompt, prompt, s.opts.Temperature, s.opts.MaxTokens)
			if err != nil {
				if cctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
					return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
				}
				return err
			}
			out = text
			return nil
		})
		return out, err
	})
	if err != nil {
		return "", domain.Wrap(domain.ErrGenerationProvider, "complete", err)
	}
	return raw, nil
}

func (s *Service) count(outcome string) {
	s.outcomes.With(outcome).Inc()
}

// Degraded builds the assessment returned when the model reply cannot be
// parsed. The raw reply is kept verbatim in Reasoning.
func Degraded(raw string) domain.ComplianceAssessment {
	return domain.ComplianceAssessment{
		Status:            domain.StatusRequiresReview,
		ConfidenceScore:   0,
		Summary:           degradedSummary,
		ImpactedRules:     []string{},
		Reasoning:         raw,
		ComplianceDetails: []domain.ComplianceDetail{},
		Recommendations:   []string{},
		Degraded:          true,
	}
}

// RelevantDocuments cites each retrieved chunk with an excerpt of at most
// excerpt characters followed by "..." when cut.
func RelevantDocuments(results []domain.RetrievedResult, excerpt int) []domain.RelevantDocument {
	docs := make([]domain.RelevantDocument, len(results))
	for i, r := range results {
		docs[i] = domain.RelevantDocument{
			DocumentName:   r.Chunk.DocumentName,
			Section:        "Page " + r.Chunk.Page(),
			Content:        truncate(r.Chunk.Content, excerpt),
			RelevanceScore: r.Score,
		}
	}
	return docs
}
