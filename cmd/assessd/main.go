// Command assessd answers compliance questions over NATS request/reply.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/regcheck/engine/domain"
	"github.com/WessleyAI/regcheck/engine/extract"
	"github.com/WessleyAI/regcheck/engine/ingest"
	"github.com/WessleyAI/regcheck/engine/rag"
	"github.com/WessleyAI/regcheck/internal/wire"
	"github.com/WessleyAI/regcheck/pkg/config"
	"github.com/WessleyAI/regcheck/pkg/metrics"
	"github.com/WessleyAI/regcheck/pkg/mid"
	"github.com/WessleyAI/regcheck/pkg/natsutil"
)

// Subject carries assessment requests.
const Subject = "regcheck.assess"

var met = metrics.New()

var mInflight = met.Gauge("regcheck_assess_inflight", "Assessments currently running.")

// Request is the payload accepted on Subject.
type Request struct {
	Concern string `json:"concern"`
	Context string `json:"context,omitempty"`
}

// Assessor is the query contract served by the responder.
type Assessor interface {
	Assess(ctx context.Context, concern, extra string) (*domain.ComplianceAssessment, error)
}

func main() {
	var (
		configPath = flag.String("config", "regcheck.yaml", "path to the YAML config")
		envFile    = flag.String("env", ".env", "dotenv file loaded before the config")
		reindex    = flag.Bool("reindex", false, "ingest the configured source before serving")
		timeout    = flag.Duration("timeout", 2*time.Minute, "per-request deadline")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := wire.Logger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, *reindex, *timeout, logger); err != nil {
		logger.Error("assessd exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, reindex bool, timeout time.Duration, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met.ServeAsync(ctx, cfg.MetricsPort, mid.Ops(met, logger), logger)

	store, closeStore, err := wire.Store(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	emb, closeEmb, err := wire.Embedder(ctx, cfg, met, logger)
	if err != nil {
		return err
	}
	defer closeEmb()

	// The memory backend starts empty, so it always needs a local ingest.
	if reindex || cfg.VectorStore.Backend == "memory" {
		ck, err := wire.Chunker(cfg)
		if err != nil {
			return err
		}
		src, err := wire.Source(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open source: %w", err)
		}
		ingester := ingest.New(ingest.Deps{
			Extractor: extract.New(logger),
			Chunker:   ck,
			Embedder:  emb,
			Store:     store,
			Metrics:   met,
			Logger:    logger,
		})
		rep, err := ingest.NewRunner(src, ingester, cfg.Ingest.Workers, logger).IngestAll(ctx)
		if err != nil {
			return fmt.Errorf("initial ingest: %w", err)
		}
		logger.Info("corpus ready", "processed", len(rep.Processed), "skipped", len(rep.Skipped), "failed", len(rep.Failed))
	}

	retriever, err := wire.Retriever(cfg, emb, store, logger)
	if err != nil {
		return err
	}
	svc := wire.Assessor(cfg, retriever, wire.Generator(cfg), met, logger)

	url := cfg.NATS.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name("regcheck-assessd"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()

	sub, err := natsutil.Respond(nc, Subject, cfg.NATS.Queue, handler(svc, timeout, logger))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", Subject, err)
	}
	defer sub.Unsubscribe()
	logger.Info("serving assessments", "subject", Subject, "queue", cfg.NATS.Queue, "nats", url)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// handler adapts an Assessor to natsutil.Respond. Failures become an
// ErrorReply tagged with the error kind.
func handler(a Assessor, timeout time.Duration, logger *slog.Logger) func(context.Context, Request) any {
	return func(ctx context.Context, req Request) any {
		mInflight.Inc()
		defer mInflight.Dec()

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		res, err := a.Assess(ctx, req.Concern, req.Context)
		if err != nil {
			kind := domain.KindOf(err)
			logger.Warn("assessment failed", "kind", kind, "err", err)
			return natsutil.ErrorReply{Error: err.Error(), Kind: kind}
		}
		if res.Degraded {
			logger.Warn("assessment degraded", "status", res.Status)
		}
		return res
	}
}

var _ Assessor = (*rag.Service)(nil)
