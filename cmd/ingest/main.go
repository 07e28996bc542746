// Command ingest loads the regulatory corpus into the vector store. It runs
// once, rescans on an interval, follows a directory for changes, or serves
// ingestion requests from NATS.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/regcheck/engine/extract"
	"github.com/WessleyAI/regcheck/engine/ingest"
	"github.com/WessleyAI/regcheck/engine/semantic"
	"github.com/WessleyAI/regcheck/engine/source"
	"github.com/WessleyAI/regcheck/internal/wire"
	"github.com/WessleyAI/regcheck/pkg/config"
	"github.com/WessleyAI/regcheck/pkg/metrics"
	"github.com/WessleyAI/regcheck/pkg/mid"
)

var met = metrics.New()

var (
	mCorpusChunks = met.Gauge("regcheck_corpus_chunks", "Chunks held by the vector store.")
	mCorpusDocs   = met.Gauge("regcheck_corpus_documents", "Documents held by the vector store.")
	mLastRun      = met.Gauge("regcheck_ingest_last_run_timestamp", "Epoch of the last completed ingestion run.")
	mRunFailures  = met.Counter("regcheck_ingest_run_failures_total", "Runs that could not list the source.")
)

func main() {
	var (
		configPath = flag.String("config", "regcheck.yaml", "path to the YAML config")
		envFile    = flag.String("env", ".env", "dotenv file loaded before the config")
		interval   = flag.Duration("interval", 0, "rescan interval; 0 runs once")
		watch      = flag.Bool("watch", false, "serve ingestion requests from NATS")
		follow     = flag.Bool("follow", false, "ingest changes to the source directory as they happen")
		force      = flag.Bool("force", false, "re-ingest documents whose hash did not change")
		seed       = flag.String("seed", "", "upload the files of this directory to the MinIO source first")
		report     = flag.Bool("report", false, "print the run report as JSON")
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

	opts := options{interval: *interval, watch: *watch, follow: *follow, force: *force, seed: *seed, report: *report}
	if err := run(cfg, opts, logger); err != nil {
		logger.Error("ingest exited with error", "err", err)
		os.Exit(1)
	}
}

type options struct {
	interval time.Duration
	watch    bool
	follow   bool
	force    bool
	seed     string
	report   bool
}

func run(cfg *config.Config, opts options, logger *slog.Logger) error {
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

	ck, err := wire.Chunker(cfg)
	if err != nil {
		return err
	}

	src, err := wire.Source(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	if opts.seed != "" {
		if err := seedObjects(ctx, src, opts.seed, logger); err != nil {
			return err
		}
	}

	ingester := ingest.New(ingest.Deps{
		Extractor: extract.New(logger),
		Chunker:   ck,
		Embedder:  emb,
		Store:     store,
		Metrics:   met,
		Logger:    logger,
	})
	runner := ingest.NewRunner(src, ingester, cfg.Ingest.Workers, logger)

	if opts.watch {
		return serve(ctx, cfg, runner, store, logger)
	}

	scan := func(force bool) {
		runCtx, cancel := context.WithTimeout(ctx, cfg.Ingest.Timeout)
		defer cancel()
		rep, err := runner.Reload(runCtx, force)
		if err != nil {
			mRunFailures.Inc()
			logger.Error("ingest run failed", "err", err)
		}
		mLastRun.Set(time.Now().Unix())
		recordCorpus(ctx, store, logger)
		if opts.report {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.Encode(rep)
		}
	}

	// Initial scan
	scan(opts.force)

	if opts.follow {
		if cfg.Source.Type == "minio" {
			return fmt.Errorf("-follow needs source.type dir")
		}
		w := source.NewWatcher(cfg.Source.Dir, 0, logger)
		go func() {
			err := w.Run(ctx, func(ctx context.Context, batch []source.Change) {
				var changed, removed []string
				for _, c := range batch {
					if c.Removed {
						removed = append(removed, c.Path)
					} else {
						changed = append(changed, c.Path)
					}
				}
				runner.Sync(ctx, changed, removed)
				recordCorpus(ctx, store, logger)
			})
			if err != nil {
				logger.Error("source watcher stopped", "dir", cfg.Source.Dir, "err", err)
			}
		}()
		logger.Info("following source directory", "dir", cfg.Source.Dir)
	} else if opts.interval <= 0 {
		return nil
	}

	// A nil channel never fires, so -follow alone just waits for a signal.
	var tick <-chan time.Time
	if opts.interval > 0 {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-tick:
			scan(false)
		}
	}
}

// serve consumes ingestion requests until the process is signalled.
func serve(ctx context.Context, cfg *config.Config, runner *ingest.Runner, store semantic.Store, logger *slog.Logger) error {
	url := cfg.NATS.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name("regcheck-ingest"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()

	sub, err := ingest.StartConsumer(nc, runner, cfg.Ingest.Timeout, logger)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", ingest.Subject, err)
	}
	defer sub.Unsubscribe()
	logger.Info("waiting for ingestion requests", "subject", ingest.Subject, "nats", url)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			recordCorpus(ctx, store, logger)
		}
	}
}

func recordCorpus(ctx context.Context, store semantic.Store, logger *slog.Logger) {
	st, err := store.Status(ctx)
	if err != nil {
		logger.Warn("store status failed", "err", err)
		return
	}
	mCorpusChunks.Set(int64(st.TotalChunks))
	if st.Documents != nil {
		mCorpusDocs.Set(int64(len(st.Documents)))
	}
}

// seedObjects uploads a local directory into an object-storage source.
func seedObjects(ctx context.Context, src ingest.Source, dir string, logger *slog.Logger) error {
	objs, ok := src.(*source.Objects)
	if !ok {
		return fmt.Errorf("-seed needs source.type minio")
	}
	local, err := source.NewDir(dir)
	if err != nil {
		return err
	}
	paths, err := local.List(ctx)
	if err != nil {
		return err
	}
	for _, p := range paths {
		data, err := local.Read(ctx, p)
		if err != nil {
			return err
		}
		if err := objs.Put(ctx, p, data); err != nil {
			return err
		}
		logger.Info("seeded document", "path", p, "bytes", len(data), "dir", filepath.Clean(dir))
	}
	return nil
}
