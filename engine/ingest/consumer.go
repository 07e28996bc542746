package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/regcheck/engine/domain"
	"github.com/WessleyAI/regcheck/pkg/natsutil"
)

const (
	// Subject carries ingestion requests.
	Subject = "regcheck.ingest"
	// DLQSubject receives requests that kept failing.
	DLQSubject = "regcheck.ingest.dlq"
	// MaxRetries before a request goes to the DLQ.
	MaxRetries = 3
	// RetryHeader counts delivery attempts.
	RetryHeader = "X-Retry-Count"
)

// Request asks for one document, or the whole source when Path is empty.
type Request struct {
	Path  string `json:"path,omitempty"`
	Force bool   `json:"force,omitempty"`
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Request Request `json:"request"`
	Error   string  `json:"error"`
	Kind    string  `json:"error_kind"`
	Retries int     `json:"retries"`
}

// Handle runs one request. Only a single-document request can fail; a full
// run reports per-document failures in its log.
func (r *Runner) Handle(ctx context.Context, req Request) (Outcome, error) {
	if req.Path == "" {
		_, err := r.Reload(ctx, req.Force)
		return Outcome{Status: StatusProcessed}, err
	}
	return r.IngestPath(ctx, req.Path, req.Force)
}

// retryCount reads the attempt counter of msg.
func retryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Header.Get(RetryHeader))
	if err != nil {
		return 0
	}
	return n
}

// StartConsumer subscribes the runner to Subject. Failed requests are
// re-published with an incremented retry header and end up on DLQSubject
// after MaxRetries attempts.
func StartConsumer(nc *nats.Conn, r *Runner, timeout time.Duration, logger *slog.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return nc.Subscribe(Subject, func(msg *nats.Msg) {
		var req Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			logger.Error("ingest: unmarshal failed", "error", err)
			return
		}
		mctx := natsutil.ContextFrom(msg)
		ctx, cancel := context.WithTimeout(mctx, timeout)
		defer cancel()

		out, err := r.Handle(ctx, req)
		if err == nil {
			logger.Info("ingest: request done", "path", req.Path, "status", string(out.Status), "chunks", out.Chunks)
			return
		}

		retries := retryCount(msg) + 1
		logger.Error("ingest: request failed", "path", req.Path, "error", err, "retry", retries)
		if retries >= MaxRetries {
			dlq := dlqMessage{Request: req, Error: err.Error(), Kind: domain.KindOf(err), Retries: retries}
			if err := natsutil.Publish(mctx, nc, DLQSubject, dlq); err != nil {
				logger.Error("ingest: DLQ publish failed", "error", err)
			}
			return
		}
		retry := nats.NewMsg(Subject)
		retry.Data = msg.Data
		retry.Header = nats.Header{}
		for k, v := range msg.Header {
			retry.Header[k] = v
		}
		retry.Header.Set(RetryHeader, strconv.Itoa(retries))
		if err := nc.PublishMsg(retry); err != nil {
			logger.Error("ingest: retry publish failed", "error", err)
		}
	})
}
