//go:build integration

package natsutil

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func natsURL() string {
	if v := os.Getenv("NATS_URL"); v != "" {
		return v
	}
	return nats.DefaultURL
}

func connectNATS(t *testing.T) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(natsURL())
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	t.Cleanup(func() { nc.Close() })
	return nc
}

type ingestRequest struct {
	Path  string `json:"path"`
	Force bool   `json:"force"`
}

func TestNATS_PublishCarriesTrace(t *testing.T) {
	nc := connectNATS(t)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	type delivery struct {
		req     ingestRequest
		traceID trace.TraceID
	}
	ch := make(chan delivery, 1)
	sub, err := Subscribe(nc, "regcheck.integ.ingest", func(ctx context.Context, r ingestRequest) {
		ch <- delivery{req: r, traceID: trace.SpanContextFromContext(ctx).TraceID()}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x0a, 0x0b},
		SpanID:     trace.SpanID{0x01},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	if err := Publish(ctx, nc, "regcheck.integ.ingest", ingestRequest{Path: "policies/gdpr.pdf", Force: true}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.req.Path != "policies/gdpr.pdf" || !got.req.Force {
			t.Errorf("request = %+v", got.req)
		}
		if got.traceID != sc.TraceID() {
			t.Errorf("trace id = %s, want %s", got.traceID, sc.TraceID())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestNATS_RequestRespond(t *testing.T) {
	nc := connectNATS(t)

	type req struct {
		Concern string `json:"concern"`
	}
	type resp struct {
		Status string `json:"status"`
	}

	sub, err := Respond(nc, "regcheck.integ.assess", "regcheck", func(_ context.Context, r req) resp {
		if r.Concern == "" {
			return resp{Status: "requires_review"}
		}
		return resp{Status: "compliant"}
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := Request[req, resp](ctx, nc, "regcheck.integ.assess", req{Concern: "Do we need encryption?"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got.Status != "compliant" {
		t.Fatalf("status = %q", got.Status)
	}

	raw, err := nc.Request("regcheck.integ.assess", []byte("not json"), 5*time.Second)
	if err != nil {
		t.Fatalf("raw request: %v", err)
	}
	var er ErrorReply
	if err := json.Unmarshal(raw.Data, &er); err != nil || er.Kind != "invalid_input" {
		t.Fatalf("expected error reply, got %s", raw.Data)
	}
}
