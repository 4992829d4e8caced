package logproxy

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"
)

func newTestProxy(buf *bytes.Buffer) *Proxy {
	return &Proxy{
		Logger:             log.New(buf, "", 0),
		SlowQueryThreshold: 10 * time.Millisecond,
		MaxQuerySizeToLog:  1024,
	}
}

func TestAroundLogsSlowQuery(t *testing.T) {
	var buf bytes.Buffer
	p := newTestProxy(&buf)

	err := p.Around(context.Background(), "query", "SELECT 1", func(ctx context.Context) error {
		time.Sleep(15 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "slow query") {
		t.Fatalf("expected slow-query log line, got %q", buf.String())
	}
}

func TestAroundDoesNotLogFastQuery(t *testing.T) {
	var buf bytes.Buffer
	p := newTestProxy(&buf)

	err := p.Around(context.Background(), "query", "SELECT 1", func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no log output for a fast query, got %q", buf.String())
	}
}

func TestAroundLogsExceptionWithDump(t *testing.T) {
	var buf bytes.Buffer
	p := newTestProxy(&buf)
	p.DumpOnException = true

	wantErr := errors.New("boom")
	err := p.Around(context.Background(), "update", "UPDATE accounts SET balance=1", func(ctx context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped wantErr, got %v", err)
	}
	if !strings.Contains(buf.String(), "UPDATE accounts") {
		t.Fatalf("expected query dump in log output, got %q", buf.String())
	}
}

func TestTruncateLongQuery(t *testing.T) {
	p := &Proxy{MaxQuerySizeToLog: 10}
	got := p.truncate(strings.Repeat("x", 50))
	if len(got) != 13 { // 10 chars + "..."
		t.Fatalf("expected truncated length 13, got %d (%q)", len(got), got)
	}
}

func TestMetricsRecordWithoutPanicking(t *testing.T) {
	m := NewMetrics()
	m.ObserveQuery("query", 5*time.Millisecond)
	m.SetPoolStats("default", 2, 3, 5)
	m.RecordCacheHit("default")
	m.RecordCacheMiss("default")
	m.RecordFailover("db1.internal:3306")
}
