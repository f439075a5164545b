package idempotency

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestKeyDerivation(t *testing.T) {
	body := []byte(`{"call_id":"abc"}`)

	// Identical inputs collapse onto one key.
	if Key("voice", "t1", "", body) != Key("voice", "t1", "", body) {
		t.Error("identical requests must share a key")
	}

	// Route, tenant and body each isolate the key space.
	base := Key("voice", "t1", "", body)
	if Key("cdr", "t1", "", body) == base {
		t.Error("different routes must not share a key")
	}
	if Key("voice", "t2", "", body) == base {
		t.Error("different tenants must not share a key")
	}
	if Key("voice", "t1", "", []byte(`{"call_id":"xyz"}`)) == base {
		t.Error("different bodies must not share a key")
	}

	// An explicit token wins over the body.
	withTok := Key("voice", "t1", "retry-1", body)
	if Key("voice", "t1", "retry-1", []byte("different")) != withTok {
		t.Error("same token with different bodies must share a key")
	}
	if Key("voice", "t1", "retry-2", body) == withTok {
		t.Error("different tokens must not share a key")
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory(time.Hour, 0)
	defer m.Close()
	ctx := context.Background()

	rec, err := m.Lookup(ctx, "missing")
	if err != nil || rec != nil {
		t.Fatalf("expected miss, got rec=%v err=%v", rec, err)
	}

	saved := Record{
		StatusCode:  200,
		ContentType: "text/xml; charset=utf-8",
		Body:        []byte("<Response/>"),
		StoredAt:    time.Now(),
	}
	if err := m.Save(ctx, "k1", saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec, err = m.Lookup(ctx, "k1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if rec == nil || rec.StatusCode != 200 || !bytes.Equal(rec.Body, saved.Body) {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory(time.Hour, 0)
	defer m.Close()
	ctx := context.Background()

	now := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	m.nowFunc = func() time.Time { return now }

	if err := m.Save(ctx, "k1", Record{StatusCode: 200}); err != nil {
		t.Fatalf("save: %v", err)
	}

	now = now.Add(2 * time.Hour)
	rec, err := m.Lookup(ctx, "k1")
	if err != nil || rec != nil {
		t.Errorf("expected expired entry to miss, got rec=%v err=%v", rec, err)
	}
}

func TestClampOversizedBody(t *testing.T) {
	rec := Clamp(Record{
		StatusCode: 200,
		Body:       bytes.Repeat([]byte("x"), DefaultMaxBody+1),
	}, 0)
	if !rec.Oversized {
		t.Error("expected Oversized")
	}
	if rec.Body != nil {
		t.Error("oversized body must be dropped")
	}

	rec = Clamp(Record{StatusCode: 200, Body: []byte("small")}, 0)
	if rec.Oversized || string(rec.Body) != "small" {
		t.Errorf("small body must survive intact: %+v", rec)
	}
}

func TestConfiguredCeilingApplies(t *testing.T) {
	m := NewMemory(time.Hour, 2048)
	defer m.Close()
	ctx := context.Background()

	// A body well under the default ceiling but over the configured one
	// must be recorded metadata-only.
	if err := m.Save(ctx, "k1", Record{
		StatusCode: 200,
		Body:       bytes.Repeat([]byte("x"), 10240),
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec, err := m.Lookup(ctx, "k1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if rec == nil || !rec.Oversized {
		t.Fatalf("expected oversized record, got %+v", rec)
	}
	if rec.Body != nil {
		t.Errorf("body over the configured ceiling must not be cached, got %d bytes", len(rec.Body))
	}

	// Under the configured ceiling the body is kept.
	if err := m.Save(ctx, "k2", Record{StatusCode: 200, Body: []byte("ok")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec, err = m.Lookup(ctx, "k2")
	if err != nil || rec == nil || rec.Oversized || string(rec.Body) != "ok" {
		t.Errorf("small record must survive intact: %+v err=%v", rec, err)
	}
}
