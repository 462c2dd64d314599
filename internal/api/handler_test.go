package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/EzalB/serverless-data-processing-pipeline/internal/domain"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/engine"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/transport/channel"
)

type mockSubmitter struct {
	mu     sync.Mutex
	result engine.Result
	err    error
	calls  []domain.RawEvent
}

func (s *mockSubmitter) Submit(ctx context.Context, raw domain.RawEvent) (engine.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, raw)
	if s.err != nil {
		return engine.Result{}, s.err
	}
	result := s.result
	if result.RequestID == "" {
		result.RequestID = raw.RequestID
	}
	return result, nil
}

type mockEmitter struct {
	mu   sync.Mutex
	msgs []domain.QueueMessage
	err  error
}

func (e *mockEmitter) Emit(ctx context.Context, msg domain.QueueMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.msgs = append(e.msgs, msg)
	return nil
}

type mockHealth struct {
	err error
}

func (h *mockHealth) Ping(ctx context.Context) error { return h.err }

func newTestHandler(sub *mockSubmitter, emit *mockEmitter, health *mockHealth) *Handler {
	if sub == nil {
		sub = &mockSubmitter{}
	}
	if emit == nil {
		emit = &mockEmitter{}
	}
	if health == nil {
		health = &mockHealth{}
	}
	return NewHandler(sub, emit, health, "orchestrator", "test")
}

func TestHealth_Plain(t *testing.T) {
	h := newTestHandler(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); body != "ok" {
		t.Errorf("body: got %q, want ok", body)
	}
}

func TestHealth_VerboseDegraded(t *testing.T) {
	h := newTestHandler(nil, nil, &mockHealth{err: errors.New("redis unreachable")})

	req := httptest.NewRequest(http.MethodGet, "/health?verbose=true", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status field: got %q, want degraded", resp.Status)
	}
	if resp.Service != "orchestrator" || resp.Env != "test" {
		t.Errorf("identity: got service=%q env=%q", resp.Service, resp.Env)
	}
}

func TestProcess_Success(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sub := &mockSubmitter{result: engine.Result{
		RequestID:     "req-1",
		Filename:      "data.csv",
		SchemaVersion: "1.2.0",
		Status:        engine.StatusProcessed,
		ProcessedAt:   now,
	}}
	h := newTestHandler(sub, nil, nil)

	body := `{"requestId":"req-1","filename":"data.csv","schemaVersion":"1.2","source":"upload"}`
	req := httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}

	var resp ProcessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.RequestID != "req-1" || resp.Status != "processed" {
		t.Errorf("response: got %+v", resp)
	}
	if resp.ProcessedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("processedAt: got %q", resp.ProcessedAt)
	}
	if resp.Service != "orchestrator" || resp.Env != "test" {
		t.Errorf("identity: got service=%q env=%q", resp.Service, resp.Env)
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.calls) != 1 {
		t.Fatalf("submissions: got %d, want 1", len(sub.calls))
	}
	if sub.calls[0].Source != "upload" {
		t.Errorf("source: got %q, want upload", sub.calls[0].Source)
	}
}

func TestProcess_InvalidJSON(t *testing.T) {
	sub := &mockSubmitter{}
	h := newTestHandler(sub, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(`{broken`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
	if len(sub.calls) != 0 {
		t.Errorf("submissions: got %d, want 0", len(sub.calls))
	}
}

// Engine outcomes travel in the body; the HTTP status stays 200 for all of
// them, including rejected and busy.
func TestProcess_OutcomeInBody(t *testing.T) {
	for _, status := range []engine.Status{
		engine.StatusProcessed, engine.StatusBusy, engine.StatusUnrouted,
		engine.StatusRejected, engine.StatusPartial,
	} {
		sub := &mockSubmitter{result: engine.Result{Status: status}}
		h := newTestHandler(sub, nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(`{"filename":"a.csv","schemaVersion":"1.0"}`))
		rec := httptest.NewRecorder()
		h.Routes().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status %v: got code %d, want 200", status, rec.Code)
		}
		var resp ProcessResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if resp.Status != string(status) {
			t.Errorf("body status: got %q, want %q", resp.Status, status)
		}
	}
}

func TestProcess_EngineFaultMapsTo500(t *testing.T) {
	sub := &mockSubmitter{err: errors.New("ledger down")}
	h := newTestHandler(sub, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(`{"filename":"a.csv","schemaVersion":"1.0"}`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", rec.Code)
	}
}

func TestProcess_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/process", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rec.Code)
	}
}

func TestEnqueue_Accepted(t *testing.T) {
	emit := &mockEmitter{}
	h := newTestHandler(nil, emit, nil)

	body := `{"requestId":"req-1","filename":"data.csv","schemaVersion":"1.0"}`
	req := httptest.NewRequest(http.MethodPost, "/enqueue", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202 (body: %s)", rec.Code, rec.Body.String())
	}

	var resp EnqueueResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.MessageID == "" || resp.Status != "accepted" {
		t.Errorf("response: got %+v", resp)
	}

	emit.mu.Lock()
	defer emit.mu.Unlock()
	if len(emit.msgs) != 1 {
		t.Fatalf("emitted: got %d, want 1", len(emit.msgs))
	}
	if string(emit.msgs[0].Body) != body {
		t.Errorf("body passed through changed: %s", emit.msgs[0].Body)
	}
}

func TestEnqueue_BufferFullMapsTo503(t *testing.T) {
	emit := &mockEmitter{err: channel.ErrBufferFull}
	h := newTestHandler(nil, emit, nil)

	req := httptest.NewRequest(http.MethodPost, "/enqueue", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", rec.Code)
	}
}

func TestEnqueue_InvalidJSON(t *testing.T) {
	emit := &mockEmitter{}
	h := newTestHandler(nil, emit, nil)

	req := httptest.NewRequest(http.MethodPost, "/enqueue", strings.NewReader(`{broken`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
	if len(emit.msgs) != 0 {
		t.Errorf("emitted: got %d, want 0", len(emit.msgs))
	}
}
