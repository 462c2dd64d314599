// Package api exposes the HTTP boundary: synchronous submissions on
// /process, asynchronous enqueue on /enqueue and health checks.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/EzalB/serverless-data-processing-pipeline/internal/domain"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/engine"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/transport/channel"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Submitter accepts raw events for processing.
type Submitter interface {
	Submit(ctx context.Context, raw domain.RawEvent) (engine.Result, error)
}

// Emitter places messages onto the internal queue.
type Emitter interface {
	Emit(ctx context.Context, msg domain.QueueMessage) error
}

// HealthChecker reports ledger backend reachability.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Handler serves the orchestrator HTTP API.
type Handler struct {
	engine  Submitter
	bus     Emitter
	health  HealthChecker
	service string
	env     string
}

func NewHandler(eng Submitter, bus Emitter, health HealthChecker, service, env string) *Handler {
	return &Handler{
		engine:  eng,
		bus:     bus,
		health:  health,
		service: service,
		env:     env,
	}
}

// Routes returns the HTTP mux for the API.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/process", h.handleProcess)
	mux.HandleFunc("/enqueue", h.handleEnqueue)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.URL.Query().Get("verbose") != "true" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok")
		return
	}

	resp := HealthResponse{
		Status:  "ok",
		Service: h.service,
		Env:     h.env,
		Ledger:  "ok",
	}
	code := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.health.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Ledger = err.Error()
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, resp)
}

func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req ProcessRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	raw := domain.RawEvent{
		RequestID:     req.RequestID,
		Filename:      req.Filename,
		SchemaVersion: req.SchemaVersion,
		Source:        req.Source,
		Payload:       body,
		ReceivedAt:    time.Now(),
	}

	result, err := h.engine.Submit(r.Context(), raw)
	if err != nil {
		log.Printf("api: submission failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// The engine's terminal state travels in the body; transport-level errors
	// alone use non-200 codes.
	writeJSON(w, http.StatusOK, ProcessResponse{
		RequestID:     result.RequestID,
		Filename:      result.Filename,
		SchemaVersion: result.SchemaVersion,
		Status:        string(result.Status),
		FailedTargets: result.FailedTargets,
		ProcessedAt:   result.ProcessedAt.UTC().Format(time.RFC3339),
		Service:       h.service,
		Env:           h.env,
	})
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg := domain.QueueMessage{
		ID:       uuid.NewString(),
		Body:     body,
		Received: time.Now(),
	}

	if err := h.bus.Emit(r.Context(), msg); err != nil {
		if errors.Is(err, channel.ErrBufferFull) {
			writeError(w, http.StatusServiceUnavailable, "queue is full, retry later")
			return
		}
		log.Printf("api: enqueue failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, EnqueueResponse{
		MessageID: msg.ID,
		Status:    "accepted",
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}
