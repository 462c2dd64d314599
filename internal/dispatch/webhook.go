package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/EzalB/serverless-data-processing-pipeline/internal/circuitbreaker"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/domain"
)

// WebhookTarget posts the envelope payload to an HTTP endpoint with an HMAC
// signature.
// Headers: X-Orchestrator-Request-ID, X-Orchestrator-Attempt-ID, X-Orchestrator-Signature.
type WebhookTarget struct {
	name    string
	url     string
	secret  string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker // optional, nil = disabled
}

func NewWebhookTarget(name, url, secret string) *WebhookTarget {
	return &WebhookTarget{
		name:   name,
		url:    url,
		secret: secret,
		client: &http.Client{},
	}
}

// WithBreaker attaches a circuit breaker shared across webhook targets.
func (t *WebhookTarget) WithBreaker(cb *circuitbreaker.CircuitBreaker) *WebhookTarget {
	t.breaker = cb
	return t
}

func (t *WebhookTarget) Name() string {
	return t.name
}

// Deliver posts the payload. The attempt deadline comes from the caller's
// context; no timeout is applied here.
func (t *WebhookTarget) Deliver(ctx context.Context, env domain.Envelope) error {
	if t.breaker != nil {
		if err := t.breaker.Allow(t.name); err != nil {
			return err
		}
	}

	body, err := json.Marshal(newPayload(env))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Orchestrator-Request-ID", env.ID)
	req.Header.Set("X-Orchestrator-Attempt-ID", uuid.NewString())
	req.Header.Set("X-Orchestrator-Signature", computeSignature(t.secret, body))

	resp, err := t.client.Do(req)
	if err != nil {
		t.recordFailure()
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.recordFailure()
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if t.breaker != nil {
		t.breaker.RecordSuccess(t.name)
	}
	return nil
}

func (t *WebhookTarget) recordFailure() {
	if t.breaker != nil {
		t.breaker.RecordFailure(t.name)
	}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for downstream receivers to verify incoming deliveries.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

var _ Target = (*WebhookTarget)(nil)
