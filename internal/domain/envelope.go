package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RawEvent is one unit of inbound work as handed over by a boundary adapter,
// before any validation. Either boundary (HTTP or queue) produces the same
// shape.
type RawEvent struct {
	RequestID     string
	Filename      string
	SchemaVersion string
	Source        string
	Payload       json.RawMessage
	ReceivedAt    time.Time
}

// Envelope is the canonical in-memory representation of one unit of work.
// Immutable once built by Normalize.
type Envelope struct {
	ID            string
	Filename      string
	SchemaVersion Version
	Source        string
	ReceivedAt    time.Time
	Payload       json.RawMessage
}

// ValidationError describes malformed inbound input. It is terminal and is
// never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Field + ": " + e.Message
}

// Normalize validates raw input and builds an Envelope. The identifier is
// caller-supplied when present, otherwise generated. No side effects.
func Normalize(raw RawEvent) (Envelope, error) {
	if strings.TrimSpace(raw.Filename) == "" {
		return Envelope{}, &ValidationError{Field: "filename", Message: "must not be blank"}
	}
	if strings.TrimSpace(raw.SchemaVersion) == "" {
		return Envelope{}, &ValidationError{Field: "schemaVersion", Message: "must not be blank"}
	}

	version, err := ParseVersion(raw.SchemaVersion)
	if err != nil {
		return Envelope{}, &ValidationError{Field: "schemaVersion", Message: err.Error()}
	}

	id := strings.TrimSpace(raw.RequestID)
	if id == "" {
		id = uuid.NewString()
	}

	receivedAt := raw.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	return Envelope{
		ID:            id,
		Filename:      raw.Filename,
		SchemaVersion: version,
		Source:        raw.Source,
		ReceivedAt:    receivedAt.UTC(),
		Payload:       raw.Payload,
	}, nil
}
