package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/EzalB/serverless-data-processing-pipeline/internal/dispatch"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/domain"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/ledger"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/router"
)

// recordingTarget tracks deliveries and optionally fails them.
type recordingTarget struct {
	name string
	err  error

	mu    sync.Mutex
	calls int
}

func (t *recordingTarget) Name() string { return t.name }

func (t *recordingTarget) Deliver(ctx context.Context, env domain.Envelope) error {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	return t.err
}

func (t *recordingTarget) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// faultyLedger returns a configured error from Admit.
type faultyLedger struct {
	ledger.Ledger
	admitErr error
}

func (l *faultyLedger) Admit(ctx context.Context, id string, now time.Time) (ledger.Admission, error) {
	if l.admitErr != nil {
		return ledger.Admission{}, l.admitErr
	}
	return l.Ledger.Admit(ctx, id, now)
}

// contextBoundLedger refuses writes once the supplied context is done, the
// way the redis and postgres backends do.
type contextBoundLedger struct {
	*ledger.MemoryLedger
}

func (l *contextBoundLedger) Admit(ctx context.Context, id string, now time.Time) (ledger.Admission, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Admission{}, err
	}
	return l.MemoryLedger.Admit(ctx, id, now)
}

func (l *contextBoundLedger) Complete(ctx context.Context, id string, outcome domain.Outcome, failed []string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.MemoryLedger.Complete(ctx, id, outcome, failed, now)
}

// cancellingTarget cancels the caller's context while delivering, simulating
// a client that disconnects mid-dispatch.
type cancellingTarget struct {
	name   string
	cancel context.CancelFunc

	mu    sync.Mutex
	calls int
}

func (t *cancellingTarget) Name() string { return t.name }

func (t *cancellingTarget) Deliver(ctx context.Context, env domain.Envelope) error {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	t.cancel()
	return nil
}

func (t *cancellingTarget) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// admitThenCancelLedger cancels the caller's context as soon as admission
// succeeds, so the terminal write runs against a cancelled caller.
type admitThenCancelLedger struct {
	contextBoundLedger
	cancel context.CancelFunc
}

func (l *admitThenCancelLedger) Admit(ctx context.Context, id string, now time.Time) (ledger.Admission, error) {
	adm, err := l.contextBoundLedger.Admit(ctx, id, now)
	l.cancel()
	return adm, err
}

func newTestEngine(t *testing.T, targets ...dispatch.Target) (*Engine, *ledger.MemoryLedger) {
	t.Helper()

	names := make([]string, 0, len(targets))
	for _, tg := range targets {
		names = append(names, tg.Name())
	}
	rule, err := router.CompileRule("1.x", names)
	if err != nil {
		t.Fatalf("CompileRule failed: %v", err)
	}

	led := ledger.NewMemoryLedger()
	eng := New(led, router.New([]router.Rule{rule}), dispatch.NewRegistry(targets...), dispatch.NewFanout(dispatch.DefaultConfig()))
	return eng, led
}

func rawEvent(id string) domain.RawEvent {
	return domain.RawEvent{
		RequestID:     id,
		Filename:      "data.csv",
		SchemaVersion: "1.0",
		ReceivedAt:    time.Now(),
	}
}

func TestEngine_HappyPath(t *testing.T) {
	target := &recordingTarget{name: "primary"}
	eng, led := newTestEngine(t, target)

	result, err := eng.Submit(context.Background(), rawEvent("req-1"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if result.Status != StatusProcessed {
		t.Errorf("status: got %v, want processed", result.Status)
	}
	if result.Replayed {
		t.Error("first submission marked as replayed")
	}
	if target.callCount() != 1 {
		t.Errorf("deliveries: got %d, want 1", target.callCount())
	}

	rec, ok := led.Get("req-1")
	if !ok {
		t.Fatal("ledger record missing")
	}
	if rec.State != ledger.StateSucceeded {
		t.Errorf("ledger state: got %v, want succeeded", rec.State)
	}
}

// TestEngine_DuplicateReplaysOutcome verifies a repeated submission returns
// the recorded outcome without dispatching again.
func TestEngine_DuplicateReplaysOutcome(t *testing.T) {
	target := &recordingTarget{name: "primary"}
	eng, _ := newTestEngine(t, target)

	if _, err := eng.Submit(context.Background(), rawEvent("req-1")); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}

	result, err := eng.Submit(context.Background(), rawEvent("req-1"))
	if err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}

	if !result.Replayed {
		t.Error("duplicate not marked as replayed")
	}
	if result.Status != StatusProcessed {
		t.Errorf("replayed status: got %v, want processed", result.Status)
	}
	if target.callCount() != 1 {
		t.Errorf("deliveries: got %d, want 1 (no re-dispatch)", target.callCount())
	}
}

func TestEngine_PartialFailure(t *testing.T) {
	healthy := &recordingTarget{name: "healthy"}
	failing := &recordingTarget{name: "failing", err: errors.New("boom")}
	eng, led := newTestEngine(t, healthy, failing)

	result, err := eng.Submit(context.Background(), rawEvent("req-1"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if result.Status != StatusPartial {
		t.Errorf("status: got %v, want partial", result.Status)
	}
	if len(result.FailedTargets) != 1 || result.FailedTargets[0] != "failing" {
		t.Errorf("failed targets: got %v, want [failing]", result.FailedTargets)
	}

	rec, _ := led.Get("req-1")
	if rec.State != ledger.StateFailed {
		t.Errorf("ledger state: got %v, want failed", rec.State)
	}

	// Replay returns the same failed targets.
	replay, err := eng.Submit(context.Background(), rawEvent("req-1"))
	if err != nil {
		t.Fatalf("replay Submit failed: %v", err)
	}
	if replay.Status != StatusPartial || len(replay.FailedTargets) != 1 {
		t.Errorf("replay: got status=%v failed=%v", replay.Status, replay.FailedTargets)
	}
	if healthy.callCount() != 1 || failing.callCount() != 1 {
		t.Error("replay re-dispatched deliveries")
	}
}

// TestEngine_RejectedNeverTouchesLedger verifies malformed input is terminal
// and occupies no ledger slot.
func TestEngine_RejectedNeverTouchesLedger(t *testing.T) {
	target := &recordingTarget{name: "primary"}
	eng, led := newTestEngine(t, target)

	result, err := eng.Submit(context.Background(), domain.RawEvent{
		RequestID:     "req-1",
		SchemaVersion: "1.0",
	})
	if err != nil {
		t.Fatalf("Submit returned engine fault for malformed input: %v", err)
	}

	if result.Status != StatusRejected {
		t.Errorf("status: got %v, want rejected", result.Status)
	}
	if led.Len() != 0 {
		t.Errorf("ledger records: got %d, want 0", led.Len())
	}
	if target.callCount() != 0 {
		t.Errorf("deliveries: got %d, want 0", target.callCount())
	}

	// A later valid submission with the same id processes normally.
	again, err := eng.Submit(context.Background(), rawEvent("req-1"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if again.Status != StatusProcessed {
		t.Errorf("status: got %v, want processed", again.Status)
	}
}

func TestEngine_UnroutedIsRecorded(t *testing.T) {
	target := &recordingTarget{name: "primary"}
	eng, led := newTestEngine(t, target)

	result, err := eng.Submit(context.Background(), domain.RawEvent{
		RequestID:     "req-1",
		Filename:      "data.csv",
		SchemaVersion: "9.0",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if result.Status != StatusUnrouted {
		t.Errorf("status: got %v, want unrouted", result.Status)
	}
	if target.callCount() != 0 {
		t.Errorf("deliveries: got %d, want 0", target.callCount())
	}

	rec, ok := led.Get("req-1")
	if !ok {
		t.Fatal("unrouted outcome not recorded in ledger")
	}
	if rec.Outcome != domain.OutcomeUnrouted {
		t.Errorf("outcome: got %v, want unrouted", rec.Outcome)
	}

	// A duplicate replays unrouted without re-resolving.
	replay, err := eng.Submit(context.Background(), domain.RawEvent{
		RequestID:     "req-1",
		Filename:      "data.csv",
		SchemaVersion: "9.0",
	})
	if err != nil {
		t.Fatalf("replay Submit failed: %v", err)
	}
	if replay.Status != StatusUnrouted || !replay.Replayed {
		t.Errorf("replay: got status=%v replayed=%v", replay.Status, replay.Replayed)
	}
}

func TestEngine_LedgerFaultReturnsError(t *testing.T) {
	target := &recordingTarget{name: "primary"}
	eng, led := newTestEngine(t, target)
	eng.ledger = &faultyLedger{Ledger: led, admitErr: errors.New("connection refused")}

	_, err := eng.Submit(context.Background(), rawEvent("req-1"))
	if err == nil {
		t.Fatal("expected engine fault for ledger error")
	}
	if target.callCount() != 0 {
		t.Errorf("deliveries: got %d, want 0", target.callCount())
	}
}

// TestEngine_ConcurrentSameID verifies concurrent submissions of one id
// dispatch exactly once; the losers observe busy or the recorded outcome.
func TestEngine_ConcurrentSameID(t *testing.T) {
	target := &recordingTarget{name: "primary"}
	eng, _ := newTestEngine(t, target)

	const goroutines = 20
	var wg sync.WaitGroup
	results := make([]Result, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := eng.Submit(context.Background(), rawEvent("contested"))
			if err != nil {
				t.Errorf("Submit failed: %v", err)
				return
			}
			results[i] = result
		}(i)
	}
	wg.Wait()

	if target.callCount() != 1 {
		t.Fatalf("deliveries: got %d, want exactly 1", target.callCount())
	}

	processed := 0
	for _, r := range results {
		switch r.Status {
		case StatusProcessed:
			processed++
		case StatusBusy:
		default:
			t.Errorf("unexpected status %v", r.Status)
		}
	}
	if processed < 1 {
		t.Error("no submission reported processed")
	}
}

// TestEngine_CallerCancelStillRecordsOutcome verifies that once an envelope
// is admitted, a caller disconnecting mid-dispatch does not strand the record
// in flight: the terminal write lands and replays find the outcome.
func TestEngine_CallerCancelStillRecordsOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	target := &cancellingTarget{name: "primary", cancel: cancel}
	eng, led := newTestEngine(t, target)
	eng.ledger = &contextBoundLedger{MemoryLedger: led}

	result, err := eng.Submit(ctx, rawEvent("req-1"))
	if err != nil {
		t.Fatalf("Submit failed after caller cancellation: %v", err)
	}
	if result.Status != StatusProcessed {
		t.Errorf("status: got %v, want processed", result.Status)
	}
	if target.callCount() != 1 {
		t.Errorf("deliveries: got %d, want 1", target.callCount())
	}

	rec, ok := led.Get("req-1")
	if !ok {
		t.Fatal("ledger record missing after caller cancellation")
	}
	if rec.State != ledger.StateSucceeded {
		t.Errorf("ledger state: got %v, want succeeded", rec.State)
	}

	// A redelivery replays the recorded outcome instead of answering busy.
	replay, err := eng.Submit(context.Background(), rawEvent("req-1"))
	if err != nil {
		t.Fatalf("replay Submit failed: %v", err)
	}
	if replay.Status != StatusProcessed || !replay.Replayed {
		t.Errorf("replay: got status=%v replayed=%v", replay.Status, replay.Replayed)
	}
	if target.callCount() != 1 {
		t.Errorf("deliveries after replay: got %d, want 1", target.callCount())
	}
}

// TestEngine_CallerCancelStillRecordsUnrouted covers the same guarantee on
// the unrouted path.
func TestEngine_CallerCancelStillRecordsUnrouted(t *testing.T) {
	target := &recordingTarget{name: "primary"}
	eng, led := newTestEngine(t, target)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// There is no delivery to cancel from on this path, so the ledger wrapper
	// cancels the caller as soon as admission succeeds.
	eng.ledger = &admitThenCancelLedger{
		contextBoundLedger: contextBoundLedger{MemoryLedger: led},
		cancel:             cancel,
	}

	result, err := eng.Submit(ctx, domain.RawEvent{
		RequestID:     "req-1",
		Filename:      "data.csv",
		SchemaVersion: "9.0",
	})
	if err != nil {
		t.Fatalf("Submit failed after caller cancellation: %v", err)
	}
	if result.Status != StatusUnrouted {
		t.Errorf("status: got %v, want unrouted", result.Status)
	}

	rec, ok := led.Get("req-1")
	if !ok {
		t.Fatal("unrouted outcome not recorded after caller cancellation")
	}
	if rec.Outcome != domain.OutcomeUnrouted {
		t.Errorf("outcome: got %v, want unrouted", rec.Outcome)
	}
}

func TestEngine_BusyIsNotTerminal(t *testing.T) {
	r := Result{Status: StatusBusy}
	if r.Terminal() {
		t.Error("busy must not be terminal")
	}
	for _, s := range []Status{StatusProcessed, StatusPartial, StatusUnrouted, StatusRejected} {
		if !(Result{Status: s}).Terminal() {
			t.Errorf("%v must be terminal", s)
		}
	}
}
