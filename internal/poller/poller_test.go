package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/server/internal/model"
)

// scriptedClient returns one status per CheckStatus call, repeating the last
// entry once the script runs out.
type scriptedClient struct {
	mu       sync.Mutex
	statuses []model.SessionStatus
	checks   int
	starts   int
}

func (c *scriptedClient) StartSession(_ context.Context, _ uuid.UUID) (uuid.UUID, model.QRArtifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	id := uuid.New()
	return id, model.QRArtifact{SessionID: id, Code: "qr-code", ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (c *scriptedClient) CheckStatus(_ context.Context, sessionID, _ uuid.UUID) (model.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.checks
	if idx >= len(c.statuses) {
		idx = len(c.statuses) - 1
	}
	c.checks++
	return model.Session{ID: sessionID, Status: c.statuses[idx]}, nil
}

func (c *scriptedClient) checkCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checks
}

func waitResult(t *testing.T, results <-chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop never delivered a result")
		return Result{}
	}
}

func TestPoller_connectsAfterSeveralTicks(t *testing.T) {
	client := &scriptedClient{statuses: []model.SessionStatus{
		model.StatusPending, model.StatusPending, model.StatusConnected,
	}}
	p := New(client, 10*time.Millisecond, time.Second)
	defer p.Cancel()

	var qr model.QRArtifact
	results, err := p.Start(context.Background(), uuid.New(), func(a model.QRArtifact) { qr = a })
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if qr.Code != "qr-code" {
		t.Errorf("QR callback not invoked before polling, got %q", qr.Code)
	}

	r := waitResult(t, results)
	if r.Outcome != OutcomeConnected {
		t.Fatalf("outcome = %v, want connected (err: %v)", r.Outcome, r.Err)
	}
	if r.Session.Status != model.StatusConnected {
		t.Errorf("result session status = %s", r.Session.Status)
	}
	if got := client.checkCount(); got != 3 {
		t.Errorf("checks = %d, want 3", got)
	}

	// Exactly once: no second result may arrive.
	select {
	case extra := <-results:
		t.Errorf("unexpected second result: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPoller_timeoutCancelsTimer(t *testing.T) {
	client := &scriptedClient{statuses: []model.SessionStatus{model.StatusPending}}
	p := New(client, 10*time.Millisecond, 25*time.Millisecond)
	defer p.Cancel()

	results, err := p.Start(context.Background(), uuid.New(), nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	r := waitResult(t, results)
	if r.Outcome != OutcomeTimedOut {
		t.Fatalf("outcome = %v, want timed out", r.Outcome)
	}

	// No further ticks after the timeout fired.
	before := client.checkCount()
	time.Sleep(60 * time.Millisecond)
	if after := client.checkCount(); after != before {
		t.Errorf("poll loop kept ticking after timeout: %d -> %d checks", before, after)
	}
}

func TestPoller_failureStatusStopsLoop(t *testing.T) {
	client := &scriptedClient{statuses: []model.SessionStatus{
		model.StatusPending, model.StatusError,
	}}
	p := New(client, 5*time.Millisecond, time.Second)
	defer p.Cancel()

	results, err := p.Start(context.Background(), uuid.New(), nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	r := waitResult(t, results)
	if r.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", r.Outcome)
	}
	if r.Err == nil {
		t.Error("failed outcome should carry a reason")
	}
}

func TestPoller_cancelIsIdempotent(t *testing.T) {
	client := &scriptedClient{statuses: []model.SessionStatus{model.StatusPending}}
	p := New(client, 5*time.Millisecond, time.Second)

	results, err := p.Start(context.Background(), uuid.New(), nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	p.Cancel()
	p.Cancel() // second cancel must be safe

	r := waitResult(t, results)
	if r.Outcome != OutcomeFailed {
		t.Errorf("cancelled loop outcome = %v, want failed", r.Outcome)
	}
}

func TestPoller_newStartSupersedesRunningLoop(t *testing.T) {
	client := &scriptedClient{statuses: []model.SessionStatus{model.StatusPending}}
	p := New(client, 5*time.Millisecond, time.Second)
	defer p.Cancel()

	first, err := p.Start(context.Background(), uuid.New(), nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	second, err := p.Start(context.Background(), uuid.New(), nil)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}

	// The first loop must have been cancelled before the second began.
	r := waitResult(t, first)
	if r.Outcome != OutcomeFailed {
		t.Errorf("superseded loop outcome = %v, want failed", r.Outcome)
	}

	p.Cancel()
	r2 := waitResult(t, second)
	if r2.Outcome != OutcomeFailed {
		t.Errorf("cancelled second loop outcome = %v, want failed", r2.Outcome)
	}
	if client.starts != 2 {
		t.Errorf("starts = %d, want 2", client.starts)
	}
}
