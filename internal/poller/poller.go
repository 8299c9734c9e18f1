// Package poller drives the client side of the pairing handshake: start a
// session, show the QR, then poll status until a terminal outcome. One timer,
// one goroutine, every exit path cancels both.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/server/internal/model"
)

const (
	// DefaultInterval matches the 3-second cadence the web client used.
	DefaultInterval = 3 * time.Second
	// DefaultTimeout is the client-side safety net against zombie polling.
	DefaultTimeout = 5 * time.Minute
)

// Outcome is one of exactly three terminal poll results. The UI is never left
// in an indefinite "connecting" state without a live timer behind it.
type Outcome int

const (
	OutcomeConnected Outcome = iota
	OutcomeFailed
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConnected:
		return "connected"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed out"
	}
	return "unknown"
}

// Result is delivered exactly once per poll loop.
type Result struct {
	Outcome Outcome
	Session model.Session
	Err     error
}

// SessionClient is the slice of the lifecycle manager the poller needs.
type SessionClient interface {
	StartSession(ctx context.Context, ownerID uuid.UUID) (uuid.UUID, model.QRArtifact, error)
	CheckStatus(ctx context.Context, sessionID, ownerID uuid.UUID) (model.Session, error)
}

// Poller runs at most one poll loop at a time. Starting a new session cancels
// any loop already in flight.
type Poller struct {
	client   SessionClient
	interval time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a poller. Non-positive interval/timeout fall back to defaults.
func New(client SessionClient, interval, timeout time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Poller{client: client, interval: interval, timeout: timeout}
}

// Start begins a new session for the owner and polls until a terminal
// outcome. The QR artifact is handed to onQR before polling begins; the
// single Result arrives on the returned channel. Any previous loop is
// cancelled and drained first.
func (p *Poller) Start(ctx context.Context, ownerID uuid.UUID, onQR func(model.QRArtifact)) (<-chan Result, error) {
	p.Cancel()

	sessionID, qr, err := p.client.StartSession(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if onQR != nil {
		onQR(qr)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	results := make(chan Result, 1)
	go p.loop(loopCtx, sessionID, ownerID, results, done)
	return results, nil
}

// loop owns the timer. The next tick is armed only after the previous check
// settles, so a slow remote check never stacks concurrent requests.
func (p *Poller) loop(ctx context.Context, sessionID, ownerID uuid.UUID, results chan<- Result, done chan struct{}) {
	defer close(done)

	deadline := time.Now().Add(p.timeout)
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	deliver := func(r Result) {
		// Buffered channel of one; the loop exits right after, so the
		// outcome fires exactly once no matter how the exit was reached.
		results <- r
	}

	for {
		select {
		case <-ctx.Done():
			deliver(Result{Outcome: OutcomeFailed, Err: ctx.Err()})
			return
		case <-timer.C:
		}

		s, err := p.client.CheckStatus(ctx, sessionID, ownerID)
		if err != nil {
			deliver(Result{Outcome: OutcomeFailed, Err: err})
			return
		}

		switch s.Status {
		case model.StatusConnected:
			deliver(Result{Outcome: OutcomeConnected, Session: s})
			return
		case model.StatusDisconnected, model.StatusError:
			deliver(Result{
				Outcome: OutcomeFailed,
				Session: s,
				Err:     fmt.Errorf("%w: %s", model.ErrSessionEstablishmentFailed, s.StatusReason),
			})
			return
		}

		// Monotonic deadline check after every settled poll, independent of
		// whether the server ever marks the session failed.
		if !time.Now().Before(deadline) {
			deliver(Result{Outcome: OutcomeTimedOut, Session: s, Err: model.ErrSessionEstablishmentFailed})
			return
		}
		timer.Reset(p.interval)
	}
}

// Cancel stops the active poll loop, if any, and waits for it to exit.
// Calling it twice, or with no loop running, is safe.
func (p *Poller) Cancel() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
