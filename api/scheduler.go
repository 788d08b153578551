/*
scheduler.go - Session countdown ticker

PURPOSE:
  Drives every active task session forward. Each pass calls
  SessionController.Tick once for every user with a session, which
  decrements the countdown by one second, pays the reward when it hits
  zero, or abandons the session when its surface was closed.

DESIGN:
  - Runs a background goroutine with a configurable interval (default 1s)
  - One pass is one second of countdown, whatever the interval
  - A failing tick is logged and retried on the next pass; the engine
    leaves the session untouched when a save fails
  - Completion is never claimed by the client; only this ticker pays

USAGE:
  ticker := NewSessionTicker(store, sessions)
  ticker.Start()
  // ... later
  ticker.Stop()

SEE ALSO:
  - engine/session.go: Tick state machine
  - surface.go: IsOpen polled during Tick
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/task-ledger/engine"
	"github.com/warp/task-ledger/metrics"
)

// TickSummary counts what one pass did.
type TickSummary struct {
	Running   int
	Completed int
	Abandoned int
	Failed    int
}

// SessionTicker advances active sessions on a fixed interval.
type SessionTicker struct {
	Store    *engine.LedgerStore
	Sessions *engine.SessionController
	Interval time.Duration
	Enabled  bool
	Metrics  *metrics.Metrics // optional

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSessionTicker creates a new ticker.
func NewSessionTicker(store *engine.LedgerStore, sessions *engine.SessionController) *SessionTicker {
	return &SessionTicker{
		Store:    store,
		Sessions: sessions,
		Interval: time.Second,
		Enabled:  true,
	}
}

// Start begins ticking.
func (st *SessionTicker) Start() {
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.Enabled {
		log.Println("[Ticker] Disabled, not starting")
		return
	}
	if st.ticker != nil {
		return
	}

	st.ticker = time.NewTicker(st.Interval)
	st.stop = make(chan struct{})
	st.wg.Add(1)

	go st.run(st.ticker, st.stop)

	log.Printf("[Ticker] Started with interval: %v", st.Interval)
}

// Stop stops the ticker and waits for the current pass to finish.
func (st *SessionTicker) Stop() {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.ticker != nil {
		st.ticker.Stop()
		close(st.stop)
		st.wg.Wait()
		st.ticker = nil
		log.Println("[Ticker] Stopped")
	}
}

func (st *SessionTicker) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer st.wg.Done()

	for {
		select {
		case <-ticker.C:
			st.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one pass synchronously.
func (st *SessionTicker) RunNow(ctx context.Context) TickSummary {
	started := time.Now()
	if err := st.Store.Refresh(ctx); err != nil {
		log.Printf("[Ticker] Error refreshing state: %v", err)
	}
	users := st.Store.ActiveSessionUsers()

	var sum TickSummary
	for _, id := range users {
		res, err := st.Sessions.Tick(ctx, id)
		if err != nil {
			log.Printf("[Ticker] Error ticking session for %s: %v", id, err)
			sum.Failed++
			continue
		}
		switch res.Outcome {
		case engine.OutcomeRunning:
			sum.Running++
		case engine.OutcomeCompleted:
			sum.Completed++
		case engine.OutcomeAbandoned:
			sum.Abandoned++
		}
	}

	if sum.Completed > 0 || sum.Abandoned > 0 || sum.Failed > 0 {
		log.Printf("[Ticker] Pass: %d running, %d completed, %d abandoned, %d failed",
			sum.Running, sum.Completed, sum.Abandoned, sum.Failed)
	}
	if st.Metrics != nil {
		st.Metrics.ObserveTickPass(len(users), time.Since(started))
	}
	return sum
}
