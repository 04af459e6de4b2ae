// Package supervisor tracks whether the agent can currently reach the
// remote collector and drives the CONNECTED/DISCONNECTED state machine
// from §4.5. It is fed by every forwarder call outcome (via the
// Observer interface it satisfies) and by its own periodic probe, and
// in turn drives the health reporter's connectivity bit and the
// pipeline's immediate-drain trigger.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/D0cNet/SiemCore/internal/logging"
)

// State is one of the two connectivity states.
type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Prober checks remote liveness without sending any payload.
type Prober interface {
	Probe(ctx context.Context) error
}

// Callback is invoked on every state transition, in its own goroutine
// so a slow subscriber never blocks the supervisor.
type Callback func(previous, current State)

// Supervisor holds the current connectivity state and notifies
// registered callbacks of transitions. Per §4.5 there is no failure
// hysteresis: a single success while DISCONNECTED transitions to
// CONNECTED, and a single failure while CONNECTED transitions back.
// Repeated same-result observations only move lastSuccessfulConnect.
type Supervisor struct {
	mu                    sync.RWMutex
	state                 State
	prober                Prober
	logger                *logging.Logger
	lastSuccessfulConnect time.Time

	callbackMu sync.RWMutex
	callbacks  []Callback
}

// New builds a Supervisor starting in the disconnected state — the
// agent assumes nothing about the network until its first successful
// call or probe.
func New(prober Prober, logger *logging.Logger) *Supervisor {
	return &Supervisor{
		state:  StateDisconnected,
		prober: prober,
		logger: logger,
	}
}

// SetProber attaches the prober used by Run, for callers that must
// construct the Supervisor before its prober exists (the prober is
// typically the forwarder client, which itself takes the Supervisor as
// its connectivity Observer).
func (s *Supervisor) SetProber(prober Prober) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prober = prober
}

// AddCallback registers a function to run on every transition.
func (s *Supervisor) AddCallback(cb Callback) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// State returns the current connectivity state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Connected reports whether the supervisor currently believes the
// remote is reachable.
func (s *Supervisor) Connected() bool {
	return s.State() == StateConnected
}

// ObserveSuccess satisfies forwarder.Observer. A success while
// DISCONNECTED transitions to CONNECTED (ConnectionUp); a success
// while already CONNECTED just updates lastSuccessfulConnect.
func (s *Supervisor) ObserveSuccess() {
	s.mu.Lock()
	s.lastSuccessfulConnect = time.Now().UTC()
	s.mu.Unlock()
	s.transitionTo(StateConnected)
}

// ObserveFailure satisfies forwarder.Observer. A failure while
// CONNECTED transitions to DISCONNECTED (ConnectionDown); a failure
// while already DISCONNECTED is a no-op.
func (s *Supervisor) ObserveFailure() {
	s.transitionTo(StateDisconnected)
}

func (s *Supervisor) transitionTo(next State) {
	s.mu.Lock()
	previous := s.state
	if previous == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.LogConnectivityEvent("state_changed", "from", string(previous), "to", string(next))
	}
	s.notify(previous, next)
}

func (s *Supervisor) notify(previous, current State) {
	s.callbackMu.RLock()
	defer s.callbackMu.RUnlock()
	for _, cb := range s.callbacks {
		go cb(previous, current)
	}
}

// Run probes the remote on every tick regardless of current state, so
// a silent link with no forwarder traffic is still detected, per
// §4.5's "regardless of state" requirement.
func (s *Supervisor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			prober := s.prober
			s.mu.RUnlock()
			if prober == nil {
				continue
			}
			probeCtx, cancel := context.WithTimeout(ctx, interval)
			err := prober.Probe(probeCtx)
			cancel()
			if err == nil {
				s.ObserveSuccess()
			} else {
				s.ObserveFailure()
			}
		}
	}
}
