package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeProber struct {
	mu  sync.Mutex
	err error
}

func (f *fakeProber) Probe(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeProber) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func TestStartsDisconnected(t *testing.T) {
	s := New(&fakeProber{}, nil)
	assert.Equal(t, StateDisconnected, s.State())
	assert.False(t, s.Connected())
}

func TestSuccessFlipsToConnectedImmediately(t *testing.T) {
	s := New(&fakeProber{}, nil)
	s.ObserveSuccess()
	assert.True(t, s.Connected())
}

func TestSingleFailureTripsDisconnectWithNoHysteresis(t *testing.T) {
	s := New(&fakeProber{}, nil)
	s.ObserveSuccess()
	s.ObserveFailure()
	assert.False(t, s.Connected(), "a single failure while connected must trip disconnect per §4.5")
}

func TestRepeatedFailuresWhileDisconnectedDoNotReemitTransition(t *testing.T) {
	s := New(&fakeProber{}, nil)
	var transitions int
	s.AddCallback(func(_, _ State) { transitions++ })

	s.ObserveFailure()
	s.ObserveFailure()
	s.ObserveFailure()
	assert.False(t, s.Connected())
	assert.Zero(t, transitions, "starting disconnected, repeated failures fire no transition")
}

func TestSuccessAfterFailureReconnectsImmediately(t *testing.T) {
	s := New(&fakeProber{}, nil)
	s.ObserveSuccess()
	s.ObserveFailure()
	assert.False(t, s.Connected())
	s.ObserveSuccess()
	assert.True(t, s.Connected())
}

func TestCallbackFiresOnTransition(t *testing.T) {
	s := New(&fakeProber{}, nil)
	done := make(chan struct{}, 1)
	var gotFrom, gotTo State
	s.AddCallback(func(previous, current State) {
		gotFrom, gotTo = previous, current
		done <- struct{}{}
	})

	s.ObserveSuccess()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}
	assert.Equal(t, StateDisconnected, gotFrom)
	assert.Equal(t, StateConnected, gotTo)
}

func TestRunProbesRegardlessOfCurrentState(t *testing.T) {
	prober := &fakeProber{}
	s := New(prober, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, 20*time.Millisecond)

	assert.Eventually(t, func() bool { return s.Connected() }, time.Second, 10*time.Millisecond)

	prober.setErr(errors.New("down"))
	assert.Eventually(t, func() bool { return !s.Connected() }, time.Second, 10*time.Millisecond)
}

func TestRunRecoversViaProbeWhenDisconnected(t *testing.T) {
	prober := &fakeProber{err: errors.New("down")}
	s := New(prober, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, 20*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.False(t, s.Connected())

	prober.setErr(nil)
	assert.Eventually(t, func() bool { return s.Connected() }, time.Second, 10*time.Millisecond)
}
