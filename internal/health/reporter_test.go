package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveStatusRunningWhenHealthy(t *testing.T) {
	s := Snapshot{Connected: true}
	assert.Equal(t, StatusRunning, deriveStatus(s, nil))
}

func TestDeriveStatusErrorTakesPriority(t *testing.T) {
	s := Snapshot{
		Connected:    false,
		RecentErrors: []LogEntry{{Message: "boom"}},
	}
	assert.Equal(t, StatusError, deriveStatus(s, nil))
}

func TestDeriveStatusWarningWhenDisconnected(t *testing.T) {
	s := Snapshot{Connected: false}
	assert.Equal(t, StatusWarning, deriveStatus(s, nil))
}

func TestDeriveStatusWarningOnStaleConfig(t *testing.T) {
	stale := time.Now().Add(-2 * time.Hour)
	s := Snapshot{Connected: true}
	assert.Equal(t, StatusWarning, deriveStatus(s, &stale))
}

func TestDeriveStatusWarningOnHighResourceUsage(t *testing.T) {
	s := Snapshot{Connected: true, Resources: ResourceSample{CPUPct: 95}}
	assert.Equal(t, StatusWarning, deriveStatus(s, nil))

	s = Snapshot{Connected: true, Resources: ResourceSample{MemBytes: 2 << 30}}
	assert.Equal(t, StatusWarning, deriveStatus(s, nil))
}

func TestDeriveStatusWarningOnRecentWarnings(t *testing.T) {
	s := Snapshot{Connected: true, RecentWarnings: []LogEntry{{Message: "disk filling up"}}}
	assert.Equal(t, StatusWarning, deriveStatus(s, nil))
}

func TestCountersSnapshot(t *testing.T) {
	var c Counters
	c.IncCollected()
	c.IncCollected()
	c.AddForwarded(3)
	c.IncDroppedByCapacity()

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.Collected)
	assert.Equal(t, int64(3), snap.Forwarded)
	assert.Equal(t, int64(1), snap.DroppedByCapacity)
}

func TestRingBufferBoundedAtCapacity(t *testing.T) {
	r := newRing(3)
	for i := 0; i < 5; i++ {
		r.add("msg")
	}
	assert.Len(t, r.snapshot(), 3)
}
