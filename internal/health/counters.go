package health

import "sync/atomic"

// Counters holds the agent's running totals. Every field is updated by
// atomic increment per §9 ("concurrent mutable counters — use atomic
// counters"); no mutex guards this struct.
type Counters struct {
	collected         atomic.Int64
	forwarded         atomic.Int64
	cached            atomic.Int64
	filtered          atomic.Int64
	droppedByRetry    atomic.Int64
	droppedByAge      atomic.Int64
	droppedByCapacity atomic.Int64
}

func (c *Counters) IncCollected()               { c.collected.Add(1) }
func (c *Counters) AddForwarded(n int64)        { c.forwarded.Add(n) }
func (c *Counters) AddCached(n int64)            { c.cached.Add(n) }
func (c *Counters) IncFiltered()                { c.filtered.Add(1) }
func (c *Counters) IncDroppedByRetry()          { c.droppedByRetry.Add(1) }
func (c *Counters) AddDroppedByAge(n int64)     { c.droppedByAge.Add(n) }
func (c *Counters) IncDroppedByCapacity()       { c.droppedByCapacity.Add(1) }

// Snapshot returns a consistent-enough point-in-time read of every
// counter for inclusion in a health Snapshot.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		Collected:         c.collected.Load(),
		Forwarded:         c.forwarded.Load(),
		Cached:            c.cached.Load(),
		Filtered:          c.filtered.Load(),
		DroppedByRetry:    c.droppedByRetry.Load(),
		DroppedByAge:      c.droppedByAge.Load(),
		DroppedByCapacity: c.droppedByCapacity.Load(),
	}
}
