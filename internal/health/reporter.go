package health

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/D0cNet/SiemCore/internal/logging"
)

const ringCapacity = 50

// Reporter owns the counters, ring buffers, and connectivity/config
// bookkeeping that make up a Snapshot, and runs the periodic push to the
// remote collector.
type Reporter struct {
	Counters Counters

	workingDir string
	startedAt  time.Time
	logger     *logging.Logger

	errors   *ring
	warnings *ring

	mu                    sync.RWMutex
	connected             bool
	lastSuccessfulConnect *time.Time
	lastConfigUpdate      *time.Time
}

// NewReporter builds a Reporter. workingDir is walked to compute the
// disk footprint resource sample.
func NewReporter(workingDir string, logger *logging.Logger) *Reporter {
	return &Reporter{
		workingDir: workingDir,
		startedAt:  time.Now().UTC(),
		logger:     logger,
		errors:     newRing(ringCapacity),
		warnings:   newRing(ringCapacity),
	}
}

// RecordError appends to the last-50-errors ring buffer.
func (r *Reporter) RecordError(message string) {
	r.errors.add(message)
}

// RecordWarning appends to the last-50-warnings ring buffer.
func (r *Reporter) RecordWarning(message string) {
	r.warnings.add(message)
}

// SetConnected updates the connectivity bit the status chain reads, and
// on a transition to connected stamps lastSuccessfulConnect.
func (r *Reporter) SetConnected(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = connected
	if connected {
		now := time.Now().UTC()
		r.lastSuccessfulConnect = &now
	}
}

// SetLastConfigUpdate stamps the most recent successful config apply,
// used by the "lastConfigUpdate > 1h old" warning condition.
func (r *Reporter) SetLastConfigUpdate(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastConfigUpdate = &at
}

// Snapshot samples resources and assembles a full Snapshot, deriving
// Status by the chain in §4.7.
func (r *Reporter) Snapshot() Snapshot {
	cpuPct, err := sampleCPUPercent()
	if err != nil {
		cpuPct = 0
	}
	memBytes, err := sampleMemBytes()
	if err != nil {
		memBytes = 0
	}
	diskBytes, err := r.diskFootprint()
	if err != nil {
		diskBytes = 0
	}

	r.mu.RLock()
	connected := r.connected
	lastSuccessfulConnect := r.lastSuccessfulConnect
	lastConfigUpdate := r.lastConfigUpdate
	r.mu.RUnlock()

	errs := r.errors.snapshot()
	warnings := r.warnings.snapshot()

	snapshot := Snapshot{
		Counters:              r.Counters.Snapshot(),
		Connected:              connected,
		LastSuccessfulConnect:  lastSuccessfulConnect,
		LastConfigUpdate:       lastConfigUpdate,
		Resources: ResourceSample{
			CPUPct:    cpuPct,
			MemBytes:  memBytes,
			DiskBytes: diskBytes,
		},
		RecentErrors:   errs,
		RecentWarnings: warnings,
		StartedAt:      r.startedAt,
	}
	snapshot.Status = deriveStatus(snapshot, lastConfigUpdate)
	return snapshot
}

// deriveStatus implements the first-match chain from §4.7.
func deriveStatus(s Snapshot, lastConfigUpdate *time.Time) Status {
	switch {
	case len(s.RecentErrors) > 0:
		return StatusError
	case !s.Connected:
		return StatusWarning
	case lastConfigUpdate != nil && time.Since(*lastConfigUpdate) > time.Hour:
		return StatusWarning
	case s.Resources.CPUPct > 80 || s.Resources.MemBytes > 1<<30:
		return StatusWarning
	case len(s.RecentWarnings) > 0:
		return StatusWarning
	default:
		return StatusRunning
	}
}

func (r *Reporter) diskFootprint() (int64, error) {
	var total int64
	err := filepath.WalkDir(r.workingDir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// Run ticks every interval, sampling and — when connected — pushing the
// snapshot via send. It returns when ctx is cancelled.
func (r *Reporter) Run(ctx context.Context, interval time.Duration, send func(context.Context, Snapshot) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := r.Snapshot()
			r.logger.LogHealthEvent("snapshot_taken", "status", string(snapshot.Status))
			if !snapshot.Connected {
				continue
			}
			if err := send(ctx, snapshot); err != nil {
				r.logger.LogHealthEvent("send_failed", "error", err.Error())
			}
		}
	}
}
