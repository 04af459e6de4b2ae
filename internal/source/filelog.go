package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/D0cNet/SiemCore/internal/config"
	"github.com/D0cNet/SiemCore/internal/event"
	"github.com/D0cNet/SiemCore/internal/health"
	"github.com/D0cNet/SiemCore/internal/logging"
)

func init() {
	Register("FileLog", newFileLogRunner)
}

// fileLogRunner tails a log file from its current end, normalizing each
// line into an Event. Rotation (the file shrinking or being replaced
// under the same path) is detected by comparing the current size
// against the last read offset.
type fileLogRunner struct {
	cfg          config.SourceConfig
	path         string
	agentID      string
	agentVersion string
	logger       *logging.Logger
	filters      *filterSet
	counters     *health.Counters
	pollInterval time.Duration
}

func newFileLogRunner(cfg config.SourceConfig, agentID, agentVersion string, logger *logging.Logger, counters *health.Counters) (Runner, error) {
	path, ok := cfg.Settings["path"].(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("source: FileLog %q: settings.path is required", cfg.Name)
	}
	filters, err := newFilterSet(cfg)
	if err != nil {
		return nil, err
	}
	interval := time.Duration(cfg.CollectionIntervalSec) * time.Second
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &fileLogRunner{
		cfg:          cfg,
		path:         path,
		agentID:      agentID,
		agentVersion: agentVersion,
		logger:       logger,
		filters:      filters,
		counters:     counters,
		pollInterval: interval,
	}, nil
}

func (r *fileLogRunner) Run(ctx context.Context, out chan<- event.Event) error {
	file, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("source: FileLog %q: open %s: %w", r.cfg.Name, r.path, err)
	}
	defer file.Close()

	offset, err := file.Seek(0, os.SEEK_END)
	if err != nil {
		return fmt.Errorf("source: FileLog %q: seek: %w", r.cfg.Name, err)
	}
	reader := bufio.NewReader(file)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.LogSourceEvent("stopped", r.cfg.Name)
			return nil
		case <-ticker.C:
			if rotated, newSize := r.detectRotation(offset); rotated {
				r.logger.LogSourceEvent("rotation_detected", r.cfg.Name, "path", r.path)
				file.Close()
				file, err = os.Open(r.path)
				if err != nil {
					r.logger.LogSourceEvent("reopen_failed", r.cfg.Name, "error", err.Error())
					continue
				}
				reader = bufio.NewReader(file)
				offset = 0
				_ = newSize
			}

			for {
				line, readErr := reader.ReadString('\n')
				if len(line) > 0 {
					offset += int64(len(line))
					r.emit(ctx, out, line)
				}
				if readErr != nil {
					break
				}
			}
		}
	}
}

func (r *fileLogRunner) detectRotation(offset int64) (bool, int64) {
	info, err := os.Stat(r.path)
	if err != nil {
		return false, offset
	}
	if info.Size() < offset {
		return true, info.Size()
	}
	return false, info.Size()
}

func (r *fileLogRunner) emit(ctx context.Context, out chan<- event.Event, line string) {
	sev := event.SeverityFromFileLogKeyword(line)
	if !r.filters.allow(line, sev) {
		r.counters.IncFiltered()
		return
	}

	ev := event.New("FileLog", r.cfg.Name, line, time.Now().UTC())
	ev.Severity = sev
	ev.Description = event.ClampDescription(line)
	ev.SourceIP, ev.DestinationIP = event.ExtractIPs(line)
	if ts := event.ExtractTimestamp(line); ts != nil {
		ev.Timestamp = *ts
	}
	ev.CustomFields["filePath"] = r.path
	ev.CustomFields["fileName"] = filepath.Base(r.path)
	ev.AgentID = r.agentID
	ev.AgentVersion = r.agentVersion

	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
