// Package source implements the three source runner types from §4.3 —
// FileLog, OsEvent, and Syslog — behind a small registry/factory
// pattern so the agent composition root never branches on source type
// itself.
package source

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/D0cNet/SiemCore/internal/config"
	"github.com/D0cNet/SiemCore/internal/event"
	"github.com/D0cNet/SiemCore/internal/health"
	"github.com/D0cNet/SiemCore/internal/logging"
)

// Runner collects events from one configured source and emits them on
// out until ctx is cancelled or an unrecoverable error occurs. Run
// must select on ctx.Done() to exit promptly.
type Runner interface {
	Run(ctx context.Context, out chan<- event.Event) error
}

// Factory builds a Runner from a SourceConfig. Factories validate
// settings and return a descriptive error rather than starting any I/O
// themselves.
type Factory func(cfg config.SourceConfig, agentID, agentVersion string, logger *logging.Logger, counters *health.Counters) (Runner, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a factory under sourceType. Called from each runner's
// own file via an init function, mirroring the corpus's
// register-yourself idiom.
func Register(sourceType string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[sourceType] = factory
}

// New looks up cfg.Type in the registry and builds a Runner. An
// unrecognized type is a configuration error, not a panic — the
// caller disables the source and logs the error, per §4.3.
func New(cfg config.SourceConfig, agentID, agentVersion string, logger *logging.Logger, counters *health.Counters) (Runner, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("source: unrecognized type %q for source %q", cfg.Type, cfg.Name)
	}
	return factory(cfg, agentID, agentVersion, logger, counters)
}

// filterSet compiles the include/exclude/severity filter knobs of a
// SourceConfig once at construction time, so the runner's hot path
// never recompiles a regexp per line.
type filterSet struct {
	include  []*regexp.Regexp
	exclude  []*regexp.Regexp
	severity event.Severity
	hasSev   bool
}

func newFilterSet(cfg config.SourceConfig) (*filterSet, error) {
	fs := &filterSet{}
	for _, pattern := range cfg.IncludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("source: %s: bad includePattern %q: %w", cfg.Name, pattern, err)
		}
		fs.include = append(fs.include, re)
	}
	for _, pattern := range cfg.ExcludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("source: %s: bad excludePattern %q: %w", cfg.Name, pattern, err)
		}
		fs.exclude = append(fs.exclude, re)
	}
	if cfg.SeverityFilter != "" {
		fs.severity = event.NormalizeSeverity(cfg.SeverityFilter)
		fs.hasSev = true
	}
	return fs, nil
}

// allow reports whether a raw line and its normalized severity survive
// this source's filters. Exclude beats include; a configured severity
// filter requires an exact (case-insensitive) match, not a floor.
func (fs *filterSet) allow(raw string, sev event.Severity) bool {
	for _, re := range fs.exclude {
		if re.MatchString(raw) {
			return false
		}
	}
	if len(fs.include) > 0 {
		matched := false
		for _, re := range fs.include {
			if re.MatchString(raw) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if fs.hasSev && sev != fs.severity {
		return false
	}
	return true
}
