// Package config holds the agent's validated settings and the manager
// that validates, backs up, applies, and rolls them back.
package config

// LogLevel enumerates the levels the agent accepts for AgentConfig.logLevel.
type LogLevel string

const (
	LogLevelTrace       LogLevel = "Trace"
	LogLevelDebug       LogLevel = "Debug"
	LogLevelInformation LogLevel = "Information"
	LogLevelWarning     LogLevel = "Warning"
	LogLevelError       LogLevel = "Error"
	LogLevelCritical    LogLevel = "Critical"
)

// SourceConfig describes one configured source runner. A source is usable
// only when Type is recognized by the runtime registry and Settings pass
// that type's validator.
type SourceConfig struct {
	Name                  string            `json:"name"`
	Type                  string            `json:"type"`
	Enabled               bool              `json:"enabled"`
	CollectionIntervalSec int               `json:"collectionIntervalSec"`
	Settings              map[string]any    `json:"settings,omitempty"`
	IncludePatterns       []string          `json:"includePatterns,omitempty"`
	ExcludePatterns       []string          `json:"excludePatterns,omitempty"`
	SeverityFilter        string            `json:"severityFilter,omitempty"`

	// LastError is transient, in-memory only, and never persisted to the
	// config file. The agent does not set it: a source that fails to
	// start is reported by the source_disabled log event instead.
	LastError string `json:"lastError,omitempty"`
}

// AgentSection is the "Agent" top-level section of the config file:
// identity, logging, feature flags, and the source list.
type AgentSection struct {
	AgentID              string         `json:"agentId"`
	AgentVersion         string         `json:"agentVersion"`
	LogLevel             LogLevel       `json:"logLevel"`
	EnableLocalAnalysis  bool           `json:"enableLocalAnalysis"`
	EnableEventFiltering bool           `json:"enableEventFiltering"`
	Sources              []SourceConfig `json:"sources"`
}

// SiemCoreSection is the "SiemCore" top-level section of the config file:
// forwarder identity and sizing knobs.
type SiemCoreSection struct {
	APIBaseURL               string `json:"apiBaseUrl"`
	APIKey                   string `json:"apiKey"`
	BatchSize                int    `json:"batchSize"`
	FlushIntervalSec         int    `json:"flushIntervalSec"`
	MaxRetries               int    `json:"maxRetries"`
	RetryDelaySec            int    `json:"retryDelaySec"`
	MaxCachedEvents          int    `json:"maxCachedEvents"`
	HealthCheckIntervalSec   int    `json:"healthCheckIntervalSec"`
	ConfigRefreshIntervalSec int    `json:"configRefreshIntervalSec"`
}

// AgentConfig is the full validated settings document: the in-memory
// union of the Agent and SiemCore file sections, plus the bootstrap-only
// working directory that is never written to the file.
type AgentConfig struct {
	Agent     AgentSection    `json:"Agent"`
	SiemCore  SiemCoreSection `json:"SiemCore"`
	WorkingDir string         `json:"-"`
}

// Clone returns a deep-enough copy for comparison and rollback purposes:
// safe to mutate without affecting the original.
func (c AgentConfig) Clone() AgentConfig {
	clone := c
	clone.Agent.Sources = make([]SourceConfig, len(c.Agent.Sources))
	copy(clone.Agent.Sources, c.Agent.Sources)
	return clone
}

// restartFields are compared to classify a pending change as
// restart-required per §4.8.
func (c AgentConfig) restartFields() (apiBaseUrl, apiKey string, healthCheckIntervalSec, configRefreshIntervalSec int) {
	return c.SiemCore.APIBaseURL, c.SiemCore.APIKey, c.SiemCore.HealthCheckIntervalSec, c.SiemCore.ConfigRefreshIntervalSec
}
