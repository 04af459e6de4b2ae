package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrValidationFailed is returned by Apply when the candidate document
// fails Validate; the prior config remains in effect.
var ErrValidationFailed = errors.New("config: validation failed")

const (
	configFileName = "config.json"
	backupFileName = "config.json.bak"
	filePerm        = 0o600
)

// ConfigUpdated is published to every subscriber whenever Apply or
// Restore completes successfully.
type ConfigUpdated struct {
	Previous        AgentConfig
	New             AgentConfig
	Timestamp       time.Time
	Source          string
	RestartRequired bool
}

// Manager owns the current AgentConfig, the on-disk file, and its single
// backup slot. All methods are safe for concurrent use; subscribers
// receive a consistent snapshot at the moment of each successful change.
type Manager struct {
	mu         sync.RWMutex
	current    AgentConfig
	rawDoc     map[string]json.RawMessage
	configPath string
	backupPath string
	logger     *slog.Logger

	subMu       sync.Mutex
	subscribers []chan ConfigUpdated
}

// NewManager constructs a Manager rooted at workingDir. Call Load or
// Bootstrap before relying on Current.
func NewManager(workingDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		configPath: filepath.Join(workingDir, configFileName),
		backupPath: filepath.Join(workingDir, backupFileName),
		logger:     logger,
	}
}

// Load reads the on-disk config file into memory. If the file does not
// exist, Bootstrap must be called first.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("config: load: %w", err)
	}
	raw, cfg, err := decodeDocument(data)
	if err != nil {
		return fmt.Errorf("config: load: parse: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rawDoc = raw
	m.current = cfg
	return nil
}

// Bootstrap writes defaultCfg to disk if no config file exists yet, then
// loads it. If a file is already present it is loaded as is and
// defaultCfg is not written.
func (m *Manager) Bootstrap(defaultCfg AgentConfig) error {
	if _, err := os.Stat(m.configPath); err == nil {
		return m.Load()
	}
	data, err := json.MarshalIndent(struct {
		Agent    AgentSection    `json:"Agent"`
		SiemCore SiemCoreSection `json:"SiemCore"`
	}{defaultCfg.Agent, defaultCfg.SiemCore}, "", "  ")
	if err != nil {
		return fmt.Errorf("config: bootstrap: %w", err)
	}
	if err := writeAtomic(m.configPath, data); err != nil {
		return fmt.Errorf("config: bootstrap: %w", err)
	}
	return m.Load()
}

// Current returns a snapshot of the in-memory config.
func (m *Manager) Current() AgentConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// Validate checks candidate against the structural schema and the
// range/business rules, classifying it against the current config.
func (m *Manager) Validate(candidate AgentConfig) ValidationResult {
	m.mu.RLock()
	current := m.current
	m.mu.RUnlock()

	rawBytes, err := json.Marshal(struct {
		Agent    AgentSection    `json:"Agent"`
		SiemCore SiemCoreSection `json:"SiemCore"`
	}{candidate.Agent, candidate.SiemCore})
	if err != nil {
		return ValidationResult{Errors: []ValidationError{{Field: "", Message: err.Error()}}}
	}
	var rawMap map[string]any
	_ = json.Unmarshal(rawBytes, &rawMap)

	return Validate(candidate, &current, rawMap)
}

// Backup copies the current on-disk config file to the single backup
// slot. Safe to call even before any file exists (no-op then).
func (m *Manager) Backup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backupLocked()
}

func (m *Manager) backupLocked() error {
	data, err := os.ReadFile(m.configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: backup: read: %w", err)
	}
	if err := writeAtomic(m.backupPath, data); err != nil {
		return fmt.Errorf("config: backup: write: %w", err)
	}
	return nil
}

// Apply runs the Validate -> Backup -> Apply -> Rollback sequence from
// §4.8. On validation failure it returns ErrValidationFailed and leaves
// state untouched. On a failure writing the new file (step 3) it leaves
// the in-memory config and on-disk file both equal to the prior config,
// since the swap never happens. The steps after the file write (the
// in-memory swap and the publish) return no error, so Apply has no
// Restore path after a successful write.
func (m *Manager) Apply(candidate AgentConfig, source string) (ValidationResult, error) {
	result := m.Validate(candidate)
	if !result.OK() {
		return result, ErrValidationFailed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.backupLocked(); err != nil {
		return result, fmt.Errorf("config: apply: %w", err)
	}

	merged, err := mergeKnown(m.rawDoc, candidate)
	if err != nil {
		return result, fmt.Errorf("config: apply: merge: %w", err)
	}
	mergedBytes, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return result, fmt.Errorf("config: apply: encode: %w", err)
	}

	if err := writeAtomic(m.configPath, mergedBytes); err != nil {
		// Step 3 itself failed: nothing after it ran, so memory and the
		// on-disk file (untouched by the failed atomic rename) both
		// still equal the prior config.
		return result, fmt.Errorf("config: apply: write: %w", err)
	}

	previous := m.current
	m.current = candidate
	m.rawDoc = merged

	update := ConfigUpdated{
		Previous:        previous,
		New:             candidate,
		Timestamp:       time.Now().UTC(),
		Source:          source,
		RestartRequired: result.RestartRequired,
	}
	m.publish(update)
	m.logger.Info("config applied", "source", source, "restart_required", result.RestartRequired)

	return result, nil
}

// Restore copies the backup file back over the current config file,
// reloads it, and emits a restoration event.
func (m *Manager) Restore() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.backupPath)
	if err != nil {
		return fmt.Errorf("config: restore: read backup: %w", err)
	}
	if err := writeAtomic(m.configPath, data); err != nil {
		return fmt.Errorf("config: restore: write: %w", err)
	}

	raw, cfg, err := decodeDocument(data)
	if err != nil {
		return fmt.Errorf("config: restore: parse: %w", err)
	}

	previous := m.current
	m.current = cfg
	m.rawDoc = raw

	m.publish(ConfigUpdated{
		Previous:  previous,
		New:       cfg,
		Timestamp: time.Now().UTC(),
		Source:    "restore",
	})
	m.logger.Warn("config restored from backup")
	return nil
}

// Refresh calls fetch to pull a fresh config from the remote collector
// and, when one is returned, feeds it through Apply.
func (m *Manager) Refresh(fetch func() (*AgentConfig, error)) error {
	fetched, err := fetch()
	if err != nil {
		return fmt.Errorf("config: refresh: fetch: %w", err)
	}
	if fetched == nil {
		return nil
	}
	_, err = m.Apply(*fetched, "refresh")
	return err
}

// Subscribe returns a channel that receives every successful ConfigUpdated
// event. The channel is buffered; a slow subscriber drops the oldest
// unread event rather than blocking Apply.
func (m *Manager) Subscribe() <-chan ConfigUpdated {
	ch := make(chan ConfigUpdated, 4)
	m.subMu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.subMu.Unlock()
	return ch
}

func (m *Manager) publish(update ConfigUpdated) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- update:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- update:
			default:
			}
		}
	}
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
