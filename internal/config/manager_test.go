package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTestConfig() AgentConfig {
	return AgentConfig{
		Agent: AgentSection{
			AgentID:      "agent-1",
			AgentVersion: "1.0.0",
			LogLevel:     LogLevelInformation,
			Sources: []SourceConfig{
				{Name: "app-log", Type: "FileLog", Enabled: true},
			},
		},
		SiemCore: SiemCoreSection{
			APIBaseURL:               "https://collector.example.com",
			APIKey:                   "secret",
			BatchSize:                100,
			FlushIntervalSec:         30,
			MaxRetries:               3,
			RetryDelaySec:            5,
			MaxCachedEvents:          10_000,
			HealthCheckIntervalSec:   60,
			ConfigRefreshIntervalSec: 300,
		},
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	m := NewManager(dir, nil)
	require.NoError(t, m.Bootstrap(defaultTestConfig()))
	return m
}

func TestApplyReplacesMemoryAndFile(t *testing.T) {
	m := newTestManager(t)

	candidate := m.Current()
	candidate.SiemCore.BatchSize = 500

	result, err := m.Apply(candidate, "admin")
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.False(t, result.RestartRequired)

	assert.Equal(t, 500, m.Current().SiemCore.BatchSize)

	data, err := os.ReadFile(filepath.Join(m.configPath))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"batchSize": 500`)

	backup, err := os.ReadFile(m.backupPath)
	require.NoError(t, err)
	assert.Contains(t, string(backup), `"batchSize": 100`)
}

func TestApplyRestartRequiredOnURLChange(t *testing.T) {
	m := newTestManager(t)

	candidate := m.Current()
	candidate.SiemCore.APIBaseURL = "https://new-collector.example.com"

	result, err := m.Apply(candidate, "admin")
	require.NoError(t, err)
	assert.True(t, result.RestartRequired)
}

func TestApplyRejectsInvalidCandidate(t *testing.T) {
	m := newTestManager(t)
	before := m.Current()

	candidate := before
	candidate.SiemCore.BatchSize = 0 // out of [1, 10000]

	result, err := m.Apply(candidate, "admin")
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.False(t, result.OK())
	assert.Equal(t, before.SiemCore.BatchSize, m.Current().SiemCore.BatchSize)
}

func TestRestoreRevertsToBackup(t *testing.T) {
	m := newTestManager(t)

	first := m.Current()
	first.SiemCore.BatchSize = 500
	_, err := m.Apply(first, "admin")
	require.NoError(t, err)

	second := m.Current()
	second.SiemCore.BatchSize = 900
	_, err = m.Apply(second, "admin")
	require.NoError(t, err)

	require.NoError(t, m.Restore())
	assert.Equal(t, 500, m.Current().SiemCore.BatchSize)
}

func TestApplyPublishesToSubscribers(t *testing.T) {
	m := newTestManager(t)
	updates := m.Subscribe()

	candidate := m.Current()
	candidate.SiemCore.BatchSize = 200
	_, err := m.Apply(candidate, "admin")
	require.NoError(t, err)

	select {
	case update := <-updates:
		assert.Equal(t, 200, update.New.SiemCore.BatchSize)
		assert.Equal(t, "admin", update.Source)
	default:
		t.Fatal("expected a ConfigUpdated event")
	}
}

func TestUnknownKeysPreservedOnRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, configFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{
		"Agent": {"agentId":"agent-1","agentVersion":"1.0.0","logLevel":"Information","sources":[]},
		"SiemCore": {"apiBaseUrl":"https://collector.example.com","apiKey":"secret","batchSize":100,"flushIntervalSec":30,"maxRetries":3,"maxCachedEvents":10000,"healthCheckIntervalSec":60,"configRefreshIntervalSec":300},
		"extensionField": {"foo":"bar"}
	}`), filePerm))

	m := NewManager(dir, nil)
	require.NoError(t, m.Load())

	candidate := m.Current()
	candidate.SiemCore.BatchSize = 750
	_, err := m.Apply(candidate, "admin")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "extensionField")
}
