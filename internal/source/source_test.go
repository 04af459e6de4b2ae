package source

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D0cNet/SiemCore/internal/config"
	"github.com/D0cNet/SiemCore/internal/event"
	"github.com/D0cNet/SiemCore/internal/health"
	"github.com/D0cNet/SiemCore/internal/logging"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.New("info", "test-agent", t.TempDir())
	require.NoError(t, err)
	return logger
}

func TestNewUnrecognizedTypeErrors(t *testing.T) {
	_, err := New(config.SourceConfig{Name: "x", Type: "NoSuchType"}, "agent", "1.0", testLogger(t), &health.Counters{})
	assert.Error(t, err)
}

func TestNewFileLogRequiresPath(t *testing.T) {
	_, err := New(config.SourceConfig{Name: "x", Type: "FileLog"}, "agent", "1.0", testLogger(t), &health.Counters{})
	assert.Error(t, err)
}

func TestFileLogTailsAppendedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("old line that predates the tail\n"), 0o644))

	cfg := config.SourceConfig{
		Name: "app-log",
		Type: "FileLog",
		Settings: map[string]any{
			"path": path,
		},
		CollectionIntervalSec: 0,
	}
	runner, err := New(cfg, "agent-1", "1.0.0", testLogger(t), &health.Counters{})
	require.NoError(t, err)

	out := make(chan event.Event, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runner.Run(ctx, out)

	// Let the runner open the file and seek to its end before appending.
	time.Sleep(50 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("ERROR something broke at 10.0.0.5\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case ev := <-out:
		assert.Equal(t, event.SeverityHigh, ev.Severity)
		assert.Contains(t, ev.Description, "something broke")
		assert.Equal(t, "agent-1", ev.AgentID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a tailed event")
	}
}

func TestFileLogSeverityFilterDropsLowSeverity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	cfg := config.SourceConfig{
		Name:           "app-log",
		Type:           "FileLog",
		Settings:       map[string]any{"path": path},
		SeverityFilter: "High",
	}
	counters := &health.Counters{}
	runner, err := New(cfg, "agent-1", "1.0.0", testLogger(t), counters)
	require.NoError(t, err)

	out := make(chan event.Event, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Run(ctx, out)

	time.Sleep(50 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("just an informational line\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case ev := <-out:
		t.Fatalf("expected no event, got %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}

	assert.Eventually(t, func() bool {
		return counters.Snapshot().Filtered >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestOsEventRunnerExitsOnCancelWithoutError(t *testing.T) {
	runner, err := New(config.SourceConfig{Name: "winlog", Type: "OsEvent"}, "agent", "1.0", testLogger(t), &health.Counters{})
	require.NoError(t, err)

	out := make(chan event.Event)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx, out) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("OsEvent runner did not exit on cancellation")
	}
}

func TestSyslogUDPParsesPriorityAndEmits(t *testing.T) {
	cfg := config.SourceConfig{
		Name:     "udp-syslog",
		Type:     "Syslog",
		Settings: map[string]any{"port": 0, "protocol": "udp"},
	}
	runner, err := New(cfg, "agent-1", "1.0.0", testLogger(t), &health.Counters{})
	require.NoError(t, err)
	sr := runner.(*syslogRunner)

	// Bind to an ephemeral port ourselves first, to discover the port the
	// OS picks, then reconfigure the runner to listen there.
	probe, err := net.ListenPacket("udp", ":0")
	require.NoError(t, err)
	addr := probe.LocalAddr().String()
	require.NoError(t, probe.Close())
	_, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	sr.addr = ":" + port

	out := make(chan event.Event, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sr.Run(ctx, out)

	time.Sleep(50 * time.Millisecond)
	conn, err := net.Dial("udp", "127.0.0.1:"+port)
	require.NoError(t, err)
	_, err = conn.Write([]byte("<3>Aug  6 10:00:00 host sshd: Failed password from 10.0.0.9\n"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	select {
	case ev := <-out:
		assert.Equal(t, event.SeverityHigh, ev.Severity)
		assert.Equal(t, "10.0.0.9", ev.SourceIP)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a syslog event")
	}

	assert.Eventually(t, func() bool {
		return sr.Stats().EventsReceived >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestSyslogParsesRFC3164HeadIntoCustomFields(t *testing.T) {
	cfg := config.SourceConfig{
		Name:     "udp-syslog",
		Type:     "Syslog",
		Settings: map[string]any{"port": 0, "protocol": "udp"},
	}
	runner, err := New(cfg, "agent-1", "1.0.0", testLogger(t), &health.Counters{})
	require.NoError(t, err)
	sr := runner.(*syslogRunner)

	probe, err := net.ListenPacket("udp", ":0")
	require.NoError(t, err)
	addr := probe.LocalAddr().String()
	require.NoError(t, probe.Close())
	_, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	sr.addr = ":" + port

	out := make(chan event.Event, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sr.Run(ctx, out)

	time.Sleep(50 * time.Millisecond)
	conn, err := net.Dial("udp", "127.0.0.1:"+port)
	require.NoError(t, err)
	_, err = conn.Write([]byte("<13>Oct 11 22:14:15 myhost sshd: accepted\n"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	select {
	case ev := <-out:
		assert.Equal(t, "myhost", ev.SourceSystem)
		assert.Equal(t, "accepted", ev.Description)
		assert.Equal(t, "sshd", ev.CustomFields["tag"])
		assert.Equal(t, 1, ev.CustomFields["facility"])
		assert.Equal(t, 5, ev.CustomFields["syslogSeverity"])
		assert.Equal(t, "udp", ev.CustomFields["protocol"])
	case <-time.After(2 * time.Second):
		t.Fatal("expected a syslog event")
	}
}

func TestFilterSetExcludeBeatsInclude(t *testing.T) {
	fs, err := newFilterSet(config.SourceConfig{
		IncludePatterns: []string{"sshd"},
		ExcludePatterns: []string{"noisy"},
	})
	require.NoError(t, err)

	assert.True(t, fs.allow("sshd: login ok", event.SeverityLow))
	assert.False(t, fs.allow("sshd: noisy heartbeat", event.SeverityLow))
	assert.False(t, fs.allow("unrelated line", event.SeverityLow))
}
