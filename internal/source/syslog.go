package source

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/D0cNet/SiemCore/internal/config"
	"github.com/D0cNet/SiemCore/internal/event"
	"github.com/D0cNet/SiemCore/internal/health"
	"github.com/D0cNet/SiemCore/internal/logging"
)

func init() {
	Register("Syslog", newSyslogRunner)
}

// maxSyslogMessageBytes bounds a single TCP-framed message per §4.3,
// well short of bufio.Scanner's 64 KiB default token limit.
const maxSyslogMessageBytes = 4096

var syslogPriRe = regexp.MustCompile(`^<(\d{1,3})>`)

// syslogStats mirrors the per-listener counters an operator expects to
// see on an admin surface: total received, error count, and last event
// time, tracked with atomics since UDP and TCP workers write
// concurrently.
type syslogStats struct {
	received atomic.Int64
	errors   atomic.Int64
	mu       sync.Mutex
	lastAt   time.Time
}

func (s *syslogStats) recordReceived() {
	s.received.Add(1)
	s.mu.Lock()
	s.lastAt = time.Now().UTC()
	s.mu.Unlock()
}

func (s *syslogStats) recordError() {
	s.errors.Add(1)
}

// syslogStatsSnapshot is what the admin surface reports for a running
// Syslog source.
type syslogStatsSnapshot struct {
	EventsReceived int64     `json:"eventsReceived"`
	ErrorCount     int64     `json:"errorCount"`
	LastEvent      time.Time `json:"lastEvent,omitempty"`
}

func (s *syslogStats) snapshot() syslogStatsSnapshot {
	s.mu.Lock()
	last := s.lastAt
	s.mu.Unlock()
	return syslogStatsSnapshot{
		EventsReceived: s.received.Load(),
		ErrorCount:     s.errors.Load(),
		LastEvent:      last,
	}
}

// Stats returns the current receive/error counters for this listener.
func (r *syslogRunner) Stats() syslogStatsSnapshot {
	return r.stats.snapshot()
}

// syslogRunner listens for RFC3164/RFC5424 formatted messages on either
// a UDP or a TCP socket, chosen by settings.protocol (UDP unless it is
// "tcp"). Each accepted TCP connection gets its own
// goroutine so one slow sender cannot stall the listener.
type syslogRunner struct {
	cfg          config.SourceConfig
	agentID      string
	agentVersion string
	logger       *logging.Logger
	filters      *filterSet
	counters     *health.Counters
	addr         string
	protocol     string
	stats        syslogStats
}

func newSyslogRunner(cfg config.SourceConfig, agentID, agentVersion string, logger *logging.Logger, counters *health.Counters) (Runner, error) {
	port, ok := cfg.Settings["port"]
	if !ok {
		return nil, fmt.Errorf("source: Syslog %q: settings.port is required", cfg.Name)
	}
	portNum, err := toInt(port)
	if err != nil {
		return nil, fmt.Errorf("source: Syslog %q: settings.port: %w", cfg.Name, err)
	}

	protocol := "udp"
	if p, ok := cfg.Settings["protocol"].(string); ok && p != "" {
		protocol = p
	}

	filters, err := newFilterSet(cfg)
	if err != nil {
		return nil, err
	}

	return &syslogRunner{
		cfg:          cfg,
		agentID:      agentID,
		agentVersion: agentVersion,
		logger:       logger,
		filters:      filters,
		counters:     counters,
		addr:         fmt.Sprintf(":%d", portNum),
		protocol:     protocol,
	}, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func (r *syslogRunner) Run(ctx context.Context, out chan<- event.Event) error {
	switch r.protocol {
	case "tcp":
		return r.runTCP(ctx, out)
	default:
		return r.runUDP(ctx, out)
	}
}

func (r *syslogRunner) runUDP(ctx context.Context, out chan<- event.Event) error {
	conn, err := net.ListenPacket("udp", r.addr)
	if err != nil {
		return fmt.Errorf("source: Syslog %q: listen udp %s: %w", r.cfg.Name, r.addr, err)
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	defer conn.Close()

	buf := make([]byte, 64*1024)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.stats.recordError()
			continue
		}
		r.stats.recordReceived()
		r.handleLine(ctx, out, string(buf[:n]), addr)
	}
}

func (r *syslogRunner) runTCP(ctx context.Context, out chan<- event.Event) error {
	listener, err := net.Listen("tcp", r.addr)
	if err != nil {
		return fmt.Errorf("source: Syslog %q: listen tcp %s: %w", r.cfg.Name, r.addr, err)
	}
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	defer listener.Close()

	var wg sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("source: Syslog %q: accept: %w", r.cfg.Name, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			r.handleConn(ctx, out, conn)
		}()
	}
}

func (r *syslogRunner) handleConn(ctx context.Context, out chan<- event.Event, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, maxSyslogMessageBytes), maxSyslogMessageBytes)
	remoteAddr := conn.RemoteAddr()
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.stats.recordReceived()
		r.handleLine(ctx, out, scanner.Text(), remoteAddr)
	}
	if err := scanner.Err(); err != nil {
		r.stats.recordError()
	}
}

// handleLine parses one syslog datagram/line per the RFC3164/RFC5424
// head format: <priority>, then timestamp, hostname, and tag. The
// message body is what follows the tag's colon (RFC3164) or the
// structured data (RFC5424); a line matching neither head is kept whole
// as the body.
func (r *syslogRunner) handleLine(ctx context.Context, out chan<- event.Event, line string, remoteAddr net.Addr) {
	pri := 0
	rest := line
	if m := syslogPriRe.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			pri = n
		}
		rest = line[len(m[0]):]
	}
	facility := pri / 8
	syslogSeverity := pri % 8

	sev := event.SeverityFromSyslogPriority(syslogSeverity)
	if !r.filters.allow(line, sev) {
		r.counters.IncFiltered()
		return
	}

	head := event.ParseSyslogHead(rest)

	sourceSystem := head.Hostname
	if sourceSystem == "" {
		sourceSystem = r.cfg.Name
	}

	ev := event.New("Syslog", sourceSystem, line, time.Now().UTC())
	ev.Severity = sev
	ev.Description = event.ClampDescription(head.Message)
	ev.SourceIP, ev.DestinationIP = event.ExtractIPs(line)
	if head.Timestamp != nil {
		ev.Timestamp = *head.Timestamp
	} else if ts := event.ExtractTimestamp(line); ts != nil {
		ev.Timestamp = *ts
	}
	ev.CustomFields["protocol"] = r.protocol
	ev.CustomFields["facility"] = facility
	ev.CustomFields["syslogSeverity"] = syslogSeverity
	if head.Tag != "" {
		ev.CustomFields["tag"] = head.Tag
	}
	if port := sourcePortOf(remoteAddr); port != 0 {
		ev.CustomFields["sourcePort"] = port
	}
	ev.AgentID = r.agentID
	ev.AgentVersion = r.agentVersion

	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

// sourcePortOf extracts the numeric port from a net.Addr, returning 0
// when addr is nil or carries no parseable port.
func sourcePortOf(addr net.Addr) int {
	if addr == nil {
		return 0
	}
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}
