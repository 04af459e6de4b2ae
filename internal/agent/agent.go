// Package agent is the composition root: it builds every component
// from §4 — durable queue, forwarder, connectivity supervisor,
// dispatcher/drainer pipeline, health reporter, configuration manager,
// admin surface, and the configured source runners — and runs them
// under one cancellable context. There is no process-wide singleton;
// everything is constructed explicitly here and handed to its
// collaborators, per §9's design note.
package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/D0cNet/SiemCore/internal/admin"
	"github.com/D0cNet/SiemCore/internal/bootstrap"
	"github.com/D0cNet/SiemCore/internal/config"
	"github.com/D0cNet/SiemCore/internal/event"
	"github.com/D0cNet/SiemCore/internal/forwarder"
	"github.com/D0cNet/SiemCore/internal/health"
	"github.com/D0cNet/SiemCore/internal/logging"
	"github.com/D0cNet/SiemCore/internal/pipeline"
	"github.com/D0cNet/SiemCore/internal/queue"
	"github.com/D0cNet/SiemCore/internal/source"
	"github.com/D0cNet/SiemCore/internal/supervisor"
)

const queueFileName = "queue.db"

// Agent owns every long-lived component and the goroutines that run
// them.
type Agent struct {
	logger     *logging.Logger
	settings   *bootstrap.Settings
	configMgr  *config.Manager
	queue      *queue.Queue
	forwarder  *forwarder.Client
	supervisor *supervisor.Supervisor
	reporter   *health.Reporter
	pipeline   *pipeline.Pipeline
	admin      *admin.Server

	sourceMu sync.Mutex
	sources  map[string]context.CancelFunc
}

// New constructs the Agent: opens the durable queue, loads or
// bootstraps AgentConfig, and wires every component together. It does
// not start any goroutine — call Run for that.
func New(settings *bootstrap.Settings, logger *logging.Logger) (*Agent, error) {
	configMgr := config.NewManager(settings.WorkingDir, logger.Logger)
	if err := configMgr.Bootstrap(defaultAgentConfig(settings)); err != nil {
		return nil, fmt.Errorf("agent: bootstrap config: %w", err)
	}
	cfg := configMgr.Current()

	q, err := queue.Open(filepath.Join(settings.WorkingDir, queueFileName))
	if err != nil {
		return nil, fmt.Errorf("agent: open queue: %w", err)
	}

	reporter := health.NewReporter(settings.WorkingDir, logger)

	sup := supervisor.New(nil, logger)
	fwd, err := forwarder.New(cfg.SiemCore.APIBaseURL, cfg.SiemCore.APIKey, cfg.Agent.AgentID, cfg.Agent.AgentVersion, sup)
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("agent: new forwarder: %w", err)
	}
	sup.SetProber(fwd)

	pl := pipeline.New(q, fwd, sup, &reporter.Counters, logger, pipelineConfigFrom(cfg.SiemCore))

	// §4.5: the CONNECTED transition schedules an immediate drain on top
	// of updating the health reporter's connectivity bit.
	sup.AddCallback(func(_, current supervisor.State) {
		reporter.SetConnected(current == supervisor.StateConnected)
		if current == supervisor.StateConnected {
			pl.TriggerDrain()
		}
	})

	adminSrv := admin.New(settings.AdminListenAddr, reporter, configMgr, cfg.SiemCore.APIKey, logger)

	a := &Agent{
		logger:     logger,
		settings:   settings,
		configMgr:  configMgr,
		queue:      q,
		forwarder:  fwd,
		supervisor: sup,
		reporter:   reporter,
		pipeline:   pl,
		admin:      adminSrv,
		sources:    make(map[string]context.CancelFunc),
	}

	return a, nil
}

func defaultAgentConfig(settings *bootstrap.Settings) config.AgentConfig {
	return config.AgentConfig{
		Agent: config.AgentSection{
			AgentID:              "unconfigured-agent",
			AgentVersion:         "1.0.0",
			LogLevel:             config.LogLevel(settings.LogLevel),
			EnableLocalAnalysis:  false,
			EnableEventFiltering: true,
			Sources:              []config.SourceConfig{},
		},
		SiemCore: config.SiemCoreSection{
			APIBaseURL:               "https://localhost:8443",
			APIKey:                   "",
			BatchSize:                100,
			FlushIntervalSec:         30,
			MaxRetries:               5,
			RetryDelaySec:            10,
			MaxCachedEvents:          100000,
			HealthCheckIntervalSec:   60,
			ConfigRefreshIntervalSec: 300,
		},
		WorkingDir: settings.WorkingDir,
	}
}

func pipelineConfigFrom(s config.SiemCoreSection) pipeline.Config {
	return pipeline.Config{
		BatchSize:       s.BatchSize,
		MaxCachedEvents: s.MaxCachedEvents,
		MaxRetries:      s.MaxRetries,
		FlushInterval:   time.Duration(s.FlushIntervalSec) * time.Second,
	}
}

// Run starts every goroutine — dispatcher, drainer, health reporter,
// connectivity prober, admin server, and one goroutine per configured
// source — and blocks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.LogSystemEvent("agent_starting", "agentId", a.configMgr.Current().Agent.AgentID)
	defer a.queue.Close()

	var wg sync.WaitGroup
	runGoroutine := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	runGoroutine(a.pipeline.RunDispatcher)
	runGoroutine(a.pipeline.RunDrainer)
	runGoroutine(a.runConnectivityProbe)
	runGoroutine(a.runHealthReporting)
	runGoroutine(a.runConfigRefresh)
	runGoroutine(a.runConfigUpdates)
	runGoroutine(func(ctx context.Context) {
		if err := a.admin.Run(ctx); err != nil {
			a.logger.LogSystemEvent("admin_server_stopped", "error", err.Error())
		}
	})

	a.reloadSources(ctx, a.configMgr.Current().Agent.Sources)

	<-ctx.Done()
	a.logger.LogSystemEvent("agent_stopping")
	wg.Wait()
	a.logger.LogSystemEvent("agent_stopped")
	return nil
}

// runConnectivityProbe drives the supervisor's periodic Probe at
// healthCheckIntervalSec, per §4.5.
func (a *Agent) runConnectivityProbe(ctx context.Context) {
	cfg := a.configMgr.Current()
	interval := time.Duration(cfg.SiemCore.HealthCheckIntervalSec) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	a.supervisor.Run(ctx, interval)
}

func (a *Agent) runHealthReporting(ctx context.Context) {
	cfg := a.configMgr.Current()
	interval := time.Duration(cfg.SiemCore.HealthCheckIntervalSec) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	a.reporter.Run(ctx, interval, func(sendCtx context.Context, snapshot health.Snapshot) error {
		return a.forwarder.SendHealth(sendCtx, snapshot)
	})
}

func (a *Agent) runConfigRefresh(ctx context.Context) {
	cfg := a.configMgr.Current()
	interval := time.Duration(cfg.SiemCore.ConfigRefreshIntervalSec) * time.Second
	if interval <= 0 {
		interval = 300 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := a.configMgr.Refresh(func() (*config.AgentConfig, error) {
				return a.forwarder.FetchConfig(ctx)
			})
			if err != nil {
				a.logger.LogConfigEvent("refresh_failed", "error", err.Error())
			}
		}
	}
}

// runConfigUpdates reacts to every applied configuration change by
// re-deriving the source-runner set and the reporter's config-age
// timestamp. Sizing knobs are handed to the pipeline from the update's
// new config via Reconfigure rather than restarting the pipeline
// goroutines, since none of SiemCore's sizing fields are in the
// restart-required set.
func (a *Agent) runConfigUpdates(ctx context.Context) {
	updates := a.configMgr.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-updates:
			a.reporter.SetLastConfigUpdate(update.Timestamp)
			a.pipeline.Reconfigure(pipelineConfigFrom(update.New.SiemCore))
			a.reloadSources(ctx, update.New.Agent.Sources)
		}
	}
}

// reloadSources stops any running source not in the new set (or
// disabled) and starts any enabled source not already running.
func (a *Agent) reloadSources(ctx context.Context, sources []config.SourceConfig) {
	a.sourceMu.Lock()
	defer a.sourceMu.Unlock()

	wanted := make(map[string]bool, len(sources))
	for _, cfg := range sources {
		if cfg.Enabled {
			wanted[cfg.Name] = true
		}
	}
	for name, cancel := range a.sources {
		if !wanted[name] {
			cancel()
			delete(a.sources, name)
		}
	}

	cfgSnapshot := a.configMgr.Current().Agent
	for _, cfg := range sources {
		if !cfg.Enabled {
			continue
		}
		if _, running := a.sources[cfg.Name]; running {
			continue
		}
		runner, err := source.New(cfg, cfgSnapshot.AgentID, cfgSnapshot.AgentVersion, a.logger, &a.reporter.Counters)
		if err != nil {
			a.logger.LogSourceEvent("source_disabled", cfg.Name, "error", err.Error())
			continue
		}
		runCtx, cancel := context.WithCancel(ctx)
		a.sources[cfg.Name] = cancel
		go a.runSource(runCtx, cfg.Name, runner)
	}
}

func (a *Agent) runSource(ctx context.Context, name string, runner source.Runner) {
	a.logger.LogSourceEvent("source_started", name)
	out := make(chan event.Event, 64)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-out:
				a.pipeline.Submit(ctx, ev)
			}
		}
	}()
	if err := runner.Run(ctx, out); err != nil && ctx.Err() == nil {
		a.logger.LogSourceEvent("source_failed", name, "error", err.Error())
	}
}
