package source

import (
	"context"

	"github.com/D0cNet/SiemCore/internal/config"
	"github.com/D0cNet/SiemCore/internal/event"
	"github.com/D0cNet/SiemCore/internal/health"
	"github.com/D0cNet/SiemCore/internal/logging"
)

func init() {
	Register("OsEvent", newOsEventRunner)
}

// osEventRunner is the OsEvent source. It has no host event-log reader
// on any platform: Run logs once that the source is disabled, emits no
// events, and idles until its context is cancelled, then returns nil.
// That is not a configuration error, just an inert source.
type osEventRunner struct {
	cfg    config.SourceConfig
	logger *logging.Logger
}

func newOsEventRunner(cfg config.SourceConfig, _, _ string, logger *logging.Logger, _ *health.Counters) (Runner, error) {
	return &osEventRunner{cfg: cfg, logger: logger}, nil
}

func (r *osEventRunner) Run(ctx context.Context, _ chan<- event.Event) error {
	r.logger.LogSourceEvent("disabled_unsupported_platform", r.cfg.Name, "type", "OsEvent")
	<-ctx.Done()
	return nil
}
