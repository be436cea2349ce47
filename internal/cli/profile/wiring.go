package profile

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/DanielAmmar/gprofiler/internal/agent/asyncprof"
	"github.com/DanielAmmar/gprofiler/internal/agent/discovery"
	"github.com/DanielAmmar/gprofiler/internal/agent/profiler"
	"github.com/DanielAmmar/gprofiler/internal/config"
	"github.com/DanielAmmar/gprofiler/internal/constants"
	"github.com/DanielAmmar/gprofiler/internal/jvm/crashlog"
	"github.com/DanielAmmar/gprofiler/internal/logging"
	"github.com/DanielAmmar/gprofiler/internal/privilege"
)

// newLogger logs to stderr so stdout stays free for profiles.
func newLogger(cfg *config.Config) zerolog.Logger {
	lc := cfg.LoggingConfig()
	lc.Output = os.Stderr
	return logging.New(lc)
}

// newSupervisor wires the supervisor's collaborators from cfg. reg may be nil.
func newSupervisor(cfg *config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*profiler.Supervisor, error) {
	safemode, err := cfg.SafemodeConfig()
	if err != nil {
		return nil, err
	}

	finder, err := discovery.NewFinder(cfg.DiscoveryConfig(), logger)
	if err != nil {
		return nil, err
	}

	var prober discovery.VersionProber
	if safemode.VersionChecks() {
		prober, err = discovery.NewCachedProber(discovery.NewExecProber(cfg.Java.NsenterPath, logger), constants.DefaultVersionCacheSize)
		if err != nil {
			return nil, err
		}
	}

	var metrics *profiler.Metrics
	if reg != nil {
		if metrics, err = profiler.NewMetrics(reg); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	privilege.Preflight(logger)
	logger.Debug().Stringer("safemode", safemode).Msg("Java safemode")
	return profiler.New(cfg.SupervisorConfig(safemode), profiler.Dependencies{
		Finder:    finder,
		Prober:    prober,
		Agent:     asyncprof.NewJattachAgent(cfg.Java.JattachPath, logger),
		Installer: newInstaller(cfg, logger),
		Crashes:   crashlog.NewLocator(logger),
		Liveness:  discovery.ProcLiveness{},
		Metrics:   metrics,
		Logger:    logger,
	})
}

func newInstaller(cfg *config.Config, logger zerolog.Logger) *asyncprof.LibraryInstaller {
	return asyncprof.NewLibraryInstaller(cfg.Java.AsyncProfilerGlibc, cfg.Java.AsyncProfilerMusl, cfg.Profiler.StorageDir, logger)
}
