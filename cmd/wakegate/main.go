package main

import (
	"context"
	goerrors "errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wakegate/wakegate/config"
	"github.com/wakegate/wakegate/logger"
	"github.com/wakegate/wakegate/pkg/errors"
	"github.com/wakegate/wakegate/pkg/metrics"
	"github.com/wakegate/wakegate/pkg/scheduler"
	"github.com/wakegate/wakegate/server/audit"
	"github.com/wakegate/wakegate/server/httpapi"
	"github.com/wakegate/wakegate/server/lifecycle"
	"github.com/wakegate/wakegate/server/orchestrator"
	"github.com/wakegate/wakegate/server/panel"
	"github.com/wakegate/wakegate/server/proxybridge"
	"github.com/wakegate/wakegate/server/registry"
	"github.com/wakegate/wakegate/server/sessions"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// serviceDependencies holds everything built at startup
type serviceDependencies struct {
	sessions  *sessions.Registry
	panel     panel.Client
	scheduler *scheduler.Scheduler
	orch      *orchestrator.Orchestrator
	audit     *audit.Store
	pruner    *audit.Pruner
	collector *metrics.Collector
	watcher   *config.Watcher
}

func main() {
	errorHandler := errors.NewErrorHandler()

	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.BoolVar(showVersion, "v", false, "Show version information and exit")
	configPath := flag.String("config", "wakegate.toml", "Path to TOML or YAML configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("wakegate version %s (commit: %s, built at: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfg := loadAndValidateConfig(*configPath, errorHandler)

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WAKEGATE: Warning initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer func(f *os.File) {
			if err := f.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "WAKEGATE: Error closing log file %s: %v\n", f.Name(), err)
			}
		}(logFile)
	}

	logger.Println("")
	logger.Println(" wakegate :: start on join, stop when idle")
	logger.Println("")
	logger.Infof("wakegate starting (version %s, commit: %s, built: %s)", version, commit, date)
	logger.Infof("Logging format: %s, level: %s", cfg.Logging.Format, cfg.Logging.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Infof("Received signal: %s, shutting down...", sig)
		cancel()
	}()

	deps, err := initializeServices(ctx, cfg, *configPath)
	if err != nil {
		errorHandler.FatalError("initialize services", err)
		os.Exit(errorHandler.WaitForExit())
	}
	defer deps.shutdown()

	reload := newReloader(*configPath, deps.orch)
	if deps.watcher != nil {
		go deps.watcher.Run(ctx, func() {
			if _, err := reload(ctx); err != nil {
				logger.Error("Configuration reload failed, keeping previous backends", "error", err)
			}
		})
	}

	errChan := make(chan error, 2)
	var wg sync.WaitGroup

	if cfg.Metrics.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			startMetricsServer(ctx, cfg.Metrics, errChan)
		}()
	}

	var history httpapi.HistoryStore
	if deps.audit != nil {
		history = deps.audit
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		httpapi.Start(ctx, httpapi.ServerOptions{
			Addr:           cfg.HTTPAPI.Addr,
			APIKey:         cfg.HTTPAPI.APIKey,
			AllowedHosts:   cfg.HTTPAPI.AllowedHosts,
			TrustedProxies: cfg.HTTPAPI.TrustedProxies,
			Orchestrator:   deps.orch,
			Sessions:       deps.sessions,
			Reload:         reload,
			History:        history,
		}, errChan)
	}()

	select {
	case <-ctx.Done():
		errorHandler.Shutdown(ctx)
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			logger.Infof("All listeners closed")
		case <-time.After(10 * time.Second):
			logger.Warn("Listener shutdown timeout reached after 10 seconds")
		}
	case err := <-errChan:
		cancel()
		deps.shutdown()
		errorHandler.FatalError("server operation", err)
		os.Exit(errorHandler.WaitForExit())
	}
}

// loadAndValidateConfig loads the file, applies environment overrides and
// validates the result. Any failure exits with the config exit code.
func loadAndValidateConfig(configPath string, errorHandler *errors.ErrorHandler) config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		errorHandler.ConfigError(configPath, err)
		os.Exit(errorHandler.WaitForExit())
	}
	if err := cfg.Validate(); err != nil {
		errorHandler.ValidationError("configuration", err)
		os.Exit(errorHandler.WaitForExit())
	}
	return cfg
}

func initializeServices(ctx context.Context, cfg config.Config, configPath string) (*serviceDependencies, error) {
	deps := &serviceDependencies{sessions: sessions.New()}

	store, err := audit.Open(ctx, cfg.Audit.Path)
	switch {
	case goerrors.Is(err, audit.ErrDisabled):
		logger.Info("Audit history disabled (audit.path not set)")
	case err != nil:
		return nil, fmt.Errorf("open audit store: %w", err)
	default:
		deps.audit = store
		retention, _ := cfg.Audit.GetRetention()
		deps.pruner, err = audit.NewPruner(store, cfg.Audit.PruneSchedule, retention)
		if err != nil {
			deps.shutdown()
			return nil, err
		}
		if err := deps.pruner.Start(ctx); err != nil {
			deps.shutdown()
			return nil, err
		}
	}

	opts, err := panel.OptionsFromConfig(cfg, deps.sessions)
	if err != nil {
		deps.shutdown()
		return nil, err
	}
	if deps.audit != nil {
		opts.Recorder = deps.audit
	}
	deps.panel, err = panel.New(opts)
	if err != nil {
		deps.shutdown()
		return nil, fmt.Errorf("create panel client: %w", err)
	}
	logger.Info("Panel client ready", "url", cfg.Panel.URL, "dialect", deps.panel.Dialect())

	var (
		connector orchestrator.Connector = proxybridge.LogConnector{}
		messenger orchestrator.Messenger = proxybridge.LogMessenger{}
	)
	bridge, err := proxybridge.FromConfig(cfg.Proxy)
	if err != nil {
		deps.shutdown()
		return nil, fmt.Errorf("create proxy bridge: %w", err)
	}
	if bridge != nil {
		connector, messenger = bridge, bridge
	} else {
		logger.Warn("proxy.callback_url not set, connects and messages are only logged")
	}

	deps.scheduler = scheduler.New(nil, cfg.Scheduler.Workers)
	deps.scheduler.Start()

	deps.orch, err = orchestrator.New(orchestrator.Deps{
		Registry:  registry.New(cfg.Backends()),
		Panel:     deps.panel,
		Tracker:   lifecycle.NewTracker(),
		Sessions:  deps.sessions,
		Connector: connector,
		Messenger: messenger,
		Scheduler: deps.scheduler,
		Messages:  cfg.Messages,
		Recheck:   cfg.StartupJoin.GetRecheckInterval(),
	})
	if err != nil {
		deps.shutdown()
		return nil, err
	}

	deps.collector = metrics.NewCollector(deps.orch, 15*time.Second)
	go deps.collector.Start(ctx)

	if cfg.Reload.Watch {
		debounce, _ := cfg.Reload.GetDebounce()
		deps.watcher, err = config.NewWatcher(configPath, debounce)
		if err != nil {
			logger.Warn("Configuration watcher disabled", "error", err)
			deps.watcher = nil
		}
	}
	return deps, nil
}

// shutdown releases resources in reverse start order. It is safe to call
// more than once and on a partially built set.
func (d *serviceDependencies) shutdown() {
	if d.watcher != nil {
		d.watcher.Stop()
		d.watcher = nil
	}
	if d.collector != nil {
		d.collector.Stop()
		d.collector = nil
	}
	if d.orch != nil {
		d.orch.Stop()
		d.orch = nil
	}
	if d.scheduler != nil {
		d.scheduler.Stop()
		d.scheduler = nil
	}
	if d.panel != nil {
		d.panel.Shutdown()
		d.panel = nil
	}
	if d.pruner != nil {
		d.pruner.Stop()
		d.pruner = nil
	}
	if d.audit != nil {
		if err := d.audit.Close(); err != nil {
			logger.Warn("Error closing audit store", "error", err)
		}
		d.audit = nil
	}
}

// newReloader returns the function used by the reload endpoint and the file
// watcher. A file that fails to load or validate leaves the running table in
// place.
func newReloader(configPath string, orch *orchestrator.Orchestrator) httpapi.ReloadFunc {
	var mu sync.Mutex
	return func(ctx context.Context) (registry.Diff, error) {
		mu.Lock()
		defer mu.Unlock()

		cfg, err := config.Load(configPath)
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			metrics.ConfigReloads.WithLabelValues("error").Inc()
			return registry.Diff{}, fmt.Errorf("reload %s: %w", configPath, err)
		}

		diff := orch.Reload(cfg.Backends())
		metrics.ConfigReloads.WithLabelValues("ok").Inc()
		return diff, nil
	}
}

func startMetricsServer(ctx context.Context, cfg config.MetricsConfig, errChan chan error) {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error shutting down metrics server", "error", err)
		}
	}()

	logger.Info("Starting metrics server", "addr", cfg.Addr, "path", path)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errChan <- fmt.Errorf("metrics server failed: %w", err)
	}
}
