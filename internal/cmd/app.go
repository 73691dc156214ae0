package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/harrison/gatekeeper/internal/confidence"
	"github.com/harrison/gatekeeper/internal/config"
	"github.com/harrison/gatekeeper/internal/executor"
	"github.com/harrison/gatekeeper/internal/graph"
	"github.com/harrison/gatekeeper/internal/learning"
	"github.com/harrison/gatekeeper/internal/logger"
	"github.com/harrison/gatekeeper/internal/memory"
	"github.com/harrison/gatekeeper/internal/metrics"
	"github.com/harrison/gatekeeper/internal/registry"
	"github.com/harrison/gatekeeper/internal/review"
	"github.com/harrison/gatekeeper/internal/telemetry"
	"github.com/harrison/gatekeeper/internal/validation"
	"github.com/harrison/gatekeeper/internal/verify"
)

// Optional files in the home directory that extend the built-in defaults.
const (
	methodsFile = "methods.yaml"
	rulesFile   = "rules.yaml"
)

// app holds every collaborator a command may need, built from config.
type app struct {
	cfg     *config.Config
	home    string
	out     io.Writer
	log     logger.Sink
	fileLog *logger.FileLogger

	catalog   *registry.Catalog
	model     *registry.SimulatedModel
	validator *validation.Validator
	session   *confidence.SessionAccuracy
	store     *memory.Store
	memory    *memory.Client
	learner   *learning.Learner
	queue     *review.Queue
	calc      *confidence.Calculator
	pipeline  *executor.Pipeline

	metricsServer *http.Server
	stopTracing   telemetry.ShutdownFunc
}

// appOptions are per-invocation overrides taken from flags.
type appOptions struct {
	logLevel string
	logDir   string
	metrics  *bool
	tracing  *bool
}

// newApp loads config from the home directory and wires the pipeline.
func newApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	home, err := resolveHome(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfigFromDir(home)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.metrics != nil {
		cfg.Metrics.Enabled = *opts.metrics
	}
	if opts.tracing != nil {
		cfg.Tracing.Enabled = *opts.tracing
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg, home: home, out: cmd.OutOrStdout()}
	console := logger.NewConsoleLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	a.log = console
	if opts.logDir != "" {
		fl, err := logger.NewFileLogger(opts.logDir, cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		a.fileLog = fl
		a.log = logger.NewMultiLogger(console, fl)
	}

	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// build constructs the collaborators in dependency order.
func (a *app) build() error {
	cfg := a.cfg

	a.catalog = registry.DefaultCatalog()
	if path := filepath.Join(a.home, methodsFile); fileExists(path) {
		if err := a.catalog.LoadCatalog(path); err != nil {
			return err
		}
	}
	a.model = registry.NewSimulatedModel(a.catalog)

	ruleSets := validation.DefaultRuleSets()
	if path := filepath.Join(a.home, rulesFile); fileExists(path) {
		loaded, err := validation.LoadRuleSets(path)
		if err != nil {
			return err
		}
		ruleSets = loaded
	}
	a.validator = validation.NewValidator(ruleSets)
	a.session = confidence.NewSessionAccuracy()

	if cfg.Memory.Enabled {
		store, err := memory.NewStore(cfg.Memory.DBPath)
		if err != nil {
			// Memory is best-effort; the pipeline runs without it.
			a.log.LogWarn(fmt.Sprintf("memory disabled: %v", err))
		} else {
			a.store = store
			client, err := memory.NewClient(store, memory.ClientOptions{
				Enabled:         true,
				Timeout:         cfg.Memory.Timeout,
				CacheTTL:        cfg.Memory.CacheTTL,
				BreakerFailures: cfg.Memory.BreakerFailures,
				BreakerCooldown: cfg.Memory.BreakerCooldown,
				Logger:          a.log,
			})
			if err != nil {
				return err
			}
			a.memory = client
		}
	}

	if cfg.Learning.Enabled {
		a.learner = learning.NewLearner(learning.Options{
			Path:                  cfg.Learning.Path,
			MinSamplesToLearn:     cfg.Learning.MinSamplesToLearn,
			MaxAdjustment:         cfg.Learning.MaxAdjustment,
			ErrorRateThreshold:    cfg.Learning.ErrorRateThreshold,
			SessionMergeThreshold: cfg.Learning.SessionMergeThreshold,
			Logger:                a.log,
		})
	}

	a.queue = review.NewQueue(review.Options{
		Path:    cfg.Review.Path,
		MaxSize: cfg.Review.MaxSize,
		Expiry:  cfg.Review.Expiry,
		Logger:  a.log,
	})

	calcOpts := confidence.Options{
		Catalog:           a.catalog,
		Resolver:          a.model,
		Preflight:         a.model,
		Session:           a.session,
		Validator:         a.validator,
		Logger:            a.log,
		HighThreshold:     cfg.Confidence.HighThreshold,
		MaxAlternatives:   cfg.Confidence.MaxAlternatives,
		MaxAdjustment:     cfg.Learning.MaxAdjustment,
		AdjustmentEpsilon: cfg.Confidence.AdjustmentEpsilon,
		HardFailCap:       cfg.Confidence.HardFailCap,
	}
	coordOpts := executor.Options{
		Passes:  cfg.Passes,
		Logger:  a.log,
		Session: a.session,
	}
	var sessionLearner executor.SessionLearner
	var corrections executor.CorrectionStore
	if a.memory != nil {
		calcOpts.Corrections = a.memory
		calcOpts.History = a.memory
		coordOpts.Memory = a.memory
		corrections = a.memory
	}
	if a.learner != nil {
		calcOpts.Adjustments = a.learner
		calcOpts.Patterns = a.learner
		sessionLearner = a.learner
	}

	a.calc = confidence.NewCalculator(calcOpts)
	verifier := verify.NewVerifier(verify.PositionTolerance{Tolerance: cfg.Verification.PositionTolerance}, verify.HostRelationship{})
	coord := executor.NewCoordinator(a.calc, graph.New(), a.model, verifier, a.queue, sessionLearner, coordOpts)
	a.pipeline = executor.NewPipeline(coord, a.queue, a.learner, corrections, a.log)

	if cfg.Metrics.Enabled {
		if err := a.startMetrics(); err != nil {
			return err
		}
	}
	if cfg.Tracing.Enabled {
		stop, err := telemetry.InstallProvider(context.Background(), telemetry.ProviderOptions{
			Endpoint:    cfg.Tracing.Endpoint,
			Insecure:    cfg.Tracing.Insecure,
			ServiceName: cfg.Tracing.ServiceName,
		})
		if err != nil {
			return fmt.Errorf("start tracing: %w", err)
		}
		a.stopTracing = stop
		a.log.LogInfo(fmt.Sprintf("exporting spans to %s", cfg.Tracing.Endpoint))
	}
	return nil
}

// startMetrics registers the collectors and serves /metrics.
func (a *app) startMetrics() error {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metricsServer = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.LogWarn(fmt.Sprintf("metrics server: %v", err))
		}
	}()
	a.log.LogInfo(fmt.Sprintf("serving metrics on %s/metrics", a.cfg.Metrics.Addr))
	return nil
}

// Close ends the learning session and releases every resource.
func (a *app) Close() {
	if a.pipeline != nil {
		summary := a.pipeline.Close()
		if summary.Merged+summary.Inserted > 0 {
			a.log.LogInfo(fmt.Sprintf("learning: promoted %d session patterns (%d merged, %d new)",
				summary.Merged+summary.Inserted, summary.Merged, summary.Inserted))
		}
	}
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		a.metricsServer.Shutdown(ctx)
		cancel()
	}
	if a.stopTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.stopTracing(ctx); err != nil {
			a.log.LogWarn(fmt.Sprintf("flush spans: %v", err))
		}
		cancel()
	}
	if a.memory != nil {
		a.memory.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.LogWarn(fmt.Sprintf("close memory store: %v", err))
		}
	}
	if a.fileLog != nil {
		a.fileLog.Close()
	}
}

// resolveHome returns --home when given, otherwise the default home.
func resolveHome(cmd *cobra.Command) (string, error) {
	home, _ := cmd.Flags().GetString("home")
	if home == "" {
		return config.GetHome()
	}
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create home directory: %w", err)
	}
	return home, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
