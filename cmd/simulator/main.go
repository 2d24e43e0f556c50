// Command simulator builds and runs one LTE handover experiment: a UE
// driving past a row of eNBs while UDP traffic flows over a dedicated bearer
// in both directions.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/signalsfoundry/handover-simulator/internal/config"
	"github.com/signalsfoundry/handover-simulator/internal/control"
	"github.com/signalsfoundry/handover-simulator/internal/engine"
	"github.com/signalsfoundry/handover-simulator/internal/logging"
	"github.com/signalsfoundry/handover-simulator/internal/observability"
	"github.com/signalsfoundry/handover-simulator/internal/scenario"
	"github.com/signalsfoundry/handover-simulator/timectrl"
	"github.com/spf13/pflag"
)

// Process exit codes by error class.
const (
	exitOK           = 0
	exitOther        = 1
	exitConfig       = 2
	exitProvisioning = 3
	exitRuntime      = 4
)

// MetricsSnapshotFile is written next to the traces when a run ends.
const MetricsSnapshotFile = "metrics.prom"

func main() {
	os.Exit(realMain(os.Args[1:], os.Stderr))
}

func realMain(args []string, stderr io.Writer) int {
	settings, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "simulator: %v\n", err)
		return exitConfig
	}

	log := logging.New(logging.Config{
		Level:     settings.Log.Level,
		Format:    settings.Log.Format,
		AddSource: settings.Log.AddSource,
		Output:    stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, log = logging.WithRunLogger(ctx, log)

	err = run(ctx, settings, log, nil)
	code := exitCode(err)
	if err != nil {
		log.Error(ctx, "experiment failed",
			logging.String("class", scenario.ErrorClass(err)),
			logging.Int("exit_code", code),
			logging.Err(err),
		)
	}
	return code
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	switch scenario.ErrorClass(err) {
	case "configuration":
		return exitConfig
	case "provisioning":
		return exitProvisioning
	case "engine_runtime":
		return exitRuntime
	default:
		return exitOther
	}
}

// run executes one experiment with settings. controlLis, when non-nil,
// overrides settings.ControlAddr.
func run(ctx context.Context, s config.Settings, log logging.Logger, controlLis net.Listener) error {
	log = logging.OrNoop(log)

	shutdownTracing, err := observability.InitTracing(ctx, s.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	outDir := s.Experiment.Telemetry.OutputDir
	if outDir == "" {
		outDir = "."
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return &scenario.ConfigurationError{Err: fmt.Errorf("output dir: %w", err)}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	expMetrics, err := observability.NewExperimentCollector(reg)
	if err != nil {
		return fmt.Errorf("experiment metrics: %w", err)
	}
	engMetrics, err := observability.NewEngineCollector(reg)
	if err != nil {
		return fmt.Errorf("engine metrics: %w", err)
	}

	if metricsSrv := serveMetrics(s.MetricsAddr, expMetrics, log); metricsSrv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	ctrl, err := startControl(s.ControlAddr, controlLis, expMetrics, log, logging.RunIDFromContext(ctx))
	if err != nil {
		return err
	}
	if ctrl != nil {
		defer ctrl.Stop()
	}

	pacer := newPacer(ctx, s.Pacing, log)
	sim := engine.NewSimulator(
		engine.WithLogger(log),
		engine.WithRecorder(engMetrics),
		engine.WithOutputDir(outDir),
		engine.WithPacer(pacer, s.Pacing.Tick),
	)

	opts := []scenario.Option{
		scenario.WithLogger(log),
		scenario.WithMetrics(expMetrics),
		scenario.WithManifestDir(outDir),
	}
	if ctrl != nil {
		opts = append(opts, scenario.WithPhaseListener(ctrl.ObservePhase))
	}
	driver := scenario.NewDriver(s.Experiment, sim, opts...)

	log.Info(ctx, "starting experiment",
		logging.Int("enbs", s.Experiment.NumberOfEnbs),
		logging.Int("ues", s.Experiment.NumberOfUes),
		logging.Float("speed", s.Experiment.Speed),
		logging.Duration("duration", driver.Duration()),
		logging.String("handover_algorithm", s.Experiment.Handover.Algorithm),
		logging.String("handover_decisions", sim.HandoverDecisions(s.Experiment.Handover.Algorithm)),
		logging.String("pacing", pacer.Mode.String()),
		logging.String("output_dir", outDir),
	)
	runErr := driver.Execute(ctx)
	if ctrl != nil {
		ctrl.Finish(runErr)
	}
	if runErr == nil {
		logSummary(ctx, log, sim.Summary())
	}

	snapshot := filepath.Join(outDir, MetricsSnapshotFile)
	if err := expMetrics.WriteTextfile(snapshot); err != nil {
		log.Warn(ctx, "metrics snapshot not written", logging.Err(err))
	}
	return runErr
}

// newPacer returns the controller the engine advances every tick. In
// accelerated mode it only drives the progress log.
func newPacer(ctx context.Context, p config.PacingSettings, log logging.Logger) *timectrl.TimeController {
	tc := timectrl.NewTimeController(p.Tick, p.TimeMode(), p.Speedup)
	var lastLogged time.Duration
	tc.AddListener(func(now time.Duration) {
		if now-lastLogged < time.Second {
			return
		}
		lastLogged = now
		log.Debug(ctx, "simulation progress", logging.Duration("sim_time", now))
	})
	return tc
}

func startControl(addr string, lis net.Listener, metrics *observability.ExperimentCollector, log logging.Logger, runID string) (*control.Server, error) {
	if lis == nil {
		if addr == "" {
			return nil, nil
		}
		var err error
		if lis, err = net.Listen("tcp", addr); err != nil {
			return nil, fmt.Errorf("listen for control gRPC on %s: %w", addr, err)
		}
	}
	srv := control.New(
		control.WithLogger(log),
		control.WithMetrics(metrics),
		control.WithRunID(runID),
	)
	go func() {
		if err := srv.Serve(lis); err != nil {
			log.Error(context.Background(), "control server exited", logging.Err(err))
		}
	}()
	return srv, nil
}

func serveMetrics(addr string, collector *observability.ExperimentCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func logSummary(ctx context.Context, log logging.Logger, sum engine.Summary) {
	log.Info(ctx, "experiment summary",
		logging.Any("dl_sent", sum.Sent[engine.Downlink]),
		logging.Any("dl_received", sum.Received[engine.Downlink]),
		logging.Any("ul_sent", sum.Sent[engine.Uplink]),
		logging.Any("ul_received", sum.Received[engine.Uplink]),
		logging.Any("dropped", sum.Dropped),
		logging.Int("handovers_started", sum.HandoversStarted),
		logging.Int("handovers_completed", sum.HandoversCompleted),
		logging.Int("handovers_rejected", sum.HandoversRejected),
	)
	for _, sink := range sum.Sinks {
		log.Info(ctx, "sink totals",
			logging.Int("node", int(sink.Node)),
			logging.Int("port", int(sink.Port)),
			logging.Any("packets", sink.Received),
			logging.Any("bytes", sink.Bytes),
		)
	}
}
