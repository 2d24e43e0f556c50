package scenario

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/handover-simulator/internal/engine"
	"github.com/signalsfoundry/handover-simulator/internal/logging"
	"github.com/signalsfoundry/handover-simulator/internal/observability"
	"github.com/signalsfoundry/handover-simulator/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Phase is the lifecycle position of a Driver.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseBuilding
	PhaseBuilt
	PhaseRunning
	PhaseFinished
	PhaseFailed
	PhaseDestroyed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseBuilding:
		return "building"
	case PhaseBuilt:
		return "built"
	case PhaseRunning:
		return "running"
	case PhaseFinished:
		return "finished"
	case PhaseFailed:
		return "failed"
	case PhaseDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver's logger. Components built by the driver share
// it.
func WithLogger(l logging.Logger) Option {
	return func(d *Driver) { d.log = logging.OrNoop(l) }
}

// WithMetrics records build and run metrics on c.
func WithMetrics(c *observability.ExperimentCollector) Option {
	return func(d *Driver) { d.metrics = c }
}

// WithPhaseListener registers fn to be called on every phase change. fn runs
// on the driver's goroutine.
func WithPhaseListener(fn func(Phase)) Option {
	return func(d *Driver) {
		if fn != nil {
			d.listeners = append(d.listeners, fn)
		}
	}
}

// WithManifestDir writes scenario.yaml into dir once the build succeeds.
func WithManifestDir(dir string) Option {
	return func(d *Driver) { d.manifestDir = dir }
}

// Driver builds one experiment on an engine, runs it to the computed stop
// time and releases the engine.
type Driver struct {
	cfg         model.ExperimentConfig
	eng         engine.Engine
	log         logging.Logger
	metrics     *observability.ExperimentCollector
	tracer      trace.Tracer
	listeners   []func(Phase)
	manifestDir string

	phase atomic.Int32

	network      *Network
	bearers      []model.Bearer
	apps         []model.Application
	manifest     Manifest
	manifestPath string
	stopAt       time.Duration
}

// NewDriver returns a driver for cfg. The config is copied and never
// modified afterwards.
func NewDriver(cfg model.ExperimentConfig, eng engine.Engine, opts ...Option) *Driver {
	d := &Driver{
		cfg:    cfg,
		eng:    eng,
		log:    logging.Noop(),
		tracer: observability.Tracer(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Duration is the run length: the time the UE needs to pass every eNB plus
// one margin cell.
func (d *Driver) Duration() time.Duration { return d.cfg.RunDuration() }

// Phase returns the current lifecycle phase. It is safe to call from any
// goroutine.
func (d *Driver) Phase() Phase { return Phase(d.phase.Load()) }

// Network returns the provisioned network, or nil before Build succeeds.
func (d *Driver) Network() *Network { return d.network }

// Bearers returns the dedicated bearers activated by Build.
func (d *Driver) Bearers() []model.Bearer { return d.bearers }

// Applications returns the traffic endpoints installed by Build.
func (d *Driver) Applications() []model.Application { return d.apps }

// StopTime returns the scheduled stop time once Build has succeeded.
func (d *Driver) StopTime() time.Duration { return d.stopAt }

// Manifest returns the description of the built scenario.
func (d *Driver) Manifest() Manifest { return d.manifest }

// ManifestPath returns where the manifest was written, if anywhere.
func (d *Driver) ManifestPath() string { return d.manifestPath }

// Build runs the construction pipeline: provisioning, bearers, traffic and
// telemetry. It is all-or-nothing.
func (d *Driver) Build(ctx context.Context) (err error) {
	if p := d.Phase(); p != PhaseIdle {
		return provisioningError("build", fmt.Errorf("driver is %s", p))
	}
	d.setPhase(ctx, PhaseBuilding)
	ctx, span := d.tracer.Start(ctx, "scenario.Build", trace.WithAttributes(
		attribute.Int("experiment.enbs", d.cfg.NumberOfEnbs),
		attribute.Int("experiment.ues", d.cfg.NumberOfUes),
		attribute.Int("experiment.bearers_per_ue", d.cfg.NumBearersPerUe),
		attribute.Float64("experiment.speed", d.cfg.Speed),
	))
	defer func() {
		endSpan(span, err)
		if err != nil {
			d.setPhase(ctx, PhaseFailed)
			d.metrics.RunFinished(runResult(err))
		}
	}()

	var net *Network
	err = d.phaseStep(ctx, "provision", func(ctx context.Context) error {
		var perr error
		net, perr = NewProvisioner(d.cfg, d.eng, d.log, d.metrics).Build(ctx)
		return perr
	})
	if err != nil {
		return err
	}
	d.network = net

	err = d.phaseStep(ctx, "bearers", func(ctx context.Context) error {
		var perr error
		d.bearers, perr = ActivateBearers(ctx, d.eng, d.cfg, net, d.log)
		return perr
	})
	if err != nil {
		return err
	}
	for range d.bearers {
		d.metrics.BearerActivated()
	}

	err = d.phaseStep(ctx, "traffic", func(ctx context.Context) error {
		var perr error
		d.apps, perr = InstallTraffic(ctx, d.eng, d.cfg, net, d.bearers, d.log)
		return perr
	})
	if err != nil {
		return err
	}

	err = d.phaseStep(ctx, "telemetry", func(ctx context.Context) error {
		return WireTelemetry(ctx, d.eng, d.cfg.Telemetry, net, d.log)
	})
	if err != nil {
		return err
	}

	d.stopAt = d.Duration()
	d.manifest = BuildManifest(d.cfg, net, d.bearers, d.apps, d.stopAt)
	d.manifest.RunID = logging.RunIDFromContext(ctx)
	if d.manifestDir != "" {
		path, werr := WriteManifest(d.manifestDir, d.manifest)
		if werr != nil {
			return provisioningError("manifest", werr)
		}
		d.manifestPath = path
	}

	d.setPhase(ctx, PhaseBuilt)
	d.log.Info(ctx, "scenario built",
		logging.Int("bearers", len(d.bearers)),
		logging.Int("applications", len(d.apps)),
		logging.Duration("stop_at", d.stopAt),
	)
	return nil
}

// Run schedules the stop at Duration and blocks until the engine finishes.
func (d *Driver) Run(ctx context.Context) (err error) {
	if p := d.Phase(); p != PhaseBuilt {
		return &EngineRuntimeError{Err: fmt.Errorf("cannot run a driver that is %s", p)}
	}
	ctx, span := d.tracer.Start(ctx, "scenario.Run", trace.WithAttributes(
		attribute.Float64("experiment.stop_seconds", d.stopAt.Seconds()),
	))
	defer func() { endSpan(span, err) }()

	if err := d.eng.Stop(d.stopAt); err != nil {
		d.setPhase(ctx, PhaseFailed)
		d.metrics.RunFinished("runtime_error")
		return &EngineRuntimeError{Err: err}
	}

	d.setPhase(ctx, PhaseRunning)
	start := time.Now()
	runErr := d.eng.Run(ctx)
	d.metrics.ObservePhase("run", time.Since(start))
	if runErr != nil {
		d.setPhase(ctx, PhaseFailed)
		d.metrics.RunFinished("runtime_error")
		d.log.Error(ctx, "engine run failed", logging.Err(runErr))
		return &EngineRuntimeError{Err: runErr}
	}
	d.setPhase(ctx, PhaseFinished)
	d.metrics.RunFinished("ok")
	d.log.Info(ctx, "experiment finished",
		logging.Duration("sim_time", d.stopAt),
		logging.Duration("wall_time", time.Since(start)),
	)
	return nil
}

// Destroy releases the engine. It is safe to call in any phase and more
// than once.
func (d *Driver) Destroy() error {
	if d.Phase() == PhaseDestroyed {
		return nil
	}
	err := d.eng.Destroy()
	d.setPhase(context.Background(), PhaseDestroyed)
	if err != nil {
		return &EngineRuntimeError{Err: fmt.Errorf("destroy: %w", err)}
	}
	return nil
}

// Execute builds, runs and destroys the experiment. The engine is destroyed
// on every path.
func (d *Driver) Execute(ctx context.Context) error {
	err := d.Build(ctx)
	if err == nil {
		err = d.Run(ctx)
	}
	if derr := d.Destroy(); derr != nil {
		if err == nil {
			return derr
		}
		d.log.Warn(ctx, "engine destroy failed after error", logging.Err(derr))
	}
	return err
}

func (d *Driver) phaseStep(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := d.tracer.Start(ctx, "scenario."+name)
	start := time.Now()
	err := fn(ctx)
	d.metrics.ObservePhase(name, time.Since(start))
	endSpan(span, err)
	return err
}

func (d *Driver) setPhase(ctx context.Context, p Phase) {
	d.phase.Store(int32(p))
	d.log.Debug(ctx, "driver phase", logging.String("phase", p.String()))
	for _, fn := range d.listeners {
		fn(p)
	}
}

func runResult(err error) string {
	switch ErrorClass(err) {
	case "configuration":
		return "config_error"
	case "provisioning":
		return "provisioning_error"
	default:
		return "runtime_error"
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.class", ErrorClass(err)))
	}
	span.End()
}
