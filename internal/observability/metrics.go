package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// ExperimentCollector bundles Prometheus metrics for scenario construction
// and the control surface, and provides helpers to wire them into gRPC
// servers, HTTP handlers and text-file snapshots.
type ExperimentCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	Nodes          *prometheus.GaugeVec
	Links          *prometheus.GaugeVec
	Bearers        prometheus.Gauge
	PhaseDurations *prometheus.HistogramVec
	Runs           *prometheus.CounterVec
}

// NewExperimentCollector registers experiment metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewExperimentCollector(reg prometheus.Registerer) (*ExperimentCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "control_requests_total",
		Help: "Total number of handled control RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "control_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "control_request_duration_seconds",
		Help:    "Control RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "control_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	nodes, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "experiment_nodes",
		Help: "Number of nodes created for the experiment, labeled by kind.",
	}, []string{"kind"}), "experiment_nodes")
	if err != nil {
		return nil, err
	}

	links, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "experiment_links",
		Help: "Number of links installed for the experiment, labeled by kind.",
	}, []string{"kind"}), "experiment_links")
	if err != nil {
		return nil, err
	}

	bearers, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "experiment_bearers",
		Help: "Number of dedicated bearers activated for the experiment.",
	}), "experiment_bearers")
	if err != nil {
		return nil, err
	}

	phases, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "experiment_phase_duration_seconds",
		Help:    "Wall-clock duration of experiment build and run phases.",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 300},
	}, []string{"phase"}), "experiment_phase_duration_seconds")
	if err != nil {
		return nil, err
	}

	runs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "experiment_runs_total",
		Help: "Experiment runs, labeled by result (ok, config_error, provisioning_error, runtime_error).",
	}, []string{"result"}), "experiment_runs_total")
	if err != nil {
		return nil, err
	}

	return &ExperimentCollector{
		gatherer:       gatherer,
		RPCRequests:    requests,
		RPCDurations:   durations,
		Nodes:          nodes,
		Links:          links,
		Bearers:        bearers,
		PhaseDurations: phases,
		Runs:           runs,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *ExperimentCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *ExperimentCollector) Gatherer() prometheus.Gatherer {
	if c == nil || c.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ExperimentCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Gatherer(), promhttp.HandlerOpts{})
}

// WriteTextfile snapshots every metric of the collector's gatherer to path in
// the Prometheus text exposition format.
func (c *ExperimentCollector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.Gatherer()); err != nil {
		return fmt.Errorf("write metrics snapshot %s: %w", path, err)
	}
	return nil
}

// NodeAdded increments the node gauge for kind.
func (c *ExperimentCollector) NodeAdded(kind string) {
	if c == nil || c.Nodes == nil {
		return
	}
	c.Nodes.WithLabelValues(kind).Inc()
}

// LinkAdded increments the link gauge for kind.
func (c *ExperimentCollector) LinkAdded(kind string) {
	if c == nil || c.Links == nil {
		return
	}
	c.Links.WithLabelValues(kind).Inc()
}

// BearerActivated increments the bearer gauge.
func (c *ExperimentCollector) BearerActivated() {
	if c == nil || c.Bearers == nil {
		return
	}
	c.Bearers.Inc()
}

// ObservePhase records how long a build or run phase took.
func (c *ExperimentCollector) ObservePhase(phase string, d time.Duration) {
	if c == nil || c.PhaseDurations == nil {
		return
	}
	c.PhaseDurations.WithLabelValues(phase).Observe(d.Seconds())
}

// RunFinished counts a finished experiment by result.
func (c *ExperimentCollector) RunFinished(result string) {
	if c == nil || c.Runs == nil {
		return
	}
	c.Runs.WithLabelValues(result).Inc()
}

// Reset zeroes the scenario gauges so a collector can be reused for a
// rebuilt scenario.
func (c *ExperimentCollector) Reset() {
	if c == nil {
		return
	}
	if c.Nodes != nil {
		c.Nodes.Reset()
	}
	if c.Links != nil {
		c.Links.Reset()
	}
	if c.Bearers != nil {
		c.Bearers.Set(0)
	}
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
