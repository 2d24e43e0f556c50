package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineCollector exposes packet, handover and clock metrics emitted by the
// simulation engine while it runs.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	PacketsSent     *prometheus.CounterVec
	PacketsReceived *prometheus.CounterVec
	BytesReceived   *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec
	PacketDelay     *prometheus.HistogramVec
	Handovers       *prometheus.CounterVec
	X2Forwarded     prometheus.Counter
	SimTime         prometheus.Gauge
}

// NewEngineCollector registers engine metrics against the provided registerer.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	sent, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_packets_sent_total",
		Help: "Datagrams emitted by traffic sources, labeled by direction.",
	}, []string{"direction"}), "engine_packets_sent_total")
	if err != nil {
		return nil, err
	}

	received, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_packets_received_total",
		Help: "Datagrams delivered to packet sinks, labeled by direction.",
	}, []string{"direction"}), "engine_packets_received_total")
	if err != nil {
		return nil, err
	}

	bytes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_bytes_received_total",
		Help: "Payload bytes delivered to packet sinks, labeled by direction.",
	}, []string{"direction"}), "engine_bytes_received_total")
	if err != nil {
		return nil, err
	}

	dropped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_packets_dropped_total",
		Help: "Datagrams discarded inside the engine, labeled by direction and reason.",
	}, []string{"direction", "reason"}), "engine_packets_dropped_total")
	if err != nil {
		return nil, err
	}

	delay, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_packet_delay_seconds",
		Help:    "End-to-end simulated delay of delivered datagrams.",
		Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.015, 0.02, 0.03, 0.05, 0.1},
	}, []string{"direction"}), "engine_packet_delay_seconds")
	if err != nil {
		return nil, err
	}

	handovers, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_handovers_total",
		Help: "Handover procedures, labeled by outcome (started, completed, rejected).",
	}, []string{"outcome"}), "engine_handovers_total")
	if err != nil {
		return nil, err
	}

	forwarded, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_x2_forwarded_total",
		Help: "Downlink datagrams forwarded over X2 during handover.",
	}), "engine_x2_forwarded_total")
	if err != nil {
		return nil, err
	}

	simTime, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_sim_time_seconds",
		Help: "Simulation time reached by the engine.",
	}), "engine_sim_time_seconds")
	if err != nil {
		return nil, err
	}

	return &EngineCollector{
		gatherer:        gatherer,
		PacketsSent:     sent,
		PacketsReceived: received,
		BytesReceived:   bytes,
		PacketsDropped:  dropped,
		PacketDelay:     delay,
		Handovers:       handovers,
		X2Forwarded:     forwarded,
		SimTime:         simTime,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *EngineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// PacketSent counts an emitted datagram.
func (c *EngineCollector) PacketSent(direction string, _ int) {
	if c == nil || c.PacketsSent == nil {
		return
	}
	c.PacketsSent.WithLabelValues(direction).Inc()
}

// PacketReceived counts a delivered datagram and observes its delay.
func (c *EngineCollector) PacketReceived(direction string, bytes int, delay time.Duration) {
	if c == nil {
		return
	}
	if c.PacketsReceived != nil {
		c.PacketsReceived.WithLabelValues(direction).Inc()
	}
	if c.BytesReceived != nil {
		c.BytesReceived.WithLabelValues(direction).Add(float64(bytes))
	}
	if c.PacketDelay != nil {
		c.PacketDelay.WithLabelValues(direction).Observe(delay.Seconds())
	}
}

// PacketDropped counts a discarded datagram.
func (c *EngineCollector) PacketDropped(direction, reason string) {
	if c == nil || c.PacketsDropped == nil {
		return
	}
	c.PacketsDropped.WithLabelValues(direction, reason).Inc()
}

// HandoverObserved counts a handover procedure step.
func (c *EngineCollector) HandoverObserved(outcome string) {
	if c == nil || c.Handovers == nil {
		return
	}
	c.Handovers.WithLabelValues(outcome).Inc()
}

// X2Forward counts a datagram forwarded between eNBs.
func (c *EngineCollector) X2Forward() {
	if c == nil || c.X2Forwarded == nil {
		return
	}
	c.X2Forwarded.Inc()
}

// SimTimeAdvanced sets the simulation clock gauge.
func (c *EngineCollector) SimTimeAdvanced(t time.Duration) {
	if c == nil || c.SimTime == nil {
		return
	}
	c.SimTime.Set(t.Seconds())
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
