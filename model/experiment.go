package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidExperiment is wrapped by every validation failure returned from
// ExperimentConfig.Validate.
var ErrInvalidExperiment = errors.New("invalid experiment config")

// Handover algorithm names understood by the engine catalogue.
const (
	HandoverA2A4Rsrq = "A2A4Rsrq"
	HandoverA3Rsrp   = "A3Rsrp"
	HandoverNoOp     = "NoOp"
)

// HandoverConfig selects the handover algorithm and its tunables. The
// thresholds are passed through to the engine untouched.
type HandoverConfig struct {
	Algorithm string `mapstructure:"algorithm" yaml:"algorithm"`
	// ServingCellThreshold is the RSRQ index below which the serving cell is
	// considered weak (A2 event).
	ServingCellThreshold uint32 `mapstructure:"serving_cell_threshold" yaml:"serving_cell_threshold"`
	// NeighbourCellOffset is the RSRQ margin a neighbour must exceed the
	// serving cell by (A4 event).
	NeighbourCellOffset uint32 `mapstructure:"neighbour_cell_offset" yaml:"neighbour_cell_offset"`
}

// Attributes returns the thresholds as the engine's opaque attribute map.
func (h HandoverConfig) Attributes() map[string]float64 {
	switch h.Algorithm {
	case HandoverA2A4Rsrq:
		return map[string]float64{
			"ServingCellThreshold": float64(h.ServingCellThreshold),
			"NeighbourCellOffset":  float64(h.NeighbourCellOffset),
		}
	default:
		return map[string]float64{}
	}
}

// TrafficConfig describes the fixed-rate datagram pattern used in both
// directions of every bearer.
type TrafficConfig struct {
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxPackets uint32        `mapstructure:"max_packets" yaml:"max_packets"`
	PacketSize uint32        `mapstructure:"packet_size" yaml:"packet_size"`
	Start      time.Duration `mapstructure:"start" yaml:"start"`
}

// BackhaulConfig describes the point-to-point link between the core network
// gateway and the remote host.
type BackhaulConfig struct {
	DataRate string        `mapstructure:"data_rate" yaml:"data_rate"`
	MTU      uint32        `mapstructure:"mtu" yaml:"mtu"`
	Delay    time.Duration `mapstructure:"delay" yaml:"delay"`
}

// PortConfig holds the base ports. Bearer b uses BaseDl+1+b and BaseUl+1+b.
type PortConfig struct {
	BaseDl uint32 `mapstructure:"base_dl" yaml:"base_dl"`
	BaseUl uint32 `mapstructure:"base_ul" yaml:"base_ul"`
}

// TelemetryConfig selects which observability sinks the engine writes.
type TelemetryConfig struct {
	OutputDir  string        `mapstructure:"output_dir" yaml:"output_dir"`
	PcapPrefix string        `mapstructure:"pcap_prefix" yaml:"pcap_prefix"`
	Pcap       bool          `mapstructure:"pcap" yaml:"pcap"`
	PhyTraces  bool          `mapstructure:"phy_traces" yaml:"phy_traces"`
	MacTraces  bool          `mapstructure:"mac_traces" yaml:"mac_traces"`
	RlcTraces  bool          `mapstructure:"rlc_traces" yaml:"rlc_traces"`
	PdcpTraces bool          `mapstructure:"pdcp_traces" yaml:"pdcp_traces"`
	StatsEpoch time.Duration `mapstructure:"stats_epoch" yaml:"stats_epoch"`
}

// ExperimentConfig is the complete, immutable input of one experiment run.
// Components receive it by value.
type ExperimentConfig struct {
	NumberOfUes     int     `mapstructure:"number_of_ues" yaml:"number_of_ues"`
	NumberOfEnbs    int     `mapstructure:"number_of_enbs" yaml:"number_of_enbs"`
	NumBearersPerUe int     `mapstructure:"num_bearers_per_ue" yaml:"num_bearers_per_ue"`
	Distance        float64 `mapstructure:"distance" yaml:"distance"`
	YForUe          float64 `mapstructure:"y_for_ue" yaml:"y_for_ue"`
	Speed           float64 `mapstructure:"speed" yaml:"speed"`
	EnbTxPowerDbm   float64 `mapstructure:"enb_tx_power_dbm" yaml:"enb_tx_power_dbm"`

	Scheduler   string `mapstructure:"scheduler" yaml:"scheduler"`
	UseIdealRrc bool   `mapstructure:"use_ideal_rrc" yaml:"use_ideal_rrc"`

	Handover  HandoverConfig  `mapstructure:"handover" yaml:"handover"`
	Traffic   TrafficConfig   `mapstructure:"traffic" yaml:"traffic"`
	Backhaul  BackhaulConfig  `mapstructure:"backhaul" yaml:"backhaul"`
	Ports     PortConfig      `mapstructure:"ports" yaml:"ports"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// DefaultExperimentConfig returns the reference scenario: one UE driving at
// 20 m/s past four eNBs spaced 100 m apart.
func DefaultExperimentConfig() ExperimentConfig {
	return ExperimentConfig{
		NumberOfUes:     1,
		NumberOfEnbs:    4,
		NumBearersPerUe: 1,
		Distance:        100.0,
		YForUe:          500.0,
		Speed:           20,
		EnbTxPowerDbm:   46.0,

		Scheduler:   "RrFfMacScheduler",
		UseIdealRrc: true,

		Handover: HandoverConfig{
			Algorithm:            HandoverA2A4Rsrq,
			ServingCellThreshold: 30,
			NeighbourCellOffset:  1,
		},
		Traffic: TrafficConfig{
			Interval:   10 * time.Millisecond,
			MaxPackets: 1000000,
			PacketSize: 1024,
			Start:      0,
		},
		Backhaul: BackhaulConfig{
			DataRate: "100Gb/s",
			MTU:      1500,
			Delay:    10 * time.Millisecond,
		},
		Ports: PortConfig{
			BaseDl: 80000,
			BaseUl: 80001,
		},
		Telemetry: TelemetryConfig{
			OutputDir:  ".",
			PcapPrefix: "lte-handover",
			Pcap:       true,
			PhyTraces:  true,
			MacTraces:  true,
			RlcTraces:  true,
			PdcpTraces: true,
			StatsEpoch: time.Second,
		},
	}
}

// Validate checks the scalar inputs. It runs before any node is created.
func (c ExperimentConfig) Validate() error {
	var errs []error
	if c.NumberOfEnbs < 1 {
		errs = append(errs, fmt.Errorf("number_of_enbs must be >= 1, got %d", c.NumberOfEnbs))
	}
	if c.NumberOfUes < 1 {
		errs = append(errs, fmt.Errorf("number_of_ues must be >= 1, got %d", c.NumberOfUes))
	}
	if c.NumBearersPerUe < 0 {
		errs = append(errs, fmt.Errorf("num_bearers_per_ue must be >= 0, got %d", c.NumBearersPerUe))
	}
	if !(c.Distance > 0) || math.IsInf(c.Distance, 0) {
		errs = append(errs, fmt.Errorf("distance must be finite and > 0, got %v", c.Distance))
	}
	if !(c.Speed > 0) || math.IsInf(c.Speed, 0) {
		errs = append(errs, fmt.Errorf("speed must be finite and > 0, got %v", c.Speed))
	}
	if !finite(c.YForUe) {
		errs = append(errs, fmt.Errorf("y_for_ue must be finite, got %v", c.YForUe))
	}
	if !finite(c.EnbTxPowerDbm) {
		errs = append(errs, fmt.Errorf("enb_tx_power_dbm must be finite, got %v", c.EnbTxPowerDbm))
	}
	if err := c.validateRunDuration(); err != nil {
		errs = append(errs, err)
	}
	if c.Handover.Algorithm == "" {
		errs = append(errs, errors.New("handover.algorithm must be set"))
	}
	if c.Traffic.Interval <= 0 {
		errs = append(errs, fmt.Errorf("traffic.interval must be > 0, got %s", c.Traffic.Interval))
	}
	if c.Traffic.MaxPackets == 0 {
		errs = append(errs, errors.New("traffic.max_packets must be > 0"))
	}
	if c.Traffic.PacketSize < SeqTsHeaderSize {
		errs = append(errs, fmt.Errorf("traffic.packet_size must be >= %d, got %d", SeqTsHeaderSize, c.Traffic.PacketSize))
	}
	if c.Traffic.Start < 0 {
		errs = append(errs, fmt.Errorf("traffic.start must be >= 0, got %s", c.Traffic.Start))
	}
	if c.Backhaul.Delay < 0 {
		errs = append(errs, fmt.Errorf("backhaul.delay must be >= 0, got %s", c.Backhaul.Delay))
	}
	if c.Backhaul.MTU == 0 {
		errs = append(errs, errors.New("backhaul.mtu must be > 0"))
	}
	if c.Telemetry.StatsEpoch <= 0 {
		errs = append(errs, fmt.Errorf("telemetry.stats_epoch must be > 0, got %s", c.Telemetry.StatsEpoch))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidExperiment, errors.Join(errs...))
}

// maxRunSeconds is the longest run a time.Duration can hold.
const maxRunSeconds = float64(math.MaxInt64) / float64(time.Second)

// validateRunDuration checks that the derived stop time is representable and
// positive. It only applies once the inputs themselves are valid.
func (c ExperimentConfig) validateRunDuration() error {
	if c.NumberOfEnbs < 1 || !finite(c.Distance) || !finite(c.Speed) || !(c.Distance > 0) || !(c.Speed > 0) {
		return nil
	}
	seconds := float64(c.NumberOfEnbs+1) * c.Distance / c.Speed
	if seconds >= maxRunSeconds {
		return fmt.Errorf("run duration (number_of_enbs+1)*distance/speed = %gs exceeds %gs", seconds, maxRunSeconds)
	}
	if c.RunDuration() <= 0 {
		return fmt.Errorf("run duration (number_of_enbs+1)*distance/speed = %gs rounds to zero", seconds)
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// RunDuration is the time the UE needs to traverse the row of eNBs plus one
// margin cell: (NumberOfEnbs+1) * Distance / Speed.
func (c ExperimentConfig) RunDuration() time.Duration {
	seconds := float64(c.NumberOfEnbs+1) * c.Distance / c.Speed
	return time.Duration(seconds * float64(time.Second))
}
