// Package config merges command-line flags, HOSIM_* environment variables,
// an optional config file and built-in defaults into the settings of one
// simulator process.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signalsfoundry/handover-simulator/internal/observability"
	"github.com/signalsfoundry/handover-simulator/model"
	"github.com/signalsfoundry/handover-simulator/timectrl"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the loader reads. Nested keys
// use underscores: experiment.number_of_enbs is HOSIM_EXPERIMENT_NUMBER_OF_ENBS.
const EnvPrefix = "HOSIM"

// ErrInvalidSettings is wrapped by every loader failure.
var ErrInvalidSettings = errors.New("invalid settings")

// LogSettings configures the process logger.
type LogSettings struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
}

// PacingSettings selects how simulation time relates to wall-clock time.
type PacingSettings struct {
	Mode    string        `mapstructure:"mode"` // accelerated | realtime
	Speedup float64       `mapstructure:"speedup"`
	Tick    time.Duration `mapstructure:"tick"`
}

// TimeMode returns the parsed pacing mode.
func (p PacingSettings) TimeMode() timectrl.Mode { return timectrl.ParseMode(p.Mode) }

// Settings is everything one run of the simulator needs.
type Settings struct {
	Experiment model.ExperimentConfig      `mapstructure:"experiment"`
	Log        LogSettings                 `mapstructure:"log"`
	Tracing    observability.TracingConfig `mapstructure:"tracing"`
	Pacing     PacingSettings              `mapstructure:"pacing"`

	// MetricsAddr serves /metrics over HTTP when non-empty.
	MetricsAddr string `mapstructure:"metrics_addr"`
	// ControlAddr serves gRPC health and reflection when non-empty.
	ControlAddr string `mapstructure:"control_addr"`

	// ConfigFile is the file the settings were read from, if any.
	ConfigFile string `mapstructure:"-"`
}

// Defaults returns the settings used when nothing overrides them.
func Defaults() Settings {
	return Settings{
		Experiment: model.DefaultExperimentConfig(),
		Log:        LogSettings{Level: "info", Format: "text"},
		Tracing:    observability.DefaultTracingConfig(),
		Pacing:     PacingSettings{Mode: timectrl.Accelerated.String(), Speedup: 1, Tick: 100 * time.Millisecond},
	}
}

// flagBinding ties a command-line flag to a settings key.
type flagBinding struct {
	key  string
	flag string
}

var flagBindings = []flagBinding{
	{"experiment.number_of_enbs", "enbs"},
	{"experiment.number_of_ues", "ues"},
	{"experiment.num_bearers_per_ue", "bearers"},
	{"experiment.distance", "distance"},
	{"experiment.y_for_ue", "y-for-ue"},
	{"experiment.speed", "speed"},
	{"experiment.enb_tx_power_dbm", "enb-tx-power"},
	{"experiment.scheduler", "scheduler"},
	{"experiment.use_ideal_rrc", "ideal-rrc"},
	{"experiment.handover.algorithm", "handover-algorithm"},
	{"experiment.handover.serving_cell_threshold", "serving-cell-threshold"},
	{"experiment.handover.neighbour_cell_offset", "neighbour-cell-offset"},
	{"experiment.traffic.interval", "interval"},
	{"experiment.traffic.packet_size", "packet-size"},
	{"experiment.telemetry.output_dir", "output-dir"},
	{"experiment.telemetry.pcap", "pcap"},
	{"experiment.telemetry.stats_epoch", "stats-epoch"},
	{"log.level", "log-level"},
	{"log.format", "log-format"},
	{"metrics_addr", "metrics-addr"},
	{"control_addr", "control-addr"},
	{"tracing.enabled", "tracing"},
	{"tracing.exporter", "tracing-exporter"},
	{"tracing.endpoint", "tracing-endpoint"},
	{"pacing.mode", "pacing"},
	{"pacing.speedup", "speedup"},
}

// NewFlagSet declares the simulator's flags with their default values.
func NewFlagSet(name string) *pflag.FlagSet {
	d := Defaults()
	e := d.Experiment
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "config file (yaml, json or toml)")

	fs.Int("enbs", e.NumberOfEnbs, "number of eNBs in the row")
	fs.Int("ues", e.NumberOfUes, "number of UEs")
	fs.Int("bearers", e.NumBearersPerUe, "dedicated bearers for the first UE")
	fs.Float64("distance", e.Distance, "eNB spacing in metres")
	fs.Float64("y-for-ue", e.YForUe, "y coordinate of the UE track in metres")
	fs.Float64("speed", e.Speed, "UE speed in m/s")
	fs.Float64("enb-tx-power", e.EnbTxPowerDbm, "eNB transmission power in dBm")
	fs.String("scheduler", e.Scheduler, "MAC scheduler type")
	fs.Bool("ideal-rrc", e.UseIdealRrc, "use the ideal RRC protocol")
	fs.String("handover-algorithm", e.Handover.Algorithm, "handover algorithm")
	fs.Uint32("serving-cell-threshold", e.Handover.ServingCellThreshold, "A2A4Rsrq serving cell RSRQ threshold")
	fs.Uint32("neighbour-cell-offset", e.Handover.NeighbourCellOffset, "A2A4Rsrq neighbour cell offset")
	fs.Duration("interval", e.Traffic.Interval, "UDP client inter-packet interval")
	fs.Uint32("packet-size", e.Traffic.PacketSize, "UDP payload size in bytes")
	fs.String("output-dir", e.Telemetry.OutputDir, "directory for traces, captures and the manifest")
	fs.Bool("pcap", e.Telemetry.Pcap, "capture backhaul packets")
	fs.Duration("stats-epoch", e.Telemetry.StatsEpoch, "RLC/PDCP statistics epoch")

	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "log format (text or json)")
	fs.String("metrics-addr", d.MetricsAddr, "HTTP address for Prometheus /metrics; empty disables")
	fs.String("control-addr", d.ControlAddr, "gRPC address for health and reflection; empty disables")
	fs.Bool("tracing", d.Tracing.Enabled, "enable OpenTelemetry tracing")
	fs.String("tracing-exporter", d.Tracing.Exporter, "trace exporter (stdout or otlp)")
	fs.String("tracing-endpoint", d.Tracing.Endpoint, "OTLP collector endpoint")
	fs.String("pacing", d.Pacing.Mode, "time pacing (accelerated or realtime)")
	fs.Float64("speedup", d.Pacing.Speedup, "realtime pacing speed-up factor")
	return fs
}

// Load parses args and merges them with the environment, the config file
// named by --config and the defaults. Flags win over environment variables,
// which win over the file.
func Load(args []string) (Settings, error) {
	fs := NewFlagSet("handover-simulator")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return Settings{}, err
		}
		return Settings{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return LoadFlags(fs)
}

// LoadFlags is Load for an already parsed flag set created by NewFlagSet.
func LoadFlags(fs *pflag.FlagSet) (Settings, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, b := range flagBindings {
		if err := v.BindPFlag(b.key, fs.Lookup(b.flag)); err != nil {
			return Settings{}, fmt.Errorf("%w: bind --%s: %w", ErrInvalidSettings, b.flag, err)
		}
	}

	path, _ := fs.GetString("config")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("%w: read %s: %w", ErrInvalidSettings, path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	s.ConfigFile = v.ConfigFileUsed()
	if err := s.validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) validate() error {
	var errs []error
	switch s.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", s.Log.Format))
	}
	switch s.Pacing.Mode {
	case "accelerated", "realtime", "real-time":
	default:
		errs = append(errs, fmt.Errorf("pacing.mode must be accelerated or realtime, got %q", s.Pacing.Mode))
	}
	if s.Pacing.Speedup <= 0 {
		errs = append(errs, fmt.Errorf("pacing.speedup must be > 0, got %v", s.Pacing.Speedup))
	}
	if s.Pacing.Tick <= 0 {
		errs = append(errs, fmt.Errorf("pacing.tick must be > 0, got %s", s.Pacing.Tick))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
}

// setDefaults registers every settings key so AutomaticEnv can resolve it
// during Unmarshal.
func setDefaults(v *viper.Viper, d Settings) {
	e := d.Experiment
	defaults := map[string]any{
		"experiment.number_of_ues":                   e.NumberOfUes,
		"experiment.number_of_enbs":                  e.NumberOfEnbs,
		"experiment.num_bearers_per_ue":              e.NumBearersPerUe,
		"experiment.distance":                        e.Distance,
		"experiment.y_for_ue":                        e.YForUe,
		"experiment.speed":                           e.Speed,
		"experiment.enb_tx_power_dbm":                e.EnbTxPowerDbm,
		"experiment.scheduler":                       e.Scheduler,
		"experiment.use_ideal_rrc":                   e.UseIdealRrc,
		"experiment.handover.algorithm":              e.Handover.Algorithm,
		"experiment.handover.serving_cell_threshold": e.Handover.ServingCellThreshold,
		"experiment.handover.neighbour_cell_offset":  e.Handover.NeighbourCellOffset,
		"experiment.traffic.interval":                e.Traffic.Interval,
		"experiment.traffic.max_packets":             e.Traffic.MaxPackets,
		"experiment.traffic.packet_size":             e.Traffic.PacketSize,
		"experiment.traffic.start":                   e.Traffic.Start,
		"experiment.backhaul.data_rate":              e.Backhaul.DataRate,
		"experiment.backhaul.mtu":                    e.Backhaul.MTU,
		"experiment.backhaul.delay":                  e.Backhaul.Delay,
		"experiment.ports.base_dl":                   e.Ports.BaseDl,
		"experiment.ports.base_ul":                   e.Ports.BaseUl,
		"experiment.telemetry.output_dir":            e.Telemetry.OutputDir,
		"experiment.telemetry.pcap_prefix":           e.Telemetry.PcapPrefix,
		"experiment.telemetry.pcap":                  e.Telemetry.Pcap,
		"experiment.telemetry.phy_traces":            e.Telemetry.PhyTraces,
		"experiment.telemetry.mac_traces":            e.Telemetry.MacTraces,
		"experiment.telemetry.rlc_traces":            e.Telemetry.RlcTraces,
		"experiment.telemetry.pdcp_traces":           e.Telemetry.PdcpTraces,
		"experiment.telemetry.stats_epoch":           e.Telemetry.StatsEpoch,

		"log.level":      d.Log.Level,
		"log.format":     d.Log.Format,
		"log.add_source": d.Log.AddSource,

		"tracing.enabled":      d.Tracing.Enabled,
		"tracing.service_name": d.Tracing.ServiceName,
		"tracing.exporter":     d.Tracing.Exporter,
		"tracing.endpoint":     d.Tracing.Endpoint,
		"tracing.sample_ratio": d.Tracing.SampleRatio,

		"pacing.mode":    d.Pacing.Mode,
		"pacing.speedup": d.Pacing.Speedup,
		"pacing.tick":    d.Pacing.Tick,

		"metrics_addr": d.MetricsAddr,
		"control_addr": d.ControlAddr,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}
