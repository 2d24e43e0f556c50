package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/signalsfoundry/handover-simulator/timectrl"
	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	s, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(s.Experiment, Defaults().Experiment) {
		t.Fatalf("experiment = %+v, want defaults", s.Experiment)
	}
	if s.Experiment.RunDuration() != 25*time.Second {
		t.Fatalf("run duration = %s", s.Experiment.RunDuration())
	}
	if s.Log.Level != "info" || s.Pacing.TimeMode() != timectrl.Accelerated || s.ConfigFile != "" {
		t.Fatalf("settings = %+v", s)
	}
	if s.Tracing.Enabled || s.Tracing.ServiceName != "handover-simulator" {
		t.Fatalf("tracing = %+v", s.Tracing)
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, "experiment.yaml", `
experiment:
  number_of_enbs: 3
  speed: 10
  distance: 250
  telemetry:
    stats_epoch: 500ms
log:
  level: debug
pacing:
  mode: realtime
  speedup: 4
`)
	t.Setenv("HOSIM_EXPERIMENT_SPEED", "15")
	t.Setenv("HOSIM_EXPERIMENT_NUMBER_OF_ENBS", "7")
	t.Setenv("HOSIM_METRICS_ADDR", ":9100")

	s, err := Load([]string{"--config", path, "--enbs", "5"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	e := s.Experiment
	if e.NumberOfEnbs != 5 {
		t.Errorf("enbs = %d, want flag value 5", e.NumberOfEnbs)
	}
	if e.Speed != 15 {
		t.Errorf("speed = %v, want env value 15", e.Speed)
	}
	if e.Distance != 250 || e.Telemetry.StatsEpoch != 500*time.Millisecond {
		t.Errorf("distance/epoch = %v/%s, want file values", e.Distance, e.Telemetry.StatsEpoch)
	}
	if e.NumberOfUes != 1 || e.Ports.BaseDl != 80000 || e.Telemetry.PcapPrefix != "lte-handover" {
		t.Errorf("defaults lost: %+v", e)
	}
	if s.Log.Level != "debug" || s.MetricsAddr != ":9100" {
		t.Errorf("log level/metrics addr = %s/%s", s.Log.Level, s.MetricsAddr)
	}
	if s.Pacing.TimeMode() != timectrl.RealTime || s.Pacing.Speedup != 4 {
		t.Errorf("pacing = %+v", s.Pacing)
	}
	if s.ConfigFile != path {
		t.Errorf("config file = %q", s.ConfigFile)
	}
}

func TestLoadFlags(t *testing.T) {
	s, err := Load([]string{
		"--ues", "3", "--bearers", "2", "--interval", "20ms",
		"--handover-algorithm", "A3Rsrp", "--pcap=false", "--ideal-rrc=false",
		"--tracing", "--tracing-exporter", "otlp", "--tracing-endpoint", "localhost:4317",
		"--control-addr", "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	e := s.Experiment
	if e.NumberOfUes != 3 || e.NumBearersPerUe != 2 || e.Traffic.Interval != 20*time.Millisecond || e.UseIdealRrc {
		t.Errorf("experiment = %+v", e)
	}
	if e.Handover.Algorithm != "A3Rsrp" || e.Telemetry.Pcap {
		t.Errorf("handover/pcap = %s/%v", e.Handover.Algorithm, e.Telemetry.Pcap)
	}
	if !s.Tracing.Enabled || s.Tracing.Exporter != "otlp" || s.Tracing.Endpoint != "localhost:4317" {
		t.Errorf("tracing = %+v", s.Tracing)
	}
	if s.ControlAddr != "127.0.0.1:0" {
		t.Errorf("control addr = %q", s.ControlAddr)
	}
}

func TestLoadErrors(t *testing.T) {
	badFile := writeConfig(t, "bad.yaml", "experiment: [unterminated\n")
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"unknown flag", []string{"--no-such-flag"}, nil},
		{"bad flag value", []string{"--enbs", "four"}, nil},
		{"missing file", []string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}, nil},
		{"malformed file", []string{"--config", badFile}, nil},
		{"bad pacing", []string{"--pacing", "warp"}, nil},
		{"bad speedup", []string{"--speedup", "0"}, nil},
		{"bad log format", nil, map[string]string{"HOSIM_LOG_FORMAT": "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.args)
			if !errors.Is(err, ErrInvalidSettings) {
				t.Fatalf("error = %v, want ErrInvalidSettings", err)
			}
		})
	}
}

func TestLoadHelp(t *testing.T) {
	if _, err := Load([]string{"--help"}); !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("error = %v, want pflag.ErrHelp", err)
	}
}

func TestEveryBindingHasAFlag(t *testing.T) {
	fs := NewFlagSet("test")
	for _, b := range flagBindings {
		if fs.Lookup(b.flag) == nil {
			t.Errorf("binding %s names missing flag --%s", b.key, b.flag)
		}
	}
}
