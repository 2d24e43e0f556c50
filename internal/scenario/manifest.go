package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/signalsfoundry/handover-simulator/core"
	"github.com/signalsfoundry/handover-simulator/model"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the run manifest written next to the trace files.
const ManifestFile = "scenario.yaml"

// Manifest is the human-readable record of what a run was built from.
type Manifest struct {
	RunID    string `yaml:"run_id,omitempty"`
	StopTime string `yaml:"stop_time"`

	Scheduler string           `yaml:"scheduler"`
	IdealRrc  bool             `yaml:"ideal_rrc"`
	Handover  ManifestHandover `yaml:"handover"`

	Nodes  []ManifestNode  `yaml:"nodes"`
	Links  []ManifestLink  `yaml:"links"`
	Routes []ManifestRoute `yaml:"routes"`

	Bearers      []ManifestBearer `yaml:"bearers"`
	Applications []ManifestApp    `yaml:"applications"`
}

type ManifestHandover struct {
	Algorithm  string             `yaml:"algorithm"`
	Attributes map[string]float64 `yaml:"attributes,omitempty"`
}

type ManifestNode struct {
	ID        int         `yaml:"id"`
	Name      string      `yaml:"name"`
	Kind      string      `yaml:"kind"`
	Position  *[3]float64 `yaml:"position,omitempty,flow"`
	Velocity  *[3]float64 `yaml:"velocity,omitempty,flow"`
	Addresses []string    `yaml:"addresses,omitempty"`
}

type ManifestLink struct {
	ID       string `yaml:"id"`
	Kind     string `yaml:"kind"`
	DataRate string `yaml:"data_rate,omitempty"`
	MTU      uint32 `yaml:"mtu,omitempty"`
	Delay    string `yaml:"delay,omitempty"`
}

type ManifestRoute struct {
	Node        string `yaml:"node"`
	Destination string `yaml:"destination"`
	Gateway     string `yaml:"gateway,omitempty"`
	Device      int    `yaml:"device"`
}

type ManifestBearer struct {
	UE     string `yaml:"ue"`
	Index  int    `yaml:"index"`
	DlPort uint32 `yaml:"dl_port"`
	UlPort uint32 `yaml:"ul_port"`
	QoS    string `yaml:"qos"`
}

type ManifestApp struct {
	Kind      string `yaml:"kind"`
	Node      string `yaml:"node"`
	Remote    string `yaml:"remote,omitempty"`
	Port      uint32 `yaml:"port"`
	Direction string `yaml:"direction"`
	Start     string `yaml:"start"`
}

// BuildManifest describes a provisioned network.
func BuildManifest(cfg model.ExperimentConfig, net *Network, bearers []model.Bearer, apps []model.Application, stopAt time.Duration) Manifest {
	m := Manifest{
		StopTime:  stopAt.String(),
		Scheduler: cfg.Scheduler,
		IdealRrc:  cfg.UseIdealRrc,
		Handover: ManifestHandover{
			Algorithm:  cfg.Handover.Algorithm,
			Attributes: cfg.Handover.Attributes(),
		},
	}
	name := func(id model.NodeID) string {
		if n, err := net.Nodes.GetNode(id); err == nil {
			return n.Name
		}
		return fmt.Sprintf("node-%d", id)
	}

	for _, n := range net.Nodes.ListNodes() {
		mn := ManifestNode{ID: int(n.ID), Name: n.Name, Kind: n.Kind.String()}
		switch n.Kind {
		case model.NodeKindEnb:
			if n.Index < len(net.Topology.EnbPositions) {
				mn.Position = vec(net.Topology.EnbPositions[n.Index])
			}
		case model.NodeKindUe:
			if n.Index == 0 {
				mn.Position = vec(net.Topology.UePosition)
				mn.Velocity = vec(net.Topology.UeVelocity)
			}
		}
		for _, addr := range net.Links.AddressesOf(n.ID) {
			mn.Addresses = append(mn.Addresses, addr.String())
		}
		m.Nodes = append(m.Nodes, mn)

		for _, r := range net.Links.Routes(n.ID) {
			mr := ManifestRoute{Node: n.Name, Destination: r.Destination.String(), Device: r.Device}
			if r.Gateway.IsValid() {
				mr.Gateway = r.Gateway.String()
			}
			m.Routes = append(m.Routes, mr)
		}
	}

	for _, l := range net.Links.GetAllNetworkLinks() {
		ml := ManifestLink{ID: l.ID, Kind: string(l.Kind)}
		if l.Kind == core.LinkKindPointToPoint {
			ml.DataRate = cfg.Backhaul.DataRate
			ml.MTU = l.MTU
			ml.Delay = l.Delay.String()
		}
		m.Links = append(m.Links, ml)
	}

	for _, b := range bearers {
		m.Bearers = append(m.Bearers, ManifestBearer{
			UE: name(b.UE), Index: b.Index, DlPort: b.DlPort, UlPort: b.UlPort, QoS: b.QoS.String(),
		})
	}
	for _, a := range apps {
		ma := ManifestApp{
			Kind:      a.Kind.String(),
			Node:      name(a.Node),
			Port:      a.Port,
			Direction: a.Direction.String(),
			Start:     a.Start.String(),
		}
		if a.Remote.IsValid() {
			ma.Remote = a.Remote.String()
		}
		m.Applications = append(m.Applications, ma)
	}
	return m
}

// WriteManifest writes m as YAML to dir/scenario.yaml and returns the path.
func WriteManifest(dir string, m Manifest) (string, error) {
	path := filepath.Join(dir, ManifestFile)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return m, nil
}

func vec(v core.Vec3) *[3]float64 {
	return &[3]float64{v.X, v.Y, v.Z}
}
