// Package engine defines the boundary between the experiment orchestrator
// and the discrete-event substrate that executes it, and provides Simulator,
// an in-process implementation built on the iti/evt event manager.
package engine

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/signalsfoundry/handover-simulator/core"
	"github.com/signalsfoundry/handover-simulator/model"
)

var (
	ErrUnknownNode       = errors.New("unknown node")
	ErrNodeExists        = errors.New("node already installed")
	ErrWrongNodeKind     = errors.New("operation not valid for node kind")
	ErrUnknownDevice     = errors.New("unknown device")
	ErrDeviceExists      = errors.New("device already installed")
	ErrNoRoute           = errors.New("no route to destination")
	ErrUnknownAlgorithm  = errors.New("unknown handover algorithm")
	ErrInvalidAttribute  = errors.New("invalid handover attribute")
	ErrUnknownScheduler  = errors.New("unknown MAC scheduler")
	ErrBuildOrder        = errors.New("operation out of build order")
	ErrNotAttached       = errors.New("UE is not attached")
	ErrNoX2              = errors.New("no X2 interface between eNBs")
	ErrInvalidBearer     = errors.New("invalid bearer")
	ErrPortInUse         = errors.New("port already bound")
	ErrInvalidApp        = errors.New("invalid application")
	ErrAlreadyRunning    = errors.New("engine already running")
	ErrDestroyed         = errors.New("engine destroyed")
	ErrNoStopTime        = errors.New("no stop time scheduled")
	ErrInvalidDataRate   = errors.New("invalid data rate")
	ErrTelemetry         = errors.New("telemetry sink failure")
	ErrMobilityMissing   = errors.New("node has no mobility model")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrAddressConflict   = errors.New("address already in use")
	ErrAlgorithmNotBound = errors.New("no decision implementation registered")
)

// Layer names a protocol layer whose traces or statistics can be enabled.
type Layer int

const (
	LayerPhy Layer = iota + 1
	LayerMac
	LayerRlc
	LayerPdcp
)

func (l Layer) String() string {
	switch l {
	case LayerPhy:
		return "phy"
	case LayerMac:
		return "mac"
	case LayerRlc:
		return "rlc"
	case LayerPdcp:
		return "pdcp"
	default:
		return "unknown"
	}
}

// Direction is the traffic direction of a packet relative to the UE.
type Direction int

const (
	Downlink Direction = iota + 1
	Uplink
)

func (d Direction) String() string {
	switch d {
	case Downlink:
		return "downlink"
	case Uplink:
		return "uplink"
	default:
		return "unknown"
	}
}

// PointToPointConfig describes a wired link between two nodes.
type PointToPointConfig struct {
	DataRate string // e.g. "100Gb/s"
	MTU      uint32
	Delay    time.Duration
}

// EnbDeviceConfig carries the PHY attributes of an eNB radio device.
type EnbDeviceConfig struct {
	TxPowerDbm float64
}

// UdpClientConfig describes a fixed-rate datagram source.
type UdpClientConfig struct {
	Remote     netip.Addr
	Port       uint32
	Interval   time.Duration
	MaxPackets uint32
	PacketSize uint32
	Start      time.Duration
}

// PacketSinkConfig describes a datagram receiver.
type PacketSinkConfig struct {
	Port  uint32
	Start time.Duration
}

// Engine is the simulation substrate configured by the orchestrator. The
// build calls happen sequentially before Run; Run blocks until the scheduled
// stop time and Destroy releases every resource the engine holds.
type Engine interface {
	InstallNode(node model.Node) error
	SetMobility(node model.NodeID, m core.MotionModel) error
	Position(node model.NodeID, at time.Duration) (core.Vec3, error)

	InstallGateway(pgw model.NodeID) (device int, err error)
	InstallPointToPoint(a, b model.NodeID, cfg PointToPointConfig) (devA, devB int, err error)
	AssignAddress(node model.NodeID, device int, addr netip.Prefix) error
	AddRoute(node model.NodeID, dst netip.Prefix, gateway netip.Addr, device int) error

	SetScheduler(name string) error
	SetIdealRrc(ideal bool) error
	SetHandoverAlgorithm(name string, attrs map[string]float64) error
	InstallEnbDevice(node model.NodeID, cfg EnbDeviceConfig) (device int, err error)
	InstallUeDevice(node model.NodeID) (device int, err error)
	Attach(ue, enb model.NodeID) error
	AddX2Interface(a, b model.NodeID) error
	ActivateDedicatedBearer(ue model.NodeID, device int, bearer model.Bearer) error

	InstallUdpClient(node model.NodeID, cfg UdpClientConfig) error
	InstallPacketSink(node model.NodeID, cfg PacketSinkConfig) error

	EnablePcap(prefix string, node model.NodeID, device int) error
	EnableTraces(layers ...Layer) error
	SetStatsEpoch(layer Layer, epoch time.Duration) error

	Stop(at time.Duration) error
	Run(ctx context.Context) error
	Destroy() error
}

// Recorder receives engine events for metrics. Implementations must be
// cheap; they are called from the event loop.
type Recorder interface {
	PacketSent(direction string, bytes int)
	PacketReceived(direction string, bytes int, delay time.Duration)
	PacketDropped(direction, reason string)
	HandoverObserved(outcome string)
	X2Forward()
	SimTimeAdvanced(t time.Duration)
}

// Pacer is driven by the engine every Tick of simulation time.
type Pacer interface {
	Advance(simTime time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) PacketSent(string, int)                    {}
func (noopRecorder) PacketReceived(string, int, time.Duration) {}
func (noopRecorder) PacketDropped(string, string)              {}
func (noopRecorder) HandoverObserved(string)                   {}
func (noopRecorder) X2Forward()                                {}
func (noopRecorder) SimTimeAdvanced(time.Duration)             {}
