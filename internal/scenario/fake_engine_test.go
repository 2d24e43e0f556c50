package scenario

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/signalsfoundry/handover-simulator/core"
	"github.com/signalsfoundry/handover-simulator/internal/engine"
	"github.com/signalsfoundry/handover-simulator/model"
)

type fakeRoute struct {
	Node    model.NodeID
	Dst     netip.Prefix
	Gateway netip.Addr
	Device  int
}

type fakeAddress struct {
	Node   model.NodeID
	Device int
	Prefix netip.Prefix
}

type fakeClient struct {
	Node model.NodeID
	Cfg  engine.UdpClientConfig
}

type fakeSink struct {
	Node model.NodeID
	Cfg  engine.PacketSinkConfig
}

type fakePcap struct {
	Prefix string
	Node   model.NodeID
	Device int
}

// fakeEngine records every build call and hands out device indexes the way
// a real engine does: per node, starting at 1.
type fakeEngine struct {
	calls     []string
	nodes     []model.Node
	mobility  map[model.NodeID]core.MotionModel
	devices   map[model.NodeID]int
	addresses []fakeAddress
	routes    []fakeRoute
	scheduler string
	idealRrc  *bool
	algorithm string
	attrs     map[string]float64
	txPower   map[model.NodeID]float64
	attached  map[model.NodeID]model.NodeID
	x2        [][2]model.NodeID
	bearers   []model.Bearer
	clients   []fakeClient
	sinks     []fakeSink
	pcaps     []fakePcap
	traces    []engine.Layer
	epochs    map[engine.Layer]time.Duration
	stopAt    time.Duration
	runs      int
	destroyed int

	// failOn makes the named call return the error.
	failOn map[string]error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		mobility: make(map[model.NodeID]core.MotionModel),
		devices:  make(map[model.NodeID]int),
		txPower:  make(map[model.NodeID]float64),
		attached: make(map[model.NodeID]model.NodeID),
		epochs:   make(map[engine.Layer]time.Duration),
		failOn:   make(map[string]error),
	}
}

func (f *fakeEngine) call(name string) error {
	f.calls = append(f.calls, name)
	return f.failOn[name]
}

func (f *fakeEngine) newDevice(node model.NodeID) int {
	f.devices[node]++
	return f.devices[node]
}

func (f *fakeEngine) InstallNode(n model.Node) error {
	if err := f.call("InstallNode"); err != nil {
		return err
	}
	f.nodes = append(f.nodes, n)
	return nil
}

func (f *fakeEngine) SetMobility(id model.NodeID, m core.MotionModel) error {
	if err := f.call("SetMobility"); err != nil {
		return err
	}
	f.mobility[id] = m
	return nil
}

func (f *fakeEngine) Position(id model.NodeID, at time.Duration) (core.Vec3, error) {
	m, ok := f.mobility[id]
	if !ok {
		return core.Vec3{}, fmt.Errorf("%w: %d", engine.ErrMobilityMissing, id)
	}
	return m.PositionAt(at), nil
}

func (f *fakeEngine) InstallGateway(pgw model.NodeID) (int, error) {
	if err := f.call("InstallGateway"); err != nil {
		return 0, err
	}
	return f.newDevice(pgw), nil
}

func (f *fakeEngine) InstallPointToPoint(a, b model.NodeID, _ engine.PointToPointConfig) (int, int, error) {
	if err := f.call("InstallPointToPoint"); err != nil {
		return 0, 0, err
	}
	return f.newDevice(a), f.newDevice(b), nil
}

func (f *fakeEngine) AssignAddress(id model.NodeID, dev int, addr netip.Prefix) error {
	if err := f.call("AssignAddress"); err != nil {
		return err
	}
	f.addresses = append(f.addresses, fakeAddress{Node: id, Device: dev, Prefix: addr})
	return nil
}

func (f *fakeEngine) AddRoute(id model.NodeID, dst netip.Prefix, gw netip.Addr, dev int) error {
	if err := f.call("AddRoute"); err != nil {
		return err
	}
	f.routes = append(f.routes, fakeRoute{Node: id, Dst: dst, Gateway: gw, Device: dev})
	return nil
}

func (f *fakeEngine) SetScheduler(name string) error {
	if err := f.call("SetScheduler"); err != nil {
		return err
	}
	f.scheduler = name
	return nil
}

func (f *fakeEngine) SetIdealRrc(ideal bool) error {
	if err := f.call("SetIdealRrc"); err != nil {
		return err
	}
	f.idealRrc = &ideal
	return nil
}

func (f *fakeEngine) SetHandoverAlgorithm(name string, attrs map[string]float64) error {
	if err := f.call("SetHandoverAlgorithm"); err != nil {
		return err
	}
	f.algorithm, f.attrs = name, attrs
	return nil
}

func (f *fakeEngine) InstallEnbDevice(id model.NodeID, cfg engine.EnbDeviceConfig) (int, error) {
	if err := f.call("InstallEnbDevice"); err != nil {
		return 0, err
	}
	f.txPower[id] = cfg.TxPowerDbm
	return f.newDevice(id), nil
}

func (f *fakeEngine) InstallUeDevice(id model.NodeID) (int, error) {
	if err := f.call("InstallUeDevice"); err != nil {
		return 0, err
	}
	return f.newDevice(id), nil
}

func (f *fakeEngine) Attach(ue, enb model.NodeID) error {
	if err := f.call("Attach"); err != nil {
		return err
	}
	f.attached[ue] = enb
	return nil
}

func (f *fakeEngine) AddX2Interface(a, b model.NodeID) error {
	if err := f.call("AddX2Interface"); err != nil {
		return err
	}
	f.x2 = append(f.x2, [2]model.NodeID{a, b})
	return nil
}

func (f *fakeEngine) ActivateDedicatedBearer(_ model.NodeID, _ int, b model.Bearer) error {
	if err := f.call("ActivateDedicatedBearer"); err != nil {
		return err
	}
	f.bearers = append(f.bearers, b)
	return nil
}

func (f *fakeEngine) InstallUdpClient(id model.NodeID, cfg engine.UdpClientConfig) error {
	if err := f.call("InstallUdpClient"); err != nil {
		return err
	}
	f.clients = append(f.clients, fakeClient{Node: id, Cfg: cfg})
	return nil
}

func (f *fakeEngine) InstallPacketSink(id model.NodeID, cfg engine.PacketSinkConfig) error {
	if err := f.call("InstallPacketSink"); err != nil {
		return err
	}
	f.sinks = append(f.sinks, fakeSink{Node: id, Cfg: cfg})
	return nil
}

func (f *fakeEngine) EnablePcap(prefix string, id model.NodeID, dev int) error {
	if err := f.call("EnablePcap"); err != nil {
		return err
	}
	f.pcaps = append(f.pcaps, fakePcap{Prefix: prefix, Node: id, Device: dev})
	return nil
}

func (f *fakeEngine) EnableTraces(layers ...engine.Layer) error {
	if err := f.call("EnableTraces"); err != nil {
		return err
	}
	f.traces = append(f.traces, layers...)
	return nil
}

func (f *fakeEngine) SetStatsEpoch(layer engine.Layer, epoch time.Duration) error {
	if err := f.call("SetStatsEpoch"); err != nil {
		return err
	}
	f.epochs[layer] = epoch
	return nil
}

func (f *fakeEngine) Stop(at time.Duration) error {
	if err := f.call("Stop"); err != nil {
		return err
	}
	f.stopAt = at
	return nil
}

func (f *fakeEngine) Run(context.Context) error {
	if err := f.call("Run"); err != nil {
		return err
	}
	f.runs++
	return nil
}

func (f *fakeEngine) Destroy() error {
	if err := f.call("Destroy"); err != nil {
		return err
	}
	f.destroyed++
	return nil
}

func (f *fakeEngine) countCalls(name string) int {
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}
