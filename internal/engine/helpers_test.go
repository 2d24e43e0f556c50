package engine

import (
	"net/netip"
	"testing"
	"time"

	"github.com/signalsfoundry/handover-simulator/core"
	"github.com/signalsfoundry/handover-simulator/model"
)

type testNet struct {
	sim        *Simulator
	dir        string
	pgw        model.Node
	remote     model.Node
	enbs       []model.Node
	ue         model.Node
	ueDev      int
	pgwP2P     int
	remoteP2P  int
	ueAddr     netip.Addr
	remoteAddr netip.Addr
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// buildTestNet wires the reference handover scenario directly against the
// engine: PGW, remote host, a row of eNBs in an X2 mesh and one UE with one
// bearer.
func buildTestNet(t *testing.T, numEnbs int, opts ...Option) *testNet {
	t.Helper()
	return buildTestNetX2(t, numEnbs, true, opts...)
}

func buildTestNetX2(t *testing.T, numEnbs int, x2 bool, opts ...Option) *testNet {
	t.Helper()
	dir := t.TempDir()
	sim := NewSimulator(append([]Option{WithOutputDir(dir)}, opts...)...)
	tn := &testNet{sim: sim, dir: dir}

	next := 0
	node := func(kind model.NodeKind, index int) model.Node {
		n := model.Node{ID: model.NodeID(next), Kind: kind, Index: index, Name: model.NodeName(kind, index)}
		next++
		must(t, sim.InstallNode(n))
		return n
	}

	tn.pgw = node(model.NodeKindPgw, 0)
	tn.remote = node(model.NodeKindRemoteHost, 0)
	tun, err := sim.InstallGateway(tn.pgw.ID)
	must(t, err)
	must(t, sim.AssignAddress(tn.pgw.ID, tun, netip.MustParsePrefix("7.0.0.1/8")))

	tn.pgwP2P, tn.remoteP2P, err = sim.InstallPointToPoint(tn.pgw.ID, tn.remote.ID, PointToPointConfig{
		DataRate: "100Gb/s", MTU: 1500, Delay: 10 * time.Millisecond,
	})
	must(t, err)
	must(t, sim.AssignAddress(tn.pgw.ID, tn.pgwP2P, netip.MustParsePrefix("1.0.0.1/8")))
	must(t, sim.AssignAddress(tn.remote.ID, tn.remoteP2P, netip.MustParsePrefix("1.0.0.2/8")))
	must(t, sim.AddRoute(tn.remote.ID, netip.MustParsePrefix("7.0.0.0/8"), netip.Addr{}, tn.remoteP2P))
	tn.remoteAddr = netip.MustParseAddr("1.0.0.2")

	must(t, sim.SetScheduler("RrFfMacScheduler"))
	must(t, sim.RegisterHandoverAlgorithm(model.HandoverA2A4Rsrq, nearestCell))
	must(t, sim.SetHandoverAlgorithm(model.HandoverA2A4Rsrq, map[string]float64{
		"ServingCellThreshold": 30, "NeighbourCellOffset": 1,
	}))

	for i := 0; i < numEnbs; i++ {
		enb := node(model.NodeKindEnb, i)
		must(t, sim.SetMobility(enb.ID, &core.ConstantPositionModel{Position: core.Vec3{X: 100 * float64(i+1), Y: 100}}))
		_, err := sim.InstallEnbDevice(enb.ID, EnbDeviceConfig{TxPowerDbm: 46})
		must(t, err)
		tn.enbs = append(tn.enbs, enb)
	}

	tn.ue = node(model.NodeKindUe, 0)
	must(t, sim.SetMobility(tn.ue.ID, &core.ConstantVelocityModel{
		Origin: core.Vec3{Y: 500}, Velocity: core.Vec3{X: 20},
	}))
	tn.ueDev, err = sim.InstallUeDevice(tn.ue.ID)
	must(t, err)
	must(t, sim.AssignAddress(tn.ue.ID, tn.ueDev, netip.MustParsePrefix("7.0.0.2/8")))
	must(t, sim.AddRoute(tn.ue.ID, core.DefaultDestination, netip.MustParseAddr("7.0.0.1"), tn.ueDev))
	tn.ueAddr = netip.MustParseAddr("7.0.0.2")
	must(t, sim.Attach(tn.ue.ID, tn.enbs[0].ID))

	for i := range tn.enbs {
		if !x2 {
			break
		}
		for j := i + 1; j < len(tn.enbs); j++ {
			must(t, sim.AddX2Interface(tn.enbs[i].ID, tn.enbs[j].ID))
		}
	}

	must(t, sim.ActivateDedicatedBearer(tn.ue.ID, tn.ueDev, testBearer(tn.ue.ID)))

	traffic := UdpClientConfig{Interval: 10 * time.Millisecond, MaxPackets: 1000000, PacketSize: 1024}
	dl := traffic
	dl.Remote, dl.Port = tn.ueAddr, 80001
	ul := traffic
	ul.Remote, ul.Port = tn.remoteAddr, 80002
	must(t, sim.InstallPacketSink(tn.ue.ID, PacketSinkConfig{Port: 80001}))
	must(t, sim.InstallUdpClient(tn.remote.ID, dl))
	must(t, sim.InstallPacketSink(tn.remote.ID, PacketSinkConfig{Port: 80002}))
	must(t, sim.InstallUdpClient(tn.ue.ID, ul))

	t.Cleanup(func() { _ = sim.Destroy() })
	return tn
}

func testBearer(ue model.NodeID) model.Bearer {
	return model.Bearer{
		Index:  0,
		UE:     ue,
		DlPort: 80001,
		UlPort: 80002,
		QoS:    model.QoSNgbrVideoTcpDefault,
		Filters: []model.PacketFilter{
			{Direction: model.FilterDownlink, LocalPort: model.SinglePort(80001)},
			{Direction: model.FilterUplink, RemotePort: model.SinglePort(80002)},
		},
	}
}

// nearestCell hands over to any neighbour strictly closer than the serving
// cell.
func nearestCell(map[string]float64) (HandoverAlgorithm, error) {
	return HandoverAlgorithmFunc(func(r MeasurementReport) (model.NodeID, bool) {
		best := r.Serving
		for _, n := range r.Neighbours {
			if n.Distance < best.Distance {
				best = n
			}
		}
		return best.Cell, best.Cell != r.Serving.Cell
	}), nil
}

type countingRecorder struct {
	// clock, when set, timestamps handover events.
	clock       func() time.Duration
	startedAt   []time.Duration
	completedAt []time.Duration

	sent      map[string]int
	received  map[string]int
	dropped   map[string]int
	handovers map[string]int
	forwarded int
	simTime   time.Duration
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		sent:      map[string]int{},
		received:  map[string]int{},
		dropped:   map[string]int{},
		handovers: map[string]int{},
	}
}

func (r *countingRecorder) PacketSent(dir string, _ int) { r.sent[dir]++ }
func (r *countingRecorder) PacketReceived(dir string, _ int, _ time.Duration) {
	r.received[dir]++
}
func (r *countingRecorder) PacketDropped(_, reason string) { r.dropped[reason]++ }
func (r *countingRecorder) HandoverObserved(outcome string) {
	r.handovers[outcome]++
	if r.clock == nil {
		return
	}
	switch outcome {
	case "started":
		r.startedAt = append(r.startedAt, r.clock())
	case "completed":
		r.completedAt = append(r.completedAt, r.clock())
	}
}

func (r *countingRecorder) X2Forward()                      { r.forwarded++ }
func (r *countingRecorder) SimTimeAdvanced(t time.Duration) { r.simTime = t }
