package engine

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/signalsfoundry/handover-simulator/core"
	"github.com/signalsfoundry/handover-simulator/model"
)

func TestRunDeliversTrafficBothDirections(t *testing.T) {
	rec := newCountingRecorder()
	tn := buildTestNet(t, 1, WithRecorder(rec))

	must(t, tn.sim.Stop(1005*time.Millisecond))
	must(t, tn.sim.Run(context.Background()))

	sum := tn.sim.Summary()
	for _, dir := range []Direction{Downlink, Uplink} {
		// Sends at 0, 10ms, ..., 1000ms; the last one is still in flight at
		// the stop time.
		if got := sum.Sent[dir]; got != 101 {
			t.Errorf("%s sent = %d, want 101", dir, got)
		}
		if got := sum.Received[dir]; got != 100 {
			t.Errorf("%s received = %d, want 100", dir, got)
		}
	}
	if sum.Dropped != 0 {
		t.Errorf("dropped = %d, want 0 (reasons %v)", sum.Dropped, rec.dropped)
	}
	if len(sum.Sinks) != 2 {
		t.Fatalf("sinks = %+v, want 2", sum.Sinks)
	}
	if sum.Sinks[0].Node != tn.remote.ID || sum.Sinks[0].Port != 80002 {
		t.Errorf("first sink = %+v, want remote host port 80002", sum.Sinks[0])
	}
	if sum.Sinks[1].Node != tn.ue.ID || sum.Sinks[1].Bytes != 100*1024 {
		t.Errorf("second sink = %+v, want UE with 100 datagrams", sum.Sinks[1])
	}
	if rec.simTime != 1005*time.Millisecond {
		t.Errorf("recorder sim time = %s, want 1.005s", rec.simTime)
	}
}

func TestRunPreconditions(t *testing.T) {
	t.Run("no stop time", func(t *testing.T) {
		sim := NewSimulator(WithOutputDir(t.TempDir()))
		if err := sim.Run(context.Background()); !errors.Is(err, ErrNoStopTime) {
			t.Fatalf("Run error = %v, want ErrNoStopTime", err)
		}
		if err := sim.Stop(0); !errors.Is(err, ErrNoStopTime) {
			t.Fatalf("Stop(0) error = %v, want ErrNoStopTime", err)
		}
	})

	t.Run("missing mobility", func(t *testing.T) {
		sim := NewSimulator(WithOutputDir(t.TempDir()))
		enb := model.Node{ID: 0, Kind: model.NodeKindEnb, Name: "enb-0"}
		must(t, sim.InstallNode(enb))
		_, err := sim.InstallEnbDevice(enb.ID, EnbDeviceConfig{TxPowerDbm: 46})
		must(t, err)
		must(t, sim.Stop(time.Second))
		if err := sim.Run(context.Background()); !errors.Is(err, ErrMobilityMissing) {
			t.Fatalf("Run error = %v, want ErrMobilityMissing", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		sim := NewSimulator(WithOutputDir(t.TempDir()))
		must(t, sim.Stop(time.Second))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := sim.Run(ctx); !errors.Is(err, context.Canceled) {
			t.Fatalf("Run error = %v, want context.Canceled", err)
		}
	})
}

func TestRunOnceThenDestroy(t *testing.T) {
	tn := buildTestNet(t, 2)
	must(t, tn.sim.Stop(100*time.Millisecond))
	must(t, tn.sim.Run(context.Background()))

	if err := tn.sim.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run error = %v, want ErrAlreadyRunning", err)
	}
	if err := tn.sim.Stop(time.Second); !errors.Is(err, ErrBuildOrder) {
		t.Fatalf("Stop after run error = %v, want ErrBuildOrder", err)
	}

	before := tn.sim.Summary()
	must(t, tn.sim.Destroy())
	must(t, tn.sim.Destroy())

	after := tn.sim.Summary()
	if after.Received[Downlink] != before.Received[Downlink] || len(after.Sinks) != len(before.Sinks) {
		t.Fatalf("summary changed across Destroy: %+v vs %+v", before, after)
	}
	if err := tn.sim.Run(context.Background()); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("Run after Destroy error = %v, want ErrDestroyed", err)
	}
	if err := tn.sim.InstallNode(model.Node{ID: 99, Kind: model.NodeKindUe}); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("InstallNode after Destroy error = %v, want ErrDestroyed", err)
	}
}

func TestInstallNodeValidation(t *testing.T) {
	sim := NewSimulator()
	must(t, sim.InstallNode(model.Node{ID: 0, Kind: model.NodeKindPgw}))
	if err := sim.InstallNode(model.Node{ID: 0, Kind: model.NodeKindPgw}); !errors.Is(err, ErrNodeExists) {
		t.Fatalf("duplicate error = %v, want ErrNodeExists", err)
	}
	if err := sim.InstallNode(model.Node{ID: 1}); !errors.Is(err, ErrWrongNodeKind) {
		t.Fatalf("unknown kind error = %v, want ErrWrongNodeKind", err)
	}
	if _, err := sim.InstallEnbDevice(0, EnbDeviceConfig{}); !errors.Is(err, ErrWrongNodeKind) {
		t.Fatalf("eNB device on PGW error = %v, want ErrWrongNodeKind", err)
	}
	if _, err := sim.InstallUeDevice(7); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("UE device on missing node error = %v, want ErrUnknownNode", err)
	}
}

func TestPositionFollowsMobility(t *testing.T) {
	tn := buildTestNet(t, 2)

	got, err := tn.sim.Position(tn.ue.ID, 5*time.Second)
	must(t, err)
	if want := (core.Vec3{X: 100, Y: 500}); got != want {
		t.Fatalf("UE position at 5s = %+v, want %+v", got, want)
	}
	got, err = tn.sim.Position(tn.enbs[1].ID, 5*time.Second)
	must(t, err)
	if want := (core.Vec3{X: 200, Y: 100}); got != want {
		t.Fatalf("eNB 1 position = %+v, want %+v", got, want)
	}
	if _, err := tn.sim.Position(tn.pgw.ID, 0); !errors.Is(err, ErrMobilityMissing) {
		t.Fatalf("PGW position error = %v, want ErrMobilityMissing", err)
	}
}

func TestBuildOrder(t *testing.T) {
	tn := buildTestNet(t, 1)

	if err := tn.sim.SetScheduler("PfFfMacScheduler"); !errors.Is(err, ErrBuildOrder) {
		t.Fatalf("SetScheduler after eNB install = %v, want ErrBuildOrder", err)
	}
	if err := tn.sim.SetHandoverAlgorithm(model.HandoverA3Rsrp, nil); !errors.Is(err, ErrBuildOrder) {
		t.Fatalf("SetHandoverAlgorithm after eNB install = %v, want ErrBuildOrder", err)
	}
	if err := tn.sim.SetIdealRrc(false); !errors.Is(err, ErrBuildOrder) {
		t.Fatalf("SetIdealRrc after eNB install = %v, want ErrBuildOrder", err)
	}
	if !tn.sim.IdealRrc() {
		t.Fatal("ideal RRC must stay enabled after a rejected change")
	}

	sim := NewSimulator()
	if err := sim.SetScheduler("ns3::PfFfMacScheduler"); err != nil {
		t.Fatalf("SetScheduler with ns3 prefix: %v", err)
	}
	if got := sim.Scheduler(); got != "PfFfMacScheduler" {
		t.Fatalf("Scheduler = %q", got)
	}
	if err := sim.SetScheduler("FancyScheduler"); !errors.Is(err, ErrUnknownScheduler) {
		t.Fatalf("unknown scheduler error = %v", err)
	}
	if err := sim.SetStatsEpoch(LayerRlc, time.Second); !errors.Is(err, ErrBuildOrder) {
		t.Fatalf("SetStatsEpoch before EnableTraces = %v, want ErrBuildOrder", err)
	}
}

func TestAttachAndX2Validation(t *testing.T) {
	tn := buildTestNet(t, 2)

	if got, err := tn.sim.ServingCell(tn.ue.ID); err != nil || got != tn.enbs[0].ID {
		t.Fatalf("ServingCell = %d, %v; want %d", got, err, tn.enbs[0].ID)
	}
	if !tn.sim.HasX2(tn.enbs[1].ID, tn.enbs[0].ID) {
		t.Fatal("HasX2 should be symmetric")
	}
	if err := tn.sim.AddX2Interface(tn.enbs[0].ID, tn.enbs[0].ID); err == nil {
		t.Fatal("AddX2Interface to itself should fail")
	}
	if err := tn.sim.AddX2Interface(tn.enbs[0].ID, tn.ue.ID); !errors.Is(err, ErrWrongNodeKind) {
		t.Fatalf("AddX2Interface to a UE = %v, want ErrWrongNodeKind", err)
	}
	if err := tn.sim.Attach(tn.ue.ID, tn.remote.ID); !errors.Is(err, ErrWrongNodeKind) {
		t.Fatalf("Attach to remote host = %v, want ErrWrongNodeKind", err)
	}
}

func TestAddressingAndRouting(t *testing.T) {
	tn := buildTestNet(t, 1)
	s := tn.sim

	if err := s.AssignAddress(tn.ue.ID, tn.ueDev, netip.MustParsePrefix("7.0.0.3/8")); !errors.Is(err, ErrAddressConflict) {
		t.Fatalf("second address on a device = %v, want ErrAddressConflict", err)
	}
	if err := s.AssignAddress(tn.ue.ID, tn.ueDev, netip.MustParsePrefix("2001:db8::1/64")); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("IPv6 address = %v, want ErrInvalidAddress", err)
	}
	if err := s.AddRoute(tn.remote.ID, netip.MustParsePrefix("10.0.0.0/8"), netip.Addr{}, 9); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("route via missing device = %v, want ErrUnknownDevice", err)
	}

	remote := s.nodes[tn.remote.ID]
	dev, ok := s.lookupRoute(remote, tn.ueAddr)
	if !ok || dev.index != tn.remoteP2P {
		t.Fatalf("remote route to UE = %+v, %v", dev, ok)
	}
	if _, ok := s.lookupRoute(remote, netip.MustParseAddr("192.168.1.1")); ok {
		t.Fatal("remote host should have no route to 192.168.1.1")
	}
	ue := s.nodes[tn.ue.ID]
	dev, ok = s.lookupRoute(ue, tn.remoteAddr)
	if !ok || dev.index != tn.ueDev {
		t.Fatalf("UE default route = %+v, %v", dev, ok)
	}
	if src, ok := s.sourceAddress(ue, tn.remoteAddr); !ok || src != tn.ueAddr {
		t.Fatalf("UE source address = %s, %v", src, ok)
	}
}

func TestParseDataRate(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"100Gb/s", 100_000_000_000, false},
		{"5Mbps", 5_000_000, false},
		{"1kb/s", 1_000, false},
		{"8bps", 8, false},
		{"", 0, true},
		{"fast", 0, true},
		{"0Gb/s", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDataRate(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidDataRate) {
				t.Errorf("ParseDataRate(%q) error = %v, want ErrInvalidDataRate", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseDataRate(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
}

func TestMtuDrop(t *testing.T) {
	rec := newCountingRecorder()
	tn := buildTestNet(t, 1, WithRecorder(rec))
	big := UdpClientConfig{Remote: tn.ueAddr, Port: 80001, Interval: time.Second, MaxPackets: 1, PacketSize: 1500}
	must(t, tn.sim.InstallUdpClient(tn.remote.ID, big))
	must(t, tn.sim.Stop(5*time.Millisecond))
	must(t, tn.sim.Run(context.Background()))

	if rec.dropped["mtu"] != 1 {
		t.Fatalf("mtu drops = %d, want 1 (all %v)", rec.dropped["mtu"], rec.dropped)
	}
}

func TestApplicationValidation(t *testing.T) {
	tn := buildTestNet(t, 1)
	s := tn.sim

	if err := s.InstallPacketSink(tn.ue.ID, PacketSinkConfig{Port: 80001}); !errors.Is(err, ErrPortInUse) {
		t.Fatalf("duplicate sink = %v, want ErrPortInUse", err)
	}
	bad := []UdpClientConfig{
		{Remote: tn.ueAddr, Port: 1, Interval: 0, MaxPackets: 1, PacketSize: 100},
		{Remote: tn.ueAddr, Port: 1, Interval: time.Millisecond, MaxPackets: 0, PacketSize: 100},
		{Remote: tn.ueAddr, Port: 1, Interval: time.Millisecond, MaxPackets: 1, PacketSize: 4},
		{Port: 1, Interval: time.Millisecond, MaxPackets: 1, PacketSize: 100},
	}
	for i, cfg := range bad {
		if err := s.InstallUdpClient(tn.remote.ID, cfg); !errors.Is(err, ErrInvalidApp) {
			t.Errorf("case %d: error = %v, want ErrInvalidApp", i, err)
		}
	}
}
