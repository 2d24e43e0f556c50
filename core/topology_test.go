package core

import (
	"reflect"
	"testing"

	"github.com/signalsfoundry/handover-simulator/model"
)

func TestBuildTopology_EnbPositions(t *testing.T) {
	for _, n := range []int{1, 2, 4, 9} {
		topo := BuildTopology(n, 100, 500, 20)
		if len(topo.EnbPositions) != n {
			t.Fatalf("n=%d: got %d eNB positions", n, len(topo.EnbPositions))
		}
		for i, pos := range topo.EnbPositions {
			want := Vec3{X: 100 * float64(i+1), Y: 100, Z: 0}
			if pos != want {
				t.Errorf("n=%d: eNB %d at %+v, want %+v", n, i, pos, want)
			}
			if i > 0 && !(pos.X > topo.EnbPositions[i-1].X) {
				t.Errorf("n=%d: eNB %d x=%v not strictly greater than eNB %d x=%v",
					n, i, pos.X, i-1, topo.EnbPositions[i-1].X)
			}
		}
	}
}

func TestBuildTopology_UeTrajectory(t *testing.T) {
	topo := BuildTopology(4, 100, 500, 20)

	if topo.UePosition != (Vec3{X: 0, Y: 500, Z: 0}) {
		t.Fatalf("UePosition = %+v", topo.UePosition)
	}
	if topo.UeVelocity != (Vec3{X: 20, Y: 0, Z: 0}) {
		t.Fatalf("UeVelocity = %+v", topo.UeVelocity)
	}
}

func TestTopologyFor_Deterministic(t *testing.T) {
	cfg := model.DefaultExperimentConfig()
	a := TopologyFor(cfg)
	b := TopologyFor(cfg)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("topology differs between builds: %+v vs %+v", a, b)
	}
}
