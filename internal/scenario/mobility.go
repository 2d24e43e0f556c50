package scenario

import (
	"fmt"

	"github.com/signalsfoundry/handover-simulator/core"
	"github.com/signalsfoundry/handover-simulator/model"
)

// MobilityBinder is the part of the engine that accepts motion models.
type MobilityBinder interface {
	SetMobility(node model.NodeID, m core.MotionModel) error
}

// AssignMobility binds a fixed position to every eNB and a constant-velocity
// model to every UE. Only UE 0 receives the topology's start position and
// velocity; any further UE is parked at the origin with zero velocity.
func AssignMobility(eng MobilityBinder, topo core.Topology, enbs, ues []model.Node) error {
	if len(enbs) != len(topo.EnbPositions) {
		return provisioningError("mobility", fmt.Errorf("%d eNB nodes for %d positions", len(enbs), len(topo.EnbPositions)))
	}
	for i, enb := range enbs {
		if err := eng.SetMobility(enb.ID, &core.ConstantPositionModel{Position: topo.EnbPositions[i]}); err != nil {
			return provisioningError("mobility", fmt.Errorf("%s: %w", enb.Name, err))
		}
	}
	for i, ue := range ues {
		m := &core.ConstantVelocityModel{}
		if i == 0 {
			m.Origin, m.Velocity = topo.UePosition, topo.UeVelocity
		}
		if err := eng.SetMobility(ue.ID, m); err != nil {
			return provisioningError("mobility", fmt.Errorf("%s: %w", ue.Name, err))
		}
	}
	return nil
}
