package core

import "github.com/signalsfoundry/handover-simulator/model"

// Topology is the deterministic layout of one experiment: a row of eNBs at
// a fixed y offset and a single UE driving along the x axis past them.
type Topology struct {
	// EnbPositions is ordered by eNB index.
	EnbPositions []Vec3
	UePosition   Vec3
	UeVelocity   Vec3
}

// BuildTopology places eNB i at (distance*(i+1), distance, 0) and the UE at
// (0, yForUe, 0) moving with velocity (speed, 0, 0).
func BuildTopology(numberOfEnbs int, distance, yForUe, speed float64) Topology {
	if numberOfEnbs < 0 {
		numberOfEnbs = 0
	}
	enbs := make([]Vec3, numberOfEnbs)
	for i := range enbs {
		enbs[i] = Vec3{X: distance * float64(i+1), Y: distance, Z: 0}
	}
	return Topology{
		EnbPositions: enbs,
		UePosition:   Vec3{X: 0, Y: yForUe, Z: 0},
		UeVelocity:   Vec3{X: speed, Y: 0, Z: 0},
	}
}

// TopologyFor is BuildTopology over an experiment config.
func TopologyFor(cfg model.ExperimentConfig) Topology {
	return BuildTopology(cfg.NumberOfEnbs, cfg.Distance, cfg.YForUe, cfg.Speed)
}
