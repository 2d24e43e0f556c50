package engine

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/signalsfoundry/handover-simulator/internal/logging"
	"github.com/signalsfoundry/handover-simulator/model"
)

// CellMeasurement is what a UE reports about one cell. The reference engine
// has no propagation model, so reports carry geometry only.
type CellMeasurement struct {
	Cell     model.NodeID
	CellID   uint16
	Distance float64
}

// MeasurementReport is delivered to the handover algorithm of the serving
// cell every measurement interval.
type MeasurementReport struct {
	UE         model.NodeID
	IMSI       uint64
	Time       time.Duration
	Serving    CellMeasurement
	Neighbours []CellMeasurement
}

// HandoverAlgorithm decides whether a UE should leave its serving cell.
type HandoverAlgorithm interface {
	Decide(report MeasurementReport) (target model.NodeID, handover bool)
}

// HandoverAlgorithmFunc adapts a function to HandoverAlgorithm.
type HandoverAlgorithmFunc func(MeasurementReport) (model.NodeID, bool)

// Decide calls f.
func (f HandoverAlgorithmFunc) Decide(r MeasurementReport) (model.NodeID, bool) { return f(r) }

// HandoverAlgorithmFactory builds a decision implementation from validated
// attributes.
type HandoverAlgorithmFactory func(attrs map[string]float64) (HandoverAlgorithm, error)

type attributeSpec struct {
	def, min, max float64
	integer       bool
}

var handoverCatalogue = map[string]map[string]attributeSpec{
	model.HandoverA2A4Rsrq: {
		"ServingCellThreshold": {def: 30, min: 0, max: 34, integer: true},
		"NeighbourCellOffset":  {def: 1, min: 0, max: 34, integer: true},
	},
	model.HandoverA3Rsrp: {
		"Hysteresis":    {def: 3, min: 0, max: 15},
		"TimeToTrigger": {def: 256, min: 0, max: 5120, integer: true},
	},
	model.HandoverNoOp: {},
}

// HandoverAlgorithms lists the algorithm names the engine accepts.
func HandoverAlgorithms() []string {
	return slices.Sorted(maps.Keys(handoverCatalogue))
}

// NormalizeHandoverAlgorithm accepts both short names ("A2A4Rsrq") and type
// names ("ns3::A2A4RsrqHandoverAlgorithm").
func NormalizeHandoverAlgorithm(name string) string {
	name = strings.TrimPrefix(name, "ns3::")
	return strings.TrimSuffix(name, "HandoverAlgorithm")
}

// ValidateHandoverAttributes checks attrs against the catalogue entry of
// name and returns them merged over the defaults.
func ValidateHandoverAttributes(name string, attrs map[string]float64) (map[string]float64, error) {
	name = NormalizeHandoverAlgorithm(name)
	specs, ok := handoverCatalogue[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	merged := make(map[string]float64, len(specs))
	for k, spec := range specs {
		merged[k] = spec.def
	}
	for k, v := range attrs {
		spec, ok := specs[k]
		if !ok {
			return nil, fmt.Errorf("%w: %s has no attribute %q", ErrInvalidAttribute, name, k)
		}
		if math.IsNaN(v) || v < spec.min || v > spec.max {
			return nil, fmt.Errorf("%w: %s.%s=%v outside [%v,%v]", ErrInvalidAttribute, name, k, v, spec.min, spec.max)
		}
		if spec.integer && v != math.Trunc(v) {
			return nil, fmt.Errorf("%w: %s.%s=%v must be an integer", ErrInvalidAttribute, name, k, v)
		}
		merged[k] = v
	}
	return merged, nil
}

type handoverState struct {
	name      string
	attrs     map[string]float64
	factories map[string]HandoverAlgorithmFactory
	decider   HandoverAlgorithm

	started   int
	completed int
	rejected  int
}

func newHandoverState() handoverState {
	return handoverState{
		name:      model.HandoverNoOp,
		attrs:     map[string]float64{},
		factories: make(map[string]HandoverAlgorithmFactory),
	}
}

// SetHandoverAlgorithm selects the algorithm type and its tunables. It must
// precede eNB device installation.
func (s *Simulator) SetHandoverAlgorithm(name string, attrs map[string]float64) error {
	if err := s.checkBuild(); err != nil {
		return err
	}
	if s.radioInstalled {
		return fmt.Errorf("%w: handover algorithm must be set before eNB devices are installed", ErrBuildOrder)
	}
	merged, err := ValidateHandoverAttributes(name, attrs)
	if err != nil {
		return err
	}
	s.handover.name = NormalizeHandoverAlgorithm(name)
	s.handover.attrs = merged
	return nil
}

// HandoverAlgorithm returns the configured algorithm and a copy of its
// attributes.
func (s *Simulator) HandoverAlgorithm() (string, map[string]float64) {
	return s.handover.name, maps.Clone(s.handover.attrs)
}

// RegisterHandoverAlgorithm binds a decision implementation to a catalogue
// entry for this engine instance.
func (s *Simulator) RegisterHandoverAlgorithm(name string, factory HandoverAlgorithmFactory) error {
	if err := s.checkBuild(); err != nil {
		return err
	}
	name = NormalizeHandoverAlgorithm(name)
	if _, ok := handoverCatalogue[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	if factory == nil {
		return fmt.Errorf("%w: nil factory for %q", ErrAlgorithmNotBound, name)
	}
	s.handover.factories[name] = factory
	return nil
}

// HandoverDecisions reports whether the named algorithm will make handover
// decisions when run: "enabled", "disabled" (no implementation registered),
// "noop" or "unknown".
func (s *Simulator) HandoverDecisions(name string) string {
	name = NormalizeHandoverAlgorithm(name)
	if _, ok := handoverCatalogue[name]; !ok {
		return "unknown"
	}
	if name == model.HandoverNoOp {
		return "noop"
	}
	if _, ok := s.handover.factories[name]; ok {
		return "enabled"
	}
	return "disabled"
}

// HandoverCounts returns how many handovers were started, completed and
// rejected.
func (s *Simulator) HandoverCounts() (started, completed, rejected int) {
	return s.handover.started, s.handover.completed, s.handover.rejected
}

func (s *Simulator) resolveHandover(ctx context.Context) error {
	h := &s.handover
	h.decider = nil
	if h.name == model.HandoverNoOp {
		return nil
	}
	factory, ok := h.factories[h.name]
	if !ok {
		s.log.Warn(ctx, "handover decisions disabled: no implementation registered",
			logging.String("algorithm", h.name),
		)
		return nil
	}
	decider, err := factory(maps.Clone(h.attrs))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidAttribute, h.name, err)
	}
	h.decider = decider
	return nil
}

func (s *Simulator) startMeasurements() {
	if s.handover.decider == nil {
		return
	}
	var measure func()
	measure = func() {
		for _, id := range s.order {
			n := s.nodes[id]
			ue := n.ue
			if ue == nil || ue.serving == model.InvalidNodeID || ue.detached || ue.target != model.InvalidNodeID {
				continue
			}
			report := s.measurementReport(n)
			target, ok := s.handover.decider.Decide(report)
			if ok && target != ue.serving {
				s.startHandover(n, target)
			}
		}
		s.after(s.measInterval, measure)
	}
	s.after(s.measInterval, measure)
}

func (s *Simulator) measurementReport(ueNode *simNode) MeasurementReport {
	now := s.Now()
	pos := ueNode.mobility.PositionAt(now)
	report := MeasurementReport{UE: ueNode.node.ID, IMSI: ueNode.ue.imsi, Time: now}
	for _, id := range s.order {
		n := s.nodes[id]
		if n.enb == nil {
			continue
		}
		m := CellMeasurement{
			Cell:     id,
			CellID:   n.enb.cellID,
			Distance: pos.DistanceTo(n.mobility.PositionAt(now)),
		}
		if id == ueNode.ue.serving {
			report.Serving = m
		} else {
			report.Neighbours = append(report.Neighbours, m)
		}
	}
	return report
}

// startHandover runs an X2 handover: request and acknowledgement over X2,
// RRC reconfiguration to the UE, then a path switch at the gateway.
func (s *Simulator) startHandover(ueNode *simNode, targetID model.NodeID) {
	ue := ueNode.ue
	source := s.nodes[ue.serving]
	target, ok := s.nodes[targetID]
	if !ok || target.enb == nil || !source.enb.x2[targetID] {
		s.handover.rejected++
		s.rec.HandoverObserved("rejected")
		s.log.Warn(s.ctx, "handover rejected: no X2 interface to target",
			logging.Any("imsi", ue.imsi),
			logging.Int("source_cell", int(source.enb.cellID)),
			logging.Int("target_node", int(targetID)),
		)
		return
	}

	ue.target = targetID
	s.handover.started++
	s.rec.HandoverObserved("started")
	s.log.Info(s.ctx, "handover started",
		logging.Any("imsi", ue.imsi),
		logging.Int("source_cell", int(source.enb.cellID)),
		logging.Int("target_cell", int(target.enb.cellID)),
		logging.Duration("sim_time", s.Now()),
	)

	ueID := ueNode.node.ID
	s.after(2*s.x2Delay, func() {
		rnti := target.enb.allocRnti()
		ue.detached = true
		s.after(s.rrcDelay(), func() {
			ue.serving = targetID
			ue.rnti = rnti
			ue.detached = false
			ue.target = model.InvalidNodeID

			pending := target.enb.pending[ueID]
			delete(target.enb.pending, ueID)
			for _, pkt := range pending {
				s.radioDownlink(target, ueNode, pkt)
			}

			s.after(s.s1Delay, func() {
				s.pathSwitch[ueID] = targetID
				s.handover.completed++
				s.rec.HandoverObserved("completed")
				s.log.Info(s.ctx, "handover completed",
					logging.Any("imsi", ue.imsi),
					logging.Int("cell", int(target.enb.cellID)),
					logging.Duration("sim_time", s.Now()),
				)
			})
		})
	})
}
