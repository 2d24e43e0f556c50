package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"time"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/signalsfoundry/handover-simulator/core"
	"github.com/signalsfoundry/handover-simulator/internal/logging"
	"github.com/signalsfoundry/handover-simulator/model"
)

// Default timing constants of the reference engine.
const (
	DefaultAirDelay            = time.Millisecond
	DefaultX2Delay             = time.Millisecond
	DefaultS1Delay             = 0
	DefaultMeasurementInterval = 200 * time.Millisecond
	// DefaultRrcSignallingDelay is the extra latency of an RRC message
	// carried over SRB1 when the ideal RRC protocol is disabled.
	DefaultRrcSignallingDelay = 4 * time.Millisecond
	DefaultTick                = 100 * time.Millisecond
	DefaultStatsEpoch          = 250 * time.Millisecond
)

// Option configures a Simulator.
type Option func(*Simulator)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Simulator) { s.log = logging.OrNoop(l) }
}

// WithRecorder sends engine events to r.
func WithRecorder(r Recorder) Option {
	return func(s *Simulator) {
		if r != nil {
			s.rec = r
		}
	}
}

// WithPacer drives p every tick of simulation time.
func WithPacer(p Pacer, tick time.Duration) Option {
	return func(s *Simulator) {
		s.pacer = p
		if tick > 0 {
			s.tick = tick
		}
	}
}

// WithOutputDir places trace, statistics and capture files under dir.
func WithOutputDir(dir string) Option {
	return func(s *Simulator) { s.outputDir = dir }
}

// WithAirDelay overrides the radio hop latency.
func WithAirDelay(d time.Duration) Option {
	return func(s *Simulator) { s.airDelay = d }
}

// WithX2Delay overrides the one-way latency of every X2 interface.
func WithX2Delay(d time.Duration) Option {
	return func(s *Simulator) { s.x2Delay = d }
}

// WithS1Delay overrides the latency between eNBs and the gateway, for both
// user data and path switch signalling.
func WithS1Delay(d time.Duration) Option {
	return func(s *Simulator) { s.s1Delay = d }
}

// WithMeasurementInterval overrides the UE measurement report period.
func WithMeasurementInterval(d time.Duration) Option {
	return func(s *Simulator) {
		if d > 0 {
			s.measInterval = d
		}
	}
}

type simNode struct {
	node     model.Node
	mobility core.MotionModel
	devices  []*device
	routes   []route
	enb      *enbState
	ue       *ueState
}

func (n *simNode) device(index int) (*device, error) {
	if index < 1 || index > len(n.devices) {
		return nil, fmt.Errorf("%w: node %d device %d", ErrUnknownDevice, n.node.ID, index)
	}
	return n.devices[index-1], nil
}

func (n *simNode) addDevice(kind deviceKind) *device {
	d := &device{index: len(n.devices) + 1, kind: kind}
	n.devices = append(n.devices, d)
	return d
}

func (n *simNode) ownsAddress(addr netip.Addr) bool {
	for _, d := range n.devices {
		if d.addr.IsValid() && d.addr.Addr() == addr {
			return true
		}
	}
	return false
}

// Simulator is the reference Engine. It runs every event on the goroutine
// that calls Run and is not safe for concurrent use.
type Simulator struct {
	ctx       context.Context
	log       logging.Logger
	rec       Recorder
	pacer     Pacer
	tick      time.Duration
	outputDir string

	airDelay     time.Duration
	x2Delay      time.Duration
	s1Delay      time.Duration
	measInterval time.Duration

	evt   *evtm.EventManager
	nodes map[model.NodeID]*simNode
	order []model.NodeID

	gateway    model.NodeID
	gatewayDev int
	ueByAddr   map[netip.Addr]model.NodeID
	// pathSwitch is the gateway's view of which eNB serves each UE.
	pathSwitch map[model.NodeID]model.NodeID

	scheduler      string
	idealRrc       bool
	radioInstalled bool
	handover       handoverState

	links   []*p2pLink
	clients []*udpClient
	sinks   map[sinkKey]*packetSink
	nextUID uint64

	sent         map[Direction]uint64
	received     map[Direction]uint64
	dropped      uint64
	sinkSnapshot []SinkStats

	pcaps  []*pcapWriter
	traces *traceSet
	stats  map[Layer]*layerStats

	stopAt    time.Duration
	stopSet   bool
	running   bool
	ran       bool
	stopped   bool
	destroyed bool
	sinkErr   error
}

var _ Engine = (*Simulator)(nil)

// NewSimulator constructs an empty engine.
func NewSimulator(opts ...Option) *Simulator {
	s := &Simulator{
		ctx:          context.Background(),
		log:          logging.Noop(),
		rec:          noopRecorder{},
		tick:         DefaultTick,
		outputDir:    ".",
		airDelay:     DefaultAirDelay,
		x2Delay:      DefaultX2Delay,
		s1Delay:      DefaultS1Delay,
		measInterval: DefaultMeasurementInterval,
		evt:          evtm.New(),
		nodes:        make(map[model.NodeID]*simNode),
		gateway:      model.InvalidNodeID,
		ueByAddr:     make(map[netip.Addr]model.NodeID),
		pathSwitch:   make(map[model.NodeID]model.NodeID),
		scheduler:    "RrFfMacScheduler",
		idealRrc:     true,
		handover:     newHandoverState(),
		sinks:        make(map[sinkKey]*packetSink),
		sent:         make(map[Direction]uint64),
		received:     make(map[Direction]uint64),
		stats:        make(map[Layer]*layerStats),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InstallNode registers a node created by the orchestrator's registry.
func (s *Simulator) InstallNode(node model.Node) error {
	if err := s.checkBuild(); err != nil {
		return err
	}
	if node.ID < 0 || node.Kind == model.NodeKindUnknown {
		return fmt.Errorf("%w: %+v", ErrWrongNodeKind, node)
	}
	if _, exists := s.nodes[node.ID]; exists {
		return fmt.Errorf("%w: %d", ErrNodeExists, node.ID)
	}
	s.nodes[node.ID] = &simNode{node: node}
	s.order = append(s.order, node.ID)
	return nil
}

// SetMobility binds a motion model to a node. Rebinding replaces the model.
func (s *Simulator) SetMobility(id model.NodeID, m core.MotionModel) error {
	if err := s.checkBuild(); err != nil {
		return err
	}
	n, err := s.lookup(id)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: nil model for node %d", ErrMobilityMissing, id)
	}
	n.mobility = m
	return nil
}

// Position returns where the node is at simulation time at.
func (s *Simulator) Position(id model.NodeID, at time.Duration) (core.Vec3, error) {
	n, err := s.lookup(id)
	if err != nil {
		return core.Vec3{}, err
	}
	if n.mobility == nil {
		return core.Vec3{}, fmt.Errorf("%w: node %d", ErrMobilityMissing, id)
	}
	return n.mobility.PositionAt(at), nil
}

// Stop schedules the end of the run at simulation time at.
func (s *Simulator) Stop(at time.Duration) error {
	if err := s.checkBuild(); err != nil {
		return err
	}
	if at <= 0 {
		return fmt.Errorf("%w: stop time %s must be positive", ErrNoStopTime, at)
	}
	s.stopAt = at
	s.stopSet = true
	return nil
}

// StopTime returns the scheduled stop time, if any.
func (s *Simulator) StopTime() (time.Duration, bool) {
	return s.stopAt, s.stopSet
}

// Now returns the current simulation time.
func (s *Simulator) Now() time.Duration {
	return fromSeconds(s.evt.CurrentSeconds())
}

// Run executes events until the scheduled stop time. The context is only
// consulted before the first event; there is no mid-run cancellation.
func (s *Simulator) Run(ctx context.Context) error {
	if s.destroyed {
		return ErrDestroyed
	}
	if s.running || s.ran {
		return ErrAlreadyRunning
	}
	if !s.stopSet {
		return ErrNoStopTime
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, id := range s.order {
		n := s.nodes[id]
		if (n.enb != nil || n.ue != nil) && n.mobility == nil {
			return fmt.Errorf("%w: %s", ErrMobilityMissing, n.node.Name)
		}
	}
	if err := s.resolveHandover(ctx); err != nil {
		return err
	}

	s.running = true
	s.ctx = ctx
	defer func() {
		s.running = false
		s.ran = true
	}()

	s.log.Info(ctx, "engine run starting",
		logging.Int("nodes", len(s.order)),
		logging.Duration("stop_at", s.stopAt),
		logging.String("scheduler", s.scheduler),
		logging.String("handover_algorithm", s.handover.name),
	)

	s.at(s.stopAt, s.finish)
	s.startTicker()
	s.startStats()
	s.startMeasurements()
	for _, c := range s.clients {
		s.startClient(c)
	}

	s.evt.Run(s.stopAt.Seconds())
	s.finish()

	s.log.Info(ctx, "engine run finished",
		logging.Duration("sim_time", s.stopAt),
		logging.Int("handovers", s.handover.completed),
	)
	if s.sinkErr != nil {
		return fmt.Errorf("%w: %w", ErrTelemetry, s.sinkErr)
	}
	return nil
}

// Destroy closes every output sink and releases engine state. It is safe to
// call more than once.
func (s *Simulator) Destroy() error {
	if s.destroyed {
		return nil
	}
	s.destroyed = true

	var errs []error
	for _, p := range s.pcaps {
		errs = append(errs, p.Close())
	}
	if s.traces != nil {
		errs = append(errs, s.traces.Close())
	}
	for _, st := range s.stats {
		errs = append(errs, st.Close())
	}
	s.sinkSnapshot = s.snapshotSinks()
	s.pcaps = nil
	s.traces = nil
	s.stats = nil
	s.nodes = nil
	s.clients = nil
	s.sinks = nil
	return errors.Join(errs...)
}

// finish is the stop event. It runs at most once.
func (s *Simulator) finish() {
	if s.stopped {
		return
	}
	s.stopped = true
	s.flushStats(s.stopAt)
	if s.traces != nil {
		s.noteSinkErr(s.traces.Flush())
	}
	for _, p := range s.pcaps {
		s.noteSinkErr(p.Flush())
	}
	if s.pacer != nil {
		s.pacer.Advance(s.stopAt)
	}
	s.rec.SimTimeAdvanced(s.stopAt)
}

func (s *Simulator) startTicker() {
	var tick func()
	tick = func() {
		now := s.Now()
		if s.pacer != nil {
			s.pacer.Advance(now)
		}
		s.rec.SimTimeAdvanced(now)
		s.after(s.tick, tick)
	}
	s.after(s.tick, tick)
}

func (s *Simulator) checkBuild() error {
	if s.destroyed {
		return ErrDestroyed
	}
	if s.running || s.ran {
		return fmt.Errorf("%w: engine already started", ErrBuildOrder)
	}
	return nil
}

func (s *Simulator) lookup(id model.NodeID) (*simNode, error) {
	if s.nodes == nil {
		return nil, ErrDestroyed
	}
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	return n, nil
}

func (s *Simulator) lookupKind(id model.NodeID, kind model.NodeKind) (*simNode, error) {
	n, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if n.node.Kind != kind {
		return nil, fmt.Errorf("%w: node %d is %s, want %s", ErrWrongNodeKind, id, n.node.Kind, kind)
	}
	return n, nil
}

func (s *Simulator) noteSinkErr(err error) {
	if err != nil && s.sinkErr == nil {
		s.sinkErr = err
	}
}

// ---- event plumbing ----

// after schedules fn to run d from now.
func (s *Simulator) after(d time.Duration, fn func()) {
	if d < 0 {
		d = 0
	}
	s.evt.Schedule(s, fn, dispatch, vrtime.SecondsToTime(d.Seconds()))
}

// at schedules fn at absolute simulation time t.
func (s *Simulator) at(t time.Duration, fn func()) {
	s.after(t-s.Now(), fn)
}

func dispatch(_ *evtm.EventManager, context any, data any) any {
	s := context.(*Simulator)
	fn := data.(func())
	if s.stopped || s.Now() > s.stopAt {
		return nil
	}
	fn()
	return nil
}

func fromSeconds(sec float64) time.Duration {
	return time.Duration(math.Round(sec * float64(time.Second)))
}
