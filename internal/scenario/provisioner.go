package scenario

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/signalsfoundry/handover-simulator/core"
	"github.com/signalsfoundry/handover-simulator/internal/engine"
	"github.com/signalsfoundry/handover-simulator/internal/logging"
	"github.com/signalsfoundry/handover-simulator/internal/observability"
	"github.com/signalsfoundry/handover-simulator/kb"
	"github.com/signalsfoundry/handover-simulator/model"
)

var (
	// BackhaulBlock addresses the gateway to remote host link.
	BackhaulBlock = netip.MustParsePrefix("1.0.0.0/8")
	// UeBlock addresses the gateway's UE-facing device and every UE.
	UeBlock = netip.MustParsePrefix("7.0.0.0/8")
)

// Network is what the provisioner built: node handles, device indexes and
// addresses that later components refer to.
type Network struct {
	Topology core.Topology

	Gateway    model.Node
	RemoteHost model.Node
	Enbs       []model.Node
	Ues        []model.Node

	// GatewayTunnel is the gateway's UE-facing device and GatewayUeAddr its
	// address, the next hop of every UE default route.
	GatewayTunnel  int
	GatewayUeAddr  netip.Addr
	GatewayP2P     int
	GatewayP2PAddr netip.Addr
	RemoteP2P      int
	RemoteAddr     netip.Addr

	EnbDevices []int
	UeDevices  []int
	UeAddrs    []netip.Addr

	// Nodes is the node arena; Links records interfaces, links and routes.
	Nodes *kb.KnowledgeBase
	Links *core.KnowledgeBase
}

// UeIndex returns the position of a UE in Ues.
func (n *Network) UeIndex(id model.NodeID) (int, bool) {
	for i, ue := range n.Ues {
		if ue.ID == id {
			return i, true
		}
	}
	return 0, false
}

// Provisioner creates the nodes, devices, addresses, routes and X2 mesh of
// one experiment. It is single-use.
type Provisioner struct {
	cfg     model.ExperimentConfig
	eng     engine.Engine
	log     logging.Logger
	metrics *observability.ExperimentCollector

	nodes     *kb.KnowledgeBase
	links     *core.KnowledgeBase
	backhaul  *core.AddressAllocator
	ueAddrs   *core.AddressAllocator
	unsubNode func()
	built     bool
}

// NewProvisioner returns a provisioner for cfg driving eng. metrics may be
// nil.
func NewProvisioner(cfg model.ExperimentConfig, eng engine.Engine, log logging.Logger, metrics *observability.ExperimentCollector) *Provisioner {
	p := &Provisioner{
		cfg:      cfg,
		eng:      eng,
		log:      logging.OrNoop(log),
		metrics:  metrics,
		nodes:    kb.NewKnowledgeBase(),
		links:    core.NewKnowledgeBase(),
		backhaul: core.MustAddressAllocator(BackhaulBlock.String()),
		ueAddrs:  core.MustAddressAllocator(UeBlock.String()),
	}
	p.unsubNode = p.nodes.Subscribe(func(ev kb.Event) {
		if ev.Type == kb.EventNodeAdded {
			p.metrics.NodeAdded(ev.Node.Kind.String())
		}
	})
	return p
}

// SetUeBlock replaces the UE address block. It must be called before Build.
func (p *Provisioner) SetUeBlock(prefix netip.Prefix) error {
	a, err := core.NewAddressAllocator(prefix)
	if err != nil {
		return &ConfigurationError{Err: err}
	}
	p.ueAddrs = a
	return nil
}

// Build validates the configuration and provisions the whole network. Any
// failure aborts the build; the engine must then be destroyed.
func (p *Provisioner) Build(ctx context.Context) (*Network, error) {
	if p.built {
		return nil, provisioningError("build", errors.New("provisioner already used"))
	}
	p.built = true
	defer p.unsubNode()
	if err := p.cfg.Validate(); err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	net := &Network{
		Topology: core.TopologyFor(p.cfg),
		Nodes:    p.nodes,
		Links:    p.links,
	}
	steps := []struct {
		name string
		fn   func(context.Context, *Network) error
	}{
		{"radio parameters", p.configureRadio},
		{"core network", p.buildCore},
		{"radio nodes", p.createRadioNodes},
		{"mobility", p.bindMobility},
		{"radio devices", p.installRadioDevices},
		{"ue addressing", p.addressUes},
		{"attach", p.attachUes},
		{"x2 mesh", p.buildX2Mesh},
	}
	for _, step := range steps {
		if err := step.fn(ctx, net); err != nil {
			p.log.Error(ctx, "provisioning failed",
				logging.String("step", step.name),
				logging.Err(err),
			)
			return nil, err
		}
	}

	p.log.Info(ctx, "network provisioned",
		logging.Int("enbs", len(net.Enbs)),
		logging.Int("ues", len(net.Ues)),
		logging.Int("x2_links", len(p.links.GetLinksByKind(core.LinkKindX2))),
		logging.String("gateway_ue_addr", net.GatewayUeAddr.String()),
	)
	return net, nil
}

func (p *Provisioner) configureRadio(ctx context.Context, _ *Network) error {
	if err := p.eng.SetScheduler(p.cfg.Scheduler); err != nil {
		return provisioningError("scheduler", err)
	}
	if err := p.eng.SetIdealRrc(p.cfg.UseIdealRrc); err != nil {
		return provisioningError("rrc", err)
	}
	h := p.cfg.Handover
	if err := p.eng.SetHandoverAlgorithm(h.Algorithm, h.Attributes()); err != nil {
		return provisioningError("handover algorithm", err)
	}
	p.log.Debug(ctx, "radio parameters set",
		logging.String("scheduler", p.cfg.Scheduler),
		logging.Bool("ideal_rrc", p.cfg.UseIdealRrc),
		logging.String("handover_algorithm", h.Algorithm),
		logging.Any("handover_attributes", h.Attributes()),
	)
	return nil
}

// buildCore creates the gateway, the remote host and the backhaul link
// between them.
func (p *Provisioner) buildCore(ctx context.Context, net *Network) error {
	var err error
	if net.Gateway, err = p.addNode(model.NodeKindPgw); err != nil {
		return err
	}
	if net.RemoteHost, err = p.addNode(model.NodeKindRemoteHost); err != nil {
		return err
	}

	if net.GatewayTunnel, err = p.eng.InstallGateway(net.Gateway.ID); err != nil {
		return provisioningError("gateway", err)
	}
	if net.GatewayUeAddr, err = p.assignNext(net.Gateway.ID, net.GatewayTunnel, core.MediumWired, p.ueAddrs); err != nil {
		return err
	}

	bh := p.cfg.Backhaul
	net.GatewayP2P, net.RemoteP2P, err = p.eng.InstallPointToPoint(net.Gateway.ID, net.RemoteHost.ID, engine.PointToPointConfig{
		DataRate: bh.DataRate,
		MTU:      bh.MTU,
		Delay:    bh.Delay,
	})
	if err != nil {
		return provisioningError("backhaul link", err)
	}
	if net.GatewayP2PAddr, err = p.assignNext(net.Gateway.ID, net.GatewayP2P, core.MediumWired, p.backhaul); err != nil {
		return err
	}
	if net.RemoteAddr, err = p.assignNext(net.RemoteHost.ID, net.RemoteP2P, core.MediumWired, p.backhaul); err != nil {
		return err
	}
	rate, err := engine.ParseDataRate(bh.DataRate)
	if err != nil {
		return provisioningError("backhaul link", err)
	}
	link := &core.NetworkLink{
		ID:          fmt.Sprintf("p2p/%d-%d", net.Gateway.ID, net.RemoteHost.ID),
		Kind:        core.LinkKindPointToPoint,
		NodeA:       net.Gateway.ID,
		NodeB:       net.RemoteHost.ID,
		InterfaceA:  core.InterfaceID(net.Gateway.ID, net.GatewayP2P),
		InterfaceB:  core.InterfaceID(net.RemoteHost.ID, net.RemoteP2P),
		DataRateBps: rate,
		MTU:         bh.MTU,
		Delay:       bh.Delay,
	}
	if err := p.links.AddNetworkLink(link); err != nil {
		return provisioningError("backhaul link", err)
	}
	p.metrics.LinkAdded(string(core.LinkKindPointToPoint))

	// Return traffic for UEs leaves the remote host on its backhaul device.
	if err := p.addRoute(core.Route{Node: net.RemoteHost.ID, Destination: p.ueAddrs.Prefix(), Device: net.RemoteP2P}); err != nil {
		return err
	}
	p.log.Debug(ctx, "core network built",
		logging.String("remote_addr", net.RemoteAddr.String()),
		logging.String("backhaul_rate", bh.DataRate),
		logging.Duration("backhaul_delay", bh.Delay),
	)
	return nil
}

func (p *Provisioner) createRadioNodes(_ context.Context, net *Network) error {
	for i := 0; i < p.cfg.NumberOfEnbs; i++ {
		n, err := p.addNode(model.NodeKindEnb)
		if err != nil {
			return err
		}
		net.Enbs = append(net.Enbs, n)
	}
	for i := 0; i < p.cfg.NumberOfUes; i++ {
		n, err := p.addNode(model.NodeKindUe)
		if err != nil {
			return err
		}
		net.Ues = append(net.Ues, n)
	}
	return nil
}

func (p *Provisioner) bindMobility(_ context.Context, net *Network) error {
	return AssignMobility(p.eng, net.Topology, net.Enbs, net.Ues)
}

func (p *Provisioner) installRadioDevices(_ context.Context, net *Network) error {
	for _, enb := range net.Enbs {
		dev, err := p.eng.InstallEnbDevice(enb.ID, engine.EnbDeviceConfig{TxPowerDbm: p.cfg.EnbTxPowerDbm})
		if err != nil {
			return provisioningError("enb device", fmt.Errorf("%s: %w", enb.Name, err))
		}
		if err := p.addInterface(enb.ID, dev, core.MediumRadio); err != nil {
			return err
		}
		net.EnbDevices = append(net.EnbDevices, dev)
	}
	for _, ue := range net.Ues {
		dev, err := p.eng.InstallUeDevice(ue.ID)
		if err != nil {
			return provisioningError("ue device", fmt.Errorf("%s: %w", ue.Name, err))
		}
		net.UeDevices = append(net.UeDevices, dev)
	}
	return nil
}

// addressUes gives every UE one address from the UE block and a default
// route through the gateway.
func (p *Provisioner) addressUes(_ context.Context, net *Network) error {
	for i, ue := range net.Ues {
		dev := net.UeDevices[i]
		addr, err := p.assignNext(ue.ID, dev, core.MediumRadio, p.ueAddrs)
		if err != nil {
			return err
		}
		net.UeAddrs = append(net.UeAddrs, addr)
		if err := p.addRoute(core.Route{Node: ue.ID, Destination: core.DefaultDestination, Gateway: net.GatewayUeAddr, Device: dev}); err != nil {
			return err
		}
	}
	return nil
}

// attachUes attaches every UE to eNB 0 regardless of where it starts.
func (p *Provisioner) attachUes(ctx context.Context, net *Network) error {
	first := net.Enbs[0]
	for _, ue := range net.Ues {
		if err := p.eng.Attach(ue.ID, first.ID); err != nil {
			return provisioningError("attach", fmt.Errorf("%s to %s: %w", ue.Name, first.Name, err))
		}
		p.log.Debug(ctx, "ue attached",
			logging.String("ue", ue.Name),
			logging.String("enb", first.Name),
		)
	}
	return nil
}

func (p *Provisioner) buildX2Mesh(_ context.Context, net *Network) error {
	for i := range net.Enbs {
		for j := i + 1; j < len(net.Enbs); j++ {
			a, b := net.Enbs[i].ID, net.Enbs[j].ID
			if err := p.eng.AddX2Interface(a, b); err != nil {
				return provisioningError("x2", fmt.Errorf("%s-%s: %w", net.Enbs[i].Name, net.Enbs[j].Name, err))
			}
			link := &core.NetworkLink{ID: core.X2LinkID(a, b), Kind: core.LinkKindX2, NodeA: a, NodeB: b}
			if err := p.links.AddNetworkLink(link); err != nil {
				return provisioningError("x2", err)
			}
			p.metrics.LinkAdded(string(core.LinkKindX2))
		}
	}
	return nil
}

func (p *Provisioner) addNode(kind model.NodeKind) (model.Node, error) {
	n, err := p.nodes.AddNode(kind)
	if err != nil {
		return model.Node{}, provisioningError("node", err)
	}
	if err := p.eng.InstallNode(n); err != nil {
		return model.Node{}, provisioningError("node", fmt.Errorf("%s: %w", n.Name, err))
	}
	return n, nil
}

func (p *Provisioner) addInterface(node model.NodeID, dev int, medium core.MediumType) error {
	intf := &core.NetworkInterface{
		ID:           core.InterfaceID(node, dev),
		ParentNodeID: node,
		Device:       dev,
		Medium:       medium,
	}
	if err := p.links.AddInterface(intf); err != nil {
		return provisioningError("interface", err)
	}
	return nil
}

// assignNext draws the next address from alloc and assigns it to a node
// device in both the engine and the link registry.
func (p *Provisioner) assignNext(node model.NodeID, dev int, medium core.MediumType, alloc *core.AddressAllocator) (netip.Addr, error) {
	addr, err := alloc.Next()
	if err != nil {
		return netip.Addr{}, provisioningError("address", fmt.Errorf("node %d: %w", node, err))
	}
	prefix := alloc.HostPrefix(addr)
	if err := p.eng.AssignAddress(node, dev, prefix); err != nil {
		return netip.Addr{}, provisioningError("address", fmt.Errorf("node %d %s: %w", node, prefix, err))
	}
	ifID := core.InterfaceID(node, dev)
	if p.links.GetNetworkInterface(ifID) == nil {
		if err := p.addInterface(node, dev, medium); err != nil {
			return netip.Addr{}, err
		}
	}
	if err := p.links.AssignAddress(ifID, prefix); err != nil {
		return netip.Addr{}, provisioningError("address", err)
	}
	return addr, nil
}

func (p *Provisioner) addRoute(r core.Route) error {
	if err := p.eng.AddRoute(r.Node, r.Destination, r.Gateway, r.Device); err != nil {
		return provisioningError("route", fmt.Errorf("node %d to %s: %w", r.Node, r.Destination, err))
	}
	if err := p.links.AddRoute(r); err != nil {
		return provisioningError("route", err)
	}
	return nil
}
