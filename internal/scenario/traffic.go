package scenario

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/handover-simulator/internal/engine"
	"github.com/signalsfoundry/handover-simulator/internal/logging"
	"github.com/signalsfoundry/handover-simulator/model"
)

// PlanTraffic lists the endpoints of every bearer: per direction one sink
// and one client, sinks first.
func PlanTraffic(cfg model.ExperimentConfig, net *Network, bearers []model.Bearer) []model.Application {
	start := cfg.Traffic.Start
	var out []model.Application
	for _, b := range bearers {
		i, ok := net.UeIndex(b.UE)
		if !ok {
			continue
		}
		ueAddr := net.UeAddrs[i]
		out = append(out,
			model.Application{Kind: model.AppPacketSink, Node: b.UE, Port: b.DlPort, Start: start, Bearer: b.Index, Direction: model.FilterDownlink},
			model.Application{Kind: model.AppUdpClient, Node: net.RemoteHost.ID, Remote: ueAddr, Port: b.DlPort, Start: start, Bearer: b.Index, Direction: model.FilterDownlink},
			model.Application{Kind: model.AppPacketSink, Node: net.RemoteHost.ID, Port: b.UlPort, Start: start, Bearer: b.Index, Direction: model.FilterUplink},
			model.Application{Kind: model.AppUdpClient, Node: b.UE, Remote: net.RemoteAddr, Port: b.UlPort, Start: start, Bearer: b.Index, Direction: model.FilterUplink},
		)
	}
	return out
}

// InstallTraffic installs the fixed-rate UDP endpoints of every bearer.
// Clients have no stop time of their own; the run's stop bounds them.
func InstallTraffic(ctx context.Context, eng engine.Engine, cfg model.ExperimentConfig, net *Network, bearers []model.Bearer, log logging.Logger) ([]model.Application, error) {
	log = logging.OrNoop(log)
	apps := PlanTraffic(cfg, net, bearers)
	for _, app := range apps {
		var err error
		switch app.Kind {
		case model.AppPacketSink:
			err = eng.InstallPacketSink(app.Node, engine.PacketSinkConfig{Port: app.Port, Start: app.Start})
		case model.AppUdpClient:
			err = eng.InstallUdpClient(app.Node, engine.UdpClientConfig{
				Remote:     app.Remote,
				Port:       app.Port,
				Interval:   cfg.Traffic.Interval,
				MaxPackets: cfg.Traffic.MaxPackets,
				PacketSize: cfg.Traffic.PacketSize,
				Start:      app.Start,
			})
		}
		if err != nil {
			return nil, provisioningError("traffic", fmt.Errorf("%s %s on node %d port %d: %w", app.Direction, app.Kind, app.Node, app.Port, err))
		}
	}
	log.Debug(ctx, "traffic installed",
		logging.Int("endpoints", len(apps)),
		logging.Duration("interval", cfg.Traffic.Interval),
		logging.Int("packet_size", int(cfg.Traffic.PacketSize)),
	)
	return apps, nil
}
