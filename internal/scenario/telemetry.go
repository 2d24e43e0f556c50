package scenario

import (
	"context"

	"github.com/signalsfoundry/handover-simulator/internal/engine"
	"github.com/signalsfoundry/handover-simulator/internal/logging"
	"github.com/signalsfoundry/handover-simulator/model"
)

// TraceLayers returns the layers whose traces cfg enables, bottom up.
func TraceLayers(cfg model.TelemetryConfig) []engine.Layer {
	var out []engine.Layer
	if cfg.PhyTraces {
		out = append(out, engine.LayerPhy)
	}
	if cfg.MacTraces {
		out = append(out, engine.LayerMac)
	}
	if cfg.RlcTraces {
		out = append(out, engine.LayerRlc)
	}
	if cfg.PdcpTraces {
		out = append(out, engine.LayerPdcp)
	}
	return out
}

// WireTelemetry enables packet capture on both ends of the backhaul link,
// the selected per-layer traces and the RLC/PDCP statistics epoch. None of
// it changes packet delivery or timing.
func WireTelemetry(ctx context.Context, eng engine.Engine, cfg model.TelemetryConfig, net *Network, log logging.Logger) error {
	log = logging.OrNoop(log)
	if cfg.Pcap {
		if err := eng.EnablePcap(cfg.PcapPrefix, net.Gateway.ID, net.GatewayP2P); err != nil {
			return provisioningError("pcap", err)
		}
		if err := eng.EnablePcap(cfg.PcapPrefix, net.RemoteHost.ID, net.RemoteP2P); err != nil {
			return provisioningError("pcap", err)
		}
	}

	layers := TraceLayers(cfg)
	if len(layers) > 0 {
		if err := eng.EnableTraces(layers...); err != nil {
			return provisioningError("traces", err)
		}
	}
	for _, layer := range layers {
		if layer != engine.LayerRlc && layer != engine.LayerPdcp {
			continue
		}
		if err := eng.SetStatsEpoch(layer, cfg.StatsEpoch); err != nil {
			return provisioningError("stats epoch", err)
		}
	}

	names := make([]string, 0, len(layers))
	for _, l := range layers {
		names = append(names, l.String())
	}
	log.Debug(ctx, "telemetry wired",
		logging.Any("layers", names),
		logging.Duration("stats_epoch", cfg.StatsEpoch),
		logging.Any("pcap", cfg.Pcap),
	)
	return nil
}
