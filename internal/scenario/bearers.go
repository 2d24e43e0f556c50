package scenario

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/handover-simulator/internal/engine"
	"github.com/signalsfoundry/handover-simulator/internal/logging"
	"github.com/signalsfoundry/handover-simulator/model"
)

// BearerQoS is the class of every dedicated bearer in the scenario.
const BearerQoS = model.QoSNgbrVideoTcpDefault

// PlanBearers derives the dedicated bearers of one UE. Bearer b carries
// downlink traffic to local port BaseDl+1+b and uplink traffic to remote port
// BaseUl+1+b.
func PlanBearers(cfg model.ExperimentConfig, ue model.NodeID) []model.Bearer {
	if cfg.NumBearersPerUe <= 0 {
		return nil
	}
	out := make([]model.Bearer, 0, cfg.NumBearersPerUe)
	for b := 0; b < cfg.NumBearersPerUe; b++ {
		dl := cfg.Ports.BaseDl + 1 + uint32(b)
		ul := cfg.Ports.BaseUl + 1 + uint32(b)
		out = append(out, model.Bearer{
			Index:  b,
			UE:     ue,
			DlPort: dl,
			UlPort: ul,
			QoS:    BearerQoS,
			Filters: []model.PacketFilter{
				{Direction: model.FilterDownlink, LocalPort: model.SinglePort(dl)},
				{Direction: model.FilterUplink, RemotePort: model.SinglePort(ul)},
			},
		})
	}
	return out
}

// ActivateBearers plans and activates the dedicated bearers of UE 0 on its
// radio device. Other UEs keep only their default bearer. A rejected bearer
// aborts the build.
func ActivateBearers(ctx context.Context, eng engine.Engine, cfg model.ExperimentConfig, net *Network, log logging.Logger) ([]model.Bearer, error) {
	log = logging.OrNoop(log)
	if len(net.Ues) == 0 {
		return nil, nil
	}
	ue := net.Ues[0]
	bearers := PlanBearers(cfg, ue.ID)
	for _, b := range bearers {
		if err := eng.ActivateDedicatedBearer(ue.ID, net.UeDevices[0], b); err != nil {
			return nil, provisioningError("bearer", fmt.Errorf("%s bearer %d: %w", ue.Name, b.Index, err))
		}
		log.Debug(ctx, "dedicated bearer activated",
			logging.String("ue", ue.Name),
			logging.Int("bearer", b.Index),
			logging.Int("dl_port", int(b.DlPort)),
			logging.Int("ul_port", int(b.UlPort)),
			logging.String("qos", b.QoS.String()),
		)
	}
	return bearers, nil
}
