package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/fx"

	"github.com/lifo4ems/crl/infra/transport/amqptransport"
	"github.com/lifo4ems/crl/infra/transport/grpctransport"
	"github.com/lifo4ems/crl/infra/transport/wstransport"
	"github.com/lifo4ems/crl/internal/config"
	"github.com/lifo4ems/crl/internal/model"
	"github.com/lifo4ems/crl/internal/orchestrator"
)

func endpointType(s string) model.EndpointType {
	switch s {
	case "secondary":
		return model.EndpointSecondary
	case "tertiary":
		return model.EndpointTertiary
	case "backup":
		return model.EndpointBackup
	default:
		return model.EndpointPrimary
	}
}

// wireTransports registers every configured endpoint with the
// orchestrator's failover manager and binds Initialize to a dispatcher
// that routes each send by the endpoint's declared transport kind.
func wireTransports(lc fx.Lifecycle, o *orchestrator.Orchestrator, cfg *config.Config, logger *slog.Logger) {
	ws := wstransport.New(logger)
	grpcT := grpctransport.New()

	var amqpT *amqptransport.Transport
	for _, ep := range cfg.Endpoints {
		o.RegisterEndpoint(ep.ID, ep.Name, ep.URL, endpointType(ep.Type), ep.GroupID)
		if ep.Transport == "amqp" && amqpT == nil && cfg.AMQPURI != "" {
			t, err := amqptransport.New(cfg.AMQPURI, logger)
			if err != nil {
				logger.Error("AMQP_TRANSPORT_UNAVAILABLE", "err", err)
				continue
			}
			amqpT = t
		}
	}

	_ = o.Initialize(func(ep model.Endpoint, payload []byte) error {
		for _, declared := range cfg.Endpoints {
			if declared.ID != ep.ID {
				continue
			}
			switch declared.Transport {
			case "amqp":
				if amqpT == nil {
					return fmt.Errorf("transports: amqp not configured")
				}
				return amqpT.Send(ep, payload)
			case "grpc":
				return grpcT.Send(ep, payload)
			default:
				return ws.Send(ep, payload)
			}
		}
		return ws.Send(ep, payload)
	})

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			ws.Close()
			grpcT.Close()
			if amqpT != nil {
				return amqpT.Close()
			}
			return nil
		},
	})
}
