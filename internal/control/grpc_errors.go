package control

import (
	"context"
	"errors"

	"github.com/signalsfoundry/handover-simulator/core"
	"github.com/signalsfoundry/handover-simulator/internal/engine"
	"github.com/signalsfoundry/handover-simulator/internal/scenario"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ToStatusError maps experiment errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, scenario.ErrInvalidConfig),
		errors.Is(err, engine.ErrUnknownAlgorithm),
		errors.Is(err, engine.ErrInvalidAttribute),
		errors.Is(err, engine.ErrUnknownScheduler),
		errors.Is(err, engine.ErrInvalidDataRate),
		errors.Is(err, engine.ErrInvalidBearer),
		errors.Is(err, engine.ErrInvalidApp):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, core.ErrAddressExhausted):
		return status.Error(codes.ResourceExhausted, err.Error())

	case errors.Is(err, engine.ErrNodeExists),
		errors.Is(err, engine.ErrDeviceExists),
		errors.Is(err, engine.ErrAddressConflict),
		errors.Is(err, engine.ErrPortInUse):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, scenario.ErrProvisioning):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, engine.ErrTelemetry):
		return status.Error(codes.Unavailable, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
