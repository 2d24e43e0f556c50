package control

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/signalsfoundry/handover-simulator/core"
	"github.com/signalsfoundry/handover-simulator/internal/engine"
	"github.com/signalsfoundry/handover-simulator/internal/scenario"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    codes.Code
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "denied"), code: codes.PermissionDenied},
		{name: "configuration", err: &scenario.ConfigurationError{Err: errors.New("no enbs")}, code: codes.InvalidArgument},
		{name: "unknown algorithm", err: &scenario.ProvisioningError{Step: "handover algorithm", Err: engine.ErrUnknownAlgorithm}, code: codes.InvalidArgument},
		{name: "address exhaustion", err: &scenario.ProvisioningError{Step: "address", Err: fmt.Errorf("node 5: %w", core.ErrAddressExhausted)}, code: codes.ResourceExhausted},
		{name: "port conflict", err: engine.ErrPortInUse, code: codes.AlreadyExists},
		{name: "missing x2", err: &scenario.ProvisioningError{Step: "x2", Err: engine.ErrNoX2}, code: codes.FailedPrecondition},
		{name: "cancelled run", err: &scenario.EngineRuntimeError{Err: context.Canceled}, code: codes.Canceled},
		{name: "telemetry", err: &scenario.EngineRuntimeError{Err: engine.ErrTelemetry}, code: codes.Unavailable},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				return
			}

			if got == nil {
				t.Fatalf("ToStatusError(%v) = nil, want error", tc.err)
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
		})
	}
}
