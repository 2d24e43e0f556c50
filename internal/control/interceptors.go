package control

import (
	"context"
	"strings"

	"github.com/signalsfoundry/handover-simulator/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	requestIDMetadataKey = "x-request-id"

	// PhaseHeader carries the experiment phase on every response.
	PhaseHeader = "x-experiment-phase"
	// OutcomeCodeTrailer and OutcomeMessageTrailer carry the experiment
	// outcome once it has finished.
	OutcomeCodeTrailer    = "x-experiment-code"
	OutcomeMessageTrailer = "x-experiment-message"
)

// RequestIDUnaryServerInterceptor ensures a request_id is present on the
// context, sourcing it from inbound metadata if provided, and attaches a
// per-request logger annotated with request_id, run_id and method.
func RequestIDUnaryServerInterceptor(base logging.Logger, runID string) grpc.UnaryServerInterceptor {
	base = logging.OrNoop(base)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if incoming := firstHeader(md, requestIDMetadataKey); incoming != "" {
				ctx = logging.ContextWithRequestID(ctx, incoming)
			}
		}
		if runID != "" {
			ctx = logging.ContextWithRunID(ctx, runID)
		}

		ctx, reqLog := logging.WithRequestLogger(ctx, base.With(logging.String("method", info.FullMethod)))
		resp, err := handler(ctx, req)
		if err != nil {
			reqLog.Warn(ctx, "control rpc failed", logging.Err(err))
		} else {
			reqLog.Debug(ctx, "control rpc served")
		}
		return resp, err
	}
}

// experimentStatusInterceptor reports the experiment phase in a response
// header and, once finished, the outcome in the trailers.
func (s *Server) experimentStatusInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		_ = grpc.SetHeader(ctx, metadata.Pairs(PhaseHeader, s.Phase().String()))
		if st := s.Outcome(); st != nil {
			_ = grpc.SetTrailer(ctx, metadata.Pairs(
				OutcomeCodeTrailer, st.Code().String(),
				OutcomeMessageTrailer, strings.ReplaceAll(st.Message(), "\n", "; "),
			))
		}
		return handler(ctx, req)
	}
}

func firstHeader(md metadata.MD, key string) string {
	if md == nil {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
