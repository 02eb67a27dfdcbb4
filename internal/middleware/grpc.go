package middleware

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-workflow-engine/internal/metrics"
)

// UnaryServerInterceptor logs every unary call, counts it by status code and
// converts handler panics into codes.Internal. m may be nil.
func UnaryServerInterceptor(log zerolog.Logger, m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()

		defer func() {
			if p := recover(); p != nil {
				log.Error().
					Interface("panic", p).
					Str("method", info.FullMethod).
					Bytes("stack", debug.Stack()).
					Msg("grpc handler panicked")
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}

			code := status.Code(err)
			if m != nil {
				m.RecordGRPCRequest(info.FullMethod, code.String())
			}

			ev := log.Info()
			if code == codes.Internal || code == codes.Unknown {
				ev = log.Error().Err(err)
			}
			ev.
				Str("method", info.FullMethod).
				Str("code", code.String()).
				Dur("duration", time.Since(start)).
				Msg("grpc request")
		}()

		return handler(ctx, req)
	}
}
