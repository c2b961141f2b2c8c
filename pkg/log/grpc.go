package log

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const metadataKeyRequestID = "x-request-id"

// UnaryServerInterceptor injects a request-scoped logger and logs each call.
func UnaryServerInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		child := grpcChild(ctx, logger, info.FullMethod)

		resp, err := handler(WithLogger(ctx, child), req)

		child.Debug().
			Str(FieldGRPCCode, status.Code(err).String()).
			Float64(FieldLatency, float64(time.Since(start).Milliseconds())).
			Err(err).
			Msg("unary call completed")
		return resp, err
	}
}

// StreamServerInterceptor is the streaming counterpart (used by health Watch).
func StreamServerInterceptor(logger zerolog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		child := grpcChild(ss.Context(), logger, info.FullMethod)

		err := handler(srv, &loggedStream{ServerStream: ss, ctx: WithLogger(ss.Context(), child)})

		child.Debug().
			Str(FieldGRPCCode, status.Code(err).String()).
			Float64(FieldLatency, float64(time.Since(start).Milliseconds())).
			Err(err).
			Msg("stream call completed")
		return err
	}
}

type loggedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *loggedStream) Context() context.Context {
	return s.ctx
}

func grpcChild(ctx context.Context, logger zerolog.Logger, method string) zerolog.Logger {
	var incoming string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(metadataKeyRequestID); len(vals) > 0 {
			incoming = vals[0]
		}
	}
	return logger.With().
		Str(FieldRequestID, requestID(incoming)).
		Str(FieldGRPCMethod, method).
		Logger()
}
