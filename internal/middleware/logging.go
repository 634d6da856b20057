package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingUnaryInterceptor logs every unary call with its status code and
// duration. Server-side failures log at error level.
func LoggingUnaryInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(log, info.FullMethod, start, err)
		return resp, err
	}
}

// LoggingStreamInterceptor is the stream counterpart of
// LoggingUnaryInterceptor. Streams are logged when they end.
func LoggingStreamInterceptor(log zerolog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logCall(log, info.FullMethod, start, err)
		return err
	}
}

func logCall(log zerolog.Logger, method string, start time.Time, err error) {
	code := status.Code(err)
	ev := log.Info()
	switch code {
	case codes.OK:
	case codes.Internal, codes.Unknown, codes.Unavailable, codes.DataLoss:
		ev = log.Error().Err(err)
	default:
		ev = log.Warn().Err(err)
	}
	ev.Str("method", method).
		Str("code", code.String()).
		Dur("duration", time.Since(start)).
		Msg("grpc call")
}

// GinLogger logs each HTTP request once it has been handled.
func GinLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Str("client_ip", c.ClientIP()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	}
}
