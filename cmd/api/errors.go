package main

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/realtime-dm/internal/auth"
	"github.com/PaulBabatuyi/realtime-dm/internal/chat"
	"github.com/PaulBabatuyi/realtime-dm/internal/data"
	"github.com/PaulBabatuyi/realtime-dm/internal/realtime"
)

// classify maps a service error to a gRPC code and a client-safe message.
// Unknown errors become Internal without leaking their text.
func classify(err error) (codes.Code, string) {
	if ve, ok := chat.IsValidation(err); ok {
		return codes.InvalidArgument, ve.Error()
	}
	switch {
	case errors.Is(err, errInvalidCredentials):
		return codes.Unauthenticated, errInvalidCredentials.Error()
	case errors.Is(err, auth.ErrInvalidToken):
		return codes.Unauthenticated, "invalid token"
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, data.ErrNotFound):
		return codes.NotFound, "not found"
	case errors.Is(err, chat.ErrNotParticipant):
		return codes.PermissionDenied, chat.ErrNotParticipant.Error()
	case errors.Is(err, realtime.ErrForbidden):
		return codes.PermissionDenied, realtime.ErrForbidden.Error()
	case errors.Is(err, realtime.ErrUnknownChannel):
		return codes.InvalidArgument, realtime.ErrUnknownChannel.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded, "deadline exceeded"
	case errors.Is(err, context.Canceled):
		return codes.Canceled, "canceled"
	case errors.Is(err, chat.ErrTransaction):
		return codes.Unavailable, "temporarily unavailable, retry"
	}
	return codes.Internal, "internal error"
}

// grpcError converts a service error into a gRPC status error. Status errors
// pass through unchanged.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code, msg := classify(err)
	return status.Error(code, msg)
}

// httpStatus maps a service error onto the gateway's HTTP status codes.
func httpStatus(err error) (int, string) {
	code, msg := classify(err)
	switch code {
	case codes.InvalidArgument:
		return http.StatusUnprocessableEntity, msg
	case codes.Unauthenticated:
		return http.StatusUnauthorized, msg
	case codes.NotFound:
		return http.StatusNotFound, msg
	case codes.PermissionDenied:
		return http.StatusForbidden, msg
	case codes.Unavailable:
		return http.StatusServiceUnavailable, msg
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout, msg
	case codes.Canceled:
		return 499, msg
	}
	return http.StatusInternalServerError, msg
}
