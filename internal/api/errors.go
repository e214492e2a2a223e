package api

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/wpphub/internal/apperr"
)

const errorDomain = "wpphub"

var grpcCodes = map[apperr.Code]codes.Code{
	apperr.CodePairingTimeout:        codes.DeadlineExceeded,
	apperr.CodeSessionUnavailable:    codes.Unavailable,
	apperr.CodeSessionNotReady:       codes.FailedPrecondition,
	apperr.CodeSessionNotFound:       codes.NotFound,
	apperr.CodeInvalidRequest:        codes.InvalidArgument,
	apperr.CodeUnsupportedAttachment: codes.InvalidArgument,
	apperr.CodeInternal:              codes.Internal,
}

// toStatus converts a hub error into a gRPC status error. The hub code,
// observed state and retry hint travel as an ErrorInfo detail.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	}

	code := apperr.CodeOf(err)
	st := grpcstatus.New(grpcCodes[code], err.Error())
	info := &errdetails.ErrorInfo{
		Reason: string(code),
		Domain: errorDomain,
		Metadata: map[string]string{
			"retryable": boolString(apperr.IsRetryable(err)),
		},
	}
	var herr *apperr.Error
	if errors.As(err, &herr) {
		info.Metadata["message"] = herr.Message
		if herr.State != "" {
			info.Metadata["state"] = herr.State
		}
	} else {
		info.Metadata["message"] = err.Error()
	}
	if detailed, derr := st.WithDetails(info); derr == nil {
		st = detailed
	}
	return st.Err()
}

// FromError rebuilds a hub error from a gRPC status returned by the daemon.
// Errors without hub details are returned unchanged.
func FromError(err error) error {
	st, ok := grpcstatus.FromError(err)
	if !ok {
		return err
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != errorDomain {
			continue
		}
		return &apperr.Error{
			Code:      apperr.Code(info.GetReason()),
			Message:   info.GetMetadata()["message"],
			State:     info.GetMetadata()["state"],
			Retryable: info.GetMetadata()["retryable"] == "true",
		}
	}
	return err
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
