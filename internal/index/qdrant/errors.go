package qdrant

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bull/ragindex/internal/errs"
)

// classify marks gRPC failures that are worth retrying as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return errs.Transient(err)
	}
	return err
}
