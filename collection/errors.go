package collection

import (
	"context"
	"errors"
	"net"

	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sso"
)

// Describe turns a task failure into the title and detail shown to the user.
func Describe(err error) (title, detail string) {
	var serverErr *services.ServerError
	if errors.As(err, &serverErr) {
		if serverErr.Code == services.CodeMFARequired {
			return "MFA required", serverErr.Message
		}
		return "Server error", serverErr.Message
	}
	if errors.Is(err, services.ErrTemporaryNetworkFailure) {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return "No network", "check the connection and retry"
		}
		return "Network error", err.Error()
	}
	return "Error", err.Error()
}

// a canceled task ends without an error event
func isCancellation(err error) bool {
	return errors.Is(err, ErrStopped) ||
		errors.Is(err, sso.ErrCanceled) ||
		errors.Is(err, context.Canceled)
}
