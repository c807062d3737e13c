package grounding

import (
	"context"
	"errors"

	"github.com/contestra/ai-ranker-sub001/provider"
	"github.com/contestra/ai-ranker-sub001/verify"
)

// classify maps a transport error to an error code. Deadline and
// cancellation win over everything else since the partial payload is
// meaningless to the caller's budget.
func classify(ctx context.Context, err error) verify.ErrorCode {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return verify.CodeTimeout
	}
	if errors.Is(err, provider.ErrUnsupportedToolPolicy) {
		return verify.CodeForceToolsUnsupported
	}

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) && apiErr.ClientSide() {
		return verify.CodeAPIError4xx
	}
	// 5xx, connection resets, DNS failures and unreadable bodies.
	return verify.CodeAPIError5xx
}
