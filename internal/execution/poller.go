package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/model"
	"github.com/ggonzalez94/crossroute/internal/providers"
)

const DefaultStatusTimeout = 5 * time.Second

// NormalizedStatus is a provider status mapped onto step states. State is one
// of CONFIRMING, CONFIRMED or FAILED.
type NormalizedStatus struct {
	State             StepState
	ErrorCode         string
	Message           string
	DestinationTxHash string
}

type StatusPoller struct {
	timeout time.Duration
}

func NewStatusPoller(timeout time.Duration) *StatusPoller {
	if timeout <= 0 {
		timeout = DefaultStatusTimeout
	}
	return &StatusPoller{timeout: timeout}
}

// Poll asks the adapter once for the status of a submitted transaction.
// Transport, rate limit and provider-side failures are reported as
// UPSTREAM_UNAVAILABLE and never retried here. Errors the provider will keep
// returning (a malformed hash, a missing API key) keep their own code.
func (p *StatusPoller) Poll(ctx context.Context, adapter providers.Adapter, req providers.StatusRequest) (status NormalizedStatus, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = clierr.New(clierr.CodeInternal, fmt.Sprintf("provider %s panicked while reporting status: %v", adapter.Info().Name, r))
		}
	}()

	raw, err := adapter.GetStatus(ctx, req)
	if err != nil {
		return NormalizedStatus{}, statusError(adapter.Info().Name, err)
	}
	return Normalize(raw), nil
}

func statusError(provider string, err error) error {
	typed, ok := clierr.As(err)
	if !ok {
		return clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("poll %s status", provider), err)
	}
	switch typed.Code {
	case clierr.CodeUnavailable:
		return err
	case clierr.CodeRateLimited, clierr.CodeInternal, clierr.CodeNotFound:
		return clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("poll %s status", provider), err)
	}
	return err
}

var (
	confirmedStatuses = map[string]bool{
		"done": true, "completed": true, "finished": true, "filled": true, "success": true, "confirmed": true,
	}
	failedStatuses = map[string]bool{
		"failed": true, "failure": true, "error": true, "expired": true, "reverted": true, "invalid": true,
	}
	refundedStatuses = map[string]bool{
		"refunded": true, "refund": true,
	}
)

// Normalize maps a raw provider vocabulary onto step states. Unknown values
// are treated as still in flight.
func Normalize(raw model.RawStatus) NormalizedStatus {
	status := strings.ToLower(strings.TrimSpace(raw.Status))
	sub := strings.ToLower(strings.TrimSpace(raw.Substatus))
	out := NormalizedStatus{State: StepConfirming, DestinationTxHash: raw.DestinationTxHash}

	switch {
	case refundedStatuses[status] || (confirmedStatuses[status] && refundedStatuses[sub]):
		out.State = StepFailed
		out.ErrorCode = ErrorRefunded
		out.Message = describe(raw, "funds were refunded")
	case failedStatuses[status]:
		out.State = StepFailed
		out.ErrorCode = ErrorExecutionFailed
		out.Message = describe(raw, "provider reported failure")
	case confirmedStatuses[status]:
		out.State = StepConfirmed
	}
	return out
}

func describe(raw model.RawStatus, fallback string) string {
	msg := strings.TrimSpace(raw.Message)
	if msg == "" {
		msg = fallback
	}
	if raw.Provider != "" {
		return fmt.Sprintf("%s: %s (%s)", raw.Provider, msg, strings.ToLower(raw.Status))
	}
	return msg
}
