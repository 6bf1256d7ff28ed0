package providers

import (
	"context"

	"github.com/ggonzalez94/crossroute/internal/id"
	"github.com/ggonzalez94/crossroute/internal/model"
)

type Provider interface {
	Info() model.ProviderInfo
}

// Adapter is the capability set every liquidity or bridge provider exposes to
// the planner and the orchestrator.
type Adapter interface {
	Provider
	GetQuote(ctx context.Context, req QuoteRequest) (model.StepQuote, error)
	BuildTransaction(ctx context.Context, req BuildRequest) (model.UnsignedTx, error)
	GetStatus(ctx context.Context, req StatusRequest) (model.RawStatus, error)
	Submit(ctx context.Context, req SubmitRequest) error
}

type QuoteRequest struct {
	Kind            model.StepKind
	FromChain       id.Chain
	ToChain         id.Chain
	FromAsset       id.Asset
	ToAsset         id.Asset
	AmountBaseUnits string
	Sender          string
	Recipient       string
}

// BuildRequest asks an adapter for the unsigned transaction of a quoted step.
// The quote is the one stored on the plan; adapters may requote.
type BuildRequest struct {
	QuoteRequest
	Quote model.StepQuote
}

type StatusRequest struct {
	FromChain   id.Chain
	ToChain     id.Chain
	TxHash      string
	ProviderRef string
	Quote       model.StepQuote
}

type SubmitRequest struct {
	Chain       id.Chain
	TxHash      string
	ProviderRef string
}

const (
	CapabilityQuote  = "quote"
	CapabilityBuild  = "build"
	CapabilityStatus = "status"
	CapabilitySubmit = "submit"
)

// Supports reports whether the adapter declares the wallet family.
func Supports(a Provider, family id.Family) bool {
	for _, f := range a.Info().Families {
		if f == string(family) {
			return true
		}
	}
	return false
}

// Declares reports whether the adapter lists the capability.
func Declares(a Provider, capability string) bool {
	for _, c := range a.Info().Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
