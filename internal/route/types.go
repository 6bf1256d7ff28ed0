package route

import (
	"fmt"
	"strings"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/id"
	"github.com/ggonzalez94/crossroute/internal/model"
	"github.com/ggonzalez94/crossroute/internal/providers"
)

// Request is a route-plan request as accepted by the API and the CLI.
type Request struct {
	Amount          string            `json:"amount,omitempty"`
	AmountDecimal   string            `json:"amountDecimal,omitempty"`
	FromToken       string            `json:"fromToken"`
	ToToken         string            `json:"toToken"`
	FromNetwork     string            `json:"fromNetwork"`
	ToNetwork       string            `json:"toNetwork"`
	WalletAddresses map[string]string `json:"walletAddresses"`
}

// Plan is an ordered list of atomic steps moving value from From to To. A plan
// is never modified after ComputeRoutePlan returns it.
type Plan struct {
	ID        string            `json:"requestId"`
	From      model.Leg         `json:"from"`
	To        model.Leg         `json:"to"`
	Steps     []Step            `json:"steps"`
	Requires  Requirements      `json:"requires"`
	Wallets   map[string]string `json:"wallets"`
	CreatedAt string            `json:"createdAt"`
	ExpiresAt string            `json:"expiresAt"`
}

type Requirements struct {
	Wallets   []string   `json:"wallets"`
	Approvals []Approval `json:"approvals"`
}

// Approval is an ERC-20 allowance the client grants before signing StepID.
type Approval struct {
	StepID  string `json:"stepId"`
	ChainID string `json:"chainId"`
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
	Data    string `json:"data"`
}

type Step struct {
	StepID         string          `json:"stepId"`
	Kind           model.StepKind  `json:"kind"`
	Family         string          `json:"family"`
	Provider       string          `json:"provider"`
	From           model.Leg       `json:"from"`
	To             model.Leg       `json:"to"`
	RequiresWallet string          `json:"requiresWallet"`
	Quote          model.StepQuote `json:"quote"`
	Notes          []string        `json:"notes,omitempty"`
}

// QuoteRequest rebuilds the adapter request for a planned step using the
// plan's wallets.
func (s Step) QuoteRequest(wallets map[string]string) (providers.QuoteRequest, error) {
	fromChain, fromAsset, err := resolveLeg(s.From)
	if err != nil {
		return providers.QuoteRequest{}, err
	}
	toChain, toAsset, err := resolveLeg(s.To)
	if err != nil {
		return providers.QuoteRequest{}, err
	}
	return providers.QuoteRequest{
		Kind:            s.Kind,
		FromChain:       fromChain,
		ToChain:         toChain,
		FromAsset:       fromAsset,
		ToAsset:         toAsset,
		AmountBaseUnits: s.From.Amount.AmountBaseUnits,
		Sender:          wallets[string(fromChain.Family())],
		Recipient:       wallets[string(toChain.Family())],
	}, nil
}

// StepByID returns the index of the step with the given id, or -1.
func (p Plan) StepByID(stepID string) int {
	for i, s := range p.Steps {
		if s.StepID == stepID {
			return i
		}
	}
	return -1
}

func resolveLeg(leg model.Leg) (id.Chain, id.Asset, error) {
	chain, err := id.ParseChain(leg.ChainID)
	if err != nil {
		return id.Chain{}, id.Asset{}, err
	}
	asset, err := id.ParseAsset(leg.AssetID, chain)
	if err != nil {
		return id.Chain{}, id.Asset{}, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("plan leg has unparseable asset %s", leg.AssetID), err)
	}
	if strings.TrimSpace(leg.Symbol) != "" && asset.Symbol == "" {
		asset.Symbol = leg.Symbol
		asset.Decimals = leg.Amount.Decimals
	}
	return chain, asset, nil
}

func newLeg(chain id.Chain, asset id.Asset, amountBaseUnits string) model.Leg {
	return model.Leg{
		Network: chain.Slug,
		ChainID: chain.CAIP2,
		Family:  string(chain.Family()),
		AssetID: asset.AssetID,
		Token:   asset.Address,
		Symbol:  asset.Symbol,
		Amount: model.AmountInfo{
			AmountBaseUnits: amountBaseUnits,
			AmountDecimal:   id.FormatDecimalCompat(amountBaseUnits, asset.Decimals),
			Decimals:        asset.Decimals,
		},
	}
}
