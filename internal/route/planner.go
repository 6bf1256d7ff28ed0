package route

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/crossroute/internal/calldata"
	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/id"
	"github.com/ggonzalez94/crossroute/internal/logging"
	"github.com/ggonzalez94/crossroute/internal/metrics"
	"github.com/ggonzalez94/crossroute/internal/model"
	"github.com/ggonzalez94/crossroute/internal/providers"
	"github.com/ggonzalez94/crossroute/internal/providers/changenow"
	"github.com/ggonzalez94/crossroute/internal/registry"
)

const (
	DefaultQuoteTimeout = 15 * time.Second

	ReasonProviderUnavailable = "PROVIDER_UNAVAILABLE"
)

// Planner decomposes a transfer into provider steps and quotes each of them.
type Planner struct {
	providers    *providers.Registry
	log          logrus.FieldLogger
	quoteTimeout time.Duration
	now          func() time.Time
	newID        func() string
}

func NewPlanner(reg *providers.Registry, log logrus.FieldLogger) *Planner {
	if log == nil {
		log = logging.Discard()
	}
	return &Planner{
		providers:    reg,
		log:          log,
		quoteTimeout: DefaultQuoteTimeout,
		now:          time.Now,
		newID:        func() string { return uuid.NewString() },
	}
}

// WithQuoteTimeout bounds each provider quote call.
func (p *Planner) WithQuoteTimeout(d time.Duration) *Planner {
	if d > 0 {
		p.quoteTimeout = d
	}
	return p
}

// hop is one planned step before it has been quoted.
type hop struct {
	kind       model.StepKind
	fromChain  id.Chain
	toChain    id.Chain
	fromAsset  id.Asset
	toAsset    id.Asset
	candidates []string
}

func (p *Planner) ComputeRoutePlan(ctx context.Context, req Request) (Plan, error) {
	plan, err := p.compute(ctx, req)
	if err != nil {
		metrics.RecordRoutePlan(errorCode(err))
		return Plan{}, err
	}
	metrics.RecordRoutePlan("ok")
	return plan, nil
}

func (p *Planner) compute(ctx context.Context, req Request) (Plan, error) {
	fromChain, fromAsset, err := parseEndpoint("source", req.FromNetwork, req.FromToken)
	if err != nil {
		return Plan{}, err
	}
	toChain, toAsset, err := parseEndpoint("destination", req.ToNetwork, req.ToToken)
	if err != nil {
		return Plan{}, err
	}
	amount, _, err := id.NormalizeAmount(strings.TrimSpace(req.Amount), strings.TrimSpace(req.AmountDecimal), fromAsset.Decimals)
	if err != nil {
		return Plan{}, err
	}
	if !id.IsPositiveBaseUnits(amount) {
		return Plan{}, clierr.New(clierr.CodeUsage, "amount must be greater than zero")
	}
	wallets, err := parseWallets(req.WalletAddresses)
	if err != nil {
		return Plan{}, err
	}

	hops, err := shape(fromChain, fromAsset, toChain, toAsset)
	if err != nil {
		return Plan{}, err
	}

	signing := map[string]bool{}
	needed := map[string]bool{string(toChain.Family()): true}
	for _, h := range hops {
		signing[string(h.fromChain.Family())] = true
		needed[string(h.fromChain.Family())] = true
	}
	planWallets := make(map[string]string, len(needed))
	for family := range needed {
		addr := wallets[family]
		if addr == "" {
			return Plan{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("route requires a %s wallet address", family))
		}
		if !id.ValidAddress(id.Family(family), addr) {
			return Plan{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid %s wallet address: %s", family, addr))
		}
		planWallets[family] = addr
	}

	planID := p.newID()
	log := p.log.WithField(logging.FieldPlanID, planID)
	now := p.now().UTC()

	plan := Plan{
		ID:        planID,
		From:      newLeg(fromChain, fromAsset, amount),
		Steps:     make([]Step, 0, len(hops)),
		Wallets:   planWallets,
		CreatedAt: now.Format(time.RFC3339),
		Requires: Requirements{
			Wallets:   sortedKeys(signing),
			Approvals: []Approval{},
		},
	}

	var expiresAt time.Time
	in := amount
	for i, h := range hops {
		qreq := providers.QuoteRequest{
			Kind:            h.kind,
			FromChain:       h.fromChain,
			ToChain:         h.toChain,
			FromAsset:       h.fromAsset,
			ToAsset:         h.toAsset,
			AmountBaseUnits: in,
			Sender:          planWallets[string(h.fromChain.Family())],
			Recipient:       planWallets[string(h.toChain.Family())],
		}
		provider, quote, err := p.quoteHop(ctx, log, h, qreq)
		if err != nil {
			return Plan{}, err
		}
		if !id.IsPositiveBaseUnits(quote.ToAmount) {
			return Plan{}, clierr.New(clierr.CodeAmountOutOfBounds, fmt.Sprintf("%s quote for step %d returns no output", provider, i+1))
		}

		step := Step{
			StepID:         fmt.Sprintf("step-%d", i+1),
			Kind:           h.kind,
			Family:         string(h.fromChain.Family()),
			Provider:       provider,
			From:           newLeg(h.fromChain, h.fromAsset, in),
			To:             newLeg(h.toChain, h.toAsset, quote.ToAmount),
			RequiresWallet: string(h.fromChain.Family()),
			Quote:          quote,
		}
		if h.fromChain.Family() != h.toChain.Family() {
			step.Notes = append(step.Notes, fmt.Sprintf("funds arrive on %s at the %s wallet", h.toChain.Name, h.toChain.Family()))
		}
		if approval, ok, err := approvalFor(step, h); err != nil {
			return Plan{}, err
		} else if ok {
			plan.Requires.Approvals = append(plan.Requires.Approvals, approval)
			step.Notes = append(step.Notes, "requires token approval before signing")
		}
		if exp, err := time.Parse(time.RFC3339, quote.ExpiresAt); err == nil {
			if expiresAt.IsZero() || exp.Before(expiresAt) {
				expiresAt = exp
			}
		}
		plan.Steps = append(plan.Steps, step)
		in = quote.ToAmount
	}

	plan.To = newLeg(toChain, toAsset, in)
	if expiresAt.IsZero() {
		expiresAt = now.Add(DefaultQuoteTimeout)
	}
	plan.ExpiresAt = expiresAt.UTC().Format(time.RFC3339)

	log.WithFields(logrus.Fields{"steps": len(plan.Steps), "from": plan.From.AssetID, "to": plan.To.AssetID}).Info("route plan computed")
	return plan, nil
}

// quoteHop tries the candidates in order. When all fail the most actionable
// error wins: out-of-bounds, then unavailable, then no route.
func (p *Planner) quoteHop(ctx context.Context, log logrus.FieldLogger, h hop, req providers.QuoteRequest) (string, model.StepQuote, error) {
	var outOfBounds, unavailable error
	for _, name := range h.candidates {
		adapter, err := p.providers.Get(name)
		if err != nil {
			continue
		}
		if !providers.Supports(adapter, h.fromChain.Family()) || !providers.Supports(adapter, h.toChain.Family()) {
			log.WithField(logging.FieldProvider, name).Debug("candidate does not serve this wallet family")
			continue
		}
		quote, err := p.quote(ctx, adapter, req)
		if err == nil {
			if quote.Provider == "" {
				quote.Provider = name
			}
			return name, quote, nil
		}
		log.WithFields(logrus.Fields{logging.FieldProvider: name, "kind": h.kind}).WithError(err).Debug("quote candidate rejected")
		switch clierr.CodeOf(err) {
		case clierr.CodeAmountOutOfBounds:
			if outOfBounds == nil {
				outOfBounds = err
			}
		case clierr.CodeUnsupported, clierr.CodeUsage, clierr.CodeNotFound, clierr.CodeNoRoute:
		default:
			if unavailable == nil {
				unavailable = err
			}
		}
	}
	switch {
	case outOfBounds != nil:
		return "", model.StepQuote{}, outOfBounds
	case unavailable != nil:
		return "", model.StepQuote{}, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("no provider could quote %s from %s to %s", h.kind, h.fromChain.Slug, h.toChain.Slug), unavailable).WithReason(ReasonProviderUnavailable)
	default:
		return "", model.StepQuote{}, clierr.New(clierr.CodeNoRoute, fmt.Sprintf("no route for %s %s on %s to %s on %s", h.kind, h.fromAsset.Symbol, h.fromChain.Slug, h.toAsset.Symbol, h.toChain.Slug))
	}
}

func (p *Planner) quote(ctx context.Context, adapter providers.Adapter, req providers.QuoteRequest) (quote model.StepQuote, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.quoteTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = clierr.New(clierr.CodeInternal, fmt.Sprintf("provider %s panicked while quoting: %v", adapter.Info().Name, r))
		}
	}()
	return adapter.GetQuote(ctx, req)
}

// shape picks the step sequence for a source and destination. It decides
// structure only; quoting happens afterwards.
func shape(fromChain id.Chain, fromAsset id.Asset, toChain id.Chain, toAsset id.Asset) ([]hop, error) {
	if fromChain.CAIP2 == toChain.CAIP2 {
		h, err := sameChainHop(fromChain, fromAsset, toAsset)
		if err != nil {
			return nil, err
		}
		return []hop{h}, nil
	}

	if fromChain.IsEVM() && toChain.IsEVM() {
		candidates := []string{"lifi"}
		if strings.EqualFold(fromAsset.Symbol, toAsset.Symbol) {
			candidates = []string{"across", "lifi"}
		}
		return []hop{{
			kind:       model.StepKindBridge,
			fromChain:  fromChain,
			toChain:    toChain,
			fromAsset:  fromAsset,
			toAsset:    toAsset,
			candidates: candidates,
		}}, nil
	}

	hops := []hop{}
	bridgeIn := fromAsset
	if !changenow.Listed(fromChain.CAIP2, fromAsset.Symbol) {
		hub, ok := hubAsset(fromChain)
		if !ok {
			return nil, clierr.New(clierr.CodeNoRoute, fmt.Sprintf("no bridgeable asset on %s", fromChain.Slug))
		}
		h, err := sameChainHop(fromChain, fromAsset, hub)
		if err != nil {
			return nil, err
		}
		hops = append(hops, h)
		bridgeIn = hub
	}
	bridgeOut := toAsset
	var tail []hop
	if !changenow.Listed(toChain.CAIP2, toAsset.Symbol) {
		hub, ok := hubAsset(toChain)
		if !ok {
			return nil, clierr.New(clierr.CodeNoRoute, fmt.Sprintf("no bridgeable asset on %s", toChain.Slug))
		}
		h, err := sameChainHop(toChain, hub, toAsset)
		if err != nil {
			return nil, err
		}
		tail = append(tail, h)
		bridgeOut = hub
	}
	hops = append(hops, hop{
		kind:       model.StepKindBridge,
		fromChain:  fromChain,
		toChain:    toChain,
		fromAsset:  bridgeIn,
		toAsset:    bridgeOut,
		candidates: []string{"changenow"},
	})
	return append(hops, tail...), nil
}

func sameChainHop(chain id.Chain, from, to id.Asset) (hop, error) {
	h := hop{fromChain: chain, toChain: chain, fromAsset: from, toAsset: to}
	if strings.EqualFold(from.AssetID, to.AssetID) {
		if !chain.IsEVM() {
			return hop{}, clierr.New(clierr.CodeNoRoute, fmt.Sprintf("same-asset transfers are not supported on %s", chain.Slug))
		}
		h.kind = model.StepKindTransfer
		h.candidates = []string{"native"}
		return h, nil
	}
	if chain.IsEVM() {
		if wrapped, ok := id.WrappedNative(chain); ok {
			switch {
			case from.Native && strings.EqualFold(to.AssetID, wrapped.AssetID):
				h.kind = model.StepKindWrap
				h.candidates = []string{"native"}
				return h, nil
			case to.Native && strings.EqualFold(from.AssetID, wrapped.AssetID):
				h.kind = model.StepKindUnwrap
				h.candidates = []string{"native"}
				return h, nil
			}
		}
	}
	h.kind = model.StepKindSwap
	switch chain.Family() {
	case id.FamilyEVM:
		h.candidates = []string{"lifi"}
		if _, _, ok := registry.TaikoSwapContracts(chain.EVMChainID); ok {
			h.candidates = []string{"taikoswap", "lifi"}
		}
	case id.FamilySolana:
		h.candidates = []string{"jupiter"}
	case id.FamilyTON, id.FamilyTRON:
		h.candidates = []string{"changenow"}
	default:
		return hop{}, clierr.New(clierr.CodeNoRoute, fmt.Sprintf("no swap provider for %s", chain.Slug))
	}
	return h, nil
}

// hubAsset is the asset a family bridges through when the user's token is
// not directly exchangeable.
func hubAsset(chain id.Chain) (id.Asset, bool) {
	switch chain.Family() {
	case id.FamilySolana:
		return id.KnownAsset(chain, "USDC")
	case id.FamilyEVM:
		if a, ok := id.KnownAsset(chain, "USDT"); ok && changenow.Listed(chain.CAIP2, "USDT") {
			return a, true
		}
		if a, ok := id.KnownAsset(chain, "USDC"); ok && changenow.Listed(chain.CAIP2, "USDC") {
			return a, true
		}
		return id.Asset{}, false
	case id.FamilyTON, id.FamilyTRON:
		return id.KnownAsset(chain, "USDT")
	}
	return id.Asset{}, false
}

func approvalFor(step Step, h hop) (Approval, bool, error) {
	spender := strings.TrimSpace(step.Quote.ApprovalSpender)
	if spender == "" || !h.fromChain.IsEVM() || h.fromAsset.Native {
		return Approval{}, false, nil
	}
	data, err := calldata.ERC20Approve(spender, step.From.Amount.AmountBaseUnits)
	if err != nil {
		return Approval{}, false, err
	}
	return Approval{
		StepID:  step.StepID,
		ChainID: h.fromChain.CAIP2,
		Token:   h.fromAsset.Address,
		Spender: spender,
		Amount:  step.From.Amount.AmountBaseUnits,
		Data:    data,
	}, true, nil
}

func parseEndpoint(side, network, token string) (id.Chain, id.Asset, error) {
	chain, err := id.ParseChain(network)
	if err != nil {
		return id.Chain{}, id.Asset{}, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("invalid %s network", side), err)
	}
	if chain.Family() == id.FamilyNone {
		return id.Chain{}, id.Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported %s network: %s", side, network))
	}
	asset, err := id.ParseAsset(token, chain)
	if err != nil {
		return id.Chain{}, id.Asset{}, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("invalid %s token", side), err)
	}
	if asset.Symbol == "" {
		return id.Chain{}, id.Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s token %s is not in the token registry for %s", side, token, chain.Slug))
	}
	return chain, asset, nil
}

func parseWallets(raw map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for key, addr := range raw {
		family, err := id.ParseFamily(key)
		if err != nil {
			return nil, err
		}
		if addr = strings.TrimSpace(addr); addr != "" {
			out[string(family)] = addr
		}
	}
	return out, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func errorCode(err error) string {
	if typed, ok := clierr.As(err); ok {
		return typed.ErrorCode()
	}
	return clierr.CodeInternal.Type()
}
