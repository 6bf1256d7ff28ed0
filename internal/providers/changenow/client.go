package changenow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/crossroute/internal/calldata"
	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/httpx"
	"github.com/ggonzalez94/crossroute/internal/id"
	"github.com/ggonzalez94/crossroute/internal/model"
	"github.com/ggonzalez94/crossroute/internal/providers"
	"github.com/ggonzalez94/crossroute/internal/registry"
)

const (
	apiKeyHeader   = "x-changenow-api-key"
	flowStandard   = "standard"
	quoteValidity  = 10 * time.Minute
	defaultSpeedS  = 900
	keyEnvVar      = "CROSSROUTE_CHANGENOW_API_KEY"
	nativeAddrWord = "native"
)

// listing is how ChangeNOW names an asset: a ticker plus a network.
type listing struct {
	Ticker  string
	Network string
}

var listings = map[string]map[string]listing{
	"eip155:1": {
		"ETH":  {"eth", "eth"},
		"USDT": {"usdt", "eth"},
		"USDC": {"usdc", "eth"},
	},
	"eip155:8453": {
		"ETH":  {"eth", "base"},
		"USDC": {"usdc", "base"},
	},
	"eip155:42161": {
		"ETH":  {"eth", "arbitrum"},
		"USDT": {"usdt", "arbitrum"},
		"USDC": {"usdc", "arbitrum"},
	},
	"eip155:10": {
		"ETH":  {"eth", "op"},
		"USDT": {"usdt", "op"},
		"USDC": {"usdc", "op"},
	},
	"eip155:137": {
		"POL":  {"pol", "matic"},
		"USDT": {"usdt", "matic"},
		"USDC": {"usdc", "matic"},
	},
	"eip155:56": {
		"BNB":  {"bnb", "bsc"},
		"USDT": {"usdt", "bsc"},
		"USDC": {"usdc", "bsc"},
	},
	"eip155:43114": {
		"AVAX": {"avax", "avaxc"},
		"USDT": {"usdt", "avaxc"},
		"USDC": {"usdc", "avaxc"},
	},
	"solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp": {
		"SOL":  {"sol", "sol"},
		"USDT": {"usdt", "sol"},
		"USDC": {"usdc", "sol"},
	},
	"ton:mainnet": {
		"TON":  {"ton", "ton"},
		"USDT": {"usdt", "ton"},
	},
	"tron:mainnet": {
		"TRX":  {"trx", "trx"},
		"USDT": {"usdt", "trx"},
	},
}

// Listed reports whether ChangeNOW trades the asset on the given chain.
func Listed(chainID, symbol string) bool {
	_, ok := lookup(chainID, symbol)
	return ok
}

func lookup(chainID, symbol string) (listing, bool) {
	byChain, ok := listings[chainID]
	if !ok {
		return listing{}, false
	}
	l, ok := byChain[strings.ToUpper(strings.TrimSpace(symbol))]
	return l, ok
}

type Client struct {
	http       *httpx.Client
	statusHTTP *httpx.Client
	baseURL    string
	apiKey     string
	now        func() time.Time
}

func New(httpClient *httpx.Client, apiKey string) *Client {
	return &Client{
		http:       httpClient,
		statusHTTP: httpClient.WithoutRetries(),
		baseURL:    registry.ChangeNowBaseURL,
		apiKey:     strings.TrimSpace(apiKey),
		now:        time.Now,
	}
}

// WithBaseURL points the client at an alternative API root.
func (c *Client) WithBaseURL(base string) *Client {
	if strings.TrimSpace(base) != "" {
		c.baseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	}
	return c
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name: "changenow",
		Type: "exchange",
		Families: []string{
			string(id.FamilyEVM),
			string(id.FamilyTON),
			string(id.FamilyTRON),
			string(id.FamilySolana),
		},
		RequiresKey:   true,
		KeyEnvVarName: keyEnvVar,
		Capabilities: []string{
			providers.CapabilityQuote,
			providers.CapabilityBuild,
			providers.CapabilityStatus,
		},
		CapabilityAuth: []model.ProviderCapabilityAuth{
			{Capability: providers.CapabilityQuote, KeyEnvVar: keyEnvVar},
			{Capability: providers.CapabilityBuild, KeyEnvVar: keyEnvVar},
			{Capability: providers.CapabilityStatus, KeyEnvVar: keyEnvVar},
		},
	}
}

type rangeResponse struct {
	MinAmount json.Number `json:"minAmount"`
	MaxAmount json.Number `json:"maxAmount"`
}

type estimateResponse struct {
	ToAmount                 json.Number `json:"toAmount"`
	ValidUntil               string      `json:"validUntil"`
	TransactionSpeedForecast string      `json:"transactionSpeedForecast"`
	RateID                   string      `json:"rateId"`
}

func (c *Client) GetQuote(ctx context.Context, req providers.QuoteRequest) (model.StepQuote, error) {
	if err := c.requireKey(); err != nil {
		return model.StepQuote{}, err
	}
	from, to, err := pair(req)
	if err != nil {
		return model.StepQuote{}, err
	}
	fromAmount := id.FormatDecimalCompat(req.AmountBaseUnits, req.FromAsset.Decimals)

	vals := pairValues(from, to)
	var bounds rangeResponse
	if _, err := httpx.GetJSON(ctx, c.http, c.baseURL+"/exchange/range?"+vals.Encode(), c.headers(), &bounds); err != nil {
		return model.StepQuote{}, err
	}
	if err := checkRange(req.AmountBaseUnits, req.FromAsset.Decimals, bounds); err != nil {
		return model.StepQuote{}, err
	}

	vals.Set("fromAmount", fromAmount)
	var est estimateResponse
	if _, err := httpx.GetJSON(ctx, c.http, c.baseURL+"/exchange/estimated-amount?"+vals.Encode(), c.headers(), &est); err != nil {
		return model.StepQuote{}, err
	}
	if strings.TrimSpace(est.ToAmount.String()) == "" {
		return model.StepQuote{}, clierr.New(clierr.CodeUnavailable, "changenow estimate missing output amount")
	}
	toAmount, err := id.DecimalToBaseUnitsFloor(est.ToAmount.String(), req.ToAsset.Decimals)
	if err != nil {
		return model.StepQuote{}, clierr.Wrap(clierr.CodeUnavailable, "parse changenow output amount", err)
	}

	now := c.now().UTC()
	expires := now.Add(quoteValidity)
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(est.ValidUntil)); err == nil && t.Before(expires) {
		expires = t.UTC()
	}
	return model.StepQuote{
		Provider:       "changenow",
		QuoteID:        est.RateID,
		ToAmount:       toAmount,
		ToAmountMin:    toAmount,
		EstimatedTimeS: speedSeconds(est.TransactionSpeedForecast),
		Route:          fmt.Sprintf("%s(%s)->%s(%s)", from.Ticker, from.Network, to.Ticker, to.Network),
		FetchedAt:      now.Format(time.RFC3339),
		ExpiresAt:      expires.Format(time.RFC3339),
		Data: map[string]string{
			"fromCurrency": from.Ticker,
			"fromNetwork":  from.Network,
			"toCurrency":   to.Ticker,
			"toNetwork":    to.Network,
		},
	}, nil
}

type exchangeRequest struct {
	FromCurrency  string `json:"fromCurrency"`
	FromNetwork   string `json:"fromNetwork"`
	ToCurrency    string `json:"toCurrency"`
	ToNetwork     string `json:"toNetwork"`
	FromAmount    string `json:"fromAmount"`
	Address       string `json:"address"`
	RefundAddress string `json:"refundAddress,omitempty"`
	Flow          string `json:"flow"`
}

type exchangeResponse struct {
	ID           string `json:"id"`
	PayinAddress string `json:"payinAddress"`
	PayinExtraID string `json:"payinExtraId"`
}

// BuildTransaction opens an exchange and returns the deposit the sender has
// to make into it. EVM token deposits are expressed as an ERC-20 transfer call.
func (c *Client) BuildTransaction(ctx context.Context, req providers.BuildRequest) (model.UnsignedTx, error) {
	if err := c.requireKey(); err != nil {
		return model.UnsignedTx{}, err
	}
	from, to, err := pair(req.QuoteRequest)
	if err != nil {
		return model.UnsignedTx{}, err
	}
	fromFamily := req.FromChain.Family()
	if !id.ValidAddress(fromFamily, req.Sender) {
		return model.UnsignedTx{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("changenow deposit requires a valid %s sender address", fromFamily))
	}
	if !id.ValidAddress(req.ToChain.Family(), req.Recipient) {
		return model.UnsignedTx{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("changenow payout requires a valid %s recipient address", req.ToChain.Family()))
	}

	body, err := json.Marshal(exchangeRequest{
		FromCurrency:  from.Ticker,
		FromNetwork:   from.Network,
		ToCurrency:    to.Ticker,
		ToNetwork:     to.Network,
		FromAmount:    id.FormatDecimalCompat(req.AmountBaseUnits, req.FromAsset.Decimals),
		Address:       strings.TrimSpace(req.Recipient),
		RefundAddress: strings.TrimSpace(req.Sender),
		Flow:          flowStandard,
	})
	if err != nil {
		return model.UnsignedTx{}, clierr.Wrap(clierr.CodeInternal, "encode changenow exchange request", err)
	}
	var resp exchangeResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/exchange", body, c.headers(), &resp); err != nil {
		return model.UnsignedTx{}, err
	}
	if strings.TrimSpace(resp.ID) == "" || strings.TrimSpace(resp.PayinAddress) == "" {
		return model.UnsignedTx{}, clierr.New(clierr.CodeUnavailable, "changenow exchange missing deposit address")
	}

	tx := model.UnsignedTx{
		Family:         string(fromFamily),
		ChainID:        req.FromChain.CAIP2,
		Format:         model.TxFormatDeposit,
		From:           strings.TrimSpace(req.Sender),
		To:             req.FromAsset.Address,
		Value:          req.AmountBaseUnits,
		Memo:           resp.PayinExtraID,
		DepositAddress: resp.PayinAddress,
		ProviderRef:    resp.ID,
	}
	if fromFamily == id.FamilyEVM {
		if !common.IsHexAddress(resp.PayinAddress) {
			return model.UnsignedTx{}, clierr.New(clierr.CodeUnavailable, "changenow returned an invalid EVM deposit address")
		}
		tx.Format = model.TxFormatEVMCall
		tx.From = common.HexToAddress(req.Sender).Hex()
		if req.FromAsset.Native {
			tx.To = common.HexToAddress(resp.PayinAddress).Hex()
		} else {
			data, err := calldata.ERC20Transfer(resp.PayinAddress, req.AmountBaseUnits)
			if err != nil {
				return model.UnsignedTx{}, err
			}
			tx.To = common.HexToAddress(req.FromAsset.Address).Hex()
			tx.Data = data
			tx.Value = "0"
		}
	} else if req.FromAsset.Native {
		tx.To = nativeAddrWord
	}
	return tx, nil
}

type exchangeStatusResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	PayoutHash string `json:"payoutHash"`
}

func (c *Client) GetStatus(ctx context.Context, req providers.StatusRequest) (model.RawStatus, error) {
	if err := c.requireKey(); err != nil {
		return model.RawStatus{}, err
	}
	ref := strings.TrimSpace(req.ProviderRef)
	if ref == "" {
		return model.RawStatus{}, clierr.New(clierr.CodeUsage, "changenow status requires an exchange id")
	}
	vals := url.Values{}
	vals.Set("id", ref)
	var resp exchangeStatusResponse
	if _, err := httpx.GetJSON(ctx, c.statusHTTP, c.baseURL+"/exchange/by-id?"+vals.Encode(), c.headers(), &resp); err != nil {
		return model.RawStatus{}, err
	}
	return model.RawStatus{
		Provider:          "changenow",
		Status:            resp.Status,
		DestinationTxHash: resp.PayoutHash,
	}, nil
}

// Submit is a no-op: ChangeNOW watches the deposit address on chain.
func (c *Client) Submit(context.Context, providers.SubmitRequest) error {
	return nil
}

func (c *Client) requireKey() error {
	if c.apiKey == "" {
		return clierr.New(clierr.CodeAuth, "missing required API key for changenow ("+keyEnvVar+")")
	}
	return nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{apiKeyHeader: c.apiKey}
}

func pair(req providers.QuoteRequest) (listing, listing, error) {
	from, ok := lookup(req.FromChain.CAIP2, req.FromAsset.Symbol)
	if !ok {
		return listing{}, listing{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("changenow does not list %s on %s", req.FromAsset.Symbol, req.FromChain.Slug))
	}
	to, ok := lookup(req.ToChain.CAIP2, req.ToAsset.Symbol)
	if !ok {
		return listing{}, listing{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("changenow does not list %s on %s", req.ToAsset.Symbol, req.ToChain.Slug))
	}
	if from == to {
		return listing{}, listing{}, clierr.New(clierr.CodeUnsupported, "changenow cannot exchange an asset into itself")
	}
	return from, to, nil
}

func pairValues(from, to listing) url.Values {
	vals := url.Values{}
	vals.Set("fromCurrency", from.Ticker)
	vals.Set("fromNetwork", from.Network)
	vals.Set("toCurrency", to.Ticker)
	vals.Set("toNetwork", to.Network)
	vals.Set("flow", flowStandard)
	return vals
}

func checkRange(amountBaseUnits string, decimals int, bounds rangeResponse) error {
	if min := strings.TrimSpace(bounds.MinAmount.String()); min != "" {
		minBase, err := id.DecimalToBaseUnitsFloor(min, decimals)
		if err == nil && id.CompareBaseUnits(amountBaseUnits, minBase) < 0 {
			return clierr.New(clierr.CodeAmountOutOfBounds, fmt.Sprintf("amount is below changenow minimum of %s", min))
		}
	}
	if max := strings.TrimSpace(bounds.MaxAmount.String()); max != "" {
		maxBase, err := id.DecimalToBaseUnitsFloor(max, decimals)
		if err == nil && id.CompareBaseUnits(amountBaseUnits, maxBase) > 0 {
			return clierr.New(clierr.CodeAmountOutOfBounds, fmt.Sprintf("amount is above changenow maximum of %s", max))
		}
	}
	return nil
}

// speedSeconds reads forecasts like "10-60" (minutes) and returns the upper
// bound in seconds.
func speedSeconds(forecast string) int64 {
	parts := strings.Split(strings.TrimSpace(forecast), "-")
	last := strings.TrimSpace(parts[len(parts)-1])
	var minutes int64
	if _, err := fmt.Sscanf(last, "%d", &minutes); err != nil || minutes <= 0 {
		return defaultSpeedS
	}
	return minutes * 60
}
