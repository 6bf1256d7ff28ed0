package across

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/httpx"
	"github.com/ggonzalez94/crossroute/internal/id"
	"github.com/ggonzalez94/crossroute/internal/model"
	"github.com/ggonzalez94/crossroute/internal/providers"
	"github.com/ggonzalez94/crossroute/internal/registry"
)

const (
	defaultSlippage = "0.005"
	quoteValidity   = 5 * time.Minute
	defaultFillTime = 120
)

type Client struct {
	http       *httpx.Client
	statusHTTP *httpx.Client
	baseURL    string
	now        func() time.Time
}

func New(httpClient *httpx.Client) *Client {
	return &Client{
		http:       httpClient,
		statusHTTP: httpClient.WithoutRetries(),
		baseURL:    registry.AcrossBaseURL,
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
		Name:        "across",
		Type:        "bridge",
		Families:    []string{string(id.FamilyEVM)},
		RequiresKey: false,
		Capabilities: []string{
			providers.CapabilityQuote,
			providers.CapabilityBuild,
			providers.CapabilityStatus,
		},
	}
}

func (c *Client) GetQuote(ctx context.Context, req providers.QuoteRequest) (model.StepQuote, error) {
	if !req.FromChain.IsEVM() || !req.ToChain.IsEVM() {
		return model.StepQuote{}, clierr.New(clierr.CodeUnsupported, "across supports only EVM chains")
	}
	if req.FromChain.CAIP2 == req.ToChain.CAIP2 {
		return model.StepQuote{}, clierr.New(clierr.CodeUnsupported, "across only bridges between different chains")
	}

	vals := url.Values{}
	vals.Set("inputToken", req.FromAsset.Address)
	vals.Set("outputToken", req.ToAsset.Address)
	vals.Set("originChainId", strconv.FormatInt(req.FromChain.EVMChainID, 10))
	vals.Set("destinationChainId", strconv.FormatInt(req.ToChain.EVMChainID, 10))
	vals.Set("amount", req.AmountBaseUnits)

	var limits map[string]any
	if _, err := httpx.GetJSON(ctx, c.http, c.baseURL+"/limits?"+vals.Encode(), nil, &limits); err != nil {
		return model.StepQuote{}, err
	}
	if !withinLimits(req.AmountBaseUnits, limits) {
		return model.StepQuote{}, clierr.New(clierr.CodeAmountOutOfBounds, "amount is outside across bridge limits")
	}

	var fees map[string]any
	if _, err := httpx.GetJSON(ctx, c.http, c.baseURL+"/suggested-fees?"+vals.Encode(), nil, &fees); err != nil {
		return model.StepQuote{}, err
	}
	if tooLow, _ := fees["isAmountTooLow"].(bool); tooLow {
		return model.StepQuote{}, clierr.New(clierr.CodeAmountOutOfBounds, "amount is too low to cover across relay fees")
	}

	totalFee := pickNumberString(fees, "totalRelayFee", "relayFeeTotal")
	estOut := pickNumberString(fees, "outputAmount")
	if estOut == "" && totalFee != "" {
		estOut = subtractBaseUnits(req.AmountBaseUnits, totalFee)
	}
	if estOut == "" {
		estOut = req.AmountBaseUnits
	}
	feeUSD := pickFloat(fees, "totalRelayFeeUsd", "feeUsd")
	if feeUSD == 0 && totalFee != "" {
		feeUSD = approximateStableUSD(req.FromAsset.Symbol, totalFee, req.FromAsset.Decimals)
	}
	estTime := int64(pickFloat(fees, "estimatedFillTimeSec", "estimatedFillTime"))
	if estTime == 0 {
		estTime = defaultFillTime
	}
	spender := ""
	if pool := pickString(fees, "spokePoolAddress"); !req.FromAsset.Native && common.IsHexAddress(pool) {
		spender = common.HexToAddress(pool).Hex()
	}

	now := c.now().UTC()
	return model.StepQuote{
		Provider:        "across",
		ToAmount:        estOut,
		ToAmountMin:     estOut,
		ApprovalSpender: spender,
		EstimatedFeeUSD: feeUSD,
		EstimatedTimeS:  estTime,
		Route:           fmt.Sprintf("%s->%s", req.FromChain.Slug, req.ToChain.Slug),
		FetchedAt:       now.Format(time.RFC3339),
		ExpiresAt:       now.Add(quoteValidity).Format(time.RFC3339),
		Data: map[string]string{
			"quoteTimestamp": pickNumberString(fees, "timestamp"),
		},
	}, nil
}

type swapApprovalResponse struct {
	ID     string `json:"id"`
	SwapTx struct {
		ChainID int64  `json:"chainId"`
		To      string `json:"to"`
		Data    string `json:"data"`
		Value   string `json:"value"`
	} `json:"swapTx"`
	MinOutputAmount      string `json:"minOutputAmount"`
	ExpectedOutputAmount string `json:"expectedOutputAmount"`
}

func (c *Client) BuildTransaction(ctx context.Context, req providers.BuildRequest) (model.UnsignedTx, error) {
	sender := strings.TrimSpace(req.Sender)
	if !common.IsHexAddress(sender) {
		return model.UnsignedTx{}, clierr.New(clierr.CodeUsage, "across transaction requires a valid EVM sender address")
	}
	recipient := strings.TrimSpace(req.Recipient)
	if recipient == "" {
		recipient = sender
	}
	if !common.IsHexAddress(recipient) {
		return model.UnsignedTx{}, clierr.New(clierr.CodeUsage, "across transaction recipient must be a valid EVM address")
	}

	vals := url.Values{}
	vals.Set("amount", req.AmountBaseUnits)
	vals.Set("inputToken", req.FromAsset.Address)
	vals.Set("outputToken", req.ToAsset.Address)
	vals.Set("originChainId", strconv.FormatInt(req.FromChain.EVMChainID, 10))
	vals.Set("destinationChainId", strconv.FormatInt(req.ToChain.EVMChainID, 10))
	vals.Set("depositor", sender)
	vals.Set("recipient", recipient)
	vals.Set("slippage", defaultSlippage)

	var resp swapApprovalResponse
	if _, err := httpx.GetJSON(ctx, c.http, c.baseURL+"/swap/approval?"+vals.Encode(), nil, &resp); err != nil {
		return model.UnsignedTx{}, err
	}
	if strings.TrimSpace(resp.SwapTx.To) == "" || strings.TrimSpace(resp.SwapTx.Data) == "" {
		return model.UnsignedTx{}, clierr.New(clierr.CodeUnavailable, "across response missing swap transaction payload")
	}
	if resp.SwapTx.ChainID != 0 && resp.SwapTx.ChainID != req.FromChain.EVMChainID {
		return model.UnsignedTx{}, clierr.New(clierr.CodeUnavailable, "across swap transaction chain does not match source chain")
	}
	return model.UnsignedTx{
		Family:      string(id.FamilyEVM),
		ChainID:     req.FromChain.CAIP2,
		Format:      model.TxFormatEVMCall,
		From:        common.HexToAddress(sender).Hex(),
		To:          common.HexToAddress(resp.SwapTx.To).Hex(),
		Data:        ensureHexPrefix(resp.SwapTx.Data),
		Value:       normalizeTransactionValue(resp.SwapTx.Value),
		ProviderRef: resp.ID,
	}, nil
}

type depositStatusResponse struct {
	Status     string `json:"status"`
	FillTx     string `json:"fillTx"`
	DepositID  any    `json:"depositId"`
	Pagination any    `json:"pagination"`
}

func (c *Client) GetStatus(ctx context.Context, req providers.StatusRequest) (model.RawStatus, error) {
	if strings.TrimSpace(req.TxHash) == "" {
		return model.RawStatus{}, clierr.New(clierr.CodeUsage, "across status requires a deposit transaction hash")
	}
	vals := url.Values{}
	vals.Set("depositTxHash", strings.TrimSpace(req.TxHash))
	if req.FromChain.EVMChainID != 0 {
		vals.Set("originChainId", strconv.FormatInt(req.FromChain.EVMChainID, 10))
	}
	var resp depositStatusResponse
	if _, err := httpx.GetJSON(ctx, c.statusHTTP, c.baseURL+"/deposit/status?"+vals.Encode(), nil, &resp); err != nil {
		if clierr.IsCode(err, clierr.CodeNotFound) {
			return model.RawStatus{Provider: "across", Status: "not_found"}, nil
		}
		return model.RawStatus{}, err
	}
	return model.RawStatus{
		Provider:          "across",
		Status:            resp.Status,
		DestinationTxHash: resp.FillTx,
	}, nil
}

// Submit is a no-op: across relayers pick deposits up from the spoke pool.
func (c *Client) Submit(context.Context, providers.SubmitRequest) error {
	return nil
}

func withinLimits(amount string, limits map[string]any) bool {
	min := pickNumberString(limits, "minDeposit", "minLimit")
	max := pickNumberString(limits, "maxDeposit", "maxLimit")
	if min != "" && id.CompareBaseUnits(amount, min) < 0 {
		return false
	}
	if max != "" && id.CompareBaseUnits(amount, max) > 0 {
		return false
	}
	return true
}

func pickString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func pickNumberString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if out := numberString(v); out != "" {
				return out
			}
		}
	}
	return ""
}

func pickFloat(m map[string]any, keys ...string) float64 {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if out, ok := floatValue(v); ok {
				return out
			}
		}
	}
	return 0
}

func numberString(v any) string {
	switch t := v.(type) {
	case string:
		n, ok := new(big.Int).SetString(strings.TrimSpace(t), 10)
		if !ok {
			return ""
		}
		return n.String()
	case float64:
		return strconv.FormatFloat(t, 'f', 0, 64)
	case map[string]any:
		if out := numberString(t["total"]); out != "" {
			return out
		}
		return numberString(t["amount"])
	default:
		return ""
	}
}

func floatValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case map[string]any:
		if f, ok := floatValue(t["usd"]); ok {
			return f, true
		}
		return floatValue(t["value"])
	default:
		return 0, false
	}
}

func approximateStableUSD(symbol, amountBase string, decimals int) float64 {
	if !isLikelyStableSymbol(symbol) {
		return 0
	}
	v, err := strconv.ParseFloat(id.FormatDecimalCompat(amountBase, decimals), 64)
	if err != nil {
		return 0
	}
	return v
}

func isLikelyStableSymbol(symbol string) bool {
	switch strings.ToUpper(strings.TrimSpace(symbol)) {
	case "USDC", "USDT", "DAI", "USDE", "USDS", "PYUSD":
		return true
	default:
		return false
	}
}

func subtractBaseUnits(amount, fee string) string {
	a, okA := new(big.Int).SetString(amount, 10)
	b, okB := new(big.Int).SetString(fee, 10)
	if !okA || !okB || a.Cmp(b) <= 0 {
		return "0"
	}
	return new(big.Int).Sub(a, b).String()
}

func ensureHexPrefix(v string) string {
	clean := strings.TrimSpace(v)
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		return clean
	}
	return "0x" + clean
}

func normalizeTransactionValue(v string) string {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return "0"
	}
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		n := new(big.Int)
		if _, ok := n.SetString(clean[2:], 16); ok {
			return n.String()
		}
		return "0"
	}
	if n, ok := new(big.Int).SetString(clean, 10); ok {
		return n.String()
	}
	return "0"
}
