package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/httpx"
	"github.com/ggonzalez94/crossroute/internal/id"
	"github.com/ggonzalez94/crossroute/internal/model"
	"github.com/ggonzalez94/crossroute/internal/providers"
	"github.com/ggonzalez94/crossroute/internal/registry"
)

const (
	defaultLiteBase    = "https://lite-api.jup.ag/swap/v1"
	solanaMainnetCAIP2 = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	slippageBps        = "50"
	quoteValidity      = 2 * time.Minute
)

type Client struct {
	http       *httpx.Client
	statusHTTP *httpx.Client
	baseURL    string
	rpcURL     string
	apiKey     string
	now        func() time.Time
}

func New(httpClient *httpx.Client, apiKey string) *Client {
	apiKey = strings.TrimSpace(apiKey)
	baseURL := defaultLiteBase
	if apiKey != "" {
		baseURL = registry.JupiterBaseURL
	}
	return &Client{
		http:       httpClient,
		statusHTTP: httpClient.WithoutRetries(),
		baseURL:    baseURL,
		rpcURL:     registry.SolanaRPCURL,
		apiKey:     apiKey,
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

// WithRPCURL sets the Solana JSON-RPC endpoint used for signature status.
func (c *Client) WithRPCURL(rpcURL string) *Client {
	if strings.TrimSpace(rpcURL) != "" {
		c.rpcURL = strings.TrimSpace(rpcURL)
	}
	return c
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "jupiter",
		Type:          "swap",
		Families:      []string{string(id.FamilySolana)},
		RequiresKey:   false,
		KeyEnvVarName: "CROSSROUTE_JUPITER_API_KEY",
		Capabilities: []string{
			providers.CapabilityQuote,
			providers.CapabilityBuild,
			providers.CapabilityStatus,
		},
		CapabilityAuth: []model.ProviderCapabilityAuth{
			{
				Capability:  providers.CapabilityQuote,
				KeyEnvVar:   "CROSSROUTE_JUPITER_API_KEY",
				Description: "Optional API key for higher Jupiter API limits",
			},
		},
	}
}

type quoteResponse struct {
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	PriceImpactPct       string `json:"priceImpactPct"`
	RoutePlan            []struct {
		SwapInfo struct {
			Label string `json:"label"`
		} `json:"swapInfo"`
	} `json:"routePlan"`
}

func (c *Client) GetQuote(ctx context.Context, req providers.QuoteRequest) (model.StepQuote, error) {
	_, resp, err := c.fetchQuote(ctx, req)
	if err != nil {
		return model.StepQuote{}, err
	}
	now := c.now().UTC()
	return model.StepQuote{
		Provider:    "jupiter",
		ToAmount:    resp.OutAmount,
		ToAmountMin: firstNonEmpty(resp.OtherAmountThreshold, resp.OutAmount),
		Route:       routeFromPlan(resp),
		FetchedAt:   now.Format(time.RFC3339),
		ExpiresAt:   now.Add(quoteValidity).Format(time.RFC3339),
		Data: map[string]string{
			"priceImpactPct": strconv.FormatFloat(parsePriceImpactPct(resp.PriceImpactPct), 'f', -1, 64),
		},
	}, nil
}

type swapRequest struct {
	QuoteResponse           json.RawMessage `json:"quoteResponse"`
	UserPublicKey           string          `json:"userPublicKey"`
	WrapAndUnwrapSol        bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit bool            `json:"dynamicComputeUnitLimit"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight int64  `json:"lastValidBlockHeight"`
}

// BuildTransaction requotes and asks Jupiter to serialize the swap for the
// sender. The result is a base64 versioned transaction the wallet signs.
func (c *Client) BuildTransaction(ctx context.Context, req providers.BuildRequest) (model.UnsignedTx, error) {
	sender := strings.TrimSpace(req.Sender)
	if !id.ValidAddress(id.FamilySolana, sender) {
		return model.UnsignedTx{}, clierr.New(clierr.CodeUsage, "jupiter swap requires a valid Solana sender address")
	}
	raw, _, err := c.fetchQuote(ctx, req.QuoteRequest)
	if err != nil {
		return model.UnsignedTx{}, err
	}
	body, err := json.Marshal(swapRequest{
		QuoteResponse:           raw,
		UserPublicKey:           sender,
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
	})
	if err != nil {
		return model.UnsignedTx{}, clierr.Wrap(clierr.CodeInternal, "encode jupiter swap request", err)
	}
	var resp swapResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/swap", body, c.headers(), &resp); err != nil {
		return model.UnsignedTx{}, err
	}
	if strings.TrimSpace(resp.SwapTransaction) == "" {
		return model.UnsignedTx{}, clierr.New(clierr.CodeUnavailable, "jupiter swap response missing transaction")
	}
	return model.UnsignedTx{
		Family:      string(id.FamilySolana),
		ChainID:     req.FromChain.CAIP2,
		Format:      model.TxFormatSolanaVersion,
		From:        sender,
		Payload:     resp.SwapTransaction,
		ProviderRef: strconv.FormatInt(resp.LastValidBlockHeight, 10),
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type signatureStatusesResponse struct {
	Result struct {
		Value []*struct {
			ConfirmationStatus string `json:"confirmationStatus"`
			Err                any    `json:"err"`
		} `json:"value"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GetStatus reads the signature status from a Solana RPC node. Jupiter swaps
// settle in the same transaction, so the chain is the source of truth.
func (c *Client) GetStatus(ctx context.Context, req providers.StatusRequest) (model.RawStatus, error) {
	sig := strings.TrimSpace(req.TxHash)
	if sig == "" {
		return model.RawStatus{}, clierr.New(clierr.CodeUsage, "jupiter status requires a transaction signature")
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getSignatureStatuses",
		Params:  []any{[]string{sig}, map[string]bool{"searchTransactionHistory": true}},
	})
	if err != nil {
		return model.RawStatus{}, clierr.Wrap(clierr.CodeInternal, "encode solana rpc request", err)
	}
	var resp signatureStatusesResponse
	if _, err := httpx.DoBodyJSON(ctx, c.statusHTTP, http.MethodPost, c.rpcURL, body, nil, &resp); err != nil {
		return model.RawStatus{}, err
	}
	if resp.Error != nil {
		return model.RawStatus{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("solana rpc error %d: %s", resp.Error.Code, resp.Error.Message))
	}
	if len(resp.Result.Value) == 0 || resp.Result.Value[0] == nil {
		return model.RawStatus{Provider: "jupiter", Status: "not_found"}, nil
	}
	entry := resp.Result.Value[0]
	if entry.Err != nil {
		return model.RawStatus{Provider: "jupiter", Status: "failed", Message: fmt.Sprintf("%v", entry.Err)}, nil
	}
	status := "confirming"
	if entry.ConfirmationStatus == "finalized" {
		status = "confirmed"
	}
	return model.RawStatus{
		Provider:          "jupiter",
		Status:            status,
		Substatus:         entry.ConfirmationStatus,
		DestinationTxHash: sig,
	}, nil
}

// Submit is a no-op: the client broadcasts the signed transaction itself.
func (c *Client) Submit(context.Context, providers.SubmitRequest) error {
	return nil
}

func (c *Client) fetchQuote(ctx context.Context, req providers.QuoteRequest) (json.RawMessage, quoteResponse, error) {
	if !req.FromChain.IsSolana() || req.FromChain.CAIP2 != req.ToChain.CAIP2 {
		return nil, quoteResponse{}, clierr.New(clierr.CodeUnsupported, "jupiter supports only same-chain Solana swaps")
	}
	if req.FromChain.CAIP2 != solanaMainnetCAIP2 {
		return nil, quoteResponse{}, clierr.New(clierr.CodeUnsupported, "jupiter supports only Solana mainnet")
	}
	vals := url.Values{}
	vals.Set("inputMint", req.FromAsset.Address)
	vals.Set("outputMint", req.ToAsset.Address)
	vals.Set("amount", req.AmountBaseUnits)
	vals.Set("slippageBps", slippageBps)

	var raw json.RawMessage
	if _, err := httpx.GetJSON(ctx, c.http, c.baseURL+"/quote?"+vals.Encode(), c.headers(), &raw); err != nil {
		return nil, quoteResponse{}, err
	}
	var resp quoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, quoteResponse{}, clierr.Wrap(clierr.CodeUnavailable, "decode jupiter quote", err)
	}
	if strings.TrimSpace(resp.OutAmount) == "" {
		return nil, quoteResponse{}, clierr.New(clierr.CodeUnavailable, "jupiter quote missing output amount")
	}
	return raw, resp, nil
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"x-api-key": c.apiKey}
}

func parsePriceImpactPct(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

func routeFromPlan(resp quoteResponse) string {
	parts := make([]string, 0, len(resp.RoutePlan))
	for _, hop := range resp.RoutePlan {
		label := strings.TrimSpace(hop.SwapInfo.Label)
		if label == "" {
			continue
		}
		if len(parts) == 0 || parts[len(parts)-1] != label {
			parts = append(parts, label)
		}
	}
	if len(parts) == 0 {
		return "jupiter"
	}
	return strings.Join(parts, " > ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
