package lifi

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
		baseURL:    registry.LiFiBaseURL,
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
		Name:        "lifi",
		Type:        "aggregator",
		Families:    []string{string(id.FamilyEVM)},
		RequiresKey: false,
		Capabilities: []string{
			providers.CapabilityQuote,
			providers.CapabilityBuild,
			providers.CapabilityStatus,
		},
	}
}

type quoteResponse struct {
	ID       string `json:"id"`
	Tool     string `json:"tool"`
	Estimate struct {
		ToAmount        string `json:"toAmount"`
		ToAmountMin     string `json:"toAmountMin"`
		ApprovalAddress string `json:"approvalAddress"`
		FeeCosts        []struct {
			AmountUSD string `json:"amountUSD"`
		} `json:"feeCosts"`
		GasCosts []struct {
			AmountUSD string `json:"amountUSD"`
		} `json:"gasCosts"`
		ExecutionDuration float64 `json:"executionDuration"`
	} `json:"estimate"`
	ToolDetails struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"toolDetails"`
	TransactionRequest struct {
		To      string `json:"to"`
		From    string `json:"from"`
		Data    string `json:"data"`
		Value   string `json:"value"`
		ChainID int64  `json:"chainId"`
	} `json:"transactionRequest"`
}

func (c *Client) GetQuote(ctx context.Context, req providers.QuoteRequest) (model.StepQuote, error) {
	resp, err := c.fetchQuote(ctx, req)
	if err != nil {
		return model.StepQuote{}, err
	}
	if strings.TrimSpace(resp.Estimate.ToAmount) == "" {
		return model.StepQuote{}, clierr.New(clierr.CodeUnavailable, "lifi quote missing output amount")
	}

	feeUSD := 0.0
	for _, item := range resp.Estimate.FeeCosts {
		v, _ := strconv.ParseFloat(item.AmountUSD, 64)
		feeUSD += v
	}
	for _, item := range resp.Estimate.GasCosts {
		v, _ := strconv.ParseFloat(item.AmountUSD, 64)
		feeUSD += v
	}
	route := firstNonEmpty(resp.ToolDetails.Name, resp.Tool)
	if route == "" {
		route = fmt.Sprintf("%s->%s", req.FromChain.Slug, req.ToChain.Slug)
	}

	spender := ""
	if shouldApprove(req.FromAsset, resp.Estimate.ApprovalAddress) {
		spender = common.HexToAddress(resp.Estimate.ApprovalAddress).Hex()
	}
	now := c.now().UTC()
	return model.StepQuote{
		Provider:        "lifi",
		QuoteID:         resp.ID,
		ToAmount:        resp.Estimate.ToAmount,
		ToAmountMin:     firstNonEmpty(resp.Estimate.ToAmountMin, resp.Estimate.ToAmount),
		ApprovalSpender: spender,
		EstimatedFeeUSD: feeUSD,
		EstimatedTimeS:  int64(resp.Estimate.ExecutionDuration),
		Route:           route,
		FetchedAt:       now.Format(time.RFC3339),
		ExpiresAt:       now.Add(quoteValidity).Format(time.RFC3339),
		Data: map[string]string{
			"tool": firstNonEmpty(resp.ToolDetails.Key, resp.Tool),
		},
	}, nil
}

// BuildTransaction requotes with the real sender and recipient and returns
// the transaction request from the fresh quote.
func (c *Client) BuildTransaction(ctx context.Context, req providers.BuildRequest) (model.UnsignedTx, error) {
	if !common.IsHexAddress(strings.TrimSpace(req.Sender)) {
		return model.UnsignedTx{}, clierr.New(clierr.CodeUsage, "lifi transaction requires a valid EVM sender address")
	}
	resp, err := c.fetchQuote(ctx, req.QuoteRequest)
	if err != nil {
		return model.UnsignedTx{}, err
	}
	tx := resp.TransactionRequest
	if strings.TrimSpace(tx.To) == "" || strings.TrimSpace(tx.Data) == "" {
		return model.UnsignedTx{}, clierr.New(clierr.CodeUnavailable, "lifi quote missing executable transaction payload")
	}
	if tx.ChainID != 0 && tx.ChainID != req.FromChain.EVMChainID {
		return model.UnsignedTx{}, clierr.New(clierr.CodeUnavailable, "lifi transaction chain does not match source chain")
	}
	value, err := hexToDecimal(tx.Value)
	if err != nil {
		return model.UnsignedTx{}, clierr.Wrap(clierr.CodeUnavailable, "parse lifi transaction value", err)
	}
	return model.UnsignedTx{
		Family:      string(id.FamilyEVM),
		ChainID:     req.FromChain.CAIP2,
		Format:      model.TxFormatEVMCall,
		From:        common.HexToAddress(req.Sender).Hex(),
		To:          common.HexToAddress(tx.To).Hex(),
		Data:        ensureHexPrefix(tx.Data),
		Value:       value,
		ProviderRef: resp.ID,
	}, nil
}

type statusResponse struct {
	Status           string `json:"status"`
	Substatus        string `json:"substatus"`
	SubstatusMessage string `json:"substatusMessage"`
	Receiving        struct {
		TxHash string `json:"txHash"`
	} `json:"receiving"`
}

func (c *Client) GetStatus(ctx context.Context, req providers.StatusRequest) (model.RawStatus, error) {
	if strings.TrimSpace(req.TxHash) == "" {
		return model.RawStatus{}, clierr.New(clierr.CodeUsage, "lifi status requires a transaction hash")
	}
	vals := url.Values{}
	vals.Set("txHash", strings.TrimSpace(req.TxHash))
	if req.FromChain.EVMChainID != 0 {
		vals.Set("fromChain", strconv.FormatInt(req.FromChain.EVMChainID, 10))
	}
	if req.ToChain.EVMChainID != 0 {
		vals.Set("toChain", strconv.FormatInt(req.ToChain.EVMChainID, 10))
	}
	if tool := strings.TrimSpace(req.Quote.Data["tool"]); tool != "" {
		vals.Set("bridge", tool)
	}
	var resp statusResponse
	if _, err := httpx.GetJSON(ctx, c.statusHTTP, c.baseURL+"/status?"+vals.Encode(), nil, &resp); err != nil {
		// The status index lags the chain; an unknown hash is still in flight.
		if clierr.IsCode(err, clierr.CodeNotFound) {
			return model.RawStatus{Provider: "lifi", Status: "NOT_FOUND"}, nil
		}
		return model.RawStatus{}, err
	}
	return model.RawStatus{
		Provider:          "lifi",
		Status:            resp.Status,
		Substatus:         resp.Substatus,
		Message:           resp.SubstatusMessage,
		DestinationTxHash: resp.Receiving.TxHash,
	}, nil
}

// Submit is a no-op: lifi discovers transfers from the source transaction hash.
func (c *Client) Submit(context.Context, providers.SubmitRequest) error {
	return nil
}

func (c *Client) fetchQuote(ctx context.Context, req providers.QuoteRequest) (quoteResponse, error) {
	if !req.FromChain.IsEVM() || !req.ToChain.IsEVM() {
		return quoteResponse{}, clierr.New(clierr.CodeUnsupported, "lifi supports only EVM chains")
	}
	sender := strings.TrimSpace(req.Sender)
	if sender == "" {
		sender = "0x0000000000000000000000000000000000000001"
	}
	recipient := strings.TrimSpace(req.Recipient)
	if recipient == "" {
		recipient = sender
	}
	vals := url.Values{}
	vals.Set("fromChain", strconv.FormatInt(req.FromChain.EVMChainID, 10))
	vals.Set("toChain", strconv.FormatInt(req.ToChain.EVMChainID, 10))
	vals.Set("fromToken", strings.ToLower(req.FromAsset.Address))
	vals.Set("toToken", strings.ToLower(req.ToAsset.Address))
	vals.Set("fromAmount", req.AmountBaseUnits)
	vals.Set("fromAddress", sender)
	vals.Set("toAddress", recipient)
	vals.Set("slippage", defaultSlippage)

	var resp quoteResponse
	if _, err := httpx.GetJSON(ctx, c.http, c.baseURL+"/quote?"+vals.Encode(), nil, &resp); err != nil {
		return quoteResponse{}, err
	}
	return resp, nil
}

func shouldApprove(asset id.Asset, spender string) bool {
	if asset.Native || strings.TrimSpace(spender) == "" {
		return false
	}
	if !common.IsHexAddress(asset.Address) || !common.IsHexAddress(spender) {
		return false
	}
	return !strings.EqualFold(strings.TrimSpace(asset.Address), "0x0000000000000000000000000000000000000000")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func ensureHexPrefix(v string) string {
	clean := strings.TrimSpace(v)
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		return clean
	}
	return "0x" + clean
}

func hexToDecimal(v string) (string, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return "0", nil
	}
	if !strings.HasPrefix(clean, "0x") && !strings.HasPrefix(clean, "0X") {
		n, ok := new(big.Int).SetString(clean, 10)
		if !ok {
			return "", fmt.Errorf("invalid value %q", v)
		}
		return n.String(), nil
	}
	clean = clean[2:]
	if clean == "" {
		return "0", nil
	}
	n := new(big.Int)
	if _, ok := n.SetString(clean, 16); !ok {
		return "", fmt.Errorf("invalid hex value %q", v)
	}
	return n.String(), nil
}
