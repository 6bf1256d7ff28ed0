// Package taikoswap quotes and builds single-pool swaps against the TaikoSwap
// (Uniswap V3) quoter and router on Taiko.
package taikoswap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/id"
	"github.com/ggonzalez94/crossroute/internal/model"
	"github.com/ggonzalez94/crossroute/internal/providers"
	"github.com/ggonzalez94/crossroute/internal/registry"
)

const (
	slippageBps   = 50
	quoteValidity = 2 * time.Minute
)

var (
	feeTiers = []uint32{100, 500, 3000, 10000}

	quoterABI = mustABI(registry.TaikoSwapQuoterV2ABI)
	routerABI = mustABI(registry.TaikoSwapRouterABI)
)

type chainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

type Client struct {
	rpcOverrides map[int64]string
	dial         func(ctx context.Context, rpcURL string) (chainReader, error)
	now          func() time.Time
}

func New(rpcOverrides map[int64]string) *Client {
	return &Client{
		rpcOverrides: rpcOverrides,
		dial: func(ctx context.Context, rpcURL string) (chainReader, error) {
			return ethclient.DialContext(ctx, rpcURL)
		},
		now: time.Now,
	}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:        "taikoswap",
		Type:        "swap",
		Families:    []string{string(id.FamilyEVM)},
		RequiresKey: false,
		Capabilities: []string{
			providers.CapabilityQuote,
			providers.CapabilityBuild,
			providers.CapabilityStatus,
		},
	}
}

type quoteExactInputSingleParams struct {
	TokenIn           common.Address `abi:"tokenIn"`
	TokenOut          common.Address `abi:"tokenOut"`
	AmountIn          *big.Int       `abi:"amountIn"`
	Fee               *big.Int       `abi:"fee"`
	SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
}

type exactInputSingleParams struct {
	TokenIn           common.Address `abi:"tokenIn"`
	TokenOut          common.Address `abi:"tokenOut"`
	Fee               *big.Int       `abi:"fee"`
	Recipient         common.Address `abi:"recipient"`
	AmountIn          *big.Int       `abi:"amountIn"`
	AmountOutMinimum  *big.Int       `abi:"amountOutMinimum"`
	SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
}

// GetQuote asks the quoter for every fee tier and keeps the best output.
func (c *Client) GetQuote(ctx context.Context, req providers.QuoteRequest) (model.StepQuote, error) {
	quoter, router, err := contracts(req)
	if err != nil {
		return model.StepQuote{}, err
	}
	client, err := c.connect(ctx, req.FromChain)
	if err != nil {
		return model.StepQuote{}, err
	}
	defer client.Close()

	amountIn, _ := new(big.Int).SetString(req.AmountBaseUnits, 10)
	out, fee, err := quoteBestFee(ctx, client, quoter, tokenAddress(req.FromAsset), tokenAddress(req.ToAsset), amountIn)
	if err != nil {
		return model.StepQuote{}, err
	}
	now := c.now().UTC()
	return model.StepQuote{
		Provider:        "taikoswap",
		ToAmount:        out.String(),
		ToAmountMin:     minOut(out).String(),
		ApprovalSpender: router.Hex(),
		Route:           fmt.Sprintf("taikoswap-v3-fee-%d", fee),
		FetchedAt:       now.Format(time.RFC3339),
		ExpiresAt:       now.Add(quoteValidity).Format(time.RFC3339),
		Data:            map[string]string{"fee": strconv.FormatUint(uint64(fee), 10)},
	}, nil
}

// BuildTransaction packs exactInputSingle for the quoted pool. A quote
// without a fee tier or minimum output is refreshed first.
func (c *Client) BuildTransaction(ctx context.Context, req providers.BuildRequest) (model.UnsignedTx, error) {
	quoter, router, err := contracts(req.QuoteRequest)
	if err != nil {
		return model.UnsignedTx{}, err
	}
	sender := strings.TrimSpace(req.Sender)
	if !common.IsHexAddress(sender) {
		return model.UnsignedTx{}, clierr.New(clierr.CodeUsage, "taikoswap swap requires a valid EVM sender address")
	}
	recipient := strings.TrimSpace(req.Recipient)
	if recipient == "" {
		recipient = sender
	}
	if !common.IsHexAddress(recipient) {
		return model.UnsignedTx{}, clierr.New(clierr.CodeUsage, "taikoswap swap requires a valid EVM recipient address")
	}

	amountIn, _ := new(big.Int).SetString(req.AmountBaseUnits, 10)
	fromToken, toToken := tokenAddress(req.FromAsset), tokenAddress(req.ToAsset)
	fee, amountOutMin, ok := quotedPool(req.Quote)
	if !ok {
		client, err := c.connect(ctx, req.FromChain)
		if err != nil {
			return model.UnsignedTx{}, err
		}
		defer client.Close()
		out, bestFee, err := quoteBestFee(ctx, client, quoter, fromToken, toToken, amountIn)
		if err != nil {
			return model.UnsignedTx{}, err
		}
		fee, amountOutMin = bestFee, minOut(out)
	}

	data, err := routerABI.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           fromToken,
		TokenOut:          toToken,
		Fee:               new(big.Int).SetUint64(uint64(fee)),
		Recipient:         common.HexToAddress(recipient),
		AmountIn:          amountIn,
		AmountOutMinimum:  amountOutMin,
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return model.UnsignedTx{}, clierr.Wrap(clierr.CodeInternal, "pack swap calldata", err)
	}
	return model.UnsignedTx{
		Family:  string(id.FamilyEVM),
		ChainID: req.FromChain.CAIP2,
		Format:  model.TxFormatEVMCall,
		From:    common.HexToAddress(sender).Hex(),
		To:      router.Hex(),
		Data:    hexutil.Encode(data),
		Value:   "0",
	}, nil
}

// GetStatus reads the swap receipt; the swap settles in the same transaction.
func (c *Client) GetStatus(ctx context.Context, req providers.StatusRequest) (model.RawStatus, error) {
	hash := strings.TrimSpace(req.TxHash)
	if len(common.FromHex(hash)) != common.HashLength {
		return model.RawStatus{}, clierr.New(clierr.CodeUsage, "taikoswap status requires a 32-byte transaction hash")
	}
	client, err := c.connect(ctx, req.FromChain)
	if err != nil {
		return model.RawStatus{}, err
	}
	defer client.Close()

	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(hash))
	if errors.Is(err, ethereum.NotFound) {
		return model.RawStatus{Provider: "taikoswap", Status: "pending"}, nil
	}
	if err != nil {
		return model.RawStatus{}, clierr.Wrap(clierr.CodeUnavailable, "read transaction receipt", err)
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return model.RawStatus{Provider: "taikoswap", Status: "success", DestinationTxHash: hash}, nil
	}
	return model.RawStatus{Provider: "taikoswap", Status: "reverted", Message: "swap reverted on chain"}, nil
}

// Submit is a no-op: status comes from the receipt.
func (c *Client) Submit(context.Context, providers.SubmitRequest) error {
	return nil
}

func (c *Client) connect(ctx context.Context, chain id.Chain) (chainReader, error) {
	if !chain.IsEVM() {
		return nil, clierr.New(clierr.CodeUnsupported, "taikoswap supports only Taiko")
	}
	rpcURL, err := registry.ResolveRPCURL(c.rpcOverrides[chain.EVMChainID], chain.EVMChainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnsupported, "resolve rpc url", err)
	}
	client, err := c.dial(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect taiko rpc", err)
	}
	return client, nil
}

func contracts(req providers.QuoteRequest) (quoter, router common.Address, err error) {
	if req.Kind != model.StepKindSwap {
		return common.Address{}, common.Address{}, clierr.New(clierr.CodeUnsupported, "taikoswap only quotes swaps")
	}
	if req.FromChain.CAIP2 != req.ToChain.CAIP2 {
		return common.Address{}, common.Address{}, clierr.New(clierr.CodeUnsupported, "taikoswap swaps stay on one chain")
	}
	quoterRaw, routerRaw, ok := registry.TaikoSwapContracts(req.FromChain.EVMChainID)
	if !ok {
		return common.Address{}, common.Address{}, clierr.New(clierr.CodeUnsupported, "taikoswap only supports Taiko mainnet")
	}
	if req.FromAsset.Native || req.ToAsset.Native {
		return common.Address{}, common.Address{}, clierr.New(clierr.CodeUnsupported, "taikoswap swaps ERC-20 tokens only; wrap ETH first")
	}
	if !id.IsPositiveBaseUnits(req.AmountBaseUnits) {
		return common.Address{}, common.Address{}, clierr.New(clierr.CodeUsage, "amount must be a positive integer in base units")
	}
	return common.HexToAddress(quoterRaw), common.HexToAddress(routerRaw), nil
}

func tokenAddress(asset id.Asset) common.Address {
	return common.HexToAddress(asset.Address)
}

func quotedPool(q model.StepQuote) (uint32, *big.Int, bool) {
	fee, err := strconv.ParseUint(q.Data["fee"], 10, 32)
	if err != nil {
		return 0, nil, false
	}
	minimum, ok := new(big.Int).SetString(q.ToAmountMin, 10)
	if !ok || minimum.Sign() <= 0 {
		return 0, nil, false
	}
	return uint32(fee), minimum, true
}

func minOut(out *big.Int) *big.Int {
	minimum := new(big.Int).Mul(out, big.NewInt(10_000-slippageBps))
	return minimum.Div(minimum, big.NewInt(10_000))
}

func quoteBestFee(ctx context.Context, client chainReader, quoter, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, uint32, error) {
	var (
		bestOut *big.Int
		bestGas *big.Int
		bestFee uint32
	)
	for _, fee := range feeTiers {
		callData, err := quoterABI.Pack("quoteExactInputSingle", quoteExactInputSingleParams{
			TokenIn:           tokenIn,
			TokenOut:          tokenOut,
			AmountIn:          amountIn,
			Fee:               new(big.Int).SetUint64(uint64(fee)),
			SqrtPriceLimitX96: big.NewInt(0),
		})
		if err != nil {
			return nil, 0, clierr.Wrap(clierr.CodeInternal, "pack quoter calldata", err)
		}
		// Tiers without a pool revert; skip them.
		out, err := client.CallContract(ctx, ethereum.CallMsg{To: &quoter, Data: callData}, nil)
		if err != nil {
			continue
		}
		decoded, err := quoterABI.Unpack("quoteExactInputSingle", out)
		if err != nil || len(decoded) < 4 {
			continue
		}
		amountOut, ok := decoded[0].(*big.Int)
		if !ok || amountOut == nil || amountOut.Sign() <= 0 {
			continue
		}
		gasEstimate, ok := decoded[3].(*big.Int)
		if !ok || gasEstimate == nil {
			gasEstimate = big.NewInt(0)
		}
		if bestOut == nil || amountOut.Cmp(bestOut) > 0 || (amountOut.Cmp(bestOut) == 0 && gasEstimate.Cmp(bestGas) < 0) {
			bestOut = new(big.Int).Set(amountOut)
			bestGas = new(big.Int).Set(gasEstimate)
			bestFee = fee
		}
	}
	if bestOut == nil {
		return nil, 0, clierr.New(clierr.CodeNoRoute, "taikoswap has no pool for this token pair")
	}
	return bestOut, bestFee, nil
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
