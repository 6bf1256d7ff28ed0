// Package native builds plain EVM transactions that need no third-party
// provider: same-asset transfers and wrapping or unwrapping the native coin.
package native

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ggonzalez94/crossroute/internal/calldata"
	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/id"
	"github.com/ggonzalez94/crossroute/internal/model"
	"github.com/ggonzalez94/crossroute/internal/providers"
	"github.com/ggonzalez94/crossroute/internal/registry"
)

const quoteValidity = 30 * time.Minute

type receiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

type Client struct {
	rpcOverrides map[int64]string
	dial         func(ctx context.Context, rpcURL string) (receiptReader, error)
	now          func() time.Time
}

func New(rpcOverrides map[int64]string) *Client {
	return &Client{
		rpcOverrides: rpcOverrides,
		dial: func(ctx context.Context, rpcURL string) (receiptReader, error) {
			return ethclient.DialContext(ctx, rpcURL)
		},
		now: time.Now,
	}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:        "native",
		Type:        "chain",
		Families:    []string{string(id.FamilyEVM)},
		RequiresKey: false,
		Capabilities: []string{
			providers.CapabilityQuote,
			providers.CapabilityBuild,
			providers.CapabilityStatus,
		},
	}
}

// GetQuote is exact: transfers and wrapping are 1:1.
func (c *Client) GetQuote(_ context.Context, req providers.QuoteRequest) (model.StepQuote, error) {
	if err := validate(req); err != nil {
		return model.StepQuote{}, err
	}
	now := c.now().UTC()
	return model.StepQuote{
		Provider:    "native",
		ToAmount:    req.AmountBaseUnits,
		ToAmountMin: req.AmountBaseUnits,
		Route:       strings.ToLower(string(req.Kind)),
		FetchedAt:   now.Format(time.RFC3339),
		ExpiresAt:   now.Add(quoteValidity).Format(time.RFC3339),
	}, nil
}

func (c *Client) BuildTransaction(_ context.Context, req providers.BuildRequest) (model.UnsignedTx, error) {
	if err := validate(req.QuoteRequest); err != nil {
		return model.UnsignedTx{}, err
	}
	sender := strings.TrimSpace(req.Sender)
	if !common.IsHexAddress(sender) {
		return model.UnsignedTx{}, clierr.New(clierr.CodeUsage, "native transaction requires a valid EVM sender address")
	}
	tx := model.UnsignedTx{
		Family:  string(id.FamilyEVM),
		ChainID: req.FromChain.CAIP2,
		Format:  model.TxFormatEVMCall,
		From:    common.HexToAddress(sender).Hex(),
		Value:   "0",
	}
	switch req.Kind {
	case model.StepKindTransfer:
		recipient := strings.TrimSpace(req.Recipient)
		if !common.IsHexAddress(recipient) {
			return model.UnsignedTx{}, clierr.New(clierr.CodeUsage, "native transfer requires a valid EVM recipient address")
		}
		if req.FromAsset.Native {
			tx.To = common.HexToAddress(recipient).Hex()
			tx.Value = req.AmountBaseUnits
			tx.Data = "0x"
			return tx, nil
		}
		data, err := calldata.ERC20Transfer(recipient, req.AmountBaseUnits)
		if err != nil {
			return model.UnsignedTx{}, err
		}
		tx.To = common.HexToAddress(req.FromAsset.Address).Hex()
		tx.Data = data
	case model.StepKindWrap:
		data, err := calldata.WrapDeposit()
		if err != nil {
			return model.UnsignedTx{}, err
		}
		tx.To = common.HexToAddress(req.ToAsset.Address).Hex()
		tx.Data = data
		tx.Value = req.AmountBaseUnits
	case model.StepKindUnwrap:
		data, err := calldata.WrapWithdraw(req.AmountBaseUnits)
		if err != nil {
			return model.UnsignedTx{}, err
		}
		tx.To = common.HexToAddress(req.FromAsset.Address).Hex()
		tx.Data = data
	}
	return tx, nil
}

// GetStatus reads the transaction receipt from the source chain.
func (c *Client) GetStatus(ctx context.Context, req providers.StatusRequest) (model.RawStatus, error) {
	hash := strings.TrimSpace(req.TxHash)
	if len(common.FromHex(hash)) != common.HashLength {
		return model.RawStatus{}, clierr.New(clierr.CodeUsage, "native status requires a 32-byte transaction hash")
	}
	if !req.FromChain.IsEVM() {
		return model.RawStatus{}, clierr.New(clierr.CodeUnsupported, "native status supports only EVM chains")
	}
	rpcURL, err := registry.ResolveRPCURL(c.rpcOverrides[req.FromChain.EVMChainID], req.FromChain.EVMChainID)
	if err != nil {
		return model.RawStatus{}, clierr.Wrap(clierr.CodeUnsupported, "resolve rpc url", err)
	}
	client, err := c.dial(ctx, rpcURL)
	if err != nil {
		return model.RawStatus{}, clierr.Wrap(clierr.CodeUnavailable, "connect chain rpc", err)
	}
	defer client.Close()

	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(hash))
	if errors.Is(err, ethereum.NotFound) {
		return model.RawStatus{Provider: "native", Status: "pending"}, nil
	}
	if err != nil {
		return model.RawStatus{}, clierr.Wrap(clierr.CodeUnavailable, "read transaction receipt", err)
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return model.RawStatus{Provider: "native", Status: "success", DestinationTxHash: hash}, nil
	}
	return model.RawStatus{Provider: "native", Status: "reverted", Message: "transaction reverted on chain"}, nil
}

// Submit is a no-op: the receipt is looked up directly from the hash.
func (c *Client) Submit(context.Context, providers.SubmitRequest) error {
	return nil
}

func validate(req providers.QuoteRequest) error {
	if !req.FromChain.IsEVM() || req.FromChain.CAIP2 != req.ToChain.CAIP2 {
		return clierr.New(clierr.CodeUnsupported, "native steps run on a single EVM chain")
	}
	if !id.IsPositiveBaseUnits(req.AmountBaseUnits) {
		return clierr.New(clierr.CodeUsage, "amount must be a positive integer in base units")
	}
	wrapped, hasWrapped := id.WrappedNative(req.FromChain)
	switch req.Kind {
	case model.StepKindTransfer:
		if !strings.EqualFold(req.FromAsset.AssetID, req.ToAsset.AssetID) {
			return clierr.New(clierr.CodeUnsupported, "native transfer requires the same asset on both sides")
		}
	case model.StepKindWrap:
		if !hasWrapped || !req.FromAsset.Native || !strings.EqualFold(req.ToAsset.AssetID, wrapped.AssetID) {
			return clierr.New(clierr.CodeUnsupported, "wrap requires native input and wrapped-native output")
		}
	case model.StepKindUnwrap:
		if !hasWrapped || !req.ToAsset.Native || !strings.EqualFold(req.FromAsset.AssetID, wrapped.AssetID) {
			return clierr.New(clierr.CodeUnsupported, "unwrap requires wrapped-native input and native output")
		}
	default:
		return clierr.New(clierr.CodeUnsupported, "native provider does not support "+string(req.Kind))
	}
	return nil
}
