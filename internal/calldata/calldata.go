// Package calldata packs the EVM call payloads crossroute hands to wallets
// for approvals, token transfers and native wrapping.
package calldata

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/registry"
)

var (
	erc20ABI         = mustABI(registry.ERC20MinimalABI)
	wrappedNativeABI = mustABI(registry.WrappedNativeABI)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func ERC20Approve(spender, amountBaseUnits string) (string, error) {
	addr, err := address("spender", spender)
	if err != nil {
		return "", err
	}
	amount, err := positiveAmount(amountBaseUnits)
	if err != nil {
		return "", err
	}
	data, err := erc20ABI.Pack("approve", addr, amount)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "pack approve calldata", err)
	}
	return hexutil.Encode(data), nil
}

func ERC20Transfer(to, amountBaseUnits string) (string, error) {
	addr, err := address("recipient", to)
	if err != nil {
		return "", err
	}
	amount, err := positiveAmount(amountBaseUnits)
	if err != nil {
		return "", err
	}
	data, err := erc20ABI.Pack("transfer", addr, amount)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "pack transfer calldata", err)
	}
	return hexutil.Encode(data), nil
}

// WrapDeposit returns the calldata of WETH-style deposit(); the amount
// travels as the transaction value.
func WrapDeposit() (string, error) {
	data, err := wrappedNativeABI.Pack("deposit")
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "pack deposit calldata", err)
	}
	return hexutil.Encode(data), nil
}

func WrapWithdraw(amountBaseUnits string) (string, error) {
	amount, err := positiveAmount(amountBaseUnits)
	if err != nil {
		return "", err
	}
	data, err := wrappedNativeABI.Pack("withdraw", amount)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "pack withdraw calldata", err)
	}
	return hexutil.Encode(data), nil
}

func address(field, v string) (common.Address, error) {
	clean := strings.TrimSpace(v)
	if !common.IsHexAddress(clean) {
		return common.Address{}, clierr.New(clierr.CodeUsage, field+" must be a valid EVM address")
	}
	return common.HexToAddress(clean), nil
}

func positiveAmount(v string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "amount must be a positive integer in base units")
	}
	return amount, nil
}
