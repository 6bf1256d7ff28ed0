package id

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
)

var (
	eip155ChainPattern     = regexp.MustCompile(`^eip155:[0-9]+$`)
	solanaChainPattern     = regexp.MustCompile(`^solana:[1-9A-HJ-NP-Za-km-z]{32,44}$`)
	evmAddressPattern      = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	solanaAddressPattern   = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
	tonFriendlyPattern     = regexp.MustCompile(`^[EUk0][Qf][A-Za-z0-9_-]{46}$`)
	tonRawAddressPattern   = regexp.MustCompile(`^-?[0-9]+:[0-9a-fA-F]{64}$`)
	tronAddressPattern     = regexp.MustCompile(`^T[1-9A-HJ-NP-Za-km-z]{33}$`)
	caip19AssetPattern     = regexp.MustCompile(`^([a-z0-9]+:[-A-Za-z0-9]+)/([a-z0-9]+):([A-Za-z0-9_:-]+)$`)
	evmNativeTokenAddress  = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
	nonEVMNativeTokenLabel = "native"
)

const (
	solanaMainnetRef = "5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	solanaDevnetRef  = "EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
)

const (
	solanaMainnetCAIP2 = "solana:" + solanaMainnetRef
	solanaDevnetCAIP2  = "solana:" + solanaDevnetRef
	tonMainnetCAIP2    = "ton:mainnet"
	tronMainnetCAIP2   = "tron:mainnet"
)

// Family is the blockchain ecosystem a chain belongs to. It decides which
// wallet has to sign transactions originating on that chain.
type Family string

const (
	FamilyEVM    Family = "evm"
	FamilyTON    Family = "ton"
	FamilyTRON   Family = "tron"
	FamilySolana Family = "solana"
	FamilyNone   Family = "none"
)

func ParseFamily(input string) (Family, error) {
	switch Family(strings.ToLower(strings.TrimSpace(input))) {
	case FamilyEVM:
		return FamilyEVM, nil
	case FamilyTON:
		return FamilyTON, nil
	case FamilyTRON:
		return FamilyTRON, nil
	case FamilySolana:
		return FamilySolana, nil
	}
	return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported wallet family: %s", input))
}

type Chain struct {
	Name       string
	Slug       string
	CAIP2      string
	EVMChainID int64
}

func (c Chain) Namespace() string {
	return chainNamespace(c.CAIP2)
}

func (c Chain) Family() Family {
	return familyOf(c.CAIP2)
}

func (c Chain) IsEVM() bool {
	return c.Family() == FamilyEVM
}

func (c Chain) IsSolana() bool {
	return c.Family() == FamilySolana
}

type Asset struct {
	ChainID  string
	AssetID  string
	Address  string
	Symbol   string
	Decimals int
	Native   bool
}

type Token struct {
	Symbol   string
	Address  string
	Decimals int
	Native   bool
}

var chainBySlug = map[string]Chain{
	"ethereum":       {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1},
	"mainnet":        {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1},
	"base":           {Name: "Base", Slug: "base", CAIP2: "eip155:8453", EVMChainID: 8453},
	"arbitrum":       {Name: "Arbitrum", Slug: "arbitrum", CAIP2: "eip155:42161", EVMChainID: 42161},
	"optimism":       {Name: "Optimism", Slug: "optimism", CAIP2: "eip155:10", EVMChainID: 10},
	"polygon":        {Name: "Polygon", Slug: "polygon", CAIP2: "eip155:137", EVMChainID: 137},
	"avalanche":      {Name: "Avalanche", Slug: "avalanche", CAIP2: "eip155:43114", EVMChainID: 43114},
	"bsc":            {Name: "BSC", Slug: "bsc", CAIP2: "eip155:56", EVMChainID: 56},
	"taiko":          {Name: "Taiko", Slug: "taiko", CAIP2: "eip155:167000", EVMChainID: 167000},
	"solana":         {Name: "Solana", Slug: "solana", CAIP2: solanaMainnetCAIP2},
	"solana-mainnet": {Name: "Solana", Slug: "solana", CAIP2: solanaMainnetCAIP2},
	"solana-devnet":  {Name: "Solana Devnet", Slug: "solana-devnet", CAIP2: solanaDevnetCAIP2},
	"ton":            {Name: "TON", Slug: "ton", CAIP2: tonMainnetCAIP2},
	"tron":           {Name: "TRON", Slug: "tron", CAIP2: tronMainnetCAIP2},
}

var chainByID = map[int64]Chain{
	1:      chainBySlug["ethereum"],
	10:     chainBySlug["optimism"],
	56:     chainBySlug["bsc"],
	137:    chainBySlug["polygon"],
	8453:   chainBySlug["base"],
	42161:  chainBySlug["arbitrum"],
	43114:  chainBySlug["avalanche"],
	167000: chainBySlug["taiko"],
}

var chainByCAIP2 = func() map[string]Chain {
	out := make(map[string]Chain, len(chainBySlug))
	for _, chain := range chainBySlug {
		out[chain.CAIP2] = chain
	}
	return out
}()

// Small bootstrap registry for deterministic asset parsing on supported chains.
var tokenRegistry = map[string][]Token{
	"eip155:1": {
		{Symbol: "ETH", Address: evmNativeTokenAddress, Decimals: 18, Native: true},
		{Symbol: "USDC", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
		{Symbol: "USDT", Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Decimals: 6},
		{Symbol: "DAI", Address: "0x6b175474e89094c44da98b954eedeac495271d0f", Decimals: 18},
		{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
	},
	"eip155:8453": {
		{Symbol: "ETH", Address: evmNativeTokenAddress, Decimals: 18, Native: true},
		{Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
		{Symbol: "DAI", Address: "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", Decimals: 18},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	"eip155:42161": {
		{Symbol: "ETH", Address: evmNativeTokenAddress, Decimals: 18, Native: true},
		{Symbol: "USDC", Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
		{Symbol: "USDT", Address: "0xFd086bC7CD5C481DCC9C85ebe478A1C0b69FCbb9", Decimals: 6},
		{Symbol: "DAI", Address: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", Decimals: 18},
		{Symbol: "WETH", Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18},
	},
	"eip155:10": {
		{Symbol: "ETH", Address: evmNativeTokenAddress, Decimals: 18, Native: true},
		{Symbol: "USDC", Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Decimals: 6},
		{Symbol: "USDT", Address: "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58", Decimals: 6},
		{Symbol: "DAI", Address: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", Decimals: 18},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	"eip155:137": {
		{Symbol: "POL", Address: evmNativeTokenAddress, Decimals: 18, Native: true},
		{Symbol: "USDC", Address: "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359", Decimals: 6},
		{Symbol: "USDT", Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Decimals: 6},
		{Symbol: "WPOL", Address: "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270", Decimals: 18},
		{Symbol: "WETH", Address: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619", Decimals: 18},
	},
	"eip155:56": {
		{Symbol: "BNB", Address: evmNativeTokenAddress, Decimals: 18, Native: true},
		{Symbol: "USDC", Address: "0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d", Decimals: 18},
		{Symbol: "USDT", Address: "0x55d398326f99059fF775485246999027B3197955", Decimals: 18},
		{Symbol: "WBNB", Address: "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c", Decimals: 18},
	},
	"eip155:43114": {
		{Symbol: "AVAX", Address: evmNativeTokenAddress, Decimals: 18, Native: true},
		{Symbol: "USDC", Address: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Decimals: 6},
		{Symbol: "USDT", Address: "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7", Decimals: 6},
		{Symbol: "WAVAX", Address: "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7", Decimals: 18},
	},
	"eip155:167000": {
		{Symbol: "ETH", Address: evmNativeTokenAddress, Decimals: 18, Native: true},
		{Symbol: "USDC", Address: "0x07d83526730c7438048D55A4fc0b850e2aaB6f0b", Decimals: 6},
		{Symbol: "WETH", Address: "0xA51894664A773981C6C112C43ce576f315d5b1B6", Decimals: 18},
		{Symbol: "TAIKO", Address: "0xA9d23408b9bA935c230493c40C73824Df71A0975", Decimals: 18},
	},
	solanaMainnetCAIP2: {
		{Symbol: "SOL", Address: "So11111111111111111111111111111111111111112", Decimals: 9, Native: true},
		{Symbol: "USDC", Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6},
		{Symbol: "USDT", Address: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Decimals: 6},
		{Symbol: "JUP", Address: "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN", Decimals: 6},
	},
	tonMainnetCAIP2: {
		{Symbol: "TON", Address: nonEVMNativeTokenLabel, Decimals: 9, Native: true},
		{Symbol: "USDT", Address: "EQCxE6mUtQJKFnGfaROTKOt1lZbDiiX1kCixRv7Nw2Id_sDs", Decimals: 6},
	},
	tronMainnetCAIP2: {
		{Symbol: "TRX", Address: nonEVMNativeTokenLabel, Decimals: 6, Native: true},
		{Symbol: "USDT", Address: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", Decimals: 6},
	},
}

// wrappedNativeSymbol lists the canonical wrapped-native token per EVM chain.
var wrappedNativeSymbol = map[string]string{
	"eip155:1":      "WETH",
	"eip155:8453":   "WETH",
	"eip155:42161":  "WETH",
	"eip155:10":     "WETH",
	"eip155:137":    "WPOL",
	"eip155:56":     "WBNB",
	"eip155:43114":  "WAVAX",
	"eip155:167000": "WETH",
}

func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)

	if chain, ok := chainBySlug[norm]; ok {
		return chain, nil
	}
	if chain, ok := chainByCAIP2[norm]; ok {
		return chain, nil
	}

	if eip155ChainPattern.MatchString(norm) {
		parts := strings.Split(norm, ":")
		id, _ := strconv.ParseInt(parts[1], 10, 64)
		if known, ok := chainByID[id]; ok {
			return known, nil
		}
		return Chain{Name: fmt.Sprintf("EVM-%d", id), Slug: fmt.Sprintf("evm-%d", id), CAIP2: norm, EVMChainID: id}, nil
	}

	if solanaChainPattern.MatchString(raw) {
		if known, ok := chainByCAIP2[raw]; ok {
			return known, nil
		}
		return Chain{Name: "Solana", Slug: "solana-custom", CAIP2: raw}, nil
	}

	if id, err := strconv.ParseInt(norm, 10, 64); err == nil {
		if chain, ok := chainByID[id]; ok {
			return chain, nil
		}
		return Chain{Name: fmt.Sprintf("EVM-%d", id), Slug: fmt.Sprintf("evm-%d", id), CAIP2: fmt.Sprintf("eip155:%d", id), EVMChainID: id}, nil
	}

	return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain input: %s", input))
}

func ParseAsset(input string, chain Chain) (Asset, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Asset{}, clierr.New(clierr.CodeUsage, "asset is required")
	}

	if strings.Contains(raw, "/") {
		m := caip19AssetPattern.FindStringSubmatch(raw)
		if m == nil {
			return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid CAIP-19 asset format: %s", input))
		}
		if m[1] != chain.CAIP2 {
			return Asset{}, clierr.New(clierr.CodeUsage, "asset chain does not match network")
		}
		namespace := m[2]
		address := m[3]
		if namespace != assetNamespace(chain.CAIP2, address) {
			return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid CAIP-19 asset format: %s", input))
		}
		if address != nonEVMNativeTokenLabel && !ValidAddress(chain.Family(), address) {
			return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid CAIP-19 asset format: %s", input))
		}
		return assetFromAddress(chain, address), nil
	}

	if ValidAddress(chain.Family(), raw) {
		return assetFromAddress(chain, raw), nil
	}

	matches := findTokensBySymbol(chain.CAIP2, raw)
	if len(matches) == 0 {
		return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s not found in registry for chain %s", input, chain.CAIP2))
	}
	if len(matches) > 1 {
		addresses := make([]string, 0, len(matches))
		for _, m := range matches {
			addresses = append(addresses, m.Address)
		}
		sort.Strings(addresses)
		return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s is ambiguous on chain %s, use address or CAIP-19 (%s)", input, chain.CAIP2, strings.Join(addresses, ", ")))
	}
	return assetFromToken(chain, matches[0]), nil
}

// WrappedNative returns the wrapped-native token of an EVM chain.
func WrappedNative(chain Chain) (Asset, bool) {
	symbol, ok := wrappedNativeSymbol[chain.CAIP2]
	if !ok {
		return Asset{}, false
	}
	t, ok := KnownToken(chain.CAIP2, symbol)
	if !ok {
		return Asset{}, false
	}
	return assetFromToken(chain, t), true
}

// ValidAddress reports whether addr is a well-formed account or token address for the family.
func ValidAddress(family Family, addr string) bool {
	addr = strings.TrimSpace(addr)
	switch family {
	case FamilyEVM:
		return evmAddressPattern.MatchString(addr)
	case FamilySolana:
		return solanaAddressPattern.MatchString(addr)
	case FamilyTON:
		return tonFriendlyPattern.MatchString(addr) || tonRawAddressPattern.MatchString(addr)
	case FamilyTRON:
		return tronAddressPattern.MatchString(addr)
	default:
		return false
	}
}

func assetFromAddress(chain Chain, address string) Asset {
	if t, ok := findTokenByAddress(chain.CAIP2, address); ok {
		return assetFromToken(chain, t)
	}
	addr := normalizeTokenAddress(chain.CAIP2, address)
	return Asset{ChainID: chain.CAIP2, AssetID: canonicalAssetID(chain.CAIP2, addr), Address: addr}
}

func assetFromToken(chain Chain, t Token) Asset {
	addr := normalizeTokenAddress(chain.CAIP2, t.Address)
	return Asset{
		ChainID:  chain.CAIP2,
		AssetID:  canonicalAssetID(chain.CAIP2, addr),
		Address:  addr,
		Symbol:   strings.ToUpper(t.Symbol),
		Decimals: t.Decimals,
		Native:   t.Native,
	}
}

func chainNamespace(caip2 string) string {
	parts := strings.SplitN(strings.TrimSpace(caip2), ":", 2)
	if len(parts) != 2 {
		return ""
	}
	return strings.ToLower(parts[0])
}

func familyOf(caip2 string) Family {
	switch chainNamespace(caip2) {
	case "eip155":
		return FamilyEVM
	case "solana":
		return FamilySolana
	case "ton":
		return FamilyTON
	case "tron":
		return FamilyTRON
	default:
		return FamilyNone
	}
}

func assetNamespace(chainID, address string) string {
	if address == nonEVMNativeTokenLabel {
		return "native"
	}
	switch familyOf(chainID) {
	case FamilyEVM:
		return "erc20"
	case FamilySolana:
		return "token"
	case FamilyTON:
		return "jetton"
	case FamilyTRON:
		return "trc20"
	default:
		return "asset"
	}
}

func canonicalAssetID(chainID, address string) string {
	address = strings.TrimSpace(address)
	if familyOf(chainID) == FamilyEVM {
		address = strings.ToLower(address)
	}
	return fmt.Sprintf("%s/%s:%s", chainID, assetNamespace(chainID, address), address)
}

func normalizeTokenAddress(chainID, address string) string {
	address = strings.TrimSpace(address)
	if familyOf(chainID) == FamilyEVM {
		return strings.ToLower(address)
	}
	return address
}

func tokenAddressEqual(chainID, a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if familyOf(chainID) == FamilyEVM {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func findTokenByAddress(chainID, address string) (Token, bool) {
	for _, t := range tokenRegistry[chainID] {
		if tokenAddressEqual(chainID, t.Address, address) {
			return t, true
		}
	}
	return Token{}, false
}

func findTokensBySymbol(chainID, symbol string) []Token {
	matches := []Token{}
	for _, t := range tokenRegistry[chainID] {
		if strings.EqualFold(t.Symbol, symbol) {
			matches = append(matches, t)
		}
	}
	return matches
}

func KnownToken(chainID, symbol string) (Token, bool) {
	matches := findTokensBySymbol(chainID, symbol)
	if len(matches) != 1 {
		return Token{}, false
	}
	return matches[0], true
}

// KnownAsset resolves a registry symbol on chain into an Asset.
func KnownAsset(chain Chain, symbol string) (Asset, bool) {
	t, ok := KnownToken(chain.CAIP2, symbol)
	if !ok {
		return Asset{}, false
	}
	return assetFromToken(chain, t), true
}

func LookupByAddress(chainID, address string) (Token, bool) {
	return findTokenByAddress(chainID, normalizeTokenAddress(chainID, address))
}
