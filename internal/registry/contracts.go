package registry

// TaikoSwap (Uniswap V3 fork) deployments by chain ID.
var taikoSwapContractsByChainID = map[int64]struct {
	QuoterV2 string
	Router   string
}{
	167000: {
		QuoterV2: "0xcBa70D57be34aA26557B8E80135a9B7754680aDb",
		Router:   "0x1A0c3a0Cfd1791FAC7798FA2b05208B66aaadfeD",
	},
}

func TaikoSwapContracts(chainID int64) (quoterV2 string, router string, ok bool) {
	contracts, ok := taikoSwapContractsByChainID[chainID]
	if !ok {
		return "", "", false
	}
	return contracts.QuoterV2, contracts.Router, true
}
