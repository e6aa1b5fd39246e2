package risk

import "github.com/DQYXACML/chaintrace/chain"

// References are the static address lists the annotator matches against.
// Each map goes from a normalized address to a human readable label.
type References struct {
	Bridges map[string]string `yaml:"bridges"`
	Mixers  map[string]string `yaml:"mixers"`
	DEXes   map[string]string `yaml:"dexes"`
	Risky   map[string]string `yaml:"risky"`
}

// DefaultReferences returns well-known Ethereum mainnet addresses.
func DefaultReferences() References {
	return References{
		Bridges: map[string]string{
			"0xa0c68c638235ee32657e8f720a23cec1bfc77c77": "Polygon PoS Bridge",
			"0x4dbd4fc535ac27206064b68ffcf827b0a60bab3f": "Arbitrum Delayed Inbox",
			"0x99c9fc46f92e8a1c0dec1b1747d010903e884be1": "Optimism Gateway",
			"0x3ee18b2214aff97000d974cf647e7c347e8fa585": "Wormhole Token Bridge",
			"0x5c7bcd6e7de5423a257d81b442095a1a6ced35c5": "Across SpokePool",
		},
		Mixers: map[string]string{
			"0x12d66f87a04a9e220743712ce6d9bb1b5616b8fc": "Tornado Cash 0.1 ETH",
			"0x47ce0c6ed5b0ce3d3a51fdb1c52dc66a7c3c2936": "Tornado Cash 1 ETH",
			"0x910cbd523d972eb0a6f4cae4618ad62622b39dbf": "Tornado Cash 10 ETH",
			"0xa160cdab225685da1d56aa342ad8841c3b53f291": "Tornado Cash 100 ETH",
			"0xd90e2f925da726b50c4ed8d0fb90ad053324f31b": "Tornado Cash Router",
		},
		DEXes: map[string]string{
			"0x7a250d5630b4cf539739df2c5dacb4c659f2488d": "Uniswap V2 Router",
			"0xe592427a0aece92de3edee1f18e0157c05861564": "Uniswap V3 Router",
			"0x3fc91a3afd70395cd496c647d5a6cc9d4b2b7fad": "Uniswap Universal Router",
			"0xd9e1ce17f2641f24ae83637ab66a2cca9c378b9f": "SushiSwap Router",
			"0x1111111254eeb25477b68fb85ed929f73a960582": "1inch Aggregation Router V5",
		},
		Risky: map[string]string{
			"0x098b716b8aaf21512996dc57eb0615e2383e2f96": "Ronin Bridge Exploiter",
			"0x8589427373d6d84e98730d7795d8f6f8731fda16": "Tornado Cash Donate",
		},
	}
}

// Merge returns a copy of r extended with the entries of extra. Entries in
// extra win on conflict.
func (r References) Merge(extra References) References {
	return References{
		Bridges: mergeLabels(r.Bridges, extra.Bridges),
		Mixers:  mergeLabels(r.Mixers, extra.Mixers),
		DEXes:   mergeLabels(r.DEXes, extra.DEXes),
		Risky:   mergeLabels(r.Risky, extra.Risky),
	}
}

func (r References) normalized() References {
	return References{}.Merge(r)
}

func (r References) isBridge(addr string) bool { _, ok := r.Bridges[addr]; return ok }
func (r References) isMixer(addr string) bool  { _, ok := r.Mixers[addr]; return ok }
func (r References) isDEX(addr string) bool    { _, ok := r.DEXes[addr]; return ok }
func (r References) isRisky(addr string) bool  { _, ok := r.Risky[addr]; return ok }

func mergeLabels(sets ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, set := range sets {
		for addr, label := range set {
			out[chain.NormalizeAddress(addr)] = label
		}
	}
	return out
}
