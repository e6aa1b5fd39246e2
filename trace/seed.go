package trace

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/DQYXACML/chaintrace/chain"
	"github.com/DQYXACML/chaintrace/common/errs"
)

type SeedKind string

const (
	SeedTransaction SeedKind = "transaction"
	SeedAddress     SeedKind = "address"
)

// ParseSeed classifies seed as a transaction hash or an address and returns
// it normalized.
func ParseSeed(seed string) (SeedKind, string, error) {
	s := strings.TrimSpace(seed)
	switch {
	case isTxHash(s):
		return SeedTransaction, chain.NormalizeHash(s), nil
	case common.IsHexAddress(s) && strings.HasPrefix(strings.ToLower(s), "0x"):
		return SeedAddress, chain.NormalizeAddress(s), nil
	}
	return "", "", errs.NewValidationError("seed", "seed must be a 0x-prefixed transaction hash or address").
		AddContext("seed", seed)
}

func isTxHash(s string) bool {
	if len(s) != 2+2*common.HashLength || !strings.HasPrefix(strings.ToLower(s), "0x") {
		return false
	}
	for _, c := range s[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}
