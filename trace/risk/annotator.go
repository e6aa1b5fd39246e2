// Package risk classifies transactions into risk tags and reduces classified
// edges into a summary. Everything here is pure and deterministic.
package risk

import (
	"bytes"
	"math/big"

	"github.com/DQYXACML/chaintrace/chain"
	"github.com/DQYXACML/chaintrace/common/bigint"
)

const (
	MaxScore = 100

	// HighGasThreshold is the gas used above which a transaction is tagged
	// HIGH_GAS_USAGE.
	HighGasThreshold = 500000

	scorePerTag = 10
)

var tagBonus = map[Tag]int{
	TagMixer:               50,
	TagBridge:              30,
	TagSuspiciousPattern:   40,
	TagDEXInteraction:      20,
	TagContractInteraction: 15,
	TagHighGasUsage:        25,
}

var (
	largeValue  = big.NewRat(100, 1)
	mediumValue = big.NewRat(10, 1)

	// ERC-20 transferFrom(address,address,uint256)
	transferFromSelector = []byte{0x23, 0xb8, 0x72, 0xdd}
)

type Classification struct {
	Tags  TagSet `json:"tags"`
	Score int    `json:"score"`
}

// Annotator classifies transactions against fixed reference address sets.
type Annotator struct {
	refs References
}

func NewAnnotator(refs References) *Annotator {
	return &Annotator{refs: refs.normalized()}
}

// Classify tags tx and scores it. receipt may be nil when the transaction has
// not been mined; receipt based tags are then skipped.
func (a *Annotator) Classify(tx *chain.Transaction, receipt *chain.Receipt) Classification {
	if tx == nil {
		return Classification{}
	}
	from := chain.NormalizeAddress(tx.From)
	to := chain.NormalizeAddress(tx.To)

	var tags TagSet
	if to != "" && a.refs.isBridge(to) {
		tags = tags.Add(TagBridge)
	}
	if a.refs.isMixer(from) || (to != "" && a.refs.isMixer(to)) {
		tags = tags.Add(TagMixer)
	}
	if to != "" && a.refs.isDEX(to) {
		tags = tags.Add(TagDEXInteraction)
	}
	if a.refs.isRisky(from) || (to != "" && a.refs.isRisky(to)) {
		tags = tags.Add(TagRiskyAddress)
	}

	if to == "" || (receipt != nil && receipt.ContractAddress != "") {
		tags = tags.Add(TagContractCreation)
	} else if len(tx.Input) >= 4 {
		tags = tags.Add(TagContractInteraction)
	}

	highGas := receipt != nil && receipt.GasUsed > HighGasThreshold
	if highGas {
		tags = tags.Add(TagHighGasUsage)
	}
	zeroValue := tx.Value == nil || tx.Value.Sign() == 0
	if zeroValue {
		tags = tags.Add(TagZeroValue)
	}
	if to != "" && from == to {
		tags = tags.Add(TagSelfTransaction)
	}

	if (highGas && receipt.Failed()) || (zeroValue && bytes.HasPrefix(tx.Input, transferFromSelector)) {
		tags = tags.Add(TagSuspiciousPattern)
	}

	return Classification{Tags: tags, Score: score(tags, tx)}
}

// BridgeLabel returns the name of the bridge at address, if it is one.
func (a *Annotator) BridgeLabel(address string) (string, bool) {
	label, ok := a.refs.Bridges[chain.NormalizeAddress(address)]
	return label, ok
}

func score(tags TagSet, tx *chain.Transaction) int {
	s := scorePerTag * tags.Len()
	for _, t := range tags.Tags() {
		s += tagBonus[t]
	}

	value := bigint.ToRat(tx.Value, tx.Decimals)
	switch {
	case value.Cmp(largeValue) > 0:
		s += 30
	case value.Cmp(mediumValue) > 0:
		s += 20
	}

	if s < 0 {
		return 0
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}
