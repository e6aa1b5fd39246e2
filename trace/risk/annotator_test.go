package risk

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DQYXACML/chaintrace/chain"
)

const (
	alice       = "0x00000000000000000000000000000000000000aa"
	bob         = "0x00000000000000000000000000000000000000bb"
	usdt        = "0xdac17f958d2ee523a2206206994597c13d831ec7"
	tornado10   = "0x910cbd523d972eb0a6f4cae4618ad62622b39dbf"
	polygon     = "0xA0c68C638235ee32657e8f720a23ceC1bFc77C77"
	uniswapV2   = "0x7a250d5630b4cf539739df2c5dacb4c659f2488d"
	roninHacker = "0x098b716b8aaf21512996dc57eb0615e2383e2f96"
)

func ether(n float64) *big.Int {
	v, _ := new(big.Float).Mul(big.NewFloat(n), big.NewFloat(1e18)).Int(nil)
	return v
}

func okReceipt(gas uint64) *chain.Receipt {
	return &chain.Receipt{Status: chain.ReceiptStatusSuccessful, GasUsed: gas}
}

func TestClassify(t *testing.T) {
	a := NewAnnotator(DefaultReferences())
	call := []byte{0x12, 0x34, 0x56, 0x78, 0x00}

	tests := []struct {
		name    string
		tx      chain.Transaction
		receipt *chain.Receipt
		tags    TagSet
		score   int
	}{
		{
			name:    "plain transfer below value tiers",
			tx:      chain.Transaction{From: alice, To: bob, Value: ether(5), Decimals: 18},
			receipt: okReceipt(21000),
			tags:    NewTagSet(),
			score:   0,
		},
		{
			name:    "medium value tier",
			tx:      chain.Transaction{From: alice, To: bob, Value: ether(50), Decimals: 18},
			receipt: okReceipt(21000),
			score:   20,
		},
		{
			name:    "exactly one hundred stays in medium tier",
			tx:      chain.Transaction{From: alice, To: bob, Value: ether(100), Decimals: 18},
			receipt: okReceipt(21000),
			score:   20,
		},
		{
			name:    "large value tier",
			tx:      chain.Transaction{From: alice, To: bob, Value: ether(100.5), Decimals: 18},
			receipt: okReceipt(21000),
			score:   30,
		},
		{
			name:    "mixer deposit",
			tx:      chain.Transaction{From: alice, To: tornado10, Value: ether(10), Decimals: 18, Input: call},
			receipt: okReceipt(900000),
			tags:    NewTagSet(TagMixer, TagContractInteraction, TagHighGasUsage),
			score:   100,
		},
		{
			name:    "bridge with large value",
			tx:      chain.Transaction{From: alice, To: polygon, Value: ether(150), Decimals: 18, Input: call},
			receipt: okReceipt(80000),
			tags:    NewTagSet(TagBridge, TagContractInteraction),
			score:   95,
		},
		{
			name:    "dex swap",
			tx:      chain.Transaction{From: alice, To: uniswapV2, Value: ether(1), Decimals: 18, Input: call},
			receipt: okReceipt(150000),
			tags:    NewTagSet(TagDEXInteraction, TagContractInteraction),
			score:   55,
		},
		{
			name:    "risky sender",
			tx:      chain.Transaction{From: roninHacker, To: bob, Value: ether(1), Decimals: 18},
			receipt: okReceipt(21000),
			tags:    NewTagSet(TagRiskyAddress),
			score:   10,
		},
		{
			name:    "failed high gas call",
			tx:      chain.Transaction{From: alice, To: bob, Value: ether(1), Decimals: 18, Input: call},
			receipt: &chain.Receipt{Status: chain.ReceiptStatusFailed, GasUsed: 600000},
			tags:    NewTagSet(TagContractInteraction, TagHighGasUsage, TagSuspiciousPattern),
			score:   100,
		},
		{
			name: "zero value transferFrom",
			tx: chain.Transaction{From: alice, To: usdt, Value: big.NewInt(0), Decimals: 18,
				Input: []byte{0x23, 0xb8, 0x72, 0xdd, 0x00}},
			receipt: okReceipt(50000),
			tags:    NewTagSet(TagContractInteraction, TagZeroValue, TagSuspiciousPattern),
			score:   85,
		},
		{
			name:    "self transaction",
			tx:      chain.Transaction{From: alice, To: "0x00000000000000000000000000000000000000AA", Value: big.NewInt(0), Decimals: 18},
			receipt: okReceipt(21000),
			tags:    NewTagSet(TagZeroValue, TagSelfTransaction),
			score:   20,
		},
		{
			name:    "contract creation",
			tx:      chain.Transaction{From: alice, Value: big.NewInt(0), Decimals: 18, Input: call},
			receipt: &chain.Receipt{Status: chain.ReceiptStatusSuccessful, GasUsed: 300000, ContractAddress: bob},
			tags:    NewTagSet(TagContractCreation, TagZeroValue),
			score:   20,
		},
		{
			name:  "missing receipt skips gas tags",
			tx:    chain.Transaction{From: alice, To: bob, Value: ether(1), Decimals: 18},
			score: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := a.Classify(&tt.tx, tt.receipt)
			assert.Equal(t, tt.tags.Strings(), c.Tags.Strings())
			assert.Equal(t, tt.score, c.Score)
			assert.GreaterOrEqual(t, c.Score, 0)
			assert.LessOrEqual(t, c.Score, MaxScore)
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	a := NewAnnotator(DefaultReferences())
	tx := &chain.Transaction{From: alice, To: tornado10, Value: ether(12), Decimals: 18, Input: []byte{1, 2, 3, 4}}
	receipt := okReceipt(21000)

	first := a.Classify(tx, receipt)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, a.Classify(tx, receipt))
	}
	assert.Equal(t, first, NewAnnotator(DefaultReferences()).Classify(tx, receipt))
}

func TestClassifyNilTransaction(t *testing.T) {
	assert.Equal(t, Classification{}, NewAnnotator(References{}).Classify(nil, nil))
}

func TestBridgeLabel(t *testing.T) {
	refs := DefaultReferences().Merge(References{
		Bridges: map[string]string{"0x00000000000000000000000000000000000000CC": "Test Bridge"},
	})
	a := NewAnnotator(refs)

	label, ok := a.BridgeLabel(polygon)
	require.True(t, ok)
	assert.Equal(t, "Polygon PoS Bridge", label)

	label, ok = a.BridgeLabel("0x00000000000000000000000000000000000000cc")
	require.True(t, ok)
	assert.Equal(t, "Test Bridge", label)

	_, ok = a.BridgeLabel(bob)
	assert.False(t, ok)
}

func TestTagSet(t *testing.T) {
	s := NewTagSet(TagMixer, TagBridge, TagMixer)
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has(TagBridge))
	assert.False(t, s.Has(TagZeroValue))
	assert.Equal(t, []Tag{TagBridge, TagMixer}, s.Tags())
	assert.Equal(t, "[BRIDGE MIXER]", s.String())
	assert.Equal(t, s, s.Add(numTags))

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `["BRIDGE","MIXER"]`, string(data))

	var decoded TagSet
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, s, decoded)

	assert.Error(t, json.Unmarshal([]byte(`["NOPE"]`), &decoded))

	data, err = json.Marshal(TagSet(0))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	assert.Len(t, AllTags(), 10)
	for _, tag := range AllTags() {
		parsed, err := ParseTag(tag.String())
		require.NoError(t, err)
		assert.Equal(t, tag, parsed)
	}
}
