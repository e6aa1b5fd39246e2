package risk

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarizeEmpty(t *testing.T) {
	for _, edges := range [][]Scored{nil, {}} {
		s := Summarize(edges)
		assert.Equal(t, 0, s.EdgeCount)
		assert.Zero(t, s.OverallRisk)
		assert.Equal(t, Distribution{}, s.Distribution)
		assert.Zero(t, s.BridgeCount)
		assert.Zero(t, s.MixerCount)
		assert.Zero(t, s.DEXCount)
		assert.Equal(t, "0", s.TotalVolume)
		assert.NotNil(t, s.FlaggedAddresses)
		assert.Empty(t, s.FlaggedAddresses)
	}
}

func sampleEdges() []Scored {
	return []Scored{
		{From: "0xa", To: "0xb", Amount: "5", Score: 0},
		{From: "0xb", To: "0xmixer", Amount: "10", Tags: NewTagSet(TagMixer, TagContractInteraction), Score: 85},
		{From: "0xb", To: "0xbridge", Amount: "0.25", Tags: NewTagSet(TagBridge), Score: 70},
		{From: "0xc", To: "0xdex", Amount: "1.5", Tags: NewTagSet(TagDEXInteraction, TagContractInteraction), Score: 55},
		{From: "0xd", To: "0xa", Amount: "0", Tags: NewTagSet(TagZeroValue), Score: 30},
		{From: "0xe", To: "0xf", Amount: "garbage", Score: 50},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleEdges())

	assert.Equal(t, 6, s.EdgeCount)
	assert.InDelta(t, 290.0/6.0, s.OverallRisk, 1e-9)
	assert.Equal(t, Distribution{Low: 1, Medium: 4, High: 1}, s.Distribution)
	assert.Equal(t, 1, s.BridgeCount)
	assert.Equal(t, 1, s.MixerCount)
	assert.Equal(t, 1, s.DEXCount)
	assert.Equal(t, "16.75", s.TotalVolume)
	assert.Equal(t, []string{"0xb", "0xbridge", "0xc", "0xdex", "0xmixer"}, s.FlaggedAddresses)
}

func TestSummarizePermutationInvariant(t *testing.T) {
	edges := sampleEdges()
	want := Summarize(edges)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]Scored(nil), edges...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.Equal(t, want, Summarize(shuffled))
	}
}
