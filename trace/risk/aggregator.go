package risk

import (
	"math/big"
	"sort"

	"github.com/DQYXACML/chaintrace/common/bigint"
)

const (
	// SuspiciousThreshold is the edge score above which both endpoints are
	// flagged.
	SuspiciousThreshold = 50

	lowBucketMax  = 30
	highBucketMin = 70

	volumePrecision = 18
)

// Scored is the part of a traced edge the aggregator reduces over. Amount is
// a decimal string in whole native units.
type Scored struct {
	From   string
	To     string
	Amount string
	Tags   TagSet
	Score  int
}

type Distribution struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

type Summary struct {
	EdgeCount        int          `json:"edgeCount"`
	OverallRisk      float64      `json:"overallRisk"`
	Distribution     Distribution `json:"distribution"`
	BridgeCount      int          `json:"bridgeCount"`
	MixerCount       int          `json:"mixerCount"`
	DEXCount         int          `json:"dexCount"`
	TotalVolume      string       `json:"totalVolume"`
	FlaggedAddresses []string     `json:"flaggedAddresses"`
}

// Summarize reduces edges into a Summary. The result does not depend on the
// order of edges. Amounts that do not parse as decimals count as zero.
func Summarize(edges []Scored) Summary {
	summary := Summary{
		EdgeCount:        len(edges),
		TotalVolume:      "0",
		FlaggedAddresses: []string{},
	}
	if len(edges) == 0 {
		return summary
	}

	var (
		total   int
		volume  = new(big.Rat)
		flagged = make(map[string]struct{})
	)
	for _, e := range edges {
		total += e.Score
		switch {
		case e.Score < lowBucketMax:
			summary.Distribution.Low++
		case e.Score > highBucketMin:
			summary.Distribution.High++
		default:
			summary.Distribution.Medium++
		}

		if e.Tags.Has(TagBridge) {
			summary.BridgeCount++
		}
		if e.Tags.Has(TagMixer) {
			summary.MixerCount++
		}
		if e.Tags.Has(TagDEXInteraction) {
			summary.DEXCount++
		}

		if amount, ok := new(big.Rat).SetString(e.Amount); ok {
			volume.Add(volume, amount)
		}

		if e.Score > SuspiciousThreshold {
			for _, addr := range []string{e.From, e.To} {
				if addr != "" {
					flagged[addr] = struct{}{}
				}
			}
		}
	}

	summary.OverallRisk = float64(total) / float64(len(edges))
	summary.TotalVolume = bigint.FormatRat(volume, volumePrecision)
	for addr := range flagged {
		summary.FlaggedAddresses = append(summary.FlaggedAddresses, addr)
	}
	sort.Strings(summary.FlaggedAddresses)
	return summary
}
