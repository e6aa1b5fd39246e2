package trace

import (
	"time"

	"github.com/DQYXACML/chaintrace/chain"
	"github.com/DQYXACML/chaintrace/trace/risk"
)

// Direction is relative to the address the edge was discovered from.
type Direction string

const (
	DirectionOut Direction = "out"
	DirectionIn  Direction = "in"
)

// Edge is one observed transaction in a trace.
type Edge struct {
	Hash        string    `json:"hash"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Amount      string    `json:"amount"`
	Symbol      string    `json:"symbol"`
	Chain       string    `json:"chain"`
	BlockNumber uint64    `json:"blockNumber"`
	Direction   Direction `json:"direction"`
	Depth       int       `json:"depth"`

	Tags  risk.TagSet `json:"tags"`
	Score int         `json:"score"`

	GasUsed        uint64                `json:"gasUsed"`
	Failed         bool                  `json:"failed,omitempty"`
	BridgeLabel    string                `json:"bridgeLabel,omitempty"`
	TokenTransfers []chain.TokenTransfer `json:"tokenTransfers,omitempty"`
}

func (e *Edge) scored() risk.Scored {
	return risk.Scored{From: e.From, To: e.To, Amount: e.Amount, Tags: e.Tags, Score: e.Score}
}

// Node is an edge in the trace tree together with the edges expanded from it.
type Node struct {
	Edge     *Edge   `json:"edge"`
	Children []*Node `json:"children,omitempty"`
}

// SkippedNode records a transaction or address the run could not resolve.
type SkippedNode struct {
	Hash    string `json:"hash,omitempty"`
	Address string `json:"address,omitempty"`
	Depth   int    `json:"depth"`
	Reason  string `json:"reason"`
}

type Request struct {
	Chain    string
	Seed     string
	MaxDepth int
}

// Result is the output of one trace run. Every edge in Tree is also in
// Edges, which is in discovery order.
type Result struct {
	Chain     string        `json:"chain"`
	Seed      string        `json:"seed"`
	SeedKind  SeedKind      `json:"seedKind"`
	MaxDepth  int           `json:"maxDepth"`
	Tree      []*Node       `json:"tree"`
	Edges     []*Edge       `json:"edges"`
	Skipped   []SkippedNode `json:"skipped"`
	Summary   risk.Summary  `json:"summary"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// Summarize recomputes the risk summary from the flat edge list.
func Summarize(edges []*Edge) risk.Summary {
	scored := make([]risk.Scored, len(edges))
	for i, e := range edges {
		scored[i] = e.scored()
	}
	return risk.Summarize(scored)
}
