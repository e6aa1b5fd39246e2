package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DQYXACML/chaintrace/chain"
	"github.com/DQYXACML/chaintrace/chain/chaintest"
	"github.com/DQYXACML/chaintrace/common/errs"
	"github.com/DQYXACML/chaintrace/metrics"
	"github.com/DQYXACML/chaintrace/trace/risk"
)

func addr(n int) string { return fmt.Sprintf("0x%040x", n) }
func hash(n int) string { return fmt.Sprintf("0x%064x", n) }

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func transfer(h, from, to int, value int64, block uint64) chain.Transaction {
	return chain.Transaction{Hash: hash(h), From: addr(from), To: addr(to), Value: ether(value), BlockNumber: block}
}

func newTestOrchestrator(src chain.DataSource, opts Options) *Orchestrator {
	registry := chain.NewRegistry()
	registry.Register("ethereum", src)
	return NewOrchestrator(registry, risk.NewAnnotator(risk.DefaultReferences()), opts, nil)
}

func hashes(edges []*Edge) []string {
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.Hash
	}
	return out
}

func TestTraceDepthOneScenario(t *testing.T) {
	const a, b, c = 0xa, 0xb, 0xc
	src := chaintest.New().
		AddTransaction(transfer(1, a, b, 5, 100), nil).
		AddTransaction(transfer(2, b, c, 200, 101), nil)

	o := newTestOrchestrator(src, Options{})
	res, err := o.Trace(context.Background(), Request{Chain: "ethereum", Seed: hash(1), MaxDepth: 1})
	require.NoError(t, err)

	require.Len(t, res.Edges, 1)
	e := res.Edges[0]
	assert.Equal(t, hash(1), e.Hash)
	assert.Equal(t, addr(a), e.From)
	assert.Equal(t, addr(b), e.To)
	assert.Equal(t, "5", e.Amount)
	assert.Equal(t, "ETH", e.Symbol)
	assert.Equal(t, 0, e.Depth)
	assert.Equal(t, DirectionOut, e.Direction)
	assert.Equal(t, 0, e.Score)
	assert.Equal(t, 0, e.Tags.Len())

	require.Len(t, res.Tree, 1)
	assert.Same(t, e, res.Tree[0].Edge)
	assert.Empty(t, res.Tree[0].Children)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, SeedTransaction, res.SeedKind)
	assert.Equal(t, "5", res.Summary.TotalVolume)

	// depth 1 never reaches B's activity
	assert.Equal(t, 0, src.Calls("activity"))
}

func TestTraceDepthTwoExpandsNeighbours(t *testing.T) {
	const a, b, c = 0xa, 0xb, 0xc
	src := chaintest.New().
		AddTransaction(transfer(1, a, b, 5, 100), nil).
		AddTransaction(transfer(2, b, c, 200, 101), nil)

	o := newTestOrchestrator(src, Options{})
	res, err := o.Trace(context.Background(), Request{Chain: "ethereum", Seed: hash(1), MaxDepth: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{hash(1), hash(2)}, hashes(res.Edges))
	child := res.Edges[1]
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, DirectionOut, child.Direction)
	assert.Equal(t, 30, child.Score)

	require.Len(t, res.Tree, 1)
	require.Len(t, res.Tree[0].Children, 1)
	assert.Same(t, child, res.Tree[0].Children[0].Edge)
}

func TestTraceTwoNodeCycle(t *testing.T) {
	const a, b = 0xa, 0xb
	src := chaintest.New().
		AddTransaction(transfer(1, a, b, 1, 1), nil).
		AddTransaction(transfer(2, b, a, 1, 2), nil)

	o := newTestOrchestrator(src, Options{})
	for _, depth := range []int{2, 3, 10} {
		res, err := o.Trace(context.Background(), Request{Chain: "ethereum", Seed: hash(1), MaxDepth: depth})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{hash(1), hash(2)}, hashes(res.Edges), "depth %d", depth)
	}
}

func TestTraceInDirectionUsesEdgeBlock(t *testing.T) {
	const a, b, x = 0xa, 0xb, 0x99
	src := chaintest.New().
		AddTransaction(transfer(1, x, a, 3, 50), nil).  // funds A before the seed
		AddTransaction(transfer(2, a, b, 1, 100), nil). // seed
		AddTransaction(transfer(3, x, a, 3, 150), nil)  // after the seed, invisible inward

	o := newTestOrchestrator(src, Options{})
	res, err := o.Trace(context.Background(), Request{Chain: "ethereum", Seed: hash(2), MaxDepth: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{hash(2), hash(1)}, hashes(res.Edges))
	assert.Equal(t, DirectionIn, res.Edges[1].Direction)
}

func randomGraph(seed int64, addresses, txs int) *chaintest.Source {
	rng := rand.New(rand.NewSource(seed))
	src := chaintest.New()
	for i := 1; i <= txs; i++ {
		from := rng.Intn(addresses) + 1
		to := rng.Intn(addresses) + 1
		src.AddTransaction(transfer(i, from, to, rng.Int63n(300), uint64(i)), nil)
	}
	return src
}

func collectTree(nodes []*Node, out map[*Edge]struct{}) {
	for _, n := range nodes {
		out[n.Edge] = struct{}{}
		collectTree(n.Children, out)
	}
}

func TestTraceInvariants(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		src := randomGraph(seed, 8, 80)
		o := newTestOrchestrator(src, Options{ActivityLimit: 6, BatchSize: 3})

		for _, depth := range []int{1, 2, 4} {
			res, err := o.Trace(context.Background(), Request{Chain: "ethereum", Seed: hash(1), MaxDepth: depth})
			require.NoError(t, err)

			seen := make(map[string]struct{})
			for _, e := range res.Edges {
				_, dup := seen[e.Hash]
				require.False(t, dup, "duplicate edge %s", e.Hash)
				seen[e.Hash] = struct{}{}
				assert.GreaterOrEqual(t, e.Depth, 0)
				assert.Less(t, e.Depth, depth)
			}

			inTree := make(map[*Edge]struct{})
			collectTree(res.Tree, inTree)
			assert.Len(t, inTree, len(res.Edges))
			for _, e := range res.Edges {
				_, ok := inTree[e]
				assert.True(t, ok)
			}
		}
	}
}

func TestTraceAddressSeed(t *testing.T) {
	const w, b, c = 0x77, 0xb, 0xc
	src := chaintest.New().
		AddTransaction(transfer(1, w, b, 1, 10), nil).
		AddTransaction(transfer(2, c, w, 2, 11), nil).
		AddTransaction(transfer(3, b, c, 3, 12), nil)

	o := newTestOrchestrator(src, Options{})
	res, err := o.Trace(context.Background(), Request{Chain: "ethereum", Seed: addr(w), MaxDepth: 1})
	require.NoError(t, err)

	assert.Equal(t, SeedAddress, res.SeedKind)
	require.Len(t, res.Tree, 2)
	assert.Equal(t, hash(2), res.Tree[0].Edge.Hash)
	assert.Equal(t, DirectionIn, res.Tree[0].Edge.Direction)
	assert.Equal(t, hash(1), res.Tree[1].Edge.Hash)
	assert.Equal(t, DirectionOut, res.Tree[1].Edge.Direction)
	for _, e := range res.Edges {
		assert.Equal(t, 0, e.Depth)
	}

	// activity transactions are served from the cache
	assert.Equal(t, 0, src.Calls("tx"))
}

func TestTraceAddressWithoutActivity(t *testing.T) {
	o := newTestOrchestrator(chaintest.New(), Options{})
	res, err := o.Trace(context.Background(), Request{Chain: "ethereum", Seed: addr(1), MaxDepth: 3})
	require.NoError(t, err)
	assert.Empty(t, res.Tree)
	assert.Empty(t, res.Edges)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, 0, res.Summary.EdgeCount)
}

func TestTraceSkipsUnresolvableNodes(t *testing.T) {
	t.Run("MissingRoot", func(t *testing.T) {
		o := newTestOrchestrator(chaintest.New(), Options{})
		res, err := o.Trace(context.Background(), Request{Chain: "ethereum", Seed: hash(404), MaxDepth: 2})
		require.NoError(t, err)
		assert.Empty(t, res.Edges)
		require.Len(t, res.Skipped, 1)
		assert.Equal(t, hash(404), res.Skipped[0].Hash)
		assert.Equal(t, "transaction not found", res.Skipped[0].Reason)
	})

	t.Run("MissingReceipt", func(t *testing.T) {
		src := chaintest.New().AddTransactionWithoutReceipt(transfer(1, 0xa, 0xb, 1, 1))
		o := newTestOrchestrator(src, Options{})
		res, err := o.Trace(context.Background(), Request{Chain: "ethereum", Seed: hash(1), MaxDepth: 1})
		require.NoError(t, err)
		require.Len(t, res.Edges, 1)
		assert.Zero(t, res.Edges[0].GasUsed)
		require.Len(t, res.Skipped, 1)
		assert.Equal(t, "receipt not found", res.Skipped[0].Reason)
	})

	t.Run("FailingActivity", func(t *testing.T) {
		src := chaintest.New().
			AddTransaction(transfer(1, 0xa, 0xb, 1, 1), nil).
			Fail(addr(0xb), errs.NewNetworkError("rate limited", errors.New("429")))
		o := newTestOrchestrator(src, Options{})
		res, err := o.Trace(context.Background(), Request{Chain: "ethereum", Seed: hash(1), MaxDepth: 3})
		require.NoError(t, err)
		require.Len(t, res.Edges, 1)
		require.Len(t, res.Skipped, 1)
		assert.Equal(t, addr(0xb), res.Skipped[0].Address)
		assert.Equal(t, 1, res.Skipped[0].Depth)
	})
}

func TestTraceSelfTransaction(t *testing.T) {
	src := chaintest.New().AddTransaction(transfer(1, 0xa, 0xa, 0, 1), nil)
	o := newTestOrchestrator(src, Options{})
	res, err := o.Trace(context.Background(), Request{Chain: "ethereum", Seed: hash(1), MaxDepth: 3})
	require.NoError(t, err)
	require.Len(t, res.Edges, 1)
	assert.True(t, res.Edges[0].Tags.Has(risk.TagSelfTransaction))
	assert.Equal(t, 1, src.Calls("activity"))
}

func TestTraceEdgeContext(t *testing.T) {
	const polygonBridge = "0xa0c68c638235ee32657e8f720a23cec1bfc77c77"
	src := chaintest.New().AddTransaction(chain.Transaction{
		Hash: hash(1), From: addr(0xa), To: polygonBridge, Value: ether(150), BlockNumber: 20, Input: []byte{1, 2, 3, 4},
	}, &chain.Receipt{Status: chain.ReceiptStatusSuccessful, GasUsed: 90000})
	for i := 0; i < 5; i++ {
		src.AddTokenTransfer(chain.TokenTransfer{
			TxHash: hash(100 + i), Token: addr(0xfeed), From: addr(0xa), To: polygonBridge,
			Value: big.NewInt(int64(i)), BlockNumber: uint64(10 + i),
		})
	}

	o := newTestOrchestrator(src, Options{})
	res, err := o.Trace(context.Background(), Request{Chain: "ethereum", Seed: hash(1), MaxDepth: 1})
	require.NoError(t, err)
	require.Len(t, res.Edges, 1)

	e := res.Edges[0]
	assert.Equal(t, "Polygon PoS Bridge", e.BridgeLabel)
	assert.Equal(t, uint64(90000), e.GasUsed)
	assert.Len(t, e.TokenTransfers, DefaultTokenSampleSize)
	assert.True(t, e.Tags.Has(risk.TagBridge))
	assert.Equal(t, 95, e.Score)
	assert.Equal(t, 1, res.Summary.BridgeCount)
	assert.Equal(t, []string{addr(0xa), polygonBridge}, res.Summary.FlaggedAddresses)
}

func TestTraceBatchConcurrency(t *testing.T) {
	const w = 0x77
	build := func() *chaintest.Source {
		src := chaintest.New()
		for i := 1; i <= 12; i++ {
			src.AddTransaction(transfer(i, w, 0x100+i, 1, uint64(i)), nil)
		}
		src.Delay = 10 * time.Millisecond
		return src
	}

	src := build()
	o := newTestOrchestrator(src, Options{BatchSize: 5, ActivityLimit: 20})
	res, err := o.Trace(context.Background(), Request{Chain: "ethereum", Seed: addr(w), MaxDepth: 1})
	require.NoError(t, err)
	assert.Len(t, res.Edges, 12)
	assert.LessOrEqual(t, src.MaxConcurrency(), 5)
	assert.Greater(t, src.MaxConcurrency(), 1)

	src = build()
	o = newTestOrchestrator(src, Options{BatchSize: 1, ActivityLimit: 20})
	_, err = o.Trace(context.Background(), Request{Chain: "ethereum", Seed: addr(w), MaxDepth: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, src.MaxConcurrency())
}

func TestTraceActivityLimit(t *testing.T) {
	const w = 0x77
	src := chaintest.New()
	for i := 1; i <= 30; i++ {
		src.AddTransaction(transfer(i, w, 0x100+i, 1, uint64(i)), nil)
	}
	o := newTestOrchestrator(src, Options{ActivityLimit: 100})
	assert.Equal(t, MaxActivityLimit, o.Options().ActivityLimit)

	res, err := o.Trace(context.Background(), Request{Chain: "ethereum", Seed: addr(w), MaxDepth: 1})
	require.NoError(t, err)
	assert.Len(t, res.Edges, MaxActivityLimit)
}

// unboundedSource returns every matching transaction regardless of limit.
type unboundedSource struct {
	*chaintest.Source
}

func (u unboundedSource) GetAddressActivity(ctx context.Context, address string, _ int, beforeBlock uint64) ([]chain.Transaction, error) {
	return u.Source.GetAddressActivity(ctx, address, 1000, beforeBlock)
}

func TestTraceActivityLimitEnforcedOnSource(t *testing.T) {
	const w = 0x78
	src := chaintest.New()
	for i := 1; i <= 60; i++ {
		src.AddTransaction(transfer(i, w, 0x200+i, 1, uint64(i)), nil)
	}
	o := newTestOrchestrator(unboundedSource{src}, Options{ActivityLimit: 5})

	res, err := o.Trace(context.Background(), Request{Chain: "ethereum", Seed: addr(w), MaxDepth: 1})
	require.NoError(t, err)
	assert.Len(t, res.Edges, 5)
	assert.Len(t, res.Tree, 5)
}

func TestTraceCancelled(t *testing.T) {
	src := chaintest.New().AddTransaction(transfer(1, 0xa, 0xb, 1, 1), nil)
	o := newTestOrchestrator(src, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Trace(ctx, Request{Chain: "ethereum", Seed: hash(1), MaxDepth: 2})
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeCancelled, errs.TypeOf(err))
}

func TestTraceValidation(t *testing.T) {
	o := newTestOrchestrator(chaintest.New(), Options{MaxDepth: 5})
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"malformed seed", Request{Chain: "ethereum", Seed: "0xnothex", MaxDepth: 1}, "seed"},
		{"empty seed", Request{Chain: "ethereum", Seed: "", MaxDepth: 1}, "seed"},
		{"unknown chain", Request{Chain: "solana", Seed: hash(1), MaxDepth: 1}, "chain"},
		{"zero depth", Request{Chain: "ethereum", Seed: hash(1), MaxDepth: 0}, "maxDepth"},
		{"depth above limit", Request{Chain: "ethereum", Seed: hash(1), MaxDepth: 6}, "maxDepth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Trace(context.Background(), tt.req)
			require.Error(t, err)
			var te *errs.TraceError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, errs.ErrorTypeValidation, te.Type)
			assert.Equal(t, tt.field, te.Context["field"])
		})
	}
}

func TestTraceRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := chaintest.New().
		AddTransaction(transfer(1, 0xa, 0xb, 1, 1), nil).
		AddTransaction(transfer(2, 0xb, 0xc, 1, 2), nil)
	registry := chain.NewRegistry()
	registry.Register("ethereum", src)
	o := NewOrchestrator(registry, risk.NewAnnotator(risk.References{}), Options{}, metrics.New(reg))

	_, err := o.Trace(context.Background(), Request{Chain: "ethereum", Seed: hash(1), MaxDepth: 2})
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["chaintrace_trace_edges_total"])
	assert.True(t, names["chaintrace_trace_duration_seconds"])
	assert.True(t, names["chaintrace_cache_hits_total"])
}

func TestResultJSONRoundTrip(t *testing.T) {
	src := chaintest.New().
		AddTransaction(transfer(1, 0xa, 0xb, 1, 1), nil).
		AddTransaction(transfer(2, 0xb, 0xc, 1, 2), nil)
	o := newTestOrchestrator(src, Options{})
	res, err := o.Trace(context.Background(), Request{Chain: "ethereum", Seed: hash(1), MaxDepth: 2})
	require.NoError(t, err)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	var decoded Result
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, hashes(res.Edges), hashes(decoded.Edges))
	assert.Equal(t, res.Summary, decoded.Summary)
	assert.Equal(t, res.Edges[0].Tags, decoded.Edges[0].Tags)
}

func TestParseSeed(t *testing.T) {
	kind, seed, err := ParseSeed("  0x" + fmt.Sprintf("%064X", 0xabc) + " ")
	require.NoError(t, err)
	assert.Equal(t, SeedTransaction, kind)
	assert.Equal(t, hash(0xabc), seed)

	kind, seed, err = ParseSeed("0x00000000000000000000000000000000000000AA")
	require.NoError(t, err)
	assert.Equal(t, SeedAddress, kind)
	assert.Equal(t, addr(0xaa), seed)

	_, _, err = ParseSeed("00000000000000000000000000000000000000aa")
	assert.Error(t, err)
	_, _, err = ParseSeed("0x" + fmt.Sprintf("%063x", 1) + "g")
	assert.Error(t, err)
}
