// Package trace walks the transaction graph around a seed transaction or
// address. A run is bounded by depth, by a per-node activity sample and by
// per-run visited sets, and fans out in fixed-size concurrent batches.
package trace

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/DQYXACML/chaintrace/chain"
	"github.com/DQYXACML/chaintrace/common/errs"
	"github.com/DQYXACML/chaintrace/metrics"
	"github.com/DQYXACML/chaintrace/trace/cache"
	"github.com/DQYXACML/chaintrace/trace/risk"
)

const (
	MaxDepthCap      = 10
	MaxActivityLimit = 20

	DefaultMaxDepth        = 5
	DefaultActivityLimit   = 15
	DefaultTokenSampleSize = 3
	DefaultBatchSize       = 5
)

var tracer = otel.Tracer("chaintrace/trace")

type Options struct {
	// MaxDepth is the largest depth a request may ask for.
	MaxDepth int
	// ActivityLimit bounds the recent activity fetched per address.
	ActivityLimit int
	// TokenSampleSize bounds the token transfers attached to each edge.
	TokenSampleSize int
	// BatchSize is the number of branches expanded concurrently.
	BatchSize int

	CacheTTL        time.Duration
	CacheMaxEntries int
}

func (o *Options) setDefaults() {
	if o.MaxDepth <= 0 || o.MaxDepth > MaxDepthCap {
		o.MaxDepth = MaxDepthCap
	}
	if o.ActivityLimit <= 0 {
		o.ActivityLimit = DefaultActivityLimit
	}
	if o.ActivityLimit > MaxActivityLimit {
		o.ActivityLimit = MaxActivityLimit
	}
	if o.TokenSampleSize < 0 {
		o.TokenSampleSize = 0
	} else if o.TokenSampleSize == 0 {
		o.TokenSampleSize = DefaultTokenSampleSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
}

type Orchestrator struct {
	registry  *chain.Registry
	annotator *risk.Annotator
	opts      Options
	metrics   metrics.Metricer
	log       log.Logger
}

func NewOrchestrator(registry *chain.Registry, annotator *risk.Annotator, opts Options, m metrics.Metricer) *Orchestrator {
	opts.setDefaults()
	if m == nil {
		m = metrics.NoopMetrics
	}
	return &Orchestrator{
		registry:  registry,
		annotator: annotator,
		opts:      opts,
		metrics:   m,
		log:       log.New("component", "trace"),
	}
}

func (o *Orchestrator) Options() Options {
	return o.opts
}

// Validate checks a request without running it.
func (o *Orchestrator) Validate(req Request) error {
	if _, _, err := ParseSeed(req.Seed); err != nil {
		return err
	}
	if !o.registry.Has(req.Chain) {
		return errs.NewValidationError("chain", "unsupported chain").AddContext("chain", req.Chain)
	}
	if req.MaxDepth < 1 || req.MaxDepth > o.opts.MaxDepth {
		return errs.NewValidationError("maxDepth", "depth out of range").
			AddContext("maxDepth", req.MaxDepth).
			AddContext("limit", o.opts.MaxDepth)
	}
	return nil
}

// Trace runs one bounded exploration. Unresolvable nodes never fail the run;
// they are listed in Result.Skipped. An error is returned only for invalid
// requests or when ctx is cancelled.
func (o *Orchestrator) Trace(ctx context.Context, req Request) (*Result, error) {
	if err := o.Validate(req); err != nil {
		return nil, err
	}
	kind, seed, _ := ParseSeed(req.Seed)
	src, _ := o.registry.Get(req.Chain)

	ctx, span := tracer.Start(ctx, "Orchestrator.Trace", oteltrace.WithAttributes(
		attribute.String("trace.chain", req.Chain),
		attribute.String("trace.seed", seed),
		attribute.Int("trace.max_depth", req.MaxDepth),
	))
	defer span.End()

	r := &run{
		o:        o,
		chain:    req.Chain,
		maxDepth: req.MaxDepth,
		src: &cachedSource{
			chain: req.Chain,
			src:   src,
			cache: cache.NewResultCache(o.opts.CacheTTL, o.opts.CacheMaxEntries),
		},
		visitedTx:   make(map[string]struct{}),
		visitedAddr: make(map[string]struct{}),
	}

	result := &Result{
		Chain:     req.Chain,
		Seed:      seed,
		SeedKind:  kind,
		MaxDepth:  req.MaxDepth,
		StartedAt: time.Now(),
	}
	switch kind {
	case SeedTransaction:
		r.markTx(seed)
		if root := r.visit(ctx, branch{hash: seed, dir: DirectionOut}, 0); root != nil {
			result.Tree = []*Node{root}
		}
	case SeedAddress:
		r.markAddr(seed)
		result.Tree = r.expand(ctx, r.addressBranches(ctx, seed, 0, 0, ""), 0)
	}

	result.Duration = time.Since(result.StartedAt)
	result.Edges = r.edges
	result.Skipped = r.skipped
	if result.Tree == nil {
		result.Tree = []*Node{}
	}
	if result.Edges == nil {
		result.Edges = []*Edge{}
	}
	if result.Skipped == nil {
		result.Skipped = []SkippedNode{}
	}
	result.Summary = Summarize(result.Edges)

	stats := r.src.cache.Stats()
	o.metrics.RecordCache(stats.Hits, stats.Misses, stats.Evictions)
	o.metrics.RecordTrace(req.Chain, len(result.Edges), len(result.Skipped), result.Duration)
	span.SetAttributes(
		attribute.Int("trace.edges", len(result.Edges)),
		attribute.Int("trace.skipped", len(result.Skipped)),
	)

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return nil, errs.Wrap(errs.ErrorTypeCancelled, "trace cancelled", err).AddContext("seed", seed)
	}
	o.log.Info("trace finished", "chain", req.Chain, "seed", seed, "depth", req.MaxDepth,
		"edges", len(result.Edges), "skipped", len(result.Skipped), "duration", result.Duration)
	return result, nil
}

type branch struct {
	hash string
	dir  Direction
}

// run holds the state of a single trace. The visited sets are only mutated
// under mu, and always before the branch they guard is scheduled.
type run struct {
	o        *Orchestrator
	chain    string
	maxDepth int
	src      *cachedSource

	mu          sync.Mutex
	visitedTx   map[string]struct{}
	visitedAddr map[string]struct{}
	edges       []*Edge
	skipped     []SkippedNode
}

// markTx reports whether hash was newly marked.
func (r *run) markTx(hash string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.visitedTx[hash]; ok {
		return false
	}
	r.visitedTx[hash] = struct{}{}
	return true
}

func (r *run) markAddr(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.visitedAddr[addr]; ok {
		return false
	}
	r.visitedAddr[addr] = struct{}{}
	return true
}

func (r *run) appendEdge(e *Edge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges = append(r.edges, e)
}

func (r *run) skip(s SkippedNode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = append(r.skipped, s)
}

// visit resolves one transaction into an edge and expands its endpoints. The
// caller must have marked b.hash visited.
func (r *run) visit(ctx context.Context, b branch, depth int) *Node {
	if depth >= r.maxDepth || ctx.Err() != nil {
		return nil
	}

	tx, err := r.src.transaction(ctx, b.hash)
	if err == nil && tx == nil {
		err = chain.ErrNotFound
	}
	if err != nil {
		r.skip(SkippedNode{Hash: b.hash, Depth: depth, Reason: reason("transaction", err)})
		r.o.log.Debug("dropping unresolvable transaction", "hash", b.hash, "err", err)
		return nil
	}

	receipt, err := r.src.receipt(ctx, b.hash)
	if err != nil {
		receipt = nil
		r.skip(SkippedNode{Hash: b.hash, Depth: depth, Reason: reason("receipt", err)})
	}

	edge := r.buildEdge(ctx, tx, receipt, b.dir, depth)
	r.appendEdge(edge)
	node := &Node{Edge: edge}

	if depth+1 >= r.maxDepth {
		return node
	}
	if edge.To != "" && r.markAddr(edge.To) {
		node.Children = append(node.Children,
			r.expand(ctx, r.addressBranches(ctx, edge.To, 0, depth+1, DirectionOut), depth+1)...)
	}
	if edge.From != "" && r.markAddr(edge.From) {
		node.Children = append(node.Children,
			r.expand(ctx, r.addressBranches(ctx, edge.From, edge.BlockNumber, depth+1, DirectionIn), depth+1)...)
	}
	return node
}

func (r *run) buildEdge(ctx context.Context, tx *chain.Transaction, receipt *chain.Receipt, dir Direction, depth int) *Edge {
	class := r.o.annotator.Classify(tx, receipt)
	edge := &Edge{
		Hash:        chain.NormalizeHash(tx.Hash),
		From:        chain.NormalizeAddress(tx.From),
		To:          chain.NormalizeAddress(tx.To),
		Amount:      r.src.src.FormatNativeAmount(tx.Value),
		Symbol:      tx.Symbol,
		Chain:       r.chain,
		BlockNumber: tx.BlockNumber,
		Direction:   dir,
		Depth:       depth,
		Tags:        class.Tags,
		Score:       class.Score,
	}
	if receipt != nil {
		edge.GasUsed = receipt.GasUsed
		edge.Failed = receipt.Failed()
	}
	if label, ok := r.o.annotator.BridgeLabel(edge.To); ok {
		edge.BridgeLabel = label
	}

	// context only, never scored
	sampleAddr := edge.To
	if sampleAddr == "" {
		sampleAddr = edge.From
	}
	transfers, err := r.src.tokenTransfers(ctx, sampleAddr, r.o.opts.TokenSampleSize, tx.BlockNumber)
	if err != nil {
		r.o.log.Debug("token transfer sample unavailable", "address", sampleAddr, "err", err)
	}
	if len(transfers) > r.o.opts.TokenSampleSize {
		transfers = transfers[:r.o.opts.TokenSampleSize]
	}
	edge.TokenTransfers = transfers
	return edge
}

// addressBranches fetches the recent activity of addr and marks every
// unvisited transaction in it. With an empty dir the direction is derived
// from whether addr sent the transaction.
func (r *run) addressBranches(ctx context.Context, addr string, beforeBlock uint64, depth int, dir Direction) []branch {
	if ctx.Err() != nil {
		return nil
	}
	txs, err := r.src.activity(ctx, addr, r.o.opts.ActivityLimit, beforeBlock)
	if err != nil {
		r.skip(SkippedNode{Address: addr, Depth: depth, Reason: reason("activity", err)})
		return nil
	}
	if len(txs) > r.o.opts.ActivityLimit {
		txs = txs[:r.o.opts.ActivityLimit]
	}

	var branches []branch
	for _, tx := range txs {
		hash := chain.NormalizeHash(tx.Hash)
		if !r.markTx(hash) {
			continue
		}
		d := dir
		if d == "" {
			d = DirectionIn
			if chain.NormalizeAddress(tx.From) == addr {
				d = DirectionOut
			}
		}
		branches = append(branches, branch{hash: hash, dir: d})
	}
	return branches
}

// expand visits branches in sequential batches. Branches within a batch run
// concurrently and the batch is awaited as a whole. Children keep the order
// of branches.
func (r *run) expand(ctx context.Context, branches []branch, depth int) []*Node {
	var out []*Node
	size := r.o.opts.BatchSize
	for start := 0; start < len(branches); start += size {
		if ctx.Err() != nil {
			break
		}
		end := start + size
		if end > len(branches) {
			end = len(branches)
		}
		batch := branches[start:end]
		nodes := make([]*Node, len(batch))

		var g errgroup.Group
		for i, b := range batch {
			i, b := i, b
			g.Go(func() error {
				nodes[i] = r.visit(ctx, b, depth)
				return nil
			})
		}
		_ = g.Wait()

		for _, n := range nodes {
			if n != nil {
				out = append(out, n)
			}
		}
	}
	return out
}

func reason(op string, err error) string {
	if errors.Is(err, chain.ErrNotFound) {
		return op + " not found"
	}
	return op + " lookup failed: " + err.Error()
}
