// Package chaintest provides an in-memory chain.DataSource backed by a fixed
// set of transactions. It backs package tests and the CLI dry-run mode.
package chaintest

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/DQYXACML/chaintrace/chain"
	"github.com/DQYXACML/chaintrace/common/bigint"
)

// Source answers every lookup from memory. All methods are safe for
// concurrent use. Delay, when set, is applied to every lookup so tests can
// observe concurrency.
type Source struct {
	Symbol   string
	Decimals uint8
	Delay    time.Duration

	mu        sync.Mutex
	txs       map[string]*chain.Transaction
	receipts  map[string]*chain.Receipt
	transfers []chain.TokenTransfer
	failures  map[string]error
	order     map[string]int

	calls       map[string]int
	inflight    int
	maxInflight int
}

var _ chain.DataSource = (*Source)(nil)

func New() *Source {
	return &Source{
		Symbol:   "ETH",
		Decimals: 18,
		txs:      make(map[string]*chain.Transaction),
		receipts: make(map[string]*chain.Receipt),
		failures: make(map[string]error),
		order:    make(map[string]int),
		calls:    make(map[string]int),
	}
}

// AddTransaction registers tx. A nil receipt registers a successful one; use
// AddTransactionWithoutReceipt to simulate a pending transaction.
func (s *Source) AddTransaction(tx chain.Transaction, receipt *chain.Receipt) *Source {
	if receipt == nil {
		receipt = &chain.Receipt{TxHash: tx.Hash, Status: chain.ReceiptStatusSuccessful, GasUsed: 21000}
	}
	s.AddTransactionWithoutReceipt(tx)

	s.mu.Lock()
	defer s.mu.Unlock()
	r := *receipt
	r.TxHash = chain.NormalizeHash(tx.Hash)
	s.receipts[r.TxHash] = &r
	return s
}

func (s *Source) AddTransactionWithoutReceipt(tx chain.Transaction) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx.Hash = chain.NormalizeHash(tx.Hash)
	tx.From = chain.NormalizeAddress(tx.From)
	tx.To = chain.NormalizeAddress(tx.To)
	if tx.Value == nil {
		tx.Value = new(big.Int)
	}
	if tx.Symbol == "" {
		tx.Symbol = s.Symbol
	}
	if tx.Decimals == 0 {
		tx.Decimals = s.Decimals
	}
	if _, ok := s.order[tx.Hash]; !ok {
		s.order[tx.Hash] = len(s.order)
	}
	s.txs[tx.Hash] = &tx
	return s
}

func (s *Source) AddTokenTransfer(tt chain.TokenTransfer) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	tt.TxHash = chain.NormalizeHash(tt.TxHash)
	tt.Token = chain.NormalizeAddress(tt.Token)
	tt.From = chain.NormalizeAddress(tt.From)
	tt.To = chain.NormalizeAddress(tt.To)
	s.transfers = append(s.transfers, tt)
	return s
}

// Fail makes every lookup keyed by hash or address return err.
func (s *Source) Fail(key string, err error) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[chain.NormalizeAddress(key)] = err
	return s
}

// Calls returns how many times op was invoked. Ops are "tx", "receipt",
// "activity" and "transfers".
func (s *Source) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// MaxConcurrency returns the highest number of lookups observed in flight at
// the same time.
func (s *Source) MaxConcurrency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInflight
}

func (s *Source) enter(ctx context.Context, op, key string) error {
	s.mu.Lock()
	s.calls[op]++
	s.inflight++
	if s.inflight > s.maxInflight {
		s.maxInflight = s.inflight
	}
	err := s.failures[key]
	s.mu.Unlock()

	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	return err
}

func (s *Source) exit() {
	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()
}

func (s *Source) GetTransaction(ctx context.Context, hash string) (*chain.Transaction, error) {
	hash = chain.NormalizeHash(hash)
	defer s.exit()
	if err := s.enter(ctx, "tx", hash); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[hash]
	if !ok {
		return nil, chain.ErrNotFound
	}
	out := *tx
	return &out, nil
}

func (s *Source) GetReceipt(ctx context.Context, hash string) (*chain.Receipt, error) {
	hash = chain.NormalizeHash(hash)
	defer s.exit()
	if err := s.enter(ctx, "receipt", hash); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	receipt, ok := s.receipts[hash]
	if !ok {
		return nil, chain.ErrNotFound
	}
	out := *receipt
	return &out, nil
}

// GetAddressActivity returns transactions touching address, highest block
// first and latest registered first within a block.
func (s *Source) GetAddressActivity(ctx context.Context, address string, limit int, beforeBlock uint64) ([]chain.Transaction, error) {
	address = chain.NormalizeAddress(address)
	defer s.exit()
	if err := s.enter(ctx, "activity", address); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []chain.Transaction
	for _, tx := range s.txs {
		if tx.From != address && tx.To != address {
			continue
		}
		if beforeBlock > 0 && tx.BlockNumber > beforeBlock {
			continue
		}
		out = append(out, *tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber > out[j].BlockNumber
		}
		return s.order[out[i].Hash] > s.order[out[j].Hash]
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Source) GetTokenTransfers(ctx context.Context, address string, limit int, beforeBlock uint64) ([]chain.TokenTransfer, error) {
	address = chain.NormalizeAddress(address)
	defer s.exit()
	if err := s.enter(ctx, "transfers", address); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []chain.TokenTransfer
	for i := len(s.transfers) - 1; i >= 0 && len(out) < limit; i-- {
		tt := s.transfers[i]
		if tt.From != address && tt.To != address {
			continue
		}
		if beforeBlock > 0 && tt.BlockNumber > beforeBlock {
			continue
		}
		out = append(out, tt)
	}
	return out, nil
}

func (s *Source) FormatNativeAmount(raw *big.Int) string {
	return bigint.FormatUnits(raw, s.Decimals)
}
