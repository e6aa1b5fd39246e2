// Package chain defines the narrow data-source interface the trace engine
// consumes, and the chain-neutral types it returns.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned by a DataSource when a transaction or receipt does
// not exist on the chain.
var ErrNotFound = errors.New("not found")

// Transaction is a simplified on-chain transfer. To is empty for contract
// creations. Addresses are case-normalized by the data source.
type Transaction struct {
	Hash        string   `json:"hash"`
	From        string   `json:"from"`
	To          string   `json:"to,omitempty"`
	Value       *big.Int `json:"value"`
	Decimals    uint8    `json:"decimals"`
	Symbol      string   `json:"symbol"`
	Input       []byte   `json:"input,omitempty"`
	BlockNumber uint64   `json:"blockNumber"`
	Gas         uint64   `json:"gas"`
	GasPrice    *big.Int `json:"gasPrice,omitempty"`
}

// IsCreation reports whether the transaction deploys a contract.
func (t *Transaction) IsCreation() bool {
	return t.To == ""
}

// Receipt holds the execution outcome of a transaction.
type Receipt struct {
	TxHash          string `json:"txHash"`
	Status          uint64 `json:"status"`
	GasUsed         uint64 `json:"gasUsed"`
	ContractAddress string `json:"contractAddress,omitempty"`
	LogCount        int    `json:"logCount"`
}

const (
	ReceiptStatusFailed     uint64 = 0
	ReceiptStatusSuccessful uint64 = 1
)

// Failed reports whether the transaction reverted.
func (r *Receipt) Failed() bool {
	return r.Status == ReceiptStatusFailed
}

// TokenTransfer is a fungible token movement observed in a transaction log.
type TokenTransfer struct {
	TxHash      string   `json:"txHash"`
	Token       string   `json:"token"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Value       *big.Int `json:"value"`
	BlockNumber uint64   `json:"blockNumber"`
}

// DataSource is a per-chain adapter. Implementations own their transport,
// rate limiting and retry policy; callers treat any error as an unresolvable
// node.
type DataSource interface {
	// GetTransaction returns ErrNotFound when the hash is unknown.
	GetTransaction(ctx context.Context, hash string) (*Transaction, error)
	// GetReceipt returns ErrNotFound when no receipt exists yet.
	GetReceipt(ctx context.Context, hash string) (*Receipt, error)
	// GetAddressActivity returns at most limit transactions touching address,
	// most recent first, at or below beforeBlock (0 means latest).
	GetAddressActivity(ctx context.Context, address string, limit int, beforeBlock uint64) ([]Transaction, error)
	// GetTokenTransfers returns at most limit token transfers touching address
	// at or below beforeBlock (0 means latest).
	GetTokenTransfers(ctx context.Context, address string, limit int, beforeBlock uint64) ([]TokenTransfer, error)
	// FormatNativeAmount renders a raw native value as a decimal string.
	FormatNativeAmount(raw *big.Int) string
}

// NormalizeAddress returns the canonical form used to key addresses.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// NormalizeHash returns the canonical form used to key transaction hashes.
func NormalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

// Registry maps chain identifiers to their data sources.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]DataSource
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]DataSource)}
}

// Register adds or replaces the data source for name.
func (r *Registry) Register(name string, src DataSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[strings.ToLower(name)] = src
}

// Get returns the data source registered for name.
func (r *Registry) Get(name string) (DataSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("no data source registered for chain %q", name)
	}
	return src, nil
}

// Has reports whether a data source is registered for name.
func (r *Registry) Has(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

// Chains returns the registered chain identifiers in sorted order.
func (r *Registry) Chains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
