// Package evm implements chain.DataSource for EVM chains over JSON-RPC.
//
// Plain JSON-RPC has no address index, so address activity is sampled by
// scanning a bounded window of recent blocks and token transfers are read from
// ERC-20 Transfer logs. Both are heuristic samples, not a full history.
package evm

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"

	"github.com/DQYXACML/chaintrace/chain"
	"github.com/DQYXACML/chaintrace/chain/node"
	"github.com/DQYXACML/chaintrace/common/bigint"
	"github.com/DQYXACML/chaintrace/common/errs"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

type Config struct {
	Chain    string
	Symbol   string
	Decimals uint8

	// RequestsPerSecond throttles every RPC round trip; 0 disables throttling.
	RequestsPerSecond float64
	Burst             int

	// ScanBlocks bounds how far back address activity is searched.
	ScanBlocks uint64
	// ScanBatch is the number of blocks fetched per batch call.
	ScanBatch uint64
	// LogWindow bounds the block range of token transfer log queries.
	LogWindow uint64

	MaxRetries int
}

func (c *Config) setDefaults() {
	if c.Symbol == "" {
		c.Symbol = "ETH"
	}
	if c.Decimals == 0 {
		c.Decimals = 18
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.ScanBlocks == 0 {
		c.ScanBlocks = 200
	}
	if c.ScanBatch == 0 {
		c.ScanBatch = 20
	}
	if c.LogWindow == 0 {
		c.LogWindow = 5000
	}
}

type Source struct {
	cfg      Config
	client   node.EthClient
	limiter  *rate.Limiter
	recovery *errs.Recovery
	log      log.Logger
}

var _ chain.DataSource = (*Source)(nil)

func NewSource(client node.EthClient, cfg Config) *Source {
	cfg.setDefaults()
	limiter := rate.NewLimiter(rate.Inf, cfg.Burst)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	recovery := errs.NewRecovery()
	if cfg.MaxRetries > 0 {
		recovery.MaxRetries = cfg.MaxRetries
	}
	logger := log.New("chain", cfg.Chain)
	recovery.OnRetry = func(attempt int, wait time.Duration, err error) {
		logger.Warn("retrying rpc call", "attempt", attempt, "wait", wait, "err", err)
	}
	return &Source{
		cfg:      cfg,
		client:   client,
		limiter:  limiter,
		recovery: recovery,
		log:      logger,
	}
}

// call throttles and retries fn, translating transport errors into the
// errs taxonomy. ethereum.NotFound becomes chain.ErrNotFound and is never
// retried.
func (s *Source) call(ctx context.Context, op string, fn func(context.Context) error) error {
	return s.recovery.Do(ctx, func(ctx context.Context) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return errs.Wrap(errs.ErrorTypeTimeout, "rate limiter wait aborted", err).AddContext("op", op)
		}
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ethereum.NotFound):
			return chain.ErrNotFound
		case errors.Is(err, context.DeadlineExceeded):
			return errs.Wrap(errs.ErrorTypeTimeout, "rpc call timed out", err).AddContext("op", op)
		case errors.Is(err, context.Canceled):
			return errs.Wrap(errs.ErrorTypeCancelled, "rpc call cancelled", err).AddContext("op", op)
		default:
			return errs.NewNetworkError("rpc call failed", err).AddContext("op", op)
		}
	})
}

func (s *Source) GetTransaction(ctx context.Context, hash string) (*chain.Transaction, error) {
	h, err := parseHash(hash)
	if err != nil {
		return nil, err
	}
	var rtx *node.RPCTransaction
	err = s.call(ctx, "tx", func(ctx context.Context) error {
		var err error
		rtx, err = s.client.TxByHash(ctx, h)
		return err
	})
	if err != nil {
		return nil, err
	}
	var number uint64
	if rtx.BlockNumber != nil {
		number = rtx.BlockNumber.ToInt().Uint64()
	}
	tx := s.convertTx(rtx, number)
	return &tx, nil
}

func (s *Source) GetReceipt(ctx context.Context, hash string) (*chain.Receipt, error) {
	h, err := parseHash(hash)
	if err != nil {
		return nil, err
	}
	var receipt *types.Receipt
	err = s.call(ctx, "receipt", func(ctx context.Context) error {
		var err error
		receipt, err = s.client.TxReceiptByHash(ctx, h)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := &chain.Receipt{
		TxHash:   chain.NormalizeHash(h.Hex()),
		Status:   receipt.Status,
		GasUsed:  receipt.GasUsed,
		LogCount: len(receipt.Logs),
	}
	if receipt.ContractAddress != (common.Address{}) {
		out.ContractAddress = chain.NormalizeAddress(receipt.ContractAddress.Hex())
	}
	return out, nil
}

func (s *Source) GetAddressActivity(ctx context.Context, address string, limit int, beforeBlock uint64) ([]chain.Transaction, error) {
	if limit <= 0 {
		return nil, nil
	}
	addr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	end, err := s.resolveEnd(ctx, beforeBlock)
	if err != nil {
		return nil, err
	}

	var (
		out     []chain.Transaction
		scanned uint64
		hi      = end
	)
	for scanned < s.cfg.ScanBlocks && len(out) < limit {
		size := s.cfg.ScanBatch
		if remaining := s.cfg.ScanBlocks - scanned; size > remaining {
			size = remaining
		}
		lo := uint64(0)
		if hi+1 > size {
			lo = hi + 1 - size
		}

		var blocks []node.RPCBlock
		err := s.call(ctx, "blocks", func(ctx context.Context) error {
			var err error
			blocks, err = s.client.BlocksByRange(ctx, lo, hi)
			return err
		})
		if err != nil {
			return out, err
		}

		// newest block first, last transaction in a block first
		for i := len(blocks) - 1; i >= 0 && len(out) < limit; i-- {
			txs := blocks[i].Transactions
			for j := len(txs) - 1; j >= 0 && len(out) < limit; j-- {
				rtx := &txs[j]
				if rtx.From == addr || (rtx.To != nil && *rtx.To == addr) {
					out = append(out, s.convertTx(rtx, uint64(blocks[i].Number)))
				}
			}
		}

		scanned += hi - lo + 1
		if lo == 0 {
			break
		}
		hi = lo - 1
	}
	s.log.Debug("sampled address activity", "address", address, "found", len(out), "scanned", scanned)
	return out, nil
}

func (s *Source) GetTokenTransfers(ctx context.Context, address string, limit int, beforeBlock uint64) ([]chain.TokenTransfer, error) {
	if limit <= 0 {
		return nil, nil
	}
	addr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	end, err := s.resolveEnd(ctx, beforeBlock)
	if err != nil {
		return nil, err
	}
	start := uint64(0)
	if end > s.cfg.LogWindow {
		start = end - s.cfg.LogWindow
	}

	topic := common.BytesToHash(addr.Bytes())
	queries := []ethereum.FilterQuery{
		{FromBlock: new(big.Int).SetUint64(start), ToBlock: new(big.Int).SetUint64(end),
			Topics: [][]common.Hash{{transferTopic}, {topic}}},
		{FromBlock: new(big.Int).SetUint64(start), ToBlock: new(big.Int).SetUint64(end),
			Topics: [][]common.Hash{{transferTopic}, nil, {topic}}},
	}

	seen := make(map[string]struct{})
	var out []chain.TokenTransfer
	for _, q := range queries {
		var logs []types.Log
		err := s.call(ctx, "logs", func(ctx context.Context) error {
			var err error
			logs, err = s.client.FilterLogs(ctx, q)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, l := range logs {
			// ERC-721 transfers index the token id as a fourth topic
			if len(l.Topics) != 3 {
				continue
			}
			key := l.TxHash.Hex() + ":" + strconv.FormatUint(uint64(l.Index), 10)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, chain.TokenTransfer{
				TxHash:      chain.NormalizeHash(l.TxHash.Hex()),
				Token:       chain.NormalizeAddress(l.Address.Hex()),
				From:        chain.NormalizeAddress(common.BytesToAddress(l.Topics[1].Bytes()).Hex()),
				To:          chain.NormalizeAddress(common.BytesToAddress(l.Topics[2].Bytes()).Hex()),
				Value:       new(big.Int).SetBytes(l.Data),
				BlockNumber: l.BlockNumber,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].BlockNumber > out[j].BlockNumber })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Source) FormatNativeAmount(raw *big.Int) string {
	return bigint.FormatUnits(raw, s.cfg.Decimals)
}

func (s *Source) resolveEnd(ctx context.Context, beforeBlock uint64) (uint64, error) {
	if beforeBlock > 0 {
		return beforeBlock, nil
	}
	var latest uint64
	err := s.call(ctx, "blockNumber", func(ctx context.Context) error {
		var err error
		latest, err = s.client.LatestBlockNumber(ctx)
		return err
	})
	return latest, err
}

func (s *Source) convertTx(rtx *node.RPCTransaction, blockNumber uint64) chain.Transaction {
	tx := chain.Transaction{
		Hash:        chain.NormalizeHash(rtx.Hash.Hex()),
		From:        chain.NormalizeAddress(rtx.From.Hex()),
		Value:       new(big.Int),
		Decimals:    s.cfg.Decimals,
		Symbol:      s.cfg.Symbol,
		Input:       rtx.Input,
		BlockNumber: blockNumber,
		Gas:         uint64(rtx.Gas),
	}
	if rtx.To != nil {
		tx.To = chain.NormalizeAddress(rtx.To.Hex())
	}
	if rtx.Value != nil {
		tx.Value = rtx.Value.ToInt()
	}
	if rtx.GasPrice != nil {
		tx.GasPrice = rtx.GasPrice.ToInt()
	}
	return tx
}

func parseHash(hash string) (common.Hash, error) {
	hash = strings.TrimSpace(hash)
	if len(hash) != 66 || !strings.HasPrefix(hash, "0x") {
		return common.Hash{}, errs.New(errs.ErrorTypeDecoding, "malformed transaction hash").AddContext("hash", hash)
	}
	return common.HexToHash(hash), nil
}

func parseAddress(address string) (common.Address, error) {
	if !common.IsHexAddress(address) {
		return common.Address{}, errs.New(errs.ErrorTypeDecoding, "malformed address").AddContext("address", address)
	}
	return common.HexToAddress(address), nil
}
