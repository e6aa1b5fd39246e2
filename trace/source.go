package trace

import (
	"context"

	"github.com/DQYXACML/chaintrace/chain"
	"github.com/DQYXACML/chaintrace/trace/cache"
)

// cachedSource routes data source lookups of a single run through its cache.
type cachedSource struct {
	chain string
	src   chain.DataSource
	cache *cache.ResultCache
}

func (c *cachedSource) transaction(ctx context.Context, hash string) (*chain.Transaction, error) {
	v, err := c.cache.GetOrCompute(cache.Key(c.chain, "tx", hash), func() (interface{}, error) {
		return c.src.GetTransaction(ctx, hash)
	})
	if err != nil {
		return nil, err
	}
	return v.(*chain.Transaction), nil
}

func (c *cachedSource) receipt(ctx context.Context, hash string) (*chain.Receipt, error) {
	v, err := c.cache.GetOrCompute(cache.Key(c.chain, "receipt", hash), func() (interface{}, error) {
		return c.src.GetReceipt(ctx, hash)
	})
	if err != nil {
		return nil, err
	}
	return v.(*chain.Receipt), nil
}

// activity also seeds the transaction cache with every returned transaction
// so expanding them does not cost another lookup.
func (c *cachedSource) activity(ctx context.Context, address string, limit int, beforeBlock uint64) ([]chain.Transaction, error) {
	v, err := c.cache.GetOrCompute(cache.Key(c.chain, "activity", address, limit, beforeBlock), func() (interface{}, error) {
		txs, err := c.src.GetAddressActivity(ctx, address, limit, beforeBlock)
		if err != nil {
			return nil, err
		}
		for i := range txs {
			tx := txs[i]
			c.cache.Set(cache.Key(c.chain, "tx", chain.NormalizeHash(tx.Hash)), &tx)
		}
		return txs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]chain.Transaction), nil
}

func (c *cachedSource) tokenTransfers(ctx context.Context, address string, limit int, beforeBlock uint64) ([]chain.TokenTransfer, error) {
	v, err := c.cache.GetOrCompute(cache.Key(c.chain, "transfers", address, limit, beforeBlock), func() (interface{}, error) {
		return c.src.GetTokenTransfers(ctx, address, limit, beforeBlock)
	})
	if err != nil {
		return nil, err
	}
	return v.([]chain.TokenTransfer), nil
}
