package node

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

const (
	defaultDialTimeout = 5 * time.Second

	defaultRequestTimeout = 30 * time.Second
)

// RPCTransaction is the JSON-RPC view of a transaction. Unlike
// types.Transaction it keeps the sender and block number reported by the node.
type RPCTransaction struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Value       *hexutil.Big    `json:"value"`
	Input       hexutil.Bytes   `json:"input"`
	Gas         hexutil.Uint64  `json:"gas"`
	GasPrice    *hexutil.Big    `json:"gasPrice"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
}

// RPCBlock is a block fetched with full transaction objects.
type RPCBlock struct {
	Number       hexutil.Uint64   `json:"number"`
	Hash         common.Hash      `json:"hash"`
	Transactions []RPCTransaction `json:"transactions"`
}

type EthClient interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlocksByRange(ctx context.Context, start, end uint64) ([]RPCBlock, error)

	TxByHash(ctx context.Context, hash common.Hash) (*RPCTransaction, error)
	TxReceiptByHash(ctx context.Context, hash common.Hash) (*types.Receipt, error)

	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	Close()
}

type RPC interface {
	Close()
	CallContext(ctx context.Context, result any, method string, args ...any) error
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
}

type myClient struct {
	rpc RPC
}

func DialEthClient(ctx context.Context, rpcUrl string) (EthClient, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	rpcClient, err := rpc.DialContext(ctx, rpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to dial address (%s): %w", rpcUrl, err)
	}

	return &myClient{
		rpc: NewRPC(rpcClient),
	}, nil
}

// NewEthClient wraps an existing RPC transport.
func NewEthClient(r RPC) EthClient {
	return &myClient{rpc: r}
}

func (m *myClient) LatestBlockNumber(ctx context.Context) (uint64, error) {
	ctxwt, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	var number hexutil.Uint64
	if err := m.rpc.CallContext(ctxwt, &number, "eth_blockNumber"); err != nil {
		log.Error("Call eth_blockNumber method fail", "err", err)
		return 0, err
	}
	return uint64(number), nil
}

// BlocksByRange fetches the inclusive block range [start, end] in one batch,
// returning the blocks in ascending order. Blocks the node does not know yet
// are dropped from the tail.
func (m *myClient) BlocksByRange(ctx context.Context, start, end uint64) ([]RPCBlock, error) {
	if end < start {
		return nil, nil
	}
	count := end - start + 1
	blocks := make([]*RPCBlock, count)
	batchElems := make([]rpc.BatchElem, count)

	for i := uint64(0); i < count; i++ {
		batchElems[i] = rpc.BatchElem{
			Method: "eth_getBlockByNumber",
			Args:   []interface{}{toBlockNumArg(new(big.Int).SetUint64(start + i)), true},
			Result: &blocks[i],
		}
	}

	ctxwt, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()
	if err := m.rpc.BatchCallContext(ctxwt, batchElems); err != nil {
		return nil, err
	}

	out := make([]RPCBlock, 0, count)
	for i, batchElem := range batchElems {
		if batchElem.Error != nil {
			return nil, errors.Wrapf(batchElem.Error, "unable to fetch block %d", start+uint64(i))
		}
		if blocks[i] == nil {
			break
		}
		out = append(out, *blocks[i])
	}
	return out, nil
}

func (m *myClient) TxByHash(ctx context.Context, hash common.Hash) (*RPCTransaction, error) {
	ctxwt, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	var tx *RPCTransaction
	err := m.rpc.CallContext(ctxwt, &tx, "eth_getTransactionByHash", hash)
	if err != nil {
		return nil, err
	} else if tx == nil {
		return nil, ethereum.NotFound
	}
	return tx, nil
}

func (m *myClient) TxReceiptByHash(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctxwt, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	var txReceipt *types.Receipt
	err := m.rpc.CallContext(ctxwt, &txReceipt, "eth_getTransactionReceipt", hash)
	if err != nil {
		return nil, err
	} else if txReceipt == nil {
		return nil, ethereum.NotFound
	}

	return txReceipt, nil
}

func (m *myClient) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	args, err := toFilterLog(query)
	if err != nil {
		return nil, err
	}

	ctxwt, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	var logs []types.Log
	if err := m.rpc.CallContext(ctxwt, &logs, "eth_getLogs", args); err != nil {
		return nil, errors.Wrap(err, "unable to query logs")
	}
	return logs, nil
}

func (m *myClient) Close() {
	m.rpc.Close()
}

type rpcClient struct {
	rpc *rpc.Client
}

func NewRPC(client *rpc.Client) RPC {
	return &rpcClient{client}
}

func (c *rpcClient) Close() {
	c.rpc.Close()
}

func (c *rpcClient) CallContext(ctx context.Context, result any, method string, args ...any) error {
	return c.rpc.CallContext(ctx, result, method, args...)
}

func (c *rpcClient) BatchCallContext(ctx context.Context, b []rpc.BatchElem) error {
	return c.rpc.BatchCallContext(ctx, b)
}

func toBlockNumArg(b *big.Int) string {
	if b == nil {
		return "latest"
	}
	if b.Sign() >= 0 {
		return hexutil.EncodeBig(b)
	}
	return rpc.BlockNumber(b.Int64()).String()
}

func toFilterLog(q ethereum.FilterQuery) (interface{}, error) {
	arg := map[string]interface{}{"topics": q.Topics}
	if len(q.Addresses) > 0 {
		arg["address"] = q.Addresses
	}
	if q.BlockHash != nil {
		arg["blockHash"] = *q.BlockHash
		if q.FromBlock != nil || q.ToBlock != nil {
			return nil, errors.New("cannot specify both BlockHash and FromBlock/ToBlock")
		}
	} else {
		if q.FromBlock != nil {
			arg["fromBlock"] = toBlockNumArg(q.FromBlock)
		} else {
			arg["fromBlock"] = "0x0"
		}
		if q.ToBlock != nil {
			arg["toBlock"] = toBlockNumArg(q.ToBlock)
		}
	}
	return arg, nil
}
