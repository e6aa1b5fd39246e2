package node

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

/* -------------------------------------------------------------------------- */
/*                                  Mock RPC                                  */
/* -------------------------------------------------------------------------- */

type mockRPC struct{ mock.Mock }

func (m *mockRPC) Close() {}

func (m *mockRPC) CallContext(ctx context.Context, result any, method string, args ...any) error {
	return m.Called(ctx, result, method, args).Error(0)
}

func (m *mockRPC) BatchCallContext(ctx context.Context, b []rpc.BatchElem) error {
	return m.Called(ctx, b).Error(0)
}

func TestLatestBlockNumber(t *testing.T) {
	mrpc := new(mockRPC)
	cli := &myClient{rpc: mrpc}

	mrpc.On("CallContext", mock.Anything, mock.Anything, "eth_blockNumber", mock.Anything).
		Run(func(args mock.Arguments) {
			*args.Get(1).(*hexutil.Uint64) = 0x1234
		}).Return(nil).Once()

	n, err := cli.LatestBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1234), n)
	mrpc.AssertExpectations(t)
}

func TestTxByHash(t *testing.T) {
	hash := common.HexToHash("0xaaf64b10913ae54c9430cb6c6043acecac6801c52b909291be19f76f35a5e4bc")

	t.Run("Found", func(t *testing.T) {
		mrpc := new(mockRPC)
		cli := &myClient{rpc: mrpc}
		from := common.HexToAddress("0xc0ffee")

		mrpc.On("CallContext", mock.Anything, mock.Anything, "eth_getTransactionByHash", []interface{}{hash}).
			Run(func(args mock.Arguments) {
				*args.Get(1).(**RPCTransaction) = &RPCTransaction{Hash: hash, From: from}
			}).Return(nil).Once()

		tx, err := cli.TxByHash(context.Background(), hash)
		require.NoError(t, err)
		assert.Equal(t, from, tx.From)
		mrpc.AssertExpectations(t)
	})

	t.Run("NotFound", func(t *testing.T) {
		mrpc := new(mockRPC)
		cli := &myClient{rpc: mrpc}
		mrpc.On("CallContext", mock.Anything, mock.Anything, "eth_getTransactionByHash", []interface{}{hash}).
			Return(nil).Once()

		_, err := cli.TxByHash(context.Background(), hash)
		assert.True(t, errors.Is(err, ethereum.NotFound))
	})
}

func TestTxReceiptByHash(t *testing.T) {
	mrpc := new(mockRPC)
	cli := &myClient{rpc: mrpc}
	hash := common.HexToHash("0x01")

	mrpc.On("CallContext", mock.Anything, mock.Anything, "eth_getTransactionReceipt", []interface{}{hash}).
		Run(func(args mock.Arguments) {
			*args.Get(1).(**types.Receipt) = &types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 21000}
		}).Return(nil).Once()

	receipt, err := cli.TxReceiptByHash(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(21000), receipt.GasUsed)
}

func TestBlocksByRange(t *testing.T) {
	mrpc := new(mockRPC)
	cli := &myClient{rpc: mrpc}

	// three blocks requested, the node only knows the first two
	mrpc.On("BatchCallContext", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			elems := args.Get(1).([]rpc.BatchElem)
			require.Len(t, elems, 3)
			for i := 0; i < 2; i++ {
				*elems[i].Result.(**RPCBlock) = &RPCBlock{Number: hexutil.Uint64(10 + i)}
			}
		}).Return(nil).Once()

	blocks, err := cli.BlocksByRange(context.Background(), 10, 12)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.EqualValues(t, 10, blocks[0].Number)
	assert.EqualValues(t, 11, blocks[1].Number)
	mrpc.AssertExpectations(t)

	none, err := cli.BlocksByRange(context.Background(), 5, 4)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFilterLogs(t *testing.T) {
	mrpc := new(mockRPC)
	cli := &myClient{rpc: mrpc}

	addr := common.HexToAddress("0xc0ffee")
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(90),
		ToBlock:   big.NewInt(100),
		Topics:    [][]common.Hash{{common.HexToHash("0x01")}},
	}

	mrpc.On("CallContext", mock.Anything, mock.Anything, "eth_getLogs", mock.Anything).
		Run(func(args mock.Arguments) {
			filter := args.Get(3).([]interface{})[0].(map[string]interface{})
			assert.Equal(t, "0x5a", filter["fromBlock"])
			assert.Equal(t, "0x64", filter["toBlock"])
			*args.Get(1).(*[]types.Log) = []types.Log{{Address: addr, BlockNumber: 100}}
		}).Return(nil).Once()

	logs, err := cli.FilterLogs(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, addr, logs[0].Address)
	mrpc.AssertExpectations(t)
}

func TestToFilterLogRejectsHashAndRange(t *testing.T) {
	hash := common.HexToHash("0x02")
	_, err := toFilterLog(ethereum.FilterQuery{BlockHash: &hash, FromBlock: big.NewInt(1)})
	assert.Error(t, err)
}
