package chaintest

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"

	"github.com/DQYXACML/chaintrace/chain"
)

// Fixture is the on-disk form of a Source. JSON files load as well, since
// JSON is valid YAML.
type Fixture struct {
	Chain          string            `yaml:"chain"`
	Symbol         string            `yaml:"symbol"`
	Decimals       uint8             `yaml:"decimals"`
	Transactions   []FixtureTx       `yaml:"transactions"`
	TokenTransfers []FixtureTransfer `yaml:"tokenTransfers"`
}

type FixtureTx struct {
	Hash  string `yaml:"hash"`
	From  string `yaml:"from"`
	To    string `yaml:"to"`
	Value string `yaml:"value"`
	Block uint64 `yaml:"block"`
	Input string `yaml:"input"`

	// Receipt fields. Pending marks a transaction without a receipt.
	GasUsed         uint64 `yaml:"gasUsed"`
	Failed          bool   `yaml:"failed"`
	ContractAddress string `yaml:"contractAddress"`
	Pending         bool   `yaml:"pending"`
}

type FixtureTransfer struct {
	TxHash string `yaml:"txHash"`
	Token  string `yaml:"token"`
	From   string `yaml:"from"`
	To     string `yaml:"to"`
	Value  string `yaml:"value"`
	Block  uint64 `yaml:"block"`
}

// LoadFile reads a fixture file and builds a Source from it.
func LoadFile(path string) (*Source, *Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	src, err := f.Source()
	if err != nil {
		return nil, nil, err
	}
	return src, &f, nil
}

func (f *Fixture) Source() (*Source, error) {
	src := New()
	if f.Symbol != "" {
		src.Symbol = f.Symbol
	}
	if f.Decimals != 0 {
		src.Decimals = f.Decimals
	}

	for i, ftx := range f.Transactions {
		value, err := parseAmount(ftx.Value)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		var input []byte
		if ftx.Input != "" {
			if input, err = hexutil.Decode(ftx.Input); err != nil {
				return nil, fmt.Errorf("transaction %d: bad input: %w", i, err)
			}
		}
		tx := chain.Transaction{
			Hash:        ftx.Hash,
			From:        ftx.From,
			To:          ftx.To,
			Value:       value,
			Input:       input,
			BlockNumber: ftx.Block,
		}
		if ftx.Pending {
			src.AddTransactionWithoutReceipt(tx)
			continue
		}
		receipt := &chain.Receipt{
			Status:          chain.ReceiptStatusSuccessful,
			GasUsed:         ftx.GasUsed,
			ContractAddress: chain.NormalizeAddress(ftx.ContractAddress),
		}
		if receipt.GasUsed == 0 {
			receipt.GasUsed = 21000
		}
		if ftx.Failed {
			receipt.Status = chain.ReceiptStatusFailed
		}
		src.AddTransaction(tx, receipt)
	}

	for i, ft := range f.TokenTransfers {
		value, err := parseAmount(ft.Value)
		if err != nil {
			return nil, fmt.Errorf("token transfer %d: %w", i, err)
		}
		src.AddTokenTransfer(chain.TokenTransfer{
			TxHash:      ft.TxHash,
			Token:       ft.Token,
			From:        ft.From,
			To:          ft.To,
			Value:       value,
			BlockNumber: ft.Block,
		})
	}
	return src, nil
}

// parseAmount accepts a base-10 or 0x-prefixed raw integer amount.
func parseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("bad amount %q", s)
	}
	return v, nil
}
