package bigint

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatUnits(t *testing.T) {
	wei, _ := new(big.Int).SetString("1500000000000000000", 10)
	tests := []struct {
		name     string
		raw      *big.Int
		decimals uint8
		want     string
	}{
		{"nil", nil, 18, "0"},
		{"zero", big.NewInt(0), 18, "0"},
		{"one and a half ether", wei, 18, "1.5"},
		{"one wei", big.NewInt(1), 18, "0.000000000000000001"},
		{"no decimals", big.NewInt(42), 0, "42"},
		{"usdc", big.NewInt(2500000), 6, "2.5"},
		{"negative", big.NewInt(-15), 1, "-1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUnits(tt.raw, tt.decimals))
		})
	}
}

func TestToRat(t *testing.T) {
	wei, _ := new(big.Int).SetString("11000000000000000000", 10)
	assert.Equal(t, 1, ToRat(wei, 18).Cmp(big.NewRat(10, 1)))
	assert.Equal(t, 0, ToRat(nil, 18).Sign())
}

func TestFormatRat(t *testing.T) {
	assert.Equal(t, "0", FormatRat(nil, 18))
	assert.Equal(t, "205", FormatRat(big.NewRat(205, 1), 18))
	assert.Equal(t, "0.25", FormatRat(big.NewRat(1, 4), 18))
	assert.Equal(t, "0.333", FormatRat(big.NewRat(1, 3), 3))
}
