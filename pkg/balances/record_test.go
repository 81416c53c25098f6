package balances

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		raw      *big.Int
		decimals int
		want     float64
	}{
		{"one ether", ether(1), 18, 1.0},
		{"zero decimals default to 18", ether(1), 0, 1.0},
		{"six decimals", big.NewInt(2_500_000), 6, 2.5},
		{"nil raw", nil, 6, 0},
		{"zero", new(big.Int), 18, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw, tt.decimals))
		})
	}
}

func TestNewRecord(t *testing.T) {
	raw := ether(3)
	rec := NewRecord(Token{Address: tokenA, Symbol: "DAI", Force: true}, raw)

	assert.Equal(t, "DAI", rec.Symbol)
	assert.Equal(t, DefaultDecimals, rec.Decimals)
	assert.Equal(t, 3.0, rec.Normalized)
	assert.True(t, rec.Force)

	raw.SetInt64(0)
	assert.Equal(t, ether(3), rec.Raw, "record must own its raw amount")
}

func TestRecord_Merge(t *testing.T) {
	prev := Record{Symbol: "OLD", Decimals: 18, Raw: ether(1), Normalized: 1}

	t.Run("incoming wins", func(t *testing.T) {
		got := prev.Merge(Record{Symbol: "NEW", Decimals: 6, Raw: big.NewInt(5), Normalized: 0.000005})
		assert.Equal(t, "NEW", got.Symbol)
		assert.Equal(t, 6, got.Decimals)
		assert.Equal(t, big.NewInt(5), got.Raw)
		assert.Equal(t, 0.000005, got.Normalized)
	})

	t.Run("nil raw keeps amounts", func(t *testing.T) {
		got := prev.Merge(Record{Symbol: "NEW", Decimals: 18, Force: true})
		assert.Equal(t, "NEW", got.Symbol)
		assert.Equal(t, ether(1), got.Raw)
		assert.Equal(t, 1.0, got.Normalized)
		assert.True(t, got.Force)
	})
}

func TestBalances_MarshalJSON(t *testing.T) {
	b := Balances{tokenA: NewRecord(Token{Address: tokenA, Symbol: "USDC", Decimals: 6}, big.NewInt(1_500_000))}

	raw, err := json.Marshal(b)
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	rec, ok := decoded[tokenA.Hex()]
	require.True(t, ok, "keys must be checksummed: %s", raw)
	assert.Equal(t, "1500000", rec["raw"])
	assert.Equal(t, 1.5, rec["normalized"])
	assert.Equal(t, "USDC", rec["symbol"])
}

func TestParseTokens(t *testing.T) {
	tokens, err := ParseTokens([]byte(`[{"token":"0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE","decimals":18,"symbol":"ETH"},{"token":"` + tokenA.Hex() + `","decimals":6,"symbol":"USDC","force":true}]`))
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.True(t, tokens[0].IsNative())
	assert.Equal(t, tokenA, tokens[1].Address)
	assert.True(t, tokens[1].Force)

	_, err = ParseTokens([]byte(`[{"token":`))
	assert.Error(t, err)

	_, err = ParseTokens([]byte(`[{"token":"not-an-address"}]`))
	assert.Error(t, err)
}

func TestFlags_Status(t *testing.T) {
	assert.Equal(t, StatusUnknown, Flags{}.Status())
	assert.Equal(t, StatusLoading, Flags{IsFetching: true}.Status())
	assert.Equal(t, StatusLoading, loadingFlags(Flags{}).Status())
	assert.Equal(t, StatusSuccess, settledFlags(nil).Status())
	assert.Equal(t, StatusError, settledFlags(errNode).Status())
	assert.Equal(t, StatusError, Flags{IsError: true, IsLoading: true}.Status())

	assert.False(t, loadingFlags(Flags{}).IsRefetching)
	assert.True(t, loadingFlags(settledFlags(nil)).IsRefetching)
}
