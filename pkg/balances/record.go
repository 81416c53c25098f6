package balances

import (
	"math/big"
)

func decimalsOrDefault(decimals int) int {
	if decimals <= 0 {
		return DefaultDecimals
	}
	return decimals
}

// Normalize returns raw / 10^decimals, with decimals defaulting to 18.
func Normalize(raw *big.Int, decimals int) float64 {
	if raw == nil {
		return 0
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimalsOrDefault(decimals))), nil)
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), new(big.Float).SetInt(denom)).Float64()
	return f
}

// NewRecord builds the record of t for a freshly read raw amount.
func NewRecord(t Token, raw *big.Int) Record {
	if raw == nil {
		raw = new(big.Int)
	}
	decimals := decimalsOrDefault(t.Decimals)
	return Record{
		Symbol:     t.Symbol,
		Decimals:   decimals,
		Raw:        new(big.Int).Set(raw),
		Normalized: Normalize(raw, decimals),
		Force:      t.Force,
	}
}

// Merge returns r updated with next. Fields of next win; a nil next.Raw keeps
// the amounts of r.
func (r Record) Merge(next Record) Record {
	out := r
	out.Symbol = next.Symbol
	out.Decimals = next.Decimals
	out.Force = next.Force
	if next.Raw != nil {
		out.Raw = next.Raw
		out.Normalized = next.Normalized
	}
	return out
}
