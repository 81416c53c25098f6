package balances

import (
	"encoding/json"
	"math/big"

	"github.com/canopy-network/balancex/pkg/evm"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultDecimals applies when a token declares 0 decimals or none.
	DefaultDecimals = 18
	// DefaultChunkSize is the maximum number of reads bundled in one batch.
	DefaultChunkSize = 10_000
	// DefaultChainID is used when neither an override nor the wallet provide a chain.
	DefaultChainID uint64 = 1
)

// NativeAsset is the sentinel token address standing for the chain's native coin.
var NativeAsset = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Token describes one balance to read.
type Token struct {
	Address  common.Address `json:"token"`
	Decimals int            `json:"decimals"`
	Symbol   string         `json:"symbol"`
	Force    bool           `json:"force,omitempty"`
}

// IsNative reports whether t is read with the native balance call.
func (t Token) IsNative() bool { return t.Address == NativeAsset }

// ParseTokens decodes a JSON token list. Malformed input yields an error and no tokens.
func ParseTokens(raw []byte) ([]Token, error) {
	var tokens []Token
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// Record is the balance of one token for one owner on one chain.
// Raw is never mutated once stored; records can be shared between snapshots.
type Record struct {
	Symbol     string
	Decimals   int
	Raw        *big.Int
	Normalized float64
	Force      bool
}

type recordJSON struct {
	Symbol     string  `json:"symbol"`
	Decimals   int     `json:"decimals"`
	Raw        string  `json:"raw"`
	Normalized float64 `json:"normalized"`
	Force      bool    `json:"force,omitempty"`
}

// MarshalJSON encodes Raw as a decimal string so clients keep full precision.
func (r Record) MarshalJSON() ([]byte, error) {
	raw := "0"
	if r.Raw != nil {
		raw = r.Raw.String()
	}
	return json.Marshal(recordJSON{
		Symbol:     r.Symbol,
		Decimals:   r.Decimals,
		Raw:        raw,
		Normalized: r.Normalized,
		Force:      r.Force,
	})
}

// Balances maps token addresses to records.
type Balances map[common.Address]Record

// Clone returns a shallow copy; records are values and Raw is shared read-only.
func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// MarshalJSON keys the object by EIP-55 checksummed addresses.
func (b Balances) MarshalJSON() ([]byte, error) {
	out := make(map[string]Record, len(b))
	for k, v := range b {
		out[k.Hex()] = v
	}
	return json.Marshal(out)
}

// Snapshot is the best-known balance state of one chain.
type Snapshot struct {
	Nonce    uint64         `json:"nonce"`
	Owner    common.Address `json:"owner"`
	Balances Balances       `json:"balances"`
}

func (s Snapshot) clone() Snapshot {
	s.Balances = s.Balances.Clone()
	return s
}

// Wallet is the state pushed by the wallet connection.
type Wallet struct {
	Address  common.Address
	Active   bool
	ChainID  uint64
	Provider evm.Reader
}

// Status summarises Flags.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Flags are the raw loading flags; Status is derived from them.
type Flags struct {
	IsLoading    bool `json:"isLoading"`
	IsFetching   bool `json:"isFetching"`
	IsSuccess    bool `json:"isSuccess"`
	IsError      bool `json:"isError"`
	IsFetched    bool `json:"isFetched"`
	IsRefetching bool `json:"isRefetching"`
}

func (f Flags) Status() Status {
	switch {
	case f.IsError:
		return StatusError
	case f.IsLoading || f.IsFetching:
		return StatusLoading
	case f.IsSuccess:
		return StatusSuccess
	default:
		return StatusUnknown
	}
}

func loadingFlags(prev Flags) Flags {
	return Flags{IsLoading: true, IsFetching: true, IsRefetching: prev.IsFetched}
}

func settledFlags(err error) Flags {
	if err != nil {
		return Flags{IsError: true, IsFetched: true}
	}
	return Flags{IsSuccess: true, IsFetched: true}
}
