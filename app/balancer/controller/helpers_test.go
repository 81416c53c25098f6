package controller

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/canopy-network/balancex/app/balancer/types"
	"github.com/canopy-network/balancex/pkg/balances"
	"github.com/canopy-network/balancex/pkg/config"
	"github.com/canopy-network/balancex/pkg/evm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testToken = "test-admin-token"

var (
	testOwner = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testUSDC  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

// staticReader answers every call with the same amount.
type staticReader struct {
	amount  *big.Int
	batches atomic.Int32
}

func (s *staticReader) BalancesOf(_ context.Context, _ common.Address, calls []evm.Call) ([]*big.Int, error) {
	s.batches.Add(1)
	out := make([]*big.Int, len(calls))
	for i := range out {
		out[i] = new(big.Int).Set(s.amount)
	}
	return out, nil
}

func newTestApp(t *testing.T) (*types.App, *staticReader) {
	t.Helper()
	reader := &staticReader{amount: new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)}

	registry := evm.NewRegistry()
	registry.Register(evm.Endpoint{ChainID: 1, Name: "mainnet", Primary: reader})

	logger := zaptest.NewLogger(t)
	manager := balances.NewManager(balances.Options{Logger: logger, Fallbacks: registry.Fallback})
	t.Cleanup(manager.Close)

	cfg := &config.Config{File: config.File{
		Tokens: map[uint64][]config.Token{
			1: {{Address: balances.NativeAsset.Hex(), Symbol: "ETH", Decimals: 18}},
		},
	}}

	return &types.App{Config: cfg, Manager: manager, Registry: registry, Logger: logger}, reader
}

func newTestRouter(t *testing.T, app *types.App) http.Handler {
	t.Helper()
	t.Setenv("ADMIN_TOKEN", testToken)
	t.Setenv("ADMIN_USER", "admin")
	t.Setenv("ADMIN_PASSWORD", "s3cret")

	t.Setenv("ADMIN_USERS", `[{"username":"alice","password":"viewer-pass"}]`)

	ctler, err := NewController(app)
	require.NoError(t, err)
	return WithCORS(ctler.NewRouter())
}

func do(t *testing.T, h http.Handler, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
