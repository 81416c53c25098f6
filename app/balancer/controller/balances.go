package controller

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/canopy-network/balancex/app/balancer/types"
	"github.com/canopy-network/balancex/pkg/balances"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// maxBody bounds request bodies (a full token list is a few MB at most).
const maxBody = 16 << 20

// readBody reads at most maxBody bytes and drains the rest so the connection
// can be reused.
func readBody(r *http.Request) ([]byte, error) {
	defer func() {
		_, _ = io.CopyN(io.Discard, r.Body, maxBody)
		_ = r.Body.Close()
	}()
	return io.ReadAll(io.LimitReader(r.Body, maxBody))
}

// BalancesResponse is the state of the manager as seen by clients.
type BalancesResponse struct {
	ChainID uint64                       `json:"chainId"`
	Owner   string                       `json:"owner"`
	Nonce   uint64                       `json:"nonce"`
	Status  balances.Status              `json:"status"`
	Flags   balances.Flags               `json:"flags"`
	Error   string                       `json:"error,omitempty"`
	Data    map[string]balances.Balances `json:"data"`
}

// WalletRequest sets the tracked wallet.
type WalletRequest struct {
	Address string `json:"address"`
	ChainID uint64 `json:"chainId"`
	Active  *bool  `json:"active,omitempty"`
}

func (c *Controller) state(data map[string]balances.Balances) BalancesResponse {
	m := c.App.Manager
	resp := BalancesResponse{
		ChainID: m.ChainID(),
		Owner:   m.Wallet().Address.Hex(),
		Nonce:   m.Nonce(),
		Status:  m.Status(),
		Flags:   m.Flags(),
		Data:    data,
	}
	if err := m.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func chainKey(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}

// HandleBalances returns every chain's balances with the consistency signals.
func (c *Controller) HandleBalances(w http.ResponseWriter, _ *http.Request) {
	all := c.App.Manager.Data()
	data := make(map[string]balances.Balances, len(all))
	for chainID, b := range all {
		data[chainKey(chainID)] = b
	}
	_ = json.NewEncoder(w).Encode(c.state(data))
}

// HandleChainBalances returns the snapshot of one chain.
func (c *Controller) HandleChainBalances(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseUint(mux.Vars(r)["chainId"], 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid chain id"})
		return
	}
	snap, ok := c.App.Manager.Snapshot(chainID)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "no balances for chain"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"chainId":  chainID,
		"owner":    snap.Owner.Hex(),
		"nonce":    snap.Nonce,
		"balances": snap.Balances,
	})
}

// HandleWallet returns the tracked wallet.
func (c *Controller) HandleWallet(w http.ResponseWriter, _ *http.Request) {
	wallet := c.App.Manager.Wallet()
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"address":       wallet.Address.Hex(),
		"chainId":       wallet.ChainID,
		"active":        wallet.Active,
		"activeChainId": c.App.Manager.ChainID(),
	})
}

// HandleWalletPut switches the tracked wallet. Balances of a previous owner are dropped.
func (c *Controller) HandleWalletPut(w http.ResponseWriter, r *http.Request) {
	var in WalletRequest
	raw, err := readBody(r)
	if err == nil {
		err = json.Unmarshal(raw, &in)
	}
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad json"})
		return
	}
	if !common.IsHexAddress(in.Address) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid address"})
		return
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}

	if err := c.App.ApplyWallet(common.HexToAddress(in.Address), in.ChainID, active); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, types.ErrUnknownChain) {
			status = http.StatusBadRequest
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"ok": "1"})
}

// HandleTokens returns the current token list.
func (c *Controller) HandleTokens(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(c.App.Manager.Tokens())
}

// HandleTokensPut replaces the token list with the JSON list in the body.
// A malformed list is accepted as an empty one, matching the manager semantics.
func (c *Controller) HandleTokensPut(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unreadable body"})
		return
	}
	c.App.Manager.SetTokensJSON(raw)

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]int{"tokens": len(c.App.Manager.Tokens())})
}

// HandleUpdate refetches the whole token list and waits for every chunk.
func (c *Controller) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	m := c.App.Manager
	b := m.Update(r.Context())
	_ = json.NewEncoder(w).Encode(c.state(map[string]balances.Balances{chainKey(m.ChainID()): b}))
}

// HandleUpdateSome refetches the tokens listed in the body in a single batch.
func (c *Controller) HandleUpdateSome(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unreadable body"})
		return
	}
	tokens, err := balances.ParseTokens(raw)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad json"})
		return
	}

	m := c.App.Manager
	b := m.UpdateSome(r.Context(), tokens)
	_ = json.NewEncoder(w).Encode(c.state(map[string]balances.Balances{chainKey(m.ChainID()): b}))
}

// HandleEvents replays recent balance events from the redis event log.
// Query params: after=<entry id> (exclusive), limit (default 100, max 1000).
func (c *Controller) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if c.App.RedisClient == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "event log not available (redis disabled)"})
		return
	}

	limit := int64(100)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid limit"})
			return
		}
		limit = min(n, 1000)
	}

	entries, err := c.App.RedisClient.Since(r.Context(), types.EventStream, r.URL.Query().Get("after"), limit)
	if err != nil {
		c.App.Logger.Error("Failed to read balance events", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "event log read failed"})
		return
	}

	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		item := map[string]interface{}{"id": e.ID, "channel": e.Values["channel"]}
		if payload, ok := e.Values["payload"].(string); ok {
			var event balances.Event
			if err := json.Unmarshal([]byte(payload), &event); err == nil {
				item["event"] = event
			}
		}
		out = append(out, item)
	}
	_ = json.NewEncoder(w).Encode(out)
}
