package evm_test

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// fakeNode is a minimal EVM JSON-RPC node: native balances per owner, token balances per contract.
type fakeNode struct {
	t        *testing.T
	mu       sync.Mutex
	native   map[common.Address]*big.Int
	tokens   map[common.Address]*big.Int
	reverts  map[common.Address]bool
	chainID  uint64
	methods  []string
	batches  int
	failWith int
}

func newFakeNode(t *testing.T) *fakeNode {
	return &fakeNode{
		t:       t,
		native:  map[common.Address]*big.Int{},
		tokens:  map[common.Address]*big.Int{},
		reverts: map[common.Address]bool{},
		chainID: 1,
	}
}

func (n *fakeNode) Methods() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.methods...)
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failWith != 0 {
		w.WriteHeader(n.failWith)
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		var reqs []rpcRequest
		if err := json.Unmarshal(raw, &reqs); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		n.batches++
		out := make([]rpcResponse, 0, len(reqs))
		for _, req := range reqs {
			out = append(out, n.handle(req))
		}
		_ = json.NewEncoder(w).Encode(out)
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(n.handle(req))
}

func (n *fakeNode) handle(req rpcRequest) rpcResponse {
	n.methods = append(n.methods, req.Method)
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "eth_chainId":
		resp.Result = hexutil.EncodeUint64(n.chainID)
	case "eth_getBalance":
		var owner common.Address
		if err := json.Unmarshal(req.Params[0], &owner); err != nil {
			n.t.Errorf("bad owner param: %v", err)
		}
		bal, ok := n.native[owner]
		if !ok {
			bal = new(big.Int)
		}
		resp.Result = hexutil.EncodeBig(bal)
	case "eth_call":
		var call struct {
			To   common.Address `json:"to"`
			Data hexutil.Bytes  `json:"data"`
		}
		if err := json.Unmarshal(req.Params[0], &call); err != nil {
			n.t.Errorf("bad call param: %v", err)
		}
		if len(call.Data) < 4 || hexutil.Encode(call.Data[:4]) != "0x70a08231" {
			n.t.Errorf("unexpected selector in %x", call.Data)
		}
		if n.reverts[call.To] {
			resp.Error = &rpcError{Code: 3, Message: "execution reverted"}
			break
		}
		bal, ok := n.tokens[call.To]
		if !ok {
			bal = new(big.Int)
		}
		resp.Result = hexutil.Encode(common.LeftPadBytes(bal.Bytes(), 32))
	default:
		resp.Error = &rpcError{Code: -32601, Message: "method not found"}
	}
	return resp
}

func (n *fakeNode) start(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(n)
	t.Cleanup(srv.Close)
	return srv
}
