package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

var ErrNoEndpoints = errors.New("no endpoints configured")

// Call is one balance read inside a batch. Native reads use eth_getBalance,
// the others call balanceOf(owner) on Contract.
type Call struct {
	Contract common.Address
	Native   bool
}

// Reader reads balances of one owner in a single round trip.
// The returned slice is aligned with calls. An error means the whole batch failed;
// a single failing call (reverted, not a contract) reads as zero.
type Reader interface {
	BalancesOf(ctx context.Context, owner common.Address, calls []Call) ([]*big.Int, error)
}

// Opts is the set of options for a new Client.
type Opts struct {
	Timeout    time.Duration
	RPS        int
	Burst      int
	HTTPClient *http.Client
}

func (o Opts) withDefaults() Opts {
	if o.RPS <= 0 {
		o.RPS = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	return o
}

// Client is a JSON-RPC client for EVM nodes that issues balance reads as JSON-RPC batches.
type Client struct {
	url string
	rc  *rpc.Client
}

type callArgs struct {
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

// Dial connects to an EVM JSON-RPC endpoint (http, https, ws, wss).
func Dial(ctx context.Context, url string, o Opts) (*Client, error) {
	if url == "" {
		return nil, ErrNoEndpoints
	}
	o = o.withDefaults()

	base := o.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	httpClient := &http.Client{
		Transport:     newLimitedTransport(base.Transport, o.RPS, o.Burst),
		Timeout:       o.Timeout,
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
	}

	rc, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{url: url, rc: rc}, nil
}

// URL returns the endpoint this client talks to.
func (c *Client) URL() string { return c.url }

func (c *Client) Close() { c.rc.Close() }

// ChainID queries eth_chainId.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	var id hexutil.Uint64
	if err := c.rc.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// BalancesOf implements Reader.
func (c *Client) BalancesOf(ctx context.Context, owner common.Address, calls []Call) ([]*big.Int, error) {
	if len(calls) == 0 {
		return []*big.Int{}, nil
	}
	data, err := PackBalanceOf(owner)
	if err != nil {
		return nil, err
	}

	batch := make([]rpc.BatchElem, len(calls))
	for i, call := range calls {
		if call.Native {
			batch[i] = rpc.BatchElem{
				Method: "eth_getBalance",
				Args:   []interface{}{owner, "latest"},
				Result: new(hexutil.Big),
			}
			continue
		}
		batch[i] = rpc.BatchElem{
			Method: "eth_call",
			Args:   []interface{}{callArgs{To: call.Contract, Data: data}, "latest"},
			Result: new(hexutil.Bytes),
		}
	}

	if err := c.rc.BatchCallContext(ctx, batch); err != nil {
		return nil, fmt.Errorf("batch of %d calls on %s: %w", len(batch), c.url, err)
	}

	out := make([]*big.Int, len(batch))
	for i, elem := range batch {
		out[i] = new(big.Int)
		if elem.Error != nil {
			continue
		}
		switch res := elem.Result.(type) {
		case *hexutil.Big:
			out[i] = res.ToInt()
		case *hexutil.Bytes:
			if v, err := UnpackBalanceOf(*res); err == nil {
				out[i] = v
			}
		}
	}
	return out, nil
}
