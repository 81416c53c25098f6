package evm

import (
	"context"
	"slices"

	"github.com/puzpuzpuz/xsync/v4"
)

// Factory produces readers for a given endpoint.
type Factory interface {
	NewReader(ctx context.Context, url string) (Reader, error)
}

type httpFactory struct {
	opts Opts
}

// NewHTTPFactory returns a factory that builds clients with shared defaults.
func NewHTTPFactory(opts Opts) Factory {
	return &httpFactory{opts: opts}
}

func (f *httpFactory) NewReader(ctx context.Context, url string) (Reader, error) {
	return Dial(ctx, url, f.opts)
}

// Endpoint groups the readers known for one chain.
type Endpoint struct {
	ChainID  uint64
	Name     string
	Primary  Reader
	Fallback Reader
}

// Registry resolves readers by chain ID. Safe for concurrent use.
type Registry struct {
	chains *xsync.Map[uint64, Endpoint]
}

func NewRegistry() *Registry {
	return &Registry{chains: xsync.NewMap[uint64, Endpoint]()}
}

// Register adds or replaces the endpoint of e.ChainID.
func (r *Registry) Register(e Endpoint) {
	r.chains.Store(e.ChainID, e)
}

func (r *Registry) Endpoint(chainID uint64) (Endpoint, bool) {
	return r.chains.Load(chainID)
}

// Primary returns the reader used by default for chainID.
func (r *Registry) Primary(chainID uint64) (Reader, bool) {
	e, ok := r.chains.Load(chainID)
	if !ok || e.Primary == nil {
		return nil, false
	}
	return e.Primary, true
}

// Fallback returns the reader tried once when the primary batch fails.
func (r *Registry) Fallback(chainID uint64) (Reader, bool) {
	e, ok := r.chains.Load(chainID)
	if !ok || e.Fallback == nil {
		return nil, false
	}
	return e.Fallback, true
}

// Chains returns the registered chain IDs in ascending order.
func (r *Registry) Chains() []uint64 {
	ids := make([]uint64, 0, r.chains.Size())
	r.chains.Range(func(id uint64, _ Endpoint) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}

// Close closes every reader that holds a connection.
func (r *Registry) Close() {
	r.chains.Range(func(_ uint64, e Endpoint) bool {
		for _, rd := range []Reader{e.Primary, e.Fallback} {
			if c, ok := rd.(interface{ Close() }); ok {
				c.Close()
			}
		}
		return true
	})
}
