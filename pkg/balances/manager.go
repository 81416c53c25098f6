package balances

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Hooks are invoked around every fetch.
type Hooks struct {
	OnLoadStart func()
	OnLoadDone  func()
}

// Options configure a Manager. The zero value is usable.
type Options struct {
	Logger *zap.Logger
	// Fallbacks resolves the provider tried once when a batch fails on the wallet provider.
	Fallbacks FallbackResolver
	// ChainID overrides the wallet chain when non zero.
	ChainID uint64
	// ChunkSize caps the number of reads per batch; defaults to DefaultChunkSize.
	ChunkSize int
	// DisableWorker runs reactive fetches on their own goroutine instead of the worker pool.
	DisableWorker bool
	// DiscardStale drops results of reactive fetches superseded by a newer one.
	DiscardStale bool
	Publisher    Publisher
	Hooks        Hooks
}

type job struct {
	generation uint64
	chainID    uint64
	owner      common.Address
	wallet     Wallet
	tokens     []Token
}

// Manager keeps per-chain balance snapshots of the connected wallet in sync
// with the chain.
type Manager struct {
	logger  *zap.Logger
	opts    Options
	cache   *Cache
	fetcher *fetcher

	mu     sync.RWMutex
	wallet Wallet
	tokens []Token
	flags  Flags
	err    error
	// settled holds the flags of the last reconciliation; pending counts fetches in flight.
	settled Flags
	pending int

	// reconcileMu serializes merges so snapshot and manager nonces move together.
	reconcileMu sync.Mutex
	nonce       atomic.Uint64
	generation  atomic.Uint64

	worker pond.Pool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
	once   sync.Once

	// dispatchMu orders dispatches against Close.
	dispatchMu sync.Mutex
}

func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger: opts.Logger,
		opts:   opts,
		cache:  NewCache(),
		fetcher: &fetcher{
			logger:    opts.Logger,
			fallbacks: opts.Fallbacks,
			chunkSize: opts.ChunkSize,
		},
		ctx:    ctx,
		cancel: cancel,
	}
	if !opts.DisableWorker {
		m.worker = pond.NewPool(1)
	}
	return m
}

// SetWallet replaces the wallet state. A new owner resets every chain's
// snapshot; any change of owner, chain or activity triggers a reactive fetch.
func (m *Manager) SetWallet(w Wallet) {
	m.reconcileMu.Lock()
	m.mu.Lock()
	prev := m.wallet
	m.wallet = w
	m.mu.Unlock()
	if prev.Address != w.Address {
		m.cache.ResetOwner(w.Address)
	}
	m.reconcileMu.Unlock()

	if prev.Address != w.Address || prev.ChainID != w.ChainID || prev.Active != w.Active {
		m.refresh()
	}
}

// SetTokens replaces the token list and triggers a reactive fetch when it changed.
func (m *Manager) SetTokens(tokens []Token) {
	m.mu.Lock()
	changed := !slices.Equal(m.tokens, tokens)
	if changed {
		m.tokens = slices.Clone(tokens)
	}
	m.mu.Unlock()

	if changed {
		m.refresh()
	}
}

// SetTokensJSON is SetTokens for a raw JSON list. Malformed input counts as an empty list.
func (m *Manager) SetTokensJSON(raw []byte) {
	tokens, err := ParseTokens(raw)
	if err != nil {
		m.logger.Warn("Ignoring malformed token list", zap.Error(err))
		tokens = nil
	}
	m.SetTokens(tokens)
}

// Update fetches the whole token list on the active chain, chunk by chunk,
// and returns the resulting balances. It never fails; see Err and Status.
func (m *Manager) Update(ctx context.Context) Balances {
	w, tokens := m.inputs()
	if !w.Active || w.Address == (common.Address{}) || len(tokens) == 0 {
		return Balances{}
	}
	chainID := m.chainID(w)

	m.startLoading()
	for _, part := range chunk(tokens, m.opts.ChunkSize) {
		records, err := m.fetcher.fetchChunk(ctx, chainID, w.Provider, w.Address, part)
		m.reconcile(chainID, w.Address, records, err)
	}
	m.loadDone()

	return m.cache.Balances(chainID)
}

// UpdateSome fetches tokens in a single batch on the active chain and returns
// the resulting balances.
func (m *Manager) UpdateSome(ctx context.Context, tokens []Token) Balances {
	w, _ := m.inputs()
	chainID := m.chainID(w)
	if !w.Active || w.Address == (common.Address{}) || len(tokens) == 0 {
		return m.cache.Balances(chainID)
	}

	m.startLoading()
	records, err := m.fetcher.fetchChunk(ctx, chainID, w.Provider, w.Address, tokens)
	m.reconcile(chainID, w.Address, records, err)
	m.loadDone()

	return m.cache.Balances(chainID)
}

// refresh dispatches a background fetch of the current inputs.
func (m *Manager) refresh() {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()
	if m.closed.Load() {
		return
	}
	w, tokens := m.inputs()
	if !w.Active || w.Address == (common.Address{}) || len(tokens) == 0 {
		return
	}

	j := job{
		generation: m.generation.Add(1),
		chainID:    m.chainID(w),
		owner:      w.Address,
		wallet:     w,
		tokens:     tokens,
	}
	m.startLoading()
	m.logger.Debug("Dispatching balance fetch",
		zap.Uint64("chain_id", j.chainID),
		zap.String("owner", j.owner.Hex()),
		zap.Int("tokens", len(j.tokens)),
		zap.Bool("worker", m.worker != nil))

	m.wg.Add(1)
	if m.worker == nil {
		go func() {
			defer m.wg.Done()
			records, err := m.fetcher.fetchAll(m.ctx, j.chainID, j.wallet.Provider, j.owner, j.tokens)
			m.deliver(j, records, err)
		}()
		return
	}

	var (
		records  Balances
		fetchErr error
	)
	task := m.worker.SubmitErr(func() error {
		records, fetchErr = m.fetcher.fetchAll(m.ctx, j.chainID, j.wallet.Provider, j.owner, j.tokens)
		return nil
	})
	go func() {
		defer m.wg.Done()
		if err := task.Wait(); err != nil {
			if m.ctx.Err() != nil {
				m.loadDone()
				return
			}
			m.logger.Error("Balance worker failed, fetching synchronously", zap.Error(err))
			m.UpdateSome(m.ctx, j.tokens)
			m.loadDone()
			return
		}
		m.deliver(j, records, fetchErr)
	}()
}

// deliver reconciles the result of a reactive fetch.
func (m *Manager) deliver(j job, records Balances, err error) {
	defer m.loadDone()
	if m.ctx.Err() != nil {
		return
	}
	if m.opts.DiscardStale && j.generation != m.generation.Load() {
		m.logger.Debug("Dropping superseded balance fetch",
			zap.Uint64("chain_id", j.chainID),
			zap.Uint64("generation", j.generation))
		return
	}
	m.reconcile(j.chainID, j.owner, records, err)
}

// reconcile merges one result into the cache and publishes the new state.
// A failed result without records leaves the snapshot and nonces untouched.
func (m *Manager) reconcile(chainID uint64, owner common.Address, records Balances, err error) {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	if current, _ := m.inputs(); current.Address != owner {
		m.logger.Debug("Dropping balances of a previous owner",
			zap.Uint64("chain_id", chainID),
			zap.String("owner", owner.Hex()))
		return
	}

	var snap Snapshot
	if err == nil || len(records) > 0 {
		snap = m.cache.Merge(chainID, owner, records)
		m.nonce.Add(1)
	} else {
		snap, _ = m.cache.Get(chainID)
	}

	m.mu.Lock()
	m.err = err
	m.flags = settledFlags(err)
	m.settled = m.flags
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("Balance fetch failed", zap.Uint64("chain_id", chainID), zap.Error(err))
	}
	m.publish(chainID, owner, snap, len(records), err)
}

func (m *Manager) publish(chainID uint64, owner common.Address, snap Snapshot, count int, err error) {
	if m.opts.Publisher == nil {
		return
	}
	event := Event{
		Type:          EventBalanceUpdated,
		ChainID:       chainID,
		Owner:         owner.Hex(),
		Nonce:         m.nonce.Load(),
		SnapshotNonce: snap.Nonce,
		Count:         count,
		Status:        settledFlags(err).Status(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	m.opts.Publisher.Publish(m.ctx, Channel(chainID), event)
}

func (m *Manager) startLoading() {
	m.mu.Lock()
	m.pending++
	m.flags = loadingFlags(m.flags)
	m.mu.Unlock()
	if m.opts.Hooks.OnLoadStart != nil {
		m.opts.Hooks.OnLoadStart()
	}
}

// loadDone ends one fetch. When the last fetch in flight ends without a
// reconciled result, the flags go back to the last settled state.
func (m *Manager) loadDone() {
	m.mu.Lock()
	m.pending--
	if m.pending == 0 && m.flags.IsLoading {
		m.flags = m.settled
	}
	m.mu.Unlock()

	if m.opts.Hooks.OnLoadDone != nil {
		m.opts.Hooks.OnLoadDone()
	}
}

func (m *Manager) inputs() (Wallet, []Token) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wallet, m.tokens
}

// ActiveChainID is the fixed override, else the wallet chain, else DefaultChainID.
// The same chain selects the provider and the snapshot written.
func ActiveChainID(override, walletChainID uint64) uint64 {
	switch {
	case override != 0:
		return override
	case walletChainID != 0:
		return walletChainID
	default:
		return DefaultChainID
	}
}

func (m *Manager) chainID(w Wallet) uint64 {
	return ActiveChainID(m.opts.ChainID, w.ChainID)
}

// ChainID returns the chain currently used for fetching and storage.
func (m *Manager) ChainID() uint64 {
	w, _ := m.inputs()
	return m.chainID(w)
}

// Wallet returns the current wallet state.
func (m *Manager) Wallet() Wallet {
	w, _ := m.inputs()
	return w
}

// Tokens returns a copy of the current token list.
func (m *Manager) Tokens() []Token {
	_, tokens := m.inputs()
	return slices.Clone(tokens)
}

// Data returns a copy of the balances of every chain.
func (m *Manager) Data() map[uint64]Balances {
	return m.cache.All()
}

// Snapshot returns a copy of the snapshot of chainID.
func (m *Manager) Snapshot(chainID uint64) (Snapshot, bool) {
	return m.cache.Get(chainID)
}

func (m *Manager) Flags() Flags {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags
}

func (m *Manager) Status() Status {
	return m.Flags().Status()
}

// Nonce increases by one for every merged result.
func (m *Manager) Nonce() uint64 {
	return m.nonce.Load()
}

// Err returns the error of the most recent reconciliation, nil when it succeeded.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// Close stops accepting reactive fetches, drains the pending ones and stops
// the worker.
func (m *Manager) Close() {
	m.once.Do(func() {
		m.dispatchMu.Lock()
		m.closed.Store(true)
		m.dispatchMu.Unlock()

		if m.worker != nil {
			m.worker.StopAndWait()
		}
		m.wg.Wait()
		m.cancel()
	})
}
