// Package chain provides the wallet session: which chain is connected,
// which account signs, and change notification so in-flight work can tell
// whether its result still applies.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrNoSigner is returned by write paths when no account is connected.
var ErrNoSigner = errors.New("no wallet connected")

// Client is the JSON-RPC surface the wallet needs. *ethclient.Client satisfies it.
type Client interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Env identifies the environment an async operation started in.
type Env struct {
	ChainID uint64
	Signer  common.Address // zero when read-only
}

// Wallet is the connected session. It is safe for concurrent use.
type Wallet struct {
	mu      sync.RWMutex
	client  Client
	chainID uint64
	signer  Signer

	subsMu sync.Mutex
	subs   map[int]func(Env)
	nextID int
}

// Dial connects to rpcURL and reads the chain id.
func Dial(ctx context.Context, rpcURL string) (*Wallet, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	return New(client, id.Uint64()), nil
}

// New wraps an existing client.
func New(client Client, chainID uint64) *Wallet {
	return &Wallet{client: client, chainID: chainID, subs: make(map[int]func(Env))}
}

// Client returns the read/write RPC client.
func (w *Wallet) Client() Client {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.client
}

// Close releases the RPC client when it holds a connection.
func (w *Wallet) Close() {
	if c, ok := w.Client().(interface{ Close() }); ok {
		c.Close()
	}
}

// ChainID returns the connected chain id.
func (w *Wallet) ChainID() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.chainID
}

// Accounts lists the connected accounts (zero or one).
func (w *Wallet) Accounts() []common.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.signer == nil {
		return nil
	}
	return []common.Address{w.signer.Address()}
}

// Signer returns the connected signer, if any.
func (w *Wallet) Signer() (Signer, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.signer, w.signer != nil
}

// Env snapshots the current chain and signer.
func (w *Wallet) Env() Env {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.envLocked()
}

func (w *Wallet) envLocked() Env {
	env := Env{ChainID: w.chainID}
	if w.signer != nil {
		env.Signer = w.signer.Address()
	}
	return env
}

// SameChain reports whether chainID is still the connected chain.
func (w *Wallet) SameChain(chainID uint64) bool {
	return w.ChainID() == chainID
}

// SameSigner reports whether addr is still the connected account.
func (w *Wallet) SameSigner(addr common.Address) bool {
	s, ok := w.Signer()
	if !ok {
		return addr == (common.Address{})
	}
	return s.Address() == addr
}

// Connect switches the signing account. A nil signer disconnects.
func (w *Wallet) Connect(s Signer) {
	w.mu.Lock()
	w.signer = s
	env := w.envLocked()
	w.mu.Unlock()
	slog.Info("wallet account changed", "account", env.Signer.Hex())
	w.notify(env)
}

// SwitchChain replaces the RPC client and chain id.
func (w *Wallet) SwitchChain(client Client, chainID uint64) {
	w.mu.Lock()
	w.client = client
	w.chainID = chainID
	env := w.envLocked()
	w.mu.Unlock()
	slog.Info("wallet chain changed", "chain_id", chainID)
	w.notify(env)
}

// Subscribe registers fn to run after every account or chain change.
func (w *Wallet) Subscribe(fn func(Env)) (unsubscribe func()) {
	w.subsMu.Lock()
	id := w.nextID
	w.nextID++
	w.subs[id] = fn
	w.subsMu.Unlock()
	return func() {
		w.subsMu.Lock()
		delete(w.subs, id)
		w.subsMu.Unlock()
	}
}

func (w *Wallet) notify(env Env) {
	w.subsMu.Lock()
	fns := make([]func(Env), 0, len(w.subs))
	for _, fn := range w.subs {
		fns = append(fns, fn)
	}
	w.subsMu.Unlock()
	for _, fn := range fns {
		fn(env)
	}
}

// TransactOpts builds signing options for the connected account.
func (w *Wallet) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	w.mu.RLock()
	s, chainID := w.signer, w.chainID
	w.mu.RUnlock()
	if s == nil {
		return nil, ErrNoSigner
	}
	opts, err := s.TransactOpts(new(big.Int).SetUint64(chainID))
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

// WaitMined blocks until tx is included and returns its receipt.
func (w *Wallet) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, w.Client(), tx)
}
