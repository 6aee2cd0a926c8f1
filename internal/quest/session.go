// Package quest orchestrates one user's view of the PlantQuest contract:
// cached reads, the three write commands and decryption of the encrypted
// completed-days counter.
package quest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Teresaloving/PlantQuest/internal/chain"
	"github.com/Teresaloving/PlantQuest/internal/deploy"
	"github.com/Teresaloving/PlantQuest/internal/fhe"
	"github.com/Teresaloving/PlantQuest/internal/models"
)

var (
	// ErrBusy is returned when a write is submitted while another is pending
	// or while the progress handle is being refreshed.
	ErrBusy = errors.New("session is busy")
	// ErrTxFailed is returned for a mined transaction with a failed receipt.
	ErrTxFailed = errors.New("transaction failed")
	// ErrNoInstance is returned when decrypting without a ready FHE instance.
	ErrNoInstance = errors.New("fhe instance not ready")
	// ErrStale marks a result produced for an environment that has since changed.
	ErrStale = errors.New("environment changed")
)

// Contract is the PlantQuest surface the session drives.
// *contract.PlantQuest satisfies it.
type Contract interface {
	Address() common.Address
	QuestConfig(ctx context.Context) (models.QuestConfig, error)
	QuestStatus(ctx context.Context, user common.Address) (models.QuestStatus, error)
	UserProgress(ctx context.Context, user common.Address) (models.Handle, error)
	InitiateQuest(opts *bind.TransactOpts, duration uint64) (*types.Transaction, error)
	LogDailyProgress(opts *bind.TransactOpts, completed bool) (*types.Transaction, error)
	ClaimFirstCheckInBadge(opts *bind.TransactOpts) (*types.Transaction, error)
}

// Wallet is the connected session. *chain.Wallet satisfies it.
type Wallet interface {
	Env() chain.Env
	Signer() (chain.Signer, bool)
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	Subscribe(fn func(chain.Env)) (unsubscribe func())
}

// Config wires a Session.
type Config struct {
	Wallet   Wallet
	Contract Contract // nil when nothing is deployed on the wallet's chain
	Instance fhe.Instance
	Storage  fhe.StringStorage
	Sign     fhe.SignOptions
}

type state struct {
	config    models.Loadable[models.QuestConfig]
	status    models.Loadable[models.QuestStatus]
	encDays   models.Loadable[models.Handle]
	decrypted *models.DecryptedValue
	message   string
}

// Session is one user's quest session. It is safe for concurrent use.
type Session struct {
	wallet  Wallet
	storage fhe.StringStorage
	sign    fhe.SignOptions

	mu       sync.RWMutex
	contract Contract
	instance fhe.Instance
	st       state

	gen atomic.Uint64

	configLoading atomic.Bool
	statusLoading atomic.Bool
	refreshing    atomic.Bool
	decrypting    atomic.Bool
	recording     atomic.Bool

	unsubscribe func()
}

// NewSession builds a session and starts following wallet changes.
func NewSession(cfg Config) *Session {
	s := &Session{
		wallet:   cfg.Wallet,
		storage:  cfg.Storage,
		sign:     cfg.Sign,
		contract: cfg.Contract,
		instance: cfg.Instance,
	}
	if s.storage == nil {
		s.storage = fhe.NewMemoryStorage()
	}
	s.unsubscribe = cfg.Wallet.Subscribe(s.onEnvChange)
	if cfg.Contract == nil {
		slog.Warn("plantquest deployment not found", "chain_id", cfg.Wallet.Env().ChainID)
	}
	return s
}

// Close stops following wallet changes.
func (s *Session) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *Session) onEnvChange(env chain.Env) {
	s.gen.Add(1)
	s.mu.Lock()
	s.st.status = models.Loadable[models.QuestStatus]{}
	s.st.encDays = models.Loadable[models.Handle]{}
	s.st.decrypted = nil
	s.mu.Unlock()
	slog.Debug("quest session environment changed", "chain_id", env.ChainID, "account", env.Signer.Hex())
}

// SetContract replaces the bound contract, for example after a chain switch.
// nil puts the session in the not-deployed state.
func (s *Session) SetContract(c Contract) {
	s.gen.Add(1)
	s.mu.Lock()
	s.contract = c
	s.st = state{}
	s.mu.Unlock()
}

// SetInstance replaces the FHE instance used for decryption.
func (s *Session) SetInstance(inst fhe.Instance) {
	s.gen.Add(1)
	s.mu.Lock()
	s.instance = inst
	s.mu.Unlock()
}

// ticket captures the environment an async operation started in.
type ticket struct {
	gen      uint64
	env      chain.Env
	contract common.Address
}

func (s *Session) begin() (ticket, Contract, error) {
	s.mu.RLock()
	c := s.contract
	s.mu.RUnlock()
	if c == nil {
		return ticket{}, nil, deploy.ErrNotDeployed
	}
	return ticket{gen: s.gen.Load(), env: s.wallet.Env(), contract: c.Address()}, c, nil
}

// current reports whether results for t may still be applied.
func (s *Session) current(t ticket) bool {
	if s.gen.Load() != t.gen || s.wallet.Env() != t.env {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contract != nil && s.contract.Address() == t.contract
}

// apply runs fn under the state lock if t is still current.
func (s *Session) apply(t ticket, fn func(*state)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen.Load() != t.gen || s.contract == nil || s.contract.Address() != t.contract || s.wallet.Env() != t.env {
		return ErrStale
	}
	fn(&s.st)
	return nil
}

func (s *Session) notify(msg string) {
	s.mu.Lock()
	if s.contract != nil {
		s.st.message = msg
	}
	s.mu.Unlock()
	slog.Info(msg)
}

func (s *Session) notifyErr(msg string, err error) {
	s.mu.Lock()
	if s.contract != nil {
		s.st.message = msg
	}
	s.mu.Unlock()
	slog.Warn(msg, "error", err)
}

// RefreshQuestConfig re-reads the quest configuration. Concurrent calls
// collapse into the one already running.
func (s *Session) RefreshQuestConfig(ctx context.Context) error {
	t, c, err := s.begin()
	if err != nil {
		return err
	}
	if !s.configLoading.CompareAndSwap(false, true) {
		return nil
	}
	defer s.configLoading.Store(false)

	cfg, err := c.QuestConfig(ctx)
	if err != nil {
		if s.apply(t, func(st *state) { st.config = st.config.Fail(err) }) == nil {
			s.notifyErr(fmt.Sprintf("Failed to refresh quest config: %v", err), err)
		}
		return fmt.Errorf("refresh quest config: %w", err)
	}
	_ = s.apply(t, func(st *state) { st.config = models.Load(cfg) })
	return nil
}

// RefreshQuestStatus re-reads the connected account's quest status.
func (s *Session) RefreshQuestStatus(ctx context.Context) error {
	t, c, err := s.begin()
	if err != nil {
		return err
	}
	if t.env.Signer == (common.Address{}) {
		return chain.ErrNoSigner
	}
	if !s.statusLoading.CompareAndSwap(false, true) {
		return nil
	}
	defer s.statusLoading.Store(false)

	status, err := c.QuestStatus(ctx, t.env.Signer)
	if err != nil {
		if s.apply(t, func(st *state) { st.status = st.status.Fail(err) }) == nil {
			s.notifyErr(fmt.Sprintf("Failed to refresh quest status: %v", err), err)
		}
		return fmt.Errorf("refresh quest status: %w", err)
	}
	_ = s.apply(t, func(st *state) { st.status = models.Load(status) })
	return nil
}

// RefreshEncDays re-reads the encrypted completed-days handle. Without a
// connected account the handle is cleared.
func (s *Session) RefreshEncDays(ctx context.Context) error {
	t, c, err := s.begin()
	if err != nil {
		return err
	}
	if !s.refreshing.CompareAndSwap(false, true) {
		return nil
	}
	defer s.refreshing.Store(false)

	if t.env.Signer == (common.Address{}) {
		_ = s.apply(t, func(st *state) { st.encDays = models.Loadable[models.Handle]{} })
		return nil
	}

	h, err := c.UserProgress(ctx, t.env.Signer)
	if err != nil {
		if s.apply(t, func(st *state) { st.encDays = st.encDays.Fail(err) }) == nil {
			s.notifyErr(fmt.Sprintf("PlantQuest.fetchUserProgress() call failed: %v", err), err)
		}
		return fmt.Errorf("refresh progress handle: %w", err)
	}
	_ = s.apply(t, func(st *state) { st.encDays = models.Load(h) })
	return nil
}

// Refresh re-reads config, status and the progress handle.
func (s *Session) Refresh(ctx context.Context) error {
	var errs []error
	errs = append(errs, s.RefreshQuestConfig(ctx))
	if err := s.RefreshQuestStatus(ctx); !errors.Is(err, chain.ErrNoSigner) {
		errs = append(errs, err)
	}
	errs = append(errs, s.RefreshEncDays(ctx))
	return errors.Join(errs...)
}

// DecryptEncDays decrypts the current handle through the FHE backend. It
// does nothing while a refresh or another decrypt is running or when the
// current handle is already decrypted. A zero handle decrypts to 0 without
// a backend call. Results for an environment that changed meanwhile are
// dropped.
func (s *Session) DecryptEncDays(ctx context.Context) error {
	t, c, err := s.begin()
	if err != nil {
		return err
	}
	if s.refreshing.Load() || s.decrypting.Load() {
		return nil
	}

	s.mu.Lock()
	h, ok := s.st.encDays.Get()
	if !ok {
		s.st.decrypted = nil
		s.mu.Unlock()
		return nil
	}
	if s.st.decrypted.CurrentFor(&h) {
		s.mu.Unlock()
		return nil
	}
	inst := s.instance
	s.mu.Unlock()

	if !s.decrypting.CompareAndSwap(false, true) {
		return nil
	}
	defer s.decrypting.Store(false)

	if h == models.ZeroHandle {
		if s.apply(t, func(st *state) { st.decrypted = &models.DecryptedValue{Handle: h, Clear: new(big.Int)} }) == nil {
			s.notify("Encrypted days clear value is 0")
		}
		return nil
	}

	signer, ok := s.wallet.Signer()
	if !ok || signer.Address() != t.env.Signer {
		return chain.ErrNoSigner
	}
	if inst == nil {
		s.notifyErr("FHE instance is not ready", ErrNoInstance)
		return ErrNoInstance
	}

	s.notify("Start decrypt")
	sig, err := fhe.LoadOrSign(ctx, inst, []common.Address{c.Address()}, signer, s.storage, s.sign)
	if err != nil {
		s.notifyErr("Unable to build FHE decryption signature", err)
		return err
	}
	if !s.current(t) {
		s.notify("Ignore FHE decryption")
		return nil
	}

	s.notify("Call FHE userDecrypt...")
	values, err := inst.UserDecrypt(ctx, []fhe.HandleContractPair{{Handle: h, ContractAddress: c.Address()}}, sig)
	if err != nil {
		s.notifyErr(fmt.Sprintf("FHE userDecrypt failed: %v", err), err)
		return fmt.Errorf("decrypt progress: %w", err)
	}
	value, ok := values[h]
	if !ok {
		value = new(big.Int)
	}

	err = s.apply(t, func(st *state) { st.decrypted = &models.DecryptedValue{Handle: h, Clear: value} })
	if errors.Is(err, ErrStale) {
		s.notify("Ignore FHE decryption")
		return nil
	}
	s.notify("FHE userDecrypt completed!")
	s.notify(fmt.Sprintf("Encrypted days clear value is %s", value))
	return nil
}

// transact sends one transaction behind the recording flag and waits for
// a successful receipt. It refuses to start while the progress handle is
// being refreshed.
func (s *Session) transact(ctx context.Context, label string, send func(Contract, *bind.TransactOpts) (*types.Transaction, error)) (ticket, error) {
	t, c, err := s.begin()
	if err != nil {
		return t, err
	}
	if s.refreshing.Load() || !s.recording.CompareAndSwap(false, true) {
		return t, ErrBusy
	}
	defer s.recording.Store(false)

	opts, err := s.wallet.TransactOpts(ctx)
	if err != nil {
		s.notifyErr("Please connect your wallet first", err)
		return t, err
	}

	tx, err := send(c, opts)
	if err != nil {
		s.notifyErr(fmt.Sprintf("%s failed: %v", label, err), err)
		return t, fmt.Errorf("%s: %w", label, err)
	}
	s.notify(fmt.Sprintf("Wait for tx:%s...", tx.Hash().Hex()))

	receipt, err := s.wallet.WaitMined(ctx, tx)
	if err != nil {
		s.notifyErr(fmt.Sprintf("%s failed: %v", label, err), err)
		return t, fmt.Errorf("%s: %w", label, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		s.notifyErr(fmt.Sprintf("%s failed: status=%d", label, receipt.Status), ErrTxFailed)
		return t, fmt.Errorf("%s: %w", label, ErrTxFailed)
	}
	return t, nil
}

// LogDailyProgress records today's result and refreshes the progress
// handle and status.
func (s *Session) LogDailyProgress(ctx context.Context, completed bool) error {
	s.notify(fmt.Sprintf("Recording progress (completed: %t)...", completed))
	t, err := s.transact(ctx, "Record progress", func(c Contract, opts *bind.TransactOpts) (*types.Transaction, error) {
		return c.LogDailyProgress(opts, completed)
	})
	if err != nil {
		return err
	}
	if !s.current(t) {
		s.notify("Ignore record progress")
		return nil
	}
	s.notify("Record progress completed")
	_ = s.RefreshEncDays(ctx)
	_ = s.RefreshQuestStatus(ctx)
	return nil
}

// InitiateQuest starts a quest of duration days and refreshes the config.
func (s *Session) InitiateQuest(ctx context.Context, duration uint64) error {
	s.notify(fmt.Sprintf("Starting quest (duration: %d days)...", duration))
	t, err := s.transact(ctx, "Start quest", func(c Contract, opts *bind.TransactOpts) (*types.Transaction, error) {
		return c.InitiateQuest(opts, duration)
	})
	if err != nil {
		return err
	}
	if !s.current(t) {
		s.notify("Ignore start quest")
		return nil
	}
	s.notify("Quest started!")
	_ = s.RefreshQuestConfig(ctx)
	return nil
}

// ClaimFirstCheckInBadge claims the first check-in badge and refreshes status.
func (s *Session) ClaimFirstCheckInBadge(ctx context.Context) error {
	s.notify("Claiming first check-in badge...")
	t, err := s.transact(ctx, "Claim", func(c Contract, opts *bind.TransactOpts) (*types.Transaction, error) {
		return c.ClaimFirstCheckInBadge(opts)
	})
	if err != nil {
		return err
	}
	if !s.current(t) {
		s.notify("Ignore claim")
		return nil
	}
	s.notify("First check-in badge claimed successfully!")
	_ = s.RefreshQuestStatus(ctx)
	return nil
}
