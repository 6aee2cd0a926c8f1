package quest

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Teresaloving/PlantQuest/internal/chain"
	"github.com/Teresaloving/PlantQuest/internal/crypto"
	"github.com/Teresaloving/PlantQuest/internal/deploy"
	"github.com/Teresaloving/PlantQuest/internal/fhe"
	"github.com/Teresaloving/PlantQuest/internal/models"
)

const testChainID = 31337

type fakeContract struct {
	mu      sync.Mutex
	addr    common.Address
	cfg     models.QuestConfig
	cfgErr  error
	status  map[common.Address]models.QuestStatus
	days    map[common.Address]uint64
	handles map[common.Address]models.Handle
	values  map[models.Handle]*big.Int
	nonce   uint64

	reads       atomic.Int32
	readStarted chan struct{}
	readRelease chan struct{}
}

// gate counts a read and, when armed, blocks it until released.
func (c *fakeContract) gate() {
	c.reads.Add(1)
	if c.readStarted != nil {
		c.readStarted <- struct{}{}
		<-c.readRelease
	}
}

func (c *fakeContract) armReads() {
	c.readStarted = make(chan struct{})
	c.readRelease = make(chan struct{})
}

func newFakeContract() *fakeContract {
	return &fakeContract{
		addr:    common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		status:  make(map[common.Address]models.QuestStatus),
		days:    make(map[common.Address]uint64),
		handles: make(map[common.Address]models.Handle),
		values:  make(map[models.Handle]*big.Int),
	}
}

func (c *fakeContract) Address() common.Address { return c.addr }

func (c *fakeContract) QuestConfig(context.Context) (models.QuestConfig, error) {
	c.gate()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, c.cfgErr
}

func (c *fakeContract) QuestStatus(_ context.Context, user common.Address) (models.QuestStatus, error) {
	c.gate()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status[user], nil
}

func (c *fakeContract) UserProgress(_ context.Context, user common.Address) (models.Handle, error) {
	c.gate()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[user], nil
}

func (c *fakeContract) tx() *types.Transaction {
	c.nonce++
	return types.NewTx(&types.LegacyTx{Nonce: c.nonce, Gas: 21000, GasPrice: big.NewInt(1), To: &c.addr, Value: new(big.Int)})
}

func (c *fakeContract) InitiateQuest(_ *bind.TransactOpts, duration uint64) (*types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = models.QuestConfig{Duration: duration, StartTime: uint64(time.Now().Unix()), IsActive: true}
	return c.tx(), nil
}

// LogDailyProgress mimics the encrypted counter: every call yields a new
// handle, completed days only grow on true.
func (c *fakeContract) LogDailyProgress(opts *bind.TransactOpts, completed bool) (*types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	user := opts.From
	if completed {
		c.days[user]++
	}
	st := c.status[user]
	st.LastRecordTime = uint64(time.Now().Unix())
	c.status[user] = st

	tx := c.tx()
	h := models.Handle(ethcrypto.Keccak256Hash(user.Bytes(), new(big.Int).SetUint64(c.nonce).Bytes()))
	c.handles[user] = h
	c.values[h] = new(big.Int).SetUint64(c.days[user])
	return tx, nil
}

func (c *fakeContract) ClaimFirstCheckInBadge(opts *bind.TransactOpts) (*types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status[opts.From]
	st.FirstCheckInBadgeMinted = true
	c.status[opts.From] = st
	return c.tx(), nil
}

type fakeInstance struct {
	c       *fakeContract
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (f *fakeInstance) ChainID() uint64 { return testChainID }

func (f *fakeInstance) VerifyingContract() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000aa")
}

func (f *fakeInstance) UserDecrypt(_ context.Context, pairs []fhe.HandleContractPair, sig *fhe.DecryptionSignature) (map[models.Handle]*big.Int, error) {
	f.calls.Add(1)
	if sig == nil {
		return nil, fhe.ErrSignatureUnavailable
	}
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	out := make(map[models.Handle]*big.Int, len(pairs))
	for _, p := range pairs {
		out[p.Handle] = f.c.values[p.Handle]
	}
	return out, nil
}

type testWallet struct {
	*chain.Wallet
	receiptStatus uint64
}

func (w *testWallet) WaitMined(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return &types.Receipt{Status: w.receiptStatus, TxHash: tx.Hash()}, nil
}

func newSigner(t *testing.T) *chain.KeySigner {
	t.Helper()
	key, err := crypto.GenerateWalletKey()
	require.NoError(t, err)
	return chain.NewKeySigner(key)
}

type fixture struct {
	wallet   *testWallet
	contract *fakeContract
	inst     *fakeInstance
	session  *Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	w := &testWallet{Wallet: chain.New(nil, testChainID), receiptStatus: types.ReceiptStatusSuccessful}
	w.Connect(newSigner(t))
	c := newFakeContract()
	c.cfg = models.QuestConfig{Duration: 7, StartTime: uint64(time.Now().Unix()), IsActive: true}
	inst := &fakeInstance{c: c}
	s := NewSession(Config{Wallet: w, Contract: c, Instance: inst})
	t.Cleanup(s.Close)
	return &fixture{wallet: w, contract: c, inst: inst, session: s}
}

func TestSevenDayQuestProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.session.RefreshQuestConfig(ctx))
	for _, completed := range []bool{true, true, true, false} {
		require.NoError(t, f.session.LogDailyProgress(ctx, completed))
	}
	require.NoError(t, f.session.DecryptEncDays(ctx))

	snap := f.session.Snapshot()
	days, ok := snap.ClearDays()
	require.True(t, ok)
	assert.Equal(t, int64(3), days.Int64())

	progress, ok := snap.Progress()
	require.True(t, ok)
	assert.Equal(t, uint64(4), progress.RemainingDays)
	assert.Equal(t, 43, progress.Percent)

	status, ok := snap.Status.Get()
	require.True(t, ok)
	assert.True(t, status.HasRecorded())
	assert.Equal(t, "Encrypted days clear value is 3", snap.Message)
}

func TestDecryptZeroHandleSkipsBackend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.session.RefreshEncDays(ctx))
	require.NoError(t, f.session.DecryptEncDays(ctx))

	days, ok := f.session.Snapshot().ClearDays()
	require.True(t, ok)
	assert.Equal(t, int64(0), days.Int64())
	assert.Equal(t, int32(0), f.inst.calls.Load())
}

func TestDecryptWithoutHandleIsNoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.DecryptEncDays(context.Background()))
	snap := f.session.Snapshot()
	assert.False(t, snap.IsDecrypted())
	assert.Equal(t, int32(0), f.inst.calls.Load())
}

func TestConcurrentDecryptSendsOneRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.LogDailyProgress(ctx, true))

	f.inst.started = make(chan struct{})
	f.inst.release = make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- f.session.DecryptEncDays(ctx) }()

	<-f.inst.started
	assert.True(t, f.session.Snapshot().Decrypting)
	require.NoError(t, f.session.DecryptEncDays(ctx))
	close(f.inst.release)
	require.NoError(t, <-errCh)

	assert.Equal(t, int32(1), f.inst.calls.Load())
	assert.True(t, f.session.Snapshot().IsDecrypted())

	// Already decrypted for this handle.
	require.NoError(t, f.session.DecryptEncDays(ctx))
	assert.Equal(t, int32(1), f.inst.calls.Load())
}

func TestAccountSwitchDiscardsDecrypt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.LogDailyProgress(ctx, true))

	f.inst.started = make(chan struct{})
	f.inst.release = make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- f.session.DecryptEncDays(ctx) }()

	<-f.inst.started
	bob := newSigner(t)
	f.wallet.Connect(bob)
	close(f.inst.release)
	require.NoError(t, <-errCh)

	snap := f.session.Snapshot()
	assert.Equal(t, bob.Address(), snap.Account)
	assert.False(t, snap.IsDecrypted())
	assert.Nil(t, snap.Decrypted)
	assert.Equal(t, "Ignore FHE decryption", snap.Message)
}

func TestHandleChangeInvalidatesDecryptedValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.LogDailyProgress(ctx, true))
	require.NoError(t, f.session.DecryptEncDays(ctx))
	require.True(t, f.session.Snapshot().IsDecrypted())

	require.NoError(t, f.session.LogDailyProgress(ctx, true))
	snap := f.session.Snapshot()
	assert.False(t, snap.IsDecrypted())
	_, ok := snap.ClearDays()
	assert.False(t, ok)
	assert.True(t, snap.CanDecrypt())
}

func TestNotDeployedIsPersistent(t *testing.T) {
	w := &testWallet{Wallet: chain.New(nil, testChainID), receiptStatus: types.ReceiptStatusSuccessful}
	w.Connect(newSigner(t))
	s := NewSession(Config{Wallet: w})
	defer s.Close()
	ctx := context.Background()

	require.ErrorIs(t, s.RefreshQuestConfig(ctx), deploy.ErrNotDeployed)
	require.ErrorIs(t, s.DecryptEncDays(ctx), deploy.ErrNotDeployed)
	require.ErrorIs(t, s.LogDailyProgress(ctx, true), deploy.ErrNotDeployed)

	snap := s.Snapshot()
	assert.True(t, snap.NotDeployed)
	assert.Equal(t, "PlantQuest deployment not found for chainId=31337.", snap.Message)
	assert.False(t, snap.CanRecord())
}

func TestRevertedTransactionLeavesState(t *testing.T) {
	f := newFixture(t)
	f.wallet.receiptStatus = types.ReceiptStatusFailed

	err := f.session.LogDailyProgress(context.Background(), true)
	require.ErrorIs(t, err, ErrTxFailed)

	snap := f.session.Snapshot()
	assert.Equal(t, models.NotLoaded, snap.EncDays.State)
	assert.Contains(t, snap.Message, "Record progress failed")
	assert.False(t, snap.Recording)
}

func TestWritesAreSerialized(t *testing.T) {
	f := newFixture(t)
	f.session.recording.Store(true)
	require.ErrorIs(t, f.session.InitiateQuest(context.Background(), 7), ErrBusy)
}

func TestWritesWaitForHandleRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.contract.armReads()
	errCh := make(chan error, 1)
	go func() { errCh <- f.session.RefreshEncDays(ctx) }()

	<-f.contract.readStarted
	require.ErrorIs(t, f.session.LogDailyProgress(ctx, true), ErrBusy)
	close(f.contract.readRelease)
	require.NoError(t, <-errCh)

	f.contract.mu.Lock()
	assert.Equal(t, uint64(0), f.contract.nonce)
	f.contract.mu.Unlock()
}

func TestConcurrentRefreshesCollapse(t *testing.T) {
	tests := []struct {
		name string
		call func(*Session, context.Context) error
	}{
		{"config", (*Session).RefreshQuestConfig},
		{"status", (*Session).RefreshQuestStatus},
		{"progress handle", (*Session).RefreshEncDays},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.contract.armReads()
			errCh := make(chan error, 1)
			go func() { errCh <- tt.call(f.session, ctx) }()

			<-f.contract.readStarted
			require.NoError(t, tt.call(f.session, ctx))
			assert.Equal(t, int32(1), f.contract.reads.Load())

			close(f.contract.readRelease)
			require.NoError(t, <-errCh)
			assert.Equal(t, int32(1), f.contract.reads.Load())
		})
	}
}

func TestDecryptWaitsForHandleRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.LogDailyProgress(ctx, true))

	f.contract.armReads()
	errCh := make(chan error, 1)
	go func() { errCh <- f.session.RefreshEncDays(ctx) }()

	<-f.contract.readStarted
	require.NoError(t, f.session.DecryptEncDays(ctx))
	assert.Equal(t, int32(0), f.inst.calls.Load())
	assert.False(t, f.session.Snapshot().IsDecrypted())

	close(f.contract.readRelease)
	require.NoError(t, <-errCh)

	require.NoError(t, f.session.DecryptEncDays(ctx))
	assert.Equal(t, int32(1), f.inst.calls.Load())
	assert.True(t, f.session.Snapshot().IsDecrypted())
}

type rejectingSigner struct {
	*chain.KeySigner
}

func (rejectingSigner) SignTypedData(context.Context, apitypes.TypedData) ([]byte, error) {
	return nil, errors.New("user rejected the request")
}

func TestDeclinedSignatureAbortsDecrypt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.wallet.Connect(rejectingSigner{KeySigner: newSigner(t)})
	require.NoError(t, f.session.LogDailyProgress(ctx, true))

	err := f.session.DecryptEncDays(ctx)
	require.ErrorIs(t, err, fhe.ErrSignatureUnavailable)

	snap := f.session.Snapshot()
	assert.Equal(t, "Unable to build FHE decryption signature", snap.Message)
	assert.False(t, snap.IsDecrypted())
	assert.False(t, snap.Decrypting)
	assert.Equal(t, int32(0), f.inst.calls.Load())
}

func TestReadFailureKeepsPreviousConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.RefreshQuestConfig(ctx))

	f.contract.mu.Lock()
	f.contract.cfgErr = errors.New("rpc unavailable")
	f.contract.mu.Unlock()

	require.Error(t, f.session.RefreshQuestConfig(ctx))
	snap := f.session.Snapshot()
	assert.Equal(t, models.Failed, snap.Config.State)
	cfg, ok := snap.Config.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(7), cfg.Duration)
	assert.Contains(t, snap.Message, "Failed to refresh quest config")
}

func TestInitiateAndClaimRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.session.InitiateQuest(ctx, 21))
	cfg, ok := f.session.Snapshot().Config.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(21), cfg.Duration)

	require.NoError(t, f.session.ClaimFirstCheckInBadge(ctx))
	status, ok := f.session.Snapshot().Status.Get()
	require.True(t, ok)
	assert.True(t, status.FirstCheckInBadgeMinted)
}

func TestDecryptWithoutInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.LogDailyProgress(ctx, true))
	f.session.SetInstance(nil)

	require.ErrorIs(t, f.session.DecryptEncDays(ctx), ErrNoInstance)
	assert.False(t, f.session.Snapshot().IsDecrypted())
}
