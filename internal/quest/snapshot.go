package quest

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Teresaloving/PlantQuest/internal/models"
)

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	ChainID     uint64
	Account     common.Address
	Contract    common.Address
	NotDeployed bool

	Config    models.Loadable[models.QuestConfig]
	Status    models.Loadable[models.QuestStatus]
	EncDays   models.Loadable[models.Handle]
	Decrypted *models.DecryptedValue
	Message   string

	Refreshing  bool
	Decrypting  bool
	Recording   bool
	HasInstance bool
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	env := s.wallet.Env()
	snap := Snapshot{
		ChainID:    env.ChainID,
		Account:    env.Signer,
		Refreshing: s.refreshing.Load(),
		Decrypting: s.decrypting.Load(),
		Recording:  s.recording.Load(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.contract == nil {
		snap.NotDeployed = true
		snap.Message = fmt.Sprintf("PlantQuest deployment not found for chainId=%d.", env.ChainID)
		return snap
	}
	snap.Contract = s.contract.Address()
	snap.HasInstance = s.instance != nil
	snap.Config = s.st.config
	snap.Status = s.st.status
	snap.EncDays = s.st.encDays
	snap.Message = s.st.message
	if s.st.decrypted != nil {
		d := *s.st.decrypted
		snap.Decrypted = &d
	}
	return snap
}

// IsDecrypted reports whether the decrypted value belongs to the current
// handle. A handle change invalidates it immediately.
func (s Snapshot) IsDecrypted() bool {
	h, ok := s.EncDays.Get()
	return ok && s.Decrypted.CurrentFor(&h)
}

// ClearDays returns the decrypted completed days for the current handle.
func (s Snapshot) ClearDays() (*big.Int, bool) {
	if !s.IsDecrypted() {
		return nil, false
	}
	return s.Decrypted.Clear, true
}

// Progress derives remaining days and percent from the decrypted days.
func (s Snapshot) Progress() (models.Progress, bool) {
	cfg, ok := s.Config.Get()
	if !ok {
		return models.Progress{}, false
	}
	days, ok := s.ClearDays()
	if !ok {
		return models.Progress{}, false
	}
	return models.NewProgress(days.Uint64(), cfg.Duration), true
}

// CanDecrypt reports whether DecryptEncDays would do work.
func (s Snapshot) CanDecrypt() bool {
	_, ok := s.EncDays.Get()
	return !s.NotDeployed && s.HasInstance && s.Account != (common.Address{}) &&
		ok && !s.Refreshing && !s.Decrypting && !s.IsDecrypted()
}

// CanRecord reports whether a write command may be submitted.
func (s Snapshot) CanRecord() bool {
	return !s.NotDeployed && s.Account != (common.Address{}) && !s.Recording
}
