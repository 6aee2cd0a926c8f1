// Package contract binds the PlantQuest contract over go-ethereum.
package contract

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Teresaloving/PlantQuest/internal/models"
)

//go:embed abi/PlantQuest.json
var defaultABI []byte

var errUnexpectedOutput = errors.New("unexpected contract output")

// ParseABI parses raw, falling back to the bundled ABI when raw is empty.
func ParseABI(raw []byte) (abi.ABI, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "[]" {
		raw = defaultABI
	}
	return abi.JSON(bytes.NewReader(raw))
}

// PlantQuest is a typed handle to one deployed contract. Reads go through
// the caller, writes through the transactor, and log scans through logs.
// Any of transactor and logs may be nil when unused.
type PlantQuest struct {
	address common.Address
	abi     abi.ABI
	bound   *bind.BoundContract
	logs    LogBackend
}

// New binds address using the ABI from a deployment record (or the bundled one).
func New(address common.Address, rawABI []byte, caller bind.ContractCaller, transactor bind.ContractTransactor, logs LogBackend) (*PlantQuest, error) {
	parsed, err := ParseABI(rawABI)
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	return &PlantQuest{
		address: address,
		abi:     parsed,
		bound:   bind.NewBoundContract(address, parsed, caller, transactor, nil),
		logs:    logs,
	}, nil
}

// Address returns the bound contract address.
func (c *PlantQuest) Address() common.Address {
	return c.address
}

func (c *PlantQuest) call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}

// QuestConfig calls getQuestConfig().
func (c *PlantQuest) QuestConfig(ctx context.Context) (models.QuestConfig, error) {
	out, err := c.call(ctx, "getQuestConfig")
	if err != nil {
		return models.QuestConfig{}, err
	}
	if len(out) != 4 {
		return models.QuestConfig{}, fmt.Errorf("getQuestConfig: %w", errUnexpectedOutput)
	}
	duration, ok1 := out[0].(*big.Int)
	start, ok2 := out[1].(*big.Int)
	active, ok3 := out[2].(bool)
	organizer, ok4 := out[3].(common.Address)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return models.QuestConfig{}, fmt.Errorf("getQuestConfig: %w", errUnexpectedOutput)
	}
	return models.QuestConfig{
		Duration:  duration.Uint64(),
		StartTime: start.Uint64(),
		IsActive:  active,
		Organizer: organizer,
	}, nil
}

// QuestStatus calls getQuestStatus(user).
func (c *PlantQuest) QuestStatus(ctx context.Context, user common.Address) (models.QuestStatus, error) {
	out, err := c.call(ctx, "getQuestStatus", user)
	if err != nil {
		return models.QuestStatus{}, err
	}
	if len(out) != 4 {
		return models.QuestStatus{}, fmt.Errorf("getQuestStatus: %w", errUnexpectedOutput)
	}
	completed, ok1 := out[0].(bool)
	minted, ok2 := out[1].(bool)
	last, ok3 := out[2].(*big.Int)
	firstBadge, ok4 := out[3].(bool)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return models.QuestStatus{}, fmt.Errorf("getQuestStatus: %w", errUnexpectedOutput)
	}
	return models.QuestStatus{
		QuestCompleted:          completed,
		BadgeMinted:             minted,
		LastRecordTime:          last.Uint64(),
		FirstCheckInBadgeMinted: firstBadge,
	}, nil
}

// UserProgress calls fetchUserProgress(user) and returns the encrypted
// completed-days handle.
func (c *PlantQuest) UserProgress(ctx context.Context, user common.Address) (models.Handle, error) {
	out, err := c.call(ctx, "fetchUserProgress", user)
	if err != nil {
		return models.ZeroHandle, err
	}
	if len(out) == 0 {
		return models.ZeroHandle, fmt.Errorf("fetchUserProgress: %w", errUnexpectedOutput)
	}
	h, ok := out[0].([32]byte)
	if !ok {
		return models.ZeroHandle, fmt.Errorf("fetchUserProgress: %w", errUnexpectedOutput)
	}
	return models.Handle(h), nil
}

// InitiateQuest sends initiateQuest(duration).
func (c *PlantQuest) InitiateQuest(opts *bind.TransactOpts, duration uint64) (*types.Transaction, error) {
	return c.bound.Transact(opts, "initiateQuest", new(big.Int).SetUint64(duration))
}

// LogDailyProgress sends logDailyProgress(completed).
func (c *PlantQuest) LogDailyProgress(opts *bind.TransactOpts, completed bool) (*types.Transaction, error) {
	return c.bound.Transact(opts, "logDailyProgress", completed)
}

// ClaimFirstCheckInBadge sends claimFirstCheckInBadge().
func (c *PlantQuest) ClaimFirstCheckInBadge(opts *bind.TransactOpts) (*types.Transaction, error) {
	if _, ok := c.abi.Methods["claimFirstCheckInBadge"]; !ok {
		return nil, errors.New("contract ABI has no claimFirstCheckInBadge; redeploy the contract")
	}
	return c.bound.Transact(opts, "claimFirstCheckInBadge")
}
