package fhe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/Teresaloving/PlantQuest/internal/chain"
	"github.com/Teresaloving/PlantQuest/internal/crypto"
	"github.com/Teresaloving/PlantQuest/internal/models"
	"github.com/Teresaloving/PlantQuest/internal/transport"
)

// ErrSignatureUnavailable is returned when no usable decryption signature
// could be loaded or produced.
var ErrSignatureUnavailable = errors.New("decryption signature unavailable")

const (
	decryptionDomainName    = "Decryption"
	decryptionDomainVersion = "1"
	decryptionPrimaryType   = "UserDecryptRequestVerification"
	defaultExtraData        = "0x00"
	signatureKeyPrefix      = "fhe.decryption-signature."
)

// timeNow is replaced in tests.
var timeNow = time.Now

// DecryptionSignature authorizes the holder of its key pair to decrypt
// values of ContractAddresses owned by UserAddress until it expires.
type DecryptionSignature struct {
	PublicKey         string           `json:"publicKey"`
	PrivateKey        string           `json:"privateKey"`
	Signature         string           `json:"signature"`
	ContractAddresses []common.Address `json:"contractAddresses"`
	UserAddress       common.Address   `json:"userAddress"`
	StartTimestamp    int64            `json:"startTimestamp"`
	DurationDays      int64            `json:"durationDays"`
}

// ExpiresAt is the first instant the signature is no longer valid.
func (s *DecryptionSignature) ExpiresAt() time.Time {
	return time.Unix(s.StartTimestamp+s.DurationDays*models.SecondsPerDay, 0)
}

// IsValid reports whether the signature has not yet expired at t.
func (s *DecryptionSignature) IsValid(t time.Time) bool {
	return t.Before(s.ExpiresAt())
}

// Covers reports whether the signature was issued for user over exactly
// the given contracts.
func (s *DecryptionSignature) Covers(user common.Address, contracts []common.Address) bool {
	if s.UserAddress != user {
		return false
	}
	want := sortAddresses(contracts)
	if len(want) != len(s.ContractAddresses) {
		return false
	}
	for i := range want {
		if want[i] != s.ContractAddresses[i] {
			return false
		}
	}
	return true
}

// SignOptions tunes LoadOrSign.
type SignOptions struct {
	DurationDays int64
}

// LoadOrSign returns a stored signature for signer over contracts, or asks
// signer for a fresh one and stores it. Storage failures are logged and do
// not prevent returning a fresh signature.
func LoadOrSign(ctx context.Context, inst Instance, contracts []common.Address, signer chain.Signer, storage StringStorage, opts SignOptions) (*DecryptionSignature, error) {
	if inst == nil || signer == nil {
		return nil, ErrSignatureUnavailable
	}
	if opts.DurationDays <= 0 {
		opts.DurationDays = transport.DefaultSignatureDurationDays
	}
	user := signer.Address()
	sorted := sortAddresses(contracts)
	key := StorageKey(inst, user, sorted)

	if storage != nil {
		if sig, ok := loadStored(ctx, storage, key, user, sorted); ok {
			return sig, nil
		}
	}

	pair, err := crypto.GenerateExchangeKeyPair()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureUnavailable, err)
	}
	sig := &DecryptionSignature{
		PublicKey:         crypto.Key32Hex(pair.Public),
		PrivateKey:        crypto.Key32Hex(pair.Private),
		ContractAddresses: sorted,
		UserAddress:       user,
		StartTimestamp:    timeNow().Unix(),
		DurationDays:      opts.DurationDays,
	}
	typed := UserDecryptTypedData(inst, sig.PublicKey, sorted, sig.StartTimestamp, sig.DurationDays)
	raw, err := signer.SignTypedData(ctx, typed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureUnavailable, err)
	}
	sig.Signature = hexutil.Encode(raw)

	if storage != nil {
		data, err := json.Marshal(sig)
		if err == nil {
			err = storage.Set(ctx, key, string(data))
		}
		if err != nil {
			slog.Warn("failed to store decryption signature", "user", user.Hex(), "error", err)
		}
	}
	return sig, nil
}

func loadStored(ctx context.Context, storage StringStorage, key string, user common.Address, contracts []common.Address) (*DecryptionSignature, bool) {
	raw, ok, err := storage.Get(ctx, key)
	if err != nil {
		slog.Warn("failed to read decryption signature", "user", user.Hex(), "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var sig DecryptionSignature
	if err := json.Unmarshal([]byte(raw), &sig); err != nil || !sig.Covers(user, contracts) || !sig.IsValid(timeNow()) {
		_ = storage.Remove(ctx, key)
		return nil, false
	}
	return &sig, true
}

// StorageKey derives the storage key for a signature. It is scoped by the
// backend's verifying contract and chain so signatures never leak across
// deployments.
func StorageKey(inst Instance, user common.Address, contracts []common.Address) string {
	parts := make([]string, 0, len(contracts)+3)
	parts = append(parts, strconv.FormatUint(inst.ChainID(), 10), strings.ToLower(inst.VerifyingContract().Hex()), strings.ToLower(user.Hex()))
	for _, c := range sortAddresses(contracts) {
		parts = append(parts, strings.ToLower(c.Hex()))
	}
	digest := ethcrypto.Keccak256Hash([]byte(strings.Join(parts, ",")))
	return signatureKeyPrefix + digest.Hex()
}

// UserDecryptTypedData builds the EIP-712 payload a user signs to allow
// reencryption of their values under publicKey.
func UserDecryptTypedData(inst Instance, publicKey string, contracts []common.Address, start, durationDays int64) apitypes.TypedData {
	addrs := make([]interface{}, 0, len(contracts))
	for _, c := range contracts {
		addrs = append(addrs, c.Hex())
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			decryptionPrimaryType: {
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "startTimestamp", Type: "uint256"},
				{Name: "durationDays", Type: "uint256"},
				{Name: "extraData", Type: "bytes"},
			},
		},
		PrimaryType: decryptionPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              decryptionDomainName,
			Version:           decryptionDomainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(inst.ChainID())),
			VerifyingContract: inst.VerifyingContract().Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"publicKey":         publicKey,
			"contractAddresses": addrs,
			"startTimestamp":    strconv.FormatInt(start, 10),
			"durationDays":      strconv.FormatInt(durationDays, 10),
			"extraData":         defaultExtraData,
		},
	}
}

func sortAddresses(in []common.Address) []common.Address {
	out := make([]common.Address, 0, len(in))
	seen := make(map[common.Address]struct{}, len(in))
	for _, a := range in {
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
