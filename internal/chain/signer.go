package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/Teresaloving/PlantQuest/internal/crypto"
)

// Signer is a connected account able to sign transactions and EIP-712 data.
type Signer interface {
	Address() common.Address
	TransactOpts(chainID *big.Int) (*bind.TransactOpts, error)
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// KeySigner signs with a local private key.
type KeySigner struct {
	key *crypto.WalletKey
}

// NewKeySigner wraps a wallet key.
func NewKeySigner(key *crypto.WalletKey) *KeySigner {
	return &KeySigner{key: key}
}

func (s *KeySigner) Address() common.Address {
	return s.key.Address
}

func (s *KeySigner) TransactOpts(chainID *big.Int) (*bind.TransactOpts, error) {
	return bind.NewKeyedTransactorWithChainID(s.key.Private, chainID)
}

// SignTypedData hashes data per EIP-712 and signs the digest.
func (s *KeySigner) SignTypedData(_ context.Context, data apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	return crypto.SignHash(s.key.Private, digest)
}

// RecoverTypedData returns the address that signed data.
func RecoverTypedData(data apitypes.TypedData, sig []byte) (common.Address, error) {
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return common.Address{}, fmt.Errorf("hash typed data: %w", err)
	}
	return crypto.RecoverHash(digest, sig)
}
