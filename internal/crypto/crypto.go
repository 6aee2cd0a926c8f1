package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/nacl/box"
)

// WalletKey is a secp256k1 key that signs transactions and typed data.
type WalletKey struct {
	Private *ecdsa.PrivateKey
	Address common.Address
}

// GenerateWalletKey generates a new secp256k1 wallet key.
func GenerateWalletKey() (*WalletKey, error) {
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &WalletKey{Private: priv, Address: ethcrypto.PubkeyToAddress(priv.PublicKey)}, nil
}

// ParseWalletKey parses a hex private key, with or without 0x prefix.
func ParseWalletKey(s string) (*WalletKey, error) {
	priv, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &WalletKey{Private: priv, Address: ethcrypto.PubkeyToAddress(priv.PublicKey)}, nil
}

// Hex returns the 0x-prefixed private key.
func (k *WalletKey) Hex() string {
	return "0x" + hex.EncodeToString(ethcrypto.FromECDSA(k.Private))
}

// SignHash signs a 32-byte digest and returns a 65-byte [R || S || V] signature with V in {27, 28}.
func SignHash(priv *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest, priv)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RecoverHash returns the address that produced sig over digest.
func RecoverHash(digest, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errors.New("signature must be 65 bytes")
	}
	s := make([]byte, 65)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, s)
	if err != nil {
		return common.Address{}, err
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// ExchangeKeyPair represents an X25519 key pair for Box. Decryption
// signatures carry one so the relayer can seal clear values to the user.
type ExchangeKeyPair struct {
	Public  *[32]byte
	Private *[32]byte
}

// GenerateExchangeKeyPair generates a new X25519 key pair for Box.
func GenerateExchangeKeyPair() (*ExchangeKeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &ExchangeKeyPair{Public: pub, Private: priv}, nil
}

// ParseKey32 decodes a 0x-prefixed 32-byte hex key.
func ParseKey32(s string) (*[32]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, err
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(b))
	}
	var k [32]byte
	copy(k[:], b)
	return &k, nil
}

// Key32Hex encodes a 32-byte key as 0x-prefixed hex.
func Key32Hex(k *[32]byte) string {
	return "0x" + hex.EncodeToString(k[:])
}

// Encrypt encrypts a message for a recipient using their public key and the sender's private key.
// It returns the nonce prepended to the ciphertext.
func Encrypt(message []byte, recipientPub *[32]byte, senderPriv *[32]byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	encrypted := box.Seal(nonce[:], message, &nonce, recipientPub, senderPriv)
	return encrypted, nil
}

// Decrypt decrypts a message from a sender using their public key and the recipient's private key.
// It expects the nonce to be prepended to the ciphertext.
func Decrypt(encrypted []byte, senderPub *[32]byte, recipientPriv *[32]byte) ([]byte, error) {
	if len(encrypted) < 24 {
		return nil, errors.New("message too short")
	}

	var nonce [24]byte
	copy(nonce[:], encrypted[:24])
	ciphertext := encrypted[24:]

	decrypted, ok := box.Open(nil, ciphertext, &nonce, senderPub, recipientPriv)
	if !ok {
		return nil, errors.New("decryption failed")
	}
	return decrypted, nil
}
