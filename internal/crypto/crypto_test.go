package crypto

import (
	"bytes"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerateExchangeKeyPair(t *testing.T) {
	kp, err := GenerateExchangeKeyPair()
	if err != nil {
		t.Fatalf("GenerateExchangeKeyPair failed: %v", err)
	}
	parsed, err := ParseKey32(Key32Hex(kp.Public))
	if err != nil {
		t.Fatalf("ParseKey32 failed: %v", err)
	}
	if *parsed != *kp.Public {
		t.Error("Public key did not survive hex round trip")
	}
}

func TestParseKey32Length(t *testing.T) {
	if _, err := ParseKey32("0x0102"); err == nil {
		t.Error("Expected error for short key")
	}
}

func TestEncryptDecrypt(t *testing.T) {
	relayer, err := GenerateExchangeKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	user, err := GenerateExchangeKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	message := []byte("3")

	encrypted, err := Encrypt(message, user.Public, relayer.Private)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	decrypted, err := Decrypt(encrypted, relayer.Public, user.Private)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}

	if !bytes.Equal(message, decrypted) {
		t.Errorf("Decrypted message does not match original.\nGot: %s\nWant: %s", decrypted, message)
	}
}

func TestDecryptFailure(t *testing.T) {
	relayer, _ := GenerateExchangeKeyPair()
	user, _ := GenerateExchangeKeyPair()
	eve, _ := GenerateExchangeKeyPair()

	encrypted, _ := Encrypt([]byte("Secret"), user.Public, relayer.Private)

	if _, err := Decrypt(encrypted, relayer.Public, eve.Private); err == nil {
		t.Error("Expected decryption failure for wrong private key, got nil")
	}
	if _, err := Decrypt([]byte("short"), relayer.Public, user.Private); err == nil {
		t.Error("Expected error for truncated message")
	}
}

func TestWalletKeyRoundTrip(t *testing.T) {
	key, err := GenerateWalletKey()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseWalletKey(key.Hex())
	if err != nil {
		t.Fatalf("ParseWalletKey failed: %v", err)
	}
	if parsed.Address != key.Address {
		t.Errorf("Expected address %s, got %s", key.Address.Hex(), parsed.Address.Hex())
	}
	if _, err := ParseWalletKey("not-a-key"); err == nil {
		t.Error("Expected error for invalid key")
	}
}

func TestSignRecover(t *testing.T) {
	key, _ := GenerateWalletKey()
	digest := ethcrypto.Keccak256([]byte("decrypt me"))

	sig, err := SignHash(key.Private, digest)
	if err != nil {
		t.Fatal(err)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Errorf("Expected V in {27,28}, got %d", sig[64])
	}

	addr, err := RecoverHash(digest, sig)
	if err != nil {
		t.Fatalf("RecoverHash failed: %v", err)
	}
	if addr != key.Address {
		t.Errorf("Recovered %s, want %s", addr.Hex(), key.Address.Hex())
	}
}
