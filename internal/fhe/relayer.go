package fhe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Teresaloving/PlantQuest/internal/crypto"
	"github.com/Teresaloving/PlantQuest/internal/models"
	"github.com/Teresaloving/PlantQuest/internal/transport"
)

// RelayerInstance talks to a relayer over HTTP.
type RelayerInstance struct {
	baseURL    string
	chainID    uint64
	keys       RelayerKeys
	relayerPub *[32]byte
	httpClient *http.Client
}

// NewRelayerInstance builds an instance from already fetched relayer keys.
func NewRelayerInstance(baseURL string, chainID uint64, keys RelayerKeys, httpClient *http.Client) (*RelayerInstance, error) {
	pub, err := crypto.ParseKey32(keys.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid relayer public key: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RelayerInstance{
		baseURL:    strings.TrimRight(baseURL, "/"),
		chainID:    chainID,
		keys:       keys,
		relayerPub: pub,
		httpClient: httpClient,
	}, nil
}

func (r *RelayerInstance) ChainID() uint64 { return r.chainID }

func (r *RelayerInstance) VerifyingContract() common.Address { return r.keys.VerifyingContract }

// Keys returns the relayer's published keys.
func (r *RelayerInstance) Keys() RelayerKeys { return r.keys }

type requestValidity struct {
	StartTimestamp string `json:"startTimestamp"`
	DurationDays   string `json:"durationDays"`
}

type userDecryptRequest struct {
	HandleContractPairs []HandleContractPair `json:"handleContractPairs"`
	RequestValidity     requestValidity      `json:"requestValidity"`
	ContractsChainID    string               `json:"contractsChainId"`
	ContractAddresses   []common.Address     `json:"contractAddresses"`
	UserAddress         common.Address       `json:"userAddress"`
	Signature           string               `json:"signature"`
	PublicKey           string               `json:"publicKey"`
	ExtraData           string               `json:"extraData"`
}

type sealedValue struct {
	Handle     models.Handle `json:"handle"`
	Ciphertext hexutil.Bytes `json:"ciphertext"`
}

type userDecryptResponse struct {
	Response []sealedValue `json:"response"`
}

// UserDecrypt asks the relayer to reencrypt pairs under sig's key pair and
// opens the results. Every requested handle must come back.
func (r *RelayerInstance) UserDecrypt(ctx context.Context, pairs []HandleContractPair, sig *DecryptionSignature) (map[models.Handle]*big.Int, error) {
	if sig == nil {
		return nil, ErrSignatureUnavailable
	}
	if len(pairs) == 0 {
		return map[models.Handle]*big.Int{}, nil
	}
	priv, err := crypto.ParseKey32(sig.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid decryption key: %w", err)
	}

	payload := userDecryptRequest{
		HandleContractPairs: pairs,
		RequestValidity: requestValidity{
			StartTimestamp: strconv.FormatInt(sig.StartTimestamp, 10),
			DurationDays:   strconv.FormatInt(sig.DurationDays, 10),
		},
		ContractsChainID:  strconv.FormatUint(r.chainID, 10),
		ContractAddresses: sig.ContractAddresses,
		UserAddress:       sig.UserAddress,
		Signature:         sig.Signature,
		PublicKey:         sig.PublicKey,
		ExtraData:         defaultExtraData,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+transport.RelayerUserDecryptPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach relayer: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("user decrypt failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out userDecryptResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode user decrypt response: %w", err)
	}

	values := make(map[models.Handle]*big.Int, len(out.Response))
	for _, v := range out.Response {
		plain, err := crypto.Decrypt(v.Ciphertext, r.relayerPub, priv)
		if err != nil {
			return nil, fmt.Errorf("open value for %s: %w", v.Handle.Hex(), err)
		}
		n, ok := new(big.Int).SetString(string(plain), 10)
		if !ok {
			return nil, fmt.Errorf("value for %s is not an integer", v.Handle.Hex())
		}
		values[v.Handle] = n
	}
	for _, p := range pairs {
		if _, ok := values[p.Handle]; !ok {
			return nil, fmt.Errorf("%w: %s", errMissingHandle, p.Handle.Hex())
		}
	}
	return values, nil
}
