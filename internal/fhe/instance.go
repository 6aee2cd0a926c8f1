package fhe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Teresaloving/PlantQuest/internal/models"
	"github.com/Teresaloving/PlantQuest/internal/transport"
)

// Status is the lifecycle of the FHE instance.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// HandleContractPair names one ciphertext and the contract that owns it.
type HandleContractPair struct {
	Handle          models.Handle  `json:"handle"`
	ContractAddress common.Address `json:"contractAddress"`
}

// Instance is a ready connection to the FHE decryption backend.
type Instance interface {
	ChainID() uint64
	// VerifyingContract is the contract the backend checks decryption
	// signatures against. It scopes cached signatures.
	VerifyingContract() common.Address
	UserDecrypt(ctx context.Context, pairs []HandleContractPair, sig *DecryptionSignature) (map[models.Handle]*big.Int, error)
}

// RelayerKeys is what the relayer publishes about itself.
type RelayerKeys struct {
	ACLContractAddress common.Address `json:"aclContractAddress"`
	VerifyingContract  common.Address `json:"verifyingContract"`
	PublicKey          string         `json:"publicKey"`
}

// Provider initializes and hands out the relayer instance.
type Provider struct {
	mu         sync.Mutex
	relayerURL string
	chainID    uint64
	httpClient *http.Client
	status     Status
	instance   *RelayerInstance
	err        error
	loading    chan struct{} // closed when the in-flight fetch finishes
}

// NewProvider creates an idle provider for the relayer at relayerURL.
func NewProvider(relayerURL string, chainID uint64) *Provider {
	return &Provider{
		relayerURL: strings.TrimRight(relayerURL, "/"),
		chainID:    chainID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		status:     StatusIdle,
	}
}

// Status returns the current lifecycle status.
func (p *Provider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Err returns the error of the last failed initialization.
func (p *Provider) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Instance returns the ready instance, if any.
func (p *Provider) Instance() (*RelayerInstance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.instance, p.status == StatusReady
}

// Init fetches the relayer keys. A ready provider returns its instance
// without another round trip; a failed one may be retried. Concurrent
// callers share one fetch and the lock is not held while it runs.
func (p *Provider) Init(ctx context.Context) (*RelayerInstance, error) {
	p.mu.Lock()
	if p.status == StatusReady {
		defer p.mu.Unlock()
		return p.instance, nil
	}
	if ch := p.loading; ch != nil {
		p.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.status == StatusReady {
			return p.instance, nil
		}
		return nil, p.err
	}
	ch := make(chan struct{})
	p.loading = ch
	p.status = StatusLoading
	p.err = nil
	p.mu.Unlock()

	inst, err := p.fetch(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.loading = nil
	close(ch)
	if err != nil {
		p.status = StatusError
		p.err = err
		slog.Warn("fhe instance init failed", "relayer", p.relayerURL, "error", err)
		return nil, err
	}
	p.instance = inst
	p.status = StatusReady
	slog.Info("fhe instance ready", "relayer", p.relayerURL, "chain_id", p.chainID)
	return inst, nil
}

func (p *Provider) fetch(ctx context.Context) (*RelayerInstance, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.relayerURL+transport.RelayerKeyPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach relayer: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("relayer returned error: %s", strings.TrimSpace(string(body)))
	}

	var keys RelayerKeys
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return nil, fmt.Errorf("failed to decode relayer keys: %w", err)
	}
	return NewRelayerInstance(p.relayerURL, p.chainID, keys, p.httpClient)
}

// errMissingHandle is returned when the relayer omits a requested handle.
var errMissingHandle = errors.New("relayer response missing handle")
