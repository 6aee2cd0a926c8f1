// Package deploy reads the deployment records written by the contract
// deployment scripts and resolves the PlantQuest address for a chain.
package deploy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// ContractName is the artifact name the deployment scripts write.
const ContractName = "PlantQuest"

// ErrNotDeployed is returned when no usable contract address exists for a chain.
var ErrNotDeployed = errors.New("contract not deployed on this chain")

// knownChains maps the network names used by the deployment scripts to chain ids.
var knownChains = map[string]uint64{
	"mainnet":   1,
	"sepolia":   11155111,
	"localhost": 31337,
	"hardhat":   31337,
}

// Record is one deployment of the contract.
type Record struct {
	Address    common.Address  `json:"address"`
	ABI        json.RawMessage `json:"abi,omitempty"`
	Deployer   string          `json:"deployer,omitempty"`
	Network    string          `json:"network,omitempty"`
	ChainID    uint64          `json:"chainId,omitempty"`
	DeployedAt string          `json:"deployedAt,omitempty"`
}

// Book holds deployment records keyed by network name.
type Book map[string]Record

// Load reads deployments from path. A file holds a JSON object keyed by
// network name; a directory is laid out as <network>/PlantQuest.json.
func Load(path string) (Book, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat deployments: %w", err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	return LoadFile(path)
}

// LoadFile reads a single JSON file keyed by network name.
func LoadFile(path string) (Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deployments: %w", err)
	}
	var book Book
	if err := json.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("decode deployments %s: %w", path, err)
	}
	for name, rec := range book {
		if rec.Network == "" {
			rec.Network = name
			book[name] = rec
		}
	}
	return book, nil
}

// LoadDir reads <dir>/<network>/PlantQuest.json for every network directory.
func LoadDir(dir string) (Book, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read deployments dir: %w", err)
	}
	book := make(Book)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name(), ContractName+".json")
		data, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", p, err)
		}
		if rec.Network == "" {
			rec.Network = e.Name()
		}
		book[e.Name()] = rec
	}
	return book, nil
}

// ChainIDOf returns the chain id of a record, falling back to the network name.
func (r Record) ChainIDOf() (uint64, bool) {
	if r.ChainID != 0 {
		return r.ChainID, true
	}
	id, ok := knownChains[r.Network]
	return id, ok
}

// ForChain returns the record deployed on chainID. Records with a zero
// address count as not deployed.
func (b Book) ForChain(chainID uint64) (Record, error) {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rec := b[name]
		id, ok := rec.ChainIDOf()
		if !ok || id != chainID {
			continue
		}
		if rec.Address == (common.Address{}) {
			return Record{}, fmt.Errorf("chain %d: %w", chainID, ErrNotDeployed)
		}
		return rec, nil
	}
	return Record{}, fmt.Errorf("chain %d: %w", chainID, ErrNotDeployed)
}
