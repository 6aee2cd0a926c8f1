package client

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/Teresaloving/PlantQuest/internal/transport"
)

// Signature store kinds.
const (
	SignatureStoreFile   = "file"
	SignatureStoreSQLite = "sqlite"
	SignatureStoreLRU    = "lru"
	SignatureStoreMemory = "memory"
)

type Config struct {
	RPCURL      string `json:"rpc_url"`
	RelayerURL  string `json:"relayer_url"`
	ServerURL   string `json:"server_url"` // questboard
	Deployments string `json:"deployments"`
	ChainID     uint64 `json:"chain_id,omitempty"`    // expected chain, 0 accepts whatever the node reports
	PrivateKey  string `json:"private_key,omitempty"` // hex wallet key

	SignatureStore        string `json:"signature_store"`
	SignatureStorePath    string `json:"signature_store_path,omitempty"`
	SignatureDurationDays int64  `json:"signature_duration_days,omitempty"`
}

func defaultConfig() *Config {
	return &Config{
		RPCURL:         transport.DefaultRPCURL,
		RelayerURL:     transport.DefaultRelayerURL,
		ServerURL:      transport.DefaultServerURL,
		Deployments:    "deployments",
		SignatureStore: SignatureStoreFile,
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, err
	}

	cfg := defaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func GetConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "plantquest", "config.json"), nil
}

// signatureStorePath resolves where persistent signatures live, next to
// the config file unless set explicitly.
func signatureStorePath(c *Config, configPath string) string {
	if c.SignatureStorePath != "" {
		return c.SignatureStorePath
	}
	name := "signatures.json"
	if c.SignatureStore == SignatureStoreSQLite {
		name = "signatures.db"
	}
	return filepath.Join(filepath.Dir(configPath), name)
}
