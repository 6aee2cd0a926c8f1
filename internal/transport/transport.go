package transport

import "time"

// Constants for default client and service configuration.
const (
	// DefaultServerPort is the port the questboard service listens on.
	DefaultServerPort = ":8082"
	// DefaultServerURL is the URL the CLI uses to reach questboard.
	DefaultServerURL = "http://localhost:8082"
	// DefaultRPCURL points at a local hardhat node.
	DefaultRPCURL = "http://localhost:8545"
	// DefaultRelayerURL is the FHE relayer the CLI decrypts through.
	DefaultRelayerURL = "http://localhost:3000"

	// DefaultRefreshInterval is how often the leaderboard is replayed.
	DefaultRefreshInterval = 30 * time.Second
	// DefaultSignatureDurationDays is the validity window of a new decryption signature.
	DefaultSignatureDurationDays = 365
	// DefaultDetailConcurrency bounds per-participant reads during a refresh.
	DefaultDetailConcurrency = 8
	// DefaultReorgDepth is how many blocks behind the index watermark are
	// rescanned on every sync.
	DefaultReorgDepth = 12
)

// Relayer endpoints.
const (
	RelayerKeyPath         = "/v1/keyurl"
	RelayerUserDecryptPath = "/v1/user-decrypt"
)
