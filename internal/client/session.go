package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Teresaloving/PlantQuest/internal/chain"
	"github.com/Teresaloving/PlantQuest/internal/contract"
	"github.com/Teresaloving/PlantQuest/internal/crypto"
	"github.com/Teresaloving/PlantQuest/internal/database"
	"github.com/Teresaloving/PlantQuest/internal/deploy"
	"github.com/Teresaloving/PlantQuest/internal/fhe"
	"github.com/Teresaloving/PlantQuest/internal/quest"
	"github.com/Teresaloving/PlantQuest/internal/store"
)

const lruStorageSize = 128

// questEnv is everything a chain command needs, opened from the config.
type questEnv struct {
	Wallet  *chain.Wallet
	Session *quest.Session

	closers []func() error
}

func (e *questEnv) Close() error {
	e.Session.Close()
	return e.closeResources()
}

func (e *questEnv) closeResources() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c())
	}
	e.closers = nil
	return errors.Join(errs...)
}

// connectWallet dials the RPC node and connects the configured key.
func connectWallet(ctx context.Context, c *Config) (*chain.Wallet, error) {
	w, err := chain.Dial(ctx, c.RPCURL)
	if err != nil {
		return nil, err
	}
	if c.ChainID != 0 && c.ChainID != w.ChainID() {
		w.Close()
		return nil, fmt.Errorf("node at %s is chain %d, config expects %d", c.RPCURL, w.ChainID(), c.ChainID)
	}
	if c.PrivateKey != "" {
		key, err := crypto.ParseWalletKey(c.PrivateKey)
		if err != nil {
			w.Close()
			return nil, err
		}
		w.Connect(chain.NewKeySigner(key))
	}
	return w, nil
}

// openSignatureStorage returns the configured decryption-signature store.
func openSignatureStorage(c *Config, configPath string) (fhe.StringStorage, func() error, error) {
	noop := func() error { return nil }
	switch c.SignatureStore {
	case SignatureStoreMemory:
		return fhe.NewMemoryStorage(), noop, nil
	case SignatureStoreLRU:
		s, err := fhe.NewLRUStorage(lruStorageSize)
		return s, noop, err
	case SignatureStoreSQLite:
		db, err := database.Open(signatureStorePath(c, configPath))
		if err != nil {
			return nil, nil, err
		}
		return store.NewSignatureStore(db), db.Close, nil
	case "", SignatureStoreFile:
		return fhe.NewFileStorage(signatureStorePath(c, configPath)), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown signature store %q", c.SignatureStore)
	}
}

// openSession wires wallet, deployment, relayer and signature storage into
// a quest session. withRelayer controls whether the FHE instance is set up;
// a relayer failure is reported but does not prevent the session opening.
func openSession(ctx context.Context, c *Config, configPath string, withRelayer bool) (_ *questEnv, err error) {
	w, err := connectWallet(ctx, c)
	if err != nil {
		return nil, err
	}
	env := &questEnv{Wallet: w}
	env.closers = append(env.closers, func() error { w.Close(); return nil })
	defer func() {
		if err != nil {
			_ = env.closeResources()
		}
	}()

	qc := quest.Config{
		Wallet: w,
		Sign:   fhe.SignOptions{DurationDays: c.SignatureDurationDays},
	}

	book, err := deploy.Load(c.Deployments)
	if err != nil {
		return nil, err
	}
	rec, err := book.ForChain(w.ChainID())
	switch {
	case errors.Is(err, deploy.ErrNotDeployed):
		slog.Warn("no deployment for chain", "chain_id", w.ChainID())
	case err != nil:
		return nil, err
	default:
		client := w.Client()
		pq, err := contract.New(rec.Address, rec.ABI, client, client, client)
		if err != nil {
			return nil, err
		}
		qc.Contract = pq
	}

	if withRelayer {
		inst, err := fhe.NewProvider(c.RelayerURL, w.ChainID()).Init(ctx)
		if err != nil {
			warning.Printf("FHE relayer unavailable: %v\n", err)
		} else {
			qc.Instance = inst
		}
		storage, closeStorage, err := openSignatureStorage(c, configPath)
		if err != nil {
			return nil, err
		}
		qc.Storage = storage
		env.closers = append(env.closers, closeStorage)
	}

	env.Session = quest.NewSession(qc)
	return env, nil
}
