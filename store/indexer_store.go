package store

import (
	"encoding/json"
	"fmt"

	"github.com/treelinehq/treeline/block"
	"github.com/treelinehq/treeline/ledger"
	"github.com/treelinehq/treeline/logx"
)

// IndexerStore persists raw blocks keyed by state hash plus tip metadata.
// Exactly one IndexerStore (the writer handle) exists per store directory;
// connection handlers read through ReadOnly handles so long reads never
// block the writer.
type IndexerStore struct {
	provider DatabaseProvider
}

// ReadOnlyStore is a get-only view over the same underlying database files.
type ReadOnlyStore struct {
	provider DatabaseProvider
}

// NewIndexerStore opens (or creates) the store in dir on LevelDB.
func NewIndexerStore(dir string) (*IndexerStore, error) {
	provider, err := NewLevelDBProvider(dir)
	if err != nil {
		return nil, fmt.Errorf("open indexer store %s: %w", dir, err)
	}
	logx.Info("STORE", "opened indexer store at ", dir)
	return &IndexerStore{provider: provider}, nil
}

// NewIndexerStoreWithProvider wraps an existing provider; used by tests.
func NewIndexerStoreWithProvider(provider DatabaseProvider) *IndexerStore {
	return &IndexerStore{provider: provider}
}

// ReadOnly opens an additional handle over the same database for
// concurrent readers. The handle shares the writer's open files and
// exposes no mutations.
func (s *IndexerStore) ReadOnly() *ReadOnlyStore {
	return &ReadOnlyStore{provider: s.provider}
}

func blockKey(stateHash string) []byte {
	return []byte(PrefixBlock + stateHash)
}

func metaKey(name string) []byte {
	return []byte(PrefixBlockMeta + name)
}

func accountKey(addr string) []byte {
	return []byte(PrefixAccount + addr)
}

// PutBlock persists b unconditionally, idempotently.
func (s *IndexerStore) PutBlock(b *block.Block) error {
	value, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal block %s: %w", b.StateHash, err)
	}
	if err := s.provider.Put(blockKey(b.StateHash), value); err != nil {
		return fmt.Errorf("put block %s: %w", b.StateHash, err)
	}
	return nil
}

// SetTips records the current best and canonical tip hashes atomically.
func (s *IndexerStore) SetTips(bestTip, canonicalTip string) error {
	batch := s.provider.Batch()
	batch.Put(metaKey(BlockMetaKeyBestTip), []byte(bestTip))
	batch.Put(metaKey(BlockMetaKeyCanonicalTip), []byte(canonicalTip))
	if err := batch.Write(); err != nil {
		return fmt.Errorf("write tip metadata: %w", err)
	}
	return nil
}

// PutAccounts persists ledger entries in one batch, replacing any previous
// values. Called with the accounts touched by newly canonical blocks.
func (s *IndexerStore) PutAccounts(accounts []*ledger.Account) error {
	batch := s.provider.Batch()
	for _, acc := range accounts {
		value, err := json.Marshal(acc)
		if err != nil {
			return fmt.Errorf("marshal account %s: %w", acc.Address, err)
		}
		batch.Put(accountKey(acc.Address), value)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("write accounts: %w", err)
	}
	return nil
}

// GetAccount reads the persisted ledger entry for addr, nil when absent.
func (s *IndexerStore) GetAccount(addr string) (*ledger.Account, error) {
	value, err := s.provider.Get(accountKey(addr))
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", addr, err)
	}
	if value == nil {
		return nil, nil
	}
	var acc ledger.Account
	if err := json.Unmarshal(value, &acc); err != nil {
		return nil, fmt.Errorf("unmarshal account %s: %w", addr, err)
	}
	return &acc, nil
}

// Accounts walks the persisted account mirror in address order, so a dump
// of a stopped indexer's store is deterministic.
func (s *IndexerStore) Accounts() ([]*ledger.Account, error) {
	iter, ok := s.provider.(IterableProvider)
	if !ok {
		return nil, fmt.Errorf("store provider cannot iterate key prefixes")
	}
	var (
		accounts []*ledger.Account
		bad      error
	)
	err := iter.IteratePrefix([]byte(PrefixAccount), func(key, value []byte) bool {
		var acc ledger.Account
		if err := json.Unmarshal(value, &acc); err != nil {
			bad = fmt.Errorf("unmarshal account %s: %w", string(key[len(PrefixAccount):]), err)
			return false
		}
		accounts = append(accounts, &acc)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	if bad != nil {
		return nil, bad
	}
	return accounts, nil
}

func (s *IndexerStore) GetBlock(stateHash string) (*block.Block, error) {
	return getBlock(s.provider, stateHash)
}

func (s *IndexerStore) HasBlock(stateHash string) (bool, error) {
	return s.provider.Has(blockKey(stateHash))
}

func (s *IndexerStore) Close() error {
	return s.provider.Close()
}

func (r *ReadOnlyStore) GetBlock(stateHash string) (*block.Block, error) {
	return getBlock(r.provider, stateHash)
}

func (r *ReadOnlyStore) CanonicalTipHash() (string, error) {
	value, err := r.provider.Get(metaKey(BlockMetaKeyCanonicalTip))
	if err != nil {
		return "", fmt.Errorf("get canonical tip: %w", err)
	}
	return string(value), nil
}

func getBlock(provider DatabaseProvider, stateHash string) (*block.Block, error) {
	value, err := provider.Get(blockKey(stateHash))
	if err != nil {
		return nil, fmt.Errorf("get block %s: %w", stateHash, err)
	}
	if value == nil {
		return nil, nil
	}
	var b block.Block
	if err := json.Unmarshal(value, &b); err != nil {
		return nil, fmt.Errorf("unmarshal block %s: %w", stateHash, err)
	}
	return &b, nil
}
