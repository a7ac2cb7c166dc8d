package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"github.com/treelinehq/treeline/common"
	"github.com/treelinehq/treeline/logx"
	"github.com/treelinehq/treeline/witness"
)

// LoadIndexerConfig reads and parses the treeline.yml file
func LoadIndexerConfig(path string) (*IndexerConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer file.Close()

	var cfgFile ConfigFile
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfgFile); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg := &cfgFile.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logx.Info("CONFIG", "loaded indexer config from ", path,
		": root=", cfg.RootHash, " store=", cfg.StoreDir, " socket=", cfg.SocketPath)
	return cfg, nil
}

func (c *IndexerConfig) Validate() error {
	if !common.IsValidStateHash(c.RootHash) {
		return fmt.Errorf("root_hash %q is not a valid state hash", c.RootHash)
	}
	if c.RootHeight == 0 {
		return fmt.Errorf("root_height must be positive")
	}
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path must be set")
	}
	if c.StoreDir == "" {
		return fmt.Errorf("store_dir must be set")
	}
	if c.Bucket.Enabled && c.Bucket.Name == "" {
		return fmt.Errorf("bucket.name must be set when the bucket receiver is enabled")
	}
	return nil
}

type witnessTuning struct {
	TransitionFrontierK      uint32 `ini:"transition_frontier_k"`
	CanonicalUpdateThreshold uint32 `ini:"canonical_update_threshold"`
	PruneInterval            uint32 `ini:"prune_interval"`
	MaxDanglingBranches      int    `ini:"max_dangling_branches"`
	MaxDanglingAgeMinutes    int    `ini:"max_dangling_age_minutes"`
}

// LoadWitnessConfig reads witness tuning from an .ini file. An empty path
// yields the mainnet defaults.
func LoadWitnessConfig(path string) (witness.Config, error) {
	wc := witness.DefaultConfig()
	if path == "" {
		return wc, nil
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return wc, fmt.Errorf("load witness tuning %s: %w", path, err)
	}
	tuning := &witnessTuning{
		TransitionFrontierK:      wc.TransitionFrontierK,
		CanonicalUpdateThreshold: wc.CanonicalUpdateThreshold,
		PruneInterval:            wc.PruneInterval,
		MaxDanglingBranches:      wc.MaxDanglingBranches,
		MaxDanglingAgeMinutes:    int(wc.MaxDanglingAge / time.Minute),
	}
	if err := cfg.Section("witness").MapTo(tuning); err != nil {
		return wc, fmt.Errorf("map witness tuning %s: %w", path, err)
	}
	wc.TransitionFrontierK = tuning.TransitionFrontierK
	wc.CanonicalUpdateThreshold = tuning.CanonicalUpdateThreshold
	wc.PruneInterval = tuning.PruneInterval
	wc.MaxDanglingBranches = tuning.MaxDanglingBranches
	wc.MaxDanglingAge = time.Duration(tuning.MaxDanglingAgeMinutes) * time.Minute
	if err := wc.Validate(); err != nil {
		return wc, err
	}
	return wc, nil
}
