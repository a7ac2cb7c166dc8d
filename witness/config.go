package witness

import (
	"fmt"
	"time"
)

// Mainnet defaults.
const (
	MainnetTransitionFrontierK = 290
	DefaultCanonicalThreshold  = 10
	DefaultPruneInterval       = 10
	DefaultMaxDanglingBranches = 256
	DefaultMaxDanglingAge      = time.Hour
)

// Config carries the immutable per-witness tuning parameters.
type Config struct {
	// TransitionFrontierK is the maximum reorganization depth ever served;
	// the root branch keeps no ancestry deeper than this below the
	// canonical tip.
	TransitionFrontierK uint32
	// CanonicalUpdateThreshold is the finality lag: the canonical tip
	// trails the best tip by this many blocks. Must be < TransitionFrontierK.
	CanonicalUpdateThreshold uint32
	// PruneInterval is how many accepted blocks pass between prunes.
	PruneInterval uint32
	// MaxDanglingBranches and MaxDanglingAge bound orphan growth; when
	// exceeded, the oldest dangling branches are evicted.
	MaxDanglingBranches int
	MaxDanglingAge      time.Duration
}

func DefaultConfig() Config {
	return Config{
		TransitionFrontierK:      MainnetTransitionFrontierK,
		CanonicalUpdateThreshold: DefaultCanonicalThreshold,
		PruneInterval:            DefaultPruneInterval,
		MaxDanglingBranches:      DefaultMaxDanglingBranches,
		MaxDanglingAge:           DefaultMaxDanglingAge,
	}
}

func (c Config) Validate() error {
	if c.TransitionFrontierK == 0 {
		return fmt.Errorf("transition frontier k must be positive")
	}
	if c.CanonicalUpdateThreshold >= c.TransitionFrontierK {
		return fmt.Errorf("canonical update threshold %d must be below transition frontier k %d",
			c.CanonicalUpdateThreshold, c.TransitionFrontierK)
	}
	if c.PruneInterval == 0 {
		return fmt.Errorf("prune interval must be positive")
	}
	return nil
}
