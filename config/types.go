package config

// GenesisAccount seeds one ledger entry at startup.
type GenesisAccount struct {
	Address  string `yaml:"address"`
	Balance  uint64 `yaml:"balance"`
	Delegate string `yaml:"delegate,omitempty"`
}

// BucketConfig drives the cloud-bucket block receiver.
type BucketConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Name       string `yaml:"name"`
	Network    string `yaml:"network"`
	PollFreqMs int    `yaml:"poll_freq_ms"`
	Overlap    uint32 `yaml:"overlap"`
	TempDir    string `yaml:"temp_dir"`
}

// IndexerConfig holds everything a treeline server instance needs. There
// are no ambient globals: all paths and handles flow from here into the
// writer task at startup.
type IndexerConfig struct {
	RootHash        string           `yaml:"root_hash"`
	RootHeight      uint32           `yaml:"root_height"`
	GenesisAccounts []GenesisAccount `yaml:"genesis_accounts"`
	StartupDir      string           `yaml:"startup_dir"`
	WatchDir        string           `yaml:"watch_dir"`
	SocketPath      string           `yaml:"socket_path"`
	StoreDir        string           `yaml:"store_dir"`
	SnapshotPath    string           `yaml:"snapshot_path"`
	FromSnapshot    bool             `yaml:"from_snapshot"`
	MetricsAddr     string           `yaml:"metrics_addr"`
	Bucket          BucketConfig     `yaml:"bucket"`
}

// ConfigFile is the top-level structure of treeline.yml
type ConfigFile struct {
	Config IndexerConfig `yaml:"config"`
}
