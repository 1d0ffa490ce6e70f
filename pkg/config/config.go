package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainSync/internal/common"
	"github.com/goran-ethernal/ChainSync/internal/logger"
)

const (
	// MaxConfirmationDepth bounds the reorg window kept by the listener.
	MaxConfirmationDepth = 1024
	// MaxChunkSize bounds the block range of a single backfill chunk.
	MaxChunkSize = 100_000

	FinalityLatest    = "latest"
	FinalitySafe      = "safe"
	FinalityFinalized = "finalized"
)

// Config represents the complete configuration for ChainSync.
type Config struct {
	// Network describes the chain to follow and what to sync from it
	Network NetworkConfig `yaml:"network" json:"network" toml:"network"`

	// Sync contains coordinator tuning, retry and supervisor settings
	Sync SyncConfig `yaml:"sync" json:"sync" toml:"sync"`

	// DB contains the document store database configuration
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// Maintenance contains optional database maintenance settings
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`

	// Search contains full-text index settings
	Search *SearchConfig `yaml:"search,omitempty" json:"search,omitempty" toml:"search,omitempty"`

	// DeadLetter configures where skipped logs are recorded
	DeadLetter *DeadLetterConfig `yaml:"dead_letter,omitempty" json:"dead_letter,omitempty" toml:"dead_letter,omitempty"`

	// API contains the read-only query API configuration
	API *APIConfig `yaml:"api,omitempty" json:"api,omitempty" toml:"api,omitempty"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// NetworkConfig describes the upstream chain and the events tracked on it.
type NetworkConfig struct {
	// ID identifies the network; it also names the default database file
	ID string `yaml:"id" json:"id" toml:"id"`

	// RPCURL is the Ethereum RPC endpoint URL. A ws:// or ipc endpoint enables head subscriptions.
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// DefaultStartBlock is where a collection without sync status starts
	DefaultStartBlock uint64 `yaml:"default_start_block" json:"default_start_block" toml:"default_start_block"`

	// ConfirmationDepth is the number of recent blocks watched for reorgs. Required.
	ConfirmationDepth uint64 `yaml:"confirmation_depth" json:"confirmation_depth" toml:"confirmation_depth"`

	// ChunkSize is the block range of one backfill chunk. Required.
	ChunkSize uint64 `yaml:"chunk_size" json:"chunk_size" toml:"chunk_size"`

	// PollInterval is how often the listener polls for a new head
	PollInterval common.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// HeadFinality picks the head backfill runs up to: "latest", "safe" or "finalized"
	HeadFinality string `yaml:"head_finality" json:"head_finality" toml:"head_finality"`

	// Contracts lists the emitting contract addresses
	Contracts []string `yaml:"contracts" json:"contracts" toml:"contracts"`

	// ABIFile is the path to the JSON ABI holding the tracked events
	ABIFile string `yaml:"abi_file" json:"abi_file" toml:"abi_file"`

	// Events lists the tracked event types
	Events []EventConfig `yaml:"events" json:"events" toml:"events"`

	// TrackedUsers scopes user specific collections
	TrackedUsers []string `yaml:"tracked_users,omitempty" json:"tracked_users,omitempty" toml:"tracked_users,omitempty"`
}

// EventConfig describes one tracked event type.
type EventConfig struct {
	// Name is the ABI event name, also used as the collection name
	Name string `yaml:"name" json:"name" toml:"name"`

	// UserField names an indexed address argument. When set, every tracked user
	// gets its own collection of this event.
	UserField string `yaml:"user_field,omitempty" json:"user_field,omitempty" toml:"user_field,omitempty"`

	// AmountFields maps integer arguments to the number of decimals used to scale them
	AmountFields map[string]int32 `yaml:"amount_fields,omitempty" json:"amount_fields,omitempty" toml:"amount_fields,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional network configuration fields.
// ConfirmationDepth and ChunkSize are intentionally left alone.
func (n *NetworkConfig) ApplyDefaults() {
	if n.PollInterval.Duration == 0 {
		n.PollInterval = common.NewDuration(2 * time.Second) //nolint:mnd
	}
	if n.HeadFinality == "" {
		n.HeadFinality = FinalityLatest
	}
}

// Validate checks if the network configuration is valid.
func (n *NetworkConfig) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("network.id is required")
	}
	if n.RPCURL == "" {
		return fmt.Errorf("network.rpc_url is required")
	}
	if n.ConfirmationDepth == 0 || n.ConfirmationDepth > MaxConfirmationDepth {
		return fmt.Errorf("network.confirmation_depth must be between 1 and %d", MaxConfirmationDepth)
	}
	if n.ChunkSize == 0 || n.ChunkSize > MaxChunkSize {
		return fmt.Errorf("network.chunk_size must be between 1 and %d", MaxChunkSize)
	}
	if !slices.Contains([]string{FinalityLatest, FinalitySafe, FinalityFinalized}, n.HeadFinality) {
		return fmt.Errorf("network.head_finality must be one of: 'latest', 'safe', or 'finalized'")
	}
	if n.ABIFile == "" {
		return fmt.Errorf("network.abi_file is required")
	}
	if len(n.Contracts) == 0 {
		return fmt.Errorf("network.contracts: at least one contract must be configured")
	}
	for i, addr := range n.Contracts {
		if !ethcommon.IsHexAddress(addr) {
			return fmt.Errorf("network.contracts[%d]: invalid address %q", i, addr)
		}
	}
	for i, user := range n.TrackedUsers {
		if !ethcommon.IsHexAddress(user) {
			return fmt.Errorf("network.tracked_users[%d]: invalid address %q", i, user)
		}
	}

	if len(n.Events) == 0 {
		return fmt.Errorf("network.events: at least one event must be configured")
	}
	names := make(map[string]struct{}, len(n.Events))
	for i, ev := range n.Events {
		if ev.Name == "" {
			return fmt.Errorf("network.events[%d]: name is required", i)
		}
		if _, dup := names[ev.Name]; dup {
			return fmt.Errorf("network.events[%d]: duplicate event '%s'", i, ev.Name)
		}
		names[ev.Name] = struct{}{}

		for field, decimals := range ev.AmountFields {
			if decimals < 0 || decimals > 77 { //nolint:mnd
				return fmt.Errorf("network.events[%d] (%s): amount_fields[%s] decimals out of range", i, ev.Name, field)
			}
		}
	}

	return nil
}

// TrackedUserAddresses returns the tracked users as addresses.
func (n *NetworkConfig) TrackedUserAddresses() []ethcommon.Address {
	users := make([]ethcommon.Address, 0, len(n.TrackedUsers))
	for _, u := range n.TrackedUsers {
		users = append(users, ethcommon.HexToAddress(u))
	}
	return users
}

// ContractAddresses returns the configured contracts as addresses.
func (n *NetworkConfig) ContractAddresses() []ethcommon.Address {
	addrs := make([]ethcommon.Address, 0, len(n.Contracts))
	for _, c := range n.Contracts {
		addrs = append(addrs, ethcommon.HexToAddress(c))
	}
	return addrs
}

// SyncConfig tunes the coordinator and its supervisor.
type SyncConfig struct {
	// MaxParallelCollections bounds how many collections backfill concurrently
	MaxParallelCollections int `yaml:"max_parallel_collections" json:"max_parallel_collections" toml:"max_parallel_collections"` //nolint:lll

	// MaxRestarts is how many times the supervisor restarts a failed coordinator
	MaxRestarts int `yaml:"max_restarts" json:"max_restarts" toml:"max_restarts"`

	// RestartDelay is the pause before a supervisor restart
	RestartDelay common.Duration `yaml:"restart_delay" json:"restart_delay" toml:"restart_delay"`

	// Retry bounds retries of chain access and storage writes
	Retry RetryConfig `yaml:"retry" json:"retry" toml:"retry"`
}

// ApplyDefaults sets default values for optional sync configuration fields.
func (s *SyncConfig) ApplyDefaults() {
	if s.MaxParallelCollections == 0 {
		s.MaxParallelCollections = 4
	}
	if s.MaxRestarts == 0 {
		s.MaxRestarts = 1
	}
	if s.RestartDelay.Duration == 0 {
		s.RestartDelay = common.NewDuration(1 * time.Second)
	}
	s.Retry.ApplyDefaults()
}

// Validate checks if the sync configuration is valid.
func (s *SyncConfig) Validate() error {
	if s.MaxParallelCollections < 1 {
		return fmt.Errorf("sync.max_parallel_collections must be positive")
	}
	if s.MaxRestarts < 0 {
		return fmt.Errorf("sync.max_restarts must not be negative")
	}
	if s.Retry.MaxAttempts < 1 {
		return fmt.Errorf("sync.retry.max_attempts must be positive")
	}
	if s.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("sync.retry.backoff_multiplier must be at least 1")
	}
	return nil
}

// RetryConfig represents retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database. Defaults to "<network id>-chainsync.sqlite".
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	// WAL mode lets readers query a snapshot while the coordinator writes
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults(networkID string) {
	if d.Path == "" && networkID != "" {
		d.Path = fmt.Sprintf("%s-chainsync.sqlite", networkID)
	}
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// Validate checks if the database configuration is valid.
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("db.path is required")
	}
	if !slices.Contains([]string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY"}, d.JournalMode) {
		return fmt.Errorf("db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}
	if !slices.Contains([]string{"FULL", "NORMAL", "OFF"}, d.Synchronous) {
		return fmt.Errorf("db.synchronous must be one of: FULL, NORMAL, OFF")
	}
	return nil
}

// MaintenanceConfig configures database maintenance behavior.
type MaintenanceConfig struct {
	// Enabled controls whether background maintenance runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// CheckInterval is how often to run maintenance (e.g., "30m", "1h")
	CheckInterval common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs maintenance immediately on startup
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode controls the WAL checkpoint aggressiveness
	// Options: PASSIVE, FULL, RESTART, TRUNCATE
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = common.NewDuration(30 * time.Minute) //nolint:mnd
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// Validate checks if the maintenance configuration is valid.
func (m *MaintenanceConfig) Validate() error {
	if m.WALCheckpointMode != "" {
		validModes := []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
		if !slices.Contains(validModes, m.WALCheckpointMode) {
			return fmt.Errorf("maintenance.wal_checkpoint_mode: must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
		}
	}

	return nil
}

// SearchConfig configures the full-text index over market creation documents.
type SearchConfig struct {
	// Enabled controls whether the index is built and maintained
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// Collection is the collection whose documents are indexed
	Collection string `yaml:"collection" json:"collection" toml:"collection"`

	// TitleField is the document field used as the entry title
	TitleField string `yaml:"title_field" json:"title_field" toml:"title_field"`

	// MetadataField is the document field holding the JSON metadata blob
	MetadataField string `yaml:"metadata_field" json:"metadata_field" toml:"metadata_field"`

	// EndTimeField is the optional document field holding the unix end time
	EndTimeField string `yaml:"end_time_field" json:"end_time_field" toml:"end_time_field"`

	// DefaultLimit caps query results when the caller gives no limit
	DefaultLimit int `yaml:"default_limit" json:"default_limit" toml:"default_limit"`
}

// ApplyDefaults sets default values for optional search configuration fields.
func (s *SearchConfig) ApplyDefaults() {
	if s.Collection == "" {
		s.Collection = "MarketCreated"
	}
	if s.TitleField == "" {
		s.TitleField = "description"
	}
	if s.MetadataField == "" {
		s.MetadataField = "extraInfo"
	}
	if s.EndTimeField == "" {
		s.EndTimeField = "endTime"
	}
	if s.DefaultLimit == 0 {
		s.DefaultLimit = 50
	}
}

// DeadLetterConfig configures the sink for logs skipped by the pipeline.
type DeadLetterConfig struct {
	// Enabled records skipped logs to Redis; otherwise they are only logged
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// RedisURL is the Redis connection URL, e.g. redis://localhost:6379/0
	RedisURL string `yaml:"redis_url" json:"redis_url" toml:"redis_url"`

	// Password overrides the password from the URL
	Password string `yaml:"password,omitempty" json:"password,omitempty" toml:"password,omitempty"`

	// KeyPrefix namespaces the Redis keys
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" toml:"key_prefix"`

	// TTL is how long a skipped entry is kept
	TTL common.Duration `yaml:"ttl" json:"ttl" toml:"ttl"`
}

// ApplyDefaults sets default values for optional dead letter configuration fields.
func (d *DeadLetterConfig) ApplyDefaults() {
	if d.KeyPrefix == "" {
		d.KeyPrefix = "chainsync:skipped"
	}
	if d.TTL.Duration == 0 {
		d.TTL = common.NewDuration(7 * 24 * time.Hour) //nolint:mnd
	}
}

// Validate checks if the dead letter configuration is valid.
func (d *DeadLetterConfig) Validate() error {
	if d.Enabled && d.RedisURL == "" {
		return fmt.Errorf("redis_url is required when dead letter recording is enabled")
	}
	return nil
}

// APIConfig configures the read-only query API.
type APIConfig struct {
	// Enabled controls whether the API server is started
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the API server to
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	ReadTimeout  common.Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout"`
	WriteTimeout common.Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout"`
	IdleTimeout  common.Duration `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`

	// CORS configures cross origin access
	CORS CORSConfig `yaml:"cors" json:"cors" toml:"cors"`
}

// CORSConfig configures cross origin resource sharing.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled" toml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" toml:"allowed_origins"`
}

// ApplyDefaults sets default values for optional API configuration fields.
func (a *APIConfig) ApplyDefaults() {
	if a.ListenAddress == "" {
		a.ListenAddress = ":8080"
	}
	if a.ReadTimeout.Duration == 0 {
		a.ReadTimeout = common.NewDuration(10 * time.Second) //nolint:mnd
	}
	if a.WriteTimeout.Duration == 0 {
		a.WriteTimeout = common.NewDuration(10 * time.Second) //nolint:mnd
	}
	if a.IdleTimeout.Duration == 0 {
		a.IdleTimeout = common.NewDuration(60 * time.Second) //nolint:mnd
	}
	if a.CORS.Enabled && len(a.CORS.AllowedOrigins) == 0 {
		a.CORS.AllowedOrigins = []string{"*"}
	}
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components:
	//   - listener: Head subscription and reorg window
	//   - coordinator: Backfill, live tailing and rollback
	//   - event-store: Document persistence
	//   - sync-status: Per collection watermarks
	//   - block-refs: Persisted block references
	//   - decoder: Log decoding
	//   - fetcher: Historical log fetching
	//   - search-indexer: Full-text index
	//   - dead-letter: Skipped log recording
	//   - maintenance: Database maintenance
	//   - supervisor: Coordinator restarts
	//   - api: Query API
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
// Safe to call on a nil config.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if l == nil {
		return ""
	}
	if level, ok := l.ComponentLevels[component]; ok {
		return common.ToLowerWithTrim(level)
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	if l == nil {
		return ""
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l != nil && l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if !strings.HasPrefix(m.Path, "/") {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Network.ApplyDefaults()
	c.Sync.ApplyDefaults()
	c.DB.ApplyDefaults(c.Network.ID)

	if c.Maintenance != nil {
		c.Maintenance.ApplyDefaults()
	}
	if c.Search != nil {
		c.Search.ApplyDefaults()
	}
	if c.DeadLetter != nil {
		c.DeadLetter.ApplyDefaults()
	}
	if c.API != nil {
		c.API.ApplyDefaults()
	}
	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Network.Validate(); err != nil {
		return err
	}

	if err := c.Sync.Validate(); err != nil {
		return err
	}

	if err := c.DB.Validate(); err != nil {
		return err
	}

	if c.Maintenance != nil {
		if err := c.Maintenance.Validate(); err != nil {
			return err
		}
	}

	if c.DeadLetter != nil {
		if err := c.DeadLetter.Validate(); err != nil {
			return fmt.Errorf("dead_letter: %w", err)
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}
