// Package config loads and validates relaycore's configuration document,
// following the teacher repo's pattern: a YAML document, environment
// overrides with a project-specific prefix, defaults applied post-parse,
// and a validation pass before the config is handed to the rest of the
// module.
package config

import (
	"embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// ExampleYAML returns the embedded example configuration document, used by
// `relaycore init` to scaffold a starting file.
func ExampleYAML() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}

// Config is the root configuration document for a relaycore instance.
type Config struct {
	Identity  Identity  `yaml:"identity"`
	Relays    Relays    `yaml:"relays"`
	Router    Router    `yaml:"router"`
	Feed      Feed      `yaml:"feed"`
	Profile   Profile   `yaml:"profile"`
	Counts    Counts    `yaml:"counts"`
	Thread    Thread    `yaml:"thread"`
	Notify    Notify    `yaml:"notify"`
	Discovery Discovery `yaml:"discovery"`
	Publish   Publish   `yaml:"publish"`
	Storage   Storage   `yaml:"storage"`
	Logging   Logging   `yaml:"logging"`
}

// Identity holds the current user's public key, set from outside the core
// (the signer owns the private key; the core only ever sees the pubkey).
type Identity struct {
	Pubkey string `yaml:"pubkey"`
}

// Relays contains seed relay and connection-policy configuration for the
// pool (C1).
type Relays struct {
	Seeds           []string     `yaml:"seeds"`
	ProfileRelays   []string     `yaml:"profile_relays"`
	IndexerRelays   []string     `yaml:"indexer_relays"`
	Policy          RelayPolicy  `yaml:"policy"`
}

// RelayPolicy contains per-connection lifecycle tuning for the pool.
type RelayPolicy struct {
	ConnectTimeoutMs   int `yaml:"connect_timeout_ms"`
	BackoffInitialMs   int `yaml:"backoff_initial_ms"`
	BackoffCapMs       int `yaml:"backoff_cap_ms"`
	BackoffResetAfterS int `yaml:"backoff_reset_after_s"`
	IdleTimeoutS       int `yaml:"idle_timeout_s"`
	BackgroundGraceS   int `yaml:"background_grace_s"`
}

// Router contains subscription-router tuning (C2).
type Router struct {
	SeenIDCapacity int `yaml:"seen_id_capacity"`
}

// Feed contains feed-aggregator tuning (C3).
type Feed struct {
	FlushDebounceMs    int `yaml:"flush_debounce_ms"`
	ProjectDebounceMs  int `yaml:"project_debounce_ms"`
	GraceWindowS       int `yaml:"grace_window_s"`
	MaxNotes           int `yaml:"max_notes"`
	SnapshotSize       int `yaml:"snapshot_size"`
	SnapshotDebounceMs int `yaml:"snapshot_debounce_ms"`
	RepostFetchTimeoutS int `yaml:"repost_fetch_timeout_s"`
	FollowWindowDays   int `yaml:"follow_window_days"`
	GraceWindowEnabled bool `yaml:"grace_window_enabled"`
}

// Profile contains profile-cache tuning (C4).
type Profile struct {
	SoftCap            int `yaml:"soft_cap"`
	HardCap            int `yaml:"hard_cap"`
	TTLDays            int `yaml:"ttl_days"`
	RequestDebounceMs  int `yaml:"request_debounce_ms"`
	BatchSize          int `yaml:"batch_size"`
	WaitS              int `yaml:"wait_s"`
	WaitLargeBatchS    int `yaml:"wait_large_batch_s"`
	LargeBatchSize     int `yaml:"large_batch_size"`
	InterBatchPauseMs  int `yaml:"inter_batch_pause_ms"`
	PersistTopN        int `yaml:"persist_top_n"`
	PersistDebounceMs  int `yaml:"persist_debounce_ms"`
	UpdateStreamBuffer int `yaml:"update_stream_buffer"`
}

// Counts contains counts-aggregator tuning (C5).
type Counts struct {
	SubscribeDebounceMs int `yaml:"subscribe_debounce_ms"`
	FlushDebounceMs     int `yaml:"flush_debounce_ms"`
	FlushHardCapMs      int `yaml:"flush_hard_cap_ms"`
	ReactionPhaseDelayMs int `yaml:"reaction_phase_delay_ms"`
	MaxNotesPerRelay    int `yaml:"max_notes_per_relay"`
	ResubscribeDeltaMin int `yaml:"resubscribe_delta_min"`
	ProcessedIDCapacity int `yaml:"processed_id_capacity"`
}

// Thread contains thread-builder tuning (C6).
type Thread struct {
	ReplyLimit          int `yaml:"reply_limit"`
	ParentFetchTimeoutS int `yaml:"parent_fetch_timeout_s"`
}

// Notify contains notifications-aggregator tuning (C7).
type Notify struct {
	WindowDays        int `yaml:"window_days"`
	Limit             int `yaml:"limit"`
	TopicFetchTimeoutS int `yaml:"topic_fetch_timeout_s"`
}

// Discovery contains discovery-catalog tuning (C8).
type Discovery struct {
	RestEndpoint        string   `yaml:"rest_endpoint"`
	MonitorRelays       []string `yaml:"monitor_relays"`
	TTLHours            int      `yaml:"ttl_hours"`
	NIP66TimeoutS       int      `yaml:"nip66_timeout_s"`
	RelayListTimeoutS   int      `yaml:"relay_list_timeout_s"`
	HTTPTimeoutS        int      `yaml:"http_timeout_s"`
}

// Publish contains publisher tuning (C9).
type Publish struct {
	DefaultOutboxRelays []string `yaml:"default_outbox_relays"`
}

// Storage contains the persistent KV boundary's backend settings.
type Storage struct {
	Driver   string `yaml:"driver"` // badger|memory
	BadgerDir string `yaml:"badger_dir"`
}

// Logging contains structured-logging configuration.
type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Load reads, parses, defaults, env-overrides, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies RELAYCORE_-prefixed overrides for the handful of
// settings operators most commonly need to flip without editing the file.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("RELAYCORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RELAYCORE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("RELAYCORE_BADGER_DIR"); v != "" {
		cfg.Storage.BadgerDir = v
	}
	if v := os.Getenv("RELAYCORE_IDENTITY_PUBKEY"); v != "" {
		cfg.Identity.Pubkey = v
	}
	if v := os.Getenv("RELAYCORE_FEED_MAX_NOTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RELAYCORE_FEED_MAX_NOTES: %w", err)
		}
		cfg.Feed.MaxNotes = n
	}
	return nil
}

// applyDefaults fills in every zero-valued tunable with the constant from
// spec.md, so a config file only needs to mention what it wants to change.
func applyDefaults(cfg *Config) {
	if cfg.Relays.Policy.ConnectTimeoutMs == 0 {
		cfg.Relays.Policy.ConnectTimeoutMs = 10000
	}
	if cfg.Relays.Policy.BackoffInitialMs == 0 {
		cfg.Relays.Policy.BackoffInitialMs = 1000
	}
	if cfg.Relays.Policy.BackoffCapMs == 0 {
		cfg.Relays.Policy.BackoffCapMs = 30000
	}
	if cfg.Relays.Policy.BackoffResetAfterS == 0 {
		cfg.Relays.Policy.BackoffResetAfterS = 30
	}
	if cfg.Relays.Policy.IdleTimeoutS == 0 {
		cfg.Relays.Policy.IdleTimeoutS = 30
	}
	if cfg.Relays.Policy.BackgroundGraceS == 0 {
		cfg.Relays.Policy.BackgroundGraceS = 60
	}

	if cfg.Router.SeenIDCapacity == 0 {
		cfg.Router.SeenIDCapacity = 8192
	}

	if cfg.Feed.FlushDebounceMs == 0 {
		cfg.Feed.FlushDebounceMs = 120
	}
	if cfg.Feed.ProjectDebounceMs == 0 {
		cfg.Feed.ProjectDebounceMs = 150
	}
	if cfg.Feed.GraceWindowS == 0 {
		cfg.Feed.GraceWindowS = 5
	}
	if cfg.Feed.MaxNotes == 0 {
		cfg.Feed.MaxNotes = 1000
	}
	if cfg.Feed.SnapshotSize == 0 {
		cfg.Feed.SnapshotSize = 200
	}
	if cfg.Feed.SnapshotDebounceMs == 0 {
		cfg.Feed.SnapshotDebounceMs = 2000
	}
	if cfg.Feed.RepostFetchTimeoutS == 0 {
		cfg.Feed.RepostFetchTimeoutS = 10
	}
	if cfg.Feed.FollowWindowDays == 0 {
		cfg.Feed.FollowWindowDays = 7
	}

	if cfg.Profile.SoftCap == 0 {
		cfg.Profile.SoftCap = 2000
	}
	if cfg.Profile.HardCap == 0 {
		cfg.Profile.HardCap = 3000
	}
	if cfg.Profile.TTLDays == 0 {
		cfg.Profile.TTLDays = 7
	}
	if cfg.Profile.RequestDebounceMs == 0 {
		cfg.Profile.RequestDebounceMs = 400
	}
	if cfg.Profile.BatchSize == 0 {
		cfg.Profile.BatchSize = 80
	}
	if cfg.Profile.WaitS == 0 {
		cfg.Profile.WaitS = 5
	}
	if cfg.Profile.WaitLargeBatchS == 0 {
		cfg.Profile.WaitLargeBatchS = 12
	}
	if cfg.Profile.LargeBatchSize == 0 {
		cfg.Profile.LargeBatchSize = 50
	}
	if cfg.Profile.InterBatchPauseMs == 0 {
		cfg.Profile.InterBatchPauseMs = 200
	}
	if cfg.Profile.PersistTopN == 0 {
		cfg.Profile.PersistTopN = 1500
	}
	if cfg.Profile.PersistDebounceMs == 0 {
		cfg.Profile.PersistDebounceMs = 2000
	}
	if cfg.Profile.UpdateStreamBuffer == 0 {
		cfg.Profile.UpdateStreamBuffer = 2048
	}

	if cfg.Counts.SubscribeDebounceMs == 0 {
		cfg.Counts.SubscribeDebounceMs = 800
	}
	if cfg.Counts.FlushDebounceMs == 0 {
		cfg.Counts.FlushDebounceMs = 80
	}
	if cfg.Counts.FlushHardCapMs == 0 {
		cfg.Counts.FlushHardCapMs = 300
	}
	if cfg.Counts.ReactionPhaseDelayMs == 0 {
		cfg.Counts.ReactionPhaseDelayMs = 600
	}
	if cfg.Counts.MaxNotesPerRelay == 0 {
		cfg.Counts.MaxNotesPerRelay = 200
	}
	if cfg.Counts.ResubscribeDeltaMin == 0 {
		cfg.Counts.ResubscribeDeltaMin = 5
	}
	if cfg.Counts.ProcessedIDCapacity == 0 {
		cfg.Counts.ProcessedIDCapacity = 16384
	}

	if cfg.Thread.ReplyLimit == 0 {
		cfg.Thread.ReplyLimit = 100
	}
	if cfg.Thread.ParentFetchTimeoutS == 0 {
		cfg.Thread.ParentFetchTimeoutS = 12
	}

	if cfg.Notify.WindowDays == 0 {
		cfg.Notify.WindowDays = 7
	}
	if cfg.Notify.Limit == 0 {
		cfg.Notify.Limit = 500
	}
	if cfg.Notify.TopicFetchTimeoutS == 0 {
		cfg.Notify.TopicFetchTimeoutS = 3
	}

	if cfg.Discovery.TTLHours == 0 {
		cfg.Discovery.TTLHours = 6
	}
	if cfg.Discovery.NIP66TimeoutS == 0 {
		cfg.Discovery.NIP66TimeoutS = 12
	}
	if cfg.Discovery.RelayListTimeoutS == 0 {
		cfg.Discovery.RelayListTimeoutS = 5
	}
	if cfg.Discovery.HTTPTimeoutS == 0 {
		cfg.Discovery.HTTPTimeoutS = 12
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "badger"
	}
	if cfg.Storage.BadgerDir == "" {
		cfg.Storage.BadgerDir = "./relaycore-data"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks structural invariants a zero-value default cannot fix.
func Validate(cfg *Config) error {
	if len(cfg.Relays.Seeds) == 0 {
		return fmt.Errorf("relays.seeds must contain at least one relay URL")
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "badger", "memory":
	default:
		return fmt.Errorf("storage.driver must be 'badger' or 'memory', got %q", cfg.Storage.Driver)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug|info|warn|error, got %q", cfg.Logging.Level)
	}
	return nil
}
