package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix viper.AutomaticEnv applies to every key, e.g.
// RELAY_API_BIND_ADDR for "api_bind_addr".
const EnvPrefix = "RELAY"

// ReservedEnvPrefixes names environment-variable prefixes a function's
// declared environment variables may never shadow, because the runtime
// itself reads them. Mirrors the convention of reserving a
// deployment-identity prefix (the original system reserves
// CONVEX_-prefixed names for this).
var ReservedEnvPrefixes = []string{"RELAY_"}

// ReservedEnvNames names specific environment variable names, outside
// the reserved prefixes, that a function's declared environment may
// never override because the sandbox injects them itself.
var ReservedEnvNames = []string{
	"SITE_URL",
	"CLOUD_URL",
	"DEPLOYMENT_NAME",
}

// IsReservedEnvName reports whether name is reserved and therefore
// rejected if a function tries to declare it as an environment variable.
func IsReservedEnvName(name string) bool {
	for _, p := range ReservedEnvPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	for _, n := range ReservedEnvNames {
		if name == n {
			return true
		}
	}
	return false
}

// Config is the full deployment configuration, unmarshaled from a YAML
// file, environment variables (RELAY_ prefixed), and CLI flags, in that
// ascending order of precedence.
type Config struct {
	APIBindAddr     string        `mapstructure:"api_bind_addr"`
	SiteBindAddr    string        `mapstructure:"site_bind_addr"`
	MetricsBindAddr string        `mapstructure:"metrics_bind_addr"`
	DataDir         string        `mapstructure:"data_dir"`

	RaftBindAddr string   `mapstructure:"raft_bind_addr"`
	RaftNodeID   string   `mapstructure:"raft_node_id"`
	RaftBootstrap bool    `mapstructure:"raft_bootstrap"`
	RaftJoinAddrs []string `mapstructure:"raft_join_addrs"`

	Sandbox  SandboxLimits `mapstructure:"sandbox"`
	Cache    CacheConfig   `mapstructure:"cache"`
	Search   SearchConfig  `mapstructure:"search"`
	Retention RetentionConfig `mapstructure:"retention"`
	Transaction TransactionLimits `mapstructure:"transaction"`

	LogLevel  string `mapstructure:"log_level"`
	LogJSON   bool   `mapstructure:"log_json"`
}

// SandboxLimits bounds a single query/mutation/action execution. Query
// and mutation limits are stricter than action limits since those run
// in the deterministic, single-threaded isolate pool; actions get their
// own, looser budget because they may perform real I/O.
type SandboxLimits struct {
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	MutationTimeout time.Duration `mapstructure:"mutation_timeout"`
	ActionTimeout   time.Duration `mapstructure:"action_timeout"`

	QueryMaxInstructions    int64 `mapstructure:"query_max_instructions"`
	MutationMaxInstructions int64 `mapstructure:"mutation_max_instructions"`

	IsolatePoolSize     int `mapstructure:"isolate_pool_size"`
	ActionConcurrency   int `mapstructure:"action_concurrency"`
	MaxFunctionMemoryMB int `mapstructure:"max_function_memory_mb"`
}

// CacheConfig bounds the query result cache.
type CacheConfig struct {
	MaxEntries int           `mapstructure:"max_entries"`
	MaxBytes   int           `mapstructure:"max_bytes"`
	EntryTTL   time.Duration `mapstructure:"entry_ttl"`
}

// SearchConfig governs the search/vector index engine's background
// loops.
type SearchConfig struct {
	FlushInterval    time.Duration `mapstructure:"flush_interval"`
	CompactInterval  time.Duration `mapstructure:"compact_interval"`
	MaxDeltaDocs     int           `mapstructure:"max_delta_docs"`
}

// RetentionConfig governs how long old document/index log versions are
// kept before the committer's retention loop purges them.
type RetentionConfig struct {
	Window        time.Duration `mapstructure:"window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// TransactionLimits bounds a single transaction's read/write footprint,
// enforced by pkg/txn as writes are staged (spec: "exceeding configured
// hard limits fails the operation"). User and system limits are tracked
// separately since system-table writes (index/schema bookkeeping) ride
// along with a user mutation but shouldn't count against its own quota.
type TransactionLimits struct {
	MaxUserDocsWritten   int64 `mapstructure:"max_user_docs_written"`
	MaxUserBytesWritten  int64 `mapstructure:"max_user_bytes_written"`
	MaxSystemDocsWritten int64 `mapstructure:"max_system_docs_written"`
	MaxSystemBytesWritten int64 `mapstructure:"max_system_bytes_written"`
	MaxUserDocsRead      int64 `mapstructure:"max_user_docs_read"`
	MaxUserBytesRead     int64 `mapstructure:"max_user_bytes_read"`
}

// Defaults returns a Config populated with the values every production
// deployment starts from absent a config file, env var, or flag
// override.
func Defaults() Config {
	return Config{
		APIBindAddr:     ":8080",
		SiteBindAddr:    ":8081",
		MetricsBindAddr: ":9090",
		DataDir:         "/var/lib/relay",
		RaftBindAddr:    ":8300",
		Sandbox: SandboxLimits{
			QueryTimeout:            1 * time.Second,
			MutationTimeout:         1 * time.Second,
			ActionTimeout:           10 * time.Minute,
			QueryMaxInstructions:    100_000_000,
			MutationMaxInstructions: 100_000_000,
			IsolatePoolSize:         8,
			ActionConcurrency:       16,
			MaxFunctionMemoryMB:     64,
		},
		Cache: CacheConfig{
			MaxEntries: 10_000,
			MaxBytes:   256 << 20,
			EntryTTL:   5 * time.Minute,
		},
		Search: SearchConfig{
			FlushInterval:   5 * time.Second,
			CompactInterval: 5 * time.Minute,
			MaxDeltaDocs:    10_000,
		},
		Retention: RetentionConfig{
			Window:        1 * time.Hour,
			SweepInterval: 1 * time.Minute,
		},
		Transaction: TransactionLimits{
			MaxUserDocsWritten:    4_096,
			MaxUserBytesWritten:   8 << 20,
			MaxSystemDocsWritten:  8_192,
			MaxSystemBytesWritten: 16 << 20,
			MaxUserDocsRead:       16_384,
			MaxUserBytesRead:      64 << 20,
		},
		LogLevel: "info",
		LogJSON:  true,
	}
}

// BindFlags registers the top-level config fields (bind addresses, data
// dir, raft settings, log settings) as pflags on fs and binds them into
// v; the nested sandbox, cache, search, retention and transaction
// sections have no flags. It follows the same cobra/pflag root-command setup used
// throughout: flags take precedence over env vars and the config file once Load
// calls v.Unmarshal.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	d := Defaults()

	fs.String("api-bind-addr", d.APIBindAddr, "bind address for the client sync/HTTP API")
	fs.String("site-bind-addr", d.SiteBindAddr, "bind address for the HTTP-actions site")
	fs.String("metrics-bind-addr", d.MetricsBindAddr, "bind address for the Prometheus exporter")
	fs.String("data-dir", d.DataDir, "directory for persistence and search index data")
	fs.String("raft-bind-addr", d.RaftBindAddr, "bind address for the raft transport")
	fs.String("raft-node-id", d.RaftNodeID, "this node's raft server id")
	fs.Bool("raft-bootstrap", d.RaftBootstrap, "bootstrap a new single-node raft cluster")
	fs.StringSlice("raft-join-addrs", d.RaftJoinAddrs, "addresses of existing raft peers to join")
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	fs.Bool("log-json", d.LogJSON, "emit structured JSON logs")

	for _, name := range []string{
		"api-bind-addr", "site-bind-addr", "metrics-bind-addr", "data-dir",
		"raft-bind-addr", "raft-node-id", "raft-bootstrap", "raft-join-addrs",
		"log-level", "log-json",
	} {
		if err := v.BindPFlag(flagToKey(name), fs.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func flagToKey(flagName string) string {
	return strings.ReplaceAll(flagName, "-", "_")
}

// Load reads a config file (if cfgFile is non-empty), layers RELAY_
// prefixed environment variables on top, merges in the bound CLI flags,
// and unmarshals the result over Defaults().
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	cfg := Defaults()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", cfgFile, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
