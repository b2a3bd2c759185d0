// Package config loads layered configuration: defaults, then the user file
// (~/.dbsafe/config.toml), then the project file (<project>/.dbsafe/config.toml),
// then DBSAFE_* environment variables, then explicit flag overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

const (
	configDirName  = ".dbsafe"
	configFileName = "config.toml"
	envPrefix      = "DBSAFE"
)

// Snapshot backend selectors.
const (
	BackendSQLite        = "sqlite"
	BackendTransactional = "transactional"
)

// Config is the full resolved configuration.
type Config struct {
	General  GeneralConfig  `mapstructure:"general" toml:"general"`
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
	Snapshot SnapshotConfig `mapstructure:"snapshot" toml:"snapshot"`
}

// GeneralConfig holds the gate policy knobs.
type GeneralConfig struct {
	// ProtectedTables escalate any statement referencing them.
	ProtectedTables []string `mapstructure:"protected_tables" toml:"protected_tables"`
	// RowCountThresholdMediumHigh raises a mutating statement to HIGH when
	// the dry-run estimate meets it.
	RowCountThresholdMediumHigh int64 `mapstructure:"row_count_threshold_medium_high" toml:"row_count_threshold_medium_high"`
	ApprovalTimeoutSecs         int   `mapstructure:"approval_timeout_secs" toml:"approval_timeout_secs"`
	ExecutionTimeoutSecs        int   `mapstructure:"execution_timeout_secs" toml:"execution_timeout_secs"`
	// AutoApproveLow lets LOW-risk statements execute without a prompt.
	AutoApproveLow bool `mapstructure:"auto_approve_low" toml:"auto_approve_low"`
}

// DatabaseConfig locates the protected database and the gate's own state.
type DatabaseConfig struct {
	TargetPath string `mapstructure:"target_path" toml:"target_path"`
	StatePath  string `mapstructure:"state_path" toml:"state_path"`
}

// SnapshotConfig selects and locates the snapshot backend.
type SnapshotConfig struct {
	Backend string `mapstructure:"backend" toml:"backend"`
	Dir     string `mapstructure:"dir" toml:"dir"`
}

// ApprovalTimeout returns the approval deadline as a duration.
func (c *Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.General.ApprovalTimeoutSecs) * time.Second
}

// ExecutionTimeout returns the per-statement execution deadline; zero means
// no deadline.
func (c *Config) ExecutionTimeout() time.Duration {
	return time.Duration(c.General.ExecutionTimeoutSecs) * time.Second
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			ProtectedTables:             []string{},
			RowCountThresholdMediumHigh: 1000,
			ApprovalTimeoutSecs:         300,
			ExecutionTimeoutSecs:        60,
			AutoApproveLow:              true,
		},
		Database: DatabaseConfig{
			TargetPath: "",
			StatePath:  filepath.Join(configDirName, "state.db"),
		},
		Snapshot: SnapshotConfig{
			Backend: BackendSQLite,
			Dir:     filepath.Join(configDirName, "snapshots"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("general.protected_tables", def.General.ProtectedTables)
	v.SetDefault("general.row_count_threshold_medium_high", def.General.RowCountThresholdMediumHigh)
	v.SetDefault("general.approval_timeout_secs", def.General.ApprovalTimeoutSecs)
	v.SetDefault("general.execution_timeout_secs", def.General.ExecutionTimeoutSecs)
	v.SetDefault("general.auto_approve_low", def.General.AutoApproveLow)
	v.SetDefault("database.target_path", def.Database.TargetPath)
	v.SetDefault("database.state_path", def.Database.StatePath)
	v.SetDefault("snapshot.backend", def.Snapshot.Backend)
	v.SetDefault("snapshot.dir", def.Snapshot.Dir)
}

// envBindings maps config keys to their DBSAFE_* variables. Bindings are
// explicit so the variable names stay flat and documented.
var envBindings = map[string]string{
	"general.protected_tables":                "DBSAFE_PROTECTED_TABLES",
	"general.row_count_threshold_medium_high": "DBSAFE_ROW_COUNT_THRESHOLD_MEDIUM_HIGH",
	"general.approval_timeout_secs":           "DBSAFE_APPROVAL_TIMEOUT_SECS",
	"general.execution_timeout_secs":          "DBSAFE_EXECUTION_TIMEOUT_SECS",
	"general.auto_approve_low":                "DBSAFE_AUTO_APPROVE_LOW",
	"database.target_path":                    "DBSAFE_DATABASE_PATH",
	"database.state_path":                     "DBSAFE_STATE_DB_PATH",
	"snapshot.backend":                        "DBSAFE_SNAPSHOT_BACKEND",
	"snapshot.dir":                            "DBSAFE_SNAPSHOT_DIR",
}

// LoadOptions parameterizes Load.
type LoadOptions struct {
	// ProjectDir locates <project>/.dbsafe/config.toml; empty means the
	// current working directory.
	ProjectDir string
	// ConfigFile, when set, replaces the project config path entirely.
	ConfigFile string
	// FlagOverrides apply last, keyed by config key.
	FlagOverrides map[string]any
}

// Load resolves the configuration with full precedence and validates it.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	userPath, projectPath := ConfigPaths(opts.ProjectDir, opts.ConfigFile)
	if err := mergeConfigFile(v, userPath); err != nil {
		return nil, err
	}
	if err := mergeConfigFile(v, projectPath); err != nil {
		return nil, err
	}

	for key, env := range envBindings {
		if raw, ok := os.LookupEnv(env); ok {
			val, err := ParseValue(key, raw)
			if err != nil {
				return nil, fmt.Errorf("environment %s: %w", env, err)
			}
			v.Set(key, val)
		}
	}

	for key, val := range opts.FlagOverrides {
		v.Set(key, val)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeConfigFile merges one TOML file into v. A missing file is fine; an
// unreadable or malformed one is not.
func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// ConfigPaths returns the user and project config file paths.
func ConfigPaths(projectDir, configFile string) (userPath, projectPath string) {
	home, err := os.UserHomeDir()
	if err == nil {
		userPath = filepath.Join(home, configDirName, configFileName)
	}
	return userPath, projectConfigPath(projectDir, configFile)
}

func projectConfigPath(projectDir, configFile string) string {
	if configFile != "" {
		return configFile
	}
	return filepath.Join(projectDir, configDirName, configFileName)
}

// Validate checks the resolved configuration, reporting every problem.
func Validate(cfg *Config) error {
	var problems []string

	if cfg.General.RowCountThresholdMediumHigh <= 0 {
		problems = append(problems, "general.row_count_threshold_medium_high must be positive")
	}
	if cfg.General.ApprovalTimeoutSecs <= 0 {
		problems = append(problems, "general.approval_timeout_secs must be positive")
	}
	if cfg.General.ExecutionTimeoutSecs < 0 {
		problems = append(problems, "general.execution_timeout_secs must not be negative")
	}
	for _, table := range cfg.General.ProtectedTables {
		if strings.TrimSpace(table) == "" {
			problems = append(problems, "general.protected_tables must not contain empty names")
			break
		}
	}
	switch cfg.Snapshot.Backend {
	case BackendSQLite, BackendTransactional:
	default:
		problems = append(problems, fmt.Sprintf("snapshot.backend %q is not one of %q, %q",
			cfg.Snapshot.Backend, BackendSQLite, BackendTransactional))
	}
	if cfg.Database.StatePath == "" {
		problems = append(problems, "database.state_path is required")
	}
	if cfg.Snapshot.Dir == "" {
		problems = append(problems, "snapshot.dir is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindInt64
	kindBool
	kindStringSlice
)

// keyKinds is the registry of settable keys and their types.
var keyKinds = map[string]valueKind{
	"general.protected_tables":                kindStringSlice,
	"general.row_count_threshold_medium_high": kindInt64,
	"general.approval_timeout_secs":           kindInt,
	"general.execution_timeout_secs":          kindInt,
	"general.auto_approve_low":                kindBool,
	"database.target_path":                    kindString,
	"database.state_path":                     kindString,
	"snapshot.backend":                        kindString,
	"snapshot.dir":                            kindString,
}

// ParseValue converts a raw string to the typed value for key.
func ParseValue(key, raw string) (any, error) {
	kind, ok := keyKinds[key]
	if !ok {
		return nil, fmt.Errorf("unsupported config key %q", key)
	}
	return parseValueByKind(raw, kind)
}

func parseValueByKind(raw string, kind valueKind) (any, error) {
	switch kind {
	case kindString:
		return raw, nil
	case kindInt:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", raw)
		}
		return n, nil
	case kindInt64:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", raw)
		}
		return n, nil
	case kindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid boolean %q", raw)
		}
		return b, nil
	case kindStringSlice:
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if out == nil {
			out = []string{}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value kind %d", kind)
	}
}

// GetValue reads a single key from a resolved config.
func GetValue(cfg *Config, key string) (any, error) {
	switch key {
	case "general.protected_tables":
		return cfg.General.ProtectedTables, nil
	case "general.row_count_threshold_medium_high":
		return cfg.General.RowCountThresholdMediumHigh, nil
	case "general.approval_timeout_secs":
		return cfg.General.ApprovalTimeoutSecs, nil
	case "general.execution_timeout_secs":
		return cfg.General.ExecutionTimeoutSecs, nil
	case "general.auto_approve_low":
		return cfg.General.AutoApproveLow, nil
	case "database.target_path":
		return cfg.Database.TargetPath, nil
	case "database.state_path":
		return cfg.Database.StatePath, nil
	case "snapshot.backend":
		return cfg.Snapshot.Backend, nil
	case "snapshot.dir":
		return cfg.Snapshot.Dir, nil
	default:
		return nil, fmt.Errorf("unsupported config key %q", key)
	}
}

// WriteValue sets key in the TOML file at path, creating the file and its
// directory if needed. Unknown keys are rejected before touching the file.
func WriteValue(path, key string, value any) error {
	if _, ok := keyKinds[key]; !ok {
		return fmt.Errorf("unsupported config key %q", key)
	}

	doc := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	section, leaf, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("config key %q must be section.name", key)
	}
	sub, ok := doc[section].(map[string]any)
	if !ok {
		sub = map[string]any{}
		doc[section] = sub
	}
	sub[leaf] = value

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(doc); err != nil {
		return fmt.Errorf("encoding config %s: %w", path, err)
	}
	return nil
}
