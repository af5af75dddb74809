package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"librarian/internal/engine/httpengine"
	"librarian/internal/gate"
	"librarian/internal/scheduler"
	"librarian/internal/selector"
	"librarian/internal/usecase"
)

const (
	// CurrentVersion is the supported config schema version.
	CurrentVersion = 1

	// Dir is the per-workspace configuration directory.
	Dir = ".librarian"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "LIBRARIAN"

	// EnvConfigPath points at an explicit config file.
	EnvConfigPath = "LIBRARIAN_CONFIG_PATH"
)

// Config represents the complete librarian configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	Catalog    CatalogConfig     `json:"catalog" mapstructure:"catalog"`
	Repos      ReposConfig       `json:"repos" mapstructure:"repos"`
	Review     ReviewConfig      `json:"review" mapstructure:"review"`
	Thresholds gate.Thresholds   `json:"thresholds" mapstructure:"thresholds"`
	Engine     httpengine.Config `json:"engine" mapstructure:"engine"`
	History    HistoryConfig     `json:"history" mapstructure:"history"`
	Report     ReportConfig      `json:"report" mapstructure:"report"`
	Metrics    MetricsConfig     `json:"metrics" mapstructure:"metrics"`
	Logging    LoggingConfig     `json:"logging" mapstructure:"logging"`
}

// CatalogConfig locates the use-case catalog
type CatalogConfig struct {
	Path       string `json:"path" mapstructure:"path"`
	RangeStart int    `json:"rangeStart" mapstructure:"rangeStart"`
	// RangeEnd <= 0 means no upper bound.
	RangeEnd int `json:"rangeEnd" mapstructure:"rangeEnd"`
}

// ReposConfig locates the repositories under review
type ReposConfig struct {
	Manifest string `json:"manifest" mapstructure:"manifest"`
	Dir      string `json:"dir" mapstructure:"dir"`
	MaxRepos int    `json:"maxRepos" mapstructure:"maxRepos"`
}

// ReviewConfig contains selection, planning and execution settings
type ReviewConfig struct {
	MaxUseCases        int           `json:"maxUseCases" mapstructure:"maxUseCases"`
	SelectionMode      string        `json:"selectionMode" mapstructure:"selectionMode"`
	Progressive        bool          `json:"progressivePrerequisites" mapstructure:"progressivePrerequisites"`
	Deterministic      bool          `json:"deterministic" mapstructure:"deterministic"`
	MaxRunsPerRepo     int           `json:"maxRunsPerRepo" mapstructure:"maxRunsPerRepo"`
	InitTimeout        time.Duration `json:"initTimeout" mapstructure:"initTimeout"`
	QueryTimeout       time.Duration `json:"queryTimeout" mapstructure:"queryTimeout"`
	ParallelRepos      int           `json:"parallelRepos" mapstructure:"parallelRepos"`
	ExplorationIntents []string      `json:"explorationIntents" mapstructure:"explorationIntents"`
}

// HistoryConfig contains history inputs and recording
type HistoryConfig struct {
	// ReportPath is a prior report (.json or .json.zst) used as history.
	ReportPath string `json:"reportPath" mapstructure:"reportPath"`
	// DBDir holds the sqlite run store; empty disables it.
	DBDir   string `json:"dbDir" mapstructure:"dbDir"`
	MaxRuns int    `json:"maxRuns" mapstructure:"maxRuns"`
	Record  bool   `json:"record" mapstructure:"record"`
}

// ReportConfig contains report output settings
type ReportConfig struct {
	Dir      string `json:"dir" mapstructure:"dir"`
	Compress bool   `json:"compress" mapstructure:"compress"`
}

// MetricsConfig contains metrics export settings
type MetricsConfig struct {
	// Textfile is written after each review when set.
	Textfile string `json:"textfile" mapstructure:"textfile"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	opts := scheduler.DefaultOptions()
	return &Config{
		Version: CurrentVersion,
		Catalog: CatalogConfig{
			Path:       "docs/USECASES.md",
			RangeStart: 1,
		},
		Repos: ReposConfig{
			Manifest: "repos/manifest.json",
			Dir:      "repos",
		},
		Review: ReviewConfig{
			SelectionMode:      string(opts.SelectionMode),
			Progressive:        opts.Progressive,
			Deterministic:      opts.Deterministic,
			MaxRunsPerRepo:     opts.MaxRunsPerRepo,
			InitTimeout:        opts.InitTimeout,
			QueryTimeout:       opts.QueryTimeout,
			ParallelRepos:      opts.ParallelRepos,
			ExplorationIntents: []string{},
		},
		Thresholds: gate.DefaultThresholds(),
		Engine: httpengine.Config{
			URL:        "http://localhost:9120",
			Burst:      1,
			Timeout:    2 * time.Minute,
			MaxRetries: httpengine.DefaultMaxRetries,
		},
		History: HistoryConfig{
			ReportPath: ".librarian/reports/review-report.json",
			DBDir:      ".librarian",
			MaxRuns:    20,
			Record:     true,
		},
		Report: ReportConfig{
			Dir: ".librarian/reports",
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// EnvBinding maps a config key to its environment variable.
type EnvBinding struct {
	Key string
	Env string
}

var envBindings = []EnvBinding{
	{"catalog.path", EnvPrefix + "_CATALOG_PATH"},
	{"catalog.rangeStart", EnvPrefix + "_CATALOG_RANGE_START"},
	{"catalog.rangeEnd", EnvPrefix + "_CATALOG_RANGE_END"},
	{"repos.manifest", EnvPrefix + "_REPOS_MANIFEST"},
	{"repos.dir", EnvPrefix + "_REPOS_DIR"},
	{"repos.maxRepos", EnvPrefix + "_MAX_REPOS"},
	{"review.maxUseCases", EnvPrefix + "_MAX_USE_CASES"},
	{"review.selectionMode", EnvPrefix + "_SELECTION_MODE"},
	{"review.progressivePrerequisites", EnvPrefix + "_PROGRESSIVE_PREREQUISITES"},
	{"review.deterministic", EnvPrefix + "_DETERMINISTIC"},
	{"review.maxRunsPerRepo", EnvPrefix + "_MAX_RUNS_PER_REPO"},
	{"review.initTimeout", EnvPrefix + "_INIT_TIMEOUT"},
	{"review.queryTimeout", EnvPrefix + "_QUERY_TIMEOUT"},
	{"review.parallelRepos", EnvPrefix + "_PARALLEL_REPOS"},
	{"engine.url", EnvPrefix + "_ENGINE_URL"},
	{"engine.token", EnvPrefix + "_ENGINE_TOKEN"},
	{"engine.requestsPerSecond", EnvPrefix + "_ENGINE_RPS"},
	{"history.reportPath", EnvPrefix + "_HISTORY_REPORT"},
	{"history.dbDir", EnvPrefix + "_HISTORY_DB_DIR"},
	{"report.dir", EnvPrefix + "_REPORT_DIR"},
	{"report.compress", EnvPrefix + "_REPORT_COMPRESS"},
	{"metrics.textfile", EnvPrefix + "_METRICS_TEXTFILE"},
	{"logging.level", EnvPrefix + "_LOG_LEVEL"},
	{"logging.format", EnvPrefix + "_LOG_FORMAT"},
}

// SupportedEnvVars lists the recognized environment overrides.
func SupportedEnvVars() []EnvBinding {
	return append([]EnvBinding(nil), envBindings...)
}

// LoadResult describes where a configuration came from.
type LoadResult struct {
	Config       *Config
	ConfigPath   string
	UsedDefaults bool
	// EnvOverrides lists the environment variables that were applied.
	EnvOverrides []string
}

// LoadConfig loads configuration from <root>/.librarian/config.{json,yaml,toml}
func LoadConfig(root string) (*Config, error) {
	result, err := LoadConfigWithDetails(root, "")
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

// LoadConfigWithDetails loads configuration and reports its origin. An
// explicit path, or LIBRARIAN_CONFIG_PATH, replaces the directory search
// and must exist.
func LoadConfigWithDetails(root, explicitPath string) (*LoadResult, error) {
	v := viper.New()
	if err := setDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}

	if explicitPath == "" {
		explicitPath = os.Getenv(EnvConfigPath)
	}
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(root, Dir))
	}

	result := &LoadResult{}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, &ConfigError{Field: "file", Message: err.Error()}
		}
		result.UsedDefaults = true
	} else {
		result.ConfigPath = v.ConfigFileUsed()
	}

	for _, b := range envBindings {
		if err := v.BindEnv(b.Key, b.Env); err != nil {
			return nil, err
		}
		if _, ok := os.LookupEnv(b.Env); ok {
			result.EnvOverrides = append(result.EnvOverrides, b.Env)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Field: "file", Message: err.Error()}
	}
	result.Config = &cfg
	return result, nil
}

// setDefaults registers every leaf of defaults with viper so that files
// and environment variables only need to name what they change.
func setDefaults(v *viper.Viper, defaults *Config) error {
	data, err := json.Marshal(defaults)
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return err
	}
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, val := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := val.(map[string]any); ok {
				walk(key, sub)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)
	return nil
}

// Save writes the configuration to <root>/.librarian/config.json
func (c *Config) Save(root string) error {
	configPath := filepath.Join(root, Dir, "config.json")
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.Catalog.Path == "" {
		return &ConfigError{Field: "catalog.path", Message: "catalog path is required"}
	}
	if c.Catalog.RangeStart < 0 {
		return &ConfigError{Field: "catalog.rangeStart", Message: "must not be negative"}
	}
	if c.Catalog.RangeEnd > 0 && c.Catalog.RangeEnd < c.Catalog.RangeStart {
		return &ConfigError{Field: "catalog.rangeEnd", Message: "must not be below rangeStart"}
	}
	if _, err := selector.ParseMode(c.Review.SelectionMode); err != nil {
		return &ConfigError{Field: "review.selectionMode", Message: err.Error()}
	}
	if c.Review.InitTimeout < 0 || c.Review.QueryTimeout < 0 {
		return &ConfigError{Field: "review", Message: "timeouts must not be negative"}
	}
	if c.Review.ParallelRepos < 0 {
		return &ConfigError{Field: "review.parallelRepos", Message: "must not be negative"}
	}
	if err := c.Thresholds.Validate(); err != nil {
		return &ConfigError{Field: "thresholds", Message: err.Error()}
	}
	switch c.Logging.Format {
	case "human", "json":
	default:
		return &ConfigError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q", c.Logging.Format)}
	}
	return nil
}

// Range returns the configured catalog id range.
func (c *Config) Range() usecase.Range {
	return usecase.Range{Start: c.Catalog.RangeStart, End: c.Catalog.RangeEnd}
}

// SchedulerOptions converts the review settings into scheduler options.
func (c *Config) SchedulerOptions() (scheduler.Options, error) {
	mode, err := selector.ParseMode(c.Review.SelectionMode)
	if err != nil {
		return scheduler.Options{}, &ConfigError{Field: "review.selectionMode", Message: err.Error()}
	}
	opts := scheduler.Options{
		Range:          c.Range(),
		MaxUseCases:    c.Review.MaxUseCases,
		MaxRepos:       c.Repos.MaxRepos,
		SelectionMode:  mode,
		Progressive:    c.Review.Progressive,
		Deterministic:  c.Review.Deterministic,
		MaxRunsPerRepo: c.Review.MaxRunsPerRepo,
		InitTimeout:    c.Review.InitTimeout,
		QueryTimeout:   c.Review.QueryTimeout,
		ParallelRepos:  c.Review.ParallelRepos,
		Thresholds:     c.Thresholds,
	}
	if len(c.Review.ExplorationIntents) > 0 {
		opts.ExplorationIntents = c.Review.ExplorationIntents
	}
	return opts, nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
