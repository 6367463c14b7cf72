// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Dataset    DatasetConfig    `mapstructure:"dataset" yaml:"dataset"`
	Evaluator  EvaluatorConfig  `mapstructure:"evaluator" yaml:"evaluator"`
	Matchers   MatchersConfig   `mapstructure:"matchers" yaml:"matchers"`
	Similarity SimilarityConfig `mapstructure:"similarity" yaml:"similarity"`
	Scorer     ScorerConfig     `mapstructure:"scorer" yaml:"scorer"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatasetConfig locates the ground-truth dataset and agent executions.
type DatasetConfig struct {
	GroundTruthRoot string `mapstructure:"groundtruth_root" yaml:"groundtruth_root"`
	MetadataFile    string `mapstructure:"metadata_file" yaml:"metadata_file"`
	ExecutionRoot   string `mapstructure:"execution_root" yaml:"execution_root"`
	// ScreenWidth and ScreenHeight clamp expanded boxes to the screen the
	// ground truth was recorded on.
	ScreenWidth  int `mapstructure:"screen_width" yaml:"screen_width"`
	ScreenHeight int `mapstructure:"screen_height" yaml:"screen_height"`
}

// Alignment strategies.
const (
	StrategyGreedy = "greedy"
	StrategyLCS    = "lcs"
)

// EvaluatorConfig configures the evaluation run.
type EvaluatorConfig struct {
	Strategy       string        `mapstructure:"strategy" yaml:"strategy"`
	Workers        int           `mapstructure:"workers" yaml:"workers"`
	EpisodeTimeout time.Duration `mapstructure:"episode_timeout" yaml:"episode_timeout"`
	LCSParallelism int           `mapstructure:"lcs_parallelism" yaml:"lcs_parallelism"`
	LCSPrune       bool          `mapstructure:"lcs_prune" yaml:"lcs_prune"`
	StatsDir       string        `mapstructure:"stats_dir" yaml:"stats_dir"`
	Agent          string        `mapstructure:"agent" yaml:"agent"`
}

// Matcher modes.
const (
	ActivityModeSubstring  = "substring"
	ActivityModeSimilarity = "similarity"
	FuzzyNodeModeText      = "text"
	FuzzyNodeModeRegion    = "region"
)

// MatchersConfig toggles matcher groups and selects matcher variants.
type MatchersConfig struct {
	Fuzzy           bool     `mapstructure:"fuzzy" yaml:"fuzzy"`
	Exact           bool     `mapstructure:"exact" yaml:"exact"`
	SystemState     bool     `mapstructure:"system_state" yaml:"system_state"`
	Image           bool     `mapstructure:"image" yaml:"image"`
	ActivityMode    string   `mapstructure:"activity_mode" yaml:"activity_mode"`
	FuzzyNodeMode   string   `mapstructure:"fuzzy_node_mode" yaml:"fuzzy_node_mode"`
	AutocompleteIDs []string `mapstructure:"autocomplete_ids" yaml:"autocomplete_ids"`
}

// SimilarityConfig holds expansion ratios and similarity thresholds.
type SimilarityConfig struct {
	TextRatio         float64 `mapstructure:"text_ratio" yaml:"text_ratio"`
	ToggleRatio       float64 `mapstructure:"toggle_ratio" yaml:"toggle_ratio"`
	ClickRatio        float64 `mapstructure:"click_ratio" yaml:"click_ratio"`
	TextboxThreshold  float64 `mapstructure:"textbox_threshold" yaml:"textbox_threshold"`
	ScreenThreshold   float64 `mapstructure:"screen_threshold" yaml:"screen_threshold"`
	RegionThreshold   float64 `mapstructure:"region_threshold" yaml:"region_threshold"`
	ActivityThreshold float64 `mapstructure:"activity_threshold" yaml:"activity_threshold"`
	ImageHashBound    int     `mapstructure:"image_hash_bound" yaml:"image_hash_bound"`
}

// Scorer providers.
const (
	ProviderToken  = "token"
	ProviderGemini = "gemini"
)

// ScorerConfig selects and tunes the text similarity scorer.
type ScorerConfig struct {
	Provider          string        `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CachePath         string        `mapstructure:"cache_path" yaml:"cache_path"`
}

// Store backends.
const (
	StoreNone     = "none"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// StoreConfig selects where run results are persisted.
type StoreConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "tracecheck")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Dataset --
	v.SetDefault("dataset.groundtruth_root", "./groundtruth")
	v.SetDefault("dataset.metadata_file", "./groundtruth/metadata.csv")
	v.SetDefault("dataset.execution_root", "./executions")
	v.SetDefault("dataset.screen_width", 1080)
	v.SetDefault("dataset.screen_height", 2400)

	// -- Evaluator --
	v.SetDefault("evaluator.strategy", StrategyGreedy)
	v.SetDefault("evaluator.workers", 8)
	v.SetDefault("evaluator.episode_timeout", "5m")
	v.SetDefault("evaluator.lcs_parallelism", 4)
	v.SetDefault("evaluator.lcs_prune", true)
	v.SetDefault("evaluator.stats_dir", "dumped_stats")
	v.SetDefault("evaluator.agent", "agent")

	// -- Matchers --
	v.SetDefault("matchers.fuzzy", true)
	v.SetDefault("matchers.exact", true)
	v.SetDefault("matchers.system_state", true)
	v.SetDefault("matchers.image", true)
	v.SetDefault("matchers.activity_mode", ActivityModeSubstring)
	v.SetDefault("matchers.fuzzy_node_mode", FuzzyNodeModeText)
	v.SetDefault("matchers.autocomplete_ids", []string{"XSqSsc"})

	// -- Similarity --
	v.SetDefault("similarity.text_ratio", 10.0)
	v.SetDefault("similarity.toggle_ratio", 5.0)
	v.SetDefault("similarity.click_ratio", 2.0)
	v.SetDefault("similarity.textbox_threshold", 0.8)
	v.SetDefault("similarity.screen_threshold", 0.8)
	v.SetDefault("similarity.region_threshold", 0.65)
	v.SetDefault("similarity.activity_threshold", 0.95)
	v.SetDefault("similarity.image_hash_bound", 1)

	// -- Scorer --
	v.SetDefault("scorer.provider", ProviderToken)
	v.SetDefault("scorer.model", "gemini-embedding-001")
	v.SetDefault("scorer.api_key", "")
	v.SetDefault("scorer.requests_per_second", 5.0)
	v.SetDefault("scorer.burst", 1)
	v.SetDefault("scorer.timeout", "30s")
	v.SetDefault("scorer.cache_path", "")

	// -- Store --
	v.SetDefault("store.backend", StoreNone)
	v.SetDefault("store.dsn", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are commonly provided under their conventional names.
	_ = v.BindEnv("scorer.api_key", "TRACECHECK_SCORER_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("store.dsn", "TRACECHECK_STORE_DSN", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Dataset.ScreenWidth <= 0 || c.Dataset.ScreenHeight <= 0 {
		return fmt.Errorf("dataset.screen_width and dataset.screen_height must be positive")
	}
	if err := c.Evaluator.Validate(); err != nil {
		return fmt.Errorf("evaluator configuration invalid: %w", err)
	}
	if err := c.Matchers.Validate(); err != nil {
		return fmt.Errorf("matchers configuration invalid: %w", err)
	}
	if err := c.Similarity.Validate(); err != nil {
		return fmt.Errorf("similarity configuration invalid: %w", err)
	}
	if err := c.Scorer.Validate(); err != nil {
		return fmt.Errorf("scorer configuration invalid: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the EvaluatorConfig settings.
func (e *EvaluatorConfig) Validate() error {
	if e.Strategy != StrategyGreedy && e.Strategy != StrategyLCS {
		return fmt.Errorf("strategy must be %q or %q, got %q", StrategyGreedy, StrategyLCS, e.Strategy)
	}
	if e.Workers <= 0 {
		return fmt.Errorf("workers must be a positive integer")
	}
	if e.EpisodeTimeout < 0 {
		return fmt.Errorf("episode_timeout must not be negative")
	}
	if e.LCSParallelism <= 0 {
		return fmt.Errorf("lcs_parallelism must be a positive integer")
	}
	return nil
}

// Validate checks the MatchersConfig settings.
func (m *MatchersConfig) Validate() error {
	switch m.ActivityMode {
	case ActivityModeSubstring, ActivityModeSimilarity:
	default:
		return fmt.Errorf("activity_mode must be %q or %q, got %q", ActivityModeSubstring, ActivityModeSimilarity, m.ActivityMode)
	}
	switch m.FuzzyNodeMode {
	case FuzzyNodeModeText, FuzzyNodeModeRegion:
	default:
		return fmt.Errorf("fuzzy_node_mode must be %q or %q, got %q", FuzzyNodeModeText, FuzzyNodeModeRegion, m.FuzzyNodeMode)
	}
	return nil
}

// Validate checks the SimilarityConfig settings.
func (s *SimilarityConfig) Validate() error {
	for name, r := range map[string]float64{"text_ratio": s.TextRatio, "toggle_ratio": s.ToggleRatio, "click_ratio": s.ClickRatio} {
		if r < 1 {
			return fmt.Errorf("%s must be at least 1", name)
		}
	}
	thresholds := map[string]float64{
		"textbox_threshold":  s.TextboxThreshold,
		"screen_threshold":   s.ScreenThreshold,
		"region_threshold":   s.RegionThreshold,
		"activity_threshold": s.ActivityThreshold,
	}
	for name, t := range thresholds {
		if t < 0 || t > 1 {
			return fmt.Errorf("%s must be between 0.0 and 1.0", name)
		}
	}
	if s.ImageHashBound < 0 {
		return fmt.Errorf("image_hash_bound must not be negative")
	}
	return nil
}

// Validate checks the ScorerConfig settings.
func (s *ScorerConfig) Validate() error {
	switch s.Provider {
	case ProviderToken:
		return nil
	case ProviderGemini:
	default:
		return fmt.Errorf("provider must be %q or %q, got %q", ProviderToken, ProviderGemini, s.Provider)
	}
	if s.APIKey == "" {
		return fmt.Errorf("api_key is required for the gemini provider. Ensure GEMINI_API_KEY is set")
	}
	if s.Model == "" {
		return fmt.Errorf("model is required for the gemini provider")
	}
	if s.RequestsPerSecond <= 0 || s.Burst <= 0 {
		return fmt.Errorf("requests_per_second and burst must be positive")
	}
	return nil
}

// Validate checks the StoreConfig settings.
func (s *StoreConfig) Validate() error {
	switch s.Backend {
	case StoreNone:
		return nil
	case StorePostgres, StoreSQLite:
		if s.DSN == "" {
			return fmt.Errorf("dsn is required for the %s backend", s.Backend)
		}
		return nil
	}
	return fmt.Errorf("backend must be one of %q, %q or %q, got %q", StoreNone, StorePostgres, StoreSQLite, s.Backend)
}
