package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// PassConfig controls the multi-pass scheduler.
type PassConfig struct {
	// MaxPasses bounds how many times an operation may be held before escalation
	MaxPasses int `yaml:"max_passes"`

	// Thresholds is the confidence threshold per pass (index 0 = pass 1)
	Thresholds []float64 `yaml:"thresholds"`

	// OperationThresholds overrides the per-pass thresholds for named operations
	OperationThresholds map[string][]float64 `yaml:"operation_thresholds"`

	// BoostPerPass is the context boost added for every pass an operation waited
	BoostPerPass float64 `yaml:"boost_per_pass"`

	// DependencyBoost is added once per resolved dependency
	DependencyBoost float64 `yaml:"dependency_boost"`
}

// ConfidenceConfig controls scoring.
type ConfidenceConfig struct {
	// HighThreshold is the score above which no alternatives are generated
	HighThreshold float64 `yaml:"high_threshold"`

	// MaxAlternatives bounds the alternative interpretations per envelope
	MaxAlternatives int `yaml:"max_alternatives"`

	// AdjustmentEpsilon is the smallest learned adjustment worth a reasoning step
	AdjustmentEpsilon float64 `yaml:"adjustment_epsilon"`

	// HardFailCap caps overall confidence when a domain rule hard-fails
	HardFailCap float64 `yaml:"hard_fail_cap"`
}

// ReviewConfig controls the human review queue.
type ReviewConfig struct {
	// Path is the review queue snapshot file
	Path string `yaml:"path"`

	// MaxSize is the queue capacity (pending plus expired items)
	MaxSize int `yaml:"max_size"`

	// Expiry is how long an item stays pending
	Expiry time.Duration `yaml:"-"`
}

// LearningConfig controls the feedback learner.
type LearningConfig struct {
	// Enabled enables feedback learning
	Enabled bool `yaml:"enabled"`

	// Path is the feedback history snapshot file
	Path string `yaml:"path"`

	// MinSamplesToLearn is the per-method record count before a durable pattern is created
	MinSamplesToLearn int `yaml:"min_samples_to_learn"`

	// MaxAdjustment bounds the summed confidence adjustment
	MaxAdjustment float64 `yaml:"max_adjustment"`

	// ErrorRateThreshold is the error rate above which a negative pattern is learned
	ErrorRateThreshold float64 `yaml:"error_rate_threshold"`

	// SessionMergeThreshold is the reinforcement count to promote a session pattern
	SessionMergeThreshold int `yaml:"session_merge_threshold"`
}

// MemoryConfig controls the cross-session memory client.
type MemoryConfig struct {
	// Enabled gates every memory call
	Enabled bool `yaml:"enabled"`

	// DBPath is the sqlite database holding call outcomes and corrections
	DBPath string `yaml:"db_path"`

	// Timeout bounds each memory call
	Timeout time.Duration `yaml:"-"`

	// CacheTTL is how long accuracy lookups are cached
	CacheTTL time.Duration `yaml:"-"`

	// BreakerFailures is the consecutive failure count that opens the breaker
	BreakerFailures int `yaml:"breaker_failures"`

	// BreakerCooldown is how long the breaker stays open
	BreakerCooldown time.Duration `yaml:"-"`
}

// VerificationConfig controls post-execution checks.
type VerificationConfig struct {
	// PositionTolerance is the allowed placement deviation in model units
	PositionTolerance float64 `yaml:"position_tolerance"`
}

// MetricsConfig controls prometheus collectors.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig controls OpenTelemetry span export over OTLP/gRPC.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// Config represents gatekeeper configuration options
type Config struct {
	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	Passes       PassConfig         `yaml:"passes"`
	Confidence   ConfidenceConfig   `yaml:"confidence"`
	Review       ReviewConfig       `yaml:"review"`
	Learning     LearningConfig     `yaml:"learning"`
	Memory       MemoryConfig       `yaml:"memory"`
	Verification VerificationConfig `yaml:"verification"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Passes: PassConfig{
			MaxPasses:       3,
			Thresholds:      []float64{0.85, 0.75, 0.65},
			BoostPerPass:    0.05,
			DependencyBoost: 0.03,
		},
		Confidence: ConfidenceConfig{
			HighThreshold:     0.85,
			MaxAlternatives:   3,
			AdjustmentEpsilon: 0.001,
			HardFailCap:       0.4,
		},
		Review: ReviewConfig{
			Path:    filepath.Join(".gatekeeper", "review_queue.json"),
			MaxSize: 100,
			Expiry:  24 * time.Hour,
		},
		Learning: LearningConfig{
			Enabled:               true,
			Path:                  filepath.Join(".gatekeeper", "feedback.json"),
			MinSamplesToLearn:     5,
			MaxAdjustment:         0.2,
			ErrorRateThreshold:    0.3,
			SessionMergeThreshold: 3,
		},
		Memory: MemoryConfig{
			Enabled:         true,
			DBPath:          filepath.Join(".gatekeeper", "memory.db"),
			Timeout:         2 * time.Second,
			CacheTTL:        5 * time.Minute,
			BreakerFailures: 3,
			BreakerCooldown: 30 * time.Second,
		},
		Verification: VerificationConfig{
			PositionTolerance: 0.01,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			Insecure:    true,
			ServiceName: "gatekeeper",
		},
	}
}

// yamlConfig mirrors Config with pointer fields so presence can be detected
// and durations can be given as strings ("30s", "24h").
type yamlConfig struct {
	LogLevel *string `yaml:"log_level"`
	Passes   *struct {
		MaxPasses           *int                 `yaml:"max_passes"`
		Thresholds          []float64            `yaml:"thresholds"`
		OperationThresholds map[string][]float64 `yaml:"operation_thresholds"`
		BoostPerPass        *float64             `yaml:"boost_per_pass"`
		DependencyBoost     *float64             `yaml:"dependency_boost"`
	} `yaml:"passes"`
	Confidence *struct {
		HighThreshold     *float64 `yaml:"high_threshold"`
		MaxAlternatives   *int     `yaml:"max_alternatives"`
		AdjustmentEpsilon *float64 `yaml:"adjustment_epsilon"`
		HardFailCap       *float64 `yaml:"hard_fail_cap"`
	} `yaml:"confidence"`
	Review *struct {
		Path    *string `yaml:"path"`
		MaxSize *int    `yaml:"max_size"`
		Expiry  *string `yaml:"expiry"`
	} `yaml:"review"`
	Learning *struct {
		Enabled               *bool    `yaml:"enabled"`
		Path                  *string  `yaml:"path"`
		MinSamplesToLearn     *int     `yaml:"min_samples_to_learn"`
		MaxAdjustment         *float64 `yaml:"max_adjustment"`
		ErrorRateThreshold    *float64 `yaml:"error_rate_threshold"`
		SessionMergeThreshold *int     `yaml:"session_merge_threshold"`
	} `yaml:"learning"`
	Memory *struct {
		Enabled         *bool   `yaml:"enabled"`
		DBPath          *string `yaml:"db_path"`
		Timeout         *string `yaml:"timeout"`
		CacheTTL        *string `yaml:"cache_ttl"`
		BreakerFailures *int    `yaml:"breaker_failures"`
		BreakerCooldown *string `yaml:"breaker_cooldown"`
	} `yaml:"memory"`
	Verification *struct {
		PositionTolerance *float64 `yaml:"position_tolerance"`
	} `yaml:"verification"`
	Metrics *struct {
		Enabled *bool   `yaml:"enabled"`
		Addr    *string `yaml:"addr"`
	} `yaml:"metrics"`
	Tracing *struct {
		Enabled     *bool   `yaml:"enabled"`
		Endpoint    *string `yaml:"endpoint"`
		Insecure    *bool   `yaml:"insecure"`
		ServiceName *string `yaml:"service_name"`
	} `yaml:"tracing"`
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.merge(&raw); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromDir loads configuration from config.yaml in the specified home directory
func LoadConfigFromDir(dir string) (*Config, error) {
	cfg, err := LoadConfig(filepath.Join(dir, "config.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.ResolvePaths(dir)
	return cfg, nil
}

// ResolvePaths rebases the default relative state files under home.
func (c *Config) ResolvePaths(home string) {
	defaults := DefaultConfig()
	rebase := func(p *string, def string) {
		if *p == def {
			*p = filepath.Join(home, filepath.Base(def))
		}
	}
	rebase(&c.Review.Path, defaults.Review.Path)
	rebase(&c.Learning.Path, defaults.Learning.Path)
	rebase(&c.Memory.DBPath, defaults.Memory.DBPath)
}

func (c *Config) merge(raw *yamlConfig) error {
	if raw.LogLevel != nil {
		c.LogLevel = *raw.LogLevel
	}

	if p := raw.Passes; p != nil {
		if p.MaxPasses != nil {
			c.Passes.MaxPasses = *p.MaxPasses
		}
		if p.Thresholds != nil {
			c.Passes.Thresholds = p.Thresholds
		}
		if p.OperationThresholds != nil {
			c.Passes.OperationThresholds = p.OperationThresholds
		}
		if p.BoostPerPass != nil {
			c.Passes.BoostPerPass = *p.BoostPerPass
		}
		if p.DependencyBoost != nil {
			c.Passes.DependencyBoost = *p.DependencyBoost
		}
	}

	if cc := raw.Confidence; cc != nil {
		if cc.HighThreshold != nil {
			c.Confidence.HighThreshold = *cc.HighThreshold
		}
		if cc.MaxAlternatives != nil {
			c.Confidence.MaxAlternatives = *cc.MaxAlternatives
		}
		if cc.AdjustmentEpsilon != nil {
			c.Confidence.AdjustmentEpsilon = *cc.AdjustmentEpsilon
		}
		if cc.HardFailCap != nil {
			c.Confidence.HardFailCap = *cc.HardFailCap
		}
	}

	if r := raw.Review; r != nil {
		if r.Path != nil {
			c.Review.Path = *r.Path
		}
		if r.MaxSize != nil {
			c.Review.MaxSize = *r.MaxSize
		}
		if err := parseDuration("review.expiry", r.Expiry, &c.Review.Expiry); err != nil {
			return err
		}
	}

	if l := raw.Learning; l != nil {
		if l.Enabled != nil {
			c.Learning.Enabled = *l.Enabled
		}
		if l.Path != nil {
			c.Learning.Path = *l.Path
		}
		if l.MinSamplesToLearn != nil {
			c.Learning.MinSamplesToLearn = *l.MinSamplesToLearn
		}
		if l.MaxAdjustment != nil {
			c.Learning.MaxAdjustment = *l.MaxAdjustment
		}
		if l.ErrorRateThreshold != nil {
			c.Learning.ErrorRateThreshold = *l.ErrorRateThreshold
		}
		if l.SessionMergeThreshold != nil {
			c.Learning.SessionMergeThreshold = *l.SessionMergeThreshold
		}
	}

	if m := raw.Memory; m != nil {
		if m.Enabled != nil {
			c.Memory.Enabled = *m.Enabled
		}
		if m.DBPath != nil {
			c.Memory.DBPath = *m.DBPath
		}
		if m.BreakerFailures != nil {
			c.Memory.BreakerFailures = *m.BreakerFailures
		}
		if err := parseDuration("memory.timeout", m.Timeout, &c.Memory.Timeout); err != nil {
			return err
		}
		if err := parseDuration("memory.cache_ttl", m.CacheTTL, &c.Memory.CacheTTL); err != nil {
			return err
		}
		if err := parseDuration("memory.breaker_cooldown", m.BreakerCooldown, &c.Memory.BreakerCooldown); err != nil {
			return err
		}
	}

	if v := raw.Verification; v != nil && v.PositionTolerance != nil {
		c.Verification.PositionTolerance = *v.PositionTolerance
	}

	if m := raw.Metrics; m != nil {
		if m.Enabled != nil {
			c.Metrics.Enabled = *m.Enabled
		}
		if m.Addr != nil {
			c.Metrics.Addr = *m.Addr
		}
	}

	if t := raw.Tracing; t != nil {
		if t.Enabled != nil {
			c.Tracing.Enabled = *t.Enabled
		}
		if t.Endpoint != nil {
			c.Tracing.Endpoint = *t.Endpoint
		}
		if t.Insecure != nil {
			c.Tracing.Insecure = *t.Insecure
		}
		if t.ServiceName != nil {
			c.Tracing.ServiceName = *t.ServiceName
		}
	}

	return nil
}

func parseDuration(field string, raw *string, dst *time.Duration) error {
	if raw == nil || *raw == "" {
		return nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return fmt.Errorf("invalid %s format %q: %w", field, *raw, err)
	}
	*dst = d
	return nil
}

// ThresholdFor returns the confidence threshold for an operation on a pass.
func (c *Config) ThresholdFor(operation string, pass int) float64 {
	return c.Passes.ThresholdFor(operation, pass)
}

// ThresholdFor returns the confidence threshold for an operation on a pass.
// Passes past the configured list reuse the last threshold.
func (p PassConfig) ThresholdFor(operation string, pass int) float64 {
	thresholds := p.Thresholds
	if override, ok := p.OperationThresholds[operation]; ok && len(override) > 0 {
		thresholds = override
	}
	if len(thresholds) == 0 {
		return 0.75
	}
	idx := pass - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(thresholds) {
		idx = len(thresholds) - 1
	}
	return thresholds[idx]
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if c.Passes.MaxPasses < 1 {
		return fmt.Errorf("passes.max_passes must be >= 1, got %d", c.Passes.MaxPasses)
	}
	if len(c.Passes.Thresholds) != c.Passes.MaxPasses {
		return fmt.Errorf("passes.thresholds must have %d entries, got %d", c.Passes.MaxPasses, len(c.Passes.Thresholds))
	}
	if err := validateThresholds("passes.thresholds", c.Passes.Thresholds); err != nil {
		return err
	}
	for op, th := range c.Passes.OperationThresholds {
		if err := validateThresholds("passes.operation_thresholds."+op, th); err != nil {
			return err
		}
	}
	if c.Passes.BoostPerPass < 0 || c.Passes.DependencyBoost < 0 {
		return fmt.Errorf("passes boosts must be >= 0")
	}

	if c.Confidence.HighThreshold < 0 || c.Confidence.HighThreshold > 1 {
		return fmt.Errorf("confidence.high_threshold must be in [0,1], got %v", c.Confidence.HighThreshold)
	}
	if c.Confidence.MaxAlternatives < 0 {
		return fmt.Errorf("confidence.max_alternatives must be >= 0, got %d", c.Confidence.MaxAlternatives)
	}
	if c.Confidence.HardFailCap < 0 || c.Confidence.HardFailCap > 1 {
		return fmt.Errorf("confidence.hard_fail_cap must be in [0,1], got %v", c.Confidence.HardFailCap)
	}

	if c.Review.MaxSize <= 0 {
		return fmt.Errorf("review.max_size must be > 0, got %d", c.Review.MaxSize)
	}
	if c.Review.Expiry < 0 {
		return fmt.Errorf("review.expiry must be >= 0, got %v", c.Review.Expiry)
	}

	if c.Learning.Enabled {
		if c.Learning.Path == "" {
			return fmt.Errorf("learning.path cannot be empty when learning is enabled")
		}
		if c.Learning.MinSamplesToLearn <= 0 {
			return fmt.Errorf("learning.min_samples_to_learn must be > 0, got %d", c.Learning.MinSamplesToLearn)
		}
		if c.Learning.MaxAdjustment < 0 || c.Learning.MaxAdjustment > 1 {
			return fmt.Errorf("learning.max_adjustment must be in [0,1], got %v", c.Learning.MaxAdjustment)
		}
	}

	if c.Memory.Enabled && c.Memory.DBPath == "" {
		return fmt.Errorf("memory.db_path cannot be empty when memory is enabled")
	}

	if c.Verification.PositionTolerance < 0 {
		return fmt.Errorf("verification.position_tolerance must be >= 0, got %v", c.Verification.PositionTolerance)
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint cannot be empty when tracing is enabled")
	}

	return nil
}

func validateThresholds(field string, thresholds []float64) error {
	for i, t := range thresholds {
		if t < 0 || t > 1 {
			return fmt.Errorf("%s[%d] must be in [0,1], got %v", field, i, t)
		}
	}
	return nil
}
