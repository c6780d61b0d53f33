package config

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/digest-engine/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Lock       LockConfig       `yaml:"lock" mapstructure:"lock"`
	Archive    ArchiveConfig    `yaml:"archive" mapstructure:"archive"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Cohere     CohereConfig     `yaml:"cohere" mapstructure:"cohere"`
	Evaluation EvaluationConfig `yaml:"evaluation" mapstructure:"evaluation"`
	Window     WindowConfig     `yaml:"window" mapstructure:"window"`
	Taxonomy   TaxonomyConfig   `yaml:"taxonomy" mapstructure:"taxonomy"`
	Prefilter  PrefilterConfig  `yaml:"prefilter" mapstructure:"prefilter"`
	Screen     ScreenConfig     `yaml:"screen" mapstructure:"screen"`
	Dedup      DedupConfig      `yaml:"dedup" mapstructure:"dedup"`
	Rank       RankConfig       `yaml:"rank" mapstructure:"rank"`
	Final      FinalConfig      `yaml:"final" mapstructure:"final"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures checkpoint persistence and the job ledger.
type StoreConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"` // "file" or "postgres"
	Dir           string `yaml:"dir" mapstructure:"dir"`
	DatabaseURL   string `yaml:"database_url" mapstructure:"database_url"`
	LedgerPath    string `yaml:"ledger_path" mapstructure:"ledger_path"`
	RetentionDays int    `yaml:"retention_days" mapstructure:"retention_days"`
}

// LockConfig configures the single-writer window lock.
type LockConfig struct {
	Driver  string `yaml:"driver" mapstructure:"driver"` // "file", "redis" or "none"
	TTLSecs int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// ArchiveConfig configures where closed windows are archived.
type ArchiveConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"` // "local", "s3" or "none"
	Dir           string `yaml:"dir" mapstructure:"dir"`
	Bucket        string `yaml:"bucket" mapstructure:"bucket"`
	Prefix        string `yaml:"prefix" mapstructure:"prefix"`
	Region        string `yaml:"region" mapstructure:"region"`
	Profile       string `yaml:"profile" mapstructure:"profile"`
	Endpoint      string `yaml:"endpoint" mapstructure:"endpoint"`
	OnConsolidate bool   `yaml:"on_consolidate" mapstructure:"on_consolidate"`
}

// RedisConfig holds connection settings for the distributed lock.
type RedisConfig struct {
	Addr      string `yaml:"addr" mapstructure:"addr"`
	Password  string `yaml:"password" mapstructure:"password"`
	DB        int    `yaml:"db" mapstructure:"db"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key                 string `yaml:"key" mapstructure:"key"`
	ScreenModel         string `yaml:"screen_model" mapstructure:"screen_model"`
	EvalModel           string `yaml:"eval_model" mapstructure:"eval_model"`
	EntityModel         string `yaml:"entity_model" mapstructure:"entity_model"`
	MaxTokens           int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	NoBatch             bool   `yaml:"no_batch" mapstructure:"no_batch"`
	SmallBatchThreshold int    `yaml:"small_batch_threshold" mapstructure:"small_batch_threshold"`
	PromptCache         bool   `yaml:"prompt_cache" mapstructure:"prompt_cache"`
}

// CohereConfig holds embedding settings for the cross-window signal.
type CohereConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// EvaluationConfig bounds every call to the evaluation capability.
type EvaluationConfig struct {
	RPM         int           `yaml:"rpm" mapstructure:"rpm"`
	Burst       int           `yaml:"burst" mapstructure:"burst"`
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxCostUSD  float64       `yaml:"max_cost_usd" mapstructure:"max_cost_usd"`
	Retry       RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit     CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig mirrors resilience.RetryConfig in flat form.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig mirrors resilience.CircuitBreakerConfig in flat form.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// WindowConfig defines the collection window.
type WindowConfig struct {
	LengthDays   int    `yaml:"length_days" mapstructure:"length_days"`
	StartWeekday string `yaml:"start_weekday" mapstructure:"start_weekday"`
	Timezone     string `yaml:"timezone" mapstructure:"timezone"`
}

// TaxonomyConfig points at the topics and entity alias file.
type TaxonomyConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PrefilterConfig tunes the Tier 1 heuristic.
type PrefilterConfig struct {
	Threshold           float64 `yaml:"threshold" mapstructure:"threshold"`
	ExactBonus          float64 `yaml:"exact_bonus" mapstructure:"exact_bonus"`
	PartialBonus        float64 `yaml:"partial_bonus" mapstructure:"partial_bonus"`
	TrendingBonus       float64 `yaml:"trending_bonus" mapstructure:"trending_bonus"`
	Fresh24Bonus        float64 `yaml:"fresh_24h_bonus" mapstructure:"fresh_24h_bonus"`
	Fresh48Bonus        float64 `yaml:"fresh_48h_bonus" mapstructure:"fresh_48h_bonus"`
	TrustHigh           float64 `yaml:"trust_high" mapstructure:"trust_high"`
	TrustMid            float64 `yaml:"trust_mid" mapstructure:"trust_mid"`
	TrustHighBonus      float64 `yaml:"trust_high_bonus" mapstructure:"trust_high_bonus"`
	TrustMidBonus       float64 `yaml:"trust_mid_bonus" mapstructure:"trust_mid_bonus"`
	PopularityHigh      float64 `yaml:"popularity_high" mapstructure:"popularity_high"`
	PopularityMid       float64 `yaml:"popularity_mid" mapstructure:"popularity_mid"`
	PopularityHighBonus float64 `yaml:"popularity_high_bonus" mapstructure:"popularity_high_bonus"`
	PopularityMidBonus  float64 `yaml:"popularity_mid_bonus" mapstructure:"popularity_mid_bonus"`
	Workers             int     `yaml:"workers" mapstructure:"workers"`
}

// ScreenConfig tunes Tier 2 batched screening.
type ScreenConfig struct {
	BatchSize    int     `yaml:"batch_size" mapstructure:"batch_size"`
	Threshold    float64 `yaml:"threshold" mapstructure:"threshold"`
	ExcerptChars int     `yaml:"excerpt_chars" mapstructure:"excerpt_chars"`
}

// DedupConfig tunes the near-duplicate detector.
type DedupConfig struct {
	TitleThreshold      float64        `yaml:"title_threshold" mapstructure:"title_threshold"`
	ContentThreshold    float64        `yaml:"content_threshold" mapstructure:"content_threshold"`
	EntityThreshold     float64        `yaml:"entity_threshold" mapstructure:"entity_threshold"`
	ContentPrefix       int            `yaml:"content_prefix" mapstructure:"content_prefix"`
	ImportanceThreshold float64        `yaml:"importance_threshold" mapstructure:"importance_threshold"`
	Semantic            SemanticConfig `yaml:"semantic" mapstructure:"semantic"`
}

// SemanticConfig tunes the optional cross-window embedding signal.
type SemanticConfig struct {
	Enabled         bool    `yaml:"enabled" mapstructure:"enabled"`
	Threshold       float64 `yaml:"threshold" mapstructure:"threshold"`
	LookbackWindows int     `yaml:"lookback_windows" mapstructure:"lookback_windows"`
	TextChars       int     `yaml:"text_chars" mapstructure:"text_chars"`
}

// RankConfig tunes the candidate ranker.
type RankConfig struct {
	Tier2Weight          float64 `yaml:"tier2_weight" mapstructure:"tier2_weight"`
	RecencyWeight        float64 `yaml:"recency_weight" mapstructure:"recency_weight"`
	TrendingWeight       float64 `yaml:"trending_weight" mapstructure:"trending_weight"`
	RecencyHalfLifeHours float64 `yaml:"recency_half_life_hours" mapstructure:"recency_half_life_hours"`
	TrendingSaturation   float64 `yaml:"trending_saturation" mapstructure:"trending_saturation"`
	Candidates           int     `yaml:"candidates" mapstructure:"candidates"`
}

// FinalConfig tunes Tier 3 and selection.
type FinalConfig struct {
	Dimensions       map[string]float64 `yaml:"dimensions" mapstructure:"dimensions"`
	TopN             int                `yaml:"top_n" mapstructure:"top_n"`
	NoveltySlots     int                `yaml:"novelty_slots" mapstructure:"novelty_slots"`
	NormalizeWeights bool               `yaml:"normalize_weights" mapstructure:"normalize_weights"`
	Context          string             `yaml:"context" mapstructure:"context"`
}

// ScheduleConfig drives `digest schedule`.
type ScheduleConfig struct {
	CollectCron     string `yaml:"collect_cron" mapstructure:"collect_cron"`
	ConsolidateCron string `yaml:"consolidate_cron" mapstructure:"consolidate_cron"`
	Inbox           string `yaml:"inbox" mapstructure:"inbox"`
}

// MonitoringConfig configures post-job alerting.
type MonitoringConfig struct {
	WebhookURL         string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	ErrorLossThreshold float64 `yaml:"error_loss_threshold" mapstructure:"error_loss_threshold"`
	CostThresholdUSD   float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
}

// PricingConfig holds per-model token pricing.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	BatchDiscount float64 `yaml:"batch_discount" mapstructure:"batch_discount"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultDimensions are the Tier 3 dimensions and their weights.
func DefaultDimensions() map[string]float64 {
	return map[string]float64{
		"relevance":     0.30,
		"significance":  0.25,
		"novelty":       0.20,
		"credibility":   0.15,
		"actionability": 0.10,
	}
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DIGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	// Dimension maps are not defaulted through viper: nested defaults would be
	// merged key by key into a user-supplied map.
	if len(cfg.Final.Dimensions) == 0 {
		cfg.Final.Dimensions = DefaultDimensions()
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.dir", "./data/checkpoints")
	v.SetDefault("store.ledger_path", "./data/ledger.db")
	v.SetDefault("store.retention_days", 365)
	v.SetDefault("lock.driver", "file")
	v.SetDefault("lock.ttl_secs", 3600)
	v.SetDefault("archive.driver", "local")
	v.SetDefault("archive.dir", "./data/archive")
	v.SetDefault("archive.prefix", "checkpoints/")
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.on_consolidate", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "digest:lock:")
	v.SetDefault("anthropic.screen_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.eval_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.entity_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.small_batch_threshold", 20)
	v.SetDefault("anthropic.prompt_cache", true)
	v.SetDefault("cohere.model", "embed-english-v3.0")
	v.SetDefault("evaluation.rpm", 50)
	v.SetDefault("evaluation.burst", 1)
	v.SetDefault("evaluation.concurrency", 4)
	v.SetDefault("evaluation.timeout_secs", 60)
	v.SetDefault("evaluation.max_cost_usd", 0.0)
	v.SetDefault("evaluation.retry.max_attempts", 3)
	v.SetDefault("evaluation.retry.initial_backoff_ms", 500)
	v.SetDefault("evaluation.retry.max_backoff_ms", 30000)
	v.SetDefault("evaluation.retry.multiplier", 2.0)
	v.SetDefault("evaluation.retry.jitter_fraction", 0.25)
	v.SetDefault("evaluation.circuit.failure_threshold", 5)
	v.SetDefault("evaluation.circuit.reset_timeout_secs", 30)
	v.SetDefault("window.length_days", 7)
	v.SetDefault("window.start_weekday", "monday")
	v.SetDefault("window.timezone", "UTC")
	v.SetDefault("taxonomy.path", "taxonomy.yaml")
	v.SetDefault("prefilter.threshold", 4.0)
	v.SetDefault("prefilter.exact_bonus", 3.0)
	v.SetDefault("prefilter.partial_bonus", 1.0)
	v.SetDefault("prefilter.trending_bonus", 2.0)
	v.SetDefault("prefilter.fresh_24h_bonus", 2.0)
	v.SetDefault("prefilter.fresh_48h_bonus", 1.0)
	v.SetDefault("prefilter.trust_high", 0.8)
	v.SetDefault("prefilter.trust_mid", 0.5)
	v.SetDefault("prefilter.trust_high_bonus", 1.0)
	v.SetDefault("prefilter.trust_mid_bonus", 0.5)
	v.SetDefault("prefilter.popularity_high", 1000.0)
	v.SetDefault("prefilter.popularity_mid", 100.0)
	v.SetDefault("prefilter.popularity_high_bonus", 1.0)
	v.SetDefault("prefilter.popularity_mid_bonus", 0.5)
	v.SetDefault("prefilter.workers", 8)
	v.SetDefault("screen.batch_size", 10)
	v.SetDefault("screen.threshold", 6.0)
	v.SetDefault("screen.excerpt_chars", 500)
	v.SetDefault("dedup.title_threshold", 0.88)
	v.SetDefault("dedup.content_threshold", 0.80)
	v.SetDefault("dedup.entity_threshold", 0.75)
	v.SetDefault("dedup.content_prefix", 500)
	v.SetDefault("dedup.importance_threshold", 6.0)
	v.SetDefault("dedup.semantic.enabled", false)
	v.SetDefault("dedup.semantic.threshold", 0.85)
	v.SetDefault("dedup.semantic.lookback_windows", 4)
	v.SetDefault("dedup.semantic.text_chars", 1000)
	v.SetDefault("rank.tier2_weight", 0.4)
	v.SetDefault("rank.recency_weight", 0.4)
	v.SetDefault("rank.trending_weight", 0.2)
	v.SetDefault("rank.recency_half_life_hours", 48.0)
	v.SetDefault("rank.trending_saturation", 10000.0)
	v.SetDefault("rank.candidates", 30)
	v.SetDefault("final.top_n", 12)
	v.SetDefault("final.novelty_slots", 3)
	v.SetDefault("schedule.collect_cron", "0 23 * * *")
	v.SetDefault("schedule.consolidate_cron", "30 23 * * 0")
	v.SetDefault("schedule.inbox", "./data/inbox")
	v.SetDefault("monitoring.error_loss_threshold", 0.2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

const weightTolerance = 1e-6

// Validate checks the settings a job mode depends on. Every problem found is
// reported in one ConfigurationError.
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Store.Driver {
	case "file":
		if c.Store.Dir == "" {
			add("store.dir is required for the file driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for the postgres driver")
		}
	default:
		add("store.driver %q is not one of file, postgres", c.Store.Driver)
	}

	switch c.Lock.Driver {
	case "file", "none", "":
	case "redis":
		if c.Redis.Addr == "" {
			add("redis.addr is required for the redis lock")
		}
	default:
		add("lock.driver %q is not one of file, redis, none", c.Lock.Driver)
	}

	switch c.Archive.Driver {
	case "local":
		if c.Archive.Dir == "" {
			add("archive.dir is required for the local archive")
		}
	case "s3":
		if c.Archive.Bucket == "" {
			add("archive.bucket is required for the s3 archive")
		}
	case "none", "":
	default:
		add("archive.driver %q is not one of local, s3, none", c.Archive.Driver)
	}

	if c.Window.LengthDays < 1 {
		add("window.length_days must be at least 1")
	}
	if _, err := ParseWeekday(c.Window.StartWeekday); err != nil {
		add("window.start_weekday: %v", err)
	}
	if _, err := c.Window.Location(); err != nil {
		add("window.timezone: %v", err)
	}

	needsCapability := mode == "collect" || mode == "consolidate"
	if needsCapability && c.Anthropic.Key == "" {
		add("anthropic.key is required")
	}
	if needsCapability {
		if c.Evaluation.RPM < 1 {
			add("evaluation.rpm must be at least 1")
		}
		if c.Evaluation.Concurrency < 1 {
			add("evaluation.concurrency must be at least 1")
		}
	}

	if mode == "collect" {
		if !inRange(c.Prefilter.Threshold, 0, 10) {
			add("prefilter.threshold must be within [0,10]")
		}
		if !inRange(c.Screen.Threshold, 0, 10) {
			add("screen.threshold must be within [0,10]")
		}
		if c.Screen.BatchSize < 1 {
			add("screen.batch_size must be at least 1")
		}
	}

	if mode == "consolidate" {
		for _, th := range []struct {
			name string
			val  float64
		}{
			{"dedup.title_threshold", c.Dedup.TitleThreshold},
			{"dedup.content_threshold", c.Dedup.ContentThreshold},
			{"dedup.entity_threshold", c.Dedup.EntityThreshold},
		} {
			if !inRange(th.val, 0, 1) {
				add("%s must be within [0,1]", th.name)
			}
		}
		if c.Dedup.Semantic.Enabled {
			if c.Cohere.Key == "" {
				add("cohere.key is required when dedup.semantic.enabled is set")
			}
			// Cross-window comparison must be stricter than the in-window signals.
			if c.Dedup.Semantic.Threshold < 0.85 || c.Dedup.Semantic.Threshold > 1 {
				add("dedup.semantic.threshold must be within [0.85,1]")
			}
		}
		rankSum := c.Rank.Tier2Weight + c.Rank.RecencyWeight + c.Rank.TrendingWeight
		if math.Abs(rankSum-1) > weightTolerance {
			add("rank weights sum to %.4f, want 1.0", rankSum)
		}
		if c.Rank.Candidates < 1 {
			add("rank.candidates must be at least 1")
		}
		if c.Final.TopN < 1 {
			add("final.top_n must be at least 1")
		}
		if c.Final.NoveltySlots < 0 {
			add("final.novelty_slots must not be negative")
		}
		if err := c.checkDimensions(); err != nil {
			add("%s", err.Reason)
		}
	}

	if len(problems) > 0 {
		return &resilience.ConfigurationError{Field: mode, Reason: strings.Join(problems, "; ")}
	}
	return nil
}

// checkDimensions enforces that Tier 3 weights sum to one. With
// final.normalize_weights set, weights are rescaled instead, with a warning.
func (c *Config) checkDimensions() *resilience.ConfigurationError {
	if len(c.Final.Dimensions) == 0 {
		return &resilience.ConfigurationError{Field: "final.dimensions", Reason: "final.dimensions must name at least one dimension"}
	}
	var sum float64
	for name, w := range c.Final.Dimensions {
		if w < 0 {
			return &resilience.ConfigurationError{Field: "final.dimensions", Reason: fmt.Sprintf("final.dimensions.%s has negative weight", name)}
		}
		sum += w
	}
	if math.Abs(sum-1) <= weightTolerance {
		return nil
	}
	if !c.Final.NormalizeWeights || sum == 0 {
		return &resilience.ConfigurationError{
			Field:  "final.dimensions",
			Reason: fmt.Sprintf("final.dimensions weights sum to %.4f, want 1.0", sum),
		}
	}
	zap.L().Warn("config: normalizing final dimension weights",
		zap.Float64("sum", sum),
		zap.Strings("dimensions", DimensionNames(c.Final.Dimensions)),
	)
	c.Final.Dimensions = NormalizeWeights(c.Final.Dimensions)
	return nil
}

// NormalizeWeights rescales weights to sum to one.
func NormalizeWeights(weights map[string]float64) map[string]float64 {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	out := make(map[string]float64, len(weights))
	for k, w := range weights {
		if sum > 0 {
			out[k] = w / sum
		}
	}
	return out
}

// DimensionNames returns the dimension names in sorted order.
func DimensionNames(weights map[string]float64) []string {
	names := make([]string, 0, len(weights))
	for k := range weights {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func inRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
