package common

import (
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix scopes environment overrides, e.g. INVOICES_DATABASE_DSN.
const EnvPrefix = "INVOICES"

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	OCR      OCRConfig
	LLM      LLMConfig
	Pipeline PipelineConfig
	Ingest   IngestConfig
	Logging  LoggingConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "sqlite" | "postgres"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds the health endpoint served by the watch daemon
type ServerConfig struct {
	GRPCAddr string
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	TesseractLang    string
	DPI              int
	MaxPages         int
	HeicConverter    string
	TessdataDir      string
	ArtifactCacheDir string
}

// LLMConfig holds the chat backends used by the classifier and the extractor tiers
type LLMConfig struct {
	Provider          string // "openai" | "ollama" | "anthropic"
	BaseURL           string
	APIKey            string
	ClassifierModel   string
	CheapModel        string
	ExpensiveModel    string
	Temperature       float32
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	CacheTTL          time.Duration
}

// PipelineConfig holds the escalation policy knobs
type PipelineConfig struct {
	OCRConfidenceThreshold float64
	TotalTolerance         float64
	SchemaVersion          string
	FallbackEnabled        bool
	TargetFallbackRate     float64 // advisory only
	ClassifierMaxChars     int
	Origin                 string
}

// IngestConfig holds directory batch / watch behavior
type IngestConfig struct {
	Workers      int
	QueueSize    int
	Timeout      time.Duration
	Debounce     time.Duration
	SkipHidden   bool
	ErrorDir     string
	ProcessedDir string
}

type LoggingConfig struct {
	Level string
	File  string
}

// SetDefaults registers every key with its default so env overrides resolve through AutomaticEnv.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "invoices.db")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("database.dial_timeout", 3*time.Second)
	v.SetDefault("database.statement_timeout", time.Duration(0))

	v.SetDefault("server.grpc_addr", "")

	v.SetDefault("ocr.tesseract_lang", "spa+eng")
	v.SetDefault("ocr.dpi", 300)
	v.SetDefault("ocr.max_pages", 10)
	v.SetDefault("ocr.heic_converter", "magick")
	v.SetDefault("ocr.tessdata_dir", "")
	v.SetDefault("ocr.artifact_cache_dir", "./tmp")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.classifier_model", "gpt-4o-mini")
	v.SetDefault("llm.cheap_model", "gpt-4o-mini")
	v.SetDefault("llm.expensive_model", "gpt-4o")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.requests_per_second", 2.0)
	v.SetDefault("llm.burst", 4)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.cache_ttl", 30*time.Minute)

	v.SetDefault("pipeline.ocr_confidence_threshold", 0.85)
	v.SetDefault("pipeline.total_tolerance", 0.5)
	v.SetDefault("pipeline.schema_version", "invoice-v1")
	v.SetDefault("pipeline.fallback_enabled", true)
	v.SetDefault("pipeline.target_fallback_rate", 0.15)
	v.SetDefault("pipeline.classifier_max_chars", 4000)
	v.SetDefault("pipeline.origin", "PIPELINE")

	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.queue_size", 256)
	v.SetDefault("ingest.timeout", 3*time.Minute)
	v.SetDefault("ingest.debounce", 750*time.Millisecond)
	v.SetDefault("ingest.skip_hidden", true)
	v.SetDefault("ingest.error_dir", "")
	v.SetDefault("ingest.processed_dir", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
}

// LoadConfig reads configuration from the given viper instance (defaults, config file, env, flags).
func LoadConfig(v *viper.Viper) *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:           v.GetString("database.driver"),
			DSN:              v.GetString("database.dsn"),
			MaxConns:         v.GetInt32("database.max_conns"),
			MinConns:         v.GetInt32("database.min_conns"),
			MaxConnLifetime:  v.GetDuration("database.max_conn_lifetime"),
			MaxConnIdleTime:  v.GetDuration("database.max_conn_idle_time"),
			DialTimeout:      v.GetDuration("database.dial_timeout"),
			StatementTimeout: v.GetDuration("database.statement_timeout"),
		},
		Server: ServerConfig{
			GRPCAddr: v.GetString("server.grpc_addr"),
		},
		OCR: OCRConfig{
			TesseractLang:    v.GetString("ocr.tesseract_lang"),
			DPI:              v.GetInt("ocr.dpi"),
			MaxPages:         v.GetInt("ocr.max_pages"),
			HeicConverter:    v.GetString("ocr.heic_converter"),
			TessdataDir:      v.GetString("ocr.tessdata_dir"),
			ArtifactCacheDir: v.GetString("ocr.artifact_cache_dir"),
		},
		LLM: LLMConfig{
			Provider:          v.GetString("llm.provider"),
			BaseURL:           v.GetString("llm.base_url"),
			APIKey:            v.GetString("llm.api_key"),
			ClassifierModel:   v.GetString("llm.classifier_model"),
			CheapModel:        v.GetString("llm.cheap_model"),
			ExpensiveModel:    v.GetString("llm.expensive_model"),
			Temperature:       float32(v.GetFloat64("llm.temperature")),
			Timeout:           v.GetDuration("llm.timeout"),
			RequestsPerSecond: v.GetFloat64("llm.requests_per_second"),
			Burst:             v.GetInt("llm.burst"),
			MaxRetries:        v.GetInt("llm.max_retries"),
			CacheTTL:          v.GetDuration("llm.cache_ttl"),
		},
		Pipeline: PipelineConfig{
			OCRConfidenceThreshold: v.GetFloat64("pipeline.ocr_confidence_threshold"),
			TotalTolerance:         v.GetFloat64("pipeline.total_tolerance"),
			SchemaVersion:          v.GetString("pipeline.schema_version"),
			FallbackEnabled:        v.GetBool("pipeline.fallback_enabled"),
			TargetFallbackRate:     v.GetFloat64("pipeline.target_fallback_rate"),
			ClassifierMaxChars:     v.GetInt("pipeline.classifier_max_chars"),
			Origin:                 v.GetString("pipeline.origin"),
		},
		Ingest: IngestConfig{
			Workers:      v.GetInt("ingest.workers"),
			QueueSize:    v.GetInt("ingest.queue_size"),
			Timeout:      v.GetDuration("ingest.timeout"),
			Debounce:     v.GetDuration("ingest.debounce"),
			SkipHidden:   v.GetBool("ingest.skip_hidden"),
			ErrorDir:     v.GetString("ingest.error_dir"),
			ProcessedDir: v.GetString("ingest.processed_dir"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("logging.level"),
			File:  v.GetString("logging.file"),
		},
	}
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator().
		Field("database.driver", c.Database.Driver, OneOf("sqlite", "postgres")).
		Field("database.dsn", c.Database.DSN, Required).
		Field("llm.provider", c.LLM.Provider, OneOf("openai", "ollama", "anthropic")).
		Field("llm.cheap_model", c.LLM.CheapModel, Required).
		Field("llm.expensive_model", c.LLM.ExpensiveModel, Required).
		Field("pipeline.schema_version", c.Pipeline.SchemaVersion, Required).
		Field("pipeline.ocr_confidence_threshold", c.Pipeline.OCRConfidenceThreshold, Between(0, 1)).
		Field("pipeline.target_fallback_rate", c.Pipeline.TargetFallbackRate, Between(0, 1)).
		Field("pipeline.total_tolerance", c.Pipeline.TotalTolerance, Between(0, 1e6))
	if v.HasErrors() {
		return NewAppError("CONFIG_ERROR", v.ErrorMessage(), ErrInvalidInput)
	}
	return nil
}

// RequireAPIKey is checked only by commands that call a hosted model.
func (c *Config) RequireAPIKey() error {
	if c.LLM.Provider == "ollama" || c.LLM.APIKey != "" {
		return nil
	}
	return NewAppError("CONFIG_ERROR", "llm.api_key is required for provider "+c.LLM.Provider, ErrInvalidInput)
}
