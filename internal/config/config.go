package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Provider   ProviderConfig   `yaml:"provider" mapstructure:"provider"`
	Gate       GateConfig       `yaml:"gate" mapstructure:"gate"`
	Chunk      ChunkConfig      `yaml:"chunk" mapstructure:"chunk"`
	Controller ControllerConfig `yaml:"controller" mapstructure:"controller"`
	Phases     PhasesConfig     `yaml:"phases" mapstructure:"phases"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the session persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// GeminiConfig holds Google Gemini API settings.
type GeminiConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// ProviderConfig selects the transformation backend and its resilience
// envelope.
type ProviderConfig struct {
	Name            string   `yaml:"name" mapstructure:"name"`
	RPM             int      `yaml:"rpm" mapstructure:"rpm"`
	CallTimeoutSecs int      `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	Sentinels       []string `yaml:"sentinels" mapstructure:"sentinels"`
}

// GateConfig configures the single-flight call gate.
type GateConfig struct {
	MinIntervalMs int `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
}

// ChunkConfig configures document chunking. All values are tunable
// heuristics.
type ChunkConfig struct {
	Count        int `yaml:"count" mapstructure:"count"`
	OverlapRunes int `yaml:"overlap_runes" mapstructure:"overlap_runes"`
}

// ControllerConfig configures the per-chunk retry and correction policy.
type ControllerConfig struct {
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffMs          int     `yaml:"backoff_ms" mapstructure:"backoff_ms"`
	LossRatioThreshold float64 `yaml:"loss_ratio_threshold" mapstructure:"loss_ratio_threshold"`
	LostCountCap       int     `yaml:"lost_count_cap" mapstructure:"lost_count_cap"`
	FailSafe           bool    `yaml:"fail_safe" mapstructure:"fail_safe"`
}

// PhasesConfig points at an optional YAML file overriding the built-in phase
// instructions and per-phase models.
type PhasesConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// OCRConfig configures the fallback used when a PDF has no usable text layer.
type OCRConfig struct {
	Provider          string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath     string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey        string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel      string `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
	ThinTextThreshold int    `yaml:"thin_text_threshold" mapstructure:"thin_text_threshold"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentDocuments int `yaml:"max_concurrent_documents" mapstructure:"max_concurrent_documents"`
}

// ServerConfig configures the progress API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DOCTAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Keys that default to empty still need an entry here or
	// AutomaticEnv cannot surface them through Unmarshal.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "doctag.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("gemini.key", "")
	v.SetDefault("ocr.mistral_api_key", "")
	v.SetDefault("phases.file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.max_concurrent_documents", 1)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("provider.name", "anthropic")
	v.SetDefault("provider.rpm", 50)
	v.SetDefault("provider.call_timeout_secs", 60)
	v.SetDefault("gate.min_interval_ms", 650)
	v.SetDefault("chunk.count", 10)
	v.SetDefault("chunk.overlap_runes", 400)
	v.SetDefault("controller.max_attempts", 3)
	v.SetDefault("controller.backoff_ms", 1000)
	v.SetDefault("controller.loss_ratio_threshold", 0.15)
	v.SetDefault("controller.lost_count_cap", 5)
	v.SetDefault("controller.fail_safe", true)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_ocr_model", "pixtral-large-latest")
	v.SetDefault("ocr.thin_text_threshold", 500)

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

	return &cfg, nil
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
