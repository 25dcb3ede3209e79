// Package config defines the run-scoped configuration snapshot. Values
// are taken from a config yml file or environment variables or both.
package config

import (
	"fmt"
	"log/slog"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jakopako/tagcheck/types"
)

// Debug enables debug logging and the dumping of screenshots and
// rendered html to the debug directory.
var Debug bool

type contextKey string

// LoggerCtxKey is the context key under which a request scoped logger
// is stored, see the log package.
const LoggerCtxKey contextKey = "logger"

func GetLogLevel() slog.Level {
	if Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// WriterConfig defines the necessary parameters to make a new writer
// which is responsible for persisting the per-page results and the run
// summary, eg. to stdout, a json file or a sqlite database.
type WriterConfig struct {
	Type     string `yaml:"type" env:"WRITER_TYPE" env-default:"stdout"`
	FilePath string `yaml:"filepath" env:"WRITER_FILEPATH"`
}

// RenderConfig configures the page renderer.
type RenderConfig struct {
	UserAgent       string `yaml:"user_agent" env:"RENDER_USER_AGENT"`
	PageLoadWaitMs  int    `yaml:"page_load_wait_ms" env:"RENDER_PAGE_LOAD_WAIT_MS" env-default:"2000"`
	TimeoutMs       int    `yaml:"timeout_ms" env:"RENDER_TIMEOUT_MS" env-default:"30000"`
	PageTypeJS      string `yaml:"page_type_js" env:"RENDER_PAGE_TYPE_JS"`
	PageVariablesJS string `yaml:"page_variables_js" env:"RENDER_PAGE_VARIABLES_JS"`
	DebugDir        string `yaml:"debug_dir" env:"RENDER_DEBUG_DIR" env-default:"debug"`
}

// VisionConfig configures the vision inference service used to verify
// the presence of required ui elements on a rendered page.
type VisionConfig struct {
	APIKey          string `yaml:"api_key" env:"GEMINI_API_KEY"`
	Model           string `yaml:"model" env:"VISION_MODEL" env-default:"gemini-2.0-flash"`
	TimeoutMs       int    `yaml:"timeout_ms" env:"VISION_TIMEOUT_MS" env-default:"60000"`
	MinIntervalMs   int    `yaml:"min_interval_ms" env:"VISION_MIN_INTERVAL_MS" env-default:"100"`
	MaxRetries      int    `yaml:"max_retries" env:"VISION_MAX_RETRIES" env-default:"3"`
	DisableBatching bool   `yaml:"disable_batching" env:"VISION_DISABLE_BATCHING"`
}

// AnalyticsConfig configures the analytics query service that provides
// the ground truth event volumes.
type AnalyticsConfig struct {
	Uri       string `yaml:"uri" env:"ANALYTICS_URI"`
	User      string `yaml:"user" env:"ANALYTICS_USER"`
	Password  string `yaml:"password" env:"ANALYTICS_PASSWORD"`
	DateFrom  string `yaml:"date_from" env:"ANALYTICS_DATE_FROM"`
	DateTo    string `yaml:"date_to" env:"ANALYTICS_DATE_TO"`
	TimeoutMs int    `yaml:"timeout_ms" env:"ANALYTICS_TIMEOUT_MS" env-default:"10000"`
}

// Config defines the overall structure of the tagcheck configuration.
type Config struct {
	CatalogPath       string           `yaml:"catalog" env:"CATALOG_PATH" env-default:"./tags.yml"`
	RenderConcurrency int              `yaml:"render_concurrency" env:"RENDER_CONCURRENCY" env-default:"4"`
	InferConcurrency  int              `yaml:"inference_concurrency" env:"INFERENCE_CONCURRENCY" env-default:"4"`
	Render            RenderConfig     `yaml:"render"`
	Vision            VisionConfig     `yaml:"vision"`
	Analytics         AnalyticsConfig  `yaml:"analytics"`
	Writer            WriterConfig     `yaml:"writer"`
	Pages             []types.PageTask `yaml:"pages"`
}

func NewConfig(configPath string) (*Config, error) {
	var config Config
	if err := cleanenv.ReadConfig(configPath, &config); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	if config.RenderConcurrency < 1 {
		config.RenderConcurrency = 1
	}
	if config.InferConcurrency < 1 {
		config.InferConcurrency = 1
	}
	return &config, nil
}
