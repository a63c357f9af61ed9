package common

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/pdf2schema/constants"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	OCR      OCRConfig      `yaml:"ocr"`
	LLM      LLMConfig      `yaml:"llm"`
	Redis    RedisConfig    `yaml:"redis"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Template TemplateConfig `yaml:"template"`
	Queue    QueueConfig    `yaml:"queue"`
}

// DatabaseConfig holds the audit store configuration. An empty DSN disables it.
type DatabaseConfig struct {
	DSN              string        `yaml:"dsn"`
	MaxConns         int32         `yaml:"max_conns" validate:"gte=0"`
	MinConns         int32         `yaml:"min_conns" validate:"gte=0"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr    string `yaml:"http_addr" validate:"required"`
	GRPCAddr    string `yaml:"grpc_addr" validate:"required"`
	OutputDir   string `yaml:"output_dir" validate:"required"`
	MaxUploadMB int    `yaml:"max_upload_mb" validate:"min=1"`
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Pdftoppm      string `yaml:"pdftoppm"`
	Tesseract     string `yaml:"tesseract"`
	TesseractLang string `yaml:"tesseract_lang"`
	TessdataDir   string `yaml:"tessdata_dir"`
	DPI           int    `yaml:"dpi" validate:"min=72,max=1200"`
	MaxPages      int    `yaml:"max_pages" validate:"gte=0"`
	MinTextChars  int    `yaml:"min_text_chars" validate:"gte=0"`
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url" validate:"required,url"`
	Model       string        `yaml:"model" validate:"required"`
	APIKey      string        `yaml:"-"`
	Temperature float32       `yaml:"temperature" validate:"gte=0,lte=2"`
	Timeout     time.Duration `yaml:"timeout"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// RedisConfig enables the shared completion cache when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

// WorkflowConfig drives the refinement loop and the scorer.
type WorkflowConfig struct {
	MaxIterations      int           `yaml:"max_iterations" validate:"min=1,max=20"`
	AcceptThreshold    float64       `yaml:"accept_threshold" validate:"gte=0,lte=100"`
	ResetFeedback      bool          `yaml:"reset_feedback"`
	CompletionTimeout  time.Duration `yaml:"completion_timeout" validate:"gt=0"`
	ScoringConcurrency int           `yaml:"scoring_concurrency" validate:"min=1,max=64"`
	MaxPromptBytes     int           `yaml:"max_prompt_bytes" validate:"min=1024"`
}

// TemplateConfig supplies the validator rules.
type TemplateConfig struct {
	RequiredTopLevelKeys []string `yaml:"required_top_level_keys"`
	RequiredFieldKeys    []string `yaml:"required_field_keys" validate:"dive,required"`
	RequiredPattern      string   `yaml:"required_pattern" validate:"required,regexp"`
	DomainKeywords       []string `yaml:"domain_keywords" validate:"dive,required"`
	MinKeywords          int      `yaml:"min_keywords" validate:"gte=0"`
}

// QueueConfig sizes the async conversion queue.
type QueueConfig struct {
	Workers int           `yaml:"workers" validate:"min=1"`
	Size    int           `yaml:"size" validate:"min=1"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:             "sqlite://pdf2schema.db",
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Server: ServerConfig{
			HTTPAddr:    ":8000",
			GRPCAddr:    ":8080",
			OutputDir:   "output",
			MaxUploadMB: 32,
		},
		OCR: OCRConfig{
			Pdftoppm:      "pdftoppm",
			Tesseract:     "tesseract",
			TesseractLang: "eng",
			DPI:           300,
			MinTextChars:  200,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			Timeout:     60 * time.Second,
			CacheTTL:    24 * time.Hour,
		},
		Workflow: WorkflowConfig{
			MaxIterations:      3,
			AcceptThreshold:    80,
			CompletionTimeout:  60 * time.Second,
			ScoringConcurrency: 8,
			MaxPromptBytes:     48000,
		},
		Template: TemplateConfig{
			RequiredTopLevelKeys: append([]string(nil), constants.DefaultRequiredTopLevelKeys...),
			RequiredFieldKeys:    append([]string(nil), constants.DefaultRequiredFieldKeys...),
			RequiredPattern:      constants.DefaultBlockPattern,
			DomainKeywords:       append([]string(nil), constants.DefaultSchemaKeywords...),
			MinKeywords:          1,
		},
		Queue: QueueConfig{
			Workers: 4,
			Size:    256,
			Timeout: 10 * time.Minute,
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file and
// the environment (a .env file in the working directory is honoured). path may
// be empty, in which case PDF2SCHEMA_CONFIG is consulted.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, NewAppError(CodeConfig, "load .env", err)
	}

	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("PDF2SCHEMA_CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, NewAppError(CodeConfig, fmt.Sprintf("read config file %s", path), err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, NewAppError(CodeConfig, fmt.Sprintf("decode config file %s", path), err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Database.DialTimeout)
	c.Database.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", c.Database.StatementTimeout)

	c.Server.HTTPAddr = getEnv("HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.OutputDir = getEnv("OUTPUT_DIR", c.Server.OutputDir)
	c.Server.MaxUploadMB = getEnvAsInt("MAX_UPLOAD_MB", c.Server.MaxUploadMB)

	c.OCR.Pdftoppm = getEnv("PDFTOPPM_BIN", c.OCR.Pdftoppm)
	c.OCR.Tesseract = getEnv("TESSERACT_BIN", c.OCR.Tesseract)
	c.OCR.TesseractLang = getEnv("TESSERACT_LANG", c.OCR.TesseractLang)
	c.OCR.TessdataDir = getEnv("TESSDATA_PREFIX", c.OCR.TessdataDir)
	c.OCR.DPI = getEnvAsInt("OCR_DPI", c.OCR.DPI)
	c.OCR.MaxPages = getEnvAsInt("OCR_MAX_PAGES", c.OCR.MaxPages)
	c.OCR.MinTextChars = getEnvAsInt("OCR_MIN_TEXT_CHARS", c.OCR.MinTextChars)

	c.LLM.BaseURL = getEnv("OPENAI_BASE_URL", c.LLM.BaseURL)
	c.LLM.APIKey = getEnv("OPENAI_API_KEY", c.LLM.APIKey)
	c.LLM.Model = getEnv("OPENAI_MODEL", c.LLM.Model)
	c.LLM.Temperature = getEnvAsFloat32("OPENAI_TEMPERATURE", c.LLM.Temperature)
	c.LLM.Timeout = getEnvAsDuration("OPENAI_TIMEOUT", c.LLM.Timeout)
	c.LLM.CacheTTL = getEnvAsDuration("LLM_CACHE_TTL", c.LLM.CacheTTL)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)

	c.Workflow.MaxIterations = getEnvAsInt("WORKFLOW_MAX_ITERATIONS", c.Workflow.MaxIterations)
	c.Workflow.AcceptThreshold = getEnvAsFloat64("WORKFLOW_ACCEPT_THRESHOLD", c.Workflow.AcceptThreshold)
	c.Workflow.ResetFeedback = getEnvAsBool("WORKFLOW_RESET_FEEDBACK", c.Workflow.ResetFeedback)
	c.Workflow.CompletionTimeout = getEnvAsDuration("COMPLETION_TIMEOUT", c.Workflow.CompletionTimeout)
	c.Workflow.ScoringConcurrency = getEnvAsInt("SCORING_CONCURRENCY", c.Workflow.ScoringConcurrency)
	c.Workflow.MaxPromptBytes = getEnvAsInt("PROMPT_MAX_BYTES", c.Workflow.MaxPromptBytes)

	c.Template.DomainKeywords = getEnvAsList("TEMPLATE_KEYWORDS", c.Template.DomainKeywords)
	c.Template.MinKeywords = getEnvAsInt("TEMPLATE_MIN_KEYWORDS", c.Template.MinKeywords)

	c.Queue.Workers = getEnvAsInt("QUEUE_WORKERS", c.Queue.Workers)
	c.Queue.Size = getEnvAsInt("QUEUE_SIZE", c.Queue.Size)
	c.Queue.Timeout = getEnvAsDuration("QUEUE_TIMEOUT", c.Queue.Timeout)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks struct constraints on the loaded configuration.
func (c *Config) Validate() error {
	if err := ValidateStruct(c); err != nil {
		return NewAppError(CodeConfig, "invalid configuration", err)
	}
	if c.Database.MinConns > c.Database.MaxConns && c.Database.MaxConns > 0 {
		return NewAppError(CodeConfig, "DB_MIN_CONNS exceeds DB_MAX_CONNS", ErrInvalidInput)
	}
	return nil
}

// RequireLLM is checked by commands that talk to the completion API.
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return NewAppError(CodeConfig, "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	return nil
}
