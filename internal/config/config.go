// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.lexica/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: provider, model, embedder selection
//   - Index: vector index backend (chromem or postgres, see storage.go)
//   - Retrieval: chunking window, top-k, distance threshold
//   - History: filesystem data directory
//   - Server: listen address, CORS origins
//
// Sensitive data (the PostgreSQL password) is never logged; config directory
// uses 0750 permissions. Validation is fail-fast with sentinel errors so
// callers can branch with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidIndexBackend indicates the vector index backend is not supported.
	ErrInvalidIndexBackend = errors.New("invalid index backend")

	// ErrInvalidChunking indicates the chunk window or overlap is out of range.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidRetrieval indicates the top-k or distance threshold is out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval parameters")

	// ErrInvalidVectorIDStrategy indicates an unknown vector id strategy.
	ErrInvalidVectorIDStrategy = errors.New("invalid vector id strategy")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// Vector index backend identifiers used in Config.IndexBackend.
const (
	IndexChromem  = "chromem"
	IndexPostgres = "postgres"
)

// Vector id strategies used in Config.VectorIDStrategy.
//
// StrategyFilename derives vector ids from the original filename plus chunk
// index, so re-ingesting a file with the same name silently overwrites its
// vectors. StrategySource derives ids from the unique source id, so every
// ingestion adds a distinct set of vectors.
const (
	StrategyFilename = "filename"
	StrategySource   = "source"
)

// DefaultGeminiEmbedderModel is the default Gemini embedder model.
// gemini-embedding-001 outputs 3072 dimensions by default, but supports
// truncation to 768 via OutputDimensionality; the pgvector schema uses 768.
const DefaultGeminiEmbedderModel = "gemini-embedding-001"

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI provider and model configuration
	Provider    string  `mapstructure:"provider" json:"provider"`     // "gemini" (default), "ollama", "openai"
	ModelName   string  `mapstructure:"model_name" json:"model_name"` // e.g. "gemini-2.5-flash", "llama3.3", "gpt-4o"
	Temperature float32 `mapstructure:"temperature" json:"temperature"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Embedder configuration
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Vector index configuration (see storage.go)
	IndexBackend   string `mapstructure:"index_backend" json:"index_backend"` // "chromem" (default), "postgres"
	IndexPath      string `mapstructure:"index_path" json:"index_path"`       // chromem persistence directory
	CollectionName string `mapstructure:"collection_name" json:"collection_name"`

	// PostgreSQL configuration (only used when index_backend is "postgres")
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Chunking configuration
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Retrieval configuration
	TopK              int     `mapstructure:"top_k" json:"top_k"`
	DistanceThreshold float64 `mapstructure:"distance_threshold" json:"distance_threshold"`

	// Ingestion / deletion behavior
	VectorIDStrategy       string `mapstructure:"vector_id_strategy" json:"vector_id_strategy"` // "filename" (default), "source"
	RetractVectorsOnDelete bool   `mapstructure:"retract_vectors_on_delete" json:"retract_vectors_on_delete"`

	// History store configuration
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	// Server configuration
	Host        string   `mapstructure:"host" json:"host"`
	Port        int      `mapstructure:"port" json:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`

	// Generation rate limiting (requests per second towards the model)
	GenerateRPS float64 `mapstructure:"generate_rps" json:"generate_rps"`

	// Logging
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
	LogLevel string `mapstructure:"log_level" json:"log_level"` // debug, info, warn, error
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".lexica")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults(configDir)
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, if set, overrides the individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(configDir string) {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)

	// Ollama defaults
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// Index defaults
	viper.SetDefault("index_backend", IndexChromem)
	viper.SetDefault("index_path", filepath.Join(configDir, "index"))
	viper.SetDefault("collection_name", "Documents")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "lexica")
	viper.SetDefault("postgres_password", "lexica_dev_password")
	viper.SetDefault("postgres_db_name", "lexica")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Chunking defaults
	viper.SetDefault("chunk_size", 1024)
	viper.SetDefault("chunk_overlap", 100)

	// Retrieval defaults
	viper.SetDefault("top_k", 5)
	viper.SetDefault("distance_threshold", 1.0)

	// Ingestion defaults
	viper.SetDefault("vector_id_strategy", StrategyFilename)
	viper.SetDefault("retract_vectors_on_delete", false)

	// History store defaults
	viper.SetDefault("data_dir", filepath.Join(configDir, "data"))

	// Server defaults
	viper.SetDefault("host", "127.0.0.1")
	viper.SetDefault("port", 8080)
	viper.SetDefault("cors_origins", []string{"http://localhost:4200"})

	// Rate limit towards the model
	viper.SetDefault("generate_rps", 1.0)

	// Logging defaults
	viper.SetDefault("log_json", false)
	viper.SetDefault("log_level", "info")
}

// bindEnvVariables binds environment variable overrides explicitly.
// API keys (GEMINI_API_KEY, OPENAI_API_KEY) are read directly by the Genkit
// plugins, not via Viper; validation checks their presence based on the
// selected provider.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "LEXICA_PROVIDER")
	mustBind("model_name", "LEXICA_MODEL_NAME")
	mustBind("ollama_host", "LEXICA_OLLAMA_HOST")
	mustBind("embedder_model", "LEXICA_EMBEDDER_MODEL")
	mustBind("index_backend", "LEXICA_INDEX_BACKEND")
	mustBind("index_path", "LEXICA_INDEX_PATH")
	mustBind("data_dir", "LEXICA_DATA_DIR")
	mustBind("host", "LEXICA_HOST")
	mustBind("port", "LEXICA_PORT")
	mustBind("cors_origins", "LEXICA_CORS_ORIGINS")
	mustBind("distance_threshold", "LEXICA_DISTANCE_THRESHOLD")
	mustBind("top_k", "LEXICA_TOP_K")
	mustBind("vector_id_strategy", "LEXICA_VECTOR_ID_STRATEGY")
	mustBind("retract_vectors_on_delete", "LEXICA_RETRACT_VECTORS_ON_DELETE")
	mustBind("log_json", "LEXICA_LOG_JSON")
	mustBind("log_level", "LEXICA_LOG_LEVEL")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid substring matching against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked; longer secrets keep the
// first and last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// ListenAddr returns the host:port pair the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Level parses LogLevel into a slog.Level, defaulting to info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
