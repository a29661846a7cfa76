package config

import (
	"fmt"
	"os"
	"strings"
)

// Validate performs fail-fast validation of the whole configuration.
// It returns the first violation found, wrapped around a sentinel error so
// callers can branch with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if err := c.validateAI(); err != nil {
		return err
	}
	if err := c.validateChunking(); err != nil {
		return err
	}
	if err := c.validateRetrieval(); err != nil {
		return err
	}
	if err := c.validateIndex(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAI() error {
	switch c.Provider {
	case ProviderGemini, ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("GOOGLE_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY is required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY is required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOllama:
		if !strings.HasPrefix(c.OllamaHost, "http://") && !strings.HasPrefix(c.OllamaHost, "https://") {
			return fmt.Errorf("%w: %q must start with http:// or https://", ErrInvalidOllamaHost, c.OllamaHost)
		}
	default:
		return fmt.Errorf("%w: %q (supported: gemini, ollama, openai)", ErrInvalidProvider, c.Provider)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (must be between 0 and 2)", ErrInvalidTemperature, c.Temperature)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model is empty", ErrInvalidEmbedderModel)
	}
	return nil
}

func (c *Config) validateChunking() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_size)", ErrInvalidChunking, c.ChunkOverlap)
	}
	return nil
}

func (c *Config) validateRetrieval() error {
	if c.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidRetrieval, c.TopK)
	}
	if c.DistanceThreshold <= 0 {
		return fmt.Errorf("%w: distance_threshold must be positive, got %v", ErrInvalidRetrieval, c.DistanceThreshold)
	}
	switch c.VectorIDStrategy {
	case StrategyFilename, StrategySource:
	default:
		return fmt.Errorf("%w: %q (supported: filename, source)", ErrInvalidVectorIDStrategy, c.VectorIDStrategy)
	}
	return nil
}

func (c *Config) validateIndex() error {
	switch c.IndexBackend {
	case IndexChromem:
		return nil
	case IndexPostgres:
	default:
		return fmt.Errorf("%w: %q (supported: chromem, postgres)", ErrInvalidIndexBackend, c.IndexBackend)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (must be between 1 and 65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}
	switch c.PostgresSSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}
}
