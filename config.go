package healthcoach

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"

	"github.com/brunobiangulo/healthcoach/llm"
)

// Config holds all configuration for the health coach engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.healthcoach/<DBName>.db
	DBPath string `json:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name"`

	// StorageDir controls where the database is created when DBPath is
	// not explicitly set: "home" (default) uses ~/.healthcoach/, "local"
	// uses the current working directory.
	StorageDir string `json:"storage_dir"`

	// LLM providers. Chat is optional and only used to phrase suggestion
	// text; Embedding is required.
	Chat      llm.Config `json:"chat"`
	Embedding llm.Config `json:"embedding"`

	// PhraseSuggestions enables chat-based phrasing of suggestion text.
	// When off (or when the chat call fails), suggestions carry their
	// template text.
	PhraseSuggestions bool `json:"phrase_suggestions"`

	// Analyzer window and digest bounds.
	WindowSize     int `json:"window_size"`
	DigestMaxChars int `json:"digest_max_chars"`

	// Retrieval
	TopK    int `json:"top_k"`
	MaxHops int `json:"max_hops"`

	// Ranking
	MaxResults          int     `json:"max_results"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	DiversityCutoff     float64 `json:"diversity_cutoff"`

	// External-call policy: per-call timeout plus bounded retry with
	// exponential backoff on transient failures.
	CallTimeout    time.Duration `json:"call_timeout"`
	RetryAttempts  int           `json:"retry_attempts"`
	RetryBaseDelay time.Duration `json:"retry_base_delay"`

	// EmbeddingDim must match the embedding model's output dimension.
	EmbeddingDim int `json:"embedding_dim"`
}

// DefaultConfig returns a Config with sensible defaults for local
// inference. Database is stored in ~/.healthcoach/healthcoach.db.
func DefaultConfig() Config {
	return Config{
		DBName:     "healthcoach",
		StorageDir: "home",
		Chat: llm.Config{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: llm.Config{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		WindowSize:          7,
		DigestMaxChars:      300,
		TopK:                3,
		MaxHops:             2,
		MaxResults:          3,
		SimilarityThreshold: 0.7,
		DiversityCutoff:     0.85,
		CallTimeout:         10 * time.Second,
		RetryAttempts:       3,
		RetryBaseDelay:      500 * time.Millisecond,
		EmbeddingDim:        768,
	}
}

// Validate checks the configuration for values the engine cannot run
// with. Returned errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Embedding, validation.By(validateLLM(true))),
		validation.Field(&c.Chat, validation.By(validateLLM(c.PhraseSuggestions))),
		validation.Field(&c.WindowSize, validation.Required, validation.Min(1)),
		validation.Field(&c.DigestMaxChars, validation.Required, validation.Min(1)),
		validation.Field(&c.TopK, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxHops, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxResults, validation.Required, validation.Min(1)),
		validation.Field(&c.SimilarityThreshold, validation.Required, validation.Min(-1.0), validation.Max(1.0)),
		validation.Field(&c.DiversityCutoff, validation.Required, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.CallTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.RetryAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.RetryBaseDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.EmbeddingDim, validation.Required, validation.Min(1)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// validateLLM checks a provider block. Optional blocks may be entirely
// empty; a partially filled block is still an error.
func validateLLM(required bool) validation.RuleFunc {
	return func(value interface{}) error {
		cfg, ok := value.(llm.Config)
		if !ok {
			return fmt.Errorf("not an llm config")
		}
		if !required && cfg.Provider == "" {
			return nil
		}
		return validation.ValidateStruct(&cfg,
			validation.Field(&cfg.Provider, validation.Required),
			validation.Field(&cfg.Model, validation.Required),
		)
	}
}

// resolveDBPath expands the configured database location.
func (c Config) resolveDBPath() (string, error) {
	if c.DBPath != "" {
		return c.DBPath, nil
	}
	name := c.DBName
	if name == "" {
		name = "healthcoach"
	}
	if c.StorageDir == "local" {
		return name + ".db", nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".healthcoach", name+".db"), nil
}

// ConfigFromEnv builds a Config from environment variables on top of the
// defaults, loading a .env file first when one exists. Unset variables
// keep their defaults.
func ConfigFromEnv() Config {
	_ = godotenv.Load()

	c := DefaultConfig()
	setStr(&c.DBPath, "HEALTHCOACH_DB_PATH")
	setStr(&c.StorageDir, "HEALTHCOACH_STORAGE_DIR")

	setStr(&c.Embedding.Provider, "EMBEDDING_PROVIDER")
	setStr(&c.Embedding.Model, "EMBEDDING_MODEL")
	setStr(&c.Embedding.BaseURL, "EMBEDDING_BASE_URL")
	setStr(&c.Embedding.APIKey, "EMBEDDING_API_KEY")

	setStr(&c.Chat.Provider, "CHAT_PROVIDER")
	setStr(&c.Chat.Model, "CHAT_MODEL")
	setStr(&c.Chat.BaseURL, "CHAT_BASE_URL")
	setStr(&c.Chat.APIKey, "CHAT_API_KEY")
	setBool(&c.PhraseSuggestions, "PHRASE_SUGGESTIONS")

	setInt(&c.WindowSize, "WINDOW_SIZE")
	setInt(&c.DigestMaxChars, "DIGEST_MAX_CHARS")
	setInt(&c.TopK, "TOP_K")
	setInt(&c.MaxHops, "MAX_HOPS")
	setInt(&c.MaxResults, "MAX_RESULTS")
	setFloat(&c.SimilarityThreshold, "SIMILARITY_THRESHOLD")
	setFloat(&c.DiversityCutoff, "DIVERSITY_CUTOFF")
	setInt(&c.EmbeddingDim, "EMBEDDING_DIM")
	setInt(&c.RetryAttempts, "RETRY_ATTEMPTS")
	setDuration(&c.CallTimeout, "CALL_TIMEOUT")
	setDuration(&c.RetryBaseDelay, "RETRY_BASE_DELAY")
	return c
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
