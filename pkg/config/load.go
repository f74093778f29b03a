package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from a byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	var config Config

	err := yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvironmentOverrides(&config)

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
func applyEnvironmentOverrides(config *Config) {
	// Memory store DSN overrides
	if dsn := os.Getenv("COACHMEM_MEMORY_SQL_DSN"); dsn != "" {
		config.Memory.Postgres.DSN = dsn
	}
	if path := os.Getenv("COACHMEM_MEMORY_SQLITE_PATH"); path != "" {
		config.Memory.SQLite.Path = path
	}

	// PgVector connection string override
	if connStr := os.Getenv("PGVECTOR_URL"); connStr != "" {
		config.Search.PgVector.ConnectionString = connStr
	}

	// OpenAI API key override
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Reasoning.OpenAI.APIKey = apiKey
	}
}

// validateConfig validates the configuration and applies defaults.
func validateConfig(config *Config) error {
	// Validate memory store configuration
	switch strings.ToLower(config.Memory.Type) {
	case "volatile", "":
		// Volatile store needs no further configuration
	case "sqlite":
		if config.Memory.SQLite.Path == "" {
			config.Memory.SQLite.Path = "./data/coachmem.db"
		}
	case "postgres":
		if config.Memory.Postgres.DSN == "" {
			// Can still come from POSTGRES_URL at wiring time
			if os.Getenv("POSTGRES_URL") == "" {
				return fmt.Errorf("postgres DSN is required for postgres memory type")
			}
		}
	default:
		return fmt.Errorf("unsupported memory store type: %s", config.Memory.Type)
	}

	// Validate profile store configuration. The "memory" type reuses the
	// memory store when it also keeps profiles.
	switch strings.ToLower(config.Profiles.Type) {
	case "volatile", "", "memory":
		// Nothing to validate
	case "boltdb":
		if config.Profiles.BoltDB.Path == "" {
			config.Profiles.BoltDB.Path = "./data/coachmem.profiles.db"
		}
	default:
		return fmt.Errorf("unsupported profile store type: %s", config.Profiles.Type)
	}

	// Validate search configuration
	switch strings.ToLower(config.Search.Type) {
	case "chromem", "mock", "":
		// Embedded backends need no connection details
	case "pgvector":
		if config.Search.PgVector.ConnectionString == "" && os.Getenv("PGVECTOR_URL") == "" {
			return fmt.Errorf("connection string is required for pgvector search type")
		}
		if config.Search.PgVector.TableName == "" {
			config.Search.PgVector.TableName = "document_vectors"
		}
		if config.Search.PgVector.Dimensions <= 0 {
			config.Search.PgVector.Dimensions = 1536
		}
		if config.Search.PgVector.DistanceMetric == "" {
			config.Search.PgVector.DistanceMetric = "cosine"
		} else {
			metric := strings.ToLower(config.Search.PgVector.DistanceMetric)
			if metric != "cosine" && metric != "euclidean" {
				return fmt.Errorf("unsupported distance metric for pgvector: %s (must be cosine or euclidean)",
					config.Search.PgVector.DistanceMetric)
			}
		}
	default:
		return fmt.Errorf("unsupported search type: %s", config.Search.Type)
	}

	if config.Search.GlobalCollection == "" {
		config.Search.GlobalCollection = "coach_docs"
	}
	if config.Search.UserCollectionPrefix == "" {
		config.Search.UserCollectionPrefix = "coach_user_"
	}
	if config.Search.UserWeight <= 0 || config.Search.UserWeight >= 1 {
		config.Search.UserWeight = 0.7
	}
	if config.Search.TopK <= 0 {
		config.Search.TopK = 3
	}

	// Validate reasoning configuration
	switch strings.ToLower(config.Reasoning.Provider) {
	case "mock", "":
		// Mock engine needs no further validation
	case "openai":
		// API key can be provided via environment variable, so we don't
		// explicitly check for it here; validate model settings only.
		if config.Reasoning.OpenAI.Model == "" {
			config.Reasoning.OpenAI.Model = "gpt-4o-mini"
		}
		if config.Reasoning.OpenAI.EmbeddingModel == "" {
			config.Reasoning.OpenAI.EmbeddingModel = "text-embedding-3-small"
		}
	default:
		return fmt.Errorf("unsupported reasoning provider: %s", config.Reasoning.Provider)
	}

	// Policy defaults
	if config.Policy.ConversationLimit <= 0 {
		config.Policy.ConversationLimit = 3
	}

	// Retention defaults
	if config.Retention.EpisodicDays <= 0 {
		config.Retention.EpisodicDays = 90
	}
	if config.Retention.MetricsDays <= 0 {
		config.Retention.MetricsDays = 30
	}

	return nil
}
