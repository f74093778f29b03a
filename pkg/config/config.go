package config

// Config represents the top-level configuration for the CoachMem library.
type Config struct {
	// Memory configures the memory store backend
	Memory MemoryConfig `yaml:"memory"`

	// Profiles configures the user profile store backend
	Profiles ProfilesConfig `yaml:"profiles"`

	// Search configures the vector index used for hybrid retrieval
	Search SearchConfig `yaml:"search"`

	// Reasoning configures the embedding/completion engine (LLM)
	Reasoning ReasoningConfig `yaml:"reasoning"`

	// Policy configures memory retrieval policy behavior
	Policy PolicyConfig `yaml:"policy"`

	// Retention configures cleanup of old episodic memories and metrics
	Retention RetentionConfig `yaml:"retention"`

	// Logging configures the logging behavior
	Logging LoggingConfig `yaml:"logging"`
}

// MemoryConfig configures the memory store backend.
type MemoryConfig struct {
	// Type specifies the memory backend ("volatile", "sqlite", "postgres")
	Type string `yaml:"type"`

	// SQLite configures the SQLite-backed durable store
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Postgres configures the PostgreSQL-backed durable store
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig configures SQLite-backed durable storage.
type SQLiteConfig struct {
	// Path is the database file path
	Path string `yaml:"path"`
}

// PostgresConfig configures PostgreSQL-backed durable storage.
type PostgresConfig struct {
	// DSN is the data source name (connection string)
	DSN string `yaml:"dsn"`
}

// ProfilesConfig configures the user profile store backend.
type ProfilesConfig struct {
	// Type specifies the profile backend ("volatile", "boltdb", or
	// "memory" to reuse a memory store that also keeps profiles)
	Type string `yaml:"type"`

	// BoltDB configures the bbolt-backed profile store
	BoltDB BoltDBConfig `yaml:"boltdb"`
}

// BoltDBConfig configures bbolt-backed profile storage.
type BoltDBConfig struct {
	// Path is the database file path
	Path string `yaml:"path"`
}

// SearchConfig configures the vector index used for hybrid retrieval.
type SearchConfig struct {
	// Type specifies the vector index backend ("chromem", "pgvector", "mock")
	Type string `yaml:"type"`

	// GlobalCollection is the name of the shared document collection
	GlobalCollection string `yaml:"global_collection"`

	// UserCollectionPrefix is prepended to the user id to form the
	// per-user collection name
	UserCollectionPrefix string `yaml:"user_collection_prefix"`

	// UserWeight biases hybrid ranking toward the user's private
	// collection; global hits are weighted (1 - user_weight)
	UserWeight float64 `yaml:"user_weight"`

	// TopK is the default number of sources retrieved per query
	TopK int `yaml:"top_k"`

	// Chromem configures the embedded chromem-go index
	Chromem ChromemConfig `yaml:"chromem"`

	// PgVector configures the PostgreSQL pgvector index
	PgVector PgVectorConfig `yaml:"pgvector"`
}

// ChromemConfig configures the embedded chromem-go vector index.
type ChromemConfig struct {
	// StoragePath is the path for on-disk persistent storage (if empty,
	// in-memory is used)
	StoragePath string `yaml:"storage_path"`
}

// PgVectorConfig configures the PostgreSQL pgvector index.
type PgVectorConfig struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string `yaml:"connection_string"`

	// TableName is the name of the table to use
	TableName string `yaml:"table_name"`

	// Dimensions specifies the embedding dimensions
	Dimensions int `yaml:"dimensions"`

	// DistanceMetric is the distance metric to use (cosine, euclidean)
	DistanceMetric string `yaml:"distance_metric"`
}

// ReasoningConfig configures the embedding/completion engine.
type ReasoningConfig struct {
	// Provider is the LLM provider ("openai", "mock")
	Provider string `yaml:"provider"`

	// OpenAI configures OpenAI integration
	OpenAI OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig configures OpenAI integration.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key
	APIKey string `yaml:"api_key"`

	// Model is the model to use for chat/completion
	Model string `yaml:"model"`

	// EmbeddingModel is the model to use for generating embeddings
	EmbeddingModel string `yaml:"embedding_model"`

	// MaxTokens is the maximum number of tokens to generate
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls randomness in generation (0.0-1.0)
	Temperature float64 `yaml:"temperature"`
}

// PolicyConfig configures memory retrieval policy behavior.
type PolicyConfig struct {
	// ConversationLimit caps recent conversation memories per query
	ConversationLimit int `yaml:"conversation_limit"`

	// ScriptPaths is a list of directories containing Lua hook scripts.
	// Hooks may replace the built-in concept/skill extraction tables.
	ScriptPaths []string `yaml:"script_paths"`
}

// RetentionConfig configures cleanup of old data.
type RetentionConfig struct {
	// EpisodicDays is the retention horizon for episodic memories
	EpisodicDays int `yaml:"episodic_days"`

	// MetricsDays is the retention horizon for performance metrics
	MetricsDays int `yaml:"metrics_days"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error")
	Level string `yaml:"level"`

	// Format is the output format ("text", "json")
	Format string `yaml:"format"`
}
