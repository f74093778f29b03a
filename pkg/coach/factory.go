package coach

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lexlapax/coachmem/pkg/config"
	"github.com/lexlapax/coachmem/pkg/log"
	"github.com/lexlapax/coachmem/pkg/memory"
	memoryPostgres "github.com/lexlapax/coachmem/pkg/memory/adapters/postgres"
	memorySqlite "github.com/lexlapax/coachmem/pkg/memory/adapters/sqlite"
	memoryVolatile "github.com/lexlapax/coachmem/pkg/memory/adapters/volatile"
	"github.com/lexlapax/coachmem/pkg/policy"
	"github.com/lexlapax/coachmem/pkg/profile"
	profileBoltdb "github.com/lexlapax/coachmem/pkg/profile/adapters/boltdb"
	profileVolatile "github.com/lexlapax/coachmem/pkg/profile/adapters/volatile"
	"github.com/lexlapax/coachmem/pkg/reasoning"
	reasoningMock "github.com/lexlapax/coachmem/pkg/reasoning/adapters/mock"
	reasoningOpenAI "github.com/lexlapax/coachmem/pkg/reasoning/adapters/openai"
	"github.com/lexlapax/coachmem/pkg/scripting"
	"github.com/lexlapax/coachmem/pkg/search"
	searchChromem "github.com/lexlapax/coachmem/pkg/search/adapters/chromem"
	searchMock "github.com/lexlapax/coachmem/pkg/search/adapters/mock"
	searchPgvector "github.com/lexlapax/coachmem/pkg/search/adapters/pgvector"
)

// NewCoachFromConfig creates a fully wired Coach from a configuration
// file. This is a convenience function that handles all component
// initialization.
func NewCoachFromConfig(configPath string) (*Coach, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewCoachFromParsedConfig(cfg)
}

// NewCoachFromParsedConfig wires a Coach from an already-loaded config.
func NewCoachFromParsedConfig(cfg *config.Config) (*Coach, error) {
	memoryStore, err := initMemoryStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory store: %w", err)
	}

	profileStore, err := initProfileStore(cfg, memoryStore)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize profile store: %w", err)
	}

	index, err := initVectorIndex(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	retriever, err := search.NewHybridRetriever(index, search.HybridConfig{
		GlobalCollection:     cfg.Search.GlobalCollection,
		UserCollectionPrefix: cfg.Search.UserCollectionPrefix,
		UserWeight:           cfg.Search.UserWeight,
		TopK:                 cfg.Search.TopK,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize hybrid retriever: %w", err)
	}

	engine, err := initReasoningEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize reasoning engine: %w", err)
	}

	pol := initPolicy(cfg)

	coach, err := New(memoryStore, profileStore, retriever, engine, pol,
		WithTopK(cfg.Search.TopK))
	if err != nil {
		return nil, err
	}

	log.Info("Coach initialized from config",
		"memory_type", cfg.Memory.Type,
		"profile_type", cfg.Profiles.Type,
		"search_type", cfg.Search.Type,
		"reasoning_provider", cfg.Reasoning.Provider,
	)
	return coach, nil
}

// initMemoryStore initializes the appropriate memory store based on configuration.
func initMemoryStore(cfg *config.Config) (memory.Store, error) {
	memoryType := strings.ToLower(cfg.Memory.Type)
	log.Info("Initializing memory store", "type", memoryType)

	switch memoryType {
	case "volatile", "":
		return memoryVolatile.NewStore(), nil

	case "sqlite":
		return memorySqlite.Open(cfg.Memory.SQLite.Path)

	case "postgres":
		dsn := cfg.Memory.Postgres.DSN
		if dsn == "" {
			dsn = os.Getenv("POSTGRES_URL")
			if dsn == "" {
				return nil, fmt.Errorf("PostgreSQL connection string not provided")
			}
		}
		return memoryPostgres.Open(context.Background(), dsn)

	default:
		return nil, fmt.Errorf("unsupported memory store type: %s", memoryType)
	}
}

// initProfileStore initializes the profile store. The durable memory
// adapters also persist profiles, so "memory" reuses the memory store
// when it supports that.
func initProfileStore(cfg *config.Config, memoryStore memory.Store) (profile.Store, error) {
	profileType := strings.ToLower(cfg.Profiles.Type)
	log.Info("Initializing profile store", "type", profileType)

	switch profileType {
	case "volatile", "":
		return profileVolatile.NewStore(), nil

	case "boltdb":
		path := cfg.Profiles.BoltDB.Path
		if path == "" {
			path = "./data/coachmem.profiles.db"
		}
		return profileBoltdb.Open(path)

	case "memory":
		store, ok := memoryStore.(profile.Store)
		if !ok {
			return nil, fmt.Errorf("memory store type %q does not persist profiles", cfg.Memory.Type)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported profile store type: %s", profileType)
	}
}

// initVectorIndex initializes the vector index based on configuration.
func initVectorIndex(cfg *config.Config) (search.VectorIndex, error) {
	searchType := strings.ToLower(cfg.Search.Type)
	log.Info("Initializing vector index", "type", searchType)

	switch searchType {
	case "chromem", "":
		if cfg.Search.Chromem.StoragePath != "" {
			return searchChromem.NewPersistentIndex(cfg.Search.Chromem.StoragePath)
		}
		return searchChromem.NewIndex(), nil

	case "pgvector":
		connectionString := cfg.Search.PgVector.ConnectionString
		if strings.Contains(connectionString, "${PGVECTOR_URL}") {
			connectionString = strings.Replace(connectionString, "${PGVECTOR_URL}", os.Getenv("PGVECTOR_URL"), 1)
		}
		if connectionString == "" {
			connectionString = os.Getenv("PGVECTOR_URL")
			if connectionString == "" {
				return nil, fmt.Errorf("pgvector connection string not provided")
			}
		}
		return searchPgvector.NewIndex(context.Background(), searchPgvector.Config{
			ConnectionString: connectionString,
			TableName:        cfg.Search.PgVector.TableName,
			DimensionSize:    cfg.Search.PgVector.Dimensions,
			DistanceMetric:   cfg.Search.PgVector.DistanceMetric,
		})

	case "mock":
		return searchMock.NewIndex(), nil

	default:
		return nil, fmt.Errorf("unsupported vector index type: %s", searchType)
	}
}

// initReasoningEngine initializes the reasoning engine based on configuration.
func initReasoningEngine(cfg *config.Config) (reasoning.Engine, error) {
	provider := strings.ToLower(cfg.Reasoning.Provider)
	log.Info("Initializing reasoning engine", "provider", provider)

	switch provider {
	case "openai":
		apiKey := cfg.Reasoning.OpenAI.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			log.Warn("OpenAI API key not found, falling back to mock engine")
			return reasoningMock.NewMockEngine(), nil
		}

		adapter, err := reasoningOpenAI.NewOpenAIAdapter(reasoningOpenAI.Config{
			APIKey:         apiKey,
			ChatModel:      cfg.Reasoning.OpenAI.Model,
			EmbeddingModel: cfg.Reasoning.OpenAI.EmbeddingModel,
		})
		if err != nil {
			log.Error("Failed to initialize OpenAI adapter, falling back to mock", "error", err)
			return reasoningMock.NewMockEngine(), nil
		}

		log.Info("Using OpenAI reasoning engine",
			"chat_model", cfg.Reasoning.OpenAI.Model,
			"embedding_model", cfg.Reasoning.OpenAI.EmbeddingModel)
		return adapter, nil

	case "mock", "":
		log.Info("Using mock reasoning engine")
		return reasoningMock.NewMockEngine(), nil

	default:
		log.Warn("Unsupported reasoning provider, using mock engine", "provider", provider)
		return reasoningMock.NewMockEngine(), nil
	}
}

// initPolicy builds the retrieval policy, attaching Lua hooks when any
// configured script directory yields scripts.
func initPolicy(cfg *config.Config) *policy.Policy {
	hooks := initScriptHooks(cfg.Policy.ScriptPaths)
	if hooks != nil {
		return policy.New(cfg.Policy.ConversationLimit, policy.WithHooks(hooks))
	}
	return policy.New(cfg.Policy.ConversationLimit)
}

func initScriptHooks(scriptPaths []string) scripting.Engine {
	if len(scriptPaths) == 0 {
		return nil
	}

	engine, err := scripting.NewLuaEngine(scripting.DefaultConfig())
	if err != nil {
		log.Warn("Failed to create Lua engine, policy hooks disabled", "error", err)
		return nil
	}

	loaded := false
	for _, basePath := range scriptPaths {
		absPath, err := filepath.Abs(basePath)
		if err != nil {
			log.Warn("Failed to resolve script path", "path", basePath, "error", err)
			continue
		}
		if _, err := os.Stat(absPath); os.IsNotExist(err) {
			log.Debug("Scripts directory not found", "path", absPath)
			continue
		}
		if err := engine.LoadScriptDir(absPath); err != nil {
			log.Warn("Failed to load scripts", "path", absPath, "error", err)
			continue
		}
		log.Info("Loaded policy hook scripts", "path", absPath)
		loaded = true
	}

	if !loaded {
		engine.Close()
		return nil
	}
	return engine
}
