package pgvector

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexlapax/coachmem/pkg/errors"
	"github.com/lexlapax/coachmem/pkg/log"
	"github.com/lexlapax/coachmem/pkg/search"
)

// Index implements the search.VectorIndex interface using PostgreSQL
// with the pgvector extension. All collections share one table with a
// collection column; a collection that has never been written simply
// has no rows and searches against it come back empty.
type Index struct {
	db             *pgxpool.Pool
	tableName      string
	dimensionSize  int
	distanceMetric string
}

// Config contains the configuration for a pgvector index.
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// TableName is the name of the table to use
	TableName string

	// DimensionSize is the size of vector embeddings
	DimensionSize int

	// DistanceMetric is the distance metric to use (cosine, euclidean)
	DistanceMetric string
}

// NewIndex connects to PostgreSQL and initializes the vector table.
func NewIndex(ctx context.Context, config Config) (*Index, error) {
	if config.ConnectionString == "" {
		return nil, stderrors.New("connection string cannot be empty")
	}

	if config.TableName == "" {
		config.TableName = "document_vectors"
	}

	if config.DimensionSize <= 0 {
		config.DimensionSize = 1536 // Default dimension size for OpenAI embeddings
	}

	if config.DistanceMetric == "" {
		config.DistanceMetric = "cosine"
	} else {
		config.DistanceMetric = strings.ToLower(config.DistanceMetric)
		if config.DistanceMetric != "cosine" && config.DistanceMetric != "euclidean" {
			return nil, fmt.Errorf("unsupported distance metric: %s (must be cosine or euclidean)", config.DistanceMetric)
		}
	}

	db, err := pgxpool.New(ctx, config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	index := &Index{
		db:             db,
		tableName:      config.TableName,
		dimensionSize:  config.DimensionSize,
		distanceMetric: config.DistanceMetric,
	}

	if err := index.initializeTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize pgvector table: %w", err)
	}
	return index, nil
}

// initializeTable creates the necessary table and indices if they don't exist.
func (x *Index) initializeTable(ctx context.Context) error {
	var extensionExists bool
	err := x.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&extensionExists)
	if err != nil {
		return fmt.Errorf("failed to check for pgvector extension: %w", err)
	}

	if !extensionExists {
		_, err = x.db.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
		if err != nil {
			return fmt.Errorf("failed to create pgvector extension: %w", err)
		}
		log.Info("Created pgvector extension")
	}

	_, err = x.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT NOT NULL,
			collection TEXT NOT NULL,
			source_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding VECTOR(%d) NOT NULL,
			PRIMARY KEY (collection, id)
		)
	`, x.tableName, x.dimensionSize))
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	indices := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_collection_idx ON %s (collection)", x.tableName, x.tableName),
	}

	switch x.distanceMetric {
	case "cosine":
		indices = append(indices, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)",
			x.tableName, x.tableName))
	case "euclidean":
		indices = append(indices, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING ivfflat (embedding vector_l2_ops) WITH (lists = 100)",
			x.tableName, x.tableName))
	}

	for _, sql := range indices {
		if _, err := x.db.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Close closes the database connection pool.
func (x *Index) Close() {
	if x.db != nil {
		x.db.Close()
	}
}

// Upsert implements the search.VectorIndex interface.
func (x *Index) Upsert(ctx context.Context, collection string, id string, vector []float32, payload search.Payload) error {
	if id == "" {
		return errors.Wrap(errors.ErrInvalidInput, "document id is required")
	}
	if len(vector) != x.dimensionSize {
		return fmt.Errorf("embedding dimension mismatch: got %d, expected %d", len(vector), x.dimensionSize)
	}

	metadata := payload.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	_, err := x.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, collection, source_id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6::vector)
		ON CONFLICT (collection, id) DO UPDATE SET
			source_id = $3,
			content = $4,
			metadata = $5,
			embedding = $6::vector
	`, x.tableName),
		id, collection, payload.SourceID, payload.Text, metadata, embedToString(vector),
	)
	if err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}

	log.Debug("Stored document in pgvector",
		"id", id,
		"collection", collection,
		"table", x.tableName)
	return nil
}

// Search implements the search.VectorIndex interface. Distances are
// mapped onto a similarity in [0, 1]: cosine as 1 - distance, euclidean
// as 1 / (1 + distance).
func (x *Index) Search(ctx context.Context, collection string, vector []float32, topK int) ([]search.Hit, error) {
	if len(vector) != x.dimensionSize {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, expected %d", len(vector), x.dimensionSize)
	}
	if topK <= 0 {
		topK = 3
	}

	var distanceOp string
	switch x.distanceMetric {
	case "cosine":
		distanceOp = "<=>"
	case "euclidean":
		distanceOp = "<->"
	}

	sqlQuery := fmt.Sprintf(`
		SELECT id, source_id, content, metadata, embedding %s $2::vector AS distance
		FROM %s
		WHERE collection = $1
		ORDER BY distance
		LIMIT %d
	`, distanceOp, x.tableName, topK)

	rows, err := x.db.Query(ctx, sqlQuery, collection, embedToString(vector))
	if err != nil {
		return nil, fmt.Errorf("failed to perform vector search: %w", err)
	}
	defer rows.Close()

	var hits []search.Hit
	for rows.Next() {
		var (
			hit      search.Hit
			metadata map[string]string
			distance float64
		)
		if err := rows.Scan(&hit.ID, &hit.Payload.SourceID, &hit.Payload.Text, &metadata, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		hit.Payload.Metadata = metadata

		switch x.distanceMetric {
		case "cosine":
			hit.Score = 1 - distance
		case "euclidean":
			hit.Score = 1 / (1 + distance)
		}
		if hit.Score < 0 {
			hit.Score = 0
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search results: %w", err)
	}
	return hits, nil
}

// Helper function to convert []float32 to string for pgvector
func embedToString(embedding []float32) string {
	elements := make([]string, len(embedding))
	for i, v := range embedding {
		elements[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(elements, ",") + "]"
}
