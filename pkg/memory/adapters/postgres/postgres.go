package postgres

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/lexlapax/coachmem/pkg/clock"
	"github.com/lexlapax/coachmem/pkg/errors"
	"github.com/lexlapax/coachmem/pkg/log"
	"github.com/lexlapax/coachmem/pkg/memory"
	"github.com/lexlapax/coachmem/pkg/profile"
)

// scanCap bounds unfiltered semantic/procedural scans, matching the
// SQLite adapter.
const scanCap = 500

// Store is the PostgreSQL-backed implementation of memory.Store. It
// shares the append-only, latest-wins read semantics of the SQLite
// adapter; rows are ordered by a serial sequence column so "newest"
// is unambiguous even within one timestamp.
type Store struct {
	db  *sqlx.DB
	clk clock.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects a clock, primarily for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clk = c
	}
}

// NewStore creates a Store over an existing database connection.
// Call Initialize before first use.
func NewStore(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{
		db:  db,
		clk: clock.System(),
	}
	for _, opt := range opts {
		opt(s)
	}

	log.Debug("Initialized PostgreSQL memory store adapter")
	return s
}

// Open connects to PostgreSQL with the given DSN and initializes the schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	s := NewStore(db, opts...)
	if err := s.Initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Initialize creates the required tables if they don't exist.
func (s *Store) Initialize(ctx context.Context) error {
	log.DebugContext(ctx, "Initializing PostgreSQL memory store tables")

	statements := []string{
		`CREATE TABLE IF NOT EXISTS episodic_memories (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			content TEXT NOT NULL,
			context JSONB,
			embedding BYTEA,
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS episodic_memories_user_id_idx
			ON episodic_memories (user_id, timestamp DESC)`,
		`CREATE TABLE IF NOT EXISTS semantic_memories (
			seq BIGSERIAL PRIMARY KEY,
			concept TEXT NOT NULL,
			knowledge JSONB,
			relationships JSONB,
			confidence DOUBLE PRECISION NOT NULL,
			last_updated TIMESTAMP WITH TIME ZONE NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS semantic_memories_concept_idx
			ON semantic_memories (concept, seq DESC)`,
		`CREATE TABLE IF NOT EXISTS procedural_memories (
			seq BIGSERIAL PRIMARY KEY,
			skill TEXT NOT NULL,
			steps JSONB,
			prerequisites JSONB,
			success_criteria JSONB,
			last_used TIMESTAMP WITH TIME ZONE NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS procedural_memories_skill_idx
			ON procedural_memories (skill, seq DESC)`,
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			preferences JSONB,
			learning_goals JSONB,
			learning_style TEXT,
			total_sessions INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			last_active TIMESTAMP WITH TIME ZONE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS performance_metrics (
			seq BIGSERIAL PRIMARY KEY,
			query TEXT NOT NULL,
			response_time DOUBLE PRECISION NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			memory_types JSONB,
			personalized BOOLEAN NOT NULL,
			success BOOLEAN NOT NULL,
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS performance_metrics_timestamp_idx
			ON performance_metrics (timestamp)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			log.ErrorContext(ctx, "Failed to initialize memory store schema", "error", err)
			return fmt.Errorf("failed to initialize memory store schema: %w", err)
		}
	}

	log.DebugContext(ctx, "Successfully initialized PostgreSQL memory store tables")
	return nil
}

// StoreEpisodic implements the memory.Store interface.
func (s *Store) StoreEpisodic(ctx context.Context, m memory.EpisodicMemory) (string, error) {
	if m.UserID == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "episodic memory requires a user id")
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.clk.Now()
	}

	contextJSON, err := json.Marshal(m.Context)
	if err != nil {
		return "", fmt.Errorf("failed to marshal context: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO episodic_memories (id, user_id, event_type, content, context, embedding, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.UserID, m.EventType, m.Content, contextJSON, encodeEmbedding(m.Embedding), m.Timestamp.UTC(),
	)
	if err != nil {
		return "", storageErr("failed to store episodic memory", err)
	}
	return m.ID, nil
}

// RetrieveEpisodic implements the memory.Store interface.
func (s *Store) RetrieveEpisodic(ctx context.Context, q memory.EpisodicQuery) ([]memory.EpisodicMemory, error) {
	if q.UserID == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "episodic query requires a user id")
	}

	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`
		SELECT id, user_id, event_type, content, context, embedding, timestamp
		FROM episodic_memories
		WHERE user_id = $1
	`)
	params := []interface{}{q.UserID}
	paramIndex := 2

	if q.EventType != "" {
		queryBuilder.WriteString(fmt.Sprintf(` AND event_type = $%d`, paramIndex))
		params = append(params, q.EventType)
		paramIndex++
	}
	if q.Text != "" {
		queryBuilder.WriteString(fmt.Sprintf(` AND content ILIKE $%d`, paramIndex))
		params = append(params, "%"+q.Text+"%")
		paramIndex++
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	queryBuilder.WriteString(fmt.Sprintf(` ORDER BY timestamp DESC, seq DESC LIMIT $%d`, paramIndex))
	params = append(params, limit)

	rows, err := s.db.QueryContext(ctx, queryBuilder.String(), params...)
	if err != nil {
		return nil, storageErr("failed to retrieve episodic memories", err)
	}
	defer rows.Close()

	var memories []memory.EpisodicMemory
	for rows.Next() {
		var (
			m           memory.EpisodicMemory
			contextJSON []byte
			embedding   []byte
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.EventType, &m.Content, &contextJSON, &embedding, &m.Timestamp); err != nil {
			return nil, storageErr("failed to scan episodic memory", err)
		}
		m.Context = decodeJSONMap(contextJSON)
		m.Embedding = decodeEmbedding(embedding)
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("error iterating episodic rows", err)
	}
	return memories, nil
}

// StoreSemantic implements the memory.Store interface.
func (s *Store) StoreSemantic(ctx context.Context, m memory.SemanticMemory) (string, error) {
	if m.Concept == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "semantic memory requires a concept")
	}

	m.Confidence = memory.ClampConfidence(m.Confidence)
	if m.LastUpdated.IsZero() {
		m.LastUpdated = s.clk.Now()
	}

	knowledgeJSON, err := json.Marshal(m.Knowledge)
	if err != nil {
		return "", fmt.Errorf("failed to marshal knowledge: %w", err)
	}
	relationshipsJSON, err := json.Marshal(m.Relationships)
	if err != nil {
		return "", fmt.Errorf("failed to marshal relationships: %w", err)
	}

	var seq int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO semantic_memories (concept, knowledge, relationships, confidence, last_updated)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING seq`,
		m.Concept, knowledgeJSON, relationshipsJSON, m.Confidence, m.LastUpdated.UTC(),
	).Scan(&seq)
	if err != nil {
		return "", storageErr("failed to store semantic memory", err)
	}
	return fmt.Sprintf("%d", seq), nil
}

// RetrieveSemantic implements the memory.Store interface. Only the
// newest row per concept is visible; older rows are history.
func (s *Store) RetrieveSemantic(ctx context.Context, q memory.SemanticQuery) ([]memory.SemanticMemory, error) {
	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`
		SELECT DISTINCT ON (concept) concept, knowledge, relationships, confidence, last_updated
		FROM semantic_memories
	`)
	var params []interface{}
	if q.Concept != "" {
		queryBuilder.WriteString(` WHERE concept = $1`)
		params = append(params, q.Concept)
	}
	queryBuilder.WriteString(fmt.Sprintf(` ORDER BY concept, seq DESC LIMIT $%d`, len(params)+1))
	params = append(params, scanCap)

	rows, err := s.db.QueryContext(ctx, queryBuilder.String(), params...)
	if err != nil {
		return nil, storageErr("failed to retrieve semantic memories", err)
	}
	defer rows.Close()

	var memories []memory.SemanticMemory
	for rows.Next() {
		var (
			m                 memory.SemanticMemory
			knowledgeJSON     []byte
			relationshipsJSON []byte
		)
		if err := rows.Scan(&m.Concept, &knowledgeJSON, &relationshipsJSON, &m.Confidence, &m.LastUpdated); err != nil {
			return nil, storageErr("failed to scan semantic memory", err)
		}
		m.Knowledge = decodeJSONMap(knowledgeJSON)
		m.Relationships = decodeJSONList(relationshipsJSON)

		if len(q.Relationships) > 0 && !memory.SharesAnyRelationship(m.Relationships, q.Relationships) {
			continue
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("error iterating semantic rows", err)
	}
	return memories, nil
}

// StoreProcedural implements the memory.Store interface.
func (s *Store) StoreProcedural(ctx context.Context, m memory.ProceduralMemory) (string, error) {
	if m.Skill == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "procedural memory requires a skill")
	}

	if m.LastUsed.IsZero() {
		m.LastUsed = s.clk.Now()
	}

	stepsJSON, err := json.Marshal(m.Steps)
	if err != nil {
		return "", fmt.Errorf("failed to marshal steps: %w", err)
	}
	prerequisitesJSON, err := json.Marshal(m.Prerequisites)
	if err != nil {
		return "", fmt.Errorf("failed to marshal prerequisites: %w", err)
	}
	criteriaJSON, err := json.Marshal(m.SuccessCriteria)
	if err != nil {
		return "", fmt.Errorf("failed to marshal success criteria: %w", err)
	}

	var seq int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO procedural_memories (skill, steps, prerequisites, success_criteria, last_used)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING seq`,
		m.Skill, stepsJSON, prerequisitesJSON, criteriaJSON, m.LastUsed.UTC(),
	).Scan(&seq)
	if err != nil {
		return "", storageErr("failed to store procedural memory", err)
	}
	return fmt.Sprintf("%d", seq), nil
}

// RetrieveProcedural implements the memory.Store interface.
func (s *Store) RetrieveProcedural(ctx context.Context, q memory.ProceduralQuery) ([]memory.ProceduralMemory, error) {
	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`
		SELECT DISTINCT ON (skill) skill, steps, prerequisites, success_criteria, last_used
		FROM procedural_memories
	`)
	var params []interface{}
	if q.Skill != "" {
		queryBuilder.WriteString(` WHERE skill = $1`)
		params = append(params, q.Skill)
	}
	queryBuilder.WriteString(fmt.Sprintf(` ORDER BY skill, seq DESC LIMIT $%d`, len(params)+1))
	params = append(params, scanCap)

	rows, err := s.db.QueryContext(ctx, queryBuilder.String(), params...)
	if err != nil {
		return nil, storageErr("failed to retrieve procedural memories", err)
	}
	defer rows.Close()

	var memories []memory.ProceduralMemory
	for rows.Next() {
		var (
			m                 memory.ProceduralMemory
			stepsJSON         []byte
			prerequisitesJSON []byte
			criteriaJSON      []byte
		)
		if err := rows.Scan(&m.Skill, &stepsJSON, &prerequisitesJSON, &criteriaJSON, &m.LastUsed); err != nil {
			return nil, storageErr("failed to scan procedural memory", err)
		}
		if len(stepsJSON) > 0 {
			if err := json.Unmarshal(stepsJSON, &m.Steps); err != nil {
				return nil, storageErr("failed to unmarshal steps", err)
			}
		}
		m.Prerequisites = decodeJSONList(prerequisitesJSON)
		m.SuccessCriteria = decodeJSONList(criteriaJSON)

		if len(q.Prerequisites) > 0 && !memory.HasAllPrerequisites(m.Prerequisites, q.Prerequisites) {
			continue
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("error iterating procedural rows", err)
	}
	return memories, nil
}

// GetStats implements the memory.Store interface.
func (s *Store) GetStats(ctx context.Context) (memory.Stats, error) {
	var stats memory.Stats

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT user_id), COUNT(*) FROM episodic_memories`)
	if err := row.Scan(&stats.Episodic.TotalUsers, &stats.Episodic.TotalMemories); err != nil {
		return stats, storageErr("failed to count episodic memories", err)
	}

	row = s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT concept) FROM semantic_memories`)
	if err := row.Scan(&stats.Semantic.TotalConcepts); err != nil {
		return stats, storageErr("failed to count semantic concepts", err)
	}

	row = s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT skill) FROM procedural_memories`)
	if err := row.Scan(&stats.Procedural.TotalSkills); err != nil {
		return stats, storageErr("failed to count procedural skills", err)
	}

	return stats, nil
}

// CleanupEpisodic implements the memory.Cleaner interface.
func (s *Store) CleanupEpisodic(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM episodic_memories WHERE timestamp < $1`, olderThan.UTC())
	if err != nil {
		return 0, storageErr("failed to clean up episodic memories", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("failed to read cleanup row count", err)
	}

	if removed > 0 {
		log.InfoContext(ctx, "Episodic retention sweep complete",
			"removed", removed,
			"cutoff", olderThan,
		)
	}
	return removed, nil
}

// Get implements the profile.Store interface.
func (s *Store) Get(ctx context.Context, userID string) (profile.UserProfile, error) {
	var (
		p               profile.UserProfile
		preferencesJSON []byte
		goalsJSON       []byte
		style           sql.NullString
	)

	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, preferences, learning_goals, learning_style, total_sessions, created_at, last_active
		 FROM user_profiles WHERE user_id = $1`, userID)
	err := row.Scan(&p.UserID, &preferencesJSON, &goalsJSON, &style, &p.TotalSessions, &p.CreatedAt, &p.LastActive)
	if stderrors.Is(err, sql.ErrNoRows) {
		return profile.UserProfile{}, errors.Wrap(errors.ErrNotFound, "profile %s", userID)
	}
	if err != nil {
		return profile.UserProfile{}, storageErr("failed to load user profile", err)
	}

	p.Preferences = decodeJSONMap(preferencesJSON)
	p.LearningGoals = decodeJSONList(goalsJSON)
	p.LearningStyle = style.String
	return p, nil
}

// Put implements the profile.Store interface.
func (s *Store) Put(ctx context.Context, p profile.UserProfile) error {
	if p.UserID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "profile requires a user id")
	}

	preferencesJSON, err := json.Marshal(p.Preferences)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}
	goalsJSON, err := json.Marshal(p.LearningGoals)
	if err != nil {
		return fmt.Errorf("failed to marshal learning goals: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_profiles
		 (user_id, preferences, learning_goals, learning_style, total_sessions, created_at, last_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id) DO UPDATE SET
			preferences = EXCLUDED.preferences,
			learning_goals = EXCLUDED.learning_goals,
			learning_style = EXCLUDED.learning_style,
			total_sessions = EXCLUDED.total_sessions,
			last_active = EXCLUDED.last_active`,
		p.UserID, preferencesJSON, goalsJSON, p.LearningStyle, p.TotalSessions,
		p.CreatedAt.UTC(), p.LastActive.UTC(),
	)
	if err != nil {
		return storageErr("failed to store user profile", err)
	}
	return nil
}

// StoreQueryMetric implements the memory.MetricsStore interface.
func (s *Store) StoreQueryMetric(ctx context.Context, m memory.QueryMetric) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = s.clk.Now()
	}

	typesJSON, err := json.Marshal(m.MemoryTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal memory types: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO performance_metrics (query, response_time, confidence, memory_types, personalized, success, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.Query, m.ResponseTime.Seconds(), m.Confidence, typesJSON,
		m.Personalized, m.Success, m.Timestamp.UTC(),
	)
	if err != nil {
		return storageErr("failed to store query metric", err)
	}
	return nil
}

// MetricsSummary implements the memory.MetricsStore interface.
func (s *Store) MetricsSummary(ctx context.Context, since time.Time) (memory.MetricsSummary, error) {
	var (
		summary memory.MetricsSummary
		avgTime sql.NullFloat64
		avgConf sql.NullFloat64
	)

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(response_time), AVG(confidence),
		        COUNT(*) FILTER (WHERE success), COUNT(*) FILTER (WHERE personalized)
		 FROM performance_metrics WHERE timestamp >= $1`, since.UTC())
	err := row.Scan(&summary.TotalQueries, &avgTime, &avgConf,
		&summary.SuccessfulQueries, &summary.PersonalizedQueries)
	if err != nil {
		return summary, storageErr("failed to summarize metrics", err)
	}

	if summary.TotalQueries > 0 {
		summary.AvgResponseTime = avgTime.Float64
		summary.AvgConfidence = avgConf.Float64
		summary.SuccessRate = float64(summary.SuccessfulQueries) / float64(summary.TotalQueries)
		summary.PersonalizationRate = float64(summary.PersonalizedQueries) / float64(summary.TotalQueries)
	}
	return summary, nil
}

// CleanupMetrics implements the memory.MetricsStore interface.
func (s *Store) CleanupMetrics(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM performance_metrics WHERE timestamp < $1`, olderThan.UTC())
	if err != nil {
		return 0, storageErr("failed to clean up metrics", err)
	}
	return result.RowsAffected()
}

// Helper functions

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, stderrors.Join(errors.ErrStorageUnavailable, err))
}

func decodeJSONMap(data []byte) map[string]interface{} {
	if len(data) == 0 || string(data) == "null" {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{})
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

func decodeJSONList(data []byte) []string {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(embedding))
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	embedding := make([]float32, len(buf)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return embedding
}
