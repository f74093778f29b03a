package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lexlapax/coachmem/pkg/clock"
	"github.com/lexlapax/coachmem/pkg/errors"
	"github.com/lexlapax/coachmem/pkg/log"
	"github.com/lexlapax/coachmem/pkg/memory"
	"github.com/lexlapax/coachmem/pkg/profile"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// scanCap bounds unfiltered semantic/procedural table scans. Far above
// any realistic concept or skill count; it only guards against
// accidental unbounded reads.
const scanCap = 500

// Store is the SQLite-backed durable implementation of memory.Store.
// Semantic and procedural writes append one row per call; retrieval
// resolves each concept/skill to its newest row, so readers observe the
// same latest-wins semantics as the volatile store. Store also persists
// user profiles and per-query performance metrics.
type Store struct {
	db  *sql.DB
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

// Open opens (creating if necessary) the SQLite database at path and
// runs the embedded schema migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for SQLite DB: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	store, err := NewStore(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Info("Opened SQLite memory store", "path", path)
	return store, nil
}

// NewStore wraps an existing database handle and runs migrations on it.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to migrate SQLite schema: %w", err)
	}

	s := &Store{
		db:  db,
		clk: clock.System(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// StoreEpisodic implements the memory.Store interface.
func (s *Store) StoreEpisodic(ctx context.Context, m memory.EpisodicMemory) (string, error) {
	if m.UserID == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "episodic memory requires a user id")
	}

	if m.Timestamp.IsZero() {
		m.Timestamp = s.clk.Now()
	}

	contextJSON, err := json.Marshal(m.Context)
	if err != nil {
		return "", fmt.Errorf("failed to marshal context: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO episodic_memories (user_id, event_type, content, context, embedding, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.UserID, m.EventType, m.Content, contextJSON, encodeEmbedding(m.Embedding), formatTime(m.Timestamp),
	)
	if err != nil {
		return "", storageErr("failed to store episodic memory", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return "", storageErr("failed to read episodic memory id", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// RetrieveEpisodic implements the memory.Store interface.
func (s *Store) RetrieveEpisodic(ctx context.Context, q memory.EpisodicQuery) ([]memory.EpisodicMemory, error) {
	if q.UserID == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "episodic query requires a user id")
	}

	// Build the query dynamically based on the provided filters
	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`
		SELECT id, user_id, event_type, content, context, embedding, timestamp
		FROM episodic_memories
		WHERE user_id = ?
	`)
	params := []interface{}{q.UserID}

	if q.EventType != "" {
		queryBuilder.WriteString(` AND event_type = ?`)
		params = append(params, q.EventType)
	}
	if q.Text != "" {
		// LIKE is case-insensitive for ASCII in SQLite, matching the
		// substring-search contract of the volatile store.
		queryBuilder.WriteString(` AND content LIKE ?`)
		params = append(params, "%"+q.Text+"%")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	queryBuilder.WriteString(` ORDER BY timestamp DESC, id DESC LIMIT ?`)
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
			id          int64
			contextJSON sql.NullString
			embedding   []byte
			ts          string
		)
		if err := rows.Scan(&id, &m.UserID, &m.EventType, &m.Content, &contextJSON, &embedding, &ts); err != nil {
			return nil, storageErr("failed to scan episodic memory", err)
		}
		m.ID = strconv.FormatInt(id, 10)
		m.Context = decodeJSONMap(contextJSON)
		m.Embedding = decodeEmbedding(embedding)
		m.Timestamp = parseTime(ts)
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("error iterating episodic rows", err)
	}
	return memories, nil
}

// StoreSemantic implements the memory.Store interface. Each call appends
// a new row; readers resolve the newest row per concept.
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

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO semantic_memories (concept, knowledge, relationships, confidence, last_updated)
		 VALUES (?, ?, ?, ?, ?)`,
		m.Concept, knowledgeJSON, relationshipsJSON, m.Confidence, formatTime(m.LastUpdated),
	)
	if err != nil {
		return "", storageErr("failed to store semantic memory", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return "", storageErr("failed to read semantic memory id", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// RetrieveSemantic implements the memory.Store interface.
func (s *Store) RetrieveSemantic(ctx context.Context, q memory.SemanticQuery) ([]memory.SemanticMemory, error) {
	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`
		SELECT concept, knowledge, relationships, confidence, last_updated
		FROM semantic_memories
	`)
	var params []interface{}
	if q.Concept != "" {
		queryBuilder.WriteString(` WHERE concept = ?`)
		params = append(params, q.Concept)
	}
	queryBuilder.WriteString(` ORDER BY id DESC LIMIT ?`)
	params = append(params, scanCap)

	rows, err := s.db.QueryContext(ctx, queryBuilder.String(), params...)
	if err != nil {
		return nil, storageErr("failed to retrieve semantic memories", err)
	}
	defer rows.Close()

	// Newest row per concept wins; older rows for the same concept are
	// history and skipped.
	seen := make(map[string]bool)
	var memories []memory.SemanticMemory
	for rows.Next() {
		var (
			m                 memory.SemanticMemory
			knowledgeJSON     sql.NullString
			relationshipsJSON sql.NullString
			ts                string
		)
		if err := rows.Scan(&m.Concept, &knowledgeJSON, &relationshipsJSON, &m.Confidence, &ts); err != nil {
			return nil, storageErr("failed to scan semantic memory", err)
		}
		if seen[m.Concept] {
			continue
		}
		seen[m.Concept] = true

		m.Knowledge = decodeJSONMap(knowledgeJSON)
		m.Relationships = decodeJSONList(relationshipsJSON)
		m.LastUpdated = parseTime(ts)

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

// StoreProcedural implements the memory.Store interface. Append-only with
// latest-wins resolution, like StoreSemantic.
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

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO procedural_memories (skill, steps, prerequisites, success_criteria, last_used)
		 VALUES (?, ?, ?, ?, ?)`,
		m.Skill, stepsJSON, prerequisitesJSON, criteriaJSON, formatTime(m.LastUsed),
	)
	if err != nil {
		return "", storageErr("failed to store procedural memory", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return "", storageErr("failed to read procedural memory id", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// RetrieveProcedural implements the memory.Store interface.
func (s *Store) RetrieveProcedural(ctx context.Context, q memory.ProceduralQuery) ([]memory.ProceduralMemory, error) {
	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`
		SELECT skill, steps, prerequisites, success_criteria, last_used
		FROM procedural_memories
	`)
	var params []interface{}
	if q.Skill != "" {
		queryBuilder.WriteString(` WHERE skill = ?`)
		params = append(params, q.Skill)
	}
	queryBuilder.WriteString(` ORDER BY id DESC LIMIT ?`)
	params = append(params, scanCap)

	rows, err := s.db.QueryContext(ctx, queryBuilder.String(), params...)
	if err != nil {
		return nil, storageErr("failed to retrieve procedural memories", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var memories []memory.ProceduralMemory
	for rows.Next() {
		var (
			m                 memory.ProceduralMemory
			stepsJSON         sql.NullString
			prerequisitesJSON sql.NullString
			criteriaJSON      sql.NullString
			ts                string
		)
		if err := rows.Scan(&m.Skill, &stepsJSON, &prerequisitesJSON, &criteriaJSON, &ts); err != nil {
			return nil, storageErr("failed to scan procedural memory", err)
		}
		if seen[m.Skill] {
			continue
		}
		seen[m.Skill] = true

		if stepsJSON.Valid {
			if err := json.Unmarshal([]byte(stepsJSON.String), &m.Steps); err != nil {
				return nil, storageErr("failed to unmarshal steps", err)
			}
		}
		m.Prerequisites = decodeJSONList(prerequisitesJSON)
		m.SuccessCriteria = decodeJSONList(criteriaJSON)
		m.LastUsed = parseTime(ts)

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

// GetStats implements the memory.Store interface. Semantic and
// procedural counts are distinct keys, not raw rows, so the numbers
// agree with the volatile store for equivalent contents.
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
		`DELETE FROM episodic_memories WHERE timestamp < ?`, formatTime(olderThan))
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
		preferencesJSON sql.NullString
		goalsJSON       sql.NullString
		style           sql.NullString
		createdAt       string
		lastActive      string
	)

	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, preferences, learning_goals, learning_style, total_sessions, created_at, last_active
		 FROM user_profiles WHERE user_id = ?`, userID)
	err := row.Scan(&p.UserID, &preferencesJSON, &goalsJSON, &style, &p.TotalSessions, &createdAt, &lastActive)
	if stderrors.Is(err, sql.ErrNoRows) {
		return profile.UserProfile{}, errors.Wrap(errors.ErrNotFound, "profile %s", userID)
	}
	if err != nil {
		return profile.UserProfile{}, storageErr("failed to load user profile", err)
	}

	p.Preferences = decodeJSONMap(preferencesJSON)
	p.LearningGoals = decodeJSONList(goalsJSON)
	p.LearningStyle = style.String
	p.CreatedAt = parseTime(createdAt)
	p.LastActive = parseTime(lastActive)
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
		`INSERT OR REPLACE INTO user_profiles
		 (user_id, preferences, learning_goals, learning_style, total_sessions, created_at, last_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, preferencesJSON, goalsJSON, p.LearningStyle, p.TotalSessions,
		formatTime(p.CreatedAt), formatTime(p.LastActive),
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
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.Query, m.ResponseTime.Seconds(), m.Confidence, typesJSON,
		boolToInt(m.Personalized), boolToInt(m.Success), formatTime(m.Timestamp),
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
		        COALESCE(SUM(success), 0), COALESCE(SUM(personalized), 0)
		 FROM performance_metrics WHERE timestamp >= ?`, formatTime(since))
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
		`DELETE FROM performance_metrics WHERE timestamp < ?`, formatTime(olderThan))
	if err != nil {
		return 0, storageErr("failed to clean up metrics", err)
	}
	return result.RowsAffected()
}

// Helper functions

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, stderrors.Join(errors.ErrStorageUnavailable, err))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timeLayout is RFC3339 with a fixed-width nanosecond fraction. The
// width matters: RFC3339Nano trims trailing zeros, which puts
// '...00Z' after '...00.5Z' in lexical order. With every timestamp
// rendered at the same width in UTC, lexical ORDER BY and range
// comparisons agree with chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime accepts both the fixed-width layout and plain RFC3339Nano,
// so rows written before the fixed-width layout still read back.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func decodeJSONMap(v sql.NullString) map[string]interface{} {
	if !v.Valid || v.String == "" || v.String == "null" {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{})
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

func decodeJSONList(v sql.NullString) []string {
	if !v.Valid || v.String == "" || v.String == "null" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil
	}
	return out
}

// encodeEmbedding packs a vector as little-endian float32 bytes, the
// layout the original persisted store used for its embedding blobs.
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
