package volatile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lexlapax/coachmem/pkg/clock"
	"github.com/lexlapax/coachmem/pkg/errors"
	"github.com/lexlapax/coachmem/pkg/log"
	"github.com/lexlapax/coachmem/pkg/memory"
)

// defaultLimit caps episodic retrieval when the query doesn't set one.
const defaultLimit = 10

// Store is the in-process implementation of the memory.Store interface.
// It carries the canonical semantics: semantic and procedural writes
// upsert by key (last write wins), episodic writes append per user.
type Store struct {
	clk clock.Clock

	// episodic maps user id to that user's append-only memory list.
	// episodicSeq only ever grows, so ids stay unique after cleanup
	// shrinks a list.
	episodicMu  sync.RWMutex
	episodic    map[string][]memory.EpisodicMemory
	episodicSeq uint64

	// semantic maps concept to its single current record
	semanticMu sync.RWMutex
	semantic   map[string]memory.SemanticMemory

	// procedural maps skill to its single current record
	proceduralMu sync.RWMutex
	procedural   map[string]memory.ProceduralMemory

	metricsMu sync.RWMutex
	metrics   []memory.QueryMetric
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects a clock, primarily for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clk = c
	}
}

// NewStore creates an empty volatile memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		clk:        clock.System(),
		episodic:   make(map[string][]memory.EpisodicMemory),
		semantic:   make(map[string]memory.SemanticMemory),
		procedural: make(map[string]memory.ProceduralMemory),
	}
	for _, opt := range opts {
		opt(s)
	}

	log.Debug("Initialized volatile memory store")
	return s
}

// StoreEpisodic implements the memory.Store interface.
func (s *Store) StoreEpisodic(ctx context.Context, m memory.EpisodicMemory) (string, error) {
	if m.UserID == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "episodic memory requires a user id")
	}

	if m.Timestamp.IsZero() {
		m.Timestamp = s.clk.Now()
	}

	s.episodicMu.Lock()
	defer s.episodicMu.Unlock()

	s.episodicSeq++
	id := fmt.Sprintf("episodic_%s_%d", m.UserID, s.episodicSeq)
	m.ID = id
	s.episodic[m.UserID] = append(s.episodic[m.UserID], m)

	log.DebugContext(ctx, "Stored episodic memory",
		"user_id", m.UserID,
		"event_type", m.EventType,
		"memory_id", id,
	)
	return id, nil
}

// RetrieveEpisodic implements the memory.Store interface. Results are
// ordered newest first and truncated to the query limit after filtering.
func (s *Store) RetrieveEpisodic(ctx context.Context, q memory.EpisodicQuery) ([]memory.EpisodicMemory, error) {
	if q.UserID == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "episodic query requires a user id")
	}

	s.episodicMu.RLock()
	owned := s.episodic[q.UserID]
	matched := make([]memory.EpisodicMemory, 0, len(owned))
	for _, m := range owned {
		if q.EventType != "" && m.EventType != q.EventType {
			continue
		}
		if q.Text != "" && !strings.Contains(strings.ToLower(m.Content), strings.ToLower(q.Text)) {
			continue
		}
		matched = append(matched, m)
	}
	s.episodicMu.RUnlock()

	// Newest first; insertion order breaks timestamp ties so two
	// same-instant appends stay deterministic.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// StoreSemantic implements the memory.Store interface. Writes upsert by
// concept: prior knowledge for the same concept is replaced.
func (s *Store) StoreSemantic(ctx context.Context, m memory.SemanticMemory) (string, error) {
	if m.Concept == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "semantic memory requires a concept")
	}

	m.Confidence = memory.ClampConfidence(m.Confidence)
	if m.LastUpdated.IsZero() {
		m.LastUpdated = s.clk.Now()
	}

	s.semanticMu.Lock()
	s.semantic[m.Concept] = m
	s.semanticMu.Unlock()

	return fmt.Sprintf("semantic_%s", m.Concept), nil
}

// RetrieveSemantic implements the memory.Store interface.
func (s *Store) RetrieveSemantic(ctx context.Context, q memory.SemanticQuery) ([]memory.SemanticMemory, error) {
	s.semanticMu.RLock()
	defer s.semanticMu.RUnlock()

	if q.Concept != "" {
		if m, ok := s.semantic[q.Concept]; ok {
			return []memory.SemanticMemory{m}, nil
		}
		return nil, nil
	}

	if len(q.Relationships) > 0 {
		var related []memory.SemanticMemory
		for _, m := range s.semantic {
			if memory.SharesAnyRelationship(m.Relationships, q.Relationships) {
				related = append(related, m)
			}
		}
		sortSemantic(related)
		return related, nil
	}

	all := make([]memory.SemanticMemory, 0, len(s.semantic))
	for _, m := range s.semantic {
		all = append(all, m)
	}
	sortSemantic(all)
	return all, nil
}

// StoreProcedural implements the memory.Store interface. Writes upsert
// by skill.
func (s *Store) StoreProcedural(ctx context.Context, m memory.ProceduralMemory) (string, error) {
	if m.Skill == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "procedural memory requires a skill")
	}

	if m.LastUsed.IsZero() {
		m.LastUsed = s.clk.Now()
	}

	s.proceduralMu.Lock()
	s.procedural[m.Skill] = m
	s.proceduralMu.Unlock()

	return fmt.Sprintf("procedural_%s", m.Skill), nil
}

// RetrieveProcedural implements the memory.Store interface. Prerequisite
// queries use AND semantics.
func (s *Store) RetrieveProcedural(ctx context.Context, q memory.ProceduralQuery) ([]memory.ProceduralMemory, error) {
	s.proceduralMu.RLock()
	defer s.proceduralMu.RUnlock()

	if q.Skill != "" {
		if m, ok := s.procedural[q.Skill]; ok {
			return []memory.ProceduralMemory{m}, nil
		}
		return nil, nil
	}

	if len(q.Prerequisites) > 0 {
		var matching []memory.ProceduralMemory
		for _, m := range s.procedural {
			if memory.HasAllPrerequisites(m.Prerequisites, q.Prerequisites) {
				matching = append(matching, m)
			}
		}
		sortProcedural(matching)
		return matching, nil
	}

	all := make([]memory.ProceduralMemory, 0, len(s.procedural))
	for _, m := range s.procedural {
		all = append(all, m)
	}
	sortProcedural(all)
	return all, nil
}

// GetStats implements the memory.Store interface.
func (s *Store) GetStats(ctx context.Context) (memory.Stats, error) {
	var stats memory.Stats

	s.episodicMu.RLock()
	stats.Episodic.TotalUsers = len(s.episodic)
	for _, list := range s.episodic {
		stats.Episodic.TotalMemories += len(list)
	}
	s.episodicMu.RUnlock()

	s.semanticMu.RLock()
	stats.Semantic.TotalConcepts = len(s.semantic)
	s.semanticMu.RUnlock()

	s.proceduralMu.RLock()
	stats.Procedural.TotalSkills = len(s.procedural)
	s.proceduralMu.RUnlock()

	return stats, nil
}

// CleanupEpisodic implements the memory.Cleaner interface.
func (s *Store) CleanupEpisodic(ctx context.Context, olderThan time.Time) (int64, error) {
	s.episodicMu.Lock()
	defer s.episodicMu.Unlock()

	var removed int64
	for userID, list := range s.episodic {
		kept := list[:0]
		for _, m := range list {
			if m.Timestamp.Before(olderThan) {
				removed++
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) == 0 {
			delete(s.episodic, userID)
		} else {
			s.episodic[userID] = kept
		}
	}

	if removed > 0 {
		log.InfoContext(ctx, "Episodic retention sweep complete",
			"removed", removed,
			"cutoff", olderThan,
		)
	}
	return removed, nil
}

// StoreQueryMetric implements the memory.MetricsStore interface.
func (s *Store) StoreQueryMetric(ctx context.Context, m memory.QueryMetric) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = s.clk.Now()
	}

	s.metricsMu.Lock()
	s.metrics = append(s.metrics, m)
	s.metricsMu.Unlock()
	return nil
}

// MetricsSummary implements the memory.MetricsStore interface.
func (s *Store) MetricsSummary(ctx context.Context, since time.Time) (memory.MetricsSummary, error) {
	s.metricsMu.RLock()
	defer s.metricsMu.RUnlock()

	var window []memory.QueryMetric
	for _, m := range s.metrics {
		if !m.Timestamp.Before(since) {
			window = append(window, m)
		}
	}
	return memory.Summarize(window), nil
}

// CleanupMetrics implements the memory.MetricsStore interface.
func (s *Store) CleanupMetrics(ctx context.Context, olderThan time.Time) (int64, error) {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()

	kept := s.metrics[:0]
	var removed int64
	for _, m := range s.metrics {
		if m.Timestamp.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	s.metrics = kept
	return removed, nil
}

// sortSemantic orders concept scans by confidence, then name, so
// unfiltered and relationship retrievals are deterministic.
func sortSemantic(memories []memory.SemanticMemory) {
	sort.SliceStable(memories, func(i, j int) bool {
		if memories[i].Confidence != memories[j].Confidence {
			return memories[i].Confidence > memories[j].Confidence
		}
		return memories[i].Concept < memories[j].Concept
	})
}

// sortProcedural orders skill scans by recency, then name.
func sortProcedural(memories []memory.ProceduralMemory) {
	sort.SliceStable(memories, func(i, j int) bool {
		if !memories[i].LastUsed.Equal(memories[j].LastUsed) {
			return memories[i].LastUsed.After(memories[j].LastUsed)
		}
		return memories[i].Skill < memories[j].Skill
	})
}
