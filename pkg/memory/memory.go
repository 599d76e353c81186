// Package memory implements the hybrid vector+document Memory Subsystem
// (§4.6): store/search/list/delete/stats over a per-agent serialised write
// path, grounded on the teacher's pkg/memory/vector_memory.go tracing
// pattern and generalised from its session-scoped design to UXMCP's
// agent-scoped one.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/uxmcp/uxmcp/pkg/uxerr"
	"github.com/uxmcp/uxmcp/pkg/vectorstore"
)

// Default importance values (§4.6).
const (
	ImportanceConversation   = 0.5
	ImportanceExplicitStore  = 0.7
	ImportanceStoredKnowledge = 0.9
)

// ContentType classifies a memory record for filtering. The six values
// match the Memory Record data model exactly: a turn's user input and the
// agent's reply are tagged distinctly (user_message/agent_response) so
// search/eviction ordering can weight them separately from an
// explicitly-stored preference, fact, or summary.
type ContentType string

const (
	ContentUserMessage     ContentType = "user_message"
	ContentAgentResponse   ContentType = "agent_response"
	ContentPreference      ContentType = "preference"
	ContentStoredKnowledge ContentType = "stored_knowledge"
	ContentConversation    ContentType = "conversation"
	ContentSummary         ContentType = "summary"
)

// Record is one memory entry, the unit stored/retrieved by the subsystem.
type Record struct {
	ID          string
	AgentID     string
	Content     string
	ContentType ContentType
	Importance  float64
	CreatedAt   time.Time
	Metadata    map[string]any
}

// Scored pairs a Record with its similarity score from a search.
type Scored struct {
	Record Record
	Score  float32
}

// Filters narrows List/Search beyond the raw query.
type Filters struct {
	MinImportance float64
	ContentTypes  []ContentType
	Since         time.Time
	Until         time.Time
}

// Stats summarises an agent's memory footprint.
type Stats struct {
	Count           int
	OldestCreatedAt time.Time
	NewestCreatedAt time.Time
	AverageImportance float64
}

// Embedder turns text into a vector for semantic search. The Executor's
// configured completion provider does not itself embed; a dedicated
// embedding model is plugged in here (§4.6 "query is embedded by the
// configured model").
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DocStore is the subset of the Document Store the Memory Subsystem needs:
// durable bookkeeping alongside the vector index so list/stats/delete don't
// require a full vector scan.
type DocStore interface {
	SaveMemory(ctx context.Context, r Record) error
	DeleteMemory(ctx context.Context, agentID, id string) error
	ListMemories(ctx context.Context, agentID string, limit int) ([]Record, error)
	CountMemories(ctx context.Context, agentID string) (int, error)
}

const collection = "uxmcp_memory"

// Subsystem is the Memory Subsystem's entry point: one instance is shared
// across all agents, serialising writes per agent via a key-striped lock
// (§4.6 "kept consistent by serialising writes under a per-agent lock").
type Subsystem struct {
	vectors vectorstore.Store
	docs    DocStore
	embed   Embedder
	tracer  trace.Tracer

	maxMemories int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Config struct {
	MaxMemories int // retention cap per agent; 0 disables eviction
}

func New(vectors vectorstore.Store, docs DocStore, embed Embedder, tracer trace.Tracer, cfg Config) *Subsystem {
	return &Subsystem{
		vectors:     vectors,
		docs:        docs,
		embed:       embed,
		tracer:      tracer,
		maxMemories: cfg.MaxMemories,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (s *Subsystem) lockFor(agentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[agentID] = l
	}
	return l
}

// Store embeds content and writes both the vector index and the durable
// document record under the agent's lock, evicting the lowest-importance
// (then oldest) record synchronously if max_memories is exceeded.
func (s *Subsystem) Store(ctx context.Context, agentID, content string, contentType ContentType, importance float64, metadata map[string]any) (Record, error) {
	lock := s.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	ctx, span := s.tracer.Start(ctx, "memory.store",
		trace.WithAttributes(attribute.String("agent_id", agentID), attribute.String("content_type", string(contentType))))
	defer span.End()

	if content == "" {
		err := uxerr.New(uxerr.ValidationFailed, "memory content must not be empty")
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty content")
		return Record{}, err
	}

	vector, err := s.embed.Embed(ctx, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return Record{}, uxerr.Wrap(uxerr.EmbeddingFailed, err)
	}

	rec := Record{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		Content:     content,
		ContentType: contentType,
		Importance:  importance,
		CreatedAt:   time.Now().UTC(),
		Metadata:    metadata,
	}

	meta := map[string]any{
		"agent_id":     agentID,
		"content":      content,
		"content_type": string(contentType),
		"importance":   importance,
		"created_at":   rec.CreatedAt.Format(time.RFC3339Nano),
	}
	if err := s.vectors.Upsert(ctx, collection, rec.ID, vector, meta); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vector upsert failed")
		return Record{}, uxerr.Wrap(uxerr.StoreUnavailable, err)
	}
	if err := s.docs.SaveMemory(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "document save failed")
		return Record{}, uxerr.Wrap(uxerr.StoreUnavailable, err)
	}

	if s.maxMemories > 0 {
		if err := s.evictOverflow(ctx, agentID); err != nil {
			span.RecordError(err)
		}
	}

	span.SetStatus(codes.Ok, "stored")
	return rec, nil
}

func (s *Subsystem) evictOverflow(ctx context.Context, agentID string) error {
	all, err := s.docs.ListMemories(ctx, agentID, 0)
	if err != nil {
		return err
	}
	if len(all) <= s.maxMemories {
		return nil
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Importance != all[j].Importance {
			return all[i].Importance < all[j].Importance
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	overflow := all[:len(all)-s.maxMemories]
	for _, rec := range overflow {
		if err := s.vectors.Delete(ctx, collection, rec.ID); err != nil {
			return err
		}
		if err := s.docs.DeleteMemory(ctx, agentID, rec.ID); err != nil {
			return err
		}
	}
	return nil
}

// Search performs semantic recall: embed query, cosine-similarity search
// scoped to the agent, filter by importance/content-type/date, then break
// ties by importance descending, then recency descending (§4.6).
func (s *Subsystem) Search(ctx context.Context, agentID, query string, k int, filters Filters) ([]Scored, error) {
	ctx, span := s.tracer.Start(ctx, "memory.search",
		trace.WithAttributes(attribute.String("agent_id", agentID), attribute.Int("k", k)))
	defer span.End()

	if query == "" {
		span.SetStatus(codes.Ok, "empty query")
		return nil, nil
	}

	vector, err := s.embed.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, uxerr.Wrap(uxerr.EmbeddingFailed, err)
	}

	// Over-fetch so post-filtering (importance/content-type/date, which the
	// vector backend's equality filter can't express) still leaves k results.
	fetch := k * 4
	if fetch < k+20 {
		fetch = k + 20
	}
	matches, err := s.vectors.Query(ctx, collection, vector, fetch, map[string]any{"agent_id": agentID})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vector query failed")
		return nil, uxerr.Wrap(uxerr.StoreUnavailable, err)
	}

	out := make([]Scored, 0, len(matches))
	for _, m := range matches {
		rec, ok := recordFromMetadata(agentID, m.ID, m.Metadata)
		if !ok {
			continue
		}
		if rec.Importance < filters.MinImportance {
			continue
		}
		if len(filters.ContentTypes) > 0 && !containsType(filters.ContentTypes, rec.ContentType) {
			continue
		}
		if !filters.Since.IsZero() && rec.CreatedAt.Before(filters.Since) {
			continue
		}
		if !filters.Until.IsZero() && rec.CreatedAt.After(filters.Until) {
			continue
		}
		out = append(out, Scored{Record: rec, Score: m.Score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Record.Importance != out[j].Record.Importance {
			return out[i].Record.Importance > out[j].Record.Importance
		}
		return out[i].Record.CreatedAt.After(out[j].Record.CreatedAt)
	})
	if len(out) > k {
		out = out[:k]
	}

	span.SetAttributes(attribute.Int("results_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// List returns records for an agent from the durable store, newest first.
func (s *Subsystem) List(ctx context.Context, agentID string, filters Filters, limit int) ([]Record, error) {
	all, err := s.docs.ListMemories(ctx, agentID, 0)
	if err != nil {
		return nil, uxerr.Wrap(uxerr.StoreUnavailable, err)
	}
	out := make([]Record, 0, len(all))
	for _, rec := range all {
		if rec.Importance < filters.MinImportance {
			continue
		}
		if len(filters.ContentTypes) > 0 && !containsType(filters.ContentTypes, rec.ContentType) {
			continue
		}
		if !filters.Since.IsZero() && rec.CreatedAt.Before(filters.Since) {
			continue
		}
		if !filters.Until.IsZero() && rec.CreatedAt.After(filters.Until) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes one record (id set) or every record for the agent (id
// empty), serialised under the agent's lock.
func (s *Subsystem) Delete(ctx context.Context, agentID, id string) error {
	lock := s.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	if id != "" {
		if err := s.vectors.Delete(ctx, collection, id); err != nil {
			return uxerr.Wrap(uxerr.StoreUnavailable, err)
		}
		return uxerr.Wrap(uxerr.StoreUnavailable, s.docs.DeleteMemory(ctx, agentID, id))
	}

	all, err := s.docs.ListMemories(ctx, agentID, 0)
	if err != nil {
		return uxerr.Wrap(uxerr.StoreUnavailable, err)
	}
	for _, rec := range all {
		if err := s.vectors.Delete(ctx, collection, rec.ID); err != nil {
			return uxerr.Wrap(uxerr.StoreUnavailable, err)
		}
		if err := s.docs.DeleteMemory(ctx, agentID, rec.ID); err != nil {
			return uxerr.Wrap(uxerr.StoreUnavailable, err)
		}
	}
	return nil
}

// Stats summarises an agent's memory footprint for the introspection tool.
func (s *Subsystem) Stats(ctx context.Context, agentID string) (Stats, error) {
	all, err := s.docs.ListMemories(ctx, agentID, 0)
	if err != nil {
		return Stats{}, uxerr.Wrap(uxerr.StoreUnavailable, err)
	}
	if len(all) == 0 {
		return Stats{}, nil
	}
	stats := Stats{Count: len(all), OldestCreatedAt: all[0].CreatedAt, NewestCreatedAt: all[0].CreatedAt}
	var sum float64
	for _, rec := range all {
		sum += rec.Importance
		if rec.CreatedAt.Before(stats.OldestCreatedAt) {
			stats.OldestCreatedAt = rec.CreatedAt
		}
		if rec.CreatedAt.After(stats.NewestCreatedAt) {
			stats.NewestCreatedAt = rec.CreatedAt
		}
	}
	stats.AverageImportance = sum / float64(len(all))
	return stats, nil
}

func recordFromMetadata(agentID, id string, metadata map[string]any) (Record, bool) {
	content, _ := metadata["content"].(string)
	contentType, _ := metadata["content_type"].(string)
	var importance float64
	switch v := metadata["importance"].(type) {
	case float64:
		importance = v
	case string:
		fmt.Sscanf(v, "%f", &importance)
	}
	createdAt := time.Now().UTC()
	if createdStr, ok := metadata["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, createdStr); err == nil {
			createdAt = t
		}
	}
	return Record{
		ID:          id,
		AgentID:     agentID,
		Content:     content,
		ContentType: ContentType(contentType),
		Importance:  importance,
		CreatedAt:   createdAt,
	}, true
}

func containsType(types []ContentType, t ContentType) bool {
	for _, ct := range types {
		if ct == t {
			return true
		}
	}
	return false
}
