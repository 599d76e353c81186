// Package chromem implements vectorstore.Store over philippgille/chromem-go,
// an embedded pure-Go vector database. Grounded on the teacher's
// pkg/vector.ChromemProvider; this is the default backend since it needs no
// external service (§4.6: "the default deployment has no external
// dependencies beyond the configured SQL database").
package chromem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	gochromem "github.com/philippgille/chromem-go"

	"github.com/uxmcp/uxmcp/pkg/vectorstore"
)

type Config struct {
	// PersistPath, if non-empty, enables file persistence under this
	// directory (gzip-compressed when Compress is set). Empty means
	// in-memory only.
	PersistPath string
	Compress    bool
}

type Store struct {
	db          *gochromem.DB
	persistPath string
	compress    bool

	mu          sync.RWMutex
	collections map[string]*gochromem.Collection
}

func New(cfg Config) (*Store, error) {
	var db *gochromem.DB

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("create persist directory: %w", err)
		}
		dbPath := filepath.Join(cfg.PersistPath, "vectors.gob")
		if cfg.Compress {
			dbPath += ".gz"
		}
		if _, err := os.Stat(dbPath); err == nil {
			db = gochromem.NewDB()
			//nolint:staticcheck // Import pairs with the Export call in persist.
			if loadErr := db.Import(dbPath, ""); loadErr != nil {
				db = gochromem.NewDB()
			}
		} else {
			db = gochromem.NewDB()
		}
	} else {
		db = gochromem.NewDB()
	}

	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("chromem: embedding function invoked but vectors must be precomputed")
	}
	_ = identityEmbed

	return &Store{
		db:          db,
		persistPath: cfg.PersistPath,
		compress:    cfg.Compress,
		collections: make(map[string]*gochromem.Collection),
	}, nil
}

func (s *Store) getCollection(collection string) (*gochromem.Collection, error) {
	s.mu.RLock()
	if col, ok := s.collections[collection]; ok {
		s.mu.RUnlock()
		return col, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[collection]; ok {
		return col, nil
	}
	embed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("chromem: embedding function invoked but vectors must be precomputed")
	}
	col, err := s.db.GetOrCreateCollection(collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("get/create collection %q: %w", collection, err)
	}
	s.collections[collection] = col
	return col, nil
}

func (s *Store) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	col, err := s.getCollection(collection)
	if err != nil {
		return err
	}
	strMeta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		strMeta[k] = fmt.Sprint(v)
	}
	content, _ := metadata["content"].(string)
	doc := gochromem.Document{ID: id, Content: content, Metadata: strMeta, Embedding: vector}
	if err := col.AddDocuments(ctx, []gochromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return s.persist()
}

func (s *Store) Query(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]vectorstore.Match, error) {
	col, err := s.getCollection(collection)
	if err != nil {
		return nil, err
	}
	var where map[string]string
	if len(filter) > 0 {
		where = make(map[string]string, len(filter))
		for k, v := range filter {
			where[k] = fmt.Sprint(v)
		}
	}
	if topK > col.Count() {
		topK = col.Count()
	}
	if topK == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	out := make([]vectorstore.Match, 0, len(results))
	for _, r := range results {
		meta := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		out = append(out, vectorstore.Match{ID: r.ID, Score: r.Similarity, Content: r.Content, Metadata: meta})
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	col, err := s.getCollection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return s.persist()
}

func (s *Store) DeleteCollection(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	delete(s.collections, collection)
	return s.persist()
}

func (s *Store) Name() string { return "chromem" }

func (s *Store) persist() error {
	if s.persistPath == "" {
		return nil
	}
	dbPath := filepath.Join(s.persistPath, "vectors.gob")
	if s.compress {
		dbPath += ".gz"
	}
	//nolint:staticcheck // Export is the stable persistence API chromem-go ships.
	if err := s.db.Export(dbPath, s.compress, ""); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

var _ vectorstore.Store = (*Store)(nil)
