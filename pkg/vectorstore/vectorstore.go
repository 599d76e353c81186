// Package vectorstore abstracts embedded and external vector databases
// behind one interface, generalised from the teacher's pkg/vector.Provider
// so the Memory Subsystem (§4.6) can swap chromem-go for Qdrant or Pinecone
// via configuration alone.
package vectorstore

import "context"

// Match is one similarity-search hit.
type Match struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]any
}

// Store is implemented once per vector backend (chromem, qdrant, pinecone).
// Collections are created implicitly by Upsert where the backend allows it.
type Store interface {
	// Upsert adds or replaces a vector under id within collection.
	Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error

	// Query returns the topK nearest vectors to vector, optionally narrowed
	// by an equality filter over metadata fields.
	Query(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Match, error)

	// Delete removes a vector by id.
	Delete(ctx context.Context, collection, id string) error

	// DeleteCollection drops every vector in collection.
	DeleteCollection(ctx context.Context, collection string) error

	// Name identifies the backend for logging/metrics labels.
	Name() string
}
