// Package pinecone implements vectorstore.Store over the Pinecone managed
// vector database, grounded on the teacher's pkg/vector.PineconeProvider.
// Indexes (Pinecone's analogue of a collection) must pre-exist; Upsert does
// not create one, matching Pinecone's own index-lifecycle model.
package pinecone

import (
	"context"
	"fmt"

	gopinecone "github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/uxmcp/uxmcp/pkg/vectorstore"
)

type Config struct {
	APIKey    string
	Host      string
	IndexName string
}

type Store struct {
	client    *gopinecone.Client
	indexName string
}

func New(cfg Config) (*Store, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pinecone: api key is required")
	}
	params := gopinecone.NewClientParams{ApiKey: cfg.APIKey}
	if cfg.Host != "" {
		params.Host = cfg.Host
	}
	client, err := gopinecone.NewClient(params)
	if err != nil {
		return nil, fmt.Errorf("create pinecone client: %w", err)
	}
	indexName := cfg.IndexName
	if indexName == "" {
		indexName = "uxmcp-memory"
	}
	return &Store{client: client, indexName: indexName}, nil
}

func (s *Store) Name() string { return "pinecone" }

func (s *Store) indexOrDefault(collection string) string {
	if collection != "" {
		return collection
	}
	return s.indexName
}

func (s *Store) connection(ctx context.Context, indexName string) (*gopinecone.IndexConnection, error) {
	index, err := s.client.DescribeIndex(ctx, indexName)
	if err != nil {
		return nil, fmt.Errorf("describe index %s: %w", indexName, err)
	}
	conn, err := s.client.Index(gopinecone.NewIndexConnParams{Host: index.Host})
	if err != nil {
		return nil, fmt.Errorf("connect to index %s: %w", indexName, err)
	}
	return conn, nil
}

func (s *Store) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	conn, err := s.connection(ctx, s.indexOrDefault(collection))
	if err != nil {
		return err
	}
	defer conn.Close()

	var meta *gopinecone.Metadata
	if len(metadata) > 0 {
		iface := make(map[string]interface{}, len(metadata))
		for k, v := range metadata {
			iface[k] = v
		}
		meta, err = structpb.NewStruct(iface)
		if err != nil {
			return fmt.Errorf("convert metadata: %w", err)
		}
	}

	_, err = conn.UpsertVectors(ctx, []*gopinecone.Vector{{Id: id, Values: vector, Metadata: meta}})
	if err != nil {
		return fmt.Errorf("upsert vector: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]vectorstore.Match, error) {
	conn, err := s.connection(ctx, s.indexOrDefault(collection))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var metadataFilter *gopinecone.MetadataFilter
	if len(filter) > 0 {
		iface := make(map[string]interface{}, len(filter))
		for k, v := range filter {
			iface[k] = v
		}
		metadataFilter, err = structpb.NewStruct(iface)
		if err != nil {
			return nil, fmt.Errorf("convert filter: %w", err)
		}
	}

	resp, err := conn.QueryByVectorValues(ctx, &gopinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  metadataFilter,
		IncludeMetadata: true,
		IncludeValues:   false,
	})
	if err != nil {
		return nil, fmt.Errorf("query pinecone: %w", err)
	}

	out := make([]vectorstore.Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m.Vector == nil {
			continue
		}
		metadata := make(map[string]any)
		if m.Vector.Metadata != nil {
			for k, v := range m.Vector.Metadata.AsMap() {
				metadata[k] = v
			}
		}
		content, _ := metadata["content"].(string)
		out = append(out, vectorstore.Match{ID: m.Vector.Id, Score: m.Score, Content: content, Metadata: metadata})
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	conn, err := s.connection(ctx, s.indexOrDefault(collection))
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.DeleteVectorsById(ctx, []string{id}); err != nil {
		return fmt.Errorf("delete vector: %w", err)
	}
	return nil
}

// DeleteCollection is unsupported: Pinecone index deletion is an account-
// level operation performed via the console or admin API, not per-write
// traffic, so the Memory Subsystem's eviction path never calls this for
// Pinecone — only per-id Delete.
func (s *Store) DeleteCollection(ctx context.Context, collection string) error {
	return fmt.Errorf("pinecone: index deletion is not supported through the data-plane client; delete index %s via the Pinecone console", s.indexOrDefault(collection))
}

var _ vectorstore.Store = (*Store)(nil)
