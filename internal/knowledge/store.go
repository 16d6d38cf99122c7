// Package knowledge is the retrieval layer behind prompt assembly:
// tenant knowledge fragments live in a Qdrant collection keyed by
// embedding, filtered by tenant on every search.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/replyflow/replyflow/internal/config"
)

// DefaultTopK is how many fragments a prompt pulls in.
const DefaultTopK = 3

// EmbeddingDim matches the text-embedding-3-small output size.
const EmbeddingDim = 1536

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Fragment is one retrieved knowledge item.
type Fragment struct {
	ID       string
	Title    string
	Content  string
	Category string
	Score    float32
}

// Store wraps the Qdrant collection holding per-tenant knowledge.
type Store struct {
	client     *qdrant.Client
	collection string
	embedder   Embedder
	logger     *slog.Logger
}

func NewStore(log *slog.Logger, cfg config.QdrantConfig, embedder Embedder) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &Store{
		client:     client,
		collection: cfg.Collection,
		embedder:   embedder,
		logger:     log.With(slog.String("service", "knowledge")),
	}, nil
}

// EnsureCollection creates the collection on first boot.
func (s *Store) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", s.collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     EmbeddingDim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}
	s.logger.Info("created knowledge collection", slog.String("collection", s.collection))
	return nil
}

// Search embeds the query and returns the tenant's closest fragments,
// best first.
func (s *Store) Search(ctx context.Context, tenantID, query string, topK int) ([]Fragment, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	limit := uint64(topK)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		Filter:         tenantFilter(tenantID),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query knowledge: %w", err)
	}

	fragments := make([]Fragment, 0, len(points))
	for _, point := range points {
		f := Fragment{Score: point.Score}
		if point.Id != nil {
			f.ID = point.Id.GetUuid()
		}
		for k, v := range point.Payload {
			switch k {
			case "title":
				f.Title = v.GetStringValue()
			case "content":
				f.Content = v.GetStringValue()
			case "category":
				f.Category = v.GetStringValue()
			}
		}
		fragments = append(fragments, f)
	}
	return fragments, nil
}

// Upsert indexes one fragment for a tenant. An empty id allocates one.
func (s *Store) Upsert(ctx context.Context, tenantID, id, title, content, category string) error {
	if id == "" {
		id = uuid.NewString()
	}
	vector, err := s.embedder.Embed(ctx, title+"\n"+content)
	if err != nil {
		return fmt.Errorf("embed fragment: %w", err)
	}

	wait := true
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"tenant_id": tenantID,
				"title":     title,
				"content":   content,
				"category":  category,
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("upsert knowledge point: %w", err)
	}
	return nil
}

// UpsertLearned adapts learned-content fragments to the index. The
// title doubles as the retrieval hook for question-style fragments.
func (s *Store) UpsertLearned(ctx context.Context, tenantID, category, question, answer string) error {
	title := question
	if title == "" {
		title = category
	}
	return s.Upsert(ctx, tenantID, "", title, answer, category)
}

func (s *Store) Close() error {
	return s.client.Close()
}

func tenantFilter(tenantID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "tenant_id",
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: tenantID}},
				},
			},
		}},
	}
}
