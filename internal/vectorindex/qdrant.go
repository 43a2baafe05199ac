package vectorindex

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"imagesearch/internal/models"
)

type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// Qdrant keeps embeddings in a Qdrant collection with cosine distance.
// Point ids are the image ids.
type Qdrant struct {
	client     *qdrant.Client
	collection string
}

// NewQdrant connects and creates the collection when missing.
func NewQdrant(ctx context.Context, cfg QdrantConfig) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	q := &Qdrant{client: client, collection: cfg.Collection}
	if err := q.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check qdrant collection: %w", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     models.EmbeddingDim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create qdrant collection: %w", err)
	}
	return nil
}

func (q *Qdrant) Name() string { return "qdrant" }

func (q *Qdrant) Upsert(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, len(items))
	for i, it := range items {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(it.ID)),
			Vectors: qdrant.NewVectors(it.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{"filename": it.Filename}),
		}
	}
	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (q *Qdrant) Query(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if k < 1 {
		return nil, nil
	}
	res, err := q.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: q.collection,
		Vector:         vec,
		Limit:          uint64(k),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	return hitsFromScored(res.GetResult()), nil
}

func (q *Qdrant) Delete(ctx context.Context, id int64) error {
	wait := true
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{qdrant.NewIDNum(uint64(id))},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant delete %d: %w", id, err)
	}
	return nil
}

func (q *Qdrant) Count(ctx context.Context) (int, error) {
	exact := true
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return int(n), nil
}

func (q *Qdrant) Close() error { return q.client.Close() }

// hitsFromScored keeps numeric point ids only; this collection never
// stores uuid ids.
func hitsFromScored(points []*qdrant.ScoredPoint) []Hit {
	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		num, ok := p.GetId().GetPointIdOptions().(*qdrant.PointId_Num)
		if !ok {
			continue
		}
		hits = append(hits, Hit{ID: int64(num.Num), Score: float64(p.GetScore())})
	}
	return hits
}

var _ Index = (*Qdrant)(nil)
