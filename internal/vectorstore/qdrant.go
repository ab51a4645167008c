package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// taskNameField/stepIDField hold the original (task_name, step_id) in the
// point payload, since Qdrant point IDs must be UUIDs or positive integers.
const (
	taskNameField = "task_name"
	stepIDField   = "step_id"
)

type qdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrant constructs an optional accelerator backend. It must agree with
// the exact memory backend on top-1 results at this system's scale
// (hundreds of entries); callers that need that guarantee should run both
// backends over the same fixture in a property test rather than trust this
// type alone.
func NewQdrant(dsn, collection string, dimension int, metric string) (Store, error) {
	if collection == "" {
		return nil, fmt.Errorf("vectorstore: qdrant collection name is required")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse qdrant dsn: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	cfg := &qdrant.Config{Host: host, Port: port}
	if u.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := u.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create qdrant client: %w", err)
	}
	q := &qdrantStore{client: client, collection: collection, dimension: dimension}
	if err := q.ensureCollection(context.Background(), metric); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func (q *qdrantStore) ensureCollection(ctx context.Context, metric string) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("vectorstore: check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if q.dimension <= 0 {
		return fmt.Errorf("vectorstore: qdrant requires dimension > 0")
	}
	distance := qdrant.Distance_Cosine
	switch metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
}

func pointUUID(key Key) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/%d", key.TaskName, key.StepID))).String()
}

func (q *qdrantStore) Upsert(ctx context.Context, key Key, vector []float32) error {
	vec := make([]float32, len(vector))
	copy(vec, vector)
	payload := qdrant.NewValueMap(map[string]any{
		taskNameField: key.TaskName,
		stepIDField:   int64(key.StepID),
	})
	points := []*qdrant.PointStruct{{
		Id:      qdrant.NewIDUUID(pointUUID(key)),
		Vectors: qdrant.NewVectorsDense(vec),
		Payload: payload,
	}}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: q.collection, Points: points})
	return err
}

func (q *qdrantStore) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		k = 1
	}
	vec := make([]float32, len(query))
	copy(vec, query)
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: qdrant query: %w", err)
	}
	out := make([]Result, 0, len(hits))
	for _, hit := range hits {
		key := Key{}
		if hit.Payload != nil {
			if v, ok := hit.Payload[taskNameField]; ok {
				key.TaskName = v.GetStringValue()
			}
			if v, ok := hit.Payload[stepIDField]; ok {
				key.StepID = int(v.GetIntegerValue())
			}
		}
		sim := float64(hit.Score)
		if sim < 0 {
			sim = 0
		}
		if sim > 1 {
			sim = 1
		}
		out = append(out, Result{Key: key, Similarity: sim})
	}
	return out, nil
}

func (q *qdrantStore) Len() int {
	count, err := q.client.Count(context.Background(), &qdrant.CountPoints{CollectionName: q.collection})
	if err != nil {
		return 0
	}
	return int(count)
}
