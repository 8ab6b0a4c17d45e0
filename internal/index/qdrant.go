package index

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for the optional Qdrant mirror.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the collection name to mirror into.
	Collection string

	// VectorSize is the dimensionality of the stored embeddings.
	VectorSize uint64

	// APIKey is the optional API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantMirror replicates the index into a Qdrant collection and serves
// similarity queries from it. The mirror is best-effort: callers fall back
// to the local index when it errors.
type QdrantMirror struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this mirror.
	cfg *QdrantConfig
}

// NewQdrantMirror connects to Qdrant and ensures the target collection
// exists, creating it with cosine distance if necessary.
func NewQdrantMirror(ctx context.Context, cfg *QdrantConfig) (*QdrantMirror, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	m := &QdrantMirror{client: client, cfg: cfg}
	if err := m.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// ensureCollection creates the collection if it does not already exist.
func (m *QdrantMirror) ensureCollection(ctx context.Context) error {
	exists, err := m.client.CollectionExists(ctx, m.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = m.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: m.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     m.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", m.cfg.Collection, err)
	}
	return nil
}

// pointID maps a chunk id ("filename:N") to a stable UUID, since Qdrant
// point ids must be UUIDs or integers.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

// Replace deletes the filename's existing points and upserts the new chunks
// in one pass, keeping the mirror consistent with replace-on-reingest.
func (m *QdrantMirror) Replace(ctx context.Context, filename string, chunks []EmbeddedChunk) error {
	if err := m.DeleteByFilename(ctx, filename); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(c.ID)),
			Vectors: qdrant.NewVectors(c.Vector...),
			Payload: qdrant.NewValueMap(map[string]interface{}{
				"chunk_id":   c.ID,
				"filename":   c.Filename,
				"text":       c.Text,
				"section":    c.Section,
				"created_at": c.CreatedAt.UTC().Format(time.RFC3339),
			}),
		})
	}

	_, err := m.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: m.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// DeleteByFilename removes every point belonging to the given document.
func (m *QdrantMirror) DeleteByFilename(ctx context.Context, filename string) error {
	_, err := m.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: m.cfg.Collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("filename", filename),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete failed: %w", err)
	}
	return nil
}

// Search performs a cosine similarity query and returns ranked results.
func (m *QdrantMirror) Search(ctx context.Context, queryVector []float32, topK int, minScore float64) ([]SimilarityResult, error) {
	limit := uint64(topK)
	threshold := float32(minScore)
	points, err := m.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: m.cfg.Collection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          &limit,
		ScoreThreshold: &threshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	results := make([]SimilarityResult, 0, len(points))
	for i, p := range points {
		c := EmbeddedChunk{}
		if payload := p.Payload; payload != nil {
			if v, ok := payload["chunk_id"]; ok {
				c.ID = v.GetStringValue()
			}
			if v, ok := payload["filename"]; ok {
				c.Filename = v.GetStringValue()
			}
			if v, ok := payload["text"]; ok {
				c.Text = v.GetStringValue()
			}
			if v, ok := payload["section"]; ok {
				c.Section = v.GetStringValue()
			}
			if v, ok := payload["created_at"]; ok {
				if ts, perr := time.Parse(time.RFC3339, v.GetStringValue()); perr == nil {
					c.CreatedAt = ts
				}
			}
		}
		c.Length = len(c.Text)
		results = append(results, SimilarityResult{
			Chunk: c,
			Score: float64(p.Score),
			Rank:  i + 1,
		})
	}
	return results, nil
}

// Ping verifies the Qdrant connection, for readiness probes.
func (m *QdrantMirror) Ping(ctx context.Context) error {
	if _, err := m.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying gRPC connection.
func (m *QdrantMirror) Close() error {
	return m.client.Close()
}
