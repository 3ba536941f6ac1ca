package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/flarexio/repochat/vector"
	"github.com/flarexio/repochat/vector/vectortest"
)

type fakeCollection struct {
	size   int
	points map[string]point
}

// fakeQdrant serves the subset of the Qdrant REST API the index uses.
type fakeQdrant struct {
	collections map[string]*fakeCollection
	status      string
	apiKeys     []string
	mu          sync.Mutex
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{
		collections: make(map[string]*fakeCollection),
		status:      "green",
	}
}

func (f *fakeQdrant) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		c, ok := f.collections[r.PathValue("name")]
		if !ok {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}

		var info collectionInfo
		info.Result.Status = f.status
		info.Result.Config.Params.Vectors.Size = c.size
		info.Result.Config.Params.Vectors.Distance = "Cosine"

		json.NewEncoder(w).Encode(info)
	})

	mux.HandleFunc("PUT /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))

		var req struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f.collections[r.PathValue("name")] = &fakeCollection{
			size:   req.Vectors.Size,
			points: make(map[string]point),
		}

		w.Write([]byte(`{"result":true}`))
	})

	mux.HandleFunc("DELETE /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		name := r.PathValue("name")
		if _, ok := f.collections[name]; !ok {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}

		delete(f.collections, name)
		w.Write([]byte(`{"result":true}`))
	})

	mux.HandleFunc("PUT /collections/{name}/points", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		c, ok := f.collections[r.PathValue("name")]
		if !ok {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}

		var req struct {
			Points []point `json:"points"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		for _, p := range req.Points {
			if len(p.Vector) != c.size {
				http.Error(w, `{"status":{"error":"Wrong input: Vector dimension error"}}`, http.StatusBadRequest)
				return
			}

			c.points[p.ID] = p
		}

		w.Write([]byte(`{"result":{"status":"completed"}}`))
	})

	mux.HandleFunc("POST /collections/{name}/points/search", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		c, ok := f.collections[r.PathValue("name")]
		if !ok {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}

		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		type scored struct {
			Score   float32 `json:"score"`
			Payload payload `json:"payload"`
		}

		hits := make([]scored, 0, len(c.points))
		for _, p := range c.points {
			hits = append(hits, scored{
				Score:   vector.CosineSimilarity(req.Vector, p.Vector),
				Payload: p.Payload,
			})
		}

		sort.Slice(hits, func(i, j int) bool {
			return hits[i].Score > hits[j].Score
		})

		if req.Limit < len(hits) {
			hits = hits[:req.Limit]
		}

		json.NewEncoder(w).Encode(map[string]any{"result": hits})
	})

	return mux
}

func newTestIndex(t *testing.T, fake *fakeQdrant, apiKey string) vector.Index {
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	idx, err := NewQdrantIndex(vector.Config{
		Dimension:     vectortest.Dimension,
		BatchSize:     100,
		ReadyInterval: 10 * time.Millisecond,
		ReadyTimeout:  100 * time.Millisecond,
		Qdrant: vector.QdrantConfig{
			URL:    srv.URL,
			APIKey: apiKey,
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	return idx
}

func TestQdrantIndexSuite(t *testing.T) {
	s := &vectortest.IndexSuite{
		NewIndex: func() vector.Index {
			return newTestIndex(t, newFakeQdrant(), "")
		},
	}

	suite.Run(t, s)
}

func TestRebuildNeverReady(t *testing.T) {
	assert := assert.New(t)

	fake := newFakeQdrant()
	fake.status = "yellow"

	idx := newTestIndex(t, fake, "")

	err := idx.Rebuild(context.Background(), "docs", 4, vector.MetricCosine)
	assert.ErrorIs(err, vector.ErrIndexNotReady)
}

func TestUpsertMissingCollection(t *testing.T) {
	assert := assert.New(t)

	idx := newTestIndex(t, newFakeQdrant(), "")

	err := idx.Upsert(context.Background(), "missing", []vector.Record{
		{ID: "chunk_a", Vector: []float32{1, 0, 0, 0}},
	})
	assert.ErrorIs(err, vector.ErrIndexNotReady)
}

func TestAPIKeyHeader(t *testing.T) {
	assert := assert.New(t)

	fake := newFakeQdrant()
	idx := newTestIndex(t, fake, "secret")

	err := idx.Rebuild(context.Background(), "docs", 4, vector.MetricCosine)
	assert.NoError(err)
	assert.Equal([]string{"secret"}, fake.apiKeys)
}

func TestPointID(t *testing.T) {
	assert := assert.New(t)

	id := PointID("chunk_0123456789abcdef01234567")
	assert.Len(id, 36)
	assert.Equal(id, PointID("chunk_0123456789abcdef01234567"))
	assert.NotEqual(id, PointID("chunk_other"))
}
