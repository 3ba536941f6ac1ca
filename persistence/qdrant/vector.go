package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flarexio/repochat/vector"
)

const defaultURL = "http://localhost:6333"

// NewQdrantIndex returns an index backed by the Qdrant REST API.
func NewQdrantIndex(cfg vector.Config) (vector.Index, error) {
	baseURL := cfg.Qdrant.URL
	if baseURL == "" {
		baseURL = defaultURL
	}

	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid qdrant url: %w", err)
	}

	log := zap.L().With(
		zap.String("component", "vector"),
		zap.String("backend", string(vector.BackendQdrant)),
	)

	return &qdrantIndex{
		url:        strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.Qdrant.APIKey,
		client:     &http.Client{Timeout: 30 * time.Second},
		dimensions: make(map[string]int),
		cfg:        cfg,
		log:        log,
	}, nil
}

type qdrantIndex struct {
	url    string
	apiKey string
	client *http.Client

	dimensions map[string]int
	mu         sync.RWMutex

	cfg vector.Config
	log *zap.Logger
}

type collectionInfo struct {
	Result struct {
		Status string `json:"status"`
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

type payload struct {
	ChunkID    string `json:"chunk_id"`
	SourcePath string `json:"source_path"`
	Sequence   int    `json:"sequence"`
	Revision   string `json:"revision,omitempty"`
	Text       string `json:"text"`
}

type point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload payload   `json:"payload"`
}

type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type searchResponse struct {
	Result []struct {
		Score   float32 `json:"score"`
		Payload payload `json:"payload"`
	} `json:"result"`
}

// PointID maps a chunk id onto the UUID space Qdrant accepts for point ids.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

func (idx *qdrantIndex) collectionURL(name string, elem ...string) string {
	parts := append([]string{idx.url, "collections", url.PathEscape(name)}, elem...)
	return strings.Join(parts, "/")
}

// do sends body as JSON and decodes a 2xx response into out. The status
// code is returned for every response that arrived.
func (idx *qdrantIndex) do(ctx context.Context, method, target string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if idx.apiKey != "" {
		req.Header.Set("api-key", idx.apiKey)
	}

	resp, err := idx.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("qdrant %s %s failed: %s: %s",
			method, target, resp.Status, strings.TrimSpace(string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode qdrant response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

func (idx *qdrantIndex) info(ctx context.Context, name string) (*collectionInfo, bool, error) {
	var info collectionInfo
	status, err := idx.do(ctx, http.MethodGet, idx.collectionURL(name), nil, &info)
	if status == http.StatusNotFound {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	return &info, true, nil
}

// dimension returns the vector size of the named collection, or 0 when the
// collection does not exist.
func (idx *qdrantIndex) dimension(ctx context.Context, name string) (int, error) {
	idx.mu.RLock()
	d, ok := idx.dimensions[name]
	idx.mu.RUnlock()

	if ok {
		return d, nil
	}

	info, found, err := idx.info(ctx, name)
	if err != nil || !found {
		return 0, err
	}

	d = info.Result.Config.Params.Vectors.Size

	idx.mu.Lock()
	idx.dimensions[name] = d
	idx.mu.Unlock()

	return d, nil
}

func (idx *qdrantIndex) Rebuild(ctx context.Context, name string, dimension int, metric vector.Metric) error {
	if metric != vector.MetricCosine {
		return fmt.Errorf("%w: %s", vector.ErrUnsupportedMetric, metric)
	}

	if err := idx.Delete(ctx, name); err != nil {
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}

	if _, err := idx.do(ctx, http.MethodPut, idx.collectionURL(name), body, nil); err != nil {
		return err
	}

	log := idx.log.With(zap.String("collection", name))
	log.Info("collection created, waiting for readiness", zap.Int("dimension", dimension))

	err := vector.WaitReady(ctx, idx.cfg.ReadyInterval, idx.cfg.ReadyTimeout, func(ctx context.Context) (bool, error) {
		info, found, err := idx.info(ctx, name)
		if err != nil || !found {
			return false, err
		}

		log.Debug("collection status", zap.String("status", info.Result.Status))
		return info.Result.Status == "green", nil
	})
	if err != nil {
		return err
	}

	idx.mu.Lock()
	idx.dimensions[name] = dimension
	idx.mu.Unlock()

	return nil
}

func (idx *qdrantIndex) Upsert(ctx context.Context, name string, records []vector.Record) error {
	dimension, err := idx.dimension(ctx, name)
	if err != nil {
		return err
	}

	if dimension == 0 {
		return fmt.Errorf("%w: collection %s does not exist", vector.ErrIndexNotReady, name)
	}

	if err := vector.CheckDimension(records, dimension); err != nil {
		return err
	}

	target := idx.collectionURL(name, "points") + "?wait=true"

	return vector.Batch(records, idx.cfg.BatchSize, func(batch []vector.Record) error {
		points := make([]point, len(batch))
		for i, r := range batch {
			points[i] = point{
				ID:     PointID(r.ID),
				Vector: r.Vector,
				Payload: payload{
					ChunkID:    r.ID,
					SourcePath: r.Metadata.SourcePath,
					Sequence:   r.Metadata.Sequence,
					Revision:   r.Metadata.Revision,
					Text:       r.Content,
				},
			}
		}

		body := map[string]any{"points": points}
		if _, err := idx.do(ctx, http.MethodPut, target, body, nil); err != nil {
			return err
		}

		idx.log.Debug("batch upserted",
			zap.String("collection", name),
			zap.Int("count", len(batch)),
		)

		return nil
	})
}

func (idx *qdrantIndex) Query(ctx context.Context, name string, v []float32, k int) ([]vector.Result, error) {
	if k <= 0 {
		return nil, vector.ErrInvalidK
	}

	dimension, err := idx.dimension(ctx, name)
	if err != nil {
		return nil, err
	}

	if dimension == 0 {
		return []vector.Result{}, nil
	}

	if len(v) != dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", vector.ErrDimensionMismatch, len(v), dimension)
	}

	req := searchRequest{
		Vector:      v,
		Limit:       k,
		WithPayload: true,
	}

	var resp searchResponse
	status, err := idx.do(ctx, http.MethodPost, idx.collectionURL(name, "points", "search"), req, &resp)
	if status == http.StatusNotFound {
		idx.forget(name)
		return []vector.Result{}, nil
	}

	if err != nil {
		return nil, err
	}

	results := make([]vector.Result, len(resp.Result))
	for i, r := range resp.Result {
		results[i] = vector.Result{
			ID:      r.Payload.ChunkID,
			Content: r.Payload.Text,
			Score:   r.Score,
			Metadata: vector.Metadata{
				SourcePath: r.Payload.SourcePath,
				Sequence:   r.Payload.Sequence,
				Revision:   r.Payload.Revision,
			},
		}
	}

	return vector.TopK(results, k), nil
}

func (idx *qdrantIndex) Delete(ctx context.Context, name string) error {
	idx.forget(name)

	status, err := idx.do(ctx, http.MethodDelete, idx.collectionURL(name), nil, nil)
	if status == http.StatusNotFound {
		return nil
	}

	return err
}

func (idx *qdrantIndex) forget(name string) {
	idx.mu.Lock()
	delete(idx.dimensions, name)
	idx.mu.Unlock()
}
