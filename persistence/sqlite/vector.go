package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/flarexio/repochat/vector"
)

func NewSQLiteIndex(cfg vector.Config) (vector.Index, error) {
	path := cfg.Path
	if path == "" {
		path = "vectors.db"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	log := zap.L().With(
		zap.String("component", "vector"),
		zap.String("backend", string(vector.BackendSQLite)),
	)

	idx := &sqliteIndex{
		conn: conn,
		cfg:  cfg,
		log:  log,
	}

	if err := idx.setupTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to setup database tables: %w", err)
	}

	return idx, nil
}

type sqliteIndex struct {
	conn *sql.DB
	cfg  vector.Config
	log  *zap.Logger
}

func (idx *sqliteIndex) Close() error {
	return idx.conn.Close()
}

func (idx *sqliteIndex) setupTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS collections (
			name TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL,
			metric TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			content TEXT NOT NULL,
			source_path TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			revision TEXT NOT NULL,
			embedding TEXT NOT NULL,
			PRIMARY KEY (collection, id),
			FOREIGN KEY (collection) REFERENCES collections (name)
		)`,
	}

	for _, query := range queries {
		if _, err := idx.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %s, error: %w", query, err)
		}
	}

	return nil
}

// dimension returns the dimension of the named collection, or 0 when the
// collection does not exist.
func (idx *sqliteIndex) dimension(ctx context.Context, name string) (int, error) {
	var dimension int
	err := idx.conn.QueryRowContext(ctx,
		`SELECT dimension FROM collections WHERE name = ?`, name,
	).Scan(&dimension)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("failed to read collection: %w", err)
	}

	return dimension, nil
}

func (idx *sqliteIndex) Rebuild(ctx context.Context, name string, dimension int, metric vector.Metric) error {
	if metric != vector.MetricCosine {
		return fmt.Errorf("%w: %s", vector.ErrUnsupportedMetric, metric)
	}

	tx, err := idx.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, name); err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO collections (name, dimension, metric) VALUES (?, ?, ?)`,
		name, dimension, string(metric),
	); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return vector.WaitReady(ctx, idx.cfg.ReadyInterval, idx.cfg.ReadyTimeout, func(ctx context.Context) (bool, error) {
		d, err := idx.dimension(ctx, name)
		return d == dimension, err
	})
}

func (idx *sqliteIndex) Upsert(ctx context.Context, name string, records []vector.Record) error {
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

	return vector.Batch(records, idx.cfg.BatchSize, func(batch []vector.Record) error {
		return idx.insertBatch(ctx, name, batch)
	})
}

func (idx *sqliteIndex) insertBatch(ctx context.Context, name string, batch []vector.Record) error {
	tx, err := idx.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO records
		(collection, id, content, source_path, sequence, revision, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch {
		embeddingJSON, err := json.Marshal(r.Vector)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}

		if _, err := stmt.ExecContext(ctx,
			name, r.ID, r.Content,
			r.Metadata.SourcePath, r.Metadata.Sequence, r.Metadata.Revision,
			string(embeddingJSON),
		); err != nil {
			return fmt.Errorf("failed to insert record %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Query scans the whole collection; the store has no ANN structure.
func (idx *sqliteIndex) Query(ctx context.Context, name string, v []float32, k int) ([]vector.Result, error) {
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

	rows, err := idx.conn.QueryContext(ctx,
		`SELECT id, content, source_path, sequence, revision, embedding
		FROM records WHERE collection = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	results := make([]vector.Result, 0)
	for rows.Next() {
		var (
			r             vector.Result
			embeddingJSON string
			embedding     []float32
		)

		if err := rows.Scan(&r.ID, &r.Content,
			&r.Metadata.SourcePath, &r.Metadata.Sequence, &r.Metadata.Revision,
			&embeddingJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal([]byte(embeddingJSON), &embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding for record %s: %w", r.ID, err)
		}

		r.Score = vector.CosineSimilarity(v, embedding)
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return vector.TopK(results, k), nil
}

func (idx *sqliteIndex) Delete(ctx context.Context, name string) error {
	tx, err := idx.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, name); err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}

	return tx.Commit()
}
