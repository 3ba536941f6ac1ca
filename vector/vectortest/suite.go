// Package vectortest holds the behaviour every vector.Index backend must share.
package vectortest

import (
	"context"
	"fmt"

	"github.com/stretchr/testify/suite"

	"github.com/flarexio/repochat/vector"
)

const Dimension = 4

type IndexSuite struct {
	suite.Suite

	// NewIndex returns a fresh, empty index configured for Dimension.
	NewIndex func() vector.Index

	ctx   context.Context
	index vector.Index
}

func (s *IndexSuite) SetupTest() {
	s.ctx = context.Background()
	s.index = s.NewIndex()
}

func records() []vector.Record {
	return []vector.Record{
		{
			ID:       "chunk_a",
			Vector:   []float32{1, 0, 0, 0},
			Content:  "This repository implements X",
			Metadata: vector.Metadata{SourcePath: "README.md", Sequence: 0, Revision: "rev1"},
		},
		{
			ID:       "chunk_b",
			Vector:   []float32{0.8, 0.6, 0, 0},
			Content:  "def main(): pass",
			Metadata: vector.Metadata{SourcePath: "main.py", Sequence: 0, Revision: "rev1"},
		},
		{
			ID:       "chunk_c",
			Vector:   []float32{0, 0, 1, 0},
			Content:  "body { margin: 0 }",
			Metadata: vector.Metadata{SourcePath: "style.css", Sequence: 1, Revision: "rev1"},
		},
	}
}

func (s *IndexSuite) TestQueryFewerThanK() {
	err := s.index.Rebuild(s.ctx, "docs", Dimension, vector.MetricCosine)
	s.Require().NoError(err)

	err = s.index.Upsert(s.ctx, "docs", records())
	s.Require().NoError(err)

	results, err := s.index.Query(s.ctx, "docs", []float32{1, 0, 0, 0}, 10)
	s.Require().NoError(err)
	s.Require().Len(results, 3)

	s.Equal("chunk_a", results[0].ID)
	s.Equal("chunk_b", results[1].ID)
	s.Equal("chunk_c", results[2].ID)

	s.InDelta(1.0, results[0].Score, 1e-4)
	s.InDelta(0.8, results[1].Score, 1e-4)
	s.InDelta(0.0, results[2].Score, 1e-4)

	s.Equal("This repository implements X", results[0].Content)
	s.Equal("README.md", results[0].Metadata.SourcePath)
	s.Equal(1, results[2].Metadata.Sequence)
}

func (s *IndexSuite) TestQueryTopK() {
	s.Require().NoError(s.index.Rebuild(s.ctx, "docs", Dimension, vector.MetricCosine))
	s.Require().NoError(s.index.Upsert(s.ctx, "docs", records()))

	results, err := s.index.Query(s.ctx, "docs", []float32{0, 0, 1, 0}, 1)
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal("chunk_c", results[0].ID)
}

func (s *IndexSuite) TestQueryMissingCollection() {
	results, err := s.index.Query(s.ctx, "missing", []float32{1, 0, 0, 0}, 5)
	s.NoError(err)
	s.Empty(results)
}

func (s *IndexSuite) TestQueryEmptyCollection() {
	s.Require().NoError(s.index.Rebuild(s.ctx, "empty", Dimension, vector.MetricCosine))

	results, err := s.index.Query(s.ctx, "empty", []float32{1, 0, 0, 0}, 5)
	s.NoError(err)
	s.Empty(results)
}

func (s *IndexSuite) TestQueryDimensionMismatch() {
	s.Require().NoError(s.index.Rebuild(s.ctx, "docs", Dimension, vector.MetricCosine))
	s.Require().NoError(s.index.Upsert(s.ctx, "docs", records()))

	results, err := s.index.Query(s.ctx, "docs", []float32{1, 0}, 5)
	s.ErrorIs(err, vector.ErrDimensionMismatch)
	s.Nil(results)
}

func (s *IndexSuite) TestUpsertDimensionMismatch() {
	s.Require().NoError(s.index.Rebuild(s.ctx, "docs", Dimension, vector.MetricCosine))

	bad := []vector.Record{{ID: "short", Vector: []float32{1, 0}, Content: "x"}}

	err := s.index.Upsert(s.ctx, "docs", bad)
	s.ErrorIs(err, vector.ErrDimensionMismatch)
}

func (s *IndexSuite) TestRebuildDropsRecords() {
	s.Require().NoError(s.index.Rebuild(s.ctx, "docs", Dimension, vector.MetricCosine))
	s.Require().NoError(s.index.Upsert(s.ctx, "docs", records()))
	s.Require().NoError(s.index.Rebuild(s.ctx, "docs", Dimension, vector.MetricCosine))

	results, err := s.index.Query(s.ctx, "docs", []float32{1, 0, 0, 0}, 5)
	s.NoError(err)
	s.Empty(results)
}

func (s *IndexSuite) TestIdempotentIngestion() {
	probe := []float32{0.5, 0.5, 0.5, 0}

	run := func() []vector.Result {
		s.Require().NoError(s.index.Rebuild(s.ctx, "docs", Dimension, vector.MetricCosine))
		s.Require().NoError(s.index.Upsert(s.ctx, "docs", records()))

		results, err := s.index.Query(s.ctx, "docs", probe, 3)
		s.Require().NoError(err)
		return results
	}

	first := run()
	second := run()

	s.Require().Len(second, len(first))
	for i := range first {
		s.Equal(first[i].ID, second[i].ID)
		s.InDelta(first[i].Score, second[i].Score, 1e-6)
	}
}

func (s *IndexSuite) TestUpsertManyBatches() {
	s.Require().NoError(s.index.Rebuild(s.ctx, "many", Dimension, vector.MetricCosine))

	many := make([]vector.Record, 250)
	for i := range many {
		many[i] = vector.Record{
			ID:       fmt.Sprintf("chunk_%03d", i),
			Vector:   []float32{1, float32(i), 0, 0},
			Content:  fmt.Sprintf("chunk %d", i),
			Metadata: vector.Metadata{SourcePath: "big.txt", Sequence: i},
		}
	}

	s.Require().NoError(s.index.Upsert(s.ctx, "many", many))

	results, err := s.index.Query(s.ctx, "many", []float32{1, 0, 0, 0}, 3)
	s.Require().NoError(err)
	s.Require().Len(results, 3)
	s.Equal("chunk_000", results[0].ID)
}

func (s *IndexSuite) TestDelete() {
	s.NoError(s.index.Delete(s.ctx, "never-created"))

	s.Require().NoError(s.index.Rebuild(s.ctx, "docs", Dimension, vector.MetricCosine))
	s.Require().NoError(s.index.Upsert(s.ctx, "docs", records()))
	s.Require().NoError(s.index.Delete(s.ctx, "docs"))

	results, err := s.index.Query(s.ctx, "docs", []float32{1, 0, 0, 0}, 5)
	s.NoError(err)
	s.Empty(results)
}

func (s *IndexSuite) TestUnsupportedMetric() {
	err := s.index.Rebuild(s.ctx, "docs", Dimension, vector.Metric("manhattan"))
	s.ErrorIs(err, vector.ErrUnsupportedMetric)
}
