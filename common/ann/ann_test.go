// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ann

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

func randomVectors(rng *rand.Rand, n, dim int) ([]string, [][]float32) {
	ids := make([]string, n)
	vectors := make([][]float32, n)
	for i := range vectors {
		ids[i] = fmt.Sprintf("item_%d", i)
		vectors[i] = make([]float32, dim)
		for j := range vectors[i] {
			vectors[i][j] = rng.Float32()*2 - 1
		}
	}
	return ids, vectors
}

func recall(gt, pred []Result) float64 {
	s := mapset.NewSet[string]()
	for _, r := range gt {
		s.Add(r.Id)
	}
	hit := 0
	for _, r := range pred {
		if s.Contains(r.Id) {
			hit++
		}
	}
	return float64(hit) / float64(len(gt))
}

type IndexTestSuite struct {
	suite.Suite
	backend Backend
	index   *Index
}

func (suite *IndexTestSuite) SetupTest() {
	suite.index = NewIndex(3, WithBackend(suite.backend))
	err := suite.index.Add(
		[]string{"pizza", "pasta", "soup", "salad"},
		[][]float32{{1, 0, 0}, {0.9, 0.1, 0}, {0, 1, 0}, {0, 0, 2}},
		[]Metadata{
			{Name: "Margherita Pizza", Category: "Italian", Price: 250, Tags: []string{"cheese"}},
			{Name: "Penne Pasta", Category: "Italian", Price: 300},
			{Name: "Tomato Soup", Description: "hot and spicy", Category: "Soups", Price: 90},
			{Name: "Greek Salad", Category: "Salads", Price: 120, Attributes: map[string]string{"diet": "vegan"}},
		})
	suite.NoError(err)
}

func (suite *IndexTestSuite) TestSelfSimilarity() {
	for _, id := range suite.index.Ids() {
		results := suite.index.SimilarTo(id, 1, false)
		if suite.Len(results, 1) {
			suite.Equal(id, results[0].Id)
			suite.InDelta(1, results[0].Similarity, 1e-6)
			suite.Equal(1, results[0].Rank)
		}
	}
}

func (suite *IndexTestSuite) TestSimilarTo() {
	results := suite.index.SimilarTo("pizza", 2, true)
	suite.Len(results, 2)
	suite.Equal("pasta", results[0].Id)
	suite.NotContains(lo.Map(results, func(r Result, _ int) string { return r.Id }), "pizza")
	suite.Empty(suite.index.SimilarTo("unknown", 2, true))
}

func (suite *IndexTestSuite) TestSearch() {
	results, err := suite.index.Search([]float32{2, 0, 0}, 2, nil)
	suite.NoError(err)
	suite.Equal([]string{"pizza", "pasta"}, lo.Map(results, func(r Result, _ int) string { return r.Id }))
	suite.Equal("Margherita Pizza", results[0].Metadata.Name)
	suite.GreaterOrEqual(results[0].Similarity, results[1].Similarity)

	// predicate
	results, err = suite.index.Search([]float32{1, 0, 0}, 2, func(id string, metadata Metadata) bool {
		return metadata.Category != "Italian"
	})
	suite.NoError(err)
	suite.Len(results, 2)
	for _, r := range results {
		suite.NotEqual("Italian", r.Metadata.Category)
	}

	// dimension mismatch
	_, err = suite.index.Search([]float32{1, 0}, 2, nil)
	suite.True(errors.Is(err, ErrDimensionMismatch))
}

func (suite *IndexTestSuite) TestAddRejected() {
	err := suite.index.Add([]string{"a", "b"}, [][]float32{{1, 0, 0}, {1, 0}}, nil)
	suite.True(errors.Is(err, ErrDimensionMismatch))
	suite.Equal(4, suite.index.Len())
	suite.False(suite.index.Contains("a"))

	err = suite.index.Add([]string{"c", "pizza"}, [][]float32{{1, 0, 0}, {0, 1, 0}}, nil)
	suite.True(errors.IsAlreadyExists(err))
	suite.Equal(4, suite.index.Len())

	err = suite.index.Add([]string{"d", "d"}, [][]float32{{1, 0, 0}, {0, 1, 0}}, nil)
	suite.True(errors.IsAlreadyExists(err))

	err = suite.index.Add([]string{"e"}, nil, nil)
	suite.True(errors.IsNotValid(err))
	suite.Equal(4, suite.index.Len())
}

func (suite *IndexTestSuite) TestHybridSearch() {
	results, err := suite.index.HybridSearch([]float32{1, 0, 0}, "nothing matches", nil, 2)
	suite.NoError(err)
	suite.NotNil(results)
	suite.Empty(results)

	results, err = suite.index.HybridSearch([]float32{0, 1, 0}, "SPICY", nil, 2)
	suite.NoError(err)
	if suite.Len(results, 1) {
		suite.Equal("soup", results[0].Id)
		suite.Equal(1, results[0].Rank)
	}

	results, err = suite.index.HybridSearch([]float32{1, 0, 0}, "", Filters{"category": {"Italian"}}, 2)
	suite.NoError(err)
	suite.ElementsMatch([]string{"pizza", "pasta"}, lo.Map(results, func(r Result, _ int) string { return r.Id }))

	results, err = suite.index.HybridSearch([]float32{0, 0, 1}, "", Filters{"diet": {"vegan", "vegetarian"}}, 2)
	suite.NoError(err)
	suite.Equal([]string{"salad"}, lo.Map(results, func(r Result, _ int) string { return r.Id }))
}

func (suite *IndexTestSuite) TestBatchSearch() {
	results, err := suite.index.BatchSearch(context.Background(), [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, 1)
	suite.NoError(err)
	suite.Equal([]string{"pizza", "soup", "salad"}, lo.Map(results, func(r []Result, _ int) string { return r[0].Id }))

	_, err = suite.index.BatchSearch(context.Background(), [][]float32{{1, 0, 0}, {1}}, 1)
	suite.True(errors.Is(err, ErrDimensionMismatch))
}

func (suite *IndexTestSuite) TestSaveLoad() {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	suite.index.SetTimestamp(ts)
	buf := bytes.NewBuffer(nil)
	suite.NoError(suite.index.Save(buf))
	loaded, err := Load(buf)
	suite.NoError(err)
	suite.Equal(suite.index.Ids(), loaded.Ids())
	suite.Equal(suite.backend, loaded.Backend())
	suite.Equal(ts, loaded.Timestamp())
	query := []float32{0.5, 0.5, 0.1}
	expected, err := suite.index.Search(query, 3, nil)
	suite.NoError(err)
	actual, err := loaded.Search(query, 3, nil)
	suite.NoError(err)
	suite.Equal(expected, actual)
}

func TestFlatIndex(t *testing.T) {
	suite.Run(t, &IndexTestSuite{backend: Flat})
}

func TestHNSWIndex(t *testing.T) {
	suite.Run(t, &IndexTestSuite{backend: HNSW})
}

func TestZeroVector(t *testing.T) {
	index := NewIndex(2)
	assert.NoError(t, index.Add([]string{"zero", "one"}, [][]float32{{0, 0}, {3, 4}}, nil))
	v, ok := index.Vector("zero")
	assert.True(t, ok)
	assert.Equal(t, []float32{0, 0}, v)
	v, _ = index.Vector("one")
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, v, 1e-6)
	results, err := index.Search([]float32{3, 4}, 2, nil)
	assert.NoError(t, err)
	assert.Equal(t, "one", results[0].Id)
	assert.Equal(t, float32(0), results[1].Similarity)
}

func TestScanLimit(t *testing.T) {
	index := NewIndex(2, WithScanLimit(2))
	assert.NoError(t, index.Add([]string{"a", "b", "c"}, [][]float32{{0, 1}, {1, 1}, {1, 0}}, nil))
	results, err := index.Search([]float32{1, 0}, 3, nil)
	assert.NoError(t, err)
	// c lies beyond the scan limit
	assert.Equal(t, []string{"b", "a"}, lo.Map(results, func(r Result, _ int) string { return r.Id }))
}

func TestLoadCorrupted(t *testing.T) {
	_, err := Load(bytes.NewBufferString("garbage"))
	assert.True(t, errors.Is(err, ErrCorruptedIndex))

	_, err = Load(bytes.NewReader(nil))
	assert.True(t, errors.Is(err, ErrCorruptedIndex))

	index := NewIndex(2)
	assert.NoError(t, index.Add([]string{"a"}, [][]float32{{1, 0}}, nil))
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, index.Save(buf))
	truncated := buf.Bytes()[:buf.Len()-5]
	_, err = Load(bytes.NewReader(truncated))
	assert.True(t, errors.Is(err, ErrCorruptedIndex))
}

func TestLoadEmpty(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, NewIndex(4).Save(buf))
	index, err := Load(buf)
	assert.NoError(t, err)
	assert.Equal(t, 4, index.Dimension())
	assert.Zero(t, index.Len())
	assert.True(t, index.Timestamp().IsZero())
}

type memoryStore struct {
	blobs map[string][]byte
}

type memoryWriter struct {
	bytes.Buffer
	name  string
	store *memoryStore
}

func (w *memoryWriter) Close() error {
	w.store.blobs[w.name] = w.Bytes()
	return nil
}

func (m *memoryStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	data, ok := m.blobs[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Create(_ context.Context, name string) (io.WriteCloser, error) {
	return &memoryWriter{name: name, store: m}, nil
}

func TestSaveBlob(t *testing.T) {
	store := &memoryStore{blobs: make(map[string][]byte)}
	index := NewIndex(2, WithBackend(HNSW))
	assert.NoError(t, index.Add([]string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}, nil))
	assert.NoError(t, index.SaveBlob(context.Background(), store, "items.idx"))
	loaded, err := LoadBlob(context.Background(), store, "items.idx")
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, loaded.Ids())

	_, err = LoadBlob(context.Background(), store, "missing.idx")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestHNSWRecall(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	ids, vectors := randomVectors(rng, 2000, 16)
	flat := NewIndex(16)
	assert.NoError(t, flat.Add(ids, vectors, nil))
	approx := NewIndex(16, WithBackend(HNSW))
	assert.NoError(t, approx.Add(ids, vectors, nil))

	_, queries := randomVectors(rng, 100, 16)
	r := 0.0
	for _, q := range queries {
		gt, err := flat.Search(q, 10, nil)
		assert.NoError(t, err)
		pred, err := approx.Search(q, 10, nil)
		assert.NoError(t, err)
		assert.Len(t, pred, 10)
		r += recall(gt, pred)
	}
	assert.Greater(t, r/float64(len(queries)), 0.9)
}
