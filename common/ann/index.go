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
	"context"
	"runtime"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/deliverhub/recommender/common/floats"
	"github.com/deliverhub/recommender/common/heap"
	"github.com/deliverhub/recommender/common/parallel"
	"github.com/juju/errors"
)

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrCorruptedIndex    = errors.New("corrupted index")
)

type Backend string

const (
	Flat Backend = "flat"
	HNSW Backend = "hnsw"
)

const hnswSeed = 42

// Result of a similarity query. Rank starts at 1.
type Result struct {
	Id         string
	Similarity float32
	Rank       int
	Metadata   Metadata
}

// Predicate keeps a result when it returns true.
type Predicate func(id string, metadata Metadata) bool

type Option func(*Index)

// WithBackend selects the search backend. Flat is exact, HNSW is approximate.
func WithBackend(backend Backend) Option {
	return func(idx *Index) {
		idx.backend = backend
	}
}

// WithScanLimit bounds the number of vectors a flat scan inspects. Only the
// first n vectors in insertion order are candidates, so results past the
// limit are never returned. Zero means unlimited.
func WithScanLimit(n int) Option {
	return func(idx *Index) {
		idx.scanLimit = n
	}
}

// WithEF sets the HNSW search breadth.
func WithEF(ef int) Option {
	return func(idx *Index) {
		idx.ef = ef
	}
}

// Options translates configuration values into index options. Unknown
// backends fall back to Flat.
func Options(backend string, scanLimit, ef int) []Option {
	opts := []Option{WithScanLimit(scanLimit), WithEF(ef)}
	if Backend(backend) == HNSW {
		opts = append(opts, WithBackend(HNSW))
	}
	return opts
}

// Index is an inner-product index over L2-normalized vectors with metadata.
// Reads are safe for concurrent use.
type Index struct {
	mu        sync.RWMutex
	dimension int
	backend   Backend
	scanLimit int
	ef        int
	ids       []string
	positions map[string]int
	vectors   [][]float32
	metadata  []Metadata
	graph     *hnsw
	timestamp time.Time
}

func NewIndex(dimension int, opts ...Option) *Index {
	idx := &Index{
		dimension: dimension,
		backend:   Flat,
		positions: make(map[string]int),
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.backend == HNSW {
		idx.graph = newHNSW(hnswSeed, idx.ef)
	}
	return idx
}

func (idx *Index) Dimension() int {
	return idx.dimension
}

func (idx *Index) Backend() Backend {
	return idx.backend
}

func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.ids)
}

// Ids returns ids in insertion order.
func (idx *Index) Ids() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]string(nil), idx.ids...)
}

func (idx *Index) Contains(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.positions[id]
	return ok
}

// Vector returns the stored unit vector of an id.
func (idx *Index) Vector(id string) ([]float32, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	pos, ok := idx.positions[id]
	if !ok {
		return nil, false
	}
	return idx.vectors[pos], true
}

func (idx *Index) Metadata(id string) (Metadata, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	pos, ok := idx.positions[id]
	if !ok {
		return Metadata{}, false
	}
	return idx.metadata[pos], true
}

func (idx *Index) Timestamp() time.Time {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.timestamp
}

func (idx *Index) SetTimestamp(t time.Time) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.timestamp = t
}

// Add inserts vectors with their ids and metadata. Metadata may be nil. Either
// every vector is added or none is.
func (idx *Index) Add(ids []string, vectors [][]float32, metadata []Metadata) error {
	if len(ids) != len(vectors) {
		return errors.NotValidf("%d ids for %d vectors", len(ids), len(vectors))
	}
	if metadata != nil && len(metadata) != len(ids) {
		return errors.NotValidf("%d metadata for %d ids", len(metadata), len(ids))
	}
	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		normalized[i] = floats.Normalized(v)
	}
	if metadata == nil {
		metadata = make([]Metadata, len(ids))
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.validate(ids, vectors); err != nil {
		return errors.Trace(err)
	}
	idx.insert(ids, normalized, metadata)
	return nil
}

// validate must be called with the write lock held or before the index is shared.
func (idx *Index) validate(ids []string, vectors [][]float32) error {
	seen := mapset.NewThreadUnsafeSet[string]()
	for i, id := range ids {
		if len(vectors[i]) != idx.dimension {
			return errors.Annotatef(ErrDimensionMismatch, "vector %v has dimension %d, expected %d", id, len(vectors[i]), idx.dimension)
		}
		if _, exist := idx.positions[id]; exist || seen.Contains(id) {
			return errors.AlreadyExistsf("vector %v", id)
		}
		seen.Add(id)
	}
	return nil
}

// insert appends unit vectors without checks.
func (idx *Index) insert(ids []string, vectors [][]float32, metadata []Metadata) {
	for i, id := range ids {
		idx.positions[id] = len(idx.ids)
		idx.ids = append(idx.ids, id)
		idx.vectors = append(idx.vectors, vectors[i])
		idx.metadata = append(idx.metadata, metadata[i].clone())
		if idx.graph != nil {
			idx.graph.add(vectors[i])
		}
	}
}

// Search returns the top k vectors by cosine similarity to query, in
// descending order. Results failing predicate are dropped. A predicate forces
// an exact scan on every backend.
func (idx *Index) Search(query []float32, k int, predicate Predicate) ([]Result, error) {
	if len(query) != idx.dimension {
		return nil, errors.Annotatef(ErrDimensionMismatch, "query has dimension %d, expected %d", len(query), idx.dimension)
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.search(floats.Normalized(query), k, func(pos int) bool {
		return predicate == nil || predicate(idx.ids[pos], idx.metadata[pos])
	}, predicate != nil), nil
}

// search must be called with the read lock held.
func (idx *Index) search(q []float32, k int, keep func(pos int) bool, exact bool) []Result {
	if k <= 0 || len(idx.ids) == 0 {
		return []Result{}
	}
	if idx.graph != nil && !exact {
		candidates := idx.graph.search(q, k)
		results := make([]Result, 0, len(candidates))
		for _, c := range candidates {
			if keep(c.A) {
				results = append(results, idx.result(c.A, c.B, len(results)+1))
			}
		}
		return results
	}
	n := len(idx.ids)
	if idx.scanLimit > 0 && idx.scanLimit < n {
		n = idx.scanLimit
	}
	filter := heap.NewTopKFilter[int, float32](k)
	for pos := 0; pos < n; pos++ {
		if keep(pos) {
			filter.Push(pos, floats.Dot(q, idx.vectors[pos]))
		}
	}
	positions, scores := filter.PopAll()
	results := make([]Result, len(positions))
	for i, pos := range positions {
		results[i] = idx.result(pos, scores[i], i+1)
	}
	return results
}

func (idx *Index) result(pos int, similarity float32, rank int) Result {
	return Result{
		Id:         idx.ids[pos],
		Similarity: similarity,
		Rank:       rank,
		Metadata:   idx.metadata[pos],
	}
}

// SimilarTo searches with the stored vector of id. Unknown ids yield no results.
func (idx *Index) SimilarTo(id string, k int, excludeSelf bool) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	pos, ok := idx.positions[id]
	if !ok {
		return []Result{}
	}
	if !excludeSelf {
		return idx.search(idx.vectors[pos], k, func(int) bool { return true }, false)
	}
	var results []Result
	if idx.graph != nil {
		// the query itself occupies one slot
		results = idx.search(idx.vectors[pos], k+1, func(p int) bool { return p != pos }, false)
		if len(results) > k {
			results = results[:k]
		}
	} else {
		results = idx.search(idx.vectors[pos], k, func(p int) bool { return p != pos }, false)
	}
	return results
}

// BatchSearch answers several queries concurrently, one result list per query
// in input order.
func (idx *Index) BatchSearch(ctx context.Context, queries [][]float32, k int) ([][]Result, error) {
	for i, query := range queries {
		if len(query) != idx.dimension {
			return nil, errors.Annotatef(ErrDimensionMismatch, "query %d has dimension %d, expected %d", i, len(query), idx.dimension)
		}
	}
	results := make([][]Result, len(queries))
	err := parallel.For(ctx, len(queries), runtime.GOMAXPROCS(0), func(i int) {
		results[i], _ = idx.Search(queries[i], k, nil)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return results, nil
}

// HybridSearch over-fetches 2k neighbors of query, then keeps those whose
// name, description or category contains textFilter (case-insensitive) and
// that match every metadata filter. No match yields an empty list.
func (idx *Index) HybridSearch(query []float32, textFilter string, filters Filters, k int) ([]Result, error) {
	candidates, err := idx.Search(query, 2*k, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	results := make([]Result, 0, k)
	for _, c := range candidates {
		if len(results) >= k {
			break
		}
		if textFilter != "" && !c.Metadata.ContainsText(textFilter) {
			continue
		}
		if !filters.Match(c.Metadata) {
			continue
		}
		c.Rank = len(results) + 1
		results = append(results, c)
	}
	return results, nil
}

// Stats summarizes the index.
type Stats struct {
	Dimension int
	Size      int
	Backend   Backend
	Timestamp time.Time
}

func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return Stats{
		Dimension: idx.dimension,
		Size:      len(idx.ids),
		Backend:   idx.backend,
		Timestamp: idx.timestamp,
	}
}
