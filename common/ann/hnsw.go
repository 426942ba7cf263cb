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
	"math/rand"

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/deliverhub/recommender/common/floats"
	"github.com/deliverhub/recommender/common/heap"
	"github.com/samber/lo"
)

// hnsw is a graph over unit vectors based on Hierarchical Navigable Small
// Worlds. The distance is the negative inner product. It is not safe for
// concurrent insertion; the owning Index serializes writes.
type hnsw struct {
	vectors         [][]float32
	bottomNeighbors []*heap.PriorityQueue
	upperNeighbors  []map[int32]*heap.PriorityQueue
	enterPoint      int32
	rng             *rand.Rand

	levelFactor    float32
	maxConnection  int // maximum number of connections for each element per layer
	maxConnection0 int
	ef             int
	efConstruction int
}

func newHNSW(seed int64, ef int) *hnsw {
	return &hnsw{
		rng:            rand.New(rand.NewSource(seed)),
		levelFactor:    1.0 / math32.Log(16),
		maxConnection:  16,
		maxConnection0: 32,
		ef:             ef,
		efConstruction: 100,
		enterPoint:     -1,
	}
}

func (h *hnsw) distance(a, b []float32) float32 {
	return -floats.Dot(a, b)
}

// add appends a vector and links it into the graph.
func (h *hnsw) add(v []float32) {
	h.vectors = append(h.vectors, v)
	h.bottomNeighbors = append(h.bottomNeighbors, heap.NewPriorityQueue(false))
	h.insert(int32(len(h.vectors) - 1))
}

// search returns up to k (position, similarity) pairs ordered by descending similarity.
func (h *hnsw) search(q []float32, k int) []lo.Tuple2[int, float32] {
	if len(h.vectors) == 0 || k <= 0 {
		return nil
	}
	w := h.knnSearch(q, k, h.efSearchValue(k))
	// w pops nearest first
	scores := make([]lo.Tuple2[int, float32], 0, w.Len())
	for w.Len() > 0 {
		value, dist := w.Pop()
		scores = append(scores, lo.Tuple2[int, float32]{A: int(value), B: -dist})
	}
	return scores
}

func (h *hnsw) knnSearch(q []float32, k, ef int) *heap.PriorityQueue {
	var (
		w           *heap.PriorityQueue                    // set for the current the nearest element
		enterPoints = h.distances(q, []int32{h.enterPoint}) // get enter point for hnsw
		topLayer    = len(h.upperNeighbors)                 // top layer for hnsw
	)
	for currentLayer := topLayer; currentLayer > 0; currentLayer-- {
		w = h.searchLayer(q, enterPoints, 1, currentLayer)
		enterPoints = heap.NewPriorityQueue(false)
		enterPoints.Push(w.Peek())
	}
	w = h.searchLayer(q, enterPoints, ef, 0)
	return h.selectNeighbors(w, k)
}

// insert q-th vector into the graph.
func (h *hnsw) insert(q int32) {
	if h.enterPoint < 0 {
		h.enterPoint = q
		return
	}
	var (
		w           *heap.PriorityQueue                               // list for the currently found nearest elements
		enterPoints = h.distances(h.vectors[q], []int32{h.enterPoint}) // get enter point for hnsw
		l           = int(math32.Floor(-math32.Log(1-h.rng.Float32()) * h.levelFactor))
		topLayer    = len(h.upperNeighbors)
	)

	for currentLayer := topLayer; currentLayer >= l+1; currentLayer-- {
		w = h.searchLayer(h.vectors[q], enterPoints, 1, currentLayer)
		enterPoints = h.selectNeighbors(w, 1)
	}

	for currentLayer := min(topLayer, l); currentLayer >= 0; currentLayer-- {
		w = h.searchLayer(h.vectors[q], enterPoints, h.efConstruction, currentLayer)
		neighbors := h.selectNeighbors(w, h.maxConnection)
		// add bidirectional connections from neighbors to q at layer l_c
		h.setNeighbourhood(q, currentLayer, neighbors)
		for _, e := range neighbors.Elems() {
			connections := h.getNeighbourhood(e.Value, currentLayer)
			connections.Push(q, e.Weight)
			currentMaxConnection := h.maxConnection
			if currentLayer == 0 {
				currentMaxConnection = h.maxConnection0
			}
			if connections.Len() > currentMaxConnection {
				// shrink connections of e
				h.setNeighbourhood(e.Value, currentLayer, h.selectNeighbors(connections, currentMaxConnection))
			}
		}
		enterPoints = w
	}

	for l > len(h.upperNeighbors) {
		h.upperNeighbors = append(h.upperNeighbors, make(map[int32]*heap.PriorityQueue))
		h.setNeighbourhood(q, len(h.upperNeighbors), heap.NewPriorityQueue(false))
		h.enterPoint = q
	}
}

func (h *hnsw) searchLayer(q []float32, enterPoints *heap.PriorityQueue, ef, currentLayer int) *heap.PriorityQueue {
	var (
		v          = mapset.NewThreadUnsafeSet(enterPoints.Values()...) // set of visited elements
		candidates = enterPoints.Clone()                                // set of candidates
		w          = enterPoints.Reverse()                              // dynamic list of found nearest neighbors
	)
	for candidates.Len() > 0 {
		// extract nearest element from candidates to q
		c, cq := candidates.Pop()
		// get the furthest element from w to q
		_, fq := w.Peek()
		if cq > fq {
			break // all elements in w are evaluated
		}
		neighbors := h.getNeighbourhood(c, currentLayer)
		if neighbors == nil {
			continue
		}
		for _, e := range neighbors.Values() {
			if v.Contains(e) {
				continue
			}
			v.Add(e)
			_, fq = w.Peek()
			if eq := h.distance(h.vectors[e], q); eq < fq || w.Len() < ef {
				candidates.Push(e, eq)
				w.Push(e, eq)
				if w.Len() > ef {
					// remove the furthest element from w to q
					w.Pop()
				}
			}
		}
	}
	return w.Reverse()
}

func (h *hnsw) setNeighbourhood(e int32, currentLayer int, connections *heap.PriorityQueue) {
	if currentLayer == 0 {
		h.bottomNeighbors[e] = connections
	} else {
		h.upperNeighbors[currentLayer-1][e] = connections
	}
}

func (h *hnsw) getNeighbourhood(e int32, currentLayer int) *heap.PriorityQueue {
	if currentLayer == 0 {
		return h.bottomNeighbors[e]
	}
	return h.upperNeighbors[currentLayer-1][e]
}

// selectNeighbors keeps the m nearest candidates.
func (h *hnsw) selectNeighbors(candidates *heap.PriorityQueue, m int) *heap.PriorityQueue {
	pq := candidates.Reverse()
	for pq.Len() > m {
		pq.Pop()
	}
	return pq.Reverse()
}

func (h *hnsw) distances(q []float32, points []int32) *heap.PriorityQueue {
	pq := heap.NewPriorityQueue(false)
	for _, point := range points {
		pq.Push(point, h.distance(h.vectors[point], q))
	}
	return pq
}

// efSearchValue returns the efSearch value to use, given the current number of elements desired.
func (h *hnsw) efSearchValue(n int) int {
	if h.ef > 0 {
		return max(h.ef, n)
	}
	return max(h.efConstruction, n)
}
