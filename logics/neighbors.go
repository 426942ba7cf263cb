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

package logics

import (
	"context"
	"io"
	"sort"

	"github.com/deliverhub/recommender/base/encoding"
	"github.com/deliverhub/recommender/common/floats"
	"github.com/deliverhub/recommender/common/heap"
	"github.com/deliverhub/recommender/common/parallel"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// NeighborTable keeps the top neighbors of every row by cosine similarity of
// sparse vectors. Rows without any co-rated entry have no neighbors.
type NeighborTable struct {
	Neighbors [][]lo.Tuple2[int32, float32]
}

// BuildNeighborTable computes neighbors for n rows. vector returns the sparse
// vector of a row and inverted returns the rows that have a nonzero entry in
// a column. Only the top cutoff neighbors of each row are kept; ties are
// broken by row index.
func BuildNeighborTable(ctx context.Context, n, cutoff, jobs int,
	vector func(int) []lo.Tuple2[int32, float32],
	inverted func(int) []lo.Tuple2[int32, float32],
) (*NeighborTable, error) {
	norms := make([]float32, n)
	for i := 0; i < n; i++ {
		norms[i] = floats.Norm(lo.Map(vector(i), func(e lo.Tuple2[int32, float32], _ int) float32 { return e.B }))
	}
	table := &NeighborTable{Neighbors: make([][]lo.Tuple2[int32, float32], n)}
	err := parallel.For(ctx, n, max(jobs, 1), func(i int) {
		table.Neighbors[i] = []lo.Tuple2[int32, float32]{}
		if norms[i] == 0 {
			return
		}
		dots := make(map[int32]float32)
		for _, e := range vector(i) {
			for _, other := range inverted(int(e.A)) {
				if int(other.A) != i {
					dots[other.A] += e.B * other.B
				}
			}
		}
		candidates := lo.Keys(dots)
		sort.Slice(candidates, func(a, b int) bool { return candidates[a] < candidates[b] })
		filter := heap.NewTopKFilter[int32, float32](cutoff)
		for _, j := range candidates {
			if norms[j] == 0 || dots[j] == 0 {
				continue
			}
			filter.Push(j, dots[j]/(norms[i]*norms[j]))
		}
		ids, scores := filter.PopAll()
		for k := range ids {
			table.Neighbors[i] = append(table.Neighbors[i], lo.Tuple2[int32, float32]{A: ids[k], B: scores[k]})
		}
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return table, nil
}

// Get returns up to k neighbors of row i in descending similarity.
func (t *NeighborTable) Get(i, k int) []lo.Tuple2[int32, float32] {
	if i < 0 || i >= len(t.Neighbors) {
		return nil
	}
	neighbors := t.Neighbors[i]
	if k >= 0 && len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors
}

func (t *NeighborTable) Marshal(w io.Writer) error {
	return errors.Trace(encoding.WriteGob(w, t.Neighbors))
}

func UnmarshalNeighborTable(r io.Reader) (*NeighborTable, error) {
	t := new(NeighborTable)
	if err := encoding.ReadGob(r, &t.Neighbors); err != nil {
		return nil, errors.Trace(err)
	}
	return t, nil
}
