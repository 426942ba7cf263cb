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

package cf

import (
	"context"
	"math"
	"math/rand"

	"github.com/deliverhub/recommender/common/parallel"
	"github.com/deliverhub/recommender/dataset"
	"github.com/juju/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const oversampling = 10

// TruncatedSVD factors a sparse matrix A (users x items) into k components
// with randomized subspace iteration on AᵀA. The result is a pure function of
// the matrix, k, the seed and the iteration count.
type TruncatedSVD struct {
	K          int
	Iterations int
	Seed       int64
	Jobs       int
}

// SVDResult holds UΣ (users x k), V (items x k) and the singular values in
// descending order.
type SVDResult struct {
	UserFactor     [][]float64
	ItemFactor     [][]float64
	SingularValues []float64
}

func (svd *TruncatedSVD) Fit(ctx context.Context, m *dataset.InteractionMatrix) (*SVDResult, error) {
	nUsers, nItems := m.CountUsers(), m.CountItems()
	k := min(svd.K, nUsers, nItems)
	if k <= 0 {
		return nil, errors.NotValidf("truncated SVD of a %dx%d matrix with %d components", nUsers, nItems, svd.K)
	}
	l := min(k+oversampling, nItems)
	rng := rand.New(rand.NewSource(svd.Seed))

	// random starting subspace
	start := make([]float64, nItems*l)
	for i := range start {
		start[i] = rng.NormFloat64()
	}
	q, err := orthonormalize(mat.NewDense(nItems, l, start))
	if err != nil {
		return nil, errors.Trace(err)
	}

	// power iterations: Q <- orth(AᵀA Q)
	for it := 0; it < svd.Iterations; it++ {
		y, err := svd.mulA(ctx, m, q)
		if err != nil {
			return nil, errors.Trace(err)
		}
		z, err := svd.mulAT(ctx, m, y)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if q, err = orthonormalize(z); err != nil {
			return nil, errors.Trace(err)
		}
	}

	// Rayleigh-Ritz: B = (AQ)ᵀ(AQ) = W Λ Wᵀ
	y, err := svd.mulA(ctx, m, q)
	if err != nil {
		return nil, errors.Trace(err)
	}
	b := mat.NewSymDense(l, nil)
	b.SymOuterK(1, y.T())
	var eigen mat.EigenSym
	if !eigen.Factorize(b, true) {
		return nil, errors.New("eigendecomposition did not converge")
	}
	eigenvalues := eigen.Values(nil)
	var w, qw mat.Dense
	eigen.VectorsTo(&w)
	qw.Mul(q, &w)

	// eigenvalues are ascending, components are taken from the back
	itemFactor := mat.NewDense(nItems, k, nil)
	singularValues := make([]float64, k)
	for c := 0; c < k; c++ {
		src := l - 1 - c
		singularValues[c] = math.Sqrt(math.Max(eigenvalues[src], 0))
		column := mat.Col(nil, src, &qw)
		// the largest-magnitude entry of each item component is positive
		pivot := 0
		for i := 1; i < nItems; i++ {
			if math.Abs(column[i]) > math.Abs(column[pivot]) {
				pivot = i
			}
		}
		if column[pivot] < 0 {
			for i := range column {
				column[i] = -column[i]
			}
		}
		itemFactor.SetCol(c, column)
	}
	// UΣ = AV
	userFactor, err := svd.mulA(ctx, m, itemFactor)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &SVDResult{
		UserFactor:     toRows(userFactor),
		ItemFactor:     toRows(itemFactor),
		SingularValues: singularValues,
	}, nil
}

// mulA computes A X for X of shape items x c. Rows are independent, so the
// result does not depend on the number of jobs.
func (svd *TruncatedSVD) mulA(ctx context.Context, m *dataset.InteractionMatrix, x *mat.Dense) (*mat.Dense, error) {
	_, c := x.Dims()
	y := mat.NewDense(m.CountUsers(), c, nil)
	err := parallel.For(ctx, m.CountUsers(), svd.Jobs, func(u int) {
		row := y.RawRowView(u)
		for _, e := range m.Row(u) {
			floats.AddScaled(row, float64(e.B), x.RawRowView(int(e.A)))
		}
	})
	return y, errors.Trace(err)
}

// mulAT computes Aᵀ Y for Y of shape users x c.
func (svd *TruncatedSVD) mulAT(ctx context.Context, m *dataset.InteractionMatrix, y *mat.Dense) (*mat.Dense, error) {
	_, c := y.Dims()
	x := mat.NewDense(m.CountItems(), c, nil)
	err := parallel.For(ctx, m.CountItems(), svd.Jobs, func(i int) {
		row := x.RawRowView(i)
		for _, e := range m.Column(i) {
			floats.AddScaled(row, float64(e.B), y.RawRowView(int(e.A)))
		}
	})
	return x, errors.Trace(err)
}

// orthonormalize returns an orthonormal basis of the column space of a, taken
// from the left singular vectors of its thin SVD. Rank deficient inputs still
// yield as many orthonormal columns as a has.
func orthonormalize(a *mat.Dense) (*mat.Dense, error) {
	var dec mat.SVD
	if !dec.Factorize(a, mat.SVDThin) {
		return nil, errors.New("orthonormalization did not converge")
	}
	var u mat.Dense
	dec.UTo(&u)
	return &u, nil
}

func toRows(d *mat.Dense) [][]float64 {
	r, _ := d.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = d.RawRowView(i)
	}
	return rows
}
