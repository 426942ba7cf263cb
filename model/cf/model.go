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
	"io"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/deliverhub/recommender/base/encoding"
	"github.com/deliverhub/recommender/base/log"
	"github.com/deliverhub/recommender/common/ann"
	"github.com/deliverhub/recommender/common/floats"
	"github.com/deliverhub/recommender/common/heap"
	"github.com/deliverhub/recommender/common/parallel"
	"github.com/deliverhub/recommender/config"
	"github.com/deliverhub/recommender/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	MinRating float32 = 1
	MaxRating float32 = 5
)

type Score struct {
	Id    string
	Score float32
}

type Prediction struct {
	UserId string
	ItemId string
	Rating float32
}

// Model is a collaborative filtering model based on truncated SVD. User
// factors are UΣ and item factors are V, so a rating is approximated by the
// dot product of a user factor and an item factor.
type Model struct {
	cfg       config.CollaborativeConfig
	indexOpts []ann.Option

	UserDict       *dataset.FreqDict
	ItemDict       *dataset.FreqDict
	UserFactor     [][]float32
	ItemFactor     [][]float32
	SingularValues []float32

	userIndex *ann.Index
	itemIndex *ann.Index
}

func NewModel(cfg config.CollaborativeConfig, opts ...ann.Option) *Model {
	return &Model{cfg: cfg, indexOpts: opts}
}

func (m *Model) IsFitted() bool {
	return m.UserDict != nil && m.ItemDict != nil
}

// NumFactors returns the number of components after clamping.
func (m *Model) NumFactors() int {
	return len(m.SingularValues)
}

// Fit factors the matrix. The previous state is kept if fitting fails.
func (m *Model) Fit(ctx context.Context, matrix *dataset.InteractionMatrix) error {
	if matrix == nil || matrix.CountUsers() == 0 || matrix.CountItems() == 0 {
		return errors.NotValidf("empty interaction matrix")
	}
	if matrix.CountNonzero() == 0 {
		return errors.NotValidf("interaction matrix without nonzero ratings")
	}
	k := m.cfg.NumFactors
	if limit := min(matrix.CountUsers(), matrix.CountItems()); k > limit {
		log.Logger().Warn("clamp number of factors",
			zap.Int("n_factors", k),
			zap.Int("n_users", matrix.CountUsers()),
			zap.Int("n_items", matrix.CountItems()))
		k = limit
	}
	log.Logger().Info("fit truncated svd",
		zap.Int("n_users", matrix.CountUsers()),
		zap.Int("n_items", matrix.CountItems()),
		zap.Int("n_interactions", matrix.CountInteractions()),
		zap.Int("n_factors", k))
	start := time.Now()
	svd := &TruncatedSVD{
		K:          k,
		Iterations: m.cfg.NumIterations,
		Seed:       m.cfg.RandomState,
		Jobs:       max(m.cfg.NumJobs, 1),
	}
	result, err := svd.Fit(ctx, matrix)
	if err != nil {
		return errors.Trace(err)
	}

	userDict, itemDict := dataset.NewFreqDict(), dataset.NewFreqDict()
	for _, userId := range matrix.UserIds() {
		userDict.NotCount(userId)
	}
	for _, itemId := range matrix.ItemIds() {
		itemDict.NotCount(itemId)
	}
	userFactor := toFloat32(result.UserFactor)
	itemFactor := toFloat32(result.ItemFactor)
	userIndex, itemIndex, err := m.buildIndexes(userDict, itemDict, userFactor, itemFactor, k)
	if err != nil {
		return errors.Trace(err)
	}
	m.UserDict, m.ItemDict = userDict, itemDict
	m.UserFactor, m.ItemFactor = userFactor, itemFactor
	m.SingularValues = lo.Map(result.SingularValues, func(v float64, _ int) float32 { return float32(v) })
	m.userIndex, m.itemIndex = userIndex, itemIndex
	log.Logger().Info("fit truncated svd complete",
		zap.Duration("fit_time", time.Since(start)),
		zap.Float32s("singular_values", m.SingularValues))
	return nil
}

func (m *Model) buildIndexes(userDict, itemDict *dataset.FreqDict, userFactor, itemFactor [][]float32, k int) (*ann.Index, *ann.Index, error) {
	userIndex := ann.NewIndex(k, m.indexOpts...)
	if err := userIndex.Add(userDict.Strings(), userFactor, nil); err != nil {
		return nil, nil, errors.Trace(err)
	}
	itemIndex := ann.NewIndex(k, m.indexOpts...)
	if err := itemIndex.Add(itemDict.Strings(), itemFactor, nil); err != nil {
		return nil, nil, errors.Trace(err)
	}
	now := time.Now()
	userIndex.SetTimestamp(now)
	itemIndex.SetTimestamp(now)
	return userIndex, itemIndex, nil
}

func toFloat32(a [][]float64) [][]float32 {
	b := make([][]float32, len(a))
	for i := range a {
		b[i] = make([]float32, len(a[i]))
		for j := range a[i] {
			b[i][j] = float32(a[i][j])
		}
	}
	return b
}

// RecommendForUser ranks every item by predicted score, skipping excluded
// items. Unknown users get no recommendations.
func (m *Model) RecommendForUser(userId string, n int, exclude []string) ([]Score, error) {
	if !m.IsFitted() {
		return nil, dataset.ErrNotReady
	}
	if n <= 0 {
		return []Score{}, nil
	}
	userIndex, ok := m.UserDict.Lookup(userId)
	if !ok {
		log.Logger().Debug("unknown user", zap.String("user_id", userId))
		return []Score{}, nil
	}
	excluded := mapset.NewThreadUnsafeSet(exclude...)
	filter := heap.NewTopKFilter[int, float32](n)
	for itemIndex, itemFactor := range m.ItemFactor {
		itemId, _ := m.ItemDict.String(itemIndex)
		if excluded.Contains(itemId) {
			continue
		}
		filter.Push(itemIndex, floats.Dot(m.UserFactor[userIndex], itemFactor))
	}
	items, scores := filter.PopAll()
	results := make([]Score, len(items))
	for i, itemIndex := range items {
		results[i].Id, _ = m.ItemDict.String(itemIndex)
		results[i].Score = scores[i]
	}
	return results, nil
}

// SimilarUsers returns users ranked by cosine similarity of user factors.
func (m *Model) SimilarUsers(userId string, n int) ([]Score, error) {
	if !m.IsFitted() {
		return nil, dataset.ErrNotReady
	}
	return toScores(m.userIndex.SimilarTo(userId, n, true)), nil
}

// SimilarItems returns items ranked by cosine similarity of item factors.
func (m *Model) SimilarItems(itemId string, n int) ([]Score, error) {
	if !m.IsFitted() {
		return nil, dataset.ErrNotReady
	}
	return toScores(m.itemIndex.SimilarTo(itemId, n, true)), nil
}

func toScores(results []ann.Result) []Score {
	return lo.Map(results, func(r ann.Result, _ int) Score {
		return Score{Id: r.Id, Score: r.Similarity}
	})
}

// PredictRating returns the clamped rating of a pair, or false if either side
// is unknown.
func (m *Model) PredictRating(userId, itemId string) (float32, bool, error) {
	if !m.IsFitted() {
		return 0, false, dataset.ErrNotReady
	}
	userIndex, ok := m.UserDict.Lookup(userId)
	if !ok {
		return 0, false, nil
	}
	itemIndex, ok := m.ItemDict.Lookup(itemId)
	if !ok {
		return 0, false, nil
	}
	return m.predict(userIndex, itemIndex), true, nil
}

func (m *Model) predict(userIndex, itemIndex int) float32 {
	return floats.Clamp(floats.Dot(m.UserFactor[userIndex], m.ItemFactor[itemIndex]), MinRating, MaxRating)
}

// BatchPredict predicts pairs of (user, item) in parallel. Unknown pairs are
// omitted and the rest keep their input order.
func (m *Model) BatchPredict(ctx context.Context, pairs []lo.Tuple2[string, string]) ([]Prediction, error) {
	if !m.IsFitted() {
		return nil, dataset.ErrNotReady
	}
	predictions := make([]Prediction, len(pairs))
	known := make([]bool, len(pairs))
	err := parallel.ForEach(ctx, pairs, max(m.cfg.NumJobs, 1), func(i int, pair lo.Tuple2[string, string]) {
		if rating, ok, _ := m.PredictRating(pair.A, pair.B); ok {
			predictions[i] = Prediction{UserId: pair.A, ItemId: pair.B, Rating: rating}
			known[i] = true
		}
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Filter(predictions, func(_ Prediction, i int) bool { return known[i] }), nil
}

// Marshal writes dictionaries, singular values and factors.
func (m *Model) Marshal(w io.Writer) error {
	if !m.IsFitted() {
		return errors.NotValidf("unfitted model")
	}
	if err := m.UserDict.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	if err := m.ItemDict.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteVector(w, m.SingularValues); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteMatrix(w, m.UserFactor); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(encoding.WriteMatrix(w, m.ItemFactor))
}

// Unmarshal reads a model written by Marshal and rebuilds the similarity
// indexes.
func (m *Model) Unmarshal(r io.Reader) error {
	userDict, err := dataset.UnmarshalFreqDict(r)
	if err != nil {
		return errors.Trace(err)
	}
	itemDict, err := dataset.UnmarshalFreqDict(r)
	if err != nil {
		return errors.Trace(err)
	}
	singularValues, err := encoding.ReadVector(r)
	if err != nil {
		return errors.Trace(err)
	}
	k := len(singularValues)
	if int64(userDict.Count()+itemDict.Count())*int64(k) > encoding.MaxLength {
		return errors.Annotatef(encoding.ErrCorrupted, "%d users and %d items with %d factors",
			userDict.Count(), itemDict.Count(), k)
	}
	userFactor := newMatrix32(userDict.Count(), k)
	if err = encoding.ReadMatrix(r, userFactor); err != nil {
		return errors.Trace(err)
	}
	itemFactor := newMatrix32(itemDict.Count(), k)
	if err = encoding.ReadMatrix(r, itemFactor); err != nil {
		return errors.Trace(err)
	}
	userIndex, itemIndex, err := m.buildIndexes(userDict, itemDict, userFactor, itemFactor, k)
	if err != nil {
		return errors.Trace(err)
	}
	m.UserDict, m.ItemDict = userDict, itemDict
	m.UserFactor, m.ItemFactor = userFactor, itemFactor
	m.SingularValues = singularValues
	m.userIndex, m.itemIndex = userIndex, itemIndex
	return nil
}

func newMatrix32(rows, cols int) [][]float32 {
	m := make([][]float32, rows)
	for i := range m {
		m[i] = make([]float32, cols)
	}
	return m
}
