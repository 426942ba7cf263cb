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
	"bytes"
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/deliverhub/recommender/base/encoding"
	"github.com/deliverhub/recommender/common/ann"
	"github.com/deliverhub/recommender/config"
	"github.com/deliverhub/recommender/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

func newConfig(nFactors int) config.CollaborativeConfig {
	cfg := config.GetDefaultConfig().Collaborative
	cfg.NumFactors = nFactors
	cfg.NumJobs = 2
	return cfg
}

type ModelTestSuite struct {
	suite.Suite
	matrix *dataset.InteractionMatrix
	model  *Model
}

func (suite *ModelTestSuite) SetupTest() {
	suite.matrix = dataset.NewInteractionMatrix([]dataset.Interaction{
		{UserId: "u1", ItemId: "biryani", Rating: 5},
		{UserId: "u1", ItemId: "naan", Rating: 3},
		{UserId: "u2", ItemId: "naan", Rating: 4},
		{UserId: "u2", ItemId: "lassi", Rating: 2},
		{UserId: "u2", ItemId: "kulfi", Rating: 1},
	}, dataset.WithUsers("u1", "u2", "u3"))
	suite.model = NewModel(newConfig(2))
	suite.NoError(suite.model.Fit(context.Background(), suite.matrix))
}

func (suite *ModelTestSuite) TestFit() {
	suite.True(suite.model.IsFitted())
	suite.Equal(2, suite.model.NumFactors())
	suite.Len(suite.model.UserFactor, 3)
	suite.Len(suite.model.ItemFactor, 4)
	suite.GreaterOrEqual(suite.model.SingularValues[0], suite.model.SingularValues[1])
}

func (suite *ModelTestSuite) TestRecommendForUser() {
	recommendations, err := suite.model.RecommendForUser("u1", 2, []string{"biryani"})
	suite.NoError(err)
	suite.Len(recommendations, 2)
	suite.NotContains(lo.Map(recommendations, func(s Score, _ int) string { return s.Id }), "biryani")
	suite.GreaterOrEqual(recommendations[0].Score, recommendations[1].Score)

	// a registered user without ratings has a zero factor
	recommendations, err = suite.model.RecommendForUser("u3", 3, nil)
	suite.NoError(err)
	suite.Len(recommendations, 3)
	for _, r := range recommendations {
		suite.Zero(r.Score)
	}

	recommendations, err = suite.model.RecommendForUser("unknown", 3, nil)
	suite.NoError(err)
	suite.NotNil(recommendations)
	suite.Empty(recommendations)
	recommendations, err = suite.model.RecommendForUser("u1", 0, nil)
	suite.NoError(err)
	suite.Empty(recommendations)
}

func (suite *ModelTestSuite) TestSimilar() {
	users, err := suite.model.SimilarUsers("u1", 5)
	suite.NoError(err)
	suite.Len(users, 2)
	suite.NotContains(lo.Map(users, func(s Score, _ int) string { return s.Id }), "u1")
	items, err := suite.model.SimilarItems("lassi", 2)
	suite.NoError(err)
	suite.Len(items, 2)
	// lassi and kulfi are rated by the same single user
	suite.Equal("kulfi", items[0].Id)
	suite.InDelta(1, items[0].Score, 1e-4)
	items, err = suite.model.SimilarItems("unknown", 2)
	suite.NoError(err)
	suite.Empty(items)
	users, err = suite.model.SimilarUsers("unknown", 2)
	suite.NoError(err)
	suite.Empty(users)
}

func (suite *ModelTestSuite) TestPredictRating() {
	for _, userId := range []string{"u1", "u2", "u3"} {
		for _, itemId := range suite.matrix.ItemIds() {
			rating, ok, err := suite.model.PredictRating(userId, itemId)
			suite.NoError(err)
			suite.True(ok)
			suite.GreaterOrEqual(rating, MinRating)
			suite.LessOrEqual(rating, MaxRating)
		}
	}
	_, ok, err := suite.model.PredictRating("unknown", "naan")
	suite.NoError(err)
	suite.False(ok)
	_, ok, err = suite.model.PredictRating("u1", "unknown")
	suite.NoError(err)
	suite.False(ok)
}

func (suite *ModelTestSuite) TestBatchPredict() {
	predictions, err := suite.model.BatchPredict(context.Background(), []lo.Tuple2[string, string]{
		{A: "u2", B: "kulfi"},
		{A: "unknown", B: "naan"},
		{A: "u1", B: "biryani"},
		{A: "u1", B: "unknown"},
		{A: "u1", B: "naan"},
	})
	suite.NoError(err)
	suite.Equal([]lo.Tuple2[string, string]{{A: "u2", B: "kulfi"}, {A: "u1", B: "biryani"}, {A: "u1", B: "naan"}},
		lo.Map(predictions, func(p Prediction, _ int) lo.Tuple2[string, string] { return lo.T2(p.UserId, p.ItemId) }))
	for _, p := range predictions {
		rating, _, _ := suite.model.PredictRating(p.UserId, p.ItemId)
		suite.Equal(rating, p.Rating)
	}
}

func (suite *ModelTestSuite) TestMarshal() {
	buf := bytes.NewBuffer(nil)
	suite.NoError(suite.model.Marshal(buf))
	loaded := NewModel(newConfig(2), ann.WithBackend(ann.HNSW))
	suite.NoError(loaded.Unmarshal(buf))
	suite.Equal(suite.model.UserDict.Strings(), loaded.UserDict.Strings())
	suite.Equal(suite.model.ItemDict.Strings(), loaded.ItemDict.Strings())
	suite.Equal(suite.model.UserFactor, loaded.UserFactor)
	suite.Equal(suite.model.ItemFactor, loaded.ItemFactor)
	suite.Equal(suite.model.SingularValues, loaded.SingularValues)
	expected, err := suite.model.RecommendForUser("u1", 4, nil)
	suite.NoError(err)
	actual, err := loaded.RecommendForUser("u1", 4, nil)
	suite.NoError(err)
	suite.Equal(expected, actual)

	// truncated stream
	buf = bytes.NewBuffer(nil)
	suite.NoError(suite.model.Marshal(buf))
	broken := NewModel(newConfig(2))
	suite.Error(broken.Unmarshal(bytes.NewReader(buf.Bytes()[:buf.Len()-3])))
	suite.False(broken.IsFitted())
}

func (suite *ModelTestSuite) TestUnmarshalForgedFactors() {
	// many users and a long singular value vector declare factors far larger
	// than the stream
	buf := bytes.NewBuffer(nil)
	users := dataset.NewFreqDict()
	for i := 0; i < 1<<15; i++ {
		users.NotCount(fmt.Sprint(i))
	}
	suite.NoError(users.Marshal(buf))
	suite.NoError(suite.model.ItemDict.Marshal(buf))
	suite.NoError(encoding.WriteVector(buf, make([]float32, 1<<16)))
	loaded := NewModel(newConfig(2))
	suite.ErrorIs(loaded.Unmarshal(buf), encoding.ErrCorrupted)
	suite.False(loaded.IsFitted())
}

func TestModel(t *testing.T) {
	suite.Run(t, new(ModelTestSuite))
}

func TestDeterministic(t *testing.T) {
	interactions := make([]dataset.Interaction, 0)
	for u := 0; u < 20; u++ {
		for i := 0; i < 15; i++ {
			if (u*7+i*3)%4 == 0 {
				interactions = append(interactions, dataset.Interaction{
					UserId: fmt.Sprintf("u%d", u),
					ItemId: fmt.Sprintf("i%d", i),
					Rating: float32((u+i)%5 + 1),
				})
			}
		}
	}
	matrix := dataset.NewInteractionMatrix(interactions)
	a, b := NewModel(newConfig(4)), NewModel(newConfig(4))
	assert.NoError(t, a.Fit(context.Background(), matrix))
	b.cfg.NumJobs = 7
	assert.NoError(t, b.Fit(context.Background(), matrix))
	assert.Equal(t, a.UserFactor, b.UserFactor)
	assert.Equal(t, a.ItemFactor, b.ItemFactor)
	assert.Equal(t, a.SingularValues, b.SingularValues)
}

func TestClampFactors(t *testing.T) {
	matrix := dataset.NewInteractionMatrix([]dataset.Interaction{
		{UserId: "u1", ItemId: "i1", Rating: 4},
		{UserId: "u2", ItemId: "i2", Rating: 2},
	})
	m := NewModel(newConfig(50))
	assert.NoError(t, m.Fit(context.Background(), matrix))
	assert.Equal(t, 2, m.NumFactors())
	assert.InDeltaSlice(t, []float32{4, 2}, m.SingularValues, 1e-4)
}

func TestDegenerateInput(t *testing.T) {
	m := NewModel(newConfig(2))
	assert.True(t, errors.Is(m.Fit(context.Background(), nil), errors.NotValid))
	assert.True(t, errors.Is(m.Fit(context.Background(), dataset.NewInteractionMatrix(nil)), errors.NotValid))
	zeros := dataset.NewInteractionMatrix([]dataset.Interaction{{UserId: "u1", ItemId: "i1", Rating: 0}})
	assert.True(t, errors.Is(m.Fit(context.Background(), zeros), errors.NotValid))
	assert.False(t, m.IsFitted())
	_, err := m.RecommendForUser("u1", 1, nil)
	assert.ErrorIs(t, err, dataset.ErrNotReady)
	_, err = m.SimilarUsers("u1", 1)
	assert.ErrorIs(t, err, dataset.ErrNotReady)
	_, err = m.SimilarItems("i1", 1)
	assert.ErrorIs(t, err, dataset.ErrNotReady)
	_, ok, err := m.PredictRating("u1", "i1")
	assert.ErrorIs(t, err, dataset.ErrNotReady)
	assert.False(t, ok)
	_, err = m.BatchPredict(context.Background(), []lo.Tuple2[string, string]{{A: "u1", B: "i1"}})
	assert.ErrorIs(t, err, dataset.ErrNotReady)
	assert.Error(t, m.Marshal(bytes.NewBuffer(nil)))
}

func TestReconstruction(t *testing.T) {
	dense := [][]float32{
		{5, 3, 0},
		{4, 0, 1},
		{1, 1, 0},
		{0, 2, 5},
	}
	var interactions []dataset.Interaction
	for u, row := range dense {
		for i, rating := range row {
			if rating != 0 {
				interactions = append(interactions, dataset.Interaction{
					UserId: string(rune('a' + u)),
					ItemId: string(rune('A' + i)),
					Rating: rating,
				})
			}
		}
	}
	matrix := dataset.NewInteractionMatrix(interactions)
	svd := &TruncatedSVD{K: 3, Iterations: 10, Jobs: 2}
	result, err := svd.Fit(context.Background(), matrix)
	assert.NoError(t, err)
	// full rank factors reproduce the matrix
	for u := range dense {
		for i := range dense[u] {
			var sum float64
			for c := 0; c < 3; c++ {
				sum += result.UserFactor[u][c] * result.ItemFactor[i][c]
			}
			assert.InDelta(t, dense[u][i], sum, 1e-6)
		}
	}
	// item factors are orthonormal
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			var dot float64
			for i := range result.ItemFactor {
				dot += result.ItemFactor[i][a] * result.ItemFactor[i][b]
			}
			assert.InDelta(t, lo.Ternary(a == b, 1.0, 0.0), dot, 1e-9)
		}
	}
	assert.IsNonIncreasing(t, result.SingularValues)
	// the largest-magnitude entry of each item component is positive
	for c := 0; c < 3; c++ {
		column := lo.Map(result.ItemFactor, func(row []float64, _ int) float64 { return row[c] })
		largest := lo.MaxBy(column, func(a, b float64) bool { return math.Abs(a) > math.Abs(b) })
		assert.Positive(t, largest)
	}

	// the same seed reproduces the factors
	again, err := svd.Fit(context.Background(), matrix)
	assert.NoError(t, err)
	assert.Equal(t, result, again)
}
