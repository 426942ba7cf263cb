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

package content

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/deliverhub/recommender/common/ann"
	"github.com/deliverhub/recommender/common/floats"
	"github.com/deliverhub/recommender/config"
	"github.com/deliverhub/recommender/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

var catalog = []dataset.Item{
	{ItemId: "paneer", Name: "Paneer Tikka", Description: "grilled cottage cheese", Category: "Indian", BusinessType: "restaurant", IsVegetarian: true, Price: 250},
	{ItemId: "paneer_copy", Name: "Paneer Tikka", Description: "grilled cottage cheese", Category: "Indian", BusinessType: "restaurant", IsVegetarian: true, Price: 250},
	{ItemId: "chicken", Name: "Chicken Tikka", Description: "grilled chicken", Category: "Indian", BusinessType: "restaurant", Price: 320},
	{ItemId: "salad", Name: "Garden Salad", Description: "fresh greens", Category: "Salads", BusinessType: "cafe", IsVegan: true, IsVegetarian: true, Tags: []string{"healthy"}, Price: 90},
	{ItemId: "steak", Name: "Wagyu Steak", Description: "aged beef", Category: "Grill", BusinessType: "restaurant", Price: 1200},
}

func TestDocument(t *testing.T) {
	var extractor FeatureExtractor
	assert.Equal(t, "Garden Salad fresh greens Salads cafe healthy vegetarian vegan budget", extractor.Document(catalog[3]))
	assert.Equal(t, Budget, PriceBucket(99.99))
	assert.Equal(t, Midrange, PriceBucket(100))
	assert.Equal(t, Midrange, PriceBucket(499))
	assert.Equal(t, Premium, PriceBucket(500))
	assert.Equal(t, "Indian vegan midrange", extractor.ProfileDocument(Profile{PreferredCategories: []string{"Indian"}, IsVegan: true}, nil))
	assert.Equal(t, "premium steak doc", extractor.ProfileDocument(Profile{
		PricePreference: Premium,
		LikedItems:      []string{"unknown", "steak"},
	}, func(itemId string) (string, bool) {
		return "steak doc", itemId == "steak"
	}))
}

func TestAnalyze(t *testing.T) {
	v := NewVectorizer(config.ContentConfig{MaxFeatures: 100, MaxNGram: 2, StopWords: true})
	assert.Equal(t, []string{"hot", "spicy", "soup", "hot spicy", "spicy soup"}, v.Analyze("The HOT and spicy soup!"))
	v.StopWords = false
	assert.Equal(t, []string{"a1", "b2", "a1 b2"}, v.Analyze("a1 x b2"))
}

func TestVectorizer(t *testing.T) {
	v := NewVectorizer(config.ContentConfig{MaxFeatures: 3, MaxNGram: 1, StopWords: true})
	assert.NoError(t, v.Fit([]string{"pizza pizza pasta", "pizza salad", "soup"}))
	// pizza (3), then ties broken by term order
	assert.Equal(t, []string{"pasta", "pizza", "salad"}, v.Terms)
	assert.InDelta(t, math.Log(4.0/3.0)+1, v.IDF[1], 1e-6)
	assert.InDelta(t, math.Log(4.0/2.0)+1, v.IDF[0], 1e-6)
	vec := v.Transform("pizza unknown")
	assert.InDeltaSlice(t, []float32{0, 1, 0}, vec, 1e-6)
	assert.Equal(t, []float32{0, 0, 0}, v.Transform("soup"))

	buf := bytes.NewBuffer(nil)
	assert.NoError(t, v.Marshal(buf))
	loaded := new(Vectorizer)
	assert.NoError(t, loaded.Unmarshal(buf))
	assert.Equal(t, v.Terms, loaded.Terms)
	assert.Equal(t, v.Transform("pizza pasta"), loaded.Transform("pizza pasta"))

	assert.True(t, errors.Is(v.Fit(nil), errors.NotValid))
}

type ModelTestSuite struct {
	suite.Suite
	model *Model
}

func (suite *ModelTestSuite) SetupTest() {
	suite.model = NewModel(config.GetDefaultConfig().Content)
	suite.NoError(suite.model.Fit(context.Background(), catalog))
}

func (suite *ModelTestSuite) TestSimilarItems() {
	results, err := suite.model.SimilarItems("paneer", 3, nil)
	suite.NoError(err)
	suite.Len(results, 3)
	suite.Equal("paneer_copy", results[0].Id)
	suite.InDelta(1.0, results[0].Score, 1e-5)
	suite.Equal("chicken", results[1].Id)
	suite.NotContains(lo.Map(results, func(s Score, _ int) string { return s.Id }), "paneer")

	results, err = suite.model.SimilarItems("paneer", 3, []string{"paneer_copy"})
	suite.NoError(err)
	suite.Equal("chicken", results[0].Id)

	results, err = suite.model.SimilarItems("unknown", 3, nil)
	suite.NoError(err)
	suite.NotNil(results)
	suite.Empty(results)
}

func (suite *ModelTestSuite) TestRecommendForProfile() {
	results, err := suite.model.RecommendForProfile(Profile{PreferredCategories: []string{"salads"}, IsVegan: true}, 2)
	suite.NoError(err)
	suite.NotEmpty(results)
	suite.Equal("salad", results[0].Id)

	results, err = suite.model.RecommendForProfile(Profile{LikedItems: []string{"steak"}, PricePreference: Premium}, 1)
	suite.NoError(err)
	suite.Equal([]string{"steak"}, lo.Map(results, func(s Score, _ int) string { return s.Id }))

	// no known terms
	results, err = suite.model.RecommendForProfile(Profile{PreferredCategories: []string{"zzz"}, PricePreference: "qqq"}, 3)
	suite.NoError(err)
	suite.Empty(results)
}

func (suite *ModelTestSuite) TestTopFeatures() {
	features, err := suite.model.TopFeatures("steak", 3)
	suite.NoError(err)
	suite.Len(features, 3)
	suite.GreaterOrEqual(features[0].Weight, features[1].Weight)
	features, err = suite.model.TopFeatures("unknown", 3)
	suite.NoError(err)
	suite.Empty(features)
}

func (suite *ModelTestSuite) TestExplain() {
	explanation, err := suite.model.Explain("paneer", "chicken")
	suite.NoError(err)
	suite.Contains(explanation.CommonFeatures, "tikka")
	suite.Contains(explanation.CommonFeatures, "indian")
	suite.Equal(len(explanation.CommonFeatures), explanation.CommonCount)
	suite.IsNonDecreasing(explanation.CommonFeatures)

	explanation, err = suite.model.Explain("paneer", "paneer_copy")
	suite.NoError(err)
	suite.Len(explanation.CommonFeatures, maxExplainFeatures)
	suite.Greater(explanation.CommonCount, maxExplainFeatures)

	explanation, err = suite.model.Explain("paneer", "unknown")
	suite.NoError(err)
	suite.Zero(explanation.CommonCount)
	suite.NotNil(explanation.CommonFeatures)
}

func (suite *ModelTestSuite) TestMarshal() {
	buf := bytes.NewBuffer(nil)
	suite.NoError(suite.model.Marshal(buf))
	loaded := NewModel(config.GetDefaultConfig().Content, ann.WithBackend(ann.HNSW))
	suite.NoError(loaded.Unmarshal(buf))
	expected, err := suite.model.SimilarItems("paneer", 2, nil)
	suite.NoError(err)
	actual, err := loaded.SimilarItems("paneer", 2, nil)
	suite.NoError(err)
	suite.Equal(expected, actual)
	profile := Profile{LikedItems: []string{"salad"}}
	suite.Equal(suite.model.ProfileDocument(profile), loaded.ProfileDocument(profile))
}

func TestModel(t *testing.T) {
	suite.Run(t, new(ModelTestSuite))
}

func TestFitEmptyCatalog(t *testing.T) {
	m := NewModel(config.GetDefaultConfig().Content)
	assert.True(t, errors.Is(m.Fit(context.Background(), nil), errors.NotValid))
	assert.False(t, m.IsFitted())
	_, err := m.SimilarItems("paneer", 1, nil)
	assert.ErrorIs(t, err, dataset.ErrNotReady)
	_, err = m.RecommendForProfile(Profile{}, 1)
	assert.ErrorIs(t, err, dataset.ErrNotReady)
	_, err = m.TopFeatures("paneer", 1)
	assert.ErrorIs(t, err, dataset.ErrNotReady)
	_, err = m.Explain("paneer", "chicken")
	assert.ErrorIs(t, err, dataset.ErrNotReady)
	assert.Error(t, m.Marshal(bytes.NewBuffer(nil)))
}

func TestUnitVectors(t *testing.T) {
	m := NewModel(config.GetDefaultConfig().Content)
	assert.NoError(t, m.Fit(context.Background(), catalog))
	for _, item := range catalog {
		vec, ok := m.Index().Vector(item.ItemId)
		assert.True(t, ok)
		assert.InDelta(t, 1, floats.Norm(vec), 1e-5)
	}
}
