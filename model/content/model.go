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
	"context"
	"io"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/deliverhub/recommender/base/encoding"
	"github.com/deliverhub/recommender/base/log"
	"github.com/deliverhub/recommender/common/ann"
	"github.com/deliverhub/recommender/common/heap"
	"github.com/deliverhub/recommender/common/parallel"
	"github.com/deliverhub/recommender/config"
	"github.com/deliverhub/recommender/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const maxExplainFeatures = 10

type Score struct {
	Id    string
	Score float32
}

type Feature struct {
	Term   string
	Weight float32
}

// Explanation lists the terms two items share.
type Explanation struct {
	SourceItem     string
	TargetItem     string
	CommonFeatures []string
	CommonCount    int
}

// Model recommends items whose TF-IDF vectors are close to an item or a
// profile.
type Model struct {
	cfg        config.ContentConfig
	indexOpts  []ann.Option
	extractor  FeatureExtractor
	vectorizer *Vectorizer
	documents  map[string]string
	index      *ann.Index
}

func NewModel(cfg config.ContentConfig, opts ...ann.Option) *Model {
	return &Model{cfg: cfg, indexOpts: opts}
}

func (m *Model) IsFitted() bool {
	return m.index != nil
}

// Index exposes the underlying item index.
func (m *Model) Index() *ann.Index {
	return m.index
}

// Fit vectorizes the catalog. Duplicate item ids keep the first occurrence.
func (m *Model) Fit(ctx context.Context, items []dataset.Item) error {
	if len(items) == 0 {
		return errors.NotValidf("empty catalog")
	}
	start := time.Now()
	items = lo.UniqBy(items, func(item dataset.Item) string { return item.ItemId })
	docs := make([]string, len(items))
	for i, item := range items {
		docs[i] = m.extractor.Document(item)
	}
	vectorizer := NewVectorizer(m.cfg)
	if err := vectorizer.Fit(docs); err != nil {
		return errors.Trace(err)
	}
	vectors := make([][]float32, len(items))
	if err := parallel.For(ctx, len(items), 4, func(i int) {
		vectors[i] = vectorizer.Transform(docs[i])
	}); err != nil {
		return errors.Trace(err)
	}
	index := ann.NewIndex(vectorizer.Dimension(), m.indexOpts...)
	ids := lo.Map(items, func(item dataset.Item, _ int) string { return item.ItemId })
	metadata := lo.Map(items, func(item dataset.Item, _ int) ann.Metadata { return m.extractor.Metadata(item) })
	if err := index.Add(ids, vectors, metadata); err != nil {
		return errors.Trace(err)
	}
	index.SetTimestamp(time.Now())
	documents := make(map[string]string, len(items))
	for i, id := range ids {
		documents[id] = docs[i]
	}
	m.vectorizer, m.documents, m.index = vectorizer, documents, index
	log.Logger().Info("fit content model complete",
		zap.Int("n_items", len(items)),
		zap.Int("n_features", vectorizer.Dimension()),
		zap.Duration("fit_time", time.Since(start)))
	return nil
}

// SimilarItems returns the n items closest to itemId, skipping itself and
// excluded items. Unknown items yield no results.
func (m *Model) SimilarItems(itemId string, n int, exclude []string) ([]Score, error) {
	if !m.IsFitted() {
		return nil, dataset.ErrNotReady
	}
	vec, ok := m.index.Vector(itemId)
	if !ok {
		log.Logger().Debug("unknown item", zap.String("item_id", itemId))
		return []Score{}, nil
	}
	excluded := mapset.NewThreadUnsafeSet(exclude...)
	excluded.Add(itemId)
	results, err := m.index.Search(vec, n, func(id string, _ ann.Metadata) bool {
		return !excluded.Contains(id)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return toScores(results), nil
}

// ProfileDocument builds the document of a profile, appending the documents
// of liked items that exist in the catalog.
func (m *Model) ProfileDocument(profile Profile) string {
	return m.extractor.ProfileDocument(profile, func(itemId string) (string, bool) {
		doc, ok := m.documents[itemId]
		return doc, ok
	})
}

// RecommendForProfile ranks items against a profile. A profile without any
// known term yields no results.
func (m *Model) RecommendForProfile(profile Profile, n int) ([]Score, error) {
	if !m.IsFitted() {
		return nil, dataset.ErrNotReady
	}
	vec := m.vectorizer.Transform(m.ProfileDocument(profile))
	if lo.EveryBy(vec, func(x float32) bool { return x == 0 }) {
		return []Score{}, nil
	}
	results, err := m.index.Search(vec, n, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return toScores(results), nil
}

// TopFeatures returns the highest weighted terms of an item.
func (m *Model) TopFeatures(itemId string, topN int) ([]Feature, error) {
	if !m.IsFitted() {
		return nil, dataset.ErrNotReady
	}
	vec, ok := m.index.Vector(itemId)
	if !ok {
		return []Feature{}, nil
	}
	filter := heap.NewTopKFilter[int, float32](topN)
	for i, w := range vec {
		if w > 0 {
			filter.Push(i, w)
		}
	}
	terms, weights := filter.PopAll()
	features := make([]Feature, len(terms))
	for i, term := range terms {
		features[i] = Feature{Term: m.vectorizer.Terms[term], Weight: weights[i]}
	}
	return features, nil
}

// Explain lists up to ten shared terms of two items in sorted order. Unknown
// items yield an empty explanation.
func (m *Model) Explain(sourceItem, targetItem string) (Explanation, error) {
	if !m.IsFitted() {
		return Explanation{}, dataset.ErrNotReady
	}
	explanation := Explanation{SourceItem: sourceItem, TargetItem: targetItem, CommonFeatures: []string{}}
	source, ok := m.index.Vector(sourceItem)
	if !ok {
		return explanation, nil
	}
	target, ok := m.index.Vector(targetItem)
	if !ok {
		return explanation, nil
	}
	for i := range source {
		if source[i] != 0 && target[i] != 0 {
			explanation.CommonCount++
			if len(explanation.CommonFeatures) < maxExplainFeatures {
				explanation.CommonFeatures = append(explanation.CommonFeatures, m.vectorizer.Terms[i])
			}
		}
	}
	sort.Strings(explanation.CommonFeatures)
	return explanation, nil
}

func toScores(results []ann.Result) []Score {
	return lo.Map(results, func(r ann.Result, _ int) Score {
		return Score{Id: r.Id, Score: r.Similarity}
	})
}

// Marshal writes the vectorizer, item documents and index.
func (m *Model) Marshal(w io.Writer) error {
	if !m.IsFitted() {
		return errors.NotValidf("unfitted model")
	}
	if err := m.vectorizer.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	ids := m.index.Ids()
	if err := encoding.WriteStrings(w, ids); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteStrings(w, lo.Map(ids, func(id string, _ int) string { return m.documents[id] })); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(m.index.Save(w))
}

func (m *Model) Unmarshal(r io.Reader) error {
	vectorizer := new(Vectorizer)
	if err := vectorizer.Unmarshal(r); err != nil {
		return errors.Trace(err)
	}
	ids, err := encoding.ReadStrings(r)
	if err != nil {
		return errors.Trace(err)
	}
	docs, err := encoding.ReadStrings(r)
	if err != nil {
		return errors.Trace(err)
	}
	if len(ids) != len(docs) {
		return errors.NotValidf("%d documents for %d items", len(docs), len(ids))
	}
	index, err := ann.Load(r, m.indexOpts...)
	if err != nil {
		return errors.Trace(err)
	}
	if index.Dimension() != vectorizer.Dimension() {
		return errors.Annotatef(ann.ErrDimensionMismatch, "index dimension %d, vocabulary size %d", index.Dimension(), vectorizer.Dimension())
	}
	documents := make(map[string]string, len(ids))
	for i, id := range ids {
		documents[id] = docs[i]
	}
	m.vectorizer, m.documents, m.index = vectorizer, documents, index
	return nil
}
