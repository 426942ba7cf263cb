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
	"sync"
	"time"

	"github.com/deliverhub/recommender/base/encoding"
	"github.com/deliverhub/recommender/base/log"
	"github.com/deliverhub/recommender/common/ann"
	"github.com/deliverhub/recommender/common/heap"
	"github.com/deliverhub/recommender/config"
	"github.com/deliverhub/recommender/dataset"
	"github.com/deliverhub/recommender/model/content"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Neighbor is a similar user or item.
type Neighbor struct {
	Id         string
	Similarity float32
}

// RecommendRequest asks for n items for a user. The context stream is
// skipped when Context is nil.
type RecommendRequest struct {
	UserId     string
	BusinessId string
	Context    *RequestContext
	N          int
}

type snapshot struct {
	matrix        *dataset.InteractionMatrix
	userNeighbors *NeighborTable
	itemNeighbors *NeighborTable
	content       *content.Model
	timestamp     time.Time
}

// HybridRanker blends collaborative, content, popularity and context
// candidates. Fitted state is immutable and replaced as a whole, so queries
// never observe a partially fitted ranker.
type HybridRanker struct {
	cfg      *config.Config
	trending TrendingFeed
	rules    *ContextRules
	state    atomic.Pointer[snapshot]
	fitMu    sync.Mutex
}

func NewHybridRanker(cfg *config.Config, trending TrendingFeed, rules *ContextRules) *HybridRanker {
	return &HybridRanker{cfg: cfg, trending: trending, rules: rules}
}

func (r *HybridRanker) IsFitted() bool {
	return r.state.Load() != nil
}

// Timestamp returns the time of the last successful fit.
func (r *HybridRanker) Timestamp() time.Time {
	if s := r.state.Load(); s != nil {
		return s.timestamp
	}
	return time.Time{}
}

// Matrix returns the interaction matrix of the last fit.
func (r *HybridRanker) Matrix() *dataset.InteractionMatrix {
	if s := r.state.Load(); s != nil {
		return s.matrix
	}
	return nil
}

// Content returns the content model of the last fit. It is unfitted when the
// catalog was empty.
func (r *HybridRanker) Content() *content.Model {
	if s := r.state.Load(); s != nil {
		return s.content
	}
	return nil
}

func (r *HybridRanker) indexOptions() []ann.Option {
	return ann.Options(r.cfg.Index.Backend, r.cfg.Index.ScanLimit, r.cfg.Index.EF)
}

// Fit builds neighbor tables from interactions and the content model from
// the catalog. The previous state is kept if fitting fails.
func (r *HybridRanker) Fit(ctx context.Context, interactions []dataset.Interaction, items []dataset.Item) error {
	return r.FitMatrix(ctx, dataset.NewInteractionMatrix(interactions), items)
}

// FitMatrix is Fit on a prebuilt matrix.
func (r *HybridRanker) FitMatrix(ctx context.Context, matrix *dataset.InteractionMatrix, items []dataset.Item) error {
	if matrix == nil || matrix.CountNonzero() == 0 {
		return errors.NotValidf("interaction matrix without nonzero ratings")
	}
	r.fitMu.Lock()
	defer r.fitMu.Unlock()
	start := time.Now()
	next := &snapshot{matrix: matrix, content: content.NewModel(r.cfg.Content, r.indexOptions()...)}
	cutoff, jobs := r.cfg.Hybrid.NeighborCutoff, r.cfg.Hybrid.NumJobs
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		next.userNeighbors, err = BuildNeighborTable(gctx, matrix.CountUsers(), cutoff, jobs, matrix.Row, matrix.Column)
		return errors.Trace(err)
	})
	g.Go(func() (err error) {
		next.itemNeighbors, err = BuildNeighborTable(gctx, matrix.CountItems(), cutoff, jobs, matrix.Column, matrix.Row)
		return errors.Trace(err)
	})
	g.Go(func() error {
		if len(items) == 0 {
			log.Logger().Warn("empty catalog, content stream falls back to item neighbors")
			return nil
		}
		return errors.Trace(next.content.Fit(gctx, items))
	})
	if err := g.Wait(); err != nil {
		return errors.Trace(err)
	}
	next.timestamp = time.Now()
	r.state.Store(next)
	log.Logger().Info("fit hybrid ranker complete",
		zap.Int("n_users", matrix.CountUsers()),
		zap.Int("n_items", matrix.CountItems()),
		zap.Int("n_interactions", matrix.CountInteractions()),
		zap.Int("n_catalog", len(items)),
		zap.Duration("fit_time", time.Since(start)))
	return nil
}

// Recommend merges all candidate streams into at most n items. A non-positive
// n uses the configured default.
func (r *HybridRanker) Recommend(ctx context.Context, req RecommendRequest) ([]Recommendation, error) {
	streams, err := r.RecommendStreams(ctx, req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return Merge(r.n(req.N), streams...), nil
}

func (r *HybridRanker) n(n int) int {
	if n <= 0 {
		return r.cfg.Hybrid.DefaultN
	}
	return n
}

// RecommendStreams returns the candidates of every stream in the order of
// Streams. A failing stream is logged and contributes nothing.
func (r *HybridRanker) RecommendStreams(ctx context.Context, req RecommendRequest) ([][]Recommendation, error) {
	s := r.state.Load()
	if s == nil {
		return nil, ErrNotReady
	}
	n := r.n(req.N)
	generators := []func(context.Context) ([]Recommendation, error){
		func(context.Context) ([]Recommendation, error) { return r.collaborative(s, req.UserId), nil },
		func(context.Context) ([]Recommendation, error) { return r.contentBased(s, req.UserId, n) },
		func(ctx context.Context) ([]Recommendation, error) {
			return trendingStream(ctx, r.trending, req.BusinessId, n)
		},
		func(context.Context) ([]Recommendation, error) {
			if req.Context == nil {
				return []Recommendation{}, nil
			}
			return r.rules.Evaluate(*req.Context), nil
		},
	}
	streams := make([][]Recommendation, len(generators))
	var g errgroup.Group
	for i, generate := range generators {
		g.Go(func() error {
			candidates, err := generate(ctx)
			if err != nil {
				log.Logger().Warn("candidate stream failed",
					zap.String("stream", string(Streams[i])),
					zap.String("user_id", req.UserId),
					zap.Error(err))
				candidates = []Recommendation{}
			}
			streams[i] = candidates
			return nil
		})
	}
	_ = g.Wait()
	return streams, nil
}

// collaborative proposes items rated by similar users, scored by rating times
// user similarity. Items the user rated 0 count as unrated.
func (r *HybridRanker) collaborative(s *snapshot, userId string) []Recommendation {
	recommendations := make([]Recommendation, 0)
	u, ok := s.matrix.UserIndex(userId)
	if !ok {
		log.Logger().Debug("unknown user", zap.String("user_id", userId))
		return recommendations
	}
	for _, neighbor := range s.userNeighbors.Get(u, r.cfg.Hybrid.SimilarUsers) {
		filter := heap.NewTopKFilter[int32, float32](r.cfg.Hybrid.ItemsPerUser)
		for _, e := range s.matrix.Row(int(neighbor.A)) {
			if !s.matrix.IsRated(u, int(e.A)) {
				filter.Push(e.A, e.B)
			}
		}
		items, ratings := filter.PopAll()
		source := "similar_user_" + s.matrix.UserId(int(neighbor.A))
		for i, item := range items {
			recommendations = append(recommendations, Recommendation{
				ItemId: s.matrix.ItemId(int(item)),
				Score:  float64(ratings[i] * neighbor.B),
				Type:   Collaborative,
				Source: source,
			})
		}
	}
	return recommendations
}

// contentBased proposes up to n items similar to each of the first liked
// items of a user. Only items with a nonzero rating are excluded.
func (r *HybridRanker) contentBased(s *snapshot, userId string, n int) ([]Recommendation, error) {
	recommendations := make([]Recommendation, 0)
	u, ok := s.matrix.UserIndex(userId)
	if !ok {
		return recommendations, nil
	}
	row := s.matrix.Row(u)
	rated := lo.FilterMap(row, func(e lo.Tuple2[int32, float32], _ int) (string, bool) {
		return s.matrix.ItemId(int(e.A)), e.B != 0
	})
	liked := lo.Filter(row, func(e lo.Tuple2[int32, float32], _ int) bool { return e.B > r.cfg.Hybrid.LikedThreshold })
	if len(liked) > r.cfg.Hybrid.LikedItems {
		liked = liked[:r.cfg.Hybrid.LikedItems]
	}
	for _, e := range liked {
		itemId := s.matrix.ItemId(int(e.A))
		neighbors, err := r.similarItems(s, itemId, n, rated)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, neighbor := range neighbors {
			recommendations = append(recommendations, Recommendation{
				ItemId: neighbor.Id,
				Score:  float64(neighbor.Similarity),
				Type:   Content,
				Source: "similar_to_" + itemId,
			})
		}
	}
	return recommendations, nil
}

// similarItems prefers the content model and falls back to item neighbors for
// items outside the catalog.
func (r *HybridRanker) similarItems(s *snapshot, itemId string, n int, exclude []string) ([]Neighbor, error) {
	if s.content.IsFitted() && s.content.Index().Contains(itemId) {
		scores, err := s.content.SimilarItems(itemId, n, exclude)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return lo.Map(scores, func(score content.Score, _ int) Neighbor {
			return Neighbor{Id: score.Id, Similarity: score.Score}
		}), nil
	}
	neighbors := make([]Neighbor, 0)
	i, ok := s.matrix.ItemIndex(itemId)
	if !ok {
		return neighbors, nil
	}
	excluded := lo.SliceToMap(exclude, func(id string) (string, struct{}) { return id, struct{}{} })
	for _, e := range s.itemNeighbors.Get(i, -1) {
		if len(neighbors) >= n {
			break
		}
		id := s.matrix.ItemId(int(e.A))
		if _, skip := excluded[id]; !skip {
			neighbors = append(neighbors, Neighbor{Id: id, Similarity: e.B})
		}
	}
	return neighbors, nil
}

// SimilarItems returns up to n items similar to an item.
func (r *HybridRanker) SimilarItems(itemId string, n int) ([]Neighbor, error) {
	s := r.state.Load()
	if s == nil {
		return nil, ErrNotReady
	}
	return r.similarItems(s, itemId, r.n(n), nil)
}

// UserNeighbors returns up to n users with the most similar rating rows.
func (r *HybridRanker) UserNeighbors(userId string, n int) ([]Neighbor, error) {
	s := r.state.Load()
	if s == nil {
		return nil, ErrNotReady
	}
	u, ok := s.matrix.UserIndex(userId)
	if !ok {
		return []Neighbor{}, nil
	}
	return lo.Map(s.userNeighbors.Get(u, n), func(e lo.Tuple2[int32, float32], _ int) Neighbor {
		return Neighbor{Id: s.matrix.UserId(int(e.A)), Similarity: e.B}
	}), nil
}

// ItemNeighbors returns up to n items with the most similar rating columns.
func (r *HybridRanker) ItemNeighbors(itemId string, n int) ([]Neighbor, error) {
	s := r.state.Load()
	if s == nil {
		return nil, ErrNotReady
	}
	i, ok := s.matrix.ItemIndex(itemId)
	if !ok {
		return []Neighbor{}, nil
	}
	return lo.Map(s.itemNeighbors.Get(i, n), func(e lo.Tuple2[int32, float32], _ int) Neighbor {
		return Neighbor{Id: s.matrix.ItemId(int(e.A)), Similarity: e.B}
	}), nil
}

// Marshal writes the fitted state.
func (r *HybridRanker) Marshal(w io.Writer) error {
	s := r.state.Load()
	if s == nil {
		return ErrNotReady
	}
	if err := s.matrix.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	if err := s.userNeighbors.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	if err := s.itemNeighbors.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteGob(w, s.content.IsFitted()); err != nil {
		return errors.Trace(err)
	}
	if s.content.IsFitted() {
		if err := s.content.Marshal(w); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(encoding.WriteGob(w, s.timestamp))
}

// Unmarshal replaces the fitted state with one written by Marshal. The
// current state is kept on error.
func (r *HybridRanker) Unmarshal(reader io.Reader) error {
	var (
		next = &snapshot{content: content.NewModel(r.cfg.Content, r.indexOptions()...)}
		err  error
	)
	if next.matrix, err = dataset.UnmarshalInteractionMatrix(reader); err != nil {
		return errors.Trace(err)
	}
	if next.userNeighbors, err = UnmarshalNeighborTable(reader); err != nil {
		return errors.Trace(err)
	}
	if next.itemNeighbors, err = UnmarshalNeighborTable(reader); err != nil {
		return errors.Trace(err)
	}
	if len(next.userNeighbors.Neighbors) != next.matrix.CountUsers() ||
		len(next.itemNeighbors.Neighbors) != next.matrix.CountItems() {
		return errors.NotValidf("neighbor tables do not match interaction matrix")
	}
	var fitted bool
	if err = encoding.ReadGob(reader, &fitted); err != nil {
		return errors.Trace(err)
	}
	if fitted {
		if err = next.content.Unmarshal(reader); err != nil {
			return errors.Trace(err)
		}
	}
	if err = encoding.ReadGob(reader, &next.timestamp); err != nil {
		return errors.Trace(err)
	}
	r.fitMu.Lock()
	defer r.fitMu.Unlock()
	r.state.Store(next)
	return nil
}
