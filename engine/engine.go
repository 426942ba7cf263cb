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

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/deliverhub/recommender/base/log"
	"github.com/deliverhub/recommender/base/progress"
	"github.com/deliverhub/recommender/common/ann"
	"github.com/deliverhub/recommender/config"
	"github.com/deliverhub/recommender/dataset"
	"github.com/deliverhub/recommender/logics"
	"github.com/deliverhub/recommender/model/cf"
	"github.com/deliverhub/recommender/storage/blob"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type InteractionFeed interface {
	Interactions(ctx context.Context) ([]dataset.Interaction, error)
}

type Catalog interface {
	Items(ctx context.Context) ([]dataset.Item, error)
}

type FeedbackSink interface {
	InsertFeedback(ctx context.Context, feedback dataset.Feedback) error
}

// Sources are the collaborators the engine reads from and writes to. Only
// Interactions is required.
type Sources struct {
	Interactions InteractionFeed
	Catalog      Catalog
	Trending     logics.TrendingFeed
	Feedback     FeedbackSink
}

// Snapshot is an immutable set of fitted models.
type Snapshot struct {
	Ranker  *logics.HybridRanker
	CF      *cf.Model
	FitTime time.Time
}

// Engine owns the current snapshot and replaces it on refresh. Reads never
// block on a refresh.
type Engine struct {
	cfg       *config.Config
	sources   Sources
	store     blob.Store
	rules     *logics.ContextRules
	snapshot  atomic.Pointer[Snapshot]
	refreshMu sync.Mutex
	scheduled chan struct{}
	tracer    *progress.Tracer
}

// NewEngine compiles the context rules. store may be nil when artifacts are
// not persisted.
func NewEngine(cfg *config.Config, sources Sources, store blob.Store) (*Engine, error) {
	if sources.Interactions == nil {
		return nil, errors.NotValidf("engine without interaction feed")
	}
	rules, err := logics.NewContextRules(cfg.Context.Rules)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Engine{
		cfg:       cfg,
		sources:   sources,
		store:     store,
		rules:     rules,
		scheduled: make(chan struct{}, 1),
		tracer:    progress.NewTracer("engine"),
	}, nil
}

// Progress returns the state of the latest refresh and artifact save.
func (e *Engine) Progress() []progress.Progress {
	return e.tracer.List()
}

// Snapshot returns the current snapshot or nil before the first fit.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

func (e *Engine) ready() (*Snapshot, error) {
	s := e.snapshot.Load()
	if s == nil {
		return nil, logics.ErrNotReady
	}
	return s, nil
}

func (e *Engine) newRanker() *logics.HybridRanker {
	return logics.NewHybridRanker(e.cfg, e.sources.Trending, e.rules)
}

func (e *Engine) newCF() *cf.Model {
	return cf.NewModel(e.cfg.Collaborative, ann.Options(e.cfg.Index.Backend, e.cfg.Index.ScanLimit, e.cfg.Index.EF)...)
}

func (e *Engine) publish(s *Snapshot) {
	e.snapshot.Store(s)
	SnapshotTimestampSeconds.Set(float64(s.FitTime.Unix()))
}

func (e *Engine) fetch(ctx context.Context) ([]dataset.Interaction, []dataset.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Refresh.FetchTimeout)
	defer cancel()
	var (
		interactions []dataset.Interaction
		items        []dataset.Item
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		interactions, err = e.sources.Interactions.Interactions(gctx)
		return errors.Annotate(err, "fetch interactions")
	})
	if e.sources.Catalog != nil {
		g.Go(func() (err error) {
			items, err = e.sources.Catalog.Items(gctx)
			return errors.Annotate(err, "fetch catalog")
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return interactions, items, nil
}

// Refresh fits new models from the sources and publishes them. The current
// snapshot stays in place if anything fails.
func (e *Engine) Refresh(ctx context.Context) error {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()
	start := time.Now()
	span := e.tracer.Start("refresh", 3)
	err := e.refresh(ctx, span)
	if err != nil {
		span.Fail(err)
		FitErrorsTotal.Inc()
		return errors.Trace(err)
	}
	span.End()
	FitSeconds.Set(time.Since(start).Seconds())
	return nil
}

func (e *Engine) refresh(ctx context.Context, span *progress.Span) error {
	interactions, items, err := e.fetch(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	span.Add(1)
	matrix := dataset.NewInteractionMatrix(interactions)
	next := &Snapshot{Ranker: e.newRanker(), CF: e.newCF()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return errors.Trace(next.Ranker.FitMatrix(gctx, matrix, items))
	})
	g.Go(func() error {
		return errors.Trace(next.CF.Fit(gctx, matrix))
	})
	if err = g.Wait(); err != nil {
		return errors.Trace(err)
	}
	span.Add(1)
	next.FitTime = time.Now()
	e.publish(next)
	log.Logger().Info("refresh complete",
		zap.Int("n_interactions", len(interactions)),
		zap.Int("n_items", len(items)),
		zap.Time("fit_time", next.FitTime))
	return nil
}

// Recommend returns merged candidates for a user.
func (e *Engine) Recommend(ctx context.Context, req logics.RecommendRequest) ([]logics.Recommendation, error) {
	s, err := e.ready()
	if err != nil {
		return nil, err
	}
	streams, err := s.Ranker.RecommendStreams(ctx, req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for i, stream := range streams {
		StreamCandidatesTotal.WithLabelValues(string(logics.Streams[i])).Add(float64(len(stream)))
	}
	n := lo.Ternary(req.N > 0, req.N, e.cfg.Hybrid.DefaultN)
	recommendations := logics.Merge(n, streams...)
	RecommendationsTotal.Add(float64(len(recommendations)))
	return recommendations, nil
}

// SimilarItems returns items similar to an item by content, or by co-rating
// for items outside the catalog.
func (e *Engine) SimilarItems(itemId string, n int) ([]logics.Neighbor, error) {
	s, err := e.ready()
	if err != nil {
		return nil, err
	}
	return s.Ranker.SimilarItems(itemId, n)
}

// SimilarUsers returns users close to a user in factor space.
func (e *Engine) SimilarUsers(userId string, n int) ([]cf.Score, error) {
	s, err := e.ready()
	if err != nil {
		return nil, err
	}
	return s.CF.SimilarUsers(userId, n)
}

func (e *Engine) PredictRating(userId, itemId string) (float32, bool, error) {
	s, err := e.ready()
	if err != nil {
		return 0, false, err
	}
	return s.CF.PredictRating(userId, itemId)
}

func (e *Engine) BatchPredict(ctx context.Context, pairs []lo.Tuple2[string, string]) ([]cf.Prediction, error) {
	s, err := e.ready()
	if err != nil {
		return nil, err
	}
	return s.CF.BatchPredict(ctx, pairs)
}

// RecordFeedback forwards feedback to the sink. It is stored for later fits
// and does not change the current snapshot.
func (e *Engine) RecordFeedback(ctx context.Context, userId, itemId, feedbackType string) error {
	if !lo.Contains(dataset.FeedbackTypes, feedbackType) {
		return errors.NotValidf("feedback type %q", feedbackType)
	}
	if userId == "" || itemId == "" {
		return errors.NotValidf("feedback without user or item")
	}
	if e.sources.Feedback == nil {
		return errors.NotSupportedf("feedback sink")
	}
	if err := e.sources.Feedback.InsertFeedback(ctx, dataset.Feedback{
		FeedbackType: feedbackType,
		UserId:       userId,
		ItemId:       itemId,
		Timestamp:    time.Now(),
	}); err != nil {
		return errors.Trace(err)
	}
	FeedbackTotal.WithLabelValues(feedbackType).Inc()
	return nil
}

// Schedule asks Run to refresh without waiting for the next period.
func (e *Engine) Schedule() {
	select {
	case e.scheduled <- struct{}{}:
	default:
	}
}

// Run loads the saved artifact, or fits from scratch if there is none, then
// refreshes every period until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if e.store != nil {
		if err := e.LoadArtifact(ctx); err == nil {
			log.Logger().Info("loaded artifact", zap.Time("fit_time", e.Snapshot().FitTime))
		} else if errors.Is(err, errors.NotFound) {
			log.Logger().Info("no artifact found", zap.String("name", e.cfg.Refresh.ArtifactName))
			e.Schedule()
		} else {
			log.Logger().Warn("failed to load artifact", zap.Error(err))
			e.Schedule()
		}
	} else {
		e.Schedule()
	}
	ticker := time.NewTicker(e.cfg.Refresh.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-e.scheduled:
		}
		if err := e.Refresh(ctx); err != nil {
			log.Logger().Error("failed to refresh", zap.Error(err))
			continue
		}
		if e.store != nil {
			if err := e.saveArtifactWithRetry(ctx); err != nil {
				log.Logger().Error("failed to save artifact", zap.Error(err))
			}
		}
	}
}

func (e *Engine) saveArtifactWithRetry(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, e.SaveArtifact(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(e.cfg.Refresh.SaveTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Logger().Warn("retry saving artifact", zap.Error(err), zap.Duration("after", next))
		}))
	return err
}
