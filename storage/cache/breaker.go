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

package cache

import (
	"context"

	"github.com/deliverhub/recommender/base/log"
	"github.com/deliverhub/recommender/config"
	"github.com/deliverhub/recommender/dataset"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "recommender",
	Subsystem: "trending",
	Name:      "breaker_state",
	Help:      "State of trending feed circuit breakers (0 closed, 1 half-open, 2 open).",
}, []string{"name"})

// Feed returns the most popular items of a business.
type Feed interface {
	Trending(ctx context.Context, businessId string, n int) ([]dataset.TrendingItem, error)
}

// Breaker stops calling a failing feed until it has had time to recover.
type Breaker struct {
	feed Feed
	cb   *gobreaker.CircuitBreaker[[]dataset.TrendingItem]
}

func NewBreaker(name string, feed Feed, cfg config.BreakerConfig) *Breaker {
	BreakerState.WithLabelValues(name).Set(0)
	return &Breaker{
		feed: feed,
		cb: gobreaker.NewCircuitBreaker[[]dataset.TrendingItem](gobreaker.Settings{
			Name:        name,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Logger().Warn("trending feed breaker changed state",
					zap.String("name", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
				BreakerState.WithLabelValues(name).Set(float64(to))
			},
		}),
	}
}

// Trending calls the feed unless the breaker is open.
func (b *Breaker) Trending(ctx context.Context, businessId string, n int) ([]dataset.TrendingItem, error) {
	items, err := b.cb.Execute(func() ([]dataset.TrendingItem, error) {
		return b.feed.Trending(ctx, businessId, n)
	})
	if err != nil {
		return nil, errors.Annotatef(err, "trending feed %v", b.cb.Name())
	}
	return items, nil
}

// State returns the breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
