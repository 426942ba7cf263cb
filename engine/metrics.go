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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelStream       = "stream"
	LabelFeedbackType = "feedback_type"
)

var (
	FitSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "recommender",
		Subsystem: "engine",
		Name:      "fit_seconds",
	})
	FitErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recommender",
		Subsystem: "engine",
		Name:      "fit_errors_total",
	})
	SnapshotTimestampSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "recommender",
		Subsystem: "engine",
		Name:      "snapshot_timestamp_seconds",
	})
	RecommendationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recommender",
		Subsystem: "engine",
		Name:      "recommendations_total",
	})
	StreamCandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recommender",
		Subsystem: "engine",
		Name:      "stream_candidates_total",
	}, []string{LabelStream})
	FeedbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recommender",
		Subsystem: "engine",
		Name:      "feedback_total",
	}, []string{LabelFeedbackType})
)
