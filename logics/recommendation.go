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
	"sort"

	"github.com/deliverhub/recommender/dataset"
)

// ErrNotReady is returned by queries issued before the first successful fit.
var ErrNotReady = dataset.ErrNotReady

type RecommendationType string

const (
	Collaborative RecommendationType = "collaborative"
	Content       RecommendationType = "content"
	Popularity    RecommendationType = "popularity"
	Context       RecommendationType = "context"
)

// Streams lists candidate streams in merge priority.
var Streams = []RecommendationType{Collaborative, Content, Popularity, Context}

// Recommendation is a scored item and the stream that proposed it.
type Recommendation struct {
	ItemId string
	Score  float64
	Type   RecommendationType
	Source string
}

// Merge keeps the highest scoring candidate per item. On equal scores the
// candidate seen first wins. The result is sorted by descending score, then
// by item id, and truncated to n.
func Merge(n int, streams ...[]Recommendation) []Recommendation {
	best := make(map[string]int)
	merged := make([]Recommendation, 0)
	for _, stream := range streams {
		for _, candidate := range stream {
			if i, exist := best[candidate.ItemId]; exist {
				if candidate.Score > merged[i].Score {
					merged[i] = candidate
				}
				continue
			}
			best[candidate.ItemId] = len(merged)
			merged = append(merged, candidate)
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ItemId < merged[j].ItemId
	})
	if n >= 0 && len(merged) > n {
		merged = merged[:n]
	}
	return merged
}
