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

	"github.com/deliverhub/recommender/dataset"
)

// TrendingFeed returns the most popular items of a business. An empty
// business id means the whole marketplace.
type TrendingFeed interface {
	Trending(ctx context.Context, businessId string, n int) ([]dataset.TrendingItem, error)
}

func trendingStream(ctx context.Context, feed TrendingFeed, businessId string, n int) ([]Recommendation, error) {
	if feed == nil {
		return []Recommendation{}, nil
	}
	items, err := feed.Trending(ctx, businessId, n)
	if err != nil {
		return nil, err
	}
	recommendations := make([]Recommendation, 0, len(items))
	for _, item := range items {
		recommendations = append(recommendations, Recommendation{
			ItemId: item.ItemId,
			Score:  item.Score,
			Type:   Popularity,
			Source: "trending",
		})
	}
	return recommendations, nil
}
