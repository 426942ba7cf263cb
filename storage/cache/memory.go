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
	"strconv"
	"time"

	"github.com/deliverhub/recommender/dataset"
	"github.com/jellydator/ttlcache/v3"
)

// Memory keeps recent trending results of a feed in process memory.
// Failed calls are not cached.
type Memory struct {
	feed  Feed
	items *ttlcache.Cache[string, []dataset.TrendingItem]
}

func NewMemory(feed Feed, ttl time.Duration) *Memory {
	return &Memory{
		feed: feed,
		items: ttlcache.New[string, []dataset.TrendingItem](
			ttlcache.WithTTL[string, []dataset.TrendingItem](ttl),
			ttlcache.WithDisableTouchOnHit[string, []dataset.TrendingItem](),
		),
	}
}

func (m *Memory) Trending(ctx context.Context, businessId string, n int) ([]dataset.TrendingItem, error) {
	key := businessId + "/" + strconv.Itoa(n)
	if item := m.items.Get(key); item != nil {
		return item.Value(), nil
	}
	items, err := m.feed.Trending(ctx, businessId, n)
	if err != nil {
		return nil, err
	}
	m.items.Set(key, items, ttlcache.DefaultTTL)
	return items, nil
}

// Purge drops all cached results.
func (m *Memory) Purge() {
	m.items.DeleteAll()
}
