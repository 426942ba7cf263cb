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
	"strings"

	"github.com/deliverhub/recommender/dataset"
	"github.com/deliverhub/recommender/storage"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

const (
	trendingKey    = "trending"
	marketplaceKey = "global"
)

// Redis keeps trending scores in sorted sets, one per business plus one for
// the whole marketplace.
type Redis struct {
	storage.TablePrefix
	client redis.UniversalClient
}

// OpenRedis connects to a redis:// or rediss:// URL.
func OpenRedis(path, tablePrefix string) (*Redis, error) {
	if !strings.HasPrefix(path, storage.RedisPrefix) && !strings.HasPrefix(path, storage.RedissPrefix) {
		return nil, errors.Errorf("Unknown database: %s", path)
	}
	opt, err := redis.ParseURL(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Redis{TablePrefix: storage.TablePrefix(tablePrefix), client: redis.NewClient(opt)}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(businessId string) string {
	if businessId == "" {
		businessId = marketplaceKey
	}
	return r.Key(trendingKey + "/" + businessId)
}

// AddTrending replaces the scores of items in a business and the marketplace.
func (r *Redis) AddTrending(ctx context.Context, businessId string, items []dataset.TrendingItem) error {
	if len(items) == 0 {
		return nil
	}
	members := lo.Map(items, func(item dataset.TrendingItem, _ int) redis.Z {
		return redis.Z{Member: item.ItemId, Score: item.Score}
	})
	p := r.client.Pipeline()
	p.ZAdd(ctx, r.key(businessId), members...)
	if businessId != "" {
		p.ZAdd(ctx, r.key(""), members...)
	}
	_, err := p.Exec(ctx)
	return errors.Trace(err)
}

// IncrTrending adds delta to the score of an item.
func (r *Redis) IncrTrending(ctx context.Context, businessId, itemId string, delta float64) error {
	p := r.client.Pipeline()
	p.ZIncrBy(ctx, r.key(businessId), delta, itemId)
	if businessId != "" {
		p.ZIncrBy(ctx, r.key(""), delta, itemId)
	}
	_, err := p.Exec(ctx)
	return errors.Trace(err)
}

// Trending returns the n highest scored items. Ties are ordered by the sorted
// set, which is reverse lexicographic on member.
func (r *Redis) Trending(ctx context.Context, businessId string, n int) ([]dataset.TrendingItem, error) {
	if n <= 0 {
		return []dataset.TrendingItem{}, nil
	}
	members, err := r.client.ZRevRangeWithScores(ctx, r.key(businessId), 0, int64(n-1)).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(members, func(z redis.Z, _ int) dataset.TrendingItem {
		return dataset.TrendingItem{ItemId: z.Member.(string), Score: z.Score}
	}), nil
}

// Purge removes trending scores of a business.
func (r *Redis) Purge(ctx context.Context, businessId string) error {
	return errors.Trace(r.client.Del(ctx, r.key(businessId)).Err())
}
