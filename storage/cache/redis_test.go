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
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/deliverhub/recommender/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type RedisTestSuite struct {
	suite.Suite
	server *miniredis.Miniredis
	*Redis
}

func (suite *RedisTestSuite) SetupTest() {
	var err error
	suite.server, err = miniredis.Run()
	suite.NoError(err)
	suite.Redis, err = OpenRedis("redis://"+suite.server.Addr(), "test_")
	suite.NoError(err)
}

func (suite *RedisTestSuite) TearDownTest() {
	suite.NoError(suite.Redis.Close())
	suite.server.Close()
}

func (suite *RedisTestSuite) TestTrending() {
	ctx := context.Background()
	suite.NoError(suite.AddTrending(ctx, "b1", []dataset.TrendingItem{{ItemId: "naan", Score: 2}, {ItemId: "biryani", Score: 5}}))
	suite.NoError(suite.AddTrending(ctx, "b2", []dataset.TrendingItem{{ItemId: "sushi", Score: 3}}))
	suite.NoError(suite.IncrTrending(ctx, "b1", "naan", 4))

	items, err := suite.Trending(ctx, "b1", 10)
	suite.NoError(err)
	suite.Equal([]dataset.TrendingItem{{ItemId: "naan", Score: 6}, {ItemId: "biryani", Score: 5}}, items)
	items, err = suite.Trending(ctx, "", 2)
	suite.NoError(err)
	suite.Equal([]dataset.TrendingItem{{ItemId: "naan", Score: 6}, {ItemId: "biryani", Score: 5}}, items)
	items, err = suite.Trending(ctx, "", 3)
	suite.NoError(err)
	suite.Equal("sushi", items[2].ItemId)
	suite.True(suite.server.Exists("test_trending/b1"))

	suite.NoError(suite.Purge(ctx, "b1"))
	items, err = suite.Trending(ctx, "b1", 10)
	suite.NoError(err)
	suite.Empty(items)
	items, err = suite.Trending(ctx, "b2", 0)
	suite.NoError(err)
	suite.Empty(items)
}

func TestRedis(t *testing.T) {
	suite.Run(t, new(RedisTestSuite))
}

func TestOpenRedis(t *testing.T) {
	_, err := OpenRedis("mysql://localhost", "")
	assert.Error(t, err)
}
