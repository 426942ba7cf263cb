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

package main

import (
	"io"

	"github.com/deliverhub/recommender/base/log"
	"github.com/deliverhub/recommender/config"
	"github.com/deliverhub/recommender/engine"
	"github.com/deliverhub/recommender/storage"
	"github.com/deliverhub/recommender/storage/blob"
	"github.com/deliverhub/recommender/storage/cache"
	"github.com/deliverhub/recommender/storage/data"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// services holds the engine and the connections it was built from.
type services struct {
	engine  *engine.Engine
	data    *data.SQLDatabase
	closers []io.Closer
}

func openServices(cfg *config.Config) (*services, error) {
	s := new(services)
	db, err := data.Open(cfg.Database.DataStore, cfg.Database.TablePrefix)
	if err != nil {
		return nil, errors.Annotatef(err, "open data store %v", log.RedactDBURL(cfg.Database.DataStore))
	}
	s.data = db
	s.closers = append(s.closers, db)
	if err = db.Init(); err != nil {
		s.Close()
		return nil, errors.Trace(err)
	}
	db.TrendingWindow = cfg.Database.TrendingWindow

	var feed cache.Feed = db
	if dsn := cfg.Database.TrendingStore; dsn != "" && dsn != cfg.Database.DataStore {
		if storage.HasPrefix(dsn, []string{storage.RedisPrefix, storage.RedissPrefix}) {
			redis, err := cache.OpenRedis(dsn, cfg.Database.TablePrefix)
			if err != nil {
				s.Close()
				return nil, errors.Annotatef(err, "open trending store %v", log.RedactDBURL(dsn))
			}
			s.closers = append(s.closers, redis)
			feed = redis
		} else {
			sqlTrending, err := data.Open(dsn, cfg.Database.TablePrefix)
			if err != nil {
				s.Close()
				return nil, errors.Annotatef(err, "open trending store %v", log.RedactDBURL(dsn))
			}
			sqlTrending.TrendingWindow = cfg.Database.TrendingWindow
			s.closers = append(s.closers, sqlTrending)
			feed = sqlTrending
		}
	}

	var trending cache.Feed = cache.NewBreaker("trending", feed, cfg.Breaker)
	if cfg.Database.TrendingCacheTTL > 0 {
		trending = cache.NewMemory(trending, cfg.Database.TrendingCacheTTL)
	}

	store, err := blob.NewStore(cfg.Blob)
	if err != nil {
		s.Close()
		return nil, errors.Trace(err)
	}
	s.engine, err = engine.NewEngine(cfg, engine.Sources{
		Interactions: db,
		Catalog:      db,
		Trending:     trending,
		Feedback:     db,
	}, store)
	if err != nil {
		s.Close()
		return nil, errors.Trace(err)
	}
	return s, nil
}

func (s *services) Close() {
	for _, closer := range s.closers {
		if err := closer.Close(); err != nil {
			log.Logger().Error("failed to close connection", zap.Error(err))
		}
	}
}
