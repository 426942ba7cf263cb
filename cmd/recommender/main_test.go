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
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/deliverhub/recommender/config"
	"github.com/deliverhub/recommender/dataset"
	"github.com/deliverhub/recommender/engine"
	"github.com/deliverhub/recommender/storage/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(args ...string) (string, error) {
	buf := bytes.NewBuffer(nil)
	rootCommand.SetOut(buf)
	rootCommand.SetErr(buf)
	rootCommand.SetArgs(args)
	err := rootCommand.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	dsn := "sqlite://" + filepath.Join(dir, "data.db")
	t.Setenv("RECOMMENDER_DATA_STORE", dsn)
	t.Setenv("RECOMMENDER_TRENDING_STORE", "")
	t.Setenv("RECOMMENDER_BLOB_TYPE", "posix")
	t.Setenv("RECOMMENDER_BLOB_DIR", filepath.Join(dir, "artifacts"))

	db, err := data.Open(dsn, "")
	require.NoError(t, err)
	require.NoError(t, db.Init())
	now := time.Now()
	require.NoError(t, db.BatchInsertInteractions(context.Background(), []dataset.Interaction{
		{UserId: "u1", ItemId: "biryani", Rating: 5, Timestamp: now},
		{UserId: "u1", ItemId: "naan", Rating: 4, Timestamp: now},
		{UserId: "u2", ItemId: "biryani", Rating: 5, Timestamp: now},
		{UserId: "u2", ItemId: "naan", Rating: 4, Timestamp: now},
		{UserId: "u2", ItemId: "lassi", Rating: 5, Timestamp: now},
		{UserId: "u3", ItemId: "lassi", Rating: 3, Timestamp: now},
		{UserId: "u3", ItemId: "kulfi", Rating: 4, Timestamp: now},
	}))
	require.NoError(t, db.BatchInsertItems(context.Background(), []dataset.Item{
		{ItemId: "biryani", BusinessId: "b1", Name: "Chicken Biryani", Category: "Rice"},
		{ItemId: "naan", BusinessId: "b1", Name: "Butter Naan", Category: "Bread"},
		{ItemId: "lassi", BusinessId: "b1", Name: "Mango Lassi", Category: "Drinks"},
		{ItemId: "kulfi", BusinessId: "b1", Name: "Mango Kulfi", Category: "Desserts"},
	}))
	require.NoError(t, db.Close())

	// nothing fitted yet
	_, err = execute("recommend", "--user", "u1")
	assert.Error(t, err)

	_, err = execute("fit")
	require.NoError(t, err)

	out, err := execute("recommend", "--user", "u1", "-n", "3", "--time", "2026-03-02T20:00:00Z")
	assert.NoError(t, err)
	assert.Contains(t, out, "lassi")
	assert.Contains(t, out, "similar_user_u2")

	out, err = execute("similar", "--item", "lassi", "--user", "")
	assert.NoError(t, err)
	assert.Contains(t, out, "kulfi")

	out, err = execute("similar", "--user", "u1", "--item", "")
	assert.NoError(t, err)
	assert.Contains(t, out, "u2")

	_, err = execute("similar", "--user", "u1", "--item", "lassi")
	assert.Error(t, err)

	_, err = execute("recommend", "--user", "u1", "--time", "yesterday")
	assert.Error(t, err)
}

func TestProgressHandler(t *testing.T) {
	e, err := engine.NewEngine(config.GetDefaultConfig(), engine.Sources{Interactions: &emptyFeed{}}, nil)
	require.NoError(t, err)
	assert.Error(t, e.Refresh(context.Background()))

	w := httptest.NewRecorder()
	progressHandler(e)(w, httptest.NewRequest(http.MethodGet, "/progress", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"name":"refresh"`)
	assert.Contains(t, w.Body.String(), `"status":"Failed"`)
}

type emptyFeed struct{}

func (emptyFeed) Interactions(context.Context) ([]dataset.Interaction, error) {
	return nil, nil
}

func TestFormatScore(t *testing.T) {
	assert.Equal(t, "0.5", formatScore(0.5))
	assert.Equal(t, "3", formatScore(3))
	assert.Equal(t, "0.1235", formatScore(0.123456))
}
