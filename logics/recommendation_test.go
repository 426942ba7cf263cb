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
	"testing"
	"time"

	"github.com/deliverhub/recommender/config"
	"github.com/stretchr/testify/assert"
)

func TestMerge(t *testing.T) {
	merged := Merge(10,
		[]Recommendation{{ItemId: "a", Score: 0.4, Type: Collaborative}, {ItemId: "b", Score: 0.5, Type: Collaborative}},
		[]Recommendation{{ItemId: "a", Score: 0.9, Type: Content}, {ItemId: "b", Score: 0.5, Type: Content}},
		[]Recommendation{{ItemId: "c", Score: 0.5, Type: Popularity}},
	)
	assert.Equal(t, []Recommendation{
		{ItemId: "a", Score: 0.9, Type: Content},
		{ItemId: "b", Score: 0.5, Type: Collaborative},
		{ItemId: "c", Score: 0.5, Type: Popularity},
	}, merged)

	assert.Len(t, Merge(2, merged), 2)
	assert.Empty(t, Merge(0, merged))
	assert.NotNil(t, Merge(10))
}

func TestHourBucket(t *testing.T) {
	assert.Equal(t, LateNight, HourBucket(5))
	assert.Equal(t, Morning, HourBucket(6))
	assert.Equal(t, Morning, HourBucket(10))
	assert.Equal(t, Afternoon, HourBucket(11))
	assert.Equal(t, Evening, HourBucket(16))
	assert.Equal(t, Evening, HourBucket(21))
	assert.Equal(t, LateNight, HourBucket(22))
	assert.Equal(t, LateNight, HourBucket(0))
}

func TestSeason(t *testing.T) {
	assert.Equal(t, "winter", Season(time.January))
	assert.Equal(t, "winter", Season(time.December))
	assert.Equal(t, "spring", Season(time.April))
	assert.Equal(t, "monsoon", Season(time.July))
	assert.Equal(t, "autumn", Season(time.October))
}

func TestContextRules(t *testing.T) {
	rules, err := NewContextRules(config.DefaultContextRules())
	assert.NoError(t, err)

	morning := time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, []Recommendation{
		{ItemId: "breakfast_special", Score: 0.8, Type: Context, Source: "time_morning"},
	}, rules.Evaluate(RequestContext{Time: morning}))

	evening := time.Date(2026, time.July, 2, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, []Recommendation{
		{ItemId: "dinner_special", Score: 0.8, Type: Context, Source: "time_evening"},
		{ItemId: "hot_soup", Score: 0.9, Type: Context, Source: "weather_rainy"},
	}, rules.Evaluate(RequestContext{Time: evening, Weather: "Rainy"}))

	var empty *ContextRules
	assert.Empty(t, empty.Evaluate(RequestContext{Time: morning}))
}

func TestCustomContextRules(t *testing.T) {
	rules, err := NewContextRules([]config.ContextRule{
		{ItemId: "mango_lassi", When: `season == "monsoon" && hour >= 12`, Score: 0.7},
		{ItemId: "brunch", When: `weekday in ["Saturday", "Sunday"] && bucket == "morning"`, Score: 0.6},
	})
	assert.NoError(t, err)
	saturday := time.Date(2026, time.August, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, []Recommendation{
		{ItemId: "brunch", Score: 0.6, Type: Context, Source: "context_brunch"},
	}, rules.Evaluate(RequestContext{Time: saturday}))
	assert.Equal(t, "mango_lassi", rules.Evaluate(RequestContext{Time: saturday.Add(4 * time.Hour)})[0].ItemId)

	_, err = NewContextRules([]config.ContextRule{{ItemId: "x", When: `hour +`}})
	assert.Error(t, err)
	_, err = NewContextRules([]config.ContextRule{{ItemId: "x", When: `hour`}})
	assert.Error(t, err)
}
