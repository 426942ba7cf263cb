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

package dataset

import "time"

// Interaction is a rating given by a user to an item.
type Interaction struct {
	UserId    string
	ItemId    string
	Rating    float32
	Timestamp time.Time
}

// Item is a catalog entry.
type Item struct {
	ItemId       string
	BusinessId   string
	Name         string
	Description  string
	Category     string
	BusinessType string
	Tags         []string
	IsVegetarian bool
	IsVegan      bool
	Price        float64
}

// TrendingItem is an item ranked by recent popularity.
type TrendingItem struct {
	ItemId string
	Score  float64
}

const (
	FeedbackLike     = "like"
	FeedbackDislike  = "dislike"
	FeedbackClick    = "click"
	FeedbackPurchase = "purchase"
)

// FeedbackTypes lists the accepted feedback types.
var FeedbackTypes = []string{FeedbackLike, FeedbackDislike, FeedbackClick, FeedbackPurchase}

// Feedback is an explicit signal about a recommended item.
type Feedback struct {
	FeedbackType string
	UserId       string
	ItemId       string
	Timestamp    time.Time
}
