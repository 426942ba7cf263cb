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

package data

import (
	"context"
	"time"

	"github.com/deliverhub/recommender/base/json"
	"github.com/deliverhub/recommender/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"gorm.io/gorm/clause"
)

// BatchInsertInteractions appends rating events. Events with the same user,
// item and timestamp are overwritten.
func (d *SQLDatabase) BatchInsertInteractions(ctx context.Context, interactions []dataset.Interaction) error {
	if len(interactions) == 0 {
		return nil
	}
	rows := lo.Map(interactions, func(i dataset.Interaction, _ int) SQLInteraction {
		return SQLInteraction{UserId: i.UserId, ItemId: i.ItemId, Timestamp: i.Timestamp.UTC(), Rating: i.Rating}
	})
	return errors.Trace(d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error)
}

// Interactions returns all rating events ordered by time.
func (d *SQLDatabase) Interactions(ctx context.Context) ([]dataset.Interaction, error) {
	var rows []SQLInteraction
	if err := d.gormDB.WithContext(ctx).Order("time_stamp, user_id, item_id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLInteraction, _ int) dataset.Interaction {
		return dataset.Interaction{UserId: row.UserId, ItemId: row.ItemId, Rating: row.Rating, Timestamp: row.Timestamp}
	}), nil
}

// BatchInsertItems inserts or replaces catalog entries.
func (d *SQLDatabase) BatchInsertItems(ctx context.Context, items []dataset.Item) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]SQLItem, len(items))
	for i, item := range items {
		tags, err := json.MarshalString(lo.Ternary(item.Tags == nil, []string{}, item.Tags))
		if err != nil {
			return errors.Trace(err)
		}
		rows[i] = SQLItem{
			ItemId:       item.ItemId,
			BusinessId:   item.BusinessId,
			Name:         item.Name,
			Description:  item.Description,
			Category:     item.Category,
			BusinessType: item.BusinessType,
			Tags:         tags,
			IsVegetarian: item.IsVegetarian,
			IsVegan:      item.IsVegan,
			Price:        item.Price,
		}
	}
	return errors.Trace(d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error)
}

// Items returns the catalog ordered by item id.
func (d *SQLDatabase) Items(ctx context.Context) ([]dataset.Item, error) {
	var rows []SQLItem
	if err := d.gormDB.WithContext(ctx).Order("item_id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	items := make([]dataset.Item, len(rows))
	for i, row := range rows {
		items[i] = dataset.Item{
			ItemId:       row.ItemId,
			BusinessId:   row.BusinessId,
			Name:         row.Name,
			Description:  row.Description,
			Category:     row.Category,
			BusinessType: row.BusinessType,
			IsVegetarian: row.IsVegetarian,
			IsVegan:      row.IsVegan,
			Price:        row.Price,
		}
		if err := json.UnmarshalString(row.Tags, &items[i].Tags); err != nil {
			return nil, errors.Annotatef(err, "tags of item %v", row.ItemId)
		}
	}
	return items, nil
}

// InsertFeedback records a feedback event.
func (d *SQLDatabase) InsertFeedback(ctx context.Context, feedback dataset.Feedback) error {
	row := SQLFeedback{
		FeedbackType: feedback.FeedbackType,
		UserId:       feedback.UserId,
		ItemId:       feedback.ItemId,
		Timestamp:    feedback.Timestamp.UTC(),
	}
	return errors.Trace(d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error)
}

// GetUserFeedback returns feedback of a user, newest first. Empty
// feedbackTypes matches all types.
func (d *SQLDatabase) GetUserFeedback(ctx context.Context, userId string, feedbackTypes ...string) ([]dataset.Feedback, error) {
	tx := d.gormDB.WithContext(ctx).Where("user_id = ?", userId)
	if len(feedbackTypes) > 0 {
		tx = tx.Where("feedback_type IN ?", feedbackTypes)
	}
	var rows []SQLFeedback
	if err := tx.Order("time_stamp DESC, item_id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLFeedback, _ int) dataset.Feedback {
		return dataset.Feedback{FeedbackType: row.FeedbackType, UserId: row.UserId, ItemId: row.ItemId, Timestamp: row.Timestamp}
	}), nil
}

// Trending ranks items by the number of interactions within TrendingWindow.
// A non-empty businessId restricts the ranking to items of that business.
func (d *SQLDatabase) Trending(ctx context.Context, businessId string, n int) ([]dataset.TrendingItem, error) {
	since := time.Now().Add(-d.TrendingWindow).UTC()
	tx := d.gormDB.WithContext(ctx).
		Table(d.InteractionsTable()+" AS i").
		Select("i.item_id AS item_id, COUNT(*) AS score").
		Where("i.time_stamp >= ?", since)
	if businessId != "" {
		tx = tx.Joins("JOIN "+d.ItemsTable()+" AS t ON t.item_id = i.item_id").
			Where("t.business_id = ?", businessId)
	}
	var items []dataset.TrendingItem
	if err := tx.Group("i.item_id").Order("score DESC, i.item_id").Limit(n).Scan(&items).Error; err != nil {
		return nil, errors.Trace(err)
	}
	if items == nil {
		items = []dataset.TrendingItem{}
	}
	return items, nil
}
