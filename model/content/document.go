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

package content

import (
	"strconv"
	"strings"

	"github.com/deliverhub/recommender/common/ann"
	"github.com/deliverhub/recommender/dataset"
)

const (
	Budget   = "budget"
	Midrange = "midrange"
	Premium  = "premium"
)

// PriceBucket maps a price to budget (< 100), midrange (< 500) or premium.
func PriceBucket(price float64) string {
	switch {
	case price < 100:
		return Budget
	case price < 500:
		return Midrange
	default:
		return Premium
	}
}

// FeatureExtractor turns catalog items into text documents.
type FeatureExtractor struct{}

// Document joins name, description, category, business type, tags, dietary
// flags and the price bucket with spaces.
func (FeatureExtractor) Document(item dataset.Item) string {
	features := []string{item.Name, item.Description, item.Category, item.BusinessType}
	features = append(features, item.Tags...)
	if item.IsVegetarian {
		features = append(features, "vegetarian")
	}
	if item.IsVegan {
		features = append(features, "vegan")
	}
	features = append(features, PriceBucket(item.Price))
	return strings.Join(features, " ")
}

// Metadata converts an item into index metadata.
func (FeatureExtractor) Metadata(item dataset.Item) ann.Metadata {
	return ann.Metadata{
		Name:         item.Name,
		Description:  item.Description,
		Category:     item.Category,
		BusinessId:   item.BusinessId,
		BusinessType: item.BusinessType,
		Tags:         item.Tags,
		Price:        item.Price,
		Attributes: map[string]string{
			"is_vegetarian": strconv.FormatBool(item.IsVegetarian),
			"is_vegan":      strconv.FormatBool(item.IsVegan),
			"price_bucket":  PriceBucket(item.Price),
		},
	}
}

// Profile describes the taste of a user.
type Profile struct {
	PreferredCategories []string
	IsVegetarian        bool
	IsVegan             bool
	// PricePreference defaults to midrange.
	PricePreference string
	// LikedItems are item ids; documents of the first five are appended.
	LikedItems []string
}

const maxProfileItems = 5

// ProfileDocument builds the document of a profile. lookup resolves liked
// items to their documents.
func (FeatureExtractor) ProfileDocument(profile Profile, lookup func(itemId string) (string, bool)) string {
	features := append([]string(nil), profile.PreferredCategories...)
	if profile.IsVegetarian {
		features = append(features, "vegetarian")
	}
	if profile.IsVegan {
		features = append(features, "vegan")
	}
	if profile.PricePreference == "" {
		features = append(features, Midrange)
	} else {
		features = append(features, profile.PricePreference)
	}
	for i, itemId := range profile.LikedItems {
		if i >= maxProfileItems {
			break
		}
		if lookup == nil {
			break
		}
		if doc, ok := lookup(itemId); ok {
			features = append(features, doc)
		}
	}
	return strings.Join(features, " ")
}
