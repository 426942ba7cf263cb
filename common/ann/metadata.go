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

package ann

import (
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Metadata attached to an indexed vector.
type Metadata struct {
	Name         string
	Description  string
	Category     string
	BusinessId   string
	BusinessType string
	Tags         []string
	Price        float64
	Attributes   map[string]string
}

// Values resolves a filter key. Fixed fields are looked up first, then
// attributes. Tags resolve to every tag.
func (m Metadata) Values(key string) []string {
	switch key {
	case "name":
		return []string{m.Name}
	case "description":
		return []string{m.Description}
	case "category":
		return []string{m.Category}
	case "business_id":
		return []string{m.BusinessId}
	case "business_type":
		return []string{m.BusinessType}
	case "tags":
		return m.Tags
	case "price":
		return []string{strconv.FormatFloat(m.Price, 'f', -1, 64)}
	}
	if v, ok := m.Attributes[key]; ok {
		return []string{v}
	}
	return nil
}

// ContainsText reports whether name, description or category contains text,
// ignoring case.
func (m Metadata) ContainsText(text string) bool {
	text = strings.ToLower(text)
	return strings.Contains(strings.ToLower(m.Name), text) ||
		strings.Contains(strings.ToLower(m.Description), text) ||
		strings.Contains(strings.ToLower(m.Category), text)
}

// Filters maps a metadata key to accepted values. A single value is an exact
// match, several values accept any of them. Every key must match.
type Filters map[string][]string

func (f Filters) Match(m Metadata) bool {
	for key, accepted := range f {
		if len(accepted) == 0 {
			continue
		}
		values := m.Values(key)
		if !lo.SomeBy(values, func(v string) bool { return lo.Contains(accepted, v) }) {
			return false
		}
	}
	return true
}

func (m Metadata) clone() Metadata {
	c := m
	if m.Tags != nil {
		c.Tags = append([]string(nil), m.Tags...)
	}
	if m.Attributes != nil {
		c.Attributes = make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			c.Attributes[k] = v
		}
	}
	return c
}
