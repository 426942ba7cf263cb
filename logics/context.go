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
	"strings"
	"time"

	"github.com/deliverhub/recommender/base/log"
	"github.com/deliverhub/recommender/config"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

const (
	Morning   = "morning"
	Afternoon = "afternoon"
	Evening   = "evening"
	LateNight = "late_night"
)

// RequestContext carries per-request signals. RadiusKm is accepted but not
// used by any rule.
type RequestContext struct {
	Time     time.Time
	Weather  string
	RadiusKm float64
}

// HourBucket maps an hour to morning [6,11), afternoon [11,16), evening
// [16,22) or late night.
func HourBucket(hour int) string {
	switch {
	case hour >= 6 && hour < 11:
		return Morning
	case hour >= 11 && hour < 16:
		return Afternoon
	case hour >= 16 && hour < 22:
		return Evening
	default:
		return LateNight
	}
}

// Season maps a month to winter, spring, monsoon or autumn.
func Season(month time.Month) string {
	switch month {
	case time.December, time.January, time.February:
		return "winter"
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August, time.September:
		return "monsoon"
	default:
		return "autumn"
	}
}

func contextEnv(c RequestContext) map[string]any {
	return map[string]any{
		"hour":    c.Time.Hour(),
		"bucket":  HourBucket(c.Time.Hour()),
		"weather": strings.ToLower(c.Weather),
		"season":  Season(c.Time.Month()),
		"weekday": c.Time.Weekday().String(),
	}
}

type contextRule struct {
	config.ContextRule
	program *vm.Program
}

// ContextRules is a compiled rule table. Each matching rule emits exactly one
// candidate.
type ContextRules struct {
	rules []contextRule
}

func NewContextRules(rules []config.ContextRule) (*ContextRules, error) {
	env := contextEnv(RequestContext{})
	compiled := make([]contextRule, 0, len(rules))
	for _, rule := range rules {
		program, err := expr.Compile(rule.When, expr.Env(env), expr.AsBool())
		if err != nil {
			return nil, errors.Annotatef(err, "compile context rule for %v", rule.ItemId)
		}
		if rule.Source == "" {
			rule.Source = "context_" + rule.ItemId
		}
		compiled = append(compiled, contextRule{ContextRule: rule, program: program})
	}
	return &ContextRules{rules: compiled}, nil
}

// Evaluate returns the candidates of matching rules in table order.
func (r *ContextRules) Evaluate(c RequestContext) []Recommendation {
	recommendations := make([]Recommendation, 0)
	if r == nil {
		return recommendations
	}
	env := contextEnv(c)
	for _, rule := range r.rules {
		result, err := expr.Run(rule.program, env)
		if err != nil {
			log.Logger().Error("failed to evaluate context rule", zap.String("item_id", rule.ItemId), zap.Error(err))
			continue
		}
		if matched, _ := result.(bool); matched {
			recommendations = append(recommendations, Recommendation{
				ItemId: rule.ItemId,
				Score:  rule.Score,
				Type:   Context,
				Source: rule.Source,
			})
		}
	}
	return recommendations
}
