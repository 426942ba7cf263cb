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
	"io"
	"math"
	"regexp"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/deliverhub/recommender/base/encoding"
	"github.com/deliverhub/recommender/common/floats"
	"github.com/deliverhub/recommender/config"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]{2,}`)

// Vectorizer converts documents to L2-normalized TF-IDF vectors over a
// vocabulary frozen at fit time.
type Vectorizer struct {
	MaxFeatures int
	MaxNGram    int
	StopWords   bool

	Terms      []string // sorted
	IDF        []float32
	vocabulary map[string]int
}

func NewVectorizer(cfg config.ContentConfig) *Vectorizer {
	return &Vectorizer{
		MaxFeatures: cfg.MaxFeatures,
		MaxNGram:    max(cfg.MaxNGram, 1),
		StopWords:   cfg.StopWords,
	}
}

// Analyze lowercases doc, extracts tokens, drops stop words and emits n-grams
// of length 1 to MaxNGram joined by spaces.
func (v *Vectorizer) Analyze(doc string) []string {
	tokens := tokenPattern.FindAllString(strings.ToLower(doc), -1)
	if v.StopWords {
		tokens = lo.Filter(tokens, func(token string, _ int) bool {
			return !EnglishStopWords.Contains(token)
		})
	}
	terms := make([]string, 0, len(tokens)*v.MaxNGram)
	for n := 1; n <= v.MaxNGram; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			terms = append(terms, strings.Join(tokens[i:i+n], " "))
		}
	}
	return terms
}

func (v *Vectorizer) Fit(docs []string) error {
	if len(docs) == 0 {
		return errors.NotValidf("empty corpus")
	}
	frequency := make(map[string]int)
	documentFrequency := make(map[string]int)
	for _, doc := range docs {
		seen := mapset.NewThreadUnsafeSet[string]()
		for _, term := range v.Analyze(doc) {
			frequency[term]++
			if !seen.Contains(term) {
				seen.Add(term)
				documentFrequency[term]++
			}
		}
	}
	terms := lo.Keys(frequency)
	sort.Slice(terms, func(i, j int) bool {
		if frequency[terms[i]] != frequency[terms[j]] {
			return frequency[terms[i]] > frequency[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if v.MaxFeatures > 0 && len(terms) > v.MaxFeatures {
		terms = terms[:v.MaxFeatures]
	}
	sort.Strings(terms)
	v.Terms = terms
	v.IDF = make([]float32, len(terms))
	n := float64(len(docs))
	for i, term := range terms {
		// smooth idf
		v.IDF[i] = float32(math.Log((1+n)/(1+float64(documentFrequency[term]))) + 1)
	}
	v.buildVocabulary()
	return nil
}

func (v *Vectorizer) buildVocabulary() {
	v.vocabulary = make(map[string]int, len(v.Terms))
	for i, term := range v.Terms {
		v.vocabulary[term] = i
	}
}

// Transform returns the TF-IDF vector of doc. Terms outside the vocabulary
// are dropped, so the result may be all zeros.
func (v *Vectorizer) Transform(doc string) []float32 {
	vec := make([]float32, len(v.Terms))
	for _, term := range v.Analyze(doc) {
		if i, ok := v.vocabulary[term]; ok {
			vec[i]++
		}
	}
	for i := range vec {
		vec[i] *= v.IDF[i]
	}
	floats.Normalize(vec)
	return vec
}

func (v *Vectorizer) Dimension() int {
	return len(v.Terms)
}

func (v *Vectorizer) Marshal(w io.Writer) error {
	if err := encoding.WriteGob(w, []int{v.MaxFeatures, v.MaxNGram, lo.Ternary(v.StopWords, 1, 0)}); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteStrings(w, v.Terms); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(encoding.WriteVector(w, v.IDF))
}

func (v *Vectorizer) Unmarshal(r io.Reader) error {
	var params []int
	if err := encoding.ReadGob(r, &params); err != nil {
		return errors.Trace(err)
	}
	if len(params) != 3 {
		return errors.NotValidf("vectorizer parameters %v", params)
	}
	terms, err := encoding.ReadStrings(r)
	if err != nil {
		return errors.Trace(err)
	}
	idf, err := encoding.ReadVector(r)
	if err != nil {
		return errors.Trace(err)
	}
	if len(idf) != len(terms) {
		return errors.NotValidf("%d idf weights for %d terms", len(idf), len(terms))
	}
	v.MaxFeatures, v.MaxNGram, v.StopWords = params[0], max(params[1], 1), params[2] != 0
	v.Terms, v.IDF = terms, idf
	v.buildVocabulary()
	return nil
}
