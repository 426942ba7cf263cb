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

import (
	"io"

	"github.com/deliverhub/recommender/base/encoding"
	"github.com/juju/errors"
)

// FreqDict maps strings to dense indices in insertion order and counts how
// often each string was seen.
type FreqDict struct {
	si  map[string]int
	is  []string
	cnt []int
}

func NewFreqDict() (d *FreqDict) {
	d = &FreqDict{map[string]int{}, []string{}, []int{}}
	return
}

func (d *FreqDict) Count() int {
	return len(d.is)
}

func (d *FreqDict) Id(s string) (y int) {
	if y, ok := d.si[s]; ok {
		d.cnt[y]++
		return y
	}

	y = len(d.is)
	d.si[s] = y
	d.is = append(d.is, s)
	d.cnt = append(d.cnt, 1)
	return
}

func (d *FreqDict) NotCount(s string) (y int) {
	if y, ok := d.si[s]; ok {
		return y
	}

	y = len(d.is)
	d.si[s] = y
	d.is = append(d.is, s)
	d.cnt = append(d.cnt, 0)
	return
}

// Lookup returns the index of s without inserting it.
func (d *FreqDict) Lookup(s string) (int, bool) {
	y, ok := d.si[s]
	return y, ok
}

func (d *FreqDict) String(id int) (s string, ok bool) {
	if id < 0 || id >= len(d.is) {
		return "", false
	}
	return d.is[id], true
}

func (d *FreqDict) Freq(id int) int {
	if id < 0 || id >= len(d.cnt) {
		return 0
	}
	return d.cnt[id]
}

// Strings returns all strings in index order.
func (d *FreqDict) Strings() []string {
	return append([]string(nil), d.is...)
}

// Marshal writes strings in index order. Counts are not persisted.
func (d *FreqDict) Marshal(w io.Writer) error {
	return errors.Trace(encoding.WriteStrings(w, d.is))
}

// UnmarshalFreqDict reads a dictionary written by Marshal.
func UnmarshalFreqDict(r io.Reader) (*FreqDict, error) {
	strings, err := encoding.ReadStrings(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	d := NewFreqDict()
	for _, s := range strings {
		if _, exist := d.si[s]; exist {
			return nil, errors.NotValidf("duplicate key %v", s)
		}
		d.NotCount(s)
	}
	return d, nil
}
