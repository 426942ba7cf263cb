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
	"encoding/binary"
	"io"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/deliverhub/recommender/base/encoding"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// InteractionMatrix is a sparse user by item rating matrix. Rows and columns
// follow the first appearance of users and items. A missing cell or a 0
// rating means the rating is unknown.
type InteractionMatrix struct {
	userDict *FreqDict
	itemDict *FreqDict
	rows     [][]lo.Tuple2[int32, float32] // sorted by item index
	cols     [][]lo.Tuple2[int32, float32] // sorted by user index
	rated    []*bitset.BitSet
	count    int
	nonzero  int
}

type MatrixOption func(m *InteractionMatrix)

// WithUsers registers users before interactions, so users without ratings
// still own a row.
func WithUsers(userIds ...string) MatrixOption {
	return func(m *InteractionMatrix) {
		for _, userId := range userIds {
			m.userDict.NotCount(userId)
		}
	}
}

// WithItems registers items before interactions, so items without ratings
// still own a column.
func WithItems(itemIds ...string) MatrixOption {
	return func(m *InteractionMatrix) {
		for _, itemId := range itemIds {
			m.itemDict.NotCount(itemId)
		}
	}
}

// NewInteractionMatrix builds a matrix. When a user rated an item more than
// once, the rating with the latest timestamp wins; equal timestamps keep the
// later one in input order.
func NewInteractionMatrix(interactions []Interaction, opts ...MatrixOption) *InteractionMatrix {
	m := &InteractionMatrix{
		userDict: NewFreqDict(),
		itemDict: NewFreqDict(),
	}
	for _, opt := range opts {
		opt(m)
	}
	type cell struct {
		rating float32
		index  int
	}
	cells := make(map[lo.Tuple2[int, int]]cell)
	for i, interaction := range interactions {
		u := m.userDict.Id(interaction.UserId)
		v := m.itemDict.Id(interaction.ItemId)
		key := lo.Tuple2[int, int]{A: u, B: v}
		if prev, exist := cells[key]; exist && interactions[prev.index].Timestamp.After(interaction.Timestamp) {
			continue
		}
		cells[key] = cell{rating: interaction.Rating, index: i}
	}
	m.rows = make([][]lo.Tuple2[int32, float32], m.userDict.Count())
	m.cols = make([][]lo.Tuple2[int32, float32], m.itemDict.Count())
	for key, c := range cells {
		m.rows[key.A] = append(m.rows[key.A], lo.Tuple2[int32, float32]{A: int32(key.B), B: c.rating})
		m.cols[key.B] = append(m.cols[key.B], lo.Tuple2[int32, float32]{A: int32(key.A), B: c.rating})
	}
	m.finish()
	return m
}

func (m *InteractionMatrix) finish() {
	m.count, m.nonzero = 0, 0
	m.rated = make([]*bitset.BitSet, len(m.rows))
	for u, row := range m.rows {
		sort.Slice(row, func(i, j int) bool { return row[i].A < row[j].A })
		m.rated[u] = bitset.New(uint(len(m.cols)))
		for _, e := range row {
			if e.B != 0 {
				m.rated[u].Set(uint(e.A))
				m.nonzero++
			}
		}
		m.count += len(row)
	}
	for _, col := range m.cols {
		sort.Slice(col, func(i, j int) bool { return col[i].A < col[j].A })
	}
}

func (m *InteractionMatrix) CountUsers() int {
	return m.userDict.Count()
}

func (m *InteractionMatrix) CountItems() int {
	return m.itemDict.Count()
}

// CountInteractions returns the number of stored cells, including 0 ratings.
func (m *InteractionMatrix) CountInteractions() int {
	return m.count
}

// CountNonzero returns the number of cells with a nonzero rating.
func (m *InteractionMatrix) CountNonzero() int {
	return m.nonzero
}

func (m *InteractionMatrix) UserIndex(userId string) (int, bool) {
	return m.userDict.Lookup(userId)
}

func (m *InteractionMatrix) ItemIndex(itemId string) (int, bool) {
	return m.itemDict.Lookup(itemId)
}

func (m *InteractionMatrix) UserId(index int) string {
	s, _ := m.userDict.String(index)
	return s
}

func (m *InteractionMatrix) ItemId(index int) string {
	s, _ := m.itemDict.String(index)
	return s
}

func (m *InteractionMatrix) UserIds() []string {
	return m.userDict.Strings()
}

func (m *InteractionMatrix) ItemIds() []string {
	return m.itemDict.Strings()
}

// Row returns the ratings of a user sorted by item index.
func (m *InteractionMatrix) Row(user int) []lo.Tuple2[int32, float32] {
	return m.rows[user]
}

// Column returns the ratings of an item sorted by user index.
func (m *InteractionMatrix) Column(item int) []lo.Tuple2[int32, float32] {
	return m.cols[item]
}

// IsRated reports whether a user gave an item a nonzero rating. A rating of 0
// means unknown.
func (m *InteractionMatrix) IsRated(user, item int) bool {
	return m.rated[user].Test(uint(item))
}

// Get returns the rating of a cell, 0 if unknown.
func (m *InteractionMatrix) Get(user, item int) float32 {
	if !m.IsRated(user, item) {
		return 0
	}
	row := m.rows[user]
	i := sort.Search(len(row), func(i int) bool { return row[i].A >= int32(item) })
	return row[i].B
}

// Dense expands the matrix. Unknown cells are 0.
func (m *InteractionMatrix) Dense() [][]float32 {
	dense := make([][]float32, len(m.rows))
	for u, row := range m.rows {
		dense[u] = make([]float32, len(m.cols))
		for _, e := range row {
			dense[u][e.A] = e.B
		}
	}
	return dense
}

// Marshal writes users, items and rows.
func (m *InteractionMatrix) Marshal(w io.Writer) error {
	if err := m.userDict.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	if err := m.itemDict.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	for _, row := range m.rows {
		if err := encoding.WriteLength(w, len(row)); err != nil {
			return errors.Trace(err)
		}
		for _, e := range row {
			if err := binary.Write(w, binary.LittleEndian, e.A); err != nil {
				return errors.Trace(err)
			}
			if err := binary.Write(w, binary.LittleEndian, e.B); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

// UnmarshalInteractionMatrix reads a matrix written by Marshal.
func UnmarshalInteractionMatrix(r io.Reader) (*InteractionMatrix, error) {
	m := &InteractionMatrix{}
	var err error
	if m.userDict, err = UnmarshalFreqDict(r); err != nil {
		return nil, errors.Trace(err)
	}
	if m.itemDict, err = UnmarshalFreqDict(r); err != nil {
		return nil, errors.Trace(err)
	}
	m.rows = make([][]lo.Tuple2[int32, float32], m.userDict.Count())
	m.cols = make([][]lo.Tuple2[int32, float32], m.itemDict.Count())
	for u := range m.rows {
		n, err := encoding.ReadLength(r)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if n > len(m.cols) {
			return nil, errors.NotValidf("row %d has %d entries", u, n)
		}
		m.rows[u] = make([]lo.Tuple2[int32, float32], n)
		for i := range m.rows[u] {
			if err = binary.Read(r, binary.LittleEndian, &m.rows[u][i].A); err != nil {
				return nil, errors.Trace(err)
			}
			if err = binary.Read(r, binary.LittleEndian, &m.rows[u][i].B); err != nil {
				return nil, errors.Trace(err)
			}
			item := m.rows[u][i].A
			if item < 0 || int(item) >= len(m.cols) {
				return nil, errors.NotValidf("item index %d", item)
			}
			m.cols[item] = append(m.cols[item], lo.Tuple2[int32, float32]{A: int32(u), B: m.rows[u][i].B})
		}
	}
	m.finish()
	return m, nil
}
