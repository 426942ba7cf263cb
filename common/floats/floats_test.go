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

package floats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDot(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	b := []float32{5, 6, 7, 8}
	assert.Equal(t, float32(70), Dot(a, b))
	assert.Panics(t, func() { Dot([]float32{1}, nil) })
}

func TestNorm(t *testing.T) {
	assert.InDelta(t, 5, Norm([]float32{3, 4}), 1e-6)
	assert.Zero(t, Norm(nil))
}

func TestNormalize(t *testing.T) {
	a := []float32{3, 4}
	Normalize(a)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, a, 1e-6)
	z := []float32{0, 0, 0}
	Normalize(z)
	assert.Equal(t, []float32{0, 0, 0}, z)
	c := []float32{0, 5}
	assert.Equal(t, []float32{0, 1}, Normalized(c))
	assert.Equal(t, []float32{0, 5}, c)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, float32(1), Clamp(-2, 1, 5))
	assert.Equal(t, float32(5), Clamp(7, 1, 5))
	assert.Equal(t, float32(3), Clamp(3, 1, 5))
}
