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

package heap

import "container/heap"

// PriorityQueue of int32 values weighted by float32. Pop returns the element
// with the smallest weight, or the largest one if desc is set.
type PriorityQueue struct {
	_heap[int32, float32]
	desc bool
	seq  int
}

func NewPriorityQueue(desc bool) *PriorityQueue {
	return &PriorityQueue{desc: desc}
}

func (p *PriorityQueue) sign(weight float32) float32 {
	if p.desc {
		return -weight
	}
	return weight
}

// Push inserts a value. The complexity is O(log n).
func (p *PriorityQueue) Push(value int32, weight float32) {
	heap.Push(&p._heap, Elem[int32, float32]{Value: value, Weight: p.sign(weight), seq: p.seq})
	p.seq++
}

// Pop removes the top element.
func (p *PriorityQueue) Pop() (int32, float32) {
	elem := heap.Pop(&p._heap).(Elem[int32, float32])
	return elem.Value, p.sign(elem.Weight)
}

// Peek returns the top element without removing it.
func (p *PriorityQueue) Peek() (int32, float32) {
	elem := p.elems[0]
	return elem.Value, p.sign(elem.Weight)
}

// Values returns all values in heap order.
func (p *PriorityQueue) Values() []int32 {
	values := make([]int32, len(p.elems))
	for i, elem := range p.elems {
		values[i] = elem.Value
	}
	return values
}

// Elems returns all elements in heap order.
func (p *PriorityQueue) Elems() []Elem[int32, float32] {
	elems := make([]Elem[int32, float32], len(p.elems))
	for i, elem := range p.elems {
		elems[i] = Elem[int32, float32]{Value: elem.Value, Weight: p.sign(elem.Weight)}
	}
	return elems
}

func (p *PriorityQueue) Clone() *PriorityQueue {
	pq := &PriorityQueue{desc: p.desc, seq: p.seq}
	pq.elems = make([]Elem[int32, float32], len(p.elems))
	copy(pq.elems, p.elems)
	return pq
}

// Reverse returns a queue with the same elements and the opposite order.
func (p *PriorityQueue) Reverse() *PriorityQueue {
	pq := NewPriorityQueue(!p.desc)
	for _, elem := range p.elems {
		pq.Push(elem.Value, p.sign(elem.Weight))
	}
	return pq
}
