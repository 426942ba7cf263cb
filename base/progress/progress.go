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

package progress

import (
	"sort"
	"sync"
	"time"
)

type Status string

const (
	StatusRunning  Status = "Running"
	StatusComplete Status = "Complete"
	StatusFailed   Status = "Failed"
)

// Tracer records the latest run of each named task.
type Tracer struct {
	name  string
	mu    sync.Mutex
	spans map[string]*Span
}

func NewTracer(name string) *Tracer {
	return &Tracer{name: name, spans: make(map[string]*Span)}
}

// Start begins a task with total steps, replacing any previous run with the
// same name.
func (t *Tracer) Start(name string, total int) *Span {
	span := &Span{name: name, status: StatusRunning, total: total, start: time.Now()}
	t.mu.Lock()
	t.spans[name] = span
	t.mu.Unlock()
	return span
}

// List returns the progress of all tasks sorted by name.
func (t *Tracer) List() []Progress {
	t.mu.Lock()
	spans := make([]*Span, 0, len(t.spans))
	for _, span := range t.spans {
		spans = append(spans, span)
	}
	t.mu.Unlock()
	progress := make([]Progress, 0, len(spans))
	for _, span := range spans {
		p := span.Progress()
		p.Tracer = t.name
		progress = append(progress, p)
	}
	sort.Slice(progress, func(i, j int) bool { return progress[i].Name < progress[j].Name })
	return progress
}

type Span struct {
	name   string
	mu     sync.Mutex
	status Status
	total  int
	count  int
	err    string
	start  time.Time
	finish time.Time
}

func (s *Span) Add(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = min(s.count+n, s.total)
}

// End marks the task complete.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusComplete
	s.count = s.total
	s.finish = time.Now()
}

// Fail marks the task failed. Steps done so far are kept.
func (s *Span) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusFailed
	s.err = err.Error()
	s.finish = time.Now()
}

func (s *Span) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Progress{
		Name:       s.name,
		Status:     s.status,
		Error:      s.err,
		Count:      s.count,
		Total:      s.total,
		StartTime:  s.start,
		FinishTime: s.finish,
	}
}

type Progress struct {
	Tracer     string    `json:"tracer"`
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Count      int       `json:"count"`
	Total      int       `json:"total"`
	StartTime  time.Time `json:"start_time"`
	FinishTime time.Time `json:"finish_time"`
}
