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
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ProgressTestSuite struct {
	suite.Suite
	tracer *Tracer
}

func (suite *ProgressTestSuite) SetupTest() {
	suite.tracer = NewTracer("engine")
}

func (suite *ProgressTestSuite) TestSpan() {
	span := suite.tracer.Start("refresh", 3)
	progress := suite.tracer.List()
	suite.Len(progress, 1)
	suite.Equal("engine", progress[0].Tracer)
	suite.Equal("refresh", progress[0].Name)
	suite.Equal(StatusRunning, progress[0].Status)
	suite.Zero(progress[0].Count)
	suite.True(progress[0].FinishTime.IsZero())

	span.Add(2)
	span.Add(5)
	suite.Equal(3, suite.tracer.List()[0].Count)

	span.End()
	progress = suite.tracer.List()
	suite.Equal(StatusComplete, progress[0].Status)
	suite.False(progress[0].FinishTime.Before(progress[0].StartTime))
}

func (suite *ProgressTestSuite) TestFail() {
	span := suite.tracer.Start("save_artifact", 2)
	span.Add(1)
	span.Fail(errors.New("disk full"))
	progress := suite.tracer.List()
	suite.Equal(StatusFailed, progress[0].Status)
	suite.Equal("disk full", progress[0].Error)
	suite.Equal(1, progress[0].Count)
}

func (suite *ProgressTestSuite) TestRestart() {
	suite.tracer.Start("refresh", 1).Fail(errors.New("timeout"))
	suite.tracer.Start("load_artifact", 1)
	suite.tracer.Start("refresh", 1)
	progress := suite.tracer.List()
	suite.Equal([]string{"load_artifact", "refresh"}, []string{progress[0].Name, progress[1].Name})
	suite.Equal(StatusRunning, progress[1].Status)
	suite.Empty(progress[1].Error)
}

func TestProgress(t *testing.T) {
	suite.Run(t, new(ProgressTestSuite))
}
