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

package engine

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"time"

	"github.com/deliverhub/recommender/base/encoding"
	"github.com/deliverhub/recommender/base/log"
	"github.com/deliverhub/recommender/storage/blob"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

var artifactMagic = [4]byte{'D', 'H', 'R', 'B'}

const artifactVersion uint32 = 1

// writeArtifact writes the fit time, the hybrid ranker and the factor model.
func writeArtifact(w io.Writer, s *Snapshot) error {
	if err := binary.Write(w, binary.LittleEndian, artifactMagic); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Write(w, binary.LittleEndian, artifactVersion); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteGob(w, s.FitTime); err != nil {
		return errors.Trace(err)
	}
	if err := s.Ranker.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.CF.Marshal(w))
}

func (e *Engine) readArtifact(r io.Reader) (*Snapshot, error) {
	var header [4]byte
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, errors.Trace(err)
	}
	if header != artifactMagic {
		return nil, errors.NotValidf("artifact header %q", header[:])
	}
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, errors.Trace(err)
	}
	if version != artifactVersion {
		return nil, errors.NotSupportedf("artifact version %d", version)
	}
	s := &Snapshot{Ranker: e.newRanker(), CF: e.newCF()}
	if err := encoding.ReadGob(r, &s.FitTime); err != nil {
		return nil, errors.Trace(err)
	}
	if err := s.Ranker.Unmarshal(r); err != nil {
		return nil, errors.Trace(err)
	}
	if err := s.CF.Unmarshal(r); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

// SaveArtifact writes the current snapshot to the blob store.
func (e *Engine) SaveArtifact(ctx context.Context) error {
	span := e.tracer.Start("save_artifact", 1)
	if err := e.saveArtifact(ctx); err != nil {
		span.Fail(err)
		return err
	}
	span.End()
	return nil
}

func (e *Engine) saveArtifact(ctx context.Context) error {
	s, err := e.ready()
	if err != nil {
		return err
	}
	if e.store == nil {
		return errors.NotSupportedf("artifact store")
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Refresh.StorageTimeout)
	defer cancel()
	start := time.Now()
	w, err := e.store.Create(ctx, e.cfg.Refresh.ArtifactName)
	if err != nil {
		return errors.Trace(err)
	}
	buf := bufio.NewWriter(w)
	if err = writeArtifact(buf, s); err != nil {
		blob.Abort(w, err)
		return errors.Trace(err)
	}
	if err = buf.Flush(); err != nil {
		blob.Abort(w, err)
		return errors.Trace(err)
	}
	if err = w.Close(); err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("save artifact complete",
		zap.String("name", e.cfg.Refresh.ArtifactName),
		zap.Duration("save_time", time.Since(start)))
	return nil
}

// LoadArtifact replaces the current snapshot with the saved one. A missing
// artifact is reported as errors.NotFound. The current snapshot is kept on
// any error.
func (e *Engine) LoadArtifact(ctx context.Context) error {
	if e.store == nil {
		return errors.NotSupportedf("artifact store")
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Refresh.StorageTimeout)
	defer cancel()
	r, err := e.store.Open(ctx, e.cfg.Refresh.ArtifactName)
	if err != nil {
		return errors.Trace(err)
	}
	defer r.Close()
	s, err := e.readArtifact(bufio.NewReader(r))
	if err != nil {
		return errors.Annotatef(err, "load artifact %v", e.cfg.Refresh.ArtifactName)
	}
	e.publish(s)
	return nil
}
