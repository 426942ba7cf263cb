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

package blob

import (
	"context"
	"io"

	"github.com/deliverhub/recommender/config"
	"github.com/juju/errors"
)

// Store keeps model artifacts. Open reports a missing blob as
// errors.NotFound. A blob written through Create is visible once Close
// returns nil.
type Store interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Create(ctx context.Context, name string) (io.WriteCloser, error)
	List(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, name string) error
}

// NewStore creates the store selected by cfg.Type.
func NewStore(cfg config.BlobConfig) (Store, error) {
	switch cfg.Type {
	case "posix":
		return NewPOSIX(cfg.Posix.Dir), nil
	case "s3":
		return NewS3(cfg.S3)
	case "gcs":
		return NewGCS(cfg.GCS)
	case "azure":
		return NewAzureBlob(cfg.Azure)
	}
	return nil, errors.NotSupportedf("blob store %q", cfg.Type)
}

// uploadWriter streams writes into an upload running in the background.
type uploadWriter struct {
	*io.PipeWriter
	done chan error
}

func upload(send func(r io.Reader) error) io.WriteCloser {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := send(pr)
		_ = pr.CloseWithError(err)
		done <- err
	}()
	return &uploadWriter{PipeWriter: pw, done: done}
}

// CloseWithError aborts the upload.
func (w *uploadWriter) CloseWithError(err error) error {
	_ = w.PipeWriter.CloseWithError(err)
	<-w.done
	return nil
}

// Close finishes the stream and waits for the upload.
func (w *uploadWriter) Close() error {
	if err := w.PipeWriter.Close(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(<-w.done)
}

// Abort discards a blob being written. Writers that cannot discard are
// closed.
func Abort(w io.WriteCloser, err error) {
	if aborter, ok := w.(interface{ CloseWithError(error) error }); ok {
		_ = aborter.CloseWithError(err)
		return
	}
	_ = w.Close()
}

func trimPrefix(prefix, name string) string {
	if len(name) >= len(prefix) {
		name = name[len(prefix):]
	}
	if len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}
	return name
}
