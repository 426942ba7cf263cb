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

package ann

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"time"

	"github.com/deliverhub/recommender/base/encoding"
	"github.com/juju/errors"
)

var magic = [4]byte{'D', 'H', 'V', 'X'}

const version uint32 = 1

type storedMetadata struct {
	Items []Metadata
}

// BlobStore is the subset of an artifact store needed to persist an index.
type BlobStore interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Create(ctx context.Context, name string) (io.WriteCloser, error)
}

// Save writes the index as one unit: header, ids, vectors, metadata and
// timestamp. The HNSW graph is rebuilt on load.
func (idx *Index) Save(w io.Writer) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if err := binary.Write(w, binary.LittleEndian, magic); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Write(w, binary.LittleEndian, version); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteLength(w, idx.dimension); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteString(w, string(idx.backend)); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteStrings(w, idx.ids); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteMatrix(w, idx.vectors); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteGob(w, storedMetadata{Items: idx.metadata}); err != nil {
		return errors.Trace(err)
	}
	var nanos int64
	if !idx.timestamp.IsZero() {
		nanos = idx.timestamp.UnixNano()
	}
	return errors.Trace(binary.Write(w, binary.LittleEndian, nanos))
}

// Load reads an index written by Save. Missing or malformed input is
// reported as ErrCorruptedIndex.
func Load(r io.Reader, opts ...Option) (*Index, error) {
	var header [4]byte
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, errors.Annotate(ErrCorruptedIndex, err.Error())
	}
	if header != magic {
		return nil, errors.Annotatef(ErrCorruptedIndex, "bad magic %q", header[:])
	}
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return nil, errors.Annotate(ErrCorruptedIndex, err.Error())
	}
	if v != version {
		return nil, errors.Annotatef(ErrCorruptedIndex, "unsupported version %d", v)
	}
	dimension, err := encoding.ReadLength(r)
	if err != nil {
		return nil, errors.Annotate(ErrCorruptedIndex, err.Error())
	}
	backend, err := encoding.ReadString(r)
	if err != nil {
		return nil, errors.Annotate(ErrCorruptedIndex, err.Error())
	}
	if Backend(backend) != Flat && Backend(backend) != HNSW {
		return nil, errors.Annotatef(ErrCorruptedIndex, "unknown backend %q", backend)
	}
	ids, err := encoding.ReadStrings(r)
	if err != nil {
		return nil, errors.Annotate(ErrCorruptedIndex, err.Error())
	}
	if int64(len(ids))*int64(dimension) > encoding.MaxLength {
		return nil, errors.Annotatef(ErrCorruptedIndex, "%d vectors of dimension %d", len(ids), dimension)
	}
	vectors := make([][]float32, len(ids))
	for i := range vectors {
		vectors[i] = make([]float32, dimension)
	}
	if err = encoding.ReadMatrix(r, vectors); err != nil {
		return nil, errors.Annotate(ErrCorruptedIndex, err.Error())
	}
	var stored storedMetadata
	if err = encoding.ReadGob(r, &stored); err != nil {
		return nil, errors.Annotate(ErrCorruptedIndex, err.Error())
	}
	metadata := stored.Items
	if len(metadata) != len(ids) {
		return nil, errors.Annotatef(ErrCorruptedIndex, "%d metadata for %d ids", len(metadata), len(ids))
	}
	var nanos int64
	if err = binary.Read(r, binary.LittleEndian, &nanos); err != nil {
		return nil, errors.Annotate(ErrCorruptedIndex, err.Error())
	}

	idx := NewIndex(dimension, append([]Option{WithBackend(Backend(backend))}, opts...)...)
	if err = idx.validate(ids, vectors); err != nil {
		return nil, errors.Annotate(ErrCorruptedIndex, err.Error())
	}
	idx.insert(ids, vectors, metadata)
	if nanos != 0 {
		idx.timestamp = time.Unix(0, nanos).UTC()
	}
	return idx, nil
}

// SaveBlob writes the index to a blob store.
func (idx *Index) SaveBlob(ctx context.Context, store BlobStore, name string) error {
	w, err := store.Create(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	buf := bufio.NewWriter(w)
	if err = idx.Save(buf); err != nil {
		abort(w, err)
		return errors.Trace(err)
	}
	if err = buf.Flush(); err != nil {
		abort(w, err)
		return errors.Trace(err)
	}
	return errors.Trace(w.Close())
}

func abort(w io.WriteCloser, err error) {
	if aborter, ok := w.(interface{ CloseWithError(error) error }); ok {
		_ = aborter.CloseWithError(err)
		return
	}
	_ = w.Close()
}

// LoadBlob reads an index from a blob store.
func LoadBlob(ctx context.Context, store BlobStore, name string, opts ...Option) (*Index, error) {
	r, err := store.Open(ctx, name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer r.Close()
	return Load(bufio.NewReader(r), opts...)
}
