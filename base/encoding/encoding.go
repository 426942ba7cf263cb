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

package encoding

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"

	"github.com/juju/errors"
)

// MaxLength bounds every length prefix read from a stream so that a corrupted
// artifact fails fast instead of allocating gigabytes.
const MaxLength = 1 << 30

// chunkSize is the number of elements read at a time for length-prefixed
// payloads. Buffers grow with the bytes actually present in the stream, not
// with the declared length.
const chunkSize = 1 << 16

// ErrCorrupted is returned when a length prefix is negative or exceeds MaxLength.
var ErrCorrupted = errors.New("corrupted byte stream")

// WriteMatrix writes matrix to byte stream.
func WriteMatrix(w io.Writer, m [][]float32) error {
	for i := range m {
		err := binary.Write(w, binary.LittleEndian, m[i])
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// ReadMatrix reads matrix from byte stream.
func ReadMatrix(r io.Reader, m [][]float32) error {
	for i := range m {
		err := binary.Read(r, binary.LittleEndian, m[i])
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// WriteVector writes a length-prefixed vector to byte stream.
func WriteVector(w io.Writer, v []float32) error {
	if err := WriteLength(w, len(v)); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(binary.Write(w, binary.LittleEndian, v))
}

// ReadVector reads a length-prefixed vector from byte stream.
func ReadVector(r io.Reader) ([]float32, error) {
	n, err := ReadLength(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	v := make([]float32, 0, min(n, chunkSize))
	chunk := make([]float32, min(n, chunkSize))
	for len(v) < n {
		part := chunk[:min(n-len(v), chunkSize)]
		if err = binary.Read(r, binary.LittleEndian, part); err != nil {
			return nil, errors.Trace(err)
		}
		v = append(v, part...)
	}
	return v, nil
}

// WriteLength writes a non-negative length as int64.
func WriteLength(w io.Writer, n int) error {
	return errors.Trace(binary.Write(w, binary.LittleEndian, int64(n)))
}

// ReadLength reads a length written by WriteLength.
func ReadLength(r io.Reader) (int, error) {
	var n int64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return 0, errors.Trace(err)
	}
	if n < 0 || n > MaxLength {
		return 0, errors.Annotatef(ErrCorrupted, "length %d", n)
	}
	return int(n), nil
}

// WriteString writes string to byte stream.
func WriteString(w io.Writer, s string) error {
	return WriteBytes(w, []byte(s))
}

// ReadString reads string from byte stream.
func ReadString(r io.Reader) (string, error) {
	data, err := ReadBytes(r)
	return string(data), err
}

// WriteStrings writes a length-prefixed list of strings.
func WriteStrings(w io.Writer, s []string) error {
	if err := WriteLength(w, len(s)); err != nil {
		return errors.Trace(err)
	}
	for _, v := range s {
		if err := WriteString(w, v); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// ReadStrings reads a list written by WriteStrings.
func ReadStrings(r io.Reader) ([]string, error) {
	n, err := ReadLength(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	s := make([]string, 0, min(n, 1<<16))
	for i := 0; i < n; i++ {
		v, err := ReadString(r)
		if err != nil {
			return nil, errors.Trace(err)
		}
		s = append(s, v)
	}
	return s, nil
}

// WriteBytes writes bytes to byte stream.
func WriteBytes(w io.Writer, s []byte) error {
	if err := WriteLength(w, len(s)); err != nil {
		return errors.Trace(err)
	}
	n, err := w.Write(s)
	if err != nil {
		return errors.Trace(err)
	} else if n != len(s) {
		return errors.New("fail to write bytes")
	}
	return nil
}

// ReadBytes reads bytes from byte stream.
func ReadBytes(r io.Reader) ([]byte, error) {
	n, err := ReadLength(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	data := bytes.NewBuffer(make([]byte, 0, min(n, chunkSize)))
	copied, err := io.CopyN(data, r, int64(n))
	if err == io.EOF {
		return nil, errors.Annotatef(io.ErrUnexpectedEOF, "read %d of %d bytes", copied, n)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	return data.Bytes(), nil
}

// WriteGob writes object to byte stream.
func WriteGob(w io.Writer, v interface{}) error {
	buffer := bytes.NewBuffer(nil)
	encoder := gob.NewEncoder(buffer)
	if err := encoder.Encode(v); err != nil {
		return errors.Trace(err)
	}
	return WriteBytes(w, buffer.Bytes())
}

// ReadGob read object from byte stream.
func ReadGob(r io.Reader, v interface{}) error {
	data, err := ReadBytes(r)
	if err != nil {
		return errors.Trace(err)
	}
	decoder := gob.NewDecoder(bytes.NewBuffer(data))
	return errors.Trace(decoder.Decode(v))
}
