// Copyright 2023 Sneller, Inc.
// Copyright 2025 Roman Atachiants
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package s3transfer

import (
	"context"
	"errors"
	"io"
	"sync"
)

// InMemoryBody is a BodySource backed by an already-resident byte slice.
// ReadPart is O(1): it returns a sub-slice view, never copies.
type InMemoryBody struct {
	Bytes []byte
}

func (b InMemoryBody) Length() (int64, bool) {
	return int64(len(b.Bytes)), true
}

func (b InMemoryBody) ReadPart(_ context.Context, offset, size int64) ([]byte, error) {
	if offset < 0 || size < 0 || offset+size > int64(len(b.Bytes)) {
		return nil, &PartShortReadError{Expected: size, Actual: int64(len(b.Bytes)) - offset}
	}
	return b.Bytes[offset : offset+size], nil
}

// SeekableStreamBody is a BodySource backed by an io.ReaderAt of known
// length. On the io.ReadSeeker variant, concurrent ReadPart calls are
// serialized behind a mutex (§4.3, §5), because seek-then-read is two
// separate operations: two concurrent part uploads contend on the reader,
// never on the network. The io.ReaderAt variant reads without the mutex.
type SeekableStreamBody struct {
	size   int64
	readAt io.ReaderAt

	mu       sync.Mutex
	seekOnly io.ReadSeeker
}

// NewSeekableStreamFromReaderAt builds a SeekableStreamBody around an
// io.ReaderAt, which supports truly concurrent ReadPart calls since
// ReadAt itself does not require external synchronization for most
// implementations (e.g. *os.File).
func NewSeekableStreamFromReaderAt(r io.ReaderAt, size int64) *SeekableStreamBody {
	return &SeekableStreamBody{size: size, readAt: r}
}

// NewSeekableStreamFromReadSeeker builds a SeekableStreamBody around an
// io.ReadSeeker. Because Seek and Read are two separate calls that must
// not interleave across goroutines, ReadPart on this variant is fully
// serialized (§4.3).
func NewSeekableStreamFromReadSeeker(r io.ReadSeeker, size int64) *SeekableStreamBody {
	return &SeekableStreamBody{size: size, seekOnly: r}
}

func (s *SeekableStreamBody) Length() (int64, bool) {
	return s.size, true
}

func (s *SeekableStreamBody) ReadPart(ctx context.Context, offset, size int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.readAt != nil {
		return s.readPartAt(offset, size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readPartSeek(offset, size)
}

func (s *SeekableStreamBody) readPartAt(offset, size int64) ([]byte, error) {
	buf := make([]byte, size)
	section := io.NewSectionReader(s.readAt, offset, size)
	n, err := io.ReadFull(section, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	if int64(n) != size {
		return nil, &PartShortReadError{Expected: size, Actual: int64(n)}
	}
	return buf, nil
}

func (s *SeekableStreamBody) readPartSeek(offset, size int64) ([]byte, error) {
	if _, err := s.seekOnly.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := io.ReadFull(s.seekOnly, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	if int64(n) != size {
		return nil, &PartShortReadError{Expected: size, Actual: int64(n)}
	}
	return buf, nil
}
