// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rangeio

import (
	"context"
	"io"
)

// Fetcher reads byte ranges of one object.
type Fetcher interface {
	// ReadAt returns exactly length bytes starting at offset. A range
	// that extends past the end of the object is an error.
	ReadAt(ctx context.Context, offset, length int64) ([]byte, error)

	// Size returns the object size in bytes.
	Size(ctx context.Context) (int64, error)

	// SupportsRange reports whether positioned reads work. A false
	// result comes with a nil error; failures to find out return an
	// error.
	SupportsRange(ctx context.Context) (bool, error)
}

// TailReader is implemented by fetchers that read the final bytes of an
// object in one request.
type TailReader interface {
	// Tail returns the last min(n, size) bytes and the offset at which
	// they start.
	Tail(ctx context.Context, n int64) ([]byte, int64, error)
}

// Tail reads the last n bytes of f, using a single suffix read when f
// supports it and Size plus ReadAt otherwise.
func Tail(ctx context.Context, f Fetcher, n int64) ([]byte, int64, error) {
	if tail, ok := f.(TailReader); ok {
		return tail.Tail(ctx, n)
	}
	size, err := f.Size(ctx)
	if err != nil {
		return nil, 0, err
	}
	start := max(size-n, 0)
	data, err := f.ReadAt(ctx, start, size-start)
	if err != nil {
		return nil, 0, err
	}
	return data, start, nil
}

// DefaultWindow is the read size NewReader uses when none is given.
const DefaultWindow = 1 << 20

// Reader streams [offset, offset+length) of a Fetcher in windows of
// fixed size. Skip moves forward without fetching the skipped bytes,
// so a header scanner can step over payloads it does not need.
type Reader struct {
	ctx     context.Context
	fetcher Fetcher
	window  int64

	// position is the absolute offset of the next byte Read returns.
	position int64
	end      int64

	buffer      []byte
	bufferStart int64
}

// NewReader returns a Reader over [offset, offset+length). A window of
// zero or less uses DefaultWindow.
func NewReader(ctx context.Context, f Fetcher, offset, length, window int64) *Reader {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Reader{
		ctx:      ctx,
		fetcher:  f,
		window:   window,
		position: offset,
		end:      offset + length,
	}
}

// Offset returns the absolute position of the next byte.
func (r *Reader) Offset() int64 { return r.position }

func (r *Reader) Read(p []byte) (int, error) {
	if r.position >= r.end {
		return 0, io.EOF
	}
	bufferEnd := r.bufferStart + int64(len(r.buffer))
	if r.position < r.bufferStart || r.position >= bufferEnd {
		length := min(r.window, r.end-r.position)
		data, err := r.fetcher.ReadAt(r.ctx, r.position, length)
		if err != nil {
			return 0, err
		}
		r.buffer = data
		r.bufferStart = r.position
		bufferEnd = r.position + int64(len(data))
	}
	n := copy(p, r.buffer[r.position-r.bufferStart:bufferEnd-r.bufferStart])
	r.position += int64(n)
	return n, nil
}

// Skip advances n bytes. Bytes already buffered are consumed; the rest
// are never fetched.
func (r *Reader) Skip(n int64) error {
	if n < 0 {
		return io.ErrUnexpectedEOF
	}
	if r.position+n > r.end {
		r.position = r.end
		return io.ErrUnexpectedEOF
	}
	r.position += n
	return nil
}
