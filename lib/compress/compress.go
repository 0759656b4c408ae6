// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress is the codec registry shared by the shard readers.
// Chunked shards and indexes, and streamed tar shards, may be wrapped
// in zstd, gzip, or lz4 frames; this package maps codec names and file
// extensions to streaming decoders.
package compress

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies a whole-stream compression format.
type Codec uint8

const (
	// None is an uncompressed stream.
	None Codec = iota

	// Zstd is a zstd frame sequence.
	Zstd

	// Gzip is a gzip member sequence.
	Gzip

	// LZ4 is an LZ4 frame stream (not raw blocks).
	LZ4
)

// String returns the codec's canonical name.
func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case Gzip:
		return "gzip"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// UnknownCodecError reports a codec name no decoder exists for.
type UnknownCodecError struct {
	Name string
}

func (e *UnknownCodecError) Error() string {
	return fmt.Sprintf("unknown compression %q", e.Name)
}

// Parse maps a declared compression name to a codec. Names may carry
// a level suffix ("zstd:7", as MDS writes them). The empty string and
// "none" are None.
func Parse(name string) (Codec, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if base, _, found := strings.Cut(normalized, ":"); found {
		normalized = base
	}
	switch normalized {
	case "", "none", "null":
		return None, nil
	case "zstd", "zst":
		return Zstd, nil
	case "gzip", "gz":
		return Gzip, nil
	case "lz4":
		return LZ4, nil
	default:
		return None, &UnknownCodecError{Name: name}
	}
}

// suffixes maps file suffixes to codecs. ".tgz" is handled by
// SplitExt because it also implies the ".tar" inner extension.
var suffixes = []struct {
	suffix string
	codec  Codec
}{
	{".zstd", Zstd},
	{".zst", Zstd},
	{".gz", Gzip},
	{".lz4", LZ4},
}

// SplitExt returns the codec implied by name's final extension and the
// name with that extension removed. "x.tgz" yields (Gzip, "x.tar").
// Names without a compression suffix return (None, name).
func SplitExt(name string) (Codec, string) {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".tgz") {
		return Gzip, name[:len(name)-len(".tgz")] + ".tar"
	}
	for _, candidate := range suffixes {
		if strings.HasSuffix(lower, candidate.suffix) {
			return candidate.codec, name[:len(name)-len(candidate.suffix)]
		}
	}
	return None, name
}

// zstdDecoder is shared by DecodeAll. zstd.Decoder is safe for
// concurrent DecodeAll calls.
var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// NewReader returns a streaming decoder for codec over r. Closing the
// returned reader releases decoder resources but does not close r.
func NewReader(codec Codec, r io.Reader) (io.ReadCloser, error) {
	switch codec {
	case None:
		return io.NopCloser(r), nil

	case Zstd:
		decoder, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return decoder.IOReadCloser(), nil

	case Gzip:
		reader, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return reader, nil

	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil

	default:
		return nil, &UnknownCodecError{Name: codec.String()}
	}
}

// DecodeAll decompresses an in-memory payload. Output beyond limit
// bytes is an error; limit <= 0 means no limit.
func DecodeAll(codec Codec, data []byte, limit int64) ([]byte, error) {
	if codec == Zstd && limit <= 0 {
		result, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return result, nil
	}
	reader, err := NewReader(codec, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	source := io.Reader(reader)
	if limit > 0 {
		source = io.LimitReader(reader, limit+1)
	}
	result, err := io.ReadAll(source)
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", codec, err)
	}
	if limit > 0 && int64(len(result)) > limit {
		return nil, fmt.Errorf("%s decompress: output exceeds %d bytes", codec, limit)
	}
	return result, nil
}

// NewWriter returns a streaming encoder for codec over w. Close
// flushes the final frame but does not close w.
func NewWriter(codec Codec, w io.Writer) (io.WriteCloser, error) {
	switch codec {
	case None:
		return nopWriteCloser{w}, nil
	case Zstd:
		encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return encoder, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case LZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, &UnknownCodecError{Name: codec.String()}
	}
}

// Encode compresses data in memory.
func Encode(codec Codec, data []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer, err := NewWriter(codec, &buffer)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("%s compress: %w", codec, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%s compress: %w", codec, err)
	}
	return buffer.Bytes(), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
