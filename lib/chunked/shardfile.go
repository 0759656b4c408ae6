// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/dataview/lib/cache"
	"github.com/bureau-foundation/dataview/lib/compress"
	"github.com/bureau-foundation/dataview/lib/dataset"
)

// shardDomainKey separates decompressed-shard cache keys from any
// other BLAKE3 use. The bytes are the ASCII domain name, zero-padded.
var shardDomainKey = [32]byte{
	'd', 'a', 't', 'a', 'v', 'i', 'e', 'w', '.', 'c', 'h', 'u', 'n', 'k', 'e', 'd',
	'.', 's', 'h', 'a', 'r', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// location is where a shard's bytes live on disk and how they are
// encoded.
type location struct {
	path  string
	codec compress.Codec
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func parseCodec(path, declared string) (compress.Codec, error) {
	codec, err := compress.Parse(declared)
	if err != nil {
		return compress.None, dataset.Unsupported(path, "compression %q", declared)
	}
	return codec, nil
}

// locate finds the file backing shard. MDS shards prefer the raw file,
// then the zip_data file, then "<raw>.zst" and "<raw>.zstd". LitData
// chunks are a single file compressed as a whole when the config
// declares a codec. A shard with no file on disk is NotFound.
func locate(index *Index, shard *Shard) (location, error) {
	raw := filepath.Join(index.Root, shard.Name)
	if index.Format == dataset.FormatLitData {
		if !isRegular(raw) {
			return location{}, dataset.NotFound(raw, "chunk file not found")
		}
		codec, err := parseCodec(raw, shard.Compression)
		return location{path: raw, codec: codec}, err
	}

	if isRegular(raw) {
		return location{path: raw, codec: compress.None}, nil
	}
	if shard.ZipName != "" {
		zipped := filepath.Join(index.Root, shard.ZipName)
		if isRegular(zipped) {
			codec, err := parseCodec(zipped, shard.Compression)
			if err != nil {
				return location{path: zipped}, err
			}
			if codec == compress.None {
				codec, _ = compress.SplitExt(zipped)
			}
			if codec == compress.None {
				return location{path: zipped}, dataset.Malformed(zipped, -1, "resolving shard",
					"zip_data present but no compression declared")
			}
			return location{path: zipped, codec: codec}, nil
		}
	}
	for _, suffix := range []string{".zst", ".zstd"} {
		if candidate := raw + suffix; isRegular(candidate) {
			return location{path: candidate, codec: compress.Zstd}, nil
		}
	}
	return location{}, dataset.NotFound(raw, "shard data file not found")
}

// cacheKey names the decompressed copy of path. It changes whenever the
// compressed file is replaced or modified.
func cacheKey(path string, info os.FileInfo) string {
	hasher, err := blake3.NewKeyed(shardDomainKey[:])
	if err != nil {
		panic("chunked: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	fmt.Fprintf(hasher, "%s\x00%d\x00%d", path, info.Size(), info.ModTime().UnixNano())
	return hex.EncodeToString(hasher.Sum(nil)[:16])
}

// dataPath returns an uncompressed file holding the shard's items.
// Compressed shards are decompressed once into the cache directory;
// concurrent requests share one decompression and later loads reuse
// the file while the source is unchanged on disk. With Options.Temps
// set the file is deleted once its cache entry is evicted.
func (a *Adapter) dataPath(ctx context.Context, sourceID string, where location) (string, error) {
	if where.codec == compress.None {
		return where.path, nil
	}
	info, err := os.Stat(where.path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", where.path, err)
	}
	key := cacheKey(where.path, info)
	return a.decompressed.Do(ctx, cache.Key{Source: sourceID, Name: key}, func(ctx context.Context) (string, error) {
		output := filepath.Join(a.options.CacheDir, key+".bin")
		if !isRegular(output) {
			if err := a.decompress(where, output); err != nil {
				return "", err
			}
		}
		if temps := a.options.Temps; temps != nil {
			if err := temps.Register(sourceID, output); err != nil {
				return "", err
			}
		}
		return output, nil
	})
}

func (a *Adapter) decompress(where location, output string) error {
	start := time.Now()
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("creating shard cache directory: %w", err)
	}
	input, err := os.Open(where.path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", where.path, err)
	}
	defer input.Close()

	reader, err := compress.NewReader(where.codec, input)
	if err != nil {
		return dataset.Wrap(dataset.KindMalformed, where.path, "decompressing shard", err)
	}
	defer reader.Close()

	// Write beside the final name and rename so a concurrent process
	// never sees a partial file.
	temporary, err := os.CreateTemp(filepath.Dir(output), "partial-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	written, copyErr := io.Copy(temporary, reader)
	closeErr := temporary.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(temporary.Name())
		if copyErr != nil {
			return dataset.Wrap(dataset.KindMalformed, where.path, "decompressing shard", copyErr)
		}
		return fmt.Errorf("writing decompressed shard: %w", closeErr)
	}
	if err := os.Rename(temporary.Name(), output); err != nil {
		os.Remove(temporary.Name())
		return fmt.Errorf("installing decompressed shard: %w", err)
	}
	a.logger.Info("decompressed shard",
		"path", where.path,
		"codec", where.codec.String(),
		"bytes", written,
		"duration", time.Since(start),
	)
	return nil
}
