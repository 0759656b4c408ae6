// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/dataview/lib/compress"
	"github.com/bureau-foundation/dataview/lib/dataset"
)

// indexNames are tried in order inside a dataset directory.
var indexNames = []string{
	"index.json",
	"index.json.zst",
	"index.json.zstd",
	"0.index.json",
	"0.index.json.zst",
	"0.index.json.zstd",
}

// maxIndexBytes bounds a decompressed index.
const maxIndexBytes = 256 << 20

// Index is a parsed chunked-dataset manifest.
type Index struct {
	// Format is dataset.FormatMDS or dataset.FormatLitData.
	Format string

	// Path is the index file; Root is the directory shards are
	// resolved against.
	Path string
	Root string

	// Compression is the dataset-wide codec name as declared (LitData
	// config.compression, or the first MDS shard's compression).
	Compression string

	Shards []Shard
}

// Shard returns the shard listed under name, matching either the raw
// or the compressed basename.
func (index *Index) Shard(name string) (*Shard, error) {
	trimmed := strings.TrimSpace(name)
	for i := range index.Shards {
		shard := &index.Shards[i]
		if shard.Name == trimmed || (shard.ZipName != "" && shard.ZipName == trimmed) {
			return shard, nil
		}
	}
	return nil, dataset.NotFound(index.Path, "no shard named %q", trimmed)
}

// Column describes one field of every item in a shard.
type Column struct {
	Name     string
	Encoding string

	// Size is the fixed byte size, or -1 when the size is stored in
	// each item's header.
	Size int64
}

// Shard is one chunk file as declared by the index.
type Shard struct {
	// Name is the uncompressed basename (MDS raw_data, LitData
	// filename).
	Name string

	// Bytes is the declared size of Name.
	Bytes int64

	// ZipName and ZipBytes describe the MDS compressed copy, if any.
	ZipName  string
	ZipBytes int64

	// Compression is the declared codec for the shard. For LitData
	// it applies to Name itself (the chunk is one compressed stream).
	Compression string

	Samples int64
	Dim     *int64
	Columns []Column
}

// headerLength is the per-item size header: one u32 per column whose
// size is not fixed.
func (s *Shard) headerLength() int64 {
	var variable int64
	for _, column := range s.Columns {
		if column.Size < 0 {
			variable++
		}
	}
	return variable * 4
}

// IsIndexName reports whether a file name looks like a chunked index.
func IsIndexName(name string) bool {
	return strings.Contains(strings.ToLower(filepath.Base(name)), "index.json")
}

// FindIndex locates the index file for a dataset directory: the first
// of the well-known names, else the lexically first "*.index.json".
func FindIndex(dir string) (string, error) {
	for _, name := range indexNames {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, nil
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", dataset.NotFound(dir, "directory does not exist")
		}
		return "", fmt.Errorf("listing %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), ".index.json") {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", dataset.NotFound(dir, "no index.json found")
}

type rawIndex struct {
	Shards []mdsShard `json:"shards"`
	Chunks []litChunk `json:"chunks"`
	Config *litConfig `json:"config"`
}

type mdsFile struct {
	Basename string            `json:"basename"`
	Bytes    int64             `json:"bytes"`
	Hashes   map[string]string `json:"hashes"`
}

type mdsShard struct {
	ColumnEncodings []string `json:"column_encodings"`
	ColumnNames     []string `json:"column_names"`
	ColumnSizes     []*int64 `json:"column_sizes"`
	Compression     *string  `json:"compression"`
	Format          string   `json:"format"`
	RawData         mdsFile  `json:"raw_data"`
	Samples         int64    `json:"samples"`
	SizeLimit       *int64   `json:"size_limit"`
	Version         int      `json:"version"`
	ZipData         *mdsFile `json:"zip_data"`
}

type litChunk struct {
	Filename   string `json:"filename"`
	ChunkSize  int64  `json:"chunk_size"`
	ChunkBytes int64  `json:"chunk_bytes"`
	Dim        *int64 `json:"dim"`
}

type litConfig struct {
	Compression *string         `json:"compression"`
	ChunkSize   *int64          `json:"chunk_size"`
	ChunkBytes  *int64          `json:"chunk_bytes"`
	DataFormat  []string        `json:"data_format"`
	DataSpec    json.RawMessage `json:"data_spec"`
}

// ReadIndex reads and parses the index at path. Indexes with a zstd,
// gzip, or lz4 suffix are decompressed first.
func ReadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, dataset.NotFound(path, "index does not exist")
		}
		return nil, fmt.Errorf("reading index: %w", err)
	}
	if codec, _ := compress.SplitExt(path); codec != compress.None {
		data, err = compress.DecodeAll(codec, data, maxIndexBytes)
		if err != nil {
			return nil, dataset.Wrap(dataset.KindMalformed, path, "decompressing index", err)
		}
	}
	return ParseIndex(path, data)
}

// ParseIndex parses index JSON. The layout is MDS when the document
// has a "shards" array, LitData when it has a "config" object.
func ParseIndex(path string, data []byte) (*Index, error) {
	var raw rawIndex
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, dataset.Malformed(path, -1, "parsing index", "%v", err)
	}
	index := &Index{Path: path, Root: filepath.Dir(path)}
	switch {
	case raw.Shards != nil:
		index.Format = dataset.FormatMDS
		if err := index.fromMDS(raw.Shards); err != nil {
			return nil, err
		}
	case raw.Config != nil:
		index.Format = dataset.FormatLitData
		if err := index.fromLitData(raw.Chunks, raw.Config); err != nil {
			return nil, err
		}
	default:
		return nil, dataset.Malformed(path, -1, "parsing index", "neither an MDS \"shards\" list nor a LitData \"config\"")
	}
	return index, nil
}

func (index *Index) fromMDS(shards []mdsShard) error {
	if len(shards) == 0 {
		return dataset.Malformed(index.Path, -1, "parsing index", "index contains no shards")
	}
	for i, raw := range shards {
		if raw.Version != 2 {
			return dataset.Unsupported(index.Path, "shard %d: MDS version %d (expected 2)", i, raw.Version)
		}
		if !strings.EqualFold(raw.Format, "mds") {
			return dataset.Unsupported(index.Path, "shard %d: format %q (expected mds)", i, raw.Format)
		}
		if raw.RawData.Basename == "" {
			return dataset.Malformed(index.Path, -1, "parsing index", "shard %d has no raw_data basename", i)
		}
		count := len(raw.ColumnNames)
		if len(raw.ColumnEncodings) != count || len(raw.ColumnSizes) != count {
			return dataset.Malformed(index.Path, -1, "parsing index",
				"shard %d: %d column names, %d encodings, %d sizes",
				i, count, len(raw.ColumnEncodings), len(raw.ColumnSizes))
		}
		shard := Shard{
			Name:    raw.RawData.Basename,
			Bytes:   raw.RawData.Bytes,
			Samples: raw.Samples,
		}
		if raw.ZipData != nil {
			shard.ZipName = raw.ZipData.Basename
			shard.ZipBytes = raw.ZipData.Bytes
		}
		if raw.Compression != nil {
			shard.Compression = *raw.Compression
		}
		for c, name := range raw.ColumnNames {
			size := int64(-1)
			if raw.ColumnSizes[c] != nil {
				size = *raw.ColumnSizes[c]
			}
			shard.Columns = append(shard.Columns, Column{Name: name, Encoding: raw.ColumnEncodings[c], Size: size})
		}
		index.Shards = append(index.Shards, shard)
	}
	index.Compression = index.Shards[0].Compression
	return nil
}

func (index *Index) fromLitData(chunks []litChunk, config *litConfig) error {
	if len(config.DataFormat) == 0 {
		return dataset.Malformed(index.Path, -1, "parsing index", "config.data_format is empty")
	}
	if config.Compression != nil {
		index.Compression = *config.Compression
	}
	names := fieldNames(config.DataSpec, len(config.DataFormat))
	columns := make([]Column, len(config.DataFormat))
	for i, encoding := range config.DataFormat {
		columns[i] = Column{Name: names[i], Encoding: encoding, Size: -1}
	}
	for i, chunk := range chunks {
		if chunk.Filename == "" {
			return dataset.Malformed(index.Path, -1, "parsing index", "chunk %d has no filename", i)
		}
		index.Shards = append(index.Shards, Shard{
			Name:        chunk.Filename,
			Bytes:       chunk.ChunkBytes,
			Compression: index.Compression,
			Samples:     chunk.ChunkSize,
			Dim:         chunk.Dim,
			Columns:     columns,
		})
	}
	return nil
}

// treeNode is one node of a LitData data_spec (a serialized pytree).
type treeNode struct {
	Type     *string         `json:"type"`
	Context  json.RawMessage `json:"context"`
	Children []treeNode      `json:"children_spec"`
}

// fieldNames derives field names from a LitData data_spec. Only a flat
// dict of leaves yields names; anything else falls back to positional
// names.
func fieldNames(dataSpec json.RawMessage, count int) []string {
	names := make([]string, count)
	for i := range names {
		names[i] = fmt.Sprintf("field_%d", i)
	}
	if keys := dictKeys(dataSpec); len(keys) == count {
		copy(names, keys)
	}
	return names
}

func dictKeys(dataSpec json.RawMessage) []string {
	// data_spec is usually a JSON string holding the JSON document.
	var encoded string
	if json.Unmarshal(dataSpec, &encoded) == nil {
		dataSpec = json.RawMessage(encoded)
	}
	var wrapper []json.RawMessage
	if json.Unmarshal(dataSpec, &wrapper) != nil || len(wrapper) != 2 {
		return nil
	}
	var root treeNode
	if json.Unmarshal(wrapper[1], &root) != nil || root.Type == nil || *root.Type != "builtins.dict" {
		return nil
	}
	for _, child := range root.Children {
		if child.Type != nil {
			return nil
		}
	}
	var context string
	if json.Unmarshal(root.Context, &context) != nil {
		return nil
	}
	var keys []string
	if json.Unmarshal([]byte(context), &keys) != nil || len(keys) != len(root.Children) {
		return nil
	}
	return keys
}
