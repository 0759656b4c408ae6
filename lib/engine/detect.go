// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/dataview/lib/catalog"
	"github.com/bureau-foundation/dataview/lib/chunked"
	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/record"
	"github.com/bureau-foundation/dataview/lib/remotearchive"
	"github.com/bureau-foundation/dataview/lib/streamed"
)

// Detect classifies a path or URL into the source kind and format
// that would serve it.
func Detect(ctx context.Context, pathOrURL string) (dataset.SourceKind, string, error) {
	source, err := describe(ctx, pathOrURL)
	if err != nil {
		return "", "", err
	}
	return source.Kind, source.Format, nil
}

// describe resolves pathOrURL into a Source without a request id.
func describe(ctx context.Context, pathOrURL string) (dataset.Source, error) {
	if err := ctx.Err(); err != nil {
		return dataset.Source{}, err
	}
	location := strings.TrimSpace(pathOrURL)
	if location == "" {
		return dataset.Source{}, dataset.NotFound(pathOrURL, "empty location")
	}

	var source dataset.Source
	var err error
	if strings.Contains(location, "://") {
		source, err = describeURL(location)
	} else {
		source, err = describeLocal(location)
	}
	if err != nil {
		return dataset.Source{}, err
	}
	source.ID = sourceID(source.Kind, source.Location)
	return source, nil
}

func describeURL(location string) (dataset.Source, error) {
	if strings.HasPrefix(location, "hf://") {
		id, err := catalog.ParseDataset(location)
		if err != nil {
			return dataset.Source{}, err
		}
		return dataset.Source{Kind: dataset.SourceRemoteCatalog, Format: dataset.FormatDatasetsServer, Location: location, Root: id}, nil
	}

	parsed, err := url.Parse(location)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return dataset.Source{}, dataset.Unsupported(location, "only http(s) and hf:// URLs are supported")
	}
	switch host := parsed.Hostname(); {
	case catalog.IsHubHost(host):
		id, err := catalog.ParseDataset(location)
		if err != nil {
			return dataset.Source{}, err
		}
		return dataset.Source{Kind: dataset.SourceRemoteCatalog, Format: dataset.FormatDatasetsServer, Location: location, Root: id}, nil
	case record.IsRecordHost(host):
		id, err := record.ParseRecordID(location)
		if err != nil {
			return dataset.Source{}, err
		}
		return dataset.Source{Kind: dataset.SourceRemoteRecord, Format: dataset.FormatZenodo, Location: location, Root: id}, nil
	}

	switch remotearchive.LayoutOf(parsed.Path) {
	case remotearchive.LayoutZip, remotearchive.LayoutTar:
		return dataset.Source{Kind: dataset.SourceRemoteRecord, Format: dataset.FormatArchiveURL, Location: location, Root: location}, nil
	case remotearchive.LayoutCompressedTar:
		return dataset.Source{}, dataset.Unsupported(location, "compressed tar archives cannot be browsed remotely")
	}
	return dataset.Source{}, dataset.Unsupported(location, "URL is neither a known dataset host nor a .zip or .tar archive")
}

func describeLocal(location string) (dataset.Source, error) {
	absolute, err := filepath.Abs(location)
	if err != nil {
		return dataset.Source{}, fmt.Errorf("resolving %s: %w", location, err)
	}
	info, err := os.Stat(absolute)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return dataset.Source{}, dataset.NotFound(absolute, "no such file or directory")
		}
		return dataset.Source{}, fmt.Errorf("inspecting %s: %w", absolute, err)
	}

	if info.IsDir() {
		if index, err := chunked.FindIndex(absolute); err == nil {
			return chunkedSource(dataset.SourceChunkedIndex, absolute, index, "")
		}
		shardDir, err := streamed.ShardDir(absolute)
		if err != nil {
			return dataset.Source{}, err
		}
		if hasTarShards(shardDir) {
			return dataset.Source{Kind: dataset.SourceStreamedArchiveDir, Format: dataset.FormatWebDataset, Location: absolute, Root: absolute}, nil
		}
		return dataset.Source{}, dataset.Unsupported(absolute, "directory holds neither a chunked index nor tar shards")
	}

	dir, name := filepath.Split(absolute)
	dir = filepath.Clean(dir)
	switch {
	case chunked.IsIndexName(name):
		return chunkedSource(dataset.SourceChunkedIndex, absolute, absolute, "")
	case streamed.IsShardName(name):
		return dataset.Source{
			Kind:     dataset.SourceStreamedArchiveDir,
			Format:   dataset.FormatWebDataset,
			Location: absolute,
			Root:     dir,
			Selected: name,
		}, nil
	case chunked.IsShardName(name):
		index, err := chunked.FindIndex(dir)
		if err != nil {
			return dataset.Source{}, err
		}
		return chunkedSource(dataset.SourceChunkedFileList, absolute, index, name)
	}
	return dataset.Source{}, dataset.Unsupported(absolute, "file is not a dataset index or shard")
}

// chunkedSource reads the index at indexPath to learn the format.
func chunkedSource(kind dataset.SourceKind, location, indexPath, selected string) (dataset.Source, error) {
	index, err := chunked.ReadIndex(indexPath)
	if err != nil {
		return dataset.Source{}, err
	}
	return dataset.Source{
		Kind:     kind,
		Format:   index.Format,
		Location: location,
		Root:     filepath.Dir(indexPath),
		Selected: selected,
	}, nil
}

func hasTarShards(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() && streamed.IsShardName(entry.Name()) {
			return true
		}
	}
	return false
}

// sourceIDKey separates source ids from other BLAKE3 uses.
var sourceIDKey = [32]byte{
	'd', 'a', 't', 'a', 'v', 'i', 'e', 'w', '.', 's', 'o', 'u', 'r', 'c', 'e',
}

// sourceID derives the stable cache identity of a location.
func sourceID(kind dataset.SourceKind, location string) string {
	hasher, err := blake3.NewKeyed(sourceIDKey[:])
	if err != nil {
		panic(fmt.Sprintf("blake3 keyed hasher: %v", err))
	}
	fmt.Fprintf(hasher, "%s\x00%s", kind, location)
	return string(kind) + "-" + hex.EncodeToString(hasher.Sum(nil)[:8])
}
