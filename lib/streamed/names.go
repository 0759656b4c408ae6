// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streamed

import (
	"strings"

	"github.com/bureau-foundation/dataview/lib/compress"
	"github.com/bureau-foundation/dataview/lib/tarscan"
)

// IsShardName reports whether name is a WebDataset shard: a tar file,
// optionally gzip, zstd, or lz4 compressed.
func IsShardName(name string) bool {
	_, inner := compress.SplitExt(strings.ToLower(name))
	return strings.HasSuffix(inner, ".tar")
}

// SplitKey splits a member path into its sample key and field name.
// The key is the directory plus the final component up to its first
// dot; the field is the rest, lowercased. A final component without
// an interior dot is a key on its own with field "bin".
//
//	"train/000123.seg.wav" -> ("train/000123", "seg.wav")
//	"000123.JPG"           -> ("000123", "jpg")
//	"README"               -> ("README", "bin")
func SplitKey(path string) (key, field string) {
	normalized := tarscan.CleanName(path)
	dir, base := "", normalized
	if slash := strings.LastIndexByte(normalized, '/'); slash >= 0 {
		dir, base = normalized[:slash], normalized[slash+1:]
	}
	prefix, suffix := base, ""
	if dot := strings.IndexByte(base, '.'); dot > 0 && dot < len(base)-1 {
		prefix, suffix = base[:dot], base[dot+1:]
	}
	key = prefix
	if dir != "" {
		key = dir + "/" + prefix
	}
	if suffix == "" {
		return key, "bin"
	}
	return key, strings.ToLower(suffix)
}
