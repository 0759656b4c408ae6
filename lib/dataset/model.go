// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dataset

import "fmt"

// SourceKind is the tagged variant the engine dispatches on. Each kind
// maps to exactly one adapter.
type SourceKind string

const (
	// SourceChunkedIndex is a directory (or index file) of a chunked
	// format with a global index: MosaicML MDS or LitData.
	SourceChunkedIndex SourceKind = "chunked-index"

	// SourceChunkedFileList is a single chunk file selected directly;
	// its index is discovered next to it.
	SourceChunkedFileList SourceKind = "chunked-file-list"

	// SourceStreamedArchiveDir is a directory of WebDataset tar shards.
	SourceStreamedArchiveDir SourceKind = "streamed-archive-dir"

	// SourceRemoteCatalog is a hosted dataset preview API.
	SourceRemoteCatalog SourceKind = "remote-catalog"

	// SourceRemoteRecord is a remote record of downloadable files
	// (ZIP/TAR archives browsed over range requests).
	SourceRemoteRecord SourceKind = "remote-record"
)

// Valid reports whether k is one of the defined kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceChunkedIndex, SourceChunkedFileList, SourceStreamedArchiveDir,
		SourceRemoteCatalog, SourceRemoteRecord:
		return true
	}
	return false
}

// Format names refining a SourceKind.
const (
	FormatMDS            = "mds"
	FormatLitData        = "litdata"
	FormatWebDataset     = "webdataset"
	FormatDatasetsServer = "datasets-server"
	FormatZenodo         = "zenodo"
	FormatArchiveURL     = "archive"
)

// Source is one opened dataset instance. RequestID increases with every
// load; responses carry it so callers can discard stale results.
type Source struct {
	// ID is stable for a location across reloads and keys the
	// engine's caches.
	ID        string     `json:"id"`
	Kind      SourceKind `json:"kind"`
	Format    string     `json:"format"`
	Location  string     `json:"location"`
	RequestID uint64     `json:"request_id"`

	// Root is the resolved local directory or remote base used by the
	// adapter (for chunked sources, the directory holding the index).
	Root string `json:"root,omitempty"`

	// Selected restricts a chunked-file-list source to one shard.
	Selected string `json:"selected,omitempty"`
}

// ShardSummary is one physical storage unit.
type ShardSummary struct {
	Filename string `json:"filename"`
	Path     string `json:"path,omitempty"`

	// Bytes is the sum of the shard's item sizes. It is 0 when that is
	// not known without scanning the shard.
	Bytes int64 `json:"bytes,omitempty"`

	// FileBytes is the size of the stored shard file or object,
	// including any index and container overhead.
	FileBytes int64 `json:"file_bytes,omitempty"`

	// Items is the declared item count, nil when the format has no
	// global index.
	Items *int64 `json:"items,omitempty"`

	// Exists is false for shards listed in an index but missing on
	// disk. Such shards are reported but not navigable.
	Exists bool `json:"exists"`

	Compression string `json:"compression,omitempty"`
	Dim         *int64 `json:"dim,omitempty"`

	// URL is the content location for remote shards.
	URL string `json:"url,omitempty"`
}

// FieldRef addresses one leaf of an item without holding its bytes.
type FieldRef struct {
	Index int    `json:"index"`
	Name  string `json:"name"`

	// MemberPath is the archive member backing this field, empty for
	// chunked formats.
	MemberPath string `json:"member_path,omitempty"`

	// Encoding is the declared column encoding (MDS column_encodings,
	// LitData data_format), empty when the format declares none.
	Encoding string `json:"encoding,omitempty"`

	Bytes int64 `json:"bytes"`
}

// ItemRef is one addressable sample within a shard.
type ItemRef struct {
	Index      int64      `json:"index"`
	Key        string     `json:"key,omitempty"`
	TotalBytes int64      `json:"total_bytes"`
	Fields     []FieldRef `json:"fields"`
}

// FieldByName returns the first field with the given name.
func (item ItemRef) FieldByName(name string) (FieldRef, bool) {
	for _, field := range item.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return FieldRef{}, false
}

// ItemAddress selects an item within a shard. Chunked formats address
// by Index; archive formats prefer Key when set.
type ItemAddress struct {
	Index int64  `json:"index"`
	Key   string `json:"key,omitempty"`
}

func (address ItemAddress) String() string {
	if address.Key != "" {
		return address.Key
	}
	return fmt.Sprintf("#%d", address.Index)
}

// FieldAddress selects a field within an item: by name when Name is
// set, otherwise by Index.
type FieldAddress struct {
	Index int    `json:"index"`
	Name  string `json:"name,omitempty"`
}

func (address FieldAddress) String() string {
	if address.Name != "" {
		return address.Name
	}
	return fmt.Sprintf("#%d", address.Index)
}

// Resolve finds the addressed field in item.
func (address FieldAddress) Resolve(item ItemRef) (FieldRef, error) {
	if address.Name != "" {
		field, ok := item.FieldByName(address.Name)
		if !ok {
			return FieldRef{}, NotFound("", "item %d has no field %q", item.Index, address.Name)
		}
		return field, nil
	}
	if address.Index < 0 || address.Index >= len(item.Fields) {
		return FieldRef{}, NotFound("", "item %d has no field %d (%d fields)", item.Index, address.Index, len(item.Fields))
	}
	return item.Fields[address.Index], nil
}

// FieldPreview is the result of inspecting a field's bytes.
type FieldPreview struct {
	// PreviewText is the decoded text prefix, nil for binary data.
	PreviewText *string `json:"preview_text,omitempty"`
	HexSnippet  string  `json:"hex_snippet"`
	GuessedExt  string  `json:"guessed_ext,omitempty"`
	IsBinary    bool    `json:"is_binary"`

	// Size is the field's true size, independent of how many bytes
	// were read to build the preview.
	Size int64 `json:"size"`

	RequestID uint64 `json:"request_id,omitempty"`
}

// PreparedFile is a field written to a temp file for external use.
type PreparedFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Ext  string `json:"ext"`

	RequestID uint64 `json:"request_id,omitempty"`
}

// ArchiveEntry is one member of a remote ZIP or TAR archive with enough
// positional metadata to fetch it independently.
type ArchiveEntry struct {
	Name             string `json:"name"`
	CompressedSize   int64  `json:"compressed_size"`
	UncompressedSize int64  `json:"uncompressed_size"`

	// Method is the ZIP compression method (0 stored, 8 deflate). TAR
	// entries report 0.
	Method uint16 `json:"method"`
	IsDir  bool   `json:"is_dir"`

	// HeaderOffset is the ZIP local header offset or the TAR header
	// block offset.
	HeaderOffset int64 `json:"header_offset"`

	// DataOffset is the payload offset when known (always for TAR,
	// after the local header read for ZIP; -1 when not yet known).
	DataOffset int64 `json:"data_offset"`

	CRC32 uint32 `json:"crc32,omitempty"`
	Flags uint16 `json:"flags,omitempty"`
}

// ItemPage is one page of a forward-scanned listing.
type ItemPage struct {
	Offset int64     `json:"offset"`
	Length int       `json:"length"`
	Items  []ItemRef `json:"items"`

	// Cursor is the continuation token for the page starting right
	// after this one. Empty when the scan reached the end.
	Cursor string `json:"cursor,omitempty"`

	// Total is set once a full scan has completed.
	Total *int64 `json:"total,omitempty"`

	// Partial is true while Total is unknown. AtLeast is then the
	// number of items known to exist.
	Partial bool  `json:"partial"`
	AtLeast int64 `json:"at_least"`

	// Capped is set when listing stopped at the configured entry
	// limit. The page is then Partial with no Cursor.
	Capped bool `json:"capped,omitempty"`

	// RequestID is the load the page was produced for. Callers drop
	// pages whose id is older than their current source.
	RequestID uint64 `json:"request_id,omitempty"`
}

// Manifest is the shard listing of a loaded source.
type Manifest struct {
	Source    Source         `json:"source"`
	Shards    []ShardSummary `json:"shards"`
	RequestID uint64         `json:"request_id"`
}

// Feature is one column of a catalog schema.
type Feature struct {
	Name    string `json:"name"`
	Dtype   string `json:"dtype,omitempty"`
	RawType any    `json:"raw_type,omitempty"`
}

// CatalogConfig lists the splits of one catalog configuration.
type CatalogConfig struct {
	Config string   `json:"config"`
	Splits []string `json:"splits"`
}

// CatalogPage is one page of rows from a hosted catalog.
type CatalogPage struct {
	Dataset string           `json:"dataset"`
	Config  string           `json:"config"`
	Split   string           `json:"split"`
	Configs []CatalogConfig  `json:"configs"`
	Offset  int64            `json:"offset"`
	Length  int              `json:"length"`
	Rows    []map[string]any `json:"rows"`
	Schema  []Feature        `json:"schema"`
	Total   int64            `json:"total"`
	Partial bool             `json:"partial"`

	RequestID uint64 `json:"request_id,omitempty"`
}
