// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"context"
	"encoding/binary"

	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/rangeio"
)

// Both MDS and LitData shards begin with the same table:
//
//	u32 LE  item count n
//	u32 LE  offsets[0..n]   absolute item boundaries within the file
//
// Item i occupies [offsets[i], offsets[i+1]). It starts with one u32
// LE size per variable-size column, followed by the column payloads in
// column order. LitData has no fixed-size columns, so its header holds
// a size for every field.

// tableEnd is the first byte after the offset table of an n-item
// shard.
func tableEnd(n int64) int64 { return 4 + 4*(n+1) }

// shardTable is an open shard's data file and item count.
type shardTable struct {
	name  string
	shard *Shard
	file  rangeio.Fetcher
	size  int64
	count int64
}

// readTable reads the item count and checks the offset table fits.
func readTable(ctx context.Context, name string, shard *Shard, file rangeio.Fetcher) (*shardTable, error) {
	size, err := file.Size(ctx)
	if err != nil {
		return nil, err
	}
	if size < 4 {
		return nil, dataset.Malformed(name, 0, "reading item count", "shard is %d bytes", size)
	}
	header, err := file.ReadAt(ctx, 0, 4)
	if err != nil {
		return nil, err
	}
	count := int64(binary.LittleEndian.Uint32(header))
	if tableEnd(count) > size {
		return nil, dataset.Malformed(name, 0, "reading item count",
			"%d items need a %d-byte offset table, shard is %d bytes", count, tableEnd(count), size)
	}
	return &shardTable{name: name, shard: shard, file: file, size: size, count: count}, nil
}

// offsets reads the count+1 boundaries of items [first, first+count)
// in one read and validates them.
func (table *shardTable) offsets(ctx context.Context, first, count int64) ([]int64, error) {
	position := 4 + 4*first
	data, err := table.file.ReadAt(ctx, position, 4*(count+1))
	if err != nil {
		return nil, err
	}
	bounds := make([]int64, count+1)
	for i := range bounds {
		bounds[i] = int64(binary.LittleEndian.Uint32(data[4*i:]))
	}
	if bounds[0] < tableEnd(table.count) {
		return nil, dataset.Malformed(table.name, position, "reading offset table",
			"item %d starts at %d, inside the offset table", first, bounds[0])
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] < bounds[i-1] {
			return nil, dataset.Malformed(table.name, position+4*int64(i), "reading offset table",
				"offsets not monotonic: item %d ends at %d before it starts at %d",
				first+int64(i)-1, bounds[i], bounds[i-1])
		}
	}
	if last := bounds[len(bounds)-1]; last > table.size {
		return nil, dataset.Malformed(table.name, position+4*count, "reading offset table",
			"offset %d past end of shard (%d bytes)", last, table.size)
	}
	return bounds, nil
}

// itemLayout is an item's field references plus each field's absolute
// start offset.
type itemLayout struct {
	ref    dataset.ItemRef
	starts []int64
}

// item reads the size header of the item at [begin, end) and derives
// its fields. Payload bytes are not read. The item's size is the sum of
// its field sizes; the size header is not counted.
func (table *shardTable) item(ctx context.Context, index, begin, end int64) (itemLayout, error) {
	headerLength := table.shard.headerLength()
	if end-begin < headerLength {
		return itemLayout{}, dataset.Malformed(table.name, begin, "reading item header",
			"item %d is %d bytes, its size header needs %d", index, end-begin, headerLength)
	}
	var header []byte
	if headerLength > 0 {
		var err error
		header, err = table.file.ReadAt(ctx, begin, headerLength)
		if err != nil {
			return itemLayout{}, err
		}
	}

	layout := itemLayout{
		ref: dataset.ItemRef{
			Index:  index,
			Fields: make([]dataset.FieldRef, len(table.shard.Columns)),
		},
		starts: make([]int64, len(table.shard.Columns)),
	}
	position := begin + headerLength
	variable := 0
	for i, column := range table.shard.Columns {
		size := column.Size
		if size < 0 {
			size = int64(binary.LittleEndian.Uint32(header[4*variable:]))
			variable++
		}
		if position+size > end {
			return itemLayout{}, dataset.Malformed(table.name, begin+4*int64(max(variable-1, 0)), "reading item header",
				"field %q of item %d ends at %d, past the item end %d", column.Name, index, position+size, end)
		}
		layout.ref.Fields[i] = dataset.FieldRef{
			Index:    i,
			Name:     column.Name,
			Encoding: column.Encoding,
			Bytes:    size,
		}
		layout.starts[i] = position
		layout.ref.TotalBytes += size
		position += size
	}
	return layout, nil
}
