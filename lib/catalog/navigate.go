// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/bureau-foundation/dataview/lib/dataset"
)

// The shard view of a catalog dataset: each config/split pair is a
// shard named "config/split", each row an item, each column a field.

// ShardName joins a configuration and split into a shard name.
func ShardName(config, split string) string { return config + "/" + split }

// SplitShardName is the inverse of ShardName.
func SplitShardName(shard string) (config, split string, err error) {
	config, split, ok := strings.Cut(shard, "/")
	if !ok || config == "" || split == "" {
		return "", "", dataset.NotFound(shard, "catalog shards are named config/split")
	}
	return config, split, nil
}

// Shards lists a dataset's config/split pairs as shards. Row counts
// are not known until a split is paged.
func (c *Client) Shards(ctx context.Context, datasetID string) ([]dataset.ShardSummary, error) {
	configs, err := c.Splits(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	var shards []dataset.ShardSummary
	for _, config := range configs {
		for _, split := range config.Splits {
			shards = append(shards, dataset.ShardSummary{
				Filename: ShardName(config.Config, split),
				Exists:   true,
			})
		}
	}
	return shards, nil
}

// ItemsPage returns a page of rows of a config/split shard as items.
func (c *Client) ItemsPage(ctx context.Context, datasetID, shard string, offset int64, length int) (dataset.ItemPage, error) {
	config, split, err := SplitShardName(shard)
	if err != nil {
		return dataset.ItemPage{}, err
	}
	rows, err := c.Rows(ctx, RowsRequest{Dataset: datasetID, Config: config, Split: split, Offset: offset, Length: length})
	if err != nil {
		return dataset.ItemPage{}, err
	}
	total := rows.Total
	page := dataset.ItemPage{
		Offset:  offset,
		Items:   make([]dataset.ItemRef, 0, len(rows.Rows)),
		Total:   &total,
		Partial: rows.Partial,
		AtLeast: total,
	}
	for i, row := range rows.Rows {
		page.Items = append(page.Items, RowItem(offset+int64(i), row, rows.Schema))
	}
	page.Length = len(page.Items)
	return page, nil
}

// RowItem is the item view of a row: one field per schema column, in
// schema order, then any columns the schema does not declare.
func RowItem(index int64, row map[string]any, schema []dataset.Feature) dataset.ItemRef {
	item := dataset.ItemRef{Index: index}
	seen := make(map[string]bool, len(schema))
	add := func(name, dtype string) {
		value, ok := row[name]
		if !ok || seen[name] {
			return
		}
		seen[name] = true
		size := CellSize(value)
		item.Fields = append(item.Fields, dataset.FieldRef{
			Index:    len(item.Fields),
			Name:     name,
			Encoding: dtype,
			Bytes:    size,
		})
		item.TotalBytes += size
	}
	for _, feature := range schema {
		add(feature.Name, feature.Dtype)
	}
	var extra []string
	for name := range row {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		add(name, "")
	}
	return item
}

// ReadCell materializes one field of one row.
func (c *Client) ReadCell(ctx context.Context, datasetID, shard string, index int64, field dataset.FieldAddress) (Cell, dataset.FieldRef, error) {
	config, split, err := SplitShardName(shard)
	if err != nil {
		return Cell{}, dataset.FieldRef{}, err
	}
	row, schema, err := c.Row(ctx, datasetID, config, split, index)
	if err != nil {
		return Cell{}, dataset.FieldRef{}, err
	}
	ref, err := field.Resolve(RowItem(index, row, schema))
	if err != nil {
		return Cell{}, dataset.FieldRef{}, err
	}
	cell, err := c.MaterializeCell(ctx, row, ref.Name)
	if err != nil {
		return Cell{}, dataset.FieldRef{}, err
	}
	ref.Bytes = int64(len(cell.Data))
	return cell, ref, nil
}
