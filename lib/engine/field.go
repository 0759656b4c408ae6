// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/bureau-foundation/dataview/lib/audio"
	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/preview"
)

// fieldBytes is what a kind's read returns for one field.
type fieldBytes struct {
	data []byte
	ref  dataset.FieldRef

	// ext overrides extension guessing when the adapter knows the
	// type (catalog cells).
	ext string
}

// readField reads up to limit bytes of a field (limit <= 0 reads it
// whole). Chunked sources address items by item.Index only.
func (e *Engine) readField(ctx context.Context, src *dataset.Source, shard string, item dataset.ItemAddress, field dataset.FieldAddress, limit int64) (fieldBytes, error) {
	switch src.Kind {
	case dataset.SourceChunkedIndex, dataset.SourceChunkedFileList:
		data, ref, err := e.chunked.ReadField(ctx, src, shard, item.Index, field, limit)
		return fieldBytes{data: data, ref: ref}, err

	case dataset.SourceStreamedArchiveDir:
		data, ref, err := e.streamed.ReadMember(ctx, src, shard, item, field, limit)
		return fieldBytes{data: data, ref: ref}, err

	case dataset.SourceRemoteRecord:
		data, itemRef, err := e.records.ReadItem(ctx, src, shard, item, limit)
		if err != nil {
			return fieldBytes{}, err
		}
		ref, err := field.Resolve(itemRef)
		if err != nil {
			return fieldBytes{}, err
		}
		return fieldBytes{data: data, ref: ref}, nil

	case dataset.SourceRemoteCatalog:
		cell, ref, err := e.catalogFor(src).ReadCell(ctx, src.Root, shard, item.Index, field)
		if err != nil {
			return fieldBytes{}, err
		}
		data := cell.Data
		if limit > 0 && int64(len(data)) > limit {
			data = data[:limit]
		}
		return fieldBytes{data: data, ref: ref, ext: cell.Ext}, nil
	}
	return fieldBytes{}, unknownKind(src)
}

// guessExt is the one extension decision shared by peek and
// materialize. It looks only at the peek window so both agree.
func (e *Engine) guessExt(read fieldBytes) string {
	if read.ext != "" {
		return read.ext
	}
	window := read.data
	if limit := e.config.Limits.PeekBytes; int64(len(window)) > limit {
		window = window[:limit]
	}
	return preview.GuessExt(window, hintFor(read.ref))
}

func hintFor(ref dataset.FieldRef) preview.Hint {
	name := ref.MemberPath
	if name == "" {
		name = ref.Name
	}
	return preview.Hint{Encoding: ref.Encoding, Name: name}
}

func (e *Engine) textChars(src *dataset.Source) int {
	if src.Kind == dataset.SourceStreamedArchiveDir {
		return preview.StreamedTextChars
	}
	return e.config.Limits.PreviewTextChars
}

// PeekField previews the start of a field: at most the configured peek
// window is read.
func (e *Engine) PeekField(ctx context.Context, src *dataset.Source, shard string, item dataset.ItemAddress, field dataset.FieldAddress) (dataset.FieldPreview, error) {
	read, err := e.readField(ctx, src, shard, item, field, e.config.Limits.PeekBytes)
	if err != nil {
		return dataset.FieldPreview{}, err
	}
	result := preview.Build(read.data, read.ref.Bytes, hintFor(read.ref), preview.Options{TextChars: e.textChars(src)})
	result.GuessedExt = e.guessExt(read)
	result.RequestID = src.RequestID
	return result, nil
}

// MaterializeField writes a whole field, unchanged, to a temp file
// owned by the source. Its size and extension are the ones PeekField
// reports for the same field.
func (e *Engine) MaterializeField(ctx context.Context, src *dataset.Source, shard string, item dataset.ItemAddress, field dataset.FieldAddress) (dataset.PreparedFile, error) {
	read, err := e.readField(ctx, src, shard, item, field, 0)
	if err != nil {
		return dataset.PreparedFile{}, err
	}
	dir, err := e.temps.Dir()
	if err != nil {
		return dataset.PreparedFile{}, err
	}
	prepared, err := writeField(dir, e.guessExt(read), read.data)
	if err != nil {
		return dataset.PreparedFile{}, err
	}
	return e.hold(src, prepared, "materialized field", shard, item, field)
}

// PrepareAudioPreview writes an audio field as a playable temp file
// owned by the source. SPHERE audio (including Shorten-compressed) is
// decoded to WAV and other playable audio is copied. Fields that are
// not audio are KindUnsupported.
func (e *Engine) PrepareAudioPreview(ctx context.Context, src *dataset.Source, shard string, item dataset.ItemAddress, field dataset.FieldAddress) (dataset.PreparedFile, error) {
	read, err := e.readField(ctx, src, shard, item, field, 0)
	if err != nil {
		return dataset.PreparedFile{}, err
	}
	ext := e.guessExt(read)
	if !audio.IsAudio(ext) {
		return dataset.PreparedFile{}, dataset.Unsupported(shard, "field %s is %s, not audio", field, ext)
	}
	dir, err := e.temps.Dir()
	if err != nil {
		return dataset.PreparedFile{}, err
	}
	prepared, err := audio.Prepare(ctx, read.data, ext, dir)
	if err != nil {
		return dataset.PreparedFile{}, err
	}
	return e.hold(src, prepared, "prepared audio preview", shard, item, field)
}

// hold registers a written temp file with the source.
func (e *Engine) hold(src *dataset.Source, prepared dataset.PreparedFile, message, shard string, item dataset.ItemAddress, field dataset.FieldAddress) (dataset.PreparedFile, error) {
	if err := e.temps.Register(src.ID, prepared.Path); err != nil {
		os.Remove(prepared.Path)
		return dataset.PreparedFile{}, err
	}
	e.logger.Debug(message,
		"source", src.ID,
		"shard", shard,
		"item", item.String(),
		"field", field.String(),
		"path", prepared.Path,
		"bytes", prepared.Size,
	)
	prepared.RequestID = src.RequestID
	return prepared, nil
}

// Release gives up the source's hold on a materialized file, removing
// it when nothing else holds it.
func (e *Engine) Release(src *dataset.Source, path string) error {
	return e.temps.Release(src.ID, path)
}

func writeField(dir, ext string, data []byte) (dataset.PreparedFile, error) {
	file, err := os.CreateTemp(dir, "field-*."+ext)
	if err != nil {
		return dataset.PreparedFile{}, fmt.Errorf("creating field file: %w", err)
	}
	path := file.Name()
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(path)
		return dataset.PreparedFile{}, fmt.Errorf("writing %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return dataset.PreparedFile{}, fmt.Errorf("closing %s: %w", path, err)
	}
	return dataset.PreparedFile{Path: path, Size: int64(len(data)), Ext: ext}, nil
}
