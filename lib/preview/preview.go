// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package preview classifies field bytes as text or binary, renders a
// short preview, and guesses a file extension.
//
// Every adapter runs its peek and materialize paths through [GuessExt]
// so the two never disagree about a field's type.
package preview

import (
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/bureau-foundation/dataview/lib/dataset"
)

// Default caps.
const (
	// DefaultTextChars caps decoded text for chunked and remote
	// sources.
	DefaultTextChars = 400

	// StreamedTextChars caps decoded text for tar-backed sources,
	// whose text members (captions, transcripts) run longer.
	StreamedTextChars = 8192

	// HexBytes is the length of the hex snippet window.
	HexBytes = 48

	// controlRatioLimit is the fraction of control bytes above which
	// a window is binary.
	controlRatioLimit = 0.10
)

// Hint carries declared metadata about a field.
type Hint struct {
	// Encoding is a declared column encoding (MDS column_encodings,
	// LitData data_format).
	Encoding string

	// Name is the member path or field name; its final extension is
	// used as a declared type.
	Name string
}

// Options tunes Build. Zero values take the defaults.
type Options struct {
	TextChars int
}

// Build inspects window, a prefix of a field of the given true size.
func Build(window []byte, size int64, hint Hint, options Options) dataset.FieldPreview {
	textChars := options.TextChars
	if textChars <= 0 {
		textChars = DefaultTextChars
	}

	result := dataset.FieldPreview{
		HexSnippet: HexSnippet(window),
		GuessedExt: GuessExt(window, hint),
		Size:       size,
	}

	if IsScalarEncoding(hint.Encoding) {
		if text, ok := DecodeScalar(hint.Encoding, window); ok {
			result.PreviewText = &text
			return result
		}
	}

	if IsBinary(window) {
		result.IsBinary = true
		return result
	}
	text := truncateChars(string(trimPartialRune(window)), textChars)
	result.PreviewText = &text
	return result
}

// IsBinary classifies a byte window. A window is binary if it holds a
// NUL byte, if more than a tenth of its bytes are control characters
// other than tab, newline, carriage return, and form feed, or if it is
// not UTF-8. A rune cut off by the end of the window is tolerated.
func IsBinary(window []byte) bool {
	if len(window) == 0 {
		return false
	}
	control := 0
	for _, b := range window {
		switch {
		case b == 0:
			return true
		case b == '\t' || b == '\n' || b == '\r' || b == '\f':
		case b < 0x20 || b == 0x7f:
			control++
		}
	}
	if float64(control)/float64(len(window)) > controlRatioLimit {
		return true
	}
	return !utf8.Valid(trimPartialRune(window))
}

// trimPartialRune drops an incomplete UTF-8 sequence at the end of
// data, at most three bytes.
func trimPartialRune(data []byte) []byte {
	for back := 1; back <= utf8.UTFMax-1 && back <= len(data); back++ {
		b := data[len(data)-back]
		if b < utf8.RuneSelf {
			return data
		}
		if utf8.RuneStart(b) {
			if !utf8.FullRune(data[len(data)-back:]) {
				return data[:len(data)-back]
			}
			return data
		}
	}
	return data
}

func truncateChars(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	count := 0
	for i := range text {
		if count == limit {
			return text[:i]
		}
		count++
	}
	return text
}

// HexSnippet renders the first HexBytes bytes as lowercase hex pairs
// separated by spaces.
func HexSnippet(data []byte) string {
	data = data[:min(len(data), HexBytes)]
	var builder strings.Builder
	builder.Grow(len(data) * 3)
	for i, b := range data {
		if i > 0 {
			builder.WriteByte(' ')
		}
		builder.WriteString(hex.EncodeToString([]byte{b}))
	}
	return builder.String()
}
