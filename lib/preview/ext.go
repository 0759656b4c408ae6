// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package preview

import (
	"bytes"
	"encoding/binary"
	"math"
	"path"
	"strconv"
	"strings"
	"unicode/utf8"
)

// GuessExt returns an extension (without the dot) for a field. Magic
// bytes win, then declared metadata (encoding, then member extension),
// then valid non-empty UTF-8 gives "txt". Anything else is "bin".
func GuessExt(data []byte, hint Hint) string {
	if ext := MagicExt(data); ext != "" {
		return ext
	}
	if ext, ok := encodingExt(hint.Encoding); ok {
		return ext
	}
	if ext := memberExt(hint.Name); ext != "" {
		return ext
	}
	trimmed := trimPartialRune(data)
	if len(bytes.TrimSpace(trimmed)) > 0 && !IsBinary(data) {
		return "txt"
	}
	return "bin"
}

type signature struct {
	offset int
	magic  []byte
	ext    string
}

var signatures = []signature{
	{0, []byte("NIST_1A"), "sph"},
	{0, []byte("fLaC"), "flac"},
	{0, []byte("OggS"), "ogg"},
	{0, []byte("ID3"), "mp3"},
	{0, []byte("\x89PNG\r\n\x1a\n"), "png"},
	{0, []byte{0xff, 0xd8, 0xff}, "jpg"},
	{0, []byte("GIF87a"), "gif"},
	{0, []byte("GIF89a"), "gif"},
	{0, []byte("%PDF-"), "pdf"},
	{0, []byte{0x1f, 0x8b}, "gz"},
	{0, []byte{0x28, 0xb5, 0x2f, 0xfd}, "zst"},
	{0, []byte("PK\x03\x04"), "zip"},
	{0, []byte("PK\x05\x06"), "zip"},
}

// ftypExt maps an ISO base media file's major brand to an extension.
// Audio-only brands are m4a, QuickTime is mov, and the rest are mp4.
func ftypExt(brand string) string {
	switch strings.TrimRight(brand, " ") {
	case "M4A", "M4B", "M4P", "F4A", "F4B":
		return "m4a"
	case "qt":
		return "mov"
	default:
		return "mp4"
	}
}

// MagicExt recognizes a small set of container signatures. It
// returns "" when none match.
func MagicExt(data []byte) string {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" {
		switch string(data[8:12]) {
		case "WAVE":
			return "wav"
		case "WEBP":
			return "webp"
		}
	}
	if len(data) >= 12 && string(data[4:8]) == "ftyp" {
		return ftypExt(string(data[8:12]))
	}
	for _, sig := range signatures {
		if len(data) >= sig.offset+len(sig.magic) && bytes.Equal(data[sig.offset:sig.offset+len(sig.magic)], sig.magic) {
			return sig.ext
		}
	}
	// MPEG audio frame sync. Checked after JPEG, which also starts
	// with 0xff.
	if len(data) >= 2 && data[0] == 0xff && data[1]&0xe0 == 0xe0 {
		return "mp3"
	}
	return ""
}

// encodingExts maps declared column encodings to extensions.
var encodingExts = map[string]string{
	"jpeg":        "jpg",
	"jpg":         "jpg",
	"pil":         "png",
	"png":         "png",
	"tiff":        "tiff",
	"str":         "txt",
	"str_int":     "txt",
	"str_float":   "txt",
	"str_decimal": "txt",
	"int":         "txt",
	"float16":     "txt",
	"json":        "json",
	"bytes":       "bin",
	"pkl":         "pkl",
	"audio":       "wav",
	"npy":         "npy",
}

func encodingExt(encoding string) (string, bool) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	if encoding == "" {
		return "", false
	}
	if ext, ok := encodingExts[encoding]; ok {
		return ext, true
	}
	if IsScalarEncoding(encoding) {
		return "txt", true
	}
	if _, subtype, ok := strings.Cut(encoding, ":"); ok {
		if ext := sanitizeExt(strings.TrimLeft(strings.TrimSpace(subtype), ".")); ext != "" {
			return ext, true
		}
	}
	return "", false
}

func memberExt(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	dot := strings.LastIndexByte(base, '.')
	if dot < 0 {
		return ""
	}
	return sanitizeExt(strings.ToLower(base[dot+1:]))
}

// sanitizeExt keeps ASCII letters and digits and rejects anything
// longer than a plausible extension.
func sanitizeExt(ext string) string {
	if ext == "" || len(ext) > 16 {
		return ""
	}
	for _, r := range ext {
		if r >= utf8.RuneSelf || !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}

// scalarWidths gives the byte width of each little-endian scalar
// encoding.
var scalarWidths = map[string]int{
	"int": 8, "int64": 8, "int32": 4, "int16": 2, "int8": 1,
	"uint64": 8, "uint32": 4, "uint16": 2, "uint8": 1,
	"float64": 8, "float32": 4,
}

// IsScalarEncoding reports whether encoding names a fixed-width
// numeric value. Adapters read such fields in full for preview.
func IsScalarEncoding(encoding string) bool {
	_, ok := scalarWidths[strings.ToLower(strings.TrimSpace(encoding))]
	return ok
}

// DecodeScalar renders a little-endian numeric field as text. It
// fails when the data length does not match the encoding's width.
func DecodeScalar(encoding string, data []byte) (string, bool) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	width, ok := scalarWidths[encoding]
	if !ok || len(data) != width {
		return "", false
	}
	switch encoding {
	case "int", "int64":
		return strconv.FormatInt(int64(binary.LittleEndian.Uint64(data)), 10), true
	case "int32":
		return strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(data))), 10), true
	case "int16":
		return strconv.FormatInt(int64(int16(binary.LittleEndian.Uint16(data))), 10), true
	case "int8":
		return strconv.FormatInt(int64(int8(data[0])), 10), true
	case "uint64":
		return strconv.FormatUint(binary.LittleEndian.Uint64(data), 10), true
	case "uint32":
		return strconv.FormatUint(uint64(binary.LittleEndian.Uint32(data)), 10), true
	case "uint16":
		return strconv.FormatUint(uint64(binary.LittleEndian.Uint16(data)), 10), true
	case "uint8":
		return strconv.FormatUint(uint64(data[0]), 10), true
	case "float64":
		return strconv.FormatFloat(math.Float64frombits(binary.LittleEndian.Uint64(data)), 'g', -1, 64), true
	case "float32":
		return strconv.FormatFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(data))), 'g', -1, 32), true
	}
	return "", false
}

// mimeExts maps asset content types to extensions.
var mimeExts = map[string]string{
	"audio/wav":    "wav",
	"audio/x-wav":  "wav",
	"audio/wave":   "wav",
	"audio/mpeg":   "mp3",
	"audio/mp3":    "mp3",
	"audio/flac":   "flac",
	"audio/x-flac": "flac",
	"audio/ogg":    "ogg",
	"audio/opus":   "opus",
	"audio/aac":    "aac",
	"audio/mp4":    "m4a",
	"image/jpeg":   "jpg",
	"image/png":    "png",
	"image/gif":    "gif",
	"image/webp":   "webp",
}

// ExtForMIME returns the extension for a content type, ignoring
// parameters, or "" when unknown.
func ExtForMIME(contentType string) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return mimeExts[strings.ToLower(strings.TrimSpace(mediaType))]
}
