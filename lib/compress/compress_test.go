// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compress

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestCodecString(t *testing.T) {
	tests := []struct {
		codec Codec
		want  string
	}{
		{None, "none"},
		{Zstd, "zstd"},
		{Gzip, "gzip"},
		{LZ4, "lz4"},
		{Codec(99), "unknown(99)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.codec.String(); got != tt.want {
				t.Errorf("Codec(%d).String() = %q, want %q", tt.codec, got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		want Codec
	}{
		{"", None},
		{"none", None},
		{"zstd", Zstd},
		{"zstd:7", Zstd},
		{" ZSTD ", Zstd},
		{"gz", Gzip},
		{"gzip:9", Gzip},
		{"lz4", LZ4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.name)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}

	t.Run("unknown", func(t *testing.T) {
		_, err := Parse("brotli")
		var unknown *UnknownCodecError
		if !errors.As(err, &unknown) {
			t.Fatalf("Parse(\"brotli\") error = %v, want *UnknownCodecError", err)
		}
		if unknown.Name != "brotli" {
			t.Errorf("got name %q, want %q", unknown.Name, "brotli")
		}
	})
}

func TestSplitExt(t *testing.T) {
	tests := []struct {
		name      string
		wantCodec Codec
		wantRest  string
	}{
		{"shard-000.tar", None, "shard-000.tar"},
		{"shard-000.tar.gz", Gzip, "shard-000.tar"},
		{"shard-000.TGZ", Gzip, "shard-000.tar"},
		{"shard-000.tar.zst", Zstd, "shard-000.tar"},
		{"shard-000.tar.zstd", Zstd, "shard-000.tar"},
		{"shard-000.tar.lz4", LZ4, "shard-000.tar"},
		{"index.json.zst", Zstd, "index.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec, rest := SplitExt(tt.name)
			if codec != tt.wantCodec || rest != tt.wantRest {
				t.Errorf("SplitExt(%q) = (%v, %q), want (%v, %q)",
					tt.name, codec, rest, tt.wantCodec, tt.wantRest)
			}
		})
	}
}

func TestRoundtrip(t *testing.T) {
	data := []byte(strings.Repeat("sample payload with repetition ", 400))
	for _, codec := range []Codec{None, Zstd, Gzip, LZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			compressed, err := Encode(codec, data)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if codec != None && len(compressed) >= len(data) {
				t.Errorf("compressed size %d not smaller than input %d", len(compressed), len(data))
			}

			reader, err := NewReader(codec, bytes.NewReader(compressed))
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			streamed, err := io.ReadAll(reader)
			reader.Close()
			if err != nil {
				t.Fatalf("reading stream: %v", err)
			}
			if !bytes.Equal(streamed, data) {
				t.Error("streamed roundtrip mismatch")
			}

			decoded, err := DecodeAll(codec, compressed, 0)
			if err != nil {
				t.Fatalf("DecodeAll: %v", err)
			}
			if !bytes.Equal(decoded, data) {
				t.Error("DecodeAll roundtrip mismatch")
			}
		})
	}
}

func TestDecodeAllLimit(t *testing.T) {
	data := bytes.Repeat([]byte{'x'}, 4096)
	compressed, err := Encode(Zstd, data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := DecodeAll(Zstd, compressed, 1024); err == nil {
		t.Error("DecodeAll with a limit below the output size should fail")
	}
	if _, err := DecodeAll(Zstd, compressed, 4096); err != nil {
		t.Errorf("DecodeAll at exactly the limit: %v", err)
	}
}

func TestCorruptInput(t *testing.T) {
	garbage := []byte("definitely not a compressed stream")
	for _, codec := range []Codec{Zstd, Gzip, LZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			if _, err := DecodeAll(codec, garbage, 0); err == nil {
				t.Errorf("DecodeAll(%v) accepted garbage", codec)
			}
		})
	}
}
