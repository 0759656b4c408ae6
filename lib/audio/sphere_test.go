// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/go-audio/wav"

	"github.com/bureau-foundation/dataview/lib/dataset"
)

// sphereFile builds a 1024-byte SPHERE header followed by payload.
func sphereFile(fields map[string]string, payload []byte) []byte {
	var header strings.Builder
	header.WriteString("NIST_1A\n   1024\n")
	for _, key := range []string{"channel_count", "sample_rate", "sample_n_bytes", "sample_byte_format", "sample_coding", "sample_count"} {
		value, ok := fields[key]
		if !ok {
			continue
		}
		kind := "-i"
		if _, err := fmt.Sscan(value, new(int)); err != nil || strings.ContainsAny(value, ",-") {
			kind = fmt.Sprintf("-s%d", len(value))
		}
		fmt.Fprintf(&header, "%s %s %s\n", key, kind, value)
	}
	header.WriteString("end_head\n")
	padded := []byte(header.String() + strings.Repeat(" ", 1024-header.Len()))
	return append(padded, payload...)
}

func TestParseSphereHeader(t *testing.T) {
	data := sphereFile(map[string]string{
		"channel_count":      "2",
		"sample_rate":        "16000",
		"sample_n_bytes":     "2",
		"sample_byte_format": "10",
		"sample_coding":      "pcm,embedded-shorten-v2.00",
		"sample_count":       "150",
	}, nil)

	header, err := ParseSphereHeader(data)
	if err != nil {
		t.Fatalf("ParseSphereHeader: %v", err)
	}
	if header.Size != 1024 || header.Channels != 2 || header.SampleRate != 16000 || header.SampleSize != 2 {
		t.Errorf("header = %+v", header)
	}
	if !header.BigEndian() || !header.Shorten() || header.SampleCount != 150 {
		t.Errorf("header = %+v", header)
	}
}

func TestParseSphereHeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"no magic", []byte("RIFF....WAVEfmt ")},
		{"short", []byte("NIST_1A\n")},
		{"bad size", []byte("NIST_1A\n   abcd\nend_head\n")},
		{"size past end", []byte("NIST_1A\n   9999\nend_head\n")},
		{"missing channels", sphereFile(map[string]string{"sample_rate": "8000", "sample_n_bytes": "2"}, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSphereHeader(tt.data); !errors.Is(err, dataset.ErrMalformed) {
				t.Errorf("got %v, want ErrMalformed", err)
			}
		})
	}
}

func TestDecodeSpherePCM(t *testing.T) {
	want := []int16{0, 1, -1, 32767, -32768, 1234}
	tests := []struct {
		name  string
		order binary.ByteOrder
		flag  string
	}{
		{"little endian", binary.LittleEndian, "01"},
		{"big endian", binary.BigEndian, "10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := make([]byte, 2*len(want))
			for i, sample := range want {
				tt.order.PutUint16(payload[2*i:], uint16(sample))
			}
			data := sphereFile(map[string]string{
				"channel_count": "1", "sample_rate": "8000", "sample_n_bytes": "2",
				"sample_byte_format": tt.flag, "sample_coding": "pcm",
			}, payload)
			_, samples, err := DecodeSphere(data)
			if err != nil {
				t.Fatalf("DecodeSphere: %v", err)
			}
			if !equalSamples(samples, want) {
				t.Errorf("samples = %v, want %v", samples, want)
			}
		})
	}
}

func TestDecodeSphereCompanded(t *testing.T) {
	payload := []byte{0xff, 0x00, 0x80}
	data := sphereFile(map[string]string{
		"channel_count": "1", "sample_rate": "8000", "sample_n_bytes": "1", "sample_coding": "ulaw",
	}, payload)
	_, samples, err := DecodeSphere(data)
	if err != nil {
		t.Fatalf("DecodeSphere: %v", err)
	}
	if want := []int16{0, -32124, 32124}; !equalSamples(samples, want) {
		t.Errorf("µ-law samples = %v, want %v", samples, want)
	}

	data = sphereFile(map[string]string{
		"channel_count": "1", "sample_rate": "8000", "sample_n_bytes": "1", "sample_coding": "alaw",
	}, []byte{0xd5, 0x55})
	_, samples, err = DecodeSphere(data)
	if err != nil {
		t.Fatalf("DecodeSphere: %v", err)
	}
	if want := []int16{8, -8}; !equalSamples(samples, want) {
		t.Errorf("A-law samples = %v, want %v", samples, want)
	}
}

func TestDecodeSphereShortenSampleCount(t *testing.T) {
	// 192 frames are encoded but the header declares 150; the output
	// stops at the declared count.
	signal := testSignal(192, 2, 3000)
	encoder := newTestEncoder(2, ShortenS16HL, 2, 64, 0, 0)
	encodeBlocks(encoder, cmdDiff1, signal)
	data := sphereFile(map[string]string{
		"channel_count": "2", "sample_rate": "16000", "sample_n_bytes": "2",
		"sample_byte_format": "01", "sample_coding": "pcm,embedded-shorten-v2.00", "sample_count": "150",
	}, encoder.finish())

	header, samples, err := DecodeSphere(data)
	if err != nil {
		t.Fatalf("DecodeSphere: %v", err)
	}
	if header.Channels != 2 {
		t.Errorf("Channels = %d", header.Channels)
	}
	if len(samples) != 150*2 {
		t.Fatalf("decoded %d samples, want %d", len(samples), 150*2)
	}
	if want := interleave(signal, identity)[:300]; !equalSamples(samples, want) {
		t.Error("decoded samples differ from the encoded signal")
	}
}

func TestDecodeSphereUnsupportedCoding(t *testing.T) {
	data := sphereFile(map[string]string{
		"channel_count": "1", "sample_rate": "8000", "sample_n_bytes": "3", "sample_coding": "pcm",
	}, make([]byte, 9))
	if _, _, err := DecodeSphere(data); !errors.Is(err, dataset.ErrUnsupported) {
		t.Fatalf("got %v, want ErrUnsupported", err)
	}
}

func TestPrepareSphereWritesWAV(t *testing.T) {
	want := []int16{100, -100, 200, -200}
	payload := make([]byte, 8)
	for i, sample := range want {
		binary.LittleEndian.PutUint16(payload[2*i:], uint16(sample))
	}
	data := sphereFile(map[string]string{
		"channel_count": "2", "sample_rate": "22050", "sample_n_bytes": "2", "sample_coding": "pcm",
	}, payload)

	prepared, err := Prepare(context.Background(), data, "sph", t.TempDir())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if prepared.Ext != "wav" || !strings.HasSuffix(prepared.Path, ".wav") {
		t.Errorf("prepared = %+v, want a wav file", prepared)
	}

	file, err := os.Open(prepared.Path)
	if err != nil {
		t.Fatalf("opening output: %v", err)
	}
	defer file.Close()
	decoder := wav.NewDecoder(file)
	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		t.Fatalf("reading wav: %v", err)
	}
	if decoder.NumChans != 2 || decoder.SampleRate != 22050 || decoder.BitDepth != 16 {
		t.Errorf("wav format = %d ch, %d Hz, %d bit", decoder.NumChans, decoder.SampleRate, decoder.BitDepth)
	}
	if len(buffer.Data) != len(want) {
		t.Fatalf("wav holds %d samples, want %d", len(buffer.Data), len(want))
	}
	for i, sample := range want {
		if buffer.Data[i] != int(sample) {
			t.Errorf("sample %d = %d, want %d", i, buffer.Data[i], sample)
		}
	}
	info, err := os.Stat(prepared.Path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != prepared.Size {
		t.Errorf("Size = %d, file is %d bytes", prepared.Size, info.Size())
	}
}

func TestPreparePlayableCopies(t *testing.T) {
	data := []byte("fLaC\x00\x00\x00\x22rest-of-stream")
	prepared, err := Prepare(context.Background(), data, "flac", t.TempDir())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	written, err := os.ReadFile(prepared.Path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !bytes.Equal(written, data) || prepared.Ext != "flac" || prepared.Size != int64(len(data)) {
		t.Errorf("prepared = %+v", prepared)
	}
}

func TestPrepareRejectsNonAudio(t *testing.T) {
	_, err := Prepare(context.Background(), []byte("hello"), "txt", t.TempDir())
	if !errors.Is(err, dataset.ErrUnsupported) {
		t.Fatalf("got %v, want ErrUnsupported", err)
	}
}
