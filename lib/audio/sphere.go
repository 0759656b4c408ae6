// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audio

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/bureau-foundation/dataview/lib/dataset"
)

// sphereMagic opens every NIST SPHERE header.
const sphereMagic = "NIST_1A"

// IsSphere reports whether data starts with a SPHERE header.
func IsSphere(data []byte) bool {
	return bytes.HasPrefix(data, []byte(sphereMagic))
}

// SphereHeader holds the fields of a SPHERE header used for decoding.
type SphereHeader struct {
	// Size is the header length in bytes; samples start here.
	Size int

	Channels   int
	SampleRate int
	SampleSize int

	// ByteFormat is "01" for little-endian and "10" for big-endian.
	ByteFormat string
	Coding     string

	// SampleCount is per channel, zero when not declared.
	SampleCount int64

	Fields map[string]string
}

// BigEndian reports whether 16-bit samples are stored big-endian.
func (h SphereHeader) BigEndian() bool { return strings.TrimSpace(h.ByteFormat) == "10" }

// Shorten reports whether the payload is Shorten-compressed.
func (h SphereHeader) Shorten() bool { return strings.Contains(h.Coding, "shorten") }

// ParseSphereHeader reads the ASCII header: the magic line, a line
// holding the header size, then "key type value" lines up to
// "end_head".
func ParseSphereHeader(data []byte) (SphereHeader, error) {
	if !IsSphere(data) {
		return SphereHeader{}, dataset.Malformed("sphere", 0, "parsing header", "missing %s magic", sphereMagic)
	}
	if len(data) < 16 {
		return SphereHeader{}, dataset.Malformed("sphere", int64(len(data)), "parsing header", "file too short")
	}
	sizeField := data[8:16]
	if end := bytes.IndexAny(sizeField, "\r\n"); end >= 0 {
		sizeField = sizeField[:end]
	}
	size, err := strconv.Atoi(strings.TrimSpace(string(sizeField)))
	if err != nil || size <= 0 || size > len(data) {
		return SphereHeader{}, dataset.Malformed("sphere", 8, "parsing header", "invalid header size %q", sizeField)
	}

	header := SphereHeader{Size: size, Fields: make(map[string]string)}
	for _, line := range strings.Split(string(data[:size]), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == sphereMagic {
			continue
		}
		if line == "end_head" {
			break
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			continue
		}
		header.Fields[strings.TrimSuffix(parts[0], ":")] = strings.Join(parts[2:], " ")
	}

	integer := func(key string, required bool) (int64, error) {
		raw, ok := header.Fields[key]
		if !ok {
			if required {
				return 0, dataset.Malformed("sphere", -1, "parsing header", "missing %s", key)
			}
			return 0, nil
		}
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value < 0 {
			return 0, dataset.Malformed("sphere", -1, "parsing header", "invalid %s %q", key, raw)
		}
		return value, nil
	}

	channels, err := integer("channel_count", true)
	if err != nil {
		return SphereHeader{}, err
	}
	if channels < 1 || channels > maxChannels {
		return SphereHeader{}, dataset.Malformed("sphere", -1, "parsing header", "channel_count %d out of range", channels)
	}
	rate, err := integer("sample_rate", true)
	if err != nil {
		return SphereHeader{}, err
	}
	sampleSize, err := integer("sample_n_bytes", true)
	if err != nil {
		return SphereHeader{}, err
	}
	count, err := integer("sample_count", false)
	if err != nil {
		return SphereHeader{}, err
	}

	header.Channels = int(channels)
	header.SampleRate = int(rate)
	header.SampleSize = int(sampleSize)
	header.SampleCount = count
	header.ByteFormat = header.Fields["sample_byte_format"]
	header.Coding = strings.ToLower(header.Fields["sample_coding"])
	if header.Coding == "" {
		header.Coding = "pcm"
	}
	return header, nil
}

// DecodeSphere decodes a SPHERE file to interleaved 16-bit PCM.
func DecodeSphere(data []byte) (SphereHeader, []int16, error) {
	header, err := ParseSphereHeader(data)
	if err != nil {
		return SphereHeader{}, nil, err
	}
	payload := data[header.Size:]
	limit := 0
	if header.SampleCount > 0 {
		limit = int(header.SampleCount) * header.Channels
	}

	var samples []int16
	coding := header.Coding
	switch {
	case header.Shorten():
		decoded, format, err := DecodeShorten(bytes.NewReader(payload), limit)
		if err != nil {
			return SphereHeader{}, nil, err
		}
		if format.Channels != header.Channels {
			return SphereHeader{}, nil, dataset.Malformed("sphere", int64(header.Size), "decoding shorten",
				"stream has %d channels, header declares %d", format.Channels, header.Channels)
		}
		samples = decoded
	case strings.Contains(coding, "ulaw") || strings.Contains(coding, "mu-law") || strings.Contains(coding, "mulaw"):
		samples = make([]int16, len(payload))
		for i, code := range payload {
			samples[i] = ULawToLinear(code)
		}
	case strings.Contains(coding, "alaw") || strings.Contains(coding, "a-law"):
		samples = make([]int16, len(payload))
		for i, code := range payload {
			samples[i] = ALawToLinear(code)
		}
	case strings.Contains(coding, "pcm") && header.SampleSize == 2:
		order := binary.ByteOrder(binary.LittleEndian)
		if header.BigEndian() {
			order = binary.BigEndian
		}
		samples = make([]int16, len(payload)/2)
		for i := range samples {
			samples[i] = int16(order.Uint16(payload[2*i:]))
		}
	case strings.Contains(coding, "pcm") && header.SampleSize == 1:
		samples = make([]int16, len(payload))
		for i, b := range payload {
			samples[i] = int16(int8(b)) << 8
		}
	default:
		return SphereHeader{}, nil, dataset.Unsupported("sphere", "sample coding %q with %d-byte samples", header.Coding, header.SampleSize)
	}

	if limit > 0 && len(samples) > limit {
		samples = samples[:limit]
	}
	return header, samples, nil
}
