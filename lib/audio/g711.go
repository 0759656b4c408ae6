// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audio

// G.711 companding. The decoders expand one code byte to 16-bit
// linear PCM; the encoders are used by the Shorten decoder for
// streams whose internal form is linear but whose nominal type is
// µ-law or A-law, which must be quantized back through the code
// before expansion.

const (
	ulawBias = 0x84
	ulawClip = 32635
)

// ulawExponent maps the top byte of a biased magnitude to its segment.
var ulawExponent = func() [256]int {
	var table [256]int
	for i := range table {
		for v := i; v > 1; v >>= 1 {
			table[i]++
		}
	}
	return table
}()

var alawSegmentEnd = [8]int{0x1f, 0x3f, 0x7f, 0xff, 0x1ff, 0x3ff, 0x7ff, 0xfff}

// ULawToLinear expands a µ-law code.
func ULawToLinear(code byte) int16 {
	u := ^code
	t := (int(u&0x0f) << 3) + ulawBias
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(ulawBias - t)
	}
	return int16(t - ulawBias)
}

// ALawToLinear expands an A-law code.
func ALawToLinear(code byte) int16 {
	a := code ^ 0x55
	t := int(a&0x0f) << 4
	segment := int(a&0x70) >> 4
	switch segment {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= segment - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}

// linearToULaw compresses a 16-bit sample to a µ-law code.
func linearToULaw(sample int16) byte {
	s := int(sample)
	sign := (s >> 8) & 0x80
	if sign != 0 {
		s = -s
	}
	if s > ulawClip {
		s = ulawClip
	}
	s += ulawBias
	exponent := ulawExponent[(s>>7)&0xff]
	mantissa := (s >> (exponent + 3)) & 0x0f
	return ^byte(sign | exponent<<4 | mantissa)
}

// linearToALaw compresses a 16-bit sample to an A-law code.
func linearToALaw(sample int16) byte {
	v := int(sample)
	mask := 0xd5
	if v < 0 {
		mask = 0x55
		v = -v - 1
	}
	v >>= 3
	segment := 0
	for segment < len(alawSegmentEnd) && v > alawSegmentEnd[segment] {
		segment++
	}
	if segment >= len(alawSegmentEnd) {
		return byte(0x7f ^ mask)
	}
	code := segment << 4
	if segment < 2 {
		code |= (v >> 1) & 0x0f
	} else {
		code |= (v >> segment) & 0x0f
	}
	return byte(code ^ mask)
}

func clip16(v int64) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
