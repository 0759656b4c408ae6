// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audio

import "testing"

func TestULawToLinear(t *testing.T) {
	tests := []struct {
		code byte
		want int16
	}{
		{0xff, 0},
		{0x7f, 0},
		{0x00, -32124},
		{0x80, 32124},
		{0xf0, 120},
	}
	for _, tt := range tests {
		if got := ULawToLinear(tt.code); got != tt.want {
			t.Errorf("ULawToLinear(%#x) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestALawToLinear(t *testing.T) {
	tests := []struct {
		code byte
		want int16
	}{
		{0xd5, 8},
		{0x55, -8},
		{0xaa, 32256},
		{0x2a, -32256},
	}
	for _, tt := range tests {
		if got := ALawToLinear(tt.code); got != tt.want {
			t.Errorf("ALawToLinear(%#x) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestCompandingRoundTrip(t *testing.T) {
	// Every code must survive decode then encode unchanged, except the
	// two µ-law zero codes which both decode to 0.
	for code := range 256 {
		linear := ULawToLinear(byte(code))
		back := linearToULaw(linear)
		if back != byte(code) && !(code == 0x7f && back == 0xff) {
			t.Errorf("µ-law %#x -> %d -> %#x", code, linear, back)
		}
	}
	for code := range 256 {
		linear := ALawToLinear(byte(code))
		if back := linearToALaw(linear); back != byte(code) {
			t.Errorf("A-law %#x -> %d -> %#x", code, linear, back)
		}
	}
}

func TestCompandingMonotonic(t *testing.T) {
	previous := ULawToLinear(linearToULaw(-32768))
	for sample := -32768; sample <= 32767; sample += 97 {
		current := ULawToLinear(linearToULaw(int16(sample)))
		if current < previous {
			t.Fatalf("µ-law quantization not monotonic at %d: %d < %d", sample, current, previous)
		}
		previous = current
	}
}
