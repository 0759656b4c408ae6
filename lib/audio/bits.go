// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audio

import "errors"

var errBitsExhausted = errors.New("bit stream ended")

// maxUnaryRun bounds a unary prefix. Valid Shorten streams never come
// close; a longer run means corrupt input.
const maxUnaryRun = 1 << 16

// bitReader reads a byte slice most significant bit first.
type bitReader struct {
	data     []byte
	position int // in bits
}

func (r *bitReader) bit() (uint32, error) {
	if r.position >= len(r.data)*8 {
		return 0, errBitsExhausted
	}
	b := r.data[r.position>>3] >> (7 - uint(r.position&7)) & 1
	r.position++
	return uint32(b), nil
}

func (r *bitReader) bits(n uint) (uint32, error) {
	var v uint32
	for range n {
		b, err := r.bit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | b
	}
	return v, nil
}

// unsigned reads a Rice code with parameter k: a unary count of zero
// bits ended by a one, then k low bits.
func (r *bitReader) unsigned(k uint) (uint32, error) {
	high := uint64(0)
	for {
		b, err := r.bit()
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		high++
		if high > maxUnaryRun {
			return 0, errors.New("unary prefix too long")
		}
	}
	low, err := r.bits(k)
	if err != nil {
		return 0, err
	}
	v := high<<k | uint64(low)
	if v > 1<<32-1 {
		return 0, errors.New("rice value overflows 32 bits")
	}
	return uint32(v), nil
}

// signed reads a Rice code with parameter k+1 and folds the low bit
// into the sign.
func (r *bitReader) signed(k uint) (int32, error) {
	u, err := r.unsigned(k + 1)
	if err != nil {
		return 0, err
	}
	if u&1 != 0 {
		return ^int32(u >> 1), nil
	}
	return int32(u >> 1), nil
}
