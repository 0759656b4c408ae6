// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audio

import (
	"fmt"
	"io"
	"math/bits"

	"github.com/bureau-foundation/dataview/lib/dataset"
)

// Shorten stream constants.
const (
	shortenMagic = "ajkg"

	defaultBlockSize = 256
	maxBlockSize     = 65535
	maxChannels      = 8
	minWrap          = 3
	maxPredictor     = 64

	typeSize      = 4
	channelSize   = 0
	lpcOrderSize  = 2
	energySize    = 3
	bitshiftSize  = 2
	skipSize      = 1
	lpcQuant      = 5
	v2LPCQOffset  = 1 << lpcQuant
	commandSize   = 2
	verbatimSize  = 5
	verbatimBytes = 8
	ulongSize     = 2
)

// Shorten block commands.
const (
	cmdDiff0 = iota
	cmdDiff1
	cmdDiff2
	cmdDiff3
	cmdQuit
	cmdBlockSize
	cmdBitshift
	cmdQLPC
	cmdZero
	cmdVerbatim
)

// ShortenType is the sample type a Shorten stream declares.
type ShortenType uint32

// Shorten sample types. ULaw and ALaw streams carry linear samples
// that were quantized through the companding code.
const (
	ShortenS8    ShortenType = 1
	ShortenU8    ShortenType = 2
	ShortenS16HL ShortenType = 3
	ShortenU16HL ShortenType = 4
	ShortenS16LH ShortenType = 5
	ShortenU16LH ShortenType = 6
	ShortenULaw  ShortenType = 7
	ShortenALaw  ShortenType = 10
)

// Format describes a decoded Shorten stream.
type Format struct {
	Version  int
	Type     ShortenType
	Channels int
}

// fixedCoefficients are the DIFF1..DIFF3 polynomial predictors.
var fixedCoefficients = [4][3]int32{
	{0, 0, 0},
	{1, 0, 0},
	{2, -1, 0},
	{3, -3, 1},
}

// shortenDecoder holds per-stream state.
type shortenDecoder struct {
	reader bitReader
	format Format

	blockSize  int
	nmean      int
	wrap       int
	bitshift   uint32
	lpcqOffset int32

	// history[c] holds wrap samples of history followed by the
	// current block.
	history [][]int32
	offsets [][]int32
	coeffs  []int32
}

// DecodeShorten decodes a Shorten stream to interleaved 16-bit PCM. A
// positive limit stops decoding once that many samples (all channels)
// have been produced.
func DecodeShorten(r io.Reader, limit int) ([]int16, Format, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, Format{}, fmt.Errorf("reading shorten stream: %w", err)
	}
	decoder := &shortenDecoder{reader: bitReader{data: data}}
	if err := decoder.readHeader(); err != nil {
		return nil, Format{}, decoder.malformed("reading header", err)
	}
	samples, err := decoder.decode(limit)
	if err != nil {
		return nil, decoder.format, err
	}
	return samples, decoder.format, nil
}

func (d *shortenDecoder) malformed(op string, err error) error {
	return dataset.Malformed("shorten", int64(d.reader.position/8), op, "%v", err)
}

// ulong reads a header or block size field. Streams after version 0
// prefix every such field with its own Rice parameter.
func (d *shortenDecoder) ulong(k uint) (uint32, error) {
	if d.format.Version > 0 {
		width, err := d.reader.unsigned(ulongSize)
		if err != nil {
			return 0, err
		}
		if width > 31 {
			return 0, fmt.Errorf("field width %d out of range", width)
		}
		k = uint(width)
	}
	return d.reader.unsigned(k)
}

func (d *shortenDecoder) readHeader() error {
	magic, err := d.reader.bits(32)
	if err != nil {
		return err
	}
	if magic != uint32(shortenMagic[0])<<24|uint32(shortenMagic[1])<<16|uint32(shortenMagic[2])<<8|uint32(shortenMagic[3]) {
		return fmt.Errorf("missing %q magic", shortenMagic)
	}
	version, err := d.reader.bits(8)
	if err != nil {
		return err
	}
	if version > 3 {
		return fmt.Errorf("unsupported version %d", version)
	}
	d.format.Version = int(version)

	fileType, err := d.ulong(typeSize)
	if err != nil {
		return err
	}
	d.format.Type = ShortenType(fileType)
	switch d.format.Type {
	case ShortenS8, ShortenU8, ShortenS16HL, ShortenU16HL, ShortenS16LH, ShortenU16LH, ShortenULaw, ShortenALaw:
	default:
		return fmt.Errorf("unsupported sample type %d", fileType)
	}

	channels, err := d.ulong(channelSize)
	if err != nil {
		return err
	}
	if channels == 0 || channels > maxChannels {
		return fmt.Errorf("channel count %d out of range", channels)
	}
	d.format.Channels = int(channels)

	d.blockSize = defaultBlockSize
	maxLPC := uint32(0)
	if d.format.Version > 0 {
		blockSize, err := d.ulong(uint(bits.Len(defaultBlockSize) - 1))
		if err != nil {
			return err
		}
		if blockSize == 0 || blockSize > maxBlockSize {
			return fmt.Errorf("block size %d out of range", blockSize)
		}
		d.blockSize = int(blockSize)

		if maxLPC, err = d.ulong(lpcOrderSize); err != nil {
			return err
		}
		if maxLPC > maxPredictor {
			return fmt.Errorf("predictor order %d out of range", maxLPC)
		}
		nmean, err := d.ulong(0)
		if err != nil {
			return err
		}
		if nmean > 32 {
			return fmt.Errorf("mean window %d out of range", nmean)
		}
		d.nmean = int(nmean)

		skip, err := d.ulong(skipSize)
		if err != nil {
			return err
		}
		for range skip {
			if _, err := d.reader.bits(8); err != nil {
				return err
			}
		}
	}
	d.wrap = max(minWrap, int(maxLPC))
	if d.format.Version > 1 {
		d.lpcqOffset = v2LPCQOffset
	}

	var mean int32
	switch d.format.Type {
	case ShortenU8:
		mean = 0x80
	case ShortenU16HL, ShortenU16LH:
		mean = 0x8000
	}
	d.history = make([][]int32, d.format.Channels)
	d.offsets = make([][]int32, d.format.Channels)
	for c := range d.format.Channels {
		d.history[c] = make([]int32, d.wrap+d.blockSize)
		d.offsets[c] = make([]int32, max(1, d.nmean))
		for i := range d.offsets[c] {
			d.offsets[c][i] = mean
		}
	}
	d.coeffs = make([]int32, d.wrap)
	return nil
}

func (d *shortenDecoder) decode(limit int) ([]int16, error) {
	var output []int16
	channel := 0
	for {
		if limit > 0 && len(output) >= limit {
			return output[:limit], nil
		}
		command, err := d.reader.unsigned(commandSize)
		if err != nil {
			return nil, d.malformed("reading command", err)
		}
		switch command {
		case cmdQuit:
			if limit > 0 && len(output) > limit {
				output = output[:limit]
			}
			return output, nil

		case cmdVerbatim:
			length, err := d.reader.unsigned(verbatimSize)
			if err != nil {
				return nil, d.malformed("reading verbatim block", err)
			}
			for range length {
				if _, err := d.reader.unsigned(verbatimBytes); err != nil {
					return nil, d.malformed("reading verbatim block", err)
				}
			}

		case cmdBitshift:
			shift, err := d.reader.unsigned(bitshiftSize)
			if err != nil {
				return nil, d.malformed("reading bitshift", err)
			}
			if shift > 32 {
				return nil, d.malformed("reading bitshift", fmt.Errorf("shift %d out of range", shift))
			}
			d.bitshift = shift

		case cmdBlockSize:
			size, err := d.ulong(uint(bits.Len(uint(d.blockSize)) - 1))
			if err != nil {
				return nil, d.malformed("reading block size", err)
			}
			if size == 0 || int(size) > d.blockSize {
				return nil, d.malformed("reading block size", fmt.Errorf("block size %d (current %d) not supported", size, d.blockSize))
			}
			d.blockSize = int(size)

		case cmdDiff0, cmdDiff1, cmdDiff2, cmdDiff3, cmdQLPC, cmdZero:
			if err := d.decodeBlock(int(command), channel); err != nil {
				return nil, err
			}
			channel++
			if channel == d.format.Channels {
				channel = 0
				output = d.appendBlock(output)
			}

		default:
			return nil, d.malformed("reading command", fmt.Errorf("unknown command %d", command))
		}
	}
}

func (d *shortenDecoder) decodeBlock(command, channel int) error {
	residualSize := uint32(0)
	if command != cmdZero {
		size, err := d.reader.unsigned(energySize)
		if err != nil {
			return d.malformed("reading residual size", err)
		}
		if d.format.Version == 0 {
			size--
		}
		if size > 30 {
			return d.malformed("reading residual size", fmt.Errorf("residual size %d out of range", int32(size)))
		}
		residualSize = size
	}

	coffset := d.meanOffset(channel)
	buffer := d.history[channel]
	block := buffer[d.wrap : d.wrap+d.blockSize]

	if command == cmdZero {
		clear(block)
	} else if err := d.predict(command, buffer, uint(residualSize), coffset); err != nil {
		return err
	}

	if d.nmean > 0 {
		sum := int64(0)
		if d.format.Version >= 2 {
			sum = int64(d.blockSize / 2)
		}
		for _, sample := range block {
			sum += int64(sample)
		}
		window := d.offsets[channel]
		copy(window, window[1:])
		mean := sum / int64(d.blockSize)
		if d.format.Version >= 2 {
			if d.bitshift == 32 {
				mean = 0
			} else {
				mean <<= d.bitshift
			}
		}
		window[d.nmean-1] = int32(mean)
	}

	// The last wrap samples become history for the next block before
	// the bitshift is applied.
	copy(buffer[:d.wrap], buffer[d.blockSize:d.blockSize+d.wrap])
	d.applyBitshift(block)
	return nil
}

func (d *shortenDecoder) meanOffset(channel int) int32 {
	window := d.offsets[channel]
	if d.nmean == 0 {
		return window[0]
	}
	sum := int64(0)
	if d.format.Version >= 2 {
		sum = int64(d.nmean / 2)
	}
	for _, v := range window[:d.nmean] {
		sum += int64(v)
	}
	offset := int32(sum / int64(d.nmean))
	if d.format.Version >= 2 && d.bitshift != 0 {
		offset = offset >> (d.bitshift - 1) >> 1
	}
	return offset
}

// predict decodes one block of residuals into buffer[wrap:], using the
// samples before it as history.
func (d *shortenDecoder) predict(command int, buffer []int32, residualSize uint, coffset int32) error {
	var coeffs []int32
	var qshift uint
	order := command
	if command == cmdQLPC {
		value, err := d.reader.unsigned(lpcOrderSize)
		if err != nil {
			return d.malformed("reading predictor order", err)
		}
		if int(value) > d.wrap {
			return d.malformed("reading predictor order", fmt.Errorf("order %d exceeds history %d", value, d.wrap))
		}
		order = int(value)
		for i := range order {
			if d.coeffs[i], err = d.reader.signed(lpcQuant); err != nil {
				return d.malformed("reading predictor", err)
			}
		}
		coeffs = d.coeffs[:order]
		qshift = lpcQuant
	} else {
		coeffs = fixedCoefficients[order][:order]
	}

	w := d.wrap
	if command == cmdQLPC && coffset != 0 {
		for i := w - order; i < w; i++ {
			buffer[i] -= coffset
		}
	}

	initial := coffset
	if order > 0 {
		initial = 0
		if command == cmdQLPC {
			initial = d.lpcqOffset
		}
	}
	for i := range d.blockSize {
		sum := initial
		for j, coefficient := range coeffs {
			sum += coefficient * buffer[w+i-j-1]
		}
		residual, err := d.reader.signed(residualSize)
		if err != nil {
			return d.malformed("reading residual", err)
		}
		buffer[w+i] = residual + sum>>qshift
	}

	if command == cmdQLPC && coffset != 0 {
		for i := w; i < w+d.blockSize; i++ {
			buffer[i] += coffset
		}
	}
	return nil
}

func (d *shortenDecoder) applyBitshift(block []int32) {
	switch {
	case d.bitshift == 32:
		clear(block)
	case d.bitshift != 0:
		for i := range block {
			block[i] <<= d.bitshift
		}
	}
}

// appendBlock interleaves the current block of every channel into
// output as 16-bit PCM.
func (d *shortenDecoder) appendBlock(output []int16) []int16 {
	for i := range d.blockSize {
		for c := range d.format.Channels {
			output = append(output, d.toPCM(d.history[c][d.wrap+i]))
		}
	}
	return output
}

func (d *shortenDecoder) toPCM(sample int32) int16 {
	switch d.format.Type {
	case ShortenS8:
		return clip16(int64(sample) << 8)
	case ShortenU8:
		return clip16((int64(sample) - 0x80) << 8)
	case ShortenU16HL, ShortenU16LH:
		return clip16(int64(sample) - 0x8000)
	case ShortenULaw:
		return ULawToLinear(linearToULaw(clip16(int64(sample) << 3)))
	case ShortenALaw:
		return ALawToLinear(linearToALaw(clip16(int64(sample) << 3)))
	default:
		return clip16(int64(sample))
	}
}
