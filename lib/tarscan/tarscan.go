// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tarscan walks tar headers and records the absolute offset of
// every member, which archive/tar does not expose. Knowing where each
// header and payload starts is what lets a scan stop, hand out a
// cursor, and later resume by seeking instead of rereading.
//
// The scanner understands ustar name prefixes, GNU long names, PAX
// path and size records, and base-256 sizes. It never buffers payloads: when the
// underlying reader implements [Skipper] (a ranged remote reader, a
// seekable file) skipped payloads are not even read.
package tarscan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bureau-foundation/dataview/lib/dataset"
)

// BlockSize is the tar record unit.
const BlockSize = 512

// MaxMetadataSize bounds GNU long-name and PAX extension payloads.
const MaxMetadataSize = 1 << 20

// Type flags the scanner distinguishes.
const (
	TypeRegular   byte = '0'
	TypeRegularV7 byte = 0
	TypeDir       byte = '5'
	typeLongName  byte = 'L'
	typeLongLink  byte = 'K'
	typePAX       byte = 'x'
	typePAXGlobal byte = 'g'
	typeContig    byte = '7'
)

// Member is one archive entry with its position in the stream.
type Member struct {
	Name string
	Size int64
	Type byte

	// HeaderOffset is where the member's own header block starts. For
	// members preceded by long-name or PAX blocks, it is the first of
	// those blocks, so resuming there replays them.
	HeaderOffset int64

	// DataOffset is where the payload starts.
	DataOffset int64
}

// Regular reports whether the member carries file data.
func (m Member) Regular() bool {
	return m.Type == TypeRegular || m.Type == TypeRegularV7 || m.Type == typeContig
}

// End returns the offset just past the member's padded payload, which
// is where the next header starts.
func (m Member) End() int64 {
	return m.DataOffset + padded(m.Size)
}

func padded(size int64) int64 {
	return (size + BlockSize - 1) / BlockSize * BlockSize
}

// CleanName canonicalizes a member path: surrounding whitespace
// trimmed, one leading "./" and any leading "/" removed, and
// backslashes turned into slashes.
func CleanName(name string) string {
	cleaned := strings.TrimSpace(name)
	cleaned = strings.TrimPrefix(cleaned, "./")
	cleaned = strings.TrimLeft(cleaned, "/")
	return strings.ReplaceAll(cleaned, "\\", "/")
}

// Skipper is implemented by readers that can advance without reading.
type Skipper interface {
	Skip(n int64) error
}

// Scanner reads tar headers from a stream positioned at a header
// boundary.
type Scanner struct {
	reader io.Reader
	name   string

	// offset is the absolute position of the next unread byte.
	offset int64

	// remaining is the unread part of the current member's padded
	// payload.
	remaining int64
	unpadded  int64

	done bool
}

// NewScanner returns a scanner reading r, whose first byte sits at
// absolute offset. name labels errors.
func NewScanner(r io.Reader, offset int64, name string) *Scanner {
	return &Scanner{reader: r, offset: offset, name: name}
}

// Offset returns the absolute position at which the next header will
// be read once the current member's payload is skipped.
func (s *Scanner) Offset() int64 {
	return s.offset + s.remaining
}

// Next returns the next member, skipping whatever is left of the
// previous one. It returns io.EOF at the end of the archive.
func (s *Scanner) Next() (Member, error) {
	if s.done {
		return Member{}, io.EOF
	}
	if err := s.skipRemaining(); err != nil {
		return Member{}, err
	}

	var longName, paxPath string
	paxSize := int64(-1)
	start := int64(-1)
	for {
		headerOffset := s.offset
		block, err := s.readBlock()
		if err != nil {
			return Member{}, err
		}
		if isZero(block) {
			s.done = true
			return Member{}, io.EOF
		}
		if err := verifyChecksum(block); err != nil {
			return Member{}, s.malformed(headerOffset, "reading header", err)
		}
		if start < 0 {
			start = headerOffset
		}

		size, err := parseSize(block[124:136])
		if err != nil {
			return Member{}, s.malformed(headerOffset+124, "reading size", err)
		}
		typeFlag := block[156]

		switch typeFlag {
		case typeLongName, typeLongLink, typePAX, typePAXGlobal:
			if size > MaxMetadataSize {
				return Member{}, s.malformed(headerOffset, "reading metadata",
					fmt.Errorf("%c block of %d bytes exceeds %d", typeFlag, size, MaxMetadataSize))
			}
			data, err := s.readMetadata(size)
			if err != nil {
				return Member{}, err
			}
			switch typeFlag {
			case typeLongName:
				longName = cString(data)
			case typePAX:
				if path, ok := paxRecord(data, "path"); ok {
					paxPath = path
				}
				if text, ok := paxRecord(data, "size"); ok {
					value, err := strconv.ParseInt(text, 10, 64)
					if err != nil || value < 0 {
						return Member{}, s.malformed(headerOffset, "reading metadata",
							fmt.Errorf("invalid PAX size %q", text))
					}
					paxSize = value
				}
			}
			continue
		}

		name := ustarName(block)
		if longName != "" {
			name = longName
		}
		if paxPath != "" {
			name = paxPath
		}
		if paxSize >= 0 {
			size = paxSize
		}
		if typeFlag == TypeDir || strings.HasSuffix(name, "/") {
			size = 0
		}
		member := Member{
			Name:         name,
			Size:         size,
			Type:         typeFlag,
			HeaderOffset: start,
			DataOffset:   s.offset,
		}
		s.unpadded = size
		s.remaining = padded(size)
		if typeFlag == TypeDir {
			s.remaining = 0
		}
		return member, nil
	}
}

// ReadPayload reads up to limit bytes of the current member's payload.
// The rest is skipped by the next call to Next.
func (s *Scanner) ReadPayload(limit int64) ([]byte, error) {
	n := min(limit, s.unpadded)
	if n <= 0 {
		return []byte{}, nil
	}
	buffer := make([]byte, n)
	if _, err := io.ReadFull(s.reader, buffer); err != nil {
		return nil, s.malformed(s.offset, "reading payload", truncated(err))
	}
	s.offset += n
	s.remaining -= n
	s.unpadded -= n
	return buffer, nil
}

func (s *Scanner) skipRemaining() error {
	if s.remaining == 0 {
		return nil
	}
	n := s.remaining
	if skipper, ok := s.reader.(Skipper); ok {
		if err := skipper.Skip(n); err != nil {
			return s.malformed(s.offset, "skipping payload", truncated(err))
		}
	} else if _, err := io.CopyN(io.Discard, s.reader, n); err != nil {
		return s.malformed(s.offset, "skipping payload", truncated(err))
	}
	s.offset += n
	s.remaining = 0
	s.unpadded = 0
	return nil
}

// readBlock returns io.EOF when the stream ends exactly at a block
// boundary, which some writers produce instead of zero blocks.
func (s *Scanner) readBlock() ([]byte, error) {
	block := make([]byte, BlockSize)
	n, err := io.ReadFull(s.reader, block)
	s.offset += int64(n)
	switch {
	case err == nil:
		return block, nil
	case errors.Is(err, io.EOF):
		s.done = true
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, s.malformed(s.offset-int64(n), "reading header", fmt.Errorf("partial block of %d bytes", n))
	default:
		return nil, fmt.Errorf("%s: reading tar header at byte %d: %w", s.name, s.offset, err)
	}
}

func (s *Scanner) readMetadata(size int64) ([]byte, error) {
	data := make([]byte, padded(size))
	if _, err := io.ReadFull(s.reader, data); err != nil {
		return nil, s.malformed(s.offset, "reading metadata", truncated(err))
	}
	s.offset += int64(len(data))
	return data[:size], nil
}

func (s *Scanner) malformed(offset int64, op string, err error) error {
	return dataset.Malformed(s.name, offset, op, "%v", err)
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func isZero(block []byte) bool {
	for _, b := range block {
		if b != 0 {
			return false
		}
	}
	return true
}

// verifyChecksum accepts both the unsigned sum and the signed sum some
// historic writers used.
func verifyChecksum(block []byte) error {
	want, err := parseOctal(block[148:156])
	if err != nil {
		return fmt.Errorf("checksum field: %w", err)
	}
	var unsigned, signed int64
	for i, b := range block {
		if i >= 148 && i < 156 {
			b = ' '
		}
		unsigned += int64(b)
		signed += int64(int8(b))
	}
	if want != unsigned && want != signed {
		return fmt.Errorf("checksum mismatch (header says %d, computed %d)", want, unsigned)
	}
	return nil
}

func parseOctal(field []byte) (int64, error) {
	text := strings.Trim(string(field), " \x00")
	if text == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(text, 8, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid octal %q", text)
	}
	return value, nil
}

// parseSize accepts octal and the GNU base-256 form (high bit of the
// first byte set).
func parseSize(field []byte) (int64, error) {
	if len(field) > 0 && field[0]&0x80 != 0 {
		if field[0]&0x40 != 0 {
			return 0, errors.New("negative base-256 size")
		}
		value := int64(field[0] & 0x3f)
		for _, b := range field[1:] {
			if value > (1<<55)-1 {
				return 0, errors.New("base-256 size overflows")
			}
			value = value<<8 | int64(b)
		}
		return value, nil
	}
	return parseOctal(field)
}

func cString(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return string(data)
}

func ustarName(block []byte) string {
	name := cString(block[0:100])
	if string(block[257:263]) == "ustar\x00" {
		if prefix := cString(block[345:500]); prefix != "" {
			return prefix + "/" + name
		}
	}
	return name
}

// paxRecord finds key in "length key=value\n" records.
func paxRecord(data []byte, key string) (string, bool) {
	for len(data) > 0 {
		space := bytes.IndexByte(data, ' ')
		if space <= 0 {
			return "", false
		}
		length, err := strconv.Atoi(string(data[:space]))
		if err != nil || length <= space || length > len(data) {
			return "", false
		}
		record := strings.TrimSuffix(string(data[space+1:length]), "\n")
		data = data[length:]
		k, v, ok := strings.Cut(record, "=")
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}
