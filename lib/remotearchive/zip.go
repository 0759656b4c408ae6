// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotearchive

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/flate"

	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/rangeio"
)

// ZIP record layout.
const (
	eocdSignature         = 0x06054b50
	eocdSize              = 22
	zip64LocatorSignature = 0x07064b50
	zip64LocatorSize      = 20
	zip64EOCDSignature    = 0x06064b50
	zip64EOCDSize         = 56
	centralSignature      = 0x02014b50
	centralHeaderSize     = 46
	localSignature        = 0x04034b50
	localHeaderSize       = 30
	zip64ExtraID          = 0x0001
	maxCommentLength      = 0xffff
	flagEncrypted         = 0x0001
)

// Compression methods.
const (
	methodStore   uint16 = 0
	methodDeflate uint16 = 8
)

const (
	// TailBytes is the first suffix read, which in practice holds the
	// end-of-central-directory record and usually the whole central
	// directory of small archives.
	TailBytes = 64 << 10

	// MaxCentralDirectory bounds the central directory read.
	MaxCentralDirectory = 64 << 20

	// localSlack is read past the local header's known part so the
	// local extra field (which may differ from the central one) and
	// the payload arrive in the same request.
	localSlack = 1 << 10

	// streamWindow is the window for partial reads of compressed
	// entries.
	streamWindow = 64 << 10
)

// Zip is the central directory of a remote ZIP archive. Entries are
// fetched independently with ranged reads. Safe for concurrent use.
type Zip struct {
	fetcher rangeio.Fetcher
	name    string
	size    int64
	entries []dataset.ArchiveEntry

	// files indexes the non-directory entries in directory order.
	files []int
}

// OpenZip reads the central directory of the archive behind f. It
// costs one suffix read, plus one ranged read when the central
// directory is not inside the tail. name labels errors.
func OpenZip(ctx context.Context, f rangeio.Fetcher, name string) (*Zip, error) {
	tail, tailStart, err := rangeio.Tail(ctx, f, TailBytes)
	if err != nil {
		return nil, err
	}
	eocd := findEOCD(tail)
	if eocd < 0 && tailStart > 0 {
		// A long archive comment can push the record out of the first
		// window. Its maximum distance from the end is fixed.
		tail, tailStart, err = rangeio.Tail(ctx, f, eocdSize+maxCommentLength+zip64LocatorSize)
		if err != nil {
			return nil, err
		}
		eocd = findEOCD(tail)
	}
	if eocd < 0 {
		return nil, dataset.Malformed(name, -1, "locating end of central directory", "no end-of-central-directory record")
	}
	size := tailStart + int64(len(tail))

	directory, err := readDirectoryInfo(ctx, f, name, tail, tailStart, eocd)
	if err != nil {
		return nil, err
	}
	if directory.size > MaxCentralDirectory {
		return nil, dataset.Unsupported(name, "central directory is %d bytes, larger than %d", directory.size, MaxCentralDirectory)
	}
	if directory.offset < 0 || directory.offset+directory.size > size {
		return nil, dataset.Malformed(name, directory.offset, "reading central directory",
			"directory of %d bytes does not fit in the %d byte archive", directory.size, size)
	}

	var central []byte
	switch {
	case directory.size == 0:
		central = nil
	case directory.offset >= tailStart && directory.offset+directory.size <= tailStart+int64(len(tail)):
		start := directory.offset - tailStart
		central = tail[start : start+directory.size]
	default:
		central, err = f.ReadAt(ctx, directory.offset, directory.size)
		if err != nil {
			return nil, err
		}
	}

	entries, err := parseCentral(name, central, directory.offset, directory.count)
	if err != nil {
		return nil, err
	}
	z := &Zip{fetcher: f, name: name, size: size, entries: entries}
	for i, entry := range entries {
		if !entry.IsDir {
			z.files = append(z.files, i)
		}
	}
	return z, nil
}

type directoryInfo struct {
	count  int64
	size   int64
	offset int64
}

// findEOCD returns the position of the end-of-central-directory record
// in tail, scanning backward for a signature whose comment ends
// exactly at the end of the buffer.
func findEOCD(tail []byte) int {
	if len(tail) < eocdSize {
		return -1
	}
	lowest := max(len(tail)-eocdSize-maxCommentLength, 0)
	for i := len(tail) - eocdSize; i >= lowest; i-- {
		if binary.LittleEndian.Uint32(tail[i:]) != eocdSignature {
			continue
		}
		comment := int(binary.LittleEndian.Uint16(tail[i+20:]))
		if i+eocdSize+comment == len(tail) {
			return i
		}
	}
	return -1
}

func readDirectoryInfo(ctx context.Context, f rangeio.Fetcher, name string, tail []byte, tailStart int64, eocd int) (directoryInfo, error) {
	record := tail[eocd:]
	info := directoryInfo{
		count:  int64(binary.LittleEndian.Uint16(record[10:])),
		size:   int64(binary.LittleEndian.Uint32(record[12:])),
		offset: int64(binary.LittleEndian.Uint32(record[16:])),
	}
	if info.count != 0xffff && info.size != 0xffffffff && info.offset != 0xffffffff {
		return info, nil
	}

	eocdOffset := tailStart + int64(eocd)
	if eocdOffset < zip64LocatorSize {
		return directoryInfo{}, dataset.Malformed(name, eocdOffset, "reading zip64 locator", "locator would start before the archive")
	}
	locator, err := sliceOrRead(ctx, f, tail, tailStart, eocdOffset-zip64LocatorSize, zip64LocatorSize)
	if err != nil {
		return directoryInfo{}, err
	}
	if binary.LittleEndian.Uint32(locator) != zip64LocatorSignature {
		return directoryInfo{}, dataset.Malformed(name, eocdOffset-zip64LocatorSize, "reading zip64 locator", "missing zip64 locator")
	}
	recordOffset := int64(binary.LittleEndian.Uint64(locator[8:]))
	if recordOffset < 0 || recordOffset+zip64EOCDSize > eocdOffset {
		return directoryInfo{}, dataset.Malformed(name, recordOffset, "reading zip64 record", "record offset out of range")
	}
	record64, err := sliceOrRead(ctx, f, tail, tailStart, recordOffset, zip64EOCDSize)
	if err != nil {
		return directoryInfo{}, err
	}
	if binary.LittleEndian.Uint32(record64) != zip64EOCDSignature {
		return directoryInfo{}, dataset.Malformed(name, recordOffset, "reading zip64 record", "missing zip64 end-of-central-directory record")
	}
	return directoryInfo{
		count:  int64(binary.LittleEndian.Uint64(record64[32:])),
		size:   int64(binary.LittleEndian.Uint64(record64[40:])),
		offset: int64(binary.LittleEndian.Uint64(record64[48:])),
	}, nil
}

// sliceOrRead returns [offset, offset+length) from the tail buffer when
// it is covered, and reads it otherwise.
func sliceOrRead(ctx context.Context, f rangeio.Fetcher, tail []byte, tailStart, offset, length int64) ([]byte, error) {
	if offset >= tailStart && offset+length <= tailStart+int64(len(tail)) {
		start := offset - tailStart
		return tail[start : start+length], nil
	}
	return f.ReadAt(ctx, offset, length)
}

// parseCentral decodes the central directory entries. base is the
// directory's archive offset, for error positions.
func parseCentral(name string, central []byte, base, declared int64) ([]dataset.ArchiveEntry, error) {
	entries := make([]dataset.ArchiveEntry, 0, min(declared, int64(len(central)/centralHeaderSize)))
	position := 0
	for position < len(central) {
		at := base + int64(position)
		if len(central)-position < centralHeaderSize {
			return nil, dataset.Malformed(name, at, "reading central directory", "truncated entry header")
		}
		header := central[position:]
		if binary.LittleEndian.Uint32(header) != centralSignature {
			return nil, dataset.Malformed(name, at, "reading central directory", "bad entry signature %#08x", binary.LittleEndian.Uint32(header))
		}
		nameLength := int(binary.LittleEndian.Uint16(header[28:]))
		extraLength := int(binary.LittleEndian.Uint16(header[30:]))
		commentLength := int(binary.LittleEndian.Uint16(header[32:]))
		end := centralHeaderSize + nameLength + extraLength + commentLength
		if end > len(header) {
			return nil, dataset.Malformed(name, at, "reading central directory", "entry of %d bytes overruns the directory", end)
		}
		rawName := header[centralHeaderSize : centralHeaderSize+nameLength]
		extra := header[centralHeaderSize+nameLength : centralHeaderSize+nameLength+extraLength]

		entry := dataset.ArchiveEntry{
			Name:             entryName(rawName),
			Flags:            binary.LittleEndian.Uint16(header[8:]),
			Method:           binary.LittleEndian.Uint16(header[10:]),
			CRC32:            binary.LittleEndian.Uint32(header[16:]),
			CompressedSize:   int64(binary.LittleEndian.Uint32(header[20:])),
			UncompressedSize: int64(binary.LittleEndian.Uint32(header[24:])),
			HeaderOffset:     int64(binary.LittleEndian.Uint32(header[42:])),
			DataOffset:       -1,
		}
		entry.IsDir = strings.HasSuffix(entry.Name, "/")
		if err := applyZip64(&entry, extra); err != nil {
			return nil, dataset.Malformed(name, at, "reading zip64 extra field", "%s: %v", entry.Name, err)
		}
		entries = append(entries, entry)
		position += end
	}
	if declared != int64(len(entries)) {
		return nil, dataset.Malformed(name, base, "reading central directory",
			"directory holds %d entries, end record declares %d", len(entries), declared)
	}
	return entries, nil
}

func entryName(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	return string(bytes.ToValidUTF8(raw, []byte("\uFFFD")))
}

// applyZip64 replaces saturated 32-bit fields with their 64-bit values
// from the zip64 extra field, which lists only the saturated ones in
// fixed order.
func applyZip64(entry *dataset.ArchiveEntry, extra []byte) error {
	needUncompressed := entry.UncompressedSize == 0xffffffff
	needCompressed := entry.CompressedSize == 0xffffffff
	needOffset := entry.HeaderOffset == 0xffffffff
	if !needUncompressed && !needCompressed && !needOffset {
		return nil
	}
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra)
		size := int(binary.LittleEndian.Uint16(extra[2:]))
		if 4+size > len(extra) {
			break
		}
		if id != zip64ExtraID {
			extra = extra[4+size:]
			continue
		}
		field := extra[4 : 4+size]
		next := func() (int64, error) {
			if len(field) < 8 {
				return 0, errors.New("zip64 field too short")
			}
			value := int64(binary.LittleEndian.Uint64(field))
			field = field[8:]
			return value, nil
		}
		var err error
		if needUncompressed {
			if entry.UncompressedSize, err = next(); err != nil {
				return err
			}
		}
		if needCompressed {
			if entry.CompressedSize, err = next(); err != nil {
				return err
			}
		}
		if needOffset {
			if entry.HeaderOffset, err = next(); err != nil {
				return err
			}
		}
		return nil
	}
	return errors.New("saturated size or offset without a zip64 extra field")
}

// Name returns the label given to OpenZip.
func (z *Zip) Name() string { return z.name }

// Entries returns every central directory entry, directories included,
// in directory order.
func (z *Zip) Entries() []dataset.ArchiveEntry {
	return append([]dataset.ArchiveEntry(nil), z.entries...)
}

// Files returns the number of non-directory entries.
func (z *Zip) Files() int { return len(z.files) }

// File returns the index-th non-directory entry.
func (z *Zip) File(index int64) (dataset.ArchiveEntry, error) {
	if index < 0 || index >= int64(len(z.files)) {
		return dataset.ArchiveEntry{}, dataset.NotFound(z.name, "entry %d out of range (%d files)", index, len(z.files))
	}
	return z.entries[z.files[index]], nil
}

// Lookup returns the first entry named name, and its position among
// the non-directory entries.
func (z *Zip) Lookup(name string) (dataset.ArchiveEntry, int64, error) {
	wanted := strings.TrimSpace(name)
	for position, i := range z.files {
		if z.entries[i].Name == wanted {
			return z.entries[i], int64(position), nil
		}
	}
	return dataset.ArchiveEntry{}, -1, dataset.NotFound(z.name, "no entry %q", wanted)
}

// Open returns the whole uncompressed entry, verified against its
// CRC-32. Entries larger than maxBytes are unsupported.
func (z *Zip) Open(ctx context.Context, entry dataset.ArchiveEntry, maxBytes int64) ([]byte, error) {
	if err := z.readable(entry); err != nil {
		return nil, err
	}
	if maxBytes > 0 && entry.UncompressedSize > maxBytes {
		return nil, dataset.Unsupported(entry.Name, "entry is %d bytes, larger than the %d byte inline limit", entry.UncompressedSize, maxBytes)
	}
	compressed, dataOffset, err := z.readLocal(ctx, entry, entry.CompressedSize)
	if err != nil {
		return nil, err
	}
	var data []byte
	switch entry.Method {
	case methodStore:
		data = compressed
	case methodDeflate:
		data, err = inflate(bytes.NewReader(compressed), entry.UncompressedSize+1)
		if err != nil {
			return nil, dataset.Malformed(entry.Name, dataOffset, "inflating entry", "%v", err)
		}
	}
	if int64(len(data)) != entry.UncompressedSize {
		return nil, dataset.Malformed(entry.Name, dataOffset, "reading entry",
			"got %d bytes, central directory declares %d", len(data), entry.UncompressedSize)
	}
	if sum := crc32.ChecksumIEEE(data); sum != entry.CRC32 {
		return nil, dataset.Malformed(entry.Name, dataOffset, "verifying entry", "crc32 %08x, want %08x", sum, entry.CRC32)
	}
	return data, nil
}

// Peek returns up to limit bytes from the start of the uncompressed
// entry. Compressed entries are fetched in windows and inflation stops
// once limit bytes are produced.
func (z *Zip) Peek(ctx context.Context, entry dataset.ArchiveEntry, limit int64) ([]byte, error) {
	if err := z.readable(entry); err != nil {
		return nil, err
	}
	want := min(limit, entry.UncompressedSize)
	if want <= 0 {
		return []byte{}, nil
	}
	if entry.Method == methodStore {
		data, _, err := z.readLocal(ctx, entry, want)
		return data, err
	}

	// The first window arrives with the local header; the rest of the
	// compressed stream is only fetched as inflation needs it.
	first := min(entry.CompressedSize, streamWindow)
	head, dataOffset, err := z.readLocal(ctx, entry, first)
	if err != nil {
		return nil, err
	}
	var source io.Reader = bytes.NewReader(head)
	if rest := entry.CompressedSize - first; rest > 0 {
		source = io.MultiReader(source, rangeio.NewReader(ctx, z.fetcher, dataOffset+first, rest, streamWindow))
	}
	data, err := inflate(source, want)
	if err != nil {
		return nil, dataset.Malformed(entry.Name, dataOffset, "inflating entry", "%v", err)
	}
	return data, nil
}

func (z *Zip) readable(entry dataset.ArchiveEntry) error {
	if entry.IsDir {
		return dataset.NotFound(entry.Name, "entry is a directory")
	}
	if entry.Flags&flagEncrypted != 0 {
		return dataset.Unsupported(entry.Name, "entry is encrypted")
	}
	if entry.Method != methodStore && entry.Method != methodDeflate {
		return dataset.Unsupported(entry.Name, "compression method %d", entry.Method)
	}
	return nil
}

// readLocal reads the entry's local header and the first length bytes
// of its compressed data, in one request unless the local extra field
// is larger than the slack allows.
func (z *Zip) readLocal(ctx context.Context, entry dataset.ArchiveEntry, length int64) ([]byte, int64, error) {
	span := min(localHeaderSize+int64(len(entry.Name))+localSlack+length, z.size-entry.HeaderOffset)
	if span < localHeaderSize {
		return nil, 0, dataset.Malformed(entry.Name, entry.HeaderOffset, "reading local header", "header past end of archive")
	}
	block, err := z.fetcher.ReadAt(ctx, entry.HeaderOffset, span)
	if err != nil {
		return nil, 0, err
	}
	if binary.LittleEndian.Uint32(block) != localSignature {
		return nil, 0, dataset.Malformed(entry.Name, entry.HeaderOffset, "reading local header", "bad signature")
	}
	nameLength := int64(binary.LittleEndian.Uint16(block[26:]))
	extraLength := int64(binary.LittleEndian.Uint16(block[28:]))
	dataStart := localHeaderSize + nameLength + extraLength
	dataOffset := entry.HeaderOffset + dataStart
	if dataOffset+entry.CompressedSize > z.size {
		return nil, 0, dataset.Malformed(entry.Name, dataOffset, "reading entry",
			"%d bytes of data run past the end of the archive", entry.CompressedSize)
	}
	if dataStart+length <= int64(len(block)) {
		return block[dataStart : dataStart+length], dataOffset, nil
	}
	data, err := z.fetcher.ReadAt(ctx, dataOffset, length)
	if err != nil {
		return nil, 0, err
	}
	return data, dataOffset, nil
}

// inflate decompresses a raw deflate stream, stopping after limit
// output bytes.
func inflate(r io.Reader, limit int64) ([]byte, error) {
	reader := flate.NewReader(r)
	defer reader.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, io.LimitReader(reader, limit)); err != nil {
		return nil, fmt.Errorf("deflate stream: %w", err)
	}
	return out.Bytes(), nil
}
