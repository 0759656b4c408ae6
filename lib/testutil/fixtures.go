// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// WriteFile writes data to dir/name, creating parent directories, and
// returns the full path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

// Member is one archive fixture entry. Names ending in "/" are
// directories.
type Member struct {
	Name string
	Data []byte
}

// fixtureTime keeps archive bytes stable across runs.
var fixtureTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// BuildTar returns a ustar archive holding members in order.
func BuildTar(t testing.TB, members ...Member) []byte {
	t.Helper()
	var buffer bytes.Buffer
	writer := tar.NewWriter(&buffer)
	for _, member := range members {
		header := &tar.Header{
			Name:    member.Name,
			Mode:    0o644,
			Size:    int64(len(member.Data)),
			ModTime: fixtureTime,
			Format:  tar.FormatUSTAR,
		}
		if strings.HasSuffix(member.Name, "/") {
			header.Typeflag = tar.TypeDir
			header.Mode = 0o755
			header.Size = 0
		}
		if err := writer.WriteHeader(header); err != nil {
			t.Fatalf("tar header %s: %v", member.Name, err)
		}
		if header.Size > 0 {
			if _, err := writer.Write(member.Data); err != nil {
				t.Fatalf("tar data %s: %v", member.Name, err)
			}
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing tar: %v", err)
	}
	return buffer.Bytes()
}

// BuildChunkShard encodes items in the MDS/LitData shard layout: a u32
// item count, n+1 u32 offsets, then each item as a u32 size per
// variable column followed by the column bytes. fixed holds each
// column's fixed size, or -1 for a variable-size column. Fixed-size
// payloads must already have that length.
func BuildChunkShard(t testing.TB, fixed []int64, items ...[][]byte) []byte {
	t.Helper()
	var body bytes.Buffer
	offsets := make([]uint32, 0, len(items)+1)
	start := uint32(4 + 4*(len(items)+1))
	for i, fields := range items {
		if len(fields) != len(fixed) {
			t.Fatalf("item %d has %d fields, want %d", i, len(fields), len(fixed))
		}
		offsets = append(offsets, start+uint32(body.Len()))
		for c, field := range fields {
			if fixed[c] < 0 {
				body.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(field))))
			} else if int64(len(field)) != fixed[c] {
				t.Fatalf("item %d column %d: %d bytes, fixed size is %d", i, c, len(field), fixed[c])
			}
		}
		for _, field := range fields {
			body.Write(field)
		}
	}
	offsets = append(offsets, start+uint32(body.Len()))

	shard := binary.LittleEndian.AppendUint32(nil, uint32(len(items)))
	for _, offset := range offsets {
		shard = binary.LittleEndian.AppendUint32(shard, offset)
	}
	return append(shard, body.Bytes()...)
}

// BuildZip returns a ZIP archive holding members in order. Stored
// selects method 0 instead of deflate.
func BuildZip(t testing.TB, stored bool, members ...Member) []byte {
	t.Helper()
	var buffer bytes.Buffer
	writer := zip.NewWriter(&buffer)
	method := zip.Deflate
	if stored {
		method = zip.Store
	}
	for _, member := range members {
		header := &zip.FileHeader{Name: member.Name, Method: method, Modified: fixtureTime}
		if strings.HasSuffix(member.Name, "/") {
			header.Method = zip.Store
		}
		entry, err := writer.CreateHeader(header)
		if err != nil {
			t.Fatalf("zip header %s: %v", member.Name, err)
		}
		if _, err := entry.Write(member.Data); err != nil {
			t.Fatalf("zip data %s: %v", member.Name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buffer.Bytes()
}

// RangeServerOptions configures RangeServer.
type RangeServerOptions struct {
	// IgnoreRange makes the server answer every request with 200 and
	// the full body.
	IgnoreRange bool

	// Token, when set, is the bearer token every request must carry.
	Token string

	// Status, when non-zero, is returned for every request.
	Status int
}

// Ranged is a test HTTP server for one object.
type Ranged struct {
	*httptest.Server

	requests atomic.Int64

	mu     sync.Mutex
	ranges []string
}

// Requests returns how many requests the server has answered.
func (r *Ranged) Requests() int64 { return r.requests.Load() }

// Ranges returns the Range header of every request, in order.
func (r *Ranged) Ranges() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ranges...)
}

// RangeServer serves data at every path with http.ServeContent, which
// honors single byte ranges and suffix ranges. The server is closed
// when the test completes.
func RangeServer(t testing.TB, data []byte, options RangeServerOptions) *Ranged {
	t.Helper()
	ranged := &Ranged{}
	ranged.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ranged.requests.Add(1)
		ranged.mu.Lock()
		ranged.ranges = append(ranged.ranges, r.Header.Get("Range"))
		ranged.mu.Unlock()

		if options.Token != "" && r.Header.Get("Authorization") != "Bearer "+options.Token {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		if options.Status != 0 {
			http.Error(w, http.StatusText(options.Status), options.Status)
			return
		}
		if options.IgnoreRange {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}
		http.ServeContent(w, r, "object", fixtureTime, bytes.NewReader(data))
	}))
	t.Cleanup(ranged.Close)
	return ranged
}

// Objects is a test HTTP server holding several objects by path.
type Objects struct {
	*httptest.Server

	mu      sync.Mutex
	objects map[string][]byte
	hits    map[string]int
}

// ObjectServer serves objects set with Set at their paths, with the
// same range handling as RangeServer. Unknown paths are 404. The
// server is closed when the test completes.
func ObjectServer(t testing.TB) *Objects {
	t.Helper()
	objects := &Objects{objects: make(map[string][]byte), hits: make(map[string]int)}
	objects.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		objects.mu.Lock()
		data, ok := objects.objects[r.URL.Path]
		objects.hits[r.URL.Path]++
		objects.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, "object", fixtureTime, bytes.NewReader(data))
	}))
	t.Cleanup(objects.Close)
	return objects
}

// Set stores data at path and returns its URL.
func (o *Objects) Set(path string, data []byte) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[path] = data
	return o.URL + path
}

// Hits returns how many requests path has received.
func (o *Objects) Hits(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}
