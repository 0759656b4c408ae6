// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/dataview/lib/clock"
	"github.com/bureau-foundation/dataview/lib/compress"
	"github.com/bureau-foundation/dataview/lib/config"
	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	root := t.TempDir()
	cfg.Paths.Temp = filepath.Join(root, "open")
	cfg.Paths.Cache = filepath.Join(root, "cache")
	cfg.Remote.RequestsPerSecond = 0
	cfg.Remote.Timeout = 5 * time.Second
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	engine, err := New(Options{Config: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func int64Bytes(v int64) []byte {
	return binary.LittleEndian.AppendUint64(nil, uint64(v))
}

// writeMDS writes a one-shard MDS dataset of count items with an int
// id and a str caption.
func writeMDS(t *testing.T, dir string, count int) {
	t.Helper()
	items := make([][][]byte, count)
	for i := range items {
		items[i] = [][]byte{int64Bytes(int64(i)), []byte(fmt.Sprintf("caption number %d", i))}
	}
	shard := testutil.BuildChunkShard(t, []int64{8, -1}, items...)
	testutil.WriteFile(t, dir, "shard.00000.mds", shard)
	index, err := json.Marshal(map[string]any{
		"version": 2,
		"shards": []any{map[string]any{
			"column_encodings": []string{"int", "str"},
			"column_names":     []string{"id", "caption"},
			"column_sizes":     []any{8, nil},
			"compression":      nil,
			"format":           "mds",
			"hashes":           []string{},
			"raw_data":         map[string]any{"basename": "shard.00000.mds", "bytes": len(shard), "hashes": map[string]string{}},
			"samples":          count,
			"size_limit":       1 << 26,
			"version":          2,
			"zip_data":         nil,
		}},
	})
	if err != nil {
		t.Fatalf("marshal index: %v", err)
	}
	testutil.WriteFile(t, dir, "index.json", index)
}

func writeLitDataIndex(t *testing.T, dir string) {
	t.Helper()
	index, err := json.Marshal(map[string]any{
		"chunks": []any{map[string]any{"filename": "chunk-0-0.bin", "chunk_size": 0, "chunk_bytes": 0, "dim": nil}},
		"config": map[string]any{"compression": nil, "data_format": []string{"int"}, "data_spec": nil},
	})
	if err != nil {
		t.Fatalf("marshal index: %v", err)
	}
	testutil.WriteFile(t, dir, "index.json", index)
	testutil.WriteFile(t, dir, "chunk-0-0.bin", testutil.BuildChunkShard(t, []int64{8}))
}

// writeShards writes tar shards of samples with txt and cls members.
func writeShards(t *testing.T, dir string, shards, perShard int) {
	t.Helper()
	for s := range shards {
		var members []testutil.Member
		for i := range perShard {
			key := fmt.Sprintf("sample-%02d-%04d", s, i)
			members = append(members,
				testutil.Member{Name: key + ".txt", Data: []byte(fmt.Sprintf("text of %s", key))},
				testutil.Member{Name: key + ".cls", Data: []byte(strconv.Itoa(i % 5))},
			)
		}
		testutil.WriteFile(t, dir, fmt.Sprintf("shard-%03d.tar", s), testutil.BuildTar(t, members...))
	}
}

func TestDetect(t *testing.T) {
	root := t.TempDir()
	mds := filepath.Join(root, "mds")
	writeMDS(t, mds, 3)
	lit := filepath.Join(root, "lit")
	writeLitDataIndex(t, lit)
	web := filepath.Join(root, "web")
	writeShards(t, web, 2, 2)
	nested := filepath.Join(root, "nested")
	writeShards(t, filepath.Join(nested, "shards"), 1, 2)
	empty := filepath.Join(root, "empty")
	if err := os.MkdirAll(empty, 0o755); err != nil {
		t.Fatal(err)
	}
	notes := testutil.WriteFile(t, root, "notes.txt", []byte("hello"))

	tests := []struct {
		name     string
		location string
		kind     dataset.SourceKind
		format   string
		errKind  dataset.Kind
	}{
		{"mds directory", mds, dataset.SourceChunkedIndex, dataset.FormatMDS, dataset.KindUnknown},
		{"litdata directory", lit, dataset.SourceChunkedIndex, dataset.FormatLitData, dataset.KindUnknown},
		{"index file", filepath.Join(mds, "index.json"), dataset.SourceChunkedIndex, dataset.FormatMDS, dataset.KindUnknown},
		{"chunk file", filepath.Join(lit, "chunk-0-0.bin"), dataset.SourceChunkedFileList, dataset.FormatLitData, dataset.KindUnknown},
		{"mds shard file", filepath.Join(mds, "shard.00000.mds"), dataset.SourceChunkedFileList, dataset.FormatMDS, dataset.KindUnknown},
		{"tar directory", web, dataset.SourceStreamedArchiveDir, dataset.FormatWebDataset, dataset.KindUnknown},
		{"shards subdirectory", nested, dataset.SourceStreamedArchiveDir, dataset.FormatWebDataset, dataset.KindUnknown},
		{"tar file", filepath.Join(web, "shard-001.tar"), dataset.SourceStreamedArchiveDir, dataset.FormatWebDataset, dataset.KindUnknown},
		{"hub scheme", "hf://datasets/org/name", dataset.SourceRemoteCatalog, dataset.FormatDatasetsServer, dataset.KindUnknown},
		{"hub url", "https://huggingface.co/datasets/org/name/viewer", dataset.SourceRemoteCatalog, dataset.FormatDatasetsServer, dataset.KindUnknown},
		{"record url", "https://zenodo.org/records/12345", dataset.SourceRemoteRecord, dataset.FormatZenodo, dataset.KindUnknown},
		{"zip url", "https://example.com/data/bundle.zip", dataset.SourceRemoteRecord, dataset.FormatArchiveURL, dataset.KindUnknown},
		{"tar url", "https://example.com/data/bundle.tar?sig=1", dataset.SourceRemoteRecord, dataset.FormatArchiveURL, dataset.KindUnknown},
		{"compressed tar url", "https://example.com/data/bundle.tar.gz", "", "", dataset.KindUnsupported},
		{"plain url", "https://example.com/index.html", "", "", dataset.KindUnsupported},
		{"ftp url", "ftp://example.com/data.zip", "", "", dataset.KindUnsupported},
		{"record url without id", "https://zenodo.org/communities/x", "", "", dataset.KindNotFound},
		{"missing path", filepath.Join(root, "missing"), "", "", dataset.KindNotFound},
		{"empty location", "  ", "", "", dataset.KindNotFound},
		{"empty directory", empty, "", "", dataset.KindUnsupported},
		{"unrelated file", notes, "", "", dataset.KindUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, format, err := Detect(context.Background(), tt.location)
			if tt.errKind != dataset.KindUnknown {
				if got := dataset.KindOf(err); got != tt.errKind {
					t.Fatalf("got error kind %v (%v), want %v", got, err, tt.errKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if kind != tt.kind || format != tt.format {
				t.Errorf("got (%s, %s), want (%s, %s)", kind, format, tt.kind, tt.format)
			}
		})
	}
}

func TestSourceIDStable(t *testing.T) {
	dir := t.TempDir()
	writeShards(t, dir, 1, 1)
	first, err := describe(context.Background(), dir)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	second, err := describe(context.Background(), dir+string(filepath.Separator))
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("got ids %q and %q for the same directory", first.ID, second.ID)
	}
	other, err := describe(context.Background(), filepath.Join(dir, "shard-000.tar"))
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if other.ID == first.ID {
		t.Errorf("shard file and directory share id %q", first.ID)
	}
}

func TestOpenRequestOrdering(t *testing.T) {
	root := t.TempDir()
	first := filepath.Join(root, "first")
	second := filepath.Join(root, "second")
	writeShards(t, first, 1, 3)
	writeShards(t, second, 1, 3)
	engine := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	a, err := engine.Open(ctx, first, 1)
	if err != nil {
		t.Fatalf("Open(first, 1): %v", err)
	}
	again, err := engine.Open(ctx, first, 1)
	if err != nil {
		t.Fatalf("reopening with the same id: %v", err)
	}
	if again != a {
		t.Error("reopening with the same id returned a new source")
	}
	prepared, err := engine.MaterializeField(ctx, a, "shard-000.tar",
		dataset.ItemAddress{Index: 0}, dataset.FieldAddress{Name: "txt"})
	if err != nil {
		t.Fatalf("MaterializeField: %v", err)
	}
	earlier, err := engine.ListItemsPage(ctx, a, "shard-000.tar", PageRequest{Length: 1})
	if err != nil || earlier.Cursor == "" {
		t.Fatalf("ListItemsPage: cursor %q, err %v", earlier.Cursor, err)
	}

	b, err := engine.Open(ctx, second, 2)
	if err != nil {
		t.Fatalf("Open(second, 2): %v", err)
	}
	if b.RequestID != 2 {
		t.Errorf("got request id %d, want 2", b.RequestID)
	}
	if _, err := os.Stat(prepared.Path); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("temp file of the replaced source still exists (stat error %v)", err)
	}

	if _, err := engine.Open(ctx, first, 1); dataset.KindOf(err) != dataset.KindNotFound {
		t.Errorf("stale open: got %v, want not found", err)
	}
	if _, err := engine.Open(ctx, first, 2); dataset.KindOf(err) != dataset.KindNotFound {
		t.Errorf("reused id for another source: got %v, want not found", err)
	}
	reopened, err := engine.Open(ctx, first, 3)
	if err != nil {
		t.Fatalf("Open(first, 3): %v", err)
	}
	page, err := engine.ListItemsPage(ctx, reopened, "shard-000.tar", PageRequest{Length: 2})
	if err != nil {
		t.Fatalf("ListItemsPage: %v", err)
	}
	if page.RequestID != 3 {
		t.Errorf("got page request id %d, want 3", page.RequestID)
	}

	for name, src := range map[string]*dataset.Source{"other source": b, "reloaded source": reopened} {
		_, err := engine.ListItemsPage(ctx, src, "shard-000.tar", PageRequest{Cursor: earlier.Cursor})
		if got := dataset.KindOf(err); got != dataset.KindInvalidCursor {
			t.Errorf("%s: got %v (%v), want %v", name, got, err, dataset.KindInvalidCursor)
		}
	}
}

// agreement checks that peek and materialize agree on a field's size
// and extension, and that the materialized bytes start with the peek.
func agreement(t *testing.T, engine *Engine, src *dataset.Source, shard string, item dataset.ItemAddress, field dataset.FieldAddress) (dataset.FieldPreview, []byte) {
	t.Helper()
	ctx := context.Background()
	peek, err := engine.PeekField(ctx, src, shard, item, field)
	if err != nil {
		t.Fatalf("PeekField: %v", err)
	}
	prepared, err := engine.MaterializeField(ctx, src, shard, item, field)
	if err != nil {
		t.Fatalf("MaterializeField: %v", err)
	}
	if peek.Size != prepared.Size {
		t.Errorf("got peek size %d, materialized size %d", peek.Size, prepared.Size)
	}
	if peek.GuessedExt != prepared.Ext {
		t.Errorf("got peek ext %q, materialized ext %q", peek.GuessedExt, prepared.Ext)
	}
	if filepath.Ext(prepared.Path) != "."+prepared.Ext {
		t.Errorf("got path %s, want extension %q", prepared.Path, prepared.Ext)
	}
	if peek.RequestID != src.RequestID || prepared.RequestID != src.RequestID {
		t.Errorf("got request ids %d/%d, want %d", peek.RequestID, prepared.RequestID, src.RequestID)
	}
	data, err := os.ReadFile(prepared.Path)
	if err != nil {
		t.Fatalf("reading materialized file: %v", err)
	}
	if int64(len(data)) != prepared.Size {
		t.Errorf("got %d bytes on disk, want %d", len(data), prepared.Size)
	}
	return peek, data
}

func TestPeekMaterializeChunked(t *testing.T) {
	dir := t.TempDir()
	writeMDS(t, dir, 4)
	engine := newTestEngine(t, testConfig(t))
	src, err := engine.Open(context.Background(), dir, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	peek, data := agreement(t, engine, src, "shard.00000.mds",
		dataset.ItemAddress{Index: 2}, dataset.FieldAddress{Name: "caption"})
	if string(data) != "caption number 2" {
		t.Errorf("got %q, want %q", data, "caption number 2")
	}
	if peek.PreviewText == nil || *peek.PreviewText != "caption number 2" {
		t.Errorf("got preview %v, want the caption", peek.PreviewText)
	}
}

func TestPeekMaterializeStreamed(t *testing.T) {
	dir := t.TempDir()
	writeShards(t, dir, 1, 4)
	engine := newTestEngine(t, testConfig(t))
	src, err := engine.Open(context.Background(), dir, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, data := agreement(t, engine, src, "shard-000.tar",
		dataset.ItemAddress{Index: -1, Key: "sample-00-0003"}, dataset.FieldAddress{Name: "txt"})
	if string(data) != "text of sample-00-0003" {
		t.Errorf("got %q, want %q", data, "text of sample-00-0003")
	}
}

// sphereClip is a mono 16-bit little-endian PCM SPHERE file.
func sphereClip(samples []int16) []byte {
	header := fmt.Sprintf("NIST_1A\n   1024\nchannel_count -i 1\nsample_rate -i 8000\n"+
		"sample_n_bytes -i 2\nsample_byte_format -s2 01\nsample_coding -s3 pcm\n"+
		"sample_count -i %d\nend_head\n", len(samples))
	data := []byte(fmt.Sprintf("%-1024s", header))
	for _, sample := range samples {
		data = binary.LittleEndian.AppendUint16(data, uint16(sample))
	}
	return data
}

func TestPeekMaterializeSphere(t *testing.T) {
	dir := t.TempDir()
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = int16(i*331 - 16000)
	}
	clip := sphereClip(samples)
	testutil.WriteFile(t, dir, "shard-000.tar", testutil.BuildTar(t,
		testutil.Member{Name: "utt-0000.sph", Data: clip},
		testutil.Member{Name: "utt-0000.txt", Data: []byte("hello there")},
	))
	engine := newTestEngine(t, testConfig(t))
	ctx := context.Background()
	src, err := engine.Open(ctx, dir, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	item := dataset.ItemAddress{Index: 0}

	peek, data := agreement(t, engine, src, "shard-000.tar", item, dataset.FieldAddress{Name: "sph"})
	if peek.GuessedExt != "sph" || peek.Size != int64(len(clip)) {
		t.Errorf("got peek ext %q size %d, want sph and %d", peek.GuessedExt, peek.Size, len(clip))
	}
	if string(data) != string(clip) {
		t.Error("materialized SPHERE field differs from the archive member")
	}

	playable, err := engine.PrepareAudioPreview(ctx, src, "shard-000.tar", item, dataset.FieldAddress{Name: "sph"})
	if err != nil {
		t.Fatalf("PrepareAudioPreview: %v", err)
	}
	if playable.Ext != "wav" || playable.Size != 44+2*int64(len(samples)) || playable.RequestID != 1 {
		t.Errorf("got %+v, want a %d byte wav for request 1", playable, 44+2*len(samples))
	}
	wav, err := os.ReadFile(playable.Path)
	if err != nil || len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Errorf("audio preview is not a WAV file (%v)", err)
	}

	_, err = engine.PrepareAudioPreview(ctx, src, "shard-000.tar", item, dataset.FieldAddress{Name: "txt"})
	if dataset.KindOf(err) != dataset.KindUnsupported {
		t.Errorf("text field: got %v, want unsupported", err)
	}
}

func TestPeekMaterializeArchiveURL(t *testing.T) {
	objects := testutil.ObjectServer(t)
	archive := testutil.BuildZip(t, false,
		testutil.Member{Name: "notes/", Data: nil},
		testutil.Member{Name: "notes/readme.txt", Data: []byte("read me first")},
		testutil.Member{Name: "labels.json", Data: []byte(`{"a":1}`)},
	)
	location := objects.Set("/data/bundle.zip", archive)
	engine := newTestEngine(t, testConfig(t))
	ctx := context.Background()
	src, err := engine.Open(ctx, location, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	manifest, err := engine.LoadManifest(ctx, src)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(manifest.Shards) != 1 || manifest.Shards[0].Filename != "bundle.zip" {
		t.Fatalf("got shards %+v, want bundle.zip", manifest.Shards)
	}
	if manifest.RequestID != 1 {
		t.Errorf("got manifest request id %d, want 1", manifest.RequestID)
	}

	_, data := agreement(t, engine, src, "bundle.zip",
		dataset.ItemAddress{Index: -1, Key: "notes/readme.txt"}, dataset.FieldAddress{Name: "txt"})
	if string(data) != "read me first" {
		t.Errorf("got %q, want %q", data, "read me first")
	}
}

func TestPagingIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeShards(t, dir, 1, 30)
	engine := newTestEngine(t, testConfig(t))
	ctx := context.Background()
	src, err := engine.Open(ctx, dir, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	first, err := engine.ListItemsPage(ctx, src, "shard-000.tar", PageRequest{Offset: 10, Length: 7})
	if err != nil {
		t.Fatalf("ListItemsPage: %v", err)
	}
	second, err := engine.ListItemsPage(ctx, src, "shard-000.tar", PageRequest{Offset: 10, Length: 7})
	if err != nil {
		t.Fatalf("ListItemsPage: %v", err)
	}
	if !reflect.DeepEqual(first.Items, second.Items) {
		t.Errorf("the same page differs between requests:\n%+v\n%+v", first.Items, second.Items)
	}
	if len(first.Items) != 7 || first.Items[0].Key != "sample-00-0010" {
		t.Fatalf("got %d items starting at %+v, want 7 from sample-00-0010", len(first.Items), first.Items)
	}

	// Continuing from the cursor matches paging by offset.
	next, err := engine.ListItemsPage(ctx, src, "shard-000.tar", PageRequest{Cursor: first.Cursor, Length: 7})
	if err != nil {
		t.Fatalf("ListItemsPage(cursor): %v", err)
	}
	byOffset, err := engine.ListItemsPage(ctx, src, "shard-000.tar", PageRequest{Offset: 17, Length: 7})
	if err != nil {
		t.Fatalf("ListItemsPage(offset): %v", err)
	}
	if !reflect.DeepEqual(next.Items, byOffset.Items) {
		t.Errorf("cursor page differs from offset page:\n%+v\n%+v", next.Items, byOffset.Items)
	}

	chunkedDir := t.TempDir()
	writeMDS(t, chunkedDir, 12)
	chunkedSrc, err := engine.Open(ctx, chunkedDir, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pageA, err := engine.ListItemsPage(ctx, chunkedSrc, "shard.00000.mds", PageRequest{Offset: 4, Length: 5})
	if err != nil {
		t.Fatalf("ListItemsPage: %v", err)
	}
	pageB, err := engine.ListItemsPage(ctx, chunkedSrc, "shard.00000.mds", PageRequest{Offset: 4, Length: 5})
	if err != nil {
		t.Fatalf("ListItemsPage: %v", err)
	}
	if !reflect.DeepEqual(pageA, pageB) {
		t.Errorf("chunked pages differ:\n%+v\n%+v", pageA, pageB)
	}
	if pageA.Total == nil || *pageA.Total != 12 {
		t.Errorf("got total %v, want 12", pageA.Total)
	}
}

func TestListItemsDefaultsToPageLength(t *testing.T) {
	dir := t.TempDir()
	writeMDS(t, dir, 9)
	cfg := testConfig(t)
	cfg.Limits.PageDefault = 4
	engine := newTestEngine(t, cfg)
	ctx := context.Background()
	src, err := engine.Open(ctx, dir, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	page, err := engine.ListItemsPage(ctx, src, "shard.00000.mds", PageRequest{})
	if err != nil {
		t.Fatalf("ListItemsPage: %v", err)
	}
	if page.Length != 4 {
		t.Errorf("got %d items, want the default of 4", page.Length)
	}
	all, err := engine.ListItems(ctx, src, "shard.00000.mds")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(all) != 9 {
		t.Errorf("got %d items, want 9", len(all))
	}
}

// catalogServer serves one dataset with a single default/train split
// of five text rows and records each request's Authorization header.
type catalogServer struct {
	*httptest.Server

	mu    sync.Mutex
	auths []string
}

func newCatalogServer(t *testing.T) *catalogServer {
	t.Helper()
	server := &catalogServer{}
	record := func(r *http.Request) {
		server.mu.Lock()
		server.auths = append(server.auths, r.Header.Get("Authorization"))
		server.mu.Unlock()
	}
	respond := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/splits", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		respond(w, map[string]any{"splits": []map[string]string{{"config": "default", "split": "train"}}})
	})
	mux.HandleFunc("/rows", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		length, _ := strconv.Atoi(r.URL.Query().Get("length"))
		var rows []map[string]any
		for i := offset; i < min(offset+length, 5); i++ {
			rows = append(rows, map[string]any{
				"row_idx": i,
				"row":     map[string]any{"text": "row " + strconv.Itoa(i), "label": i},
			})
		}
		respond(w, map[string]any{
			"features": []map[string]any{
				{"name": "text", "type": map[string]any{"dtype": "string", "_type": "Value"}},
				{"name": "label", "type": map[string]any{"dtype": "int64", "_type": "Value"}},
			},
			"rows":           rows,
			"num_rows_total": 5,
			"partial":        false,
		})
	})
	server.Server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func (s *catalogServer) lastAuth() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.auths) == 0 {
		return ""
	}
	return s.auths[len(s.auths)-1]
}

func TestCatalogSource(t *testing.T) {
	server := newCatalogServer(t)
	cfg := testConfig(t)
	cfg.Remote.CatalogEndpoint = server.URL + "/"
	engine := newTestEngine(t, cfg)
	ctx := context.Background()

	src, err := engine.Open(ctx, "hf://datasets/org/name", 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	manifest, err := engine.LoadManifest(ctx, src)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(manifest.Shards) != 1 || manifest.Shards[0].Filename != "default/train" {
		t.Fatalf("got shards %+v, want default/train", manifest.Shards)
	}
	if got := server.lastAuth(); got != "" {
		t.Errorf("got Authorization %q before any credential, want none", got)
	}

	rows, err := engine.ListCatalogRows(ctx, src, "", "", 2, 10, "hf_secret")
	if err != nil {
		t.Fatalf("ListCatalogRows: %v", err)
	}
	if len(rows.Rows) != 3 || rows.Total != 5 || rows.RequestID != 1 {
		t.Errorf("got %d rows of %d (request %d), want 3 of 5 (request 1)", len(rows.Rows), rows.Total, rows.RequestID)
	}
	if got := server.lastAuth(); got != "Bearer hf_secret" {
		t.Errorf("got Authorization %q, want the credential", got)
	}

	// The credential sticks to the source for later operations.
	peek, data := agreement(t, engine, src, "default/train",
		dataset.ItemAddress{Index: 3}, dataset.FieldAddress{Name: "text"})
	if string(data) != "row 3" || peek.GuessedExt != "txt" {
		t.Errorf("got %q (%s), want %q (txt)", data, peek.GuessedExt, "row 3")
	}
	if got := server.lastAuth(); got != "Bearer hf_secret" {
		t.Errorf("got Authorization %q on a later request, want the credential", got)
	}

	// A newer open of the same dataset drops the credential.
	reopened, err := engine.Open(ctx, "hf://datasets/org/name", 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := engine.LoadManifest(ctx, reopened); err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if got := server.lastAuth(); got != "" {
		t.Errorf("got Authorization %q after reopening, want none", got)
	}
}

func TestCatalogRowsRequireCatalogSource(t *testing.T) {
	dir := t.TempDir()
	writeShards(t, dir, 1, 1)
	engine := newTestEngine(t, testConfig(t))
	src, err := engine.Open(context.Background(), dir, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err = engine.ListCatalogRows(context.Background(), src, "", "", 0, 10, "")
	if dataset.KindOf(err) != dataset.KindUnsupported {
		t.Errorf("got %v, want unsupported", err)
	}
}

func TestReleaseAndClose(t *testing.T) {
	dir := t.TempDir()
	writeShards(t, dir, 1, 2)
	engine, err := New(Options{Config: testConfig(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	src, err := engine.Open(ctx, dir, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	materialize := func(index int64) string {
		prepared, err := engine.MaterializeField(ctx, src, "shard-000.tar",
			dataset.ItemAddress{Index: index}, dataset.FieldAddress{Name: "cls"})
		if err != nil {
			t.Fatalf("MaterializeField: %v", err)
		}
		return prepared.Path
	}
	released := materialize(0)
	kept := materialize(1)

	if err := engine.Release(src, released); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(released); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("released file still exists (stat error %v)", err)
	}
	if _, err := os.Stat(kept); err != nil {
		t.Fatalf("unreleased file is gone: %v", err)
	}

	if err := engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(kept); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("temp file survived Close (stat error %v)", err)
	}
	if err := engine.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := engine.Open(ctx, dir, 2); err == nil {
		t.Error("Open succeeded on a closed engine")
	}
}

func TestSweep(t *testing.T) {
	dir := t.TempDir()
	writeMDS(t, dir, 3)
	cfg := testConfig(t)
	cfg.Cache.MaxAge = 10 * time.Minute
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	engine, err := New(Options{Config: cfg, Clock: fake})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	// The sweeper registers its ticker.
	fake.WaitForTickers(1)

	ctx := context.Background()
	src, err := engine.Open(ctx, dir, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := engine.LoadManifest(ctx, src); err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if engine.indexes.Len() != 1 {
		t.Fatalf("got %d cached indexes, want 1", engine.indexes.Len())
	}

	fake.Advance(5 * time.Minute)
	if got := engine.Sweep(); got != 0 {
		t.Errorf("swept %d entries before they aged out, want 0", got)
	}
	// The ticker may sweep concurrently, so only the end state is
	// checked.
	fake.Advance(6 * time.Minute)
	engine.Sweep()
	if engine.indexes.Len() != 0 {
		t.Errorf("got %d cached indexes after the sweep, want 0", engine.indexes.Len())
	}
}

func TestDecompressedShardRemovedOnReload(t *testing.T) {
	root := t.TempDir()
	first := filepath.Join(root, "first")
	writeMDS(t, first, 3)
	raw := filepath.Join(first, "shard.00000.mds")
	data, err := os.ReadFile(raw)
	if err != nil {
		t.Fatalf("reading shard: %v", err)
	}
	compressed, err := compress.Encode(compress.Zstd, data)
	if err != nil {
		t.Fatalf("compressing shard: %v", err)
	}
	testutil.WriteFile(t, first, "shard.00000.mds.zstd", compressed)
	if err := os.Remove(raw); err != nil {
		t.Fatalf("removing raw shard: %v", err)
	}
	second := filepath.Join(root, "second")
	writeShards(t, second, 1, 1)

	cfg := testConfig(t)
	engine := newTestEngine(t, cfg)
	ctx := context.Background()
	src, err := engine.Open(ctx, first, 1)
	if err != nil {
		t.Fatalf("Open(first, 1): %v", err)
	}
	preview, err := engine.PeekField(ctx, src, "shard.00000.mds",
		dataset.ItemAddress{Index: 2}, dataset.FieldAddress{Name: "caption"}, 0)
	if err != nil {
		t.Fatalf("PeekField: %v", err)
	}
	if preview.PreviewText == nil || *preview.PreviewText != "caption number 2" {
		t.Errorf("got preview %v, want %q", preview.PreviewText, "caption number 2")
	}
	decompressed, err := filepath.Glob(filepath.Join(cfg.Paths.Cache, "chunked", "*.bin"))
	if err != nil || len(decompressed) != 1 {
		t.Fatalf("got decompressed files %v (err %v), want one", decompressed, err)
	}

	if _, err := engine.Open(ctx, second, 2); err != nil {
		t.Fatalf("Open(second, 2): %v", err)
	}
	if _, err := os.Stat(decompressed[0]); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("decompressed shard of the replaced source still exists (stat error %v)", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Limits.PageDefault = 0
	if _, err := New(Options{Config: cfg}); err == nil {
		t.Error("New accepted a zero page length")
	}
}
