// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotearchive

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/rangeio"
	"github.com/bureau-foundation/dataview/lib/testutil"
)

func TestLayoutOf(t *testing.T) {
	tests := []struct {
		name string
		want Layout
	}{
		{"data.zip", LayoutZip},
		{"DATA.ZIP", LayoutZip},
		{"data.tar", LayoutTar},
		{"data.tar.gz", LayoutCompressedTar},
		{"data.tgz", LayoutCompressedTar},
		{"data.tar.zst", LayoutCompressedTar},
		{"data.csv", NotArchive},
		{"data.gz", NotArchive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LayoutOf(tt.name); got != tt.want {
				t.Errorf("LayoutOf(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestFieldName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"audio/clip.WAV", "wav"},
		{"README", "bin"},
		{"dir.v2/notes", "bin"},
		{"archive.tar.gz", "gz"},
	}
	for _, tt := range tests {
		if got := FieldName(tt.name); got != tt.want {
			t.Errorf("FieldName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

// testAdapter serves data over HTTP behind an adapter whose fetchers
// count reads.
type testAdapter struct {
	*Adapter
	server   *testutil.Ranged
	fetchers []*rangeio.Counting
}

func newTestAdapter(t *testing.T, data []byte, options Options) *testAdapter {
	t.Helper()
	harness := &testAdapter{server: testutil.RangeServer(t, data, testutil.RangeServerOptions{})}
	options.NewFetcher = func(url string) (rangeio.Fetcher, error) {
		fetcher, err := rangeio.NewHTTP(url, rangeio.HTTPOptions{})
		if err != nil {
			return nil, err
		}
		counting := rangeio.NewCounting(fetcher)
		harness.fetchers = append(harness.fetchers, counting)
		return counting, nil
	}
	harness.Adapter = New(options)
	return harness
}

func (h *testAdapter) archive(name string) Archive {
	return Archive{Name: name, URL: h.server.URL + "/files/" + name}
}

func tarMembers(count int) []testutil.Member {
	members := []testutil.Member{{Name: "data/", Data: nil}}
	for i := range count {
		members = append(members, testutil.Member{
			Name: fmt.Sprintf("data/file-%03d.txt", i),
			Data: bytes.Repeat([]byte{byte('a' + i%26)}, 100+i*37),
		})
	}
	return members
}

func TestTarPagingRecoversEntries(t *testing.T) {
	members := tarMembers(60)
	harness := newTestAdapter(t, testutil.BuildTar(t, members...), Options{})
	archive := harness.archive("data.tar")
	sourceID := testutil.UniqueID("record")
	ctx := context.Background()

	var items []dataset.ItemRef
	token := ""
	for pages := 0; ; pages++ {
		if pages > 10 {
			t.Fatal("paging did not terminate")
		}
		page, err := harness.ListItemsPage(ctx, sourceID, archive, PageRequest{Cursor: token})
		if err != nil {
			t.Fatalf("page %d: %v", pages, err)
		}
		if len(page.Items) > DefaultPageLength {
			t.Errorf("page %d has %d items, more than the default %d", pages, len(page.Items), DefaultPageLength)
		}
		items = append(items, page.Items...)
		if page.Cursor == "" {
			if page.Total == nil || *page.Total != 60 {
				t.Errorf("last page total = %v, want 60", page.Total)
			}
			break
		}
		if !page.Partial {
			t.Errorf("page %d: got a known total before the scan finished", pages)
		}
		token = page.Cursor
	}

	if len(items) != 60 {
		t.Fatalf("got %d entries, want 60", len(items))
	}
	for i, item := range items {
		want := members[i+1]
		if item.Index != int64(i) || item.Key != want.Name || item.TotalBytes != int64(len(want.Data)) {
			t.Errorf("entry %d: got %d %q %d bytes, want %q %d bytes", i, item.Index, item.Key, item.TotalBytes, want.Name, len(want.Data))
		}
		if len(item.Fields) != 1 || item.Fields[0].Name != "txt" {
			t.Errorf("entry %d: got fields %+v, want one txt field", i, item.Fields)
		}
	}
}

func TestTarArbitraryPage(t *testing.T) {
	members := tarMembers(40)
	harness := newTestAdapter(t, testutil.BuildTar(t, members...), Options{Checkpoint: 10})
	archive := harness.archive("data.tar")
	sourceID := testutil.UniqueID("record")
	ctx := context.Background()

	first, err := harness.ListItemsPage(ctx, sourceID, archive, PageRequest{Offset: 33, Length: 5})
	if err != nil {
		t.Fatalf("ListItemsPage: %v", err)
	}
	second, err := harness.ListItemsPage(ctx, sourceID, archive, PageRequest{Offset: 33, Length: 5})
	if err != nil {
		t.Fatalf("repeated ListItemsPage: %v", err)
	}
	if !reflect.DeepEqual(first.Items, second.Items) || first.Cursor != second.Cursor {
		t.Error("repeated page differs")
	}
	if len(first.Items) != 5 || first.Items[0].Key != members[34].Name {
		t.Errorf("got %d items starting at %q, want 5 starting at %q", len(first.Items), first.Items[0].Key, members[34].Name)
	}
	if first.Cursor == "" || !second.Partial {
		t.Errorf("got cursor %q partial %v, want a cursor before the end", first.Cursor, second.Partial)
	}
	if _, ok := harness.cursors.Floor(sourceID, "data.tar", 33); !ok {
		t.Error("no checkpoint cursor was cached")
	}
}

func TestTarSkipsPayloads(t *testing.T) {
	large := bytes.Repeat([]byte("x"), 3<<20)
	data := testutil.BuildTar(t,
		testutil.Member{Name: "a.bin", Data: large},
		testutil.Member{Name: "b.bin", Data: large},
		testutil.Member{Name: "c.bin", Data: large},
		testutil.Member{Name: "d.txt", Data: []byte("small")},
	)
	harness := newTestAdapter(t, data, Options{})
	archive := harness.archive("big.tar")
	ctx := context.Background()

	page, err := harness.ListItemsPage(ctx, "source", archive, PageRequest{})
	if err != nil {
		t.Fatalf("ListItemsPage: %v", err)
	}
	if len(page.Items) != 4 || page.Total == nil || *page.Total != 4 {
		t.Fatalf("got %d items (total %v), want 4", len(page.Items), page.Total)
	}
	if fetched := harness.fetchers[0].BytesRead(); fetched >= int64(len(data))/2 {
		t.Errorf("listing fetched %d of %d bytes, want payloads skipped", fetched, len(data))
	}

	before := harness.fetchers[0].Reads()
	content, item, err := harness.ReadItem(ctx, "source", archive, dataset.ItemAddress{Index: 3}, 0)
	if err != nil {
		t.Fatalf("ReadItem: %v", err)
	}
	if string(content) != "small" || item.Key != "d.txt" {
		t.Errorf("got %q from %q, want small from d.txt", content, item.Key)
	}
	// The walk from the start refetches one window per header; the
	// payload is one more request.
	if reads := harness.fetchers[0].Reads() - before; reads > 5 {
		t.Errorf("read took %d requests", reads)
	}
}

func TestTarReadItem(t *testing.T) {
	members := tarMembers(30)
	harness := newTestAdapter(t, testutil.BuildTar(t, members...), Options{InlineMaxBytes: 1000})
	archive := harness.archive("data.tar")
	ctx := context.Background()

	tests := []struct {
		name    string
		address dataset.ItemAddress
		limit   int64
		want    []byte
		index   int64
	}{
		{"by index", dataset.ItemAddress{Index: 7}, 0, members[8].Data, 7},
		{"by key", dataset.ItemAddress{Index: -1, Key: "data/file-012.txt"}, 0, members[13].Data, 12},
		{"stale index with key", dataset.ItemAddress{Index: 2, Key: "data/file-005.txt"}, 0, members[6].Data, 5},
		{"limited", dataset.ItemAddress{Index: 29}, 10, members[30].Data[:10], 29},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, item, err := harness.ReadItem(ctx, "source", archive, tt.address, tt.limit)
			if err != nil {
				t.Fatalf("ReadItem: %v", err)
			}
			if !bytes.Equal(data, tt.want) {
				t.Errorf("got %d bytes, want %d", len(data), len(tt.want))
			}
			if item.Index != tt.index {
				t.Errorf("got index %d, want %d", item.Index, tt.index)
			}
		})
	}

	errorTests := []struct {
		name    string
		address dataset.ItemAddress
		kind    dataset.Kind
	}{
		{"past end", dataset.ItemAddress{Index: 30}, dataset.KindNotFound},
		{"unknown key", dataset.ItemAddress{Index: -1, Key: "nope"}, dataset.KindNotFound},
		{"over inline limit", dataset.ItemAddress{Index: 29}, dataset.KindUnsupported},
	}
	for _, tt := range errorTests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := harness.ReadItem(ctx, "source", archive, tt.address, 0)
			if got := dataset.KindOf(err); got != tt.kind {
				t.Errorf("got kind %v (%v), want %v", got, err, tt.kind)
			}
		})
	}
}

func TestTarEntryCap(t *testing.T) {
	harness := newTestAdapter(t, testutil.BuildTar(t, tarMembers(30)...), Options{MaxEntries: 10, Checkpoint: 4})
	archive := harness.archive("data.tar")
	ctx := context.Background()

	for _, request := range []PageRequest{{Length: 100}, {Offset: 8, Length: 100}} {
		page, err := harness.ListItemsPage(ctx, "source", archive, request)
		if err != nil {
			t.Fatalf("ListItemsPage(%+v): %v", request, err)
		}
		if got, want := int64(len(page.Items)), 10-request.Offset; got != want {
			t.Errorf("offset %d: got %d items, want %d", request.Offset, got, want)
		}
		if page.Total != nil {
			t.Errorf("offset %d: got total %d, want none for a capped listing", request.Offset, *page.Total)
		}
		if !page.Partial || !page.Capped || page.AtLeast != 10 || page.Cursor != "" {
			t.Errorf("offset %d: got partial %v capped %v at least %d cursor %q, want partial, capped, at least 10, no cursor",
				request.Offset, page.Partial, page.Capped, page.AtLeast, page.Cursor)
		}
	}
	if _, ok := harness.cursors.Total("source", "data.tar"); ok {
		t.Error("the entry cap was recorded as the archive total")
	}
	if _, _, err := harness.ReadItem(ctx, "source", archive, dataset.ItemAddress{Index: 12}, 0); dataset.KindOf(err) != dataset.KindNotFound {
		t.Errorf("entry past the cap: got %v, want not found", err)
	}
}

func TestTarCursorRejectedOutsideItsScope(t *testing.T) {
	harness := newTestAdapter(t, testutil.BuildTar(t, tarMembers(20)...), Options{PageLength: 5})
	archive := harness.archive("data.tar")
	ctx := context.Background()

	page, err := harness.ListItemsPage(ctx, "a", archive, PageRequest{})
	if err != nil || page.Cursor == "" {
		t.Fatalf("ListItemsPage: cursor %q, err %v", page.Cursor, err)
	}
	if _, err := harness.ListItemsPage(ctx, "b", archive, PageRequest{Cursor: page.Cursor}); dataset.KindOf(err) != dataset.KindInvalidCursor {
		t.Errorf("other source: got %v, want invalid cursor", err)
	}

	harness.cursors.InvalidateSource("a")
	if _, err := harness.ListItemsPage(ctx, "a", archive, PageRequest{Cursor: page.Cursor}); dataset.KindOf(err) != dataset.KindInvalidCursor {
		t.Errorf("reloaded source: got %v, want invalid cursor", err)
	}
	fresh, err := harness.ListItemsPage(ctx, "a", archive, PageRequest{})
	if err != nil {
		t.Fatalf("ListItemsPage after reload: %v", err)
	}
	next, err := harness.ListItemsPage(ctx, "a", archive, PageRequest{Cursor: fresh.Cursor})
	if err != nil || len(next.Items) != 5 || next.Items[0].Index != 5 {
		t.Errorf("token issued after reload: got %d items (%v)", len(next.Items), err)
	}
}

func TestZipPages(t *testing.T) {
	var members []testutil.Member
	for i := range 45 {
		members = append(members, testutil.Member{Name: fmt.Sprintf("rows/%02d.json", i), Data: []byte(fmt.Sprintf(`{"row":%d}`, i))})
	}
	members = append(members, testutil.Member{Name: "rows/", Data: nil})
	harness := newTestAdapter(t, testutil.BuildZip(t, false, members...), Options{})
	archive := harness.archive("rows.zip")
	ctx := context.Background()

	page, err := harness.ListItemsPage(ctx, "source", archive, PageRequest{Offset: 40})
	if err != nil {
		t.Fatalf("ListItemsPage: %v", err)
	}
	if page.Total == nil || *page.Total != 45 || page.Partial || len(page.Items) != 5 {
		t.Fatalf("got %d items of %v, want 5 of 45", len(page.Items), page.Total)
	}
	if page.Items[0].Key != "rows/40.json" || page.Items[0].Index != 40 || page.Items[0].Fields[0].Name != "json" {
		t.Errorf("got first item %+v", page.Items[0])
	}

	page, err = harness.ListItemsPage(ctx, "source", archive, PageRequest{Length: 1000})
	if err != nil {
		t.Fatalf("ListItemsPage: %v", err)
	}
	if len(page.Items) != 45 {
		t.Errorf("got %d items, want all 45 under the page cap", len(page.Items))
	}
	page, err = harness.ListItemsPage(ctx, "source", archive, PageRequest{Offset: 45})
	if err != nil || len(page.Items) != 0 {
		t.Errorf("past the end: got %d items (%v), want an empty page", len(page.Items), err)
	}

	data, item, err := harness.ReadItem(ctx, "source", archive, dataset.ItemAddress{Key: "rows/07.json"}, 0)
	if err != nil || string(data) != `{"row":7}` || item.Index != 7 {
		t.Errorf("got %q index %d (%v)", data, item.Index, err)
	}
	data, _, err = harness.ReadItem(ctx, "source", archive, dataset.ItemAddress{Index: 8}, 4)
	if err != nil || string(data) != `{"ro` {
		t.Errorf("peek: got %q (%v)", data, err)
	}

	if len(harness.fetchers) != 1 {
		t.Errorf("created %d fetchers, want one per URL", len(harness.fetchers))
	}
	if reads := harness.fetchers[0].Reads(); reads != 3 {
		t.Errorf("got %d reads, want one index read and one per entry", reads)
	}
}

func TestUnsupportedArchives(t *testing.T) {
	harness := newTestAdapter(t, []byte("irrelevant"), Options{})
	ctx := context.Background()
	for _, name := range []string{"data.tar.gz", "data.csv"} {
		_, err := harness.ListItemsPage(ctx, "source", harness.archive(name), PageRequest{})
		if dataset.KindOf(err) != dataset.KindUnsupported {
			t.Errorf("%s: got %v, want unsupported", name, err)
		}
		_, _, err = harness.ReadItem(ctx, "source", harness.archive(name), dataset.ItemAddress{}, 0)
		if dataset.KindOf(err) != dataset.KindUnsupported {
			t.Errorf("%s read: got %v, want unsupported", name, err)
		}
	}
	if requests := harness.server.Requests(); requests != 0 {
		t.Errorf("got %d requests, want none", requests)
	}
}

func TestTarRangesIgnored(t *testing.T) {
	server := testutil.RangeServer(t, testutil.BuildTar(t, tarMembers(3)...), testutil.RangeServerOptions{IgnoreRange: true})
	adapter := New(Options{})
	_, err := adapter.ListItemsPage(context.Background(), "source", Archive{Name: "data.tar", URL: server.URL + "/data.tar"}, PageRequest{})
	if dataset.KindOf(err) != dataset.KindRangeUnsupported {
		t.Errorf("got %v, want range unsupported", err)
	}
}
