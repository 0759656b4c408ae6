// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bureau-foundation/dataview/cmd/dataview/cli"
	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/testutil"
)

// writeConfig writes a config file that keeps temp and cache paths
// inside the test's directory.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf("paths:\n  temp: %s\n  cache: %s\n%s",
		filepath.Join(dir, "open"), filepath.Join(dir, "cache"), extra)
	return testutil.WriteFile(t, dir, "dataview.yaml", []byte(body))
}

// run executes the command tree and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	var help bytes.Buffer
	root := Root(Options{Stdout: &out})
	root.HelpOutput = &help
	err := root.Execute(context.Background(), args, nil)
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("dataview %s: %v", strings.Join(args, " "), err)
	}
	return out
}

// writeDataset writes one tar shard of count samples with txt and cls
// members.
func writeDataset(t *testing.T, count int) string {
	t.Helper()
	dir := t.TempDir()
	var members []testutil.Member
	for i := range count {
		key := fmt.Sprintf("sample-%04d", i)
		members = append(members,
			testutil.Member{Name: key + ".txt", Data: []byte("caption " + strconv.Itoa(i))},
			testutil.Member{Name: key + ".cls", Data: []byte(strconv.Itoa(i % 3))},
		)
	}
	testutil.WriteFile(t, dir, "shard-000.tar", testutil.BuildTar(t, members...))
	return dir
}

func TestDetectCommand(t *testing.T) {
	dir := writeDataset(t, 2)

	out := mustRun(t, "detect", dir)
	if !strings.Contains(out, "kind:   "+string(dataset.SourceStreamedArchiveDir)) || !strings.Contains(out, "format: webdataset") {
		t.Errorf("got %q, want the streamed kind", out)
	}

	out = mustRun(t, "detect", "hf://datasets/org/name", "--json")
	var result detectResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if result.Kind != dataset.SourceRemoteCatalog || result.Format != dataset.FormatDatasetsServer {
		t.Errorf("got %+v, want catalog/datasets-server", result)
	}

	if _, err := run(t, "detect"); err == nil {
		t.Error("detect without a location succeeded")
	}
}

func TestExitCodes(t *testing.T) {
	config := writeConfig(t, "")
	empty := t.TempDir()
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"missing path", []string{"manifest", filepath.Join(empty, "missing"), "--config", config}, cli.ExitNotFound},
		{"unrecognized directory", []string{"detect", empty}, cli.ExitUnsupported},
		{"compressed tar url", []string{"detect", "https://example.com/x.tar.gz"}, cli.ExitUnsupported},
		{"unknown shard", []string{"items", writeDataset(t, 1), "nope.tar", "--config", config}, cli.ExitNotFound},
		{"bad usage", []string{"peek", empty}, cli.ExitFailure},
		{"audio from a text field", []string{"materialize", writeDataset(t, 1), "shard-000.tar", "0", "txt", "--audio", "--config", config, "-o", empty}, cli.ExitUnsupported},
		{"undecodable cursor", []string{"items", writeDataset(t, 1), "shard-000.tar", "--cursor", "AAAA", "--config", config}, cli.ExitMalformed},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := run(t, test.args...)
			if err == nil {
				t.Fatal("command succeeded, want an error")
			}
			if got := cli.ExitCode(err); got != test.want {
				t.Errorf("got exit code %d (%v), want %d", got, err, test.want)
			}
		})
	}
}

func TestManifestCommand(t *testing.T) {
	dir := writeDataset(t, 3)
	config := writeConfig(t, "")

	out := mustRun(t, "manifest", dir, "--config", config, "--json", "--request-id", "9")
	var manifest dataset.Manifest
	if err := json.Unmarshal([]byte(out), &manifest); err != nil {
		t.Fatalf("decoding manifest: %v", err)
	}
	if len(manifest.Shards) != 1 || manifest.Shards[0].Filename != "shard-000.tar" {
		t.Errorf("got shards %+v, want shard-000.tar", manifest.Shards)
	}
	if manifest.RequestID != 9 || manifest.Source.RequestID != 9 {
		t.Errorf("got request ids %d/%d, want 9", manifest.RequestID, manifest.Source.RequestID)
	}

	out = mustRun(t, "manifest", dir, "--config", config)
	if !strings.Contains(out, "SHARD") || !strings.Contains(out, "shard-000.tar") {
		t.Errorf("got text output %q", out)
	}
}

func TestItemsCommand(t *testing.T) {
	dir := writeDataset(t, 5)
	config := writeConfig(t, "")

	out := mustRun(t, "items", dir, "shard-000.tar", "--config", config, "-n", "2", "--json")
	var first dataset.ItemPage
	if err := json.Unmarshal([]byte(out), &first); err != nil {
		t.Fatalf("decoding page: %v", err)
	}
	if len(first.Items) != 2 || first.Items[0].Key != "sample-0000" || first.Cursor == "" {
		t.Fatalf("got page %+v, want two items and a cursor", first)
	}

	out = mustRun(t, "items", dir, "shard-000.tar", "--config", config, "-n", "2", "--cursor", first.Cursor, "--json")
	var next dataset.ItemPage
	if err := json.Unmarshal([]byte(out), &next); err != nil {
		t.Fatalf("decoding page: %v", err)
	}
	if next.Offset != 2 || len(next.Items) != 2 || next.Items[0].Key != "sample-0002" {
		t.Errorf("got page at %d with %+v, want sample-0002 at 2", next.Offset, next.Items)
	}

	out = mustRun(t, "items", dir, "shard-000.tar", "--config", config, "--total")
	if !strings.Contains(out, "items 0-5 of 5") {
		t.Errorf("got text output %q, want the total", out)
	}
}

func TestPeekCommand(t *testing.T) {
	dir := writeDataset(t, 4)
	config := writeConfig(t, "")

	out := mustRun(t, "peek", dir, "shard-000.tar", "key:sample-0003", "txt", "--config", config)
	if !strings.Contains(out, "caption 3") || !strings.Contains(out, "ext:    txt") {
		t.Errorf("got %q, want the caption and its extension", out)
	}

	out = mustRun(t, "peek", dir, "shard-000.tar", "#1", "#0", "--config", config, "--json")
	var preview dataset.FieldPreview
	if err := json.Unmarshal([]byte(out), &preview); err != nil {
		t.Fatalf("decoding preview: %v", err)
	}
	if preview.Size != 1 || preview.RequestID != 1 {
		t.Errorf("got %+v, want the one-byte cls field of request 1", preview)
	}
}

func TestMaterializeCommand(t *testing.T) {
	dir := writeDataset(t, 2)
	config := writeConfig(t, "")
	output := filepath.Join(t.TempDir(), "fields") + string(filepath.Separator)

	out := mustRun(t, "materialize", dir, "shard-000.tar", "sample-0001", "txt", "--config", config, "-o", output, "--json")
	var prepared dataset.PreparedFile
	if err := json.Unmarshal([]byte(out), &prepared); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if filepath.Dir(prepared.Path) != filepath.Clean(output) {
		t.Errorf("got path %s, want a file in %s", prepared.Path, output)
	}
	data, err := os.ReadFile(prepared.Path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(data) != "caption 1" || prepared.Ext != "txt" {
		t.Errorf("got %q (%s), want %q (txt)", data, prepared.Ext, "caption 1")
	}

	named := filepath.Join(t.TempDir(), "label.cls")
	mustRun(t, "materialize", dir, "shard-000.tar", "0", "cls", "--config", config, "-o", named)
	if data, err := os.ReadFile(named); err != nil || string(data) != "0" {
		t.Errorf("got %q (%v), want %q", data, err, "0")
	}
}

func TestRowsCommand(t *testing.T) {
	var auth atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/splits", func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"splits": []map[string]string{
			{"config": "default", "split": "train"},
			{"config": "default", "split": "test"},
		}})
	})
	mux.HandleFunc("/rows", func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		query := r.URL.Query()
		offset, _ := strconv.Atoi(query.Get("offset"))
		length, _ := strconv.Atoi(query.Get("length"))
		var rows []map[string]any
		for i := offset; i < min(offset+length, 8); i++ {
			rows = append(rows, map[string]any{"row_idx": i, "row": map[string]any{"text": query.Get("split") + " " + strconv.Itoa(i)}})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"features":       []map[string]any{{"name": "text", "type": map[string]any{"dtype": "string", "_type": "Value"}}},
			"rows":           rows,
			"num_rows_total": 8,
			"partial":        false,
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	config := writeConfig(t, fmt.Sprintf("remote:\n  catalog_endpoint: %s/\n  requests_per_second: 0\n", server.URL))

	out := mustRun(t, "rows", "org/name", "--config", config, "--split", "test", "--offset", "6", "--token", "hf_x", "--json")
	var page dataset.CatalogPage
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("decoding page: %v", err)
	}
	if page.Split != "test" || len(page.Rows) != 2 || page.Total != 8 {
		t.Errorf("got %s with %d of %d rows, want test with 2 of 8", page.Split, len(page.Rows), page.Total)
	}
	if got, _ := auth.Load().(string); got != "Bearer hf_x" {
		t.Errorf("got Authorization %q, want the token", got)
	}

	out = mustRun(t, "rows", "hf://datasets/org/name", "--config", config, "-n", "3")
	if !strings.Contains(out, "default/train") || !strings.Contains(out, `{"text":"train 2"}`) {
		t.Errorf("got text output %q", out)
	}
}

func TestConfigShow(t *testing.T) {
	config := writeConfig(t, "limits:\n  page_default: 50\nenvironment: production\n")

	out := mustRun(t, "config", "show", "--config", config)
	for _, want := range []string{"page_default: 50", "environment: production", "requests_per_second: 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "production:") {
		t.Errorf("override block printed after being applied:\n%s", out)
	}

	out = mustRun(t, "config", "show", "--config", config, "--json")
	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("decoding config: %v", err)
	}
	if _, ok := decoded["limits"]; !ok {
		t.Errorf("got keys %v, want limits", decoded)
	}

	invalid := writeConfig(t, "limits:\n  page_default: 999999\n")
	if _, err := run(t, "config", "show", "--config", invalid); err == nil {
		t.Error("config show accepted page_default above page_max")
	}
	if _, err := run(t, "config", "show", "--config", config, "--log-level", "loud"); err == nil {
		t.Error("config show accepted an unknown log level")
	}
}

func TestLogLevelApplied(t *testing.T) {
	config := writeConfig(t, "log_level: warn\n")
	var level slog.LevelVar
	root := Root(Options{Stdout: &bytes.Buffer{}, Level: &level})
	if err := root.Execute(context.Background(), []string{"config", "show", "--config", config}, nil); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if level.Level() != slog.LevelWarn {
		t.Errorf("got level %v, want warn from the config", level.Level())
	}
	root = Root(Options{Stdout: &bytes.Buffer{}, Level: &level})
	if err := root.Execute(context.Background(), []string{"config", "show", "--config", config, "--log-level", "debug"}, nil); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if level.Level() != slog.LevelDebug {
		t.Errorf("got level %v, want debug from the flag", level.Level())
	}
}

func TestParseAddresses(t *testing.T) {
	items := []struct {
		arg  string
		want dataset.ItemAddress
	}{
		{"12", dataset.ItemAddress{Index: 12}},
		{"#3", dataset.ItemAddress{Index: 3}},
		{"sample-0007", dataset.ItemAddress{Index: -1, Key: "sample-0007"}},
		{"key:000123", dataset.ItemAddress{Index: -1, Key: "000123"}},
		{"-4", dataset.ItemAddress{Index: -1, Key: "-4"}},
		{"dir/entry.txt", dataset.ItemAddress{Index: -1, Key: "dir/entry.txt"}},
	}
	for _, test := range items {
		t.Run("item "+test.arg, func(t *testing.T) {
			if got := parseItem(test.arg); got != test.want {
				t.Errorf("parseItem(%q) = %+v, want %+v", test.arg, got, test.want)
			}
		})
	}

	fields := []struct {
		arg  string
		want dataset.FieldAddress
	}{
		{"jpg", dataset.FieldAddress{Name: "jpg"}},
		{"#2", dataset.FieldAddress{Index: 2}},
		{"0", dataset.FieldAddress{Name: "0"}},
		{"#x", dataset.FieldAddress{Name: "#x"}},
	}
	for _, test := range fields {
		t.Run("field "+test.arg, func(t *testing.T) {
			if got := parseField(test.arg); got != test.want {
				t.Errorf("parseField(%q) = %+v, want %+v", test.arg, got, test.want)
			}
		})
	}
}

func TestOutputPath(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"default", "", "field-1.txt"},
		{"existing directory", dir, filepath.Join(dir, "field-1.txt")},
		{"new directory", filepath.Join(dir, "new") + "/", filepath.Join(dir, "new", "field-1.txt")},
		{"file", filepath.Join(dir, "out.txt"), filepath.Join(dir, "out.txt")},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := outputPath(test.output, "field-1.txt")
			if err != nil {
				t.Fatalf("outputPath: %v", err)
			}
			if got != test.want {
				t.Errorf("got %q, want %q", got, test.want)
			}
		})
	}
}
