package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"simtracker/internal/simulation"

	"github.com/google/uuid"
)

func readArchive(t *testing.T, data []byte) map[string]string {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip.NewReader failed: %v", err)
	}
	tr := tar.NewReader(gz)
	entries := make(map[string]string)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return entries
		}
		if err != nil {
			t.Fatalf("tar.Next failed: %v", err)
		}
		body, _ := io.ReadAll(tr)
		entries[header.Name] = string(body)
	}
}

func TestWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "logs", "run.log"), []byte("step 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "result.txt"), []byte("42"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.Symlink("/etc/passwd", filepath.Join(dir, "escape")); err != nil {
		t.Fatalf("Symlink failed: %v", err)
	}

	info := simulation.Info{ID: uuid.New(), Key: "countdown", State: "done", IsDone: true}
	var buf bytes.Buffer
	if err := Write(&buf, info, dir); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	root := info.ID.String()
	entries := readArchive(t, buf.Bytes())

	var record simulation.Info
	if err := json.Unmarshal([]byte(entries[root+"/"+RecordFile]), &record); err != nil {
		t.Fatalf("record not decodable: %v", err)
	}
	if record.ID != info.ID || record.Key != "countdown" {
		t.Errorf("Expected record for %s, got %+v", info.ID, record)
	}

	tests := map[string]string{
		root + "/logs/":        "",
		root + "/logs/run.log": "step 1\n",
		root + "/result.txt":   "42",
	}
	for name, want := range tests {
		got, ok := entries[name]
		if !ok {
			t.Errorf("Expected entry %s, got %v", name, keys(entries))
			continue
		}
		if got != want {
			t.Errorf("%s: Expected %q, got %q", name, want, got)
		}
	}
	if _, ok := entries[root+"/escape"]; ok {
		t.Error("Expected symlink skipped")
	}
}

func TestWrite_NoStorage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		dir  string
	}{
		{"no directory configured", ""},
		{"directory missing", filepath.Join(t.TempDir(), "gone")},
	}

	for _, tt := range tests {
		info := simulation.Info{ID: uuid.New()}
		var buf bytes.Buffer
		if err := Write(&buf, info, tt.dir); err != nil {
			t.Fatalf("%s: Write failed: %v", tt.name, err)
		}
		entries := readArchive(t, buf.Bytes())
		if len(entries) != 1 {
			t.Errorf("%s: Expected only the record, got %v", tt.name, keys(entries))
		}
	}
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
