package cmd

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/jcdickinson/docindex/internal/searchindex"
	"github.com/jcdickinson/docindex/internal/snapshot"
)

func TestDetectFormat(t *testing.T) {
	var snap bytes.Buffer
	if err := snapshot.Write(&snap, searchindex.Index{}, snapshot.CompressionNone); err != nil {
		t.Fatal(err)
	}
	var js bytes.Buffer
	if err := searchindex.WriteJS(&js, searchindex.Index{}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
		want inputFormat
	}{
		{"snapshot", snap.Bytes(), formatSnapshot},
		{"script", js.Bytes(), formatJS},
		{"script with comment", []byte("// generated\nvar searchIndex = {};"), formatJS},
		{"rustdoc", []byte(`{"root": 0, "index": {}}`), formatRustdoc},
	}
	for _, tt := range tests {
		if got := detectFormat(tt.data); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestReadInput_Zstd(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte(`{"root": 0}`)
	path := filepath.Join(t.TempDir(), "crate.json.zst")
	if err := os.WriteFile(path, enc.EncodeAll(want, nil), 0644); err != nil {
		t.Fatal(err)
	}
	enc.Close()

	got, err := readInput(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestWriteOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search-index.js")

	if err := writeOutput(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "var searchIndex = {};\n")
		return err
	}); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "var searchIndex = {};\n" {
		t.Errorf("got %q", got)
	}

	// A failing writer leaves the previous file untouched.
	boom := errors.New("boom")
	if err := writeOutput(path, func(w io.Writer) error {
		io.WriteString(w, "partial")
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	got, _ = os.ReadFile(path)
	if string(got) != "var searchIndex = {};\n" {
		t.Errorf("file changed after failed write: %q", got)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}
