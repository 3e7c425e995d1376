package archive

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestSupported(t *testing.T) {
	cases := map[string]bool{
		".zip": true, ".ZIP": true, ".rar": true, ".7z": true, ".mgx": false, "": false,
	}
	for ext, want := range cases {
		if got := Supported(ext); got != want {
			t.Errorf("Supported(%q) = %v, want %v", ext, got, want)
		}
	}
}

func writeTestZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestExtractZipRecoversAllFiles(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "bundle.zip")
	writeTestZip(t, zipPath, map[string]string{
		"game1.mgz":        "fake record one",
		"subdir/game2.mgz": "fake record two",
	})

	e := New(dir, "extract_", nil)
	files, err := e.Extract(context.Background(), zipPath)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}

	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	sort.Strings(names)

	want := []string{"game1.mgz", "game2.mgz"}
	if len(names) != len(want) {
		t.Fatalf("got files %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("file[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestExtractZipRejectsUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	e := New(dir, "extract_", nil)
	if _, err := e.Extract(context.Background(), filepath.Join(dir, "notanarchive.txt")); err == nil {
		t.Fatal("expected an error for an unsupported extension")
	}
}
