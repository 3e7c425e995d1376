package minimap

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLocalWritesDecodedPNG(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "", nil, nil)

	payload := []byte("not really a png but bytes all the same")
	encoded := base64.StdEncoding.EncodeToString(payload)

	status := s.SaveLocal("guid-1", encoded)
	if status != StatusSaved {
		t.Fatalf("expected StatusSaved, got %q", status)
	}

	got, err := os.ReadFile(filepath.Join(dir, "guid-1.png"))
	if err != nil {
		t.Fatalf("expected file to be written: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("decoded payload mismatch: got %q want %q", got, payload)
	}
}

func TestSaveLocalNotSetWhenEmptyBase64(t *testing.T) {
	s := New(t.TempDir(), "", nil, nil)
	if status := s.SaveLocal("guid-1", ""); status != StatusNotSet {
		t.Errorf("expected StatusNotSet for empty payload, got %q", status)
	}
}

func TestSaveLocalNotSetWhenDirUnconfigured(t *testing.T) {
	s := New("", "", nil, nil)
	if status := s.SaveLocal("guid-1", base64.StdEncoding.EncodeToString([]byte("x"))); status != StatusNotSet {
		t.Errorf("expected StatusNotSet when LocalDir is empty, got %q", status)
	}
}

func TestSaveLocalErrorOnBadBase64(t *testing.T) {
	s := New(t.TempDir(), "", nil, nil)
	if status := s.SaveLocal("guid-1", "not-base64!!"); status != StatusError {
		t.Errorf("expected StatusError for malformed base64, got %q", status)
	}
}

func TestSaveRemoteNotSetWhenUnconfigured(t *testing.T) {
	s := New("", "", nil, nil)
	status := s.SaveRemote(context.Background(), "guid-1", base64.StdEncoding.EncodeToString([]byte("x")))
	if status != StatusNotSet {
		t.Errorf("expected StatusNotSet when S3Prefix/ObjStore are unconfigured, got %q", status)
	}
}
