package parser

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "fake_parser.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseDecodesValidJSON(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture requires a POSIX shell")
	}
	dir := t.TempDir()
	script := writeScript(t, dir, `echo '{"status":"perfect","guid":"abc123","md5":"deadbeef","fileext":".mgz","matchup":"1v1"}'`)

	a := NewAdapter(script, nil)
	res := a.Parse(context.Background(), "irrelevant.mgz")

	if res.Status != StatusPerfect {
		t.Errorf("expected status perfect, got %q", res.Status)
	}
	if res.GUID != "abc123" || res.MD5 != "deadbeef" {
		t.Errorf("unexpected decoded result: %+v", res)
	}
}

func TestParseNonJSONStdoutIsError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture requires a POSIX shell")
	}
	dir := t.TempDir()
	script := writeScript(t, dir, `echo 'not json at all'`)

	a := NewAdapter(script, nil)
	res := a.Parse(context.Background(), "irrelevant.mgz")

	if res.Status != StatusError {
		t.Errorf("expected status error for non-JSON stdout, got %q", res.Status)
	}
}

func TestParseMissingBinaryIsError(t *testing.T) {
	a := NewAdapter("/nonexistent/path/to/parser", nil)
	res := a.Parse(context.Background(), "irrelevant.mgz")
	if res.Status != StatusError {
		t.Errorf("expected status error for a missing binary, got %q", res.Status)
	}
}

func TestIsQuarantineStatus(t *testing.T) {
	if !IsQuarantineStatus(StatusInvalid) || !IsQuarantineStatus(StatusError) {
		t.Error("expected invalid and error statuses to require quarantine")
	}
	if IsQuarantineStatus(StatusPerfect) || IsQuarantineStatus(StatusGood) {
		t.Error("did not expect perfect/good statuses to require quarantine")
	}
}
