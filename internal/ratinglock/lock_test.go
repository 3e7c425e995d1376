package ratinglock

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireThenRatingRunning(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "rating.lock")
	l := New(lockPath)

	ok, err := l.Acquire()
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected first Acquire to succeed")
	}
	if !l.RatingRunning() {
		t.Fatal("expected RatingRunning to be true for our own live PID")
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if l.RatingRunning() {
		t.Fatal("expected RatingRunning to be false after Release")
	}
}

func TestScheduleAndDischarge(t *testing.T) {
	dir := t.TempDir()
	l := New(filepath.Join(dir, "rating.lock"))

	if l.HasScheduled() {
		t.Fatal("expected no scheduled signal initially")
	}
	if err := l.Schedule(); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	if !l.HasScheduled() {
		t.Fatal("expected scheduled signal to exist after Schedule")
	}
	l.DischargeScheduled()
	if l.HasScheduled() {
		t.Fatal("expected scheduled signal to be gone after DischargeScheduled")
	}
}

func TestAcquireDischargesPendingSchedule(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "rating.lock")
	l := New(lockPath)

	if err := l.Schedule(); err != nil {
		t.Fatal(err)
	}

	ok, err := l.Acquire()
	if err != nil || !ok {
		t.Fatalf("Acquire failed: ok=%v err=%v", ok, err)
	}
	if l.HasScheduled() {
		t.Fatal("expected Acquire to discharge a pending scheduled signal")
	}
	l.Release()
}

func TestUnlockRemovesStaleLockFile(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "rating.lock")

	// Simulate a stale lock left by a process that no longer exists.
	if err := os.WriteFile(lockPath, []byte("999999\n1700000000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := New(lockPath)
	if l.RatingRunning() {
		t.Fatal("expected a nonexistent PID to report not running")
	}
	if err := l.Unlock(false); err != nil {
		t.Fatalf("Unlock returned error: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatal("expected stale lock file to be removed")
	}
}
