// Package ingestqueue implements the bounded multi-producer/multi-consumer
// path queue and the singleton Watcher described in spec.md §4.G. A single
// Watcher per host is elected via an exclusive file lock; a fixed worker
// pool drains the queue, invoking a caller-supplied process function.
package ingestqueue

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// ProcessFunc handles one ingested path. It must never panic; the worker
// recovers and logs on failure rather than crashing the pool.
type ProcessFunc func(path string) error

// Queue is a bounded channel of filesystem paths shared by producers
// (HTTP uploads, the Watcher) and a fixed worker pool.
type Queue struct {
	ch      chan string
	log     *logrus.Entry
	process ProcessFunc
	wg      sync.WaitGroup
}

// New creates a queue with the given buffer capacity.
func New(capacity int, process ProcessFunc, log *logrus.Entry) *Queue {
	return &Queue{
		ch:      make(chan string, capacity),
		process: process,
		log:     log,
	}
}

// Enqueue adds a path to the queue, blocking if it is full.
func (q *Queue) Enqueue(path string) {
	q.ch <- path
}

// TryEnqueue adds a path without blocking, returning false if the queue is full.
func (q *Queue) TryEnqueue(path string) bool {
	select {
	case q.ch <- path:
		return true
	default:
		return false
	}
}

// StartWorkers launches n workers draining the queue. Call Stop to close
// the channel and wait for workers to drain.
func (q *Queue) StartWorkers(n int) {
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go q.runWorker(i)
	}
}

func (q *Queue) runWorker(id int) {
	defer q.wg.Done()
	for path := range q.ch {
		q.safeProcess(id, path)
	}
}

// safeProcess never lets a single bad file take down the worker: on
// exception the path is dropped with a log line (spec.md §4.G).
func (q *Queue) safeProcess(workerID int, path string) {
	defer func() {
		if r := recover(); r != nil {
			if q.log != nil {
				q.log.WithFields(logrus.Fields{"worker": workerID, "path": path, "panic": r}).
					Error("ingestqueue: worker panic recovered")
			}
		}
	}()
	if err := q.process(path); err != nil {
		if q.log != nil {
			q.log.WithFields(logrus.Fields{"worker": workerID, "path": path, "err": err}).
				Warn("ingestqueue: processing failed, dropping")
		}
		return
	}
}

// Stop closes the queue and waits for in-flight workers to finish.
func (q *Queue) Stop() {
	close(q.ch)
	q.wg.Wait()
}

// Watcher owns the ingest-root lock file that makes it the single active
// watcher on this host; subsequent Acquire calls on other processes no-op.
type Watcher struct {
	lockPath string
	lockFile *os.File
	log      *logrus.Entry
}

func NewWatcher(lockPath string, log *logrus.Entry) *Watcher {
	return &Watcher{lockPath: lockPath, log: log}
}

// Acquire attempts exclusive ownership of the watcher role via an
// O_EXCL-created lock file. ok is false if another process already holds it.
func (w *Watcher) Acquire() (ok bool, err error) {
	f, err := os.OpenFile(w.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("ingestqueue: watcher lock: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	w.lockFile = f
	return true, nil
}

// Release closes and removes the lock file.
func (w *Watcher) Release() {
	if w.lockFile != nil {
		w.lockFile.Close()
	}
	os.Remove(w.lockPath)
}

// ScanResidue walks root once and enqueues every regular file found,
// recovering any work left behind by a crash before this Watcher started.
func ScanResidue(root string, q *Queue, log *logrus.Entry) error {
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if log != nil {
			log.WithField("path", p).Info("ingestqueue: recovered residue file")
		}
		q.Enqueue(p)
		return nil
	})
}
