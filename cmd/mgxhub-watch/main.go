// Command mgxhub-watch runs the Ingest Queue Watcher (spec.md §4.G) as a
// standalone process, separate from the HTTP daemon, for deployments that
// want to scale ingestion independently of request handling.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/lichifeng/mgxmonitor/internal/config"
	"github.com/lichifeng/mgxmonitor/internal/gamewriter"
	"github.com/lichifeng/mgxmonitor/internal/ingestqueue"
	"github.com/lichifeng/mgxmonitor/internal/logging"
	"github.com/lichifeng/mgxmonitor/internal/minimap"
	"github.com/lichifeng/mgxmonitor/internal/objectstore"
	"github.com/lichifeng/mgxmonitor/internal/parser"
	"github.com/lichifeng/mgxmonitor/internal/ratinglock"
	"github.com/lichifeng/mgxmonitor/internal/recordproc"
	"github.com/lichifeng/mgxmonitor/internal/shutdown"
	"github.com/lichifeng/mgxmonitor/internal/store"
)

const workerPoolSize = 4

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mgxhub-watch: config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New("mgxhub-watch", cfg.System.LogLevel, cfg.System.LogDest)

	st, err := store.Open(cfg.Database.Sqlite, cfg.System.EchoSQL, log)
	if err != nil {
		log.WithError(err).Fatal("mgxhub-watch: cannot open store")
	}
	defer st.Close()

	ctx := context.Background()

	var objStore *objectstore.Client
	if cfg.S3.Bucket != "" {
		objStore, err = objectstore.New(ctx, objectstore.Config{
			Endpoint: cfg.S3.Endpoint, AccessKey: cfg.S3.AccessKey, SecretKey: cfg.S3.SecretKey,
			Region: cfg.S3.Region, Bucket: cfg.S3.Bucket, Secure: cfg.S3.Secure,
		}, log)
		if err != nil {
			log.WithError(err).Fatal("mgxhub-watch: cannot init object store")
		}
	}

	parserAdapter := parser.NewAdapter(cfg.System.Parser, log)
	writer := gamewriter.New(st.DB, log)
	mapDest := ""
	if cfg.System.MapDest == "local" {
		mapDest = cfg.System.MapDir
	}
	minimapSaver := minimap.New(mapDest, cfg.System.MapDirS3, objStore, log)
	processor := recordproc.New(parserAdapter, writer, objStore, minimapSaver, cfg.S3.RecordDir, cfg.System.ErrorDir, "mgxhub", log)
	lock := ratinglock.New(cfg.Rating.LockFile)
	ratingBin := "mgxhub-rating"
	ratingArgs := []string{"-config", *configPath}

	watcher := ingestqueue.NewWatcher(cfg.System.UploadDir+"/.watcher.lock", log)
	ok, err := watcher.Acquire()
	if err != nil {
		log.WithError(err).Fatal("mgxhub-watch: cannot acquire watcher lock")
	}
	if !ok {
		log.Info("mgxhub-watch: another watcher already owns this host, exiting")
		return
	}
	defer watcher.Release()

	q := ingestqueue.New(256, func(path string) error {
		outcome := processor.Process(ctx, path, recordproc.Options{SyncProc: true, S3Replace: false, Cleanup: true, Source: "watch"})
		if outcome.Status == "success" || outcome.Status == "updated" {
			if err := lock.StartCalc(ratingBin, ratingArgs, true); err != nil {
				log.WithError(err).Warn("mgxhub-watch: schedule rating run failed")
			}
		}
		return nil
	}, log)

	if err := ingestqueue.ScanResidue(cfg.System.UploadDir, q, log); err != nil {
		log.WithError(err).Warn("mgxhub-watch: residue scan failed")
	}
	q.StartWorkers(workerPoolSize)

	shutdown.WaitForSignal(log)
	q.Stop()
}
