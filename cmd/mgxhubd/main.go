// Command mgxhubd runs the mgxhub HTTP daemon: the Read API, game upload
// endpoint, ingest Watcher (optional), and the admin surface. It wires
// together every internal package per the system's configuration file.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/lichifeng/mgxmonitor/internal/api"
	"github.com/lichifeng/mgxmonitor/internal/archive"
	"github.com/lichifeng/mgxmonitor/internal/auth"
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

const ingestWorkerPoolSize = 4

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	addr := flag.String("addr", ":8787", "HTTP listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mgxhubd: config: %v\n", err)
		os.Exit(1)
	}
	api.SetCurrentConfig(cfg)

	log := logging.New("mgxhubd", cfg.System.LogLevel, cfg.System.LogDest)

	if dsn := os.Getenv("MGXHUB_SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			log.WithError(err).Warn("mgxhubd: sentry init failed, continuing without it")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	st, err := store.Open(cfg.Database.Sqlite, cfg.System.EchoSQL, log)
	if err != nil {
		log.WithError(err).Fatal("mgxhubd: cannot open store")
	}
	defer st.Close()

	ctx := context.Background()

	var objStore *objectstore.Client
	if cfg.S3.Bucket != "" {
		objStore, err = objectstore.New(ctx, objectstore.Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			Secure:    cfg.S3.Secure,
		}, log.WithField("subcomponent", "objectstore"))
		if err != nil {
			log.WithError(err).Fatal("mgxhubd: cannot init object store")
		}
		if err := objStore.EnsureBucket(ctx); err != nil {
			log.WithError(err).Warn("mgxhubd: ensure bucket failed")
		}
	}

	parserAdapter := parser.NewAdapter(cfg.System.Parser, log.WithField("subcomponent", "parser"))
	writer := gamewriter.New(st.DB, log.WithField("subcomponent", "gamewriter"))
	mapDest := ""
	if cfg.System.MapDest == "local" {
		mapDest = cfg.System.MapDir
	}
	minimapSaver := minimap.New(mapDest, cfg.System.MapDirS3, objStore, log.WithField("subcomponent", "minimap"))

	processor := recordproc.New(parserAdapter, writer, objStore, minimapSaver,
		cfg.S3.RecordDir, cfg.System.ErrorDir, "mgxhub", log.WithField("subcomponent", "recordproc"))

	var validator auth.ExternalValidator
	if cfg.WordPress.URL != "" {
		validator = auth.NewWordPressValidator(cfg.WordPress.URL)
	}
	delegate := auth.NewDelegate(validator, auth.NewMemoryStore(), cfg.WordPress.LoginExpire, []byte(jwtSecret()))

	lock := ratinglock.New(cfg.Rating.LockFile)
	extractor := archive.New(cfg.System.UploadDir, cfg.System.TmpPrefix, log.WithField("subcomponent", "archive"))

	ratingBin := "mgxhub-rating"
	ratingArgs := []string{"-config", *configPath}

	server := api.NewServer(st.DB, processor, extractor, delegate, lock, ratingBin, ratingArgs, cfg.System.UploadDir, "mgxhub", log.WithField("subcomponent", "api"))

	if cfg.System.UploadDir != "" {
		q := ingestqueue.New(256, func(path string) error {
			outcome := processor.Process(ctx, path, recordproc.Options{SyncProc: true, S3Replace: false, Cleanup: true, Source: "watch"})
			if outcome.Status == "success" || outcome.Status == "updated" {
				if err := lock.StartCalc(ratingBin, ratingArgs, true); err != nil {
					log.WithError(err).Warn("mgxhubd: schedule rating run failed")
				}
			}
			return nil
		}, log.WithField("subcomponent", "ingestqueue"))

		watcher := ingestqueue.NewWatcher(cfg.System.UploadDir+"/.watcher.lock", log.WithField("subcomponent", "watcher"))
		if ok, err := watcher.Acquire(); err == nil && ok {
			if err := ingestqueue.ScanResidue(cfg.System.UploadDir, q, log); err != nil {
				log.WithError(err).Warn("mgxhubd: residue scan failed")
			}
			q.StartWorkers(ingestWorkerPoolSize)
			defer watcher.Release()
		}
	}

	httpServer := &http.Server{Addr: *addr, Handler: server.Router()}
	if err := shutdown.GracefulServe(httpServer, 30*time.Second, log); err != nil {
		log.WithError(err).Fatal("mgxhubd: server exited with error")
	}
}

func jwtSecret() string {
	if s := os.Getenv("MGXHUB_JWT_SECRET"); s != "" {
		return s
	}
	return "change-me-in-production"
}
