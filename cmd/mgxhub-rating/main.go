// Command mgxhub-rating runs a single ELO rating pass (spec.md §4.H/§4.I).
// It is invoked as a detached subprocess by the daemon or an operator,
// guarded by the Rating Lock so only one instance runs at a time. On exit,
// if a follow-up run was scheduled while this one was in flight, it
// re-invokes itself once more before returning.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/lichifeng/mgxmonitor/internal/config"
	"github.com/lichifeng/mgxmonitor/internal/logging"
	"github.com/lichifeng/mgxmonitor/internal/rating"
	"github.com/lichifeng/mgxmonitor/internal/ratinglock"
	"github.com/lichifeng/mgxmonitor/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mgxhub-rating: config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New("mgxhub-rating", cfg.System.LogLevel, cfg.System.LogDest)

	lock := ratinglock.New(cfg.Rating.LockFile)
	ok, err := lock.Acquire()
	if err != nil {
		log.WithError(err).Error("mgxhub-rating: lock acquire failed")
		os.Exit(1)
	}
	if !ok {
		log.Debug("mgxhub-rating: another instance is running, exiting")
		os.Exit(1)
	}
	defer lock.Release()

	st, err := store.Open(cfg.Database.Sqlite, cfg.System.EchoSQL, log)
	if err != nil {
		log.WithError(err).Fatal("mgxhub-rating: cannot open store")
	}
	defer st.Close()
	// The pass keeps its row cursor open while the periodic rating_change
	// flush runs a transaction, so it needs a second connection.
	st.DB.SetMaxOpenConns(2)

	start := time.Now()
	engine := rating.New(st.DB, cfg.Rating.KFactor, cfg.Rating.DurationThreshold, cfg.Rating.BatchSize,
		log.WithField("subcomponent", "rating"))
	if err := engine.Run(); err != nil {
		log.WithError(err).Error("mgxhub-rating: run failed")
		os.Exit(1)
	}
	log.WithField("elapsed", time.Since(start).String()).Info("mgxhub-rating: rating calculated")

	if lock.HasScheduled() {
		lock.DischargeScheduled()
		lock.Release()
		self, err := os.Executable()
		if err == nil {
			exec.Command(self, "-config", *configPath).Start()
		}
	}
}
