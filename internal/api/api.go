// Package api implements the Read API layer and admin surface of spec.md
// §4.J/§4.M/§6. It follows the teacher's chi + database/sql handler style
// (services/pool/cmd/pool/main.go): small free functions writing JSON
// directly, no framework-level response wrapping.
package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/lichifeng/mgxmonitor/internal/archive"
	"github.com/lichifeng/mgxmonitor/internal/auth"
	"github.com/lichifeng/mgxmonitor/internal/metrics"
	"github.com/lichifeng/mgxmonitor/internal/ratinglock"
	"github.com/lichifeng/mgxmonitor/internal/recordproc"
)

// Server holds every dependency the HTTP surface needs.
type Server struct {
	DB         *sql.DB
	Processor  *recordproc.Processor
	Extractor  *archive.Extractor
	Auth       *auth.Delegate
	Lock       *ratinglock.Lock
	RatingBin  string
	RatingArgs []string
	UploadDir  string
	Site       string
	log        *logrus.Entry
}

func NewServer(db *sql.DB, processor *recordproc.Processor, extractor *archive.Extractor, delegate *auth.Delegate,
	lock *ratinglock.Lock, ratingBin string, ratingArgs []string, uploadDir, site string, log *logrus.Entry) *Server {
	return &Server{
		DB:         db,
		Processor:  processor,
		Extractor:  extractor,
		Auth:       delegate,
		Lock:       lock,
		RatingBin:  ratingBin,
		RatingArgs: ratingArgs,
		UploadDir:  uploadDir,
		Site:       site,
		log:        log,
	}
}

// scheduleRating triggers a rating pass after a successful ingest
// (spec.md §4.D step 9, §1 Ingest-Triggered Scheduling Contract): spawn a
// fresh run if idle, or fold into the pending run's scheduled follow-up if
// one is already in flight.
func (s *Server) scheduleRating() {
	if s.Lock == nil || s.RatingBin == "" {
		return
	}
	if err := s.Lock.StartCalc(s.RatingBin, s.RatingArgs, true); err != nil && s.log != nil {
		s.log.WithError(err).Warn("api: schedule rating run failed")
	}
}

// Router builds the full chi mux for the daemon.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/", s.handleLiveness)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/game", func(r chi.Router) {
		r.Post("/upload", s.handleGameUpload)
		r.Get("/detail", s.handleGameDetail)
		r.Get("/random", s.handleGameRandom)
		r.Get("/latest", s.handleGameLatest)
		r.Get("/optionstats", s.handleOptionStats)
		r.Post("/search", s.handleGameSearch)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/delete", s.handleGameDelete)
			r.Post("/reparse", s.handleGameReparse)
			r.Post("/setvisibility", s.handleGameSetVisibility)
		})
	})

	r.Route("/player", func(r chi.Router) {
		r.Get("/random", s.handlePlayerRandom)
		r.Get("/latest", s.handlePlayerLatest)
		r.Get("/active", s.handlePlayerActive)
		r.Get("/friends", s.handlePlayerFriends)
		r.Get("/profile", s.handlePlayerProfile)
		r.Get("/recent_games", s.handlePlayerRecentGames)
		r.Get("/searchname", s.handlePlayerSearchName)
	})

	r.Route("/rating", func(r chi.Router) {
		r.Get("/table", s.handleRatingTable)
		r.Get("/stats", s.handleRatingStats)
		r.Get("/status", s.handleRatingStatus)
		r.Get("/playerpage", s.handleRatingPlayerPage)
		r.Get("/searchname", s.handleRatingSearchName)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/start", s.handleRatingStart)
			r.Post("/unlock", s.handleRatingUnlock)
		})
	})

	r.Route("/system", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/config/default", s.handleConfigDefault)
		r.Get("/config/current", s.handleConfigCurrent)
		r.Post("/backup/sqlite", s.handleBackupSqlite)
		r.Get("/tmpdir/list", s.handleTmpdirList)
		r.Post("/tmpdir/purge", s.handleTmpdirPurge)
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/onlineusers", s.handleOnlineUsers)
			r.Post("/logoutall", s.handleLogoutAll)
		})
	})

	return r
}

// writeJSON always stamps generated_at per spec.md §4.J.
func writeJSON(w http.ResponseWriter, status int, v map[string]any) {
	if v == nil {
		v = map[string]any{}
	}
	v["generated_at"] = time.Now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": code, "message": message})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.Header.Get("Authorization")
		if len(tokenStr) > 7 && tokenStr[:7] == "Bearer " {
			tokenStr = tokenStr[7:]
		}
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing session token")
			return
		}
		identity, err := s.Auth.ParseSession(tokenStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session token")
			return
		}
		if err := auth.RequireAdmin(identity); err != nil {
			writeError(w, http.StatusForbidden, "forbidden", err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
