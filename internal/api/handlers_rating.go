package api

import (
	"net/http"

	"github.com/lichifeng/mgxmonitor/internal/model"
)

func (s *Server) handleRatingTable(w http.ResponseWriter, r *http.Request) {
	versionCode := r.URL.Query().Get("version_code")
	matchup := r.URL.Query().Get("matchup")
	if matchup == "" {
		matchup = model.Partition1v1
	}
	limit := clampLimit(r.URL.Query().Get("limit"), 100, 500)

	query := `SELECT name_hash, rating, wins, total, streak_max, highest, lowest FROM ratings
		WHERE matchup = ?`
	args := []any{matchup}
	if versionCode != "" {
		query += " AND version_code = ?"
		args = append(args, versionCode)
	}
	query += " ORDER BY rating DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.DB.QueryContext(r.Context(), query, args...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	defer rows.Close()

	var table []map[string]any
	for rows.Next() {
		var nameHash string
		var rating, wins, total, streakMax, highest, lowest int
		if rows.Scan(&nameHash, &rating, &wins, &total, &streakMax, &highest, &lowest) == nil {
			table = append(table, map[string]any{
				"name_hash": nameHash, "rating": rating, "wins": wins, "total": total,
				"streak_max": streakMax, "highest": highest, "lowest": lowest,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "matchup": matchup})
}

func (s *Server) handleRatingStats(w http.ResponseWriter, r *http.Request) {
	var stats map[string]any
	if found, _ := cacheGet(s.DB, CacheKeyRatingStats, &stats); found {
		writeJSON(w, http.StatusOK, map[string]any{"stats": stats, "from_cache": true})
		return
	}

	stats = map[string]any{}
	var rated int
	s.DB.QueryRowContext(r.Context(), `SELECT COUNT(*) FROM ratings`).Scan(&rated)
	stats["rated_players"] = rated

	cachePut(s.DB, CacheKeyRatingStats, stats)
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats, "from_cache": false})
}

func (s *Server) handleRatingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":   s.Lock.RatingRunning(),
		"scheduled": s.Lock.HasScheduled(),
	})
}

func (s *Server) handleRatingPlayerPage(w http.ResponseWriter, r *http.Request) {
	nameHash := r.URL.Query().Get("name_hash")
	matchup := r.URL.Query().Get("matchup")
	if nameHash == "" || matchup == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name_hash and matchup are required")
		return
	}
	row := s.DB.QueryRowContext(r.Context(), `
		SELECT version_code, rating, wins, total, streak, streak_max, highest, lowest, first_played, last_played
		FROM ratings WHERE name_hash = ? AND matchup = ?`, nameHash, matchup)

	var versionCode string
	var rating, wins, total, streak, streakMax, highest, lowest int
	var firstPlayed, lastPlayed any
	if err := row.Scan(&versionCode, &rating, &wins, &total, &streak, &streakMax, &highest, &lowest, &firstPlayed, &lastPlayed); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "no rating on record")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version_code": versionCode, "rating": rating, "wins": wins, "total": total,
		"streak": streak, "streak_max": streakMax, "highest": highest, "lowest": lowest,
		"first_played": firstPlayed, "last_played": lastPlayed,
	})
}

func (s *Server) handleRatingSearchName(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if len(q) < 2 {
		writeError(w, http.StatusBadRequest, "bad_request", "q must be at least 2 characters")
		return
	}
	rows, err := s.DB.QueryContext(r.Context(), `
		SELECT DISTINCT r.name_hash FROM ratings r
		JOIN players p ON p.name_hash = r.name_hash
		WHERE p.name LIKE ? LIMIT 50`, "%"+q+"%")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	defer rows.Close()
	var matches []string
	for rows.Next() {
		var h string
		if rows.Scan(&h) == nil {
			matches = append(matches, h)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (s *Server) handleRatingStart(w http.ResponseWriter, r *http.Request) {
	schedule := r.URL.Query().Get("schedule") == "true"
	running := s.Lock.RatingRunning()
	if running && !schedule {
		writeError(w, http.StatusConflict, "conflict", "a rating run is already in progress")
		return
	}
	if err := s.Lock.StartCalc(s.RatingBin, s.RatingArgs, schedule); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"started": !running, "scheduled": running})
}

func (s *Server) handleRatingUnlock(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	if err := s.Lock.Unlock(force); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unlocked": true})
}
