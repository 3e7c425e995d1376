package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/lichifeng/mgxmonitor/internal/model"
)

func (s *Server) handlePlayerRandom(w http.ResponseWriter, r *http.Request) {
	row := s.DB.QueryRowContext(r.Context(), `
		SELECT p.name, p.name_hash FROM players p
		JOIN games g ON g.game_guid = p.game_guid
		WHERE g.visibility = ? AND p.name_hash != ?
		ORDER BY RANDOM() LIMIT 1`, model.VisibilityPublic, model.NullNameHash)
	var name, hash string
	if err := row.Scan(&name, &hash); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "no players available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "name_hash": hash})
}

func (s *Server) handlePlayerLatest(w http.ResponseWriter, r *http.Request) {
	limit := clampLimit(r.URL.Query().Get("limit"), 20, 100)
	rows, err := s.DB.QueryContext(r.Context(), `
		SELECT DISTINCT p.name, p.name_hash, MAX(g.game_time) as last_seen
		FROM players p JOIN games g ON g.game_guid = p.game_guid
		WHERE g.visibility = ? AND p.name_hash != ?
		GROUP BY p.name_hash ORDER BY last_seen DESC LIMIT ?`, model.VisibilityPublic, model.NullNameHash, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	defer rows.Close()

	var players []map[string]any
	for rows.Next() {
		var name, hash string
		var lastSeen time.Time
		if rows.Scan(&name, &hash, &lastSeen) == nil {
			players = append(players, map[string]any{"name": name, "name_hash": hash, "last_seen": lastSeen})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": players})
}

func (s *Server) handlePlayerActive(w http.ResponseWriter, r *http.Request) {
	since := time.Now().AddDate(0, 0, -30)
	var count int
	err := s.DB.QueryRowContext(r.Context(), `
		SELECT COUNT(DISTINCT p.name_hash) FROM players p JOIN games g ON g.game_guid = p.game_guid
		WHERE g.visibility = ? AND g.game_time >= ? AND p.name_hash != ?`,
		model.VisibilityPublic, since, model.NullNameHash).Scan(&count)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active_players_30d": count})
}

// handlePlayerFriends returns the set of distinct teammates and opponents a
// player has shared a game with — a feature supplemented from the original
// system's social surface, not present in the distilled spec's core list.
func (s *Server) handlePlayerFriends(w http.ResponseWriter, r *http.Request) {
	nameHash := r.URL.Query().Get("name_hash")
	if nameHash == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name_hash is required")
		return
	}
	rows, err := s.DB.QueryContext(r.Context(), `
		SELECT DISTINCT p2.name, p2.name_hash
		FROM players p1
		JOIN players p2 ON p1.game_guid = p2.game_guid AND p2.name_hash != p1.name_hash
		JOIN games g ON g.game_guid = p1.game_guid
		WHERE p1.name_hash = ? AND g.visibility = ? AND p2.name_hash != ?
		LIMIT 200`, nameHash, model.VisibilityPublic, model.NullNameHash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	defer rows.Close()

	var friends []map[string]any
	for rows.Next() {
		var name, hash string
		if rows.Scan(&name, &hash) == nil {
			friends = append(friends, map[string]any{"name": name, "name_hash": hash})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"friends": friends})
}

func (s *Server) handlePlayerProfile(w http.ResponseWriter, r *http.Request) {
	nameHash := r.URL.Query().Get("name_hash")
	if nameHash == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name_hash is required")
		return
	}
	var totalGames int
	var firstPlayed, lastPlayed sql.NullTime
	err := s.DB.QueryRowContext(r.Context(), `
		SELECT COUNT(*), MIN(g.game_time), MAX(g.game_time)
		FROM players p JOIN games g ON g.game_guid = p.game_guid
		WHERE p.name_hash = ? AND g.visibility = ?`, nameHash, model.VisibilityPublic).
		Scan(&totalGames, &firstPlayed, &lastPlayed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name_hash":    nameHash,
		"total_games":  totalGames,
		"first_played": firstPlayed.Time,
		"last_played":  lastPlayed.Time,
	})
}

func (s *Server) handlePlayerRecentGames(w http.ResponseWriter, r *http.Request) {
	nameHash := r.URL.Query().Get("name_hash")
	limit := clampLimit(r.URL.Query().Get("limit"), 20, 100)
	if nameHash == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name_hash is required")
		return
	}
	rows, err := s.DB.QueryContext(r.Context(), `
		SELECT g.game_guid, g.matchup, g.game_time, p.is_winner
		FROM players p JOIN games g ON g.game_guid = p.game_guid
		WHERE p.name_hash = ? AND g.visibility = ?
		ORDER BY g.game_time DESC LIMIT ?`, nameHash, model.VisibilityPublic, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	defer rows.Close()

	var games []map[string]any
	for rows.Next() {
		var guid, matchup string
		var gameTime time.Time
		var isWinner bool
		if rows.Scan(&guid, &matchup, &gameTime, &isWinner) == nil {
			games = append(games, map[string]any{
				"guid": guid, "matchup": matchup, "game_time": gameTime, "is_winner": isWinner,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": games})
}

func (s *Server) handlePlayerSearchName(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if len(q) < 2 {
		writeError(w, http.StatusBadRequest, "bad_request", "q must be at least 2 characters")
		return
	}
	rows, err := s.DB.QueryContext(r.Context(), `
		SELECT DISTINCT p.name, p.name_hash FROM players p
		JOIN games g ON g.game_guid = p.game_guid
		WHERE p.name LIKE ? AND g.visibility = ? AND p.name_hash != ?
		LIMIT 50`, "%"+q+"%", model.VisibilityPublic, model.NullNameHash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	defer rows.Close()

	var matches []map[string]any
	for rows.Next() {
		var name, hash string
		if rows.Scan(&name, &hash) == nil {
			matches = append(matches, map[string]any{"name": name, "name_hash": hash})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}
