package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lichifeng/mgxmonitor/internal/archive"
	"github.com/lichifeng/mgxmonitor/internal/metrics"
	"github.com/lichifeng/mgxmonitor/internal/model"
	"github.com/lichifeng/mgxmonitor/internal/recordproc"
)

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(startTime).String(),
	})
}

var startTime = time.Now()

func (s *Server) handleGameUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("recfile")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "missing recfile")
		return
	}
	defer file.Close()

	tmpPath := filepath.Join(s.UploadDir, uuid.NewString()+"_"+filepath.Base(header.Filename))
	out, err := os.Create(tmpPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "cannot stage upload")
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		writeError(w, http.StatusInternalServerError, "internal", "upload write failed")
		return
	}
	out.Close()

	opts := recordproc.Options{
		SyncProc:  true,
		S3Replace: r.FormValue("s3replace") == "true",
		Cleanup:   r.FormValue("cleanup") != "false",
		Source:    "upload",
	}
	if lastmod := r.FormValue("lastmod"); lastmod != "" {
		if t, err := time.Parse(time.RFC3339, lastmod); err == nil {
			opts.PlayedAt = &t
		}
	}

	ext := filepath.Ext(tmpPath)
	if s.Extractor != nil && archive.Supported(ext) {
		info, statErr := os.Stat(tmpPath)
		inline := statErr == nil && info.Size() <= archive.InlineSizeThreshold
		if !inline {
			go s.extractAndIngest(tmpPath, ext, opts)
			writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
			return
		}
		s.extractAndIngest(tmpPath, ext, opts)
		writeJSON(w, http.StatusOK, map[string]any{"status": "extracted"})
		return
	}

	outcome := s.Processor.Process(r.Context(), tmpPath, opts)
	metrics.GamesIngested.WithLabelValues(outcome.Status).Inc()
	if outcome.Status == "success" || outcome.Status == "updated" {
		s.scheduleRating()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": outcome.Status,
		"guid":   outcome.GUID,
	})
}

// extractAndIngest unpacks an archive and processes every extracted record
// file, used both for small inline uploads and large background ones
// (spec.md §4.F).
func (s *Server) extractAndIngest(tmpPath, ext string, opts recordproc.Options) {
	ctx := context.Background()
	files, err := s.Extractor.Extract(ctx, tmpPath)
	if err != nil {
		metrics.ArchiveExtractions.WithLabelValues(ext, "error").Inc()
		return
	}
	metrics.ArchiveExtractions.WithLabelValues(ext, "success").Inc()
	os.Remove(tmpPath)

	for _, f := range files {
		outcome := s.Processor.Process(ctx, f, opts)
		metrics.GamesIngested.WithLabelValues(outcome.Status).Inc()
		if outcome.Status == "success" || outcome.Status == "updated" {
			s.scheduleRating()
		}
	}
}

func (s *Server) handleGameDetail(w http.ResponseWriter, r *http.Request) {
	guid := r.URL.Query().Get("guid")
	if !isHexGUID(guid) {
		writeError(w, http.StatusBadRequest, "bad_request", "guid must be 32 hex characters")
		return
	}

	game, err := fetchGameByGUID(r.Context(), s.DB, guid, false)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "not_found", "game not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"game": game})
}

func (s *Server) handleGameRandom(w http.ResponseWriter, r *http.Request) {
	row := s.DB.QueryRow(`SELECT game_guid FROM games WHERE visibility = ? ORDER BY RANDOM() LIMIT 1`, model.VisibilityPublic)
	var guid string
	if err := row.Scan(&guid); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "no games available")
		return
	}
	game, err := fetchGameByGUID(r.Context(), s.DB, guid, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"game": game})
}

func (s *Server) handleGameLatest(w http.ResponseWriter, r *http.Request) {
	limit := clampLimit(r.URL.Query().Get("limit"), 20, 100)
	rows, err := s.DB.QueryContext(r.Context(), `
		SELECT game_guid, matchup, map_name, game_time FROM games
		WHERE visibility = ? ORDER BY game_time DESC LIMIT ?`, model.VisibilityPublic, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	defer rows.Close()

	var games []map[string]any
	for rows.Next() {
		var guid, matchup, mapName string
		var gameTime time.Time
		if err := rows.Scan(&guid, &matchup, &mapName, &gameTime); err != nil {
			continue
		}
		games = append(games, map[string]any{
			"guid": guid, "matchup": matchup, "map_name": mapName, "game_time": gameTime,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": games})
}

func (s *Server) handleOptionStats(w http.ResponseWriter, r *http.Request) {
	var stats map[string]any
	if found, _ := cacheGet(s.DB, CacheKeyOptionStats, &stats); found {
		writeJSON(w, http.StatusOK, map[string]any{"stats": stats, "from_cache": true})
		return
	}

	stats = map[string]any{}
	rows, err := s.DB.QueryContext(r.Context(), `SELECT matchup, COUNT(*) FROM games WHERE visibility = ? GROUP BY matchup`, model.VisibilityPublic)
	if err == nil {
		defer rows.Close()
		byMatchup := map[string]int{}
		for rows.Next() {
			var matchup string
			var count int
			if rows.Scan(&matchup, &count) == nil {
				byMatchup[matchup] = count
			}
		}
		stats["by_matchup"] = byMatchup
	}

	cachePut(s.DB, CacheKeyOptionStats, stats)
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats, "from_cache": false})
}

// SearchCriteria is the structured request body for POST /game/search
// (spec.md §4.M).
type SearchCriteria struct {
	GameGUID        string   `json:"game_guid"`
	DurationMin     *int     `json:"duration_min"`
	DurationMax     *int     `json:"duration_max"`
	IsMultiplayer   *bool    `json:"is_multiplayer"`
	IncludeAI       *bool    `json:"include_ai"`
	Matchups        []string `json:"matchups"`
	MapNameLike     string   `json:"map_name_like"`
	InstructionLike string   `json:"instruction_like"`
	Page            int      `json:"page"`
	PageSize        int      `json:"page_size"`
	OrderBy         string   `json:"order_by"` // "game_time" (default), "created", "duration"
}

func (s *Server) handleGameSearch(w http.ResponseWriter, r *http.Request) {
	var crit SearchCriteria
	if err := json.NewDecoder(r.Body).Decode(&crit); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	if isHexGUID(crit.GameGUID) {
		game, err := fetchGameByGUID(r.Context(), s.DB, crit.GameGUID, false)
		if err == sql.ErrNoRows {
			writeJSON(w, http.StatusOK, map[string]any{"games": []any{}, "total": 0})
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"games": []any{game}, "total": 1})
		return
	}

	if crit.Page < 1 {
		crit.Page = 1
	}
	if crit.PageSize < 1 || crit.PageSize > 500 {
		crit.PageSize = 100
	}
	orderCol := "game_time"
	switch crit.OrderBy {
	case "created", "duration":
		orderCol = crit.OrderBy
	}

	where := []string{"visibility = ?"}
	args := []any{model.VisibilityPublic}
	if crit.DurationMin != nil {
		where = append(where, "duration >= ?")
		args = append(args, *crit.DurationMin)
	}
	if crit.DurationMax != nil {
		where = append(where, "duration <= ?")
		args = append(args, *crit.DurationMax)
	}
	if crit.IsMultiplayer != nil {
		where = append(where, "is_multiplayer = ?")
		args = append(args, *crit.IsMultiplayer)
	}
	if crit.IncludeAI != nil {
		where = append(where, "include_ai = ?")
		args = append(args, *crit.IncludeAI)
	}
	if len(crit.Matchups) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(crit.Matchups)), ",")
		where = append(where, fmt.Sprintf("matchup IN (%s)", placeholders))
		for _, m := range crit.Matchups {
			args = append(args, m)
		}
	}
	if crit.MapNameLike != "" {
		where = append(where, "map_name LIKE ?")
		args = append(args, "%"+crit.MapNameLike+"%")
	}
	if crit.InstructionLike != "" {
		where = append(where, "instruction LIKE ?")
		args = append(args, "%"+crit.InstructionLike+"%")
	}

	offset := (crit.Page - 1) * crit.PageSize
	query := fmt.Sprintf(`SELECT game_guid, matchup, map_name, duration, game_time FROM games
		WHERE %s ORDER BY %s DESC LIMIT ? OFFSET ?`, strings.Join(where, " AND "), orderCol)
	args = append(args, crit.PageSize, offset)

	rows, err := s.DB.QueryContext(r.Context(), query, args...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	defer rows.Close()

	var games []map[string]any
	for rows.Next() {
		var guid, matchup, mapName string
		var duration sql.NullInt64
		var gameTime time.Time
		if err := rows.Scan(&guid, &matchup, &mapName, &duration, &gameTime); err != nil {
			continue
		}
		games = append(games, map[string]any{
			"guid": guid, "matchup": matchup, "map_name": mapName,
			"duration": duration.Int64, "game_time": gameTime,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"games": games, "page": crit.Page, "page_size": crit.PageSize})
}

func (s *Server) handleGameDelete(w http.ResponseWriter, r *http.Request) {
	guid := r.URL.Query().Get("guid")
	if !isHexGUID(guid) {
		writeError(w, http.StatusBadRequest, "bad_request", "guid must be 32 hex characters")
		return
	}
	tx, err := s.DB.BeginTx(r.Context(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	defer tx.Rollback()
	// Owned rows go first so the games row can be removed under foreign_keys=on.
	for _, table := range []string{"players", "files", "chats", "legacy_info", "games"} {
		if _, err := tx.ExecContext(r.Context(), `DELETE FROM `+table+` WHERE game_guid = ?`, guid); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
	}
	if err := tx.Commit(); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": guid})
}

func (s *Server) handleGameReparse(w http.ResponseWriter, r *http.Request) {
	guid := r.URL.Query().Get("guid")
	if !isHexGUID(guid) {
		writeError(w, http.StatusBadRequest, "bad_request", "guid must be 32 hex characters")
		return
	}
	var rawFilename string
	err := s.DB.QueryRowContext(r.Context(), `SELECT raw_filename FROM files WHERE game_guid = ? ORDER BY id DESC LIMIT 1`, guid).Scan(&rawFilename)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "no source file on record for this guid")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 100*time.Second)
	defer cancel()
	outcome := s.Processor.Process(ctx, rawFilename, recordproc.Options{SyncProc: true, S3Replace: true, Source: "reparse"})
	if outcome.Status == "success" || outcome.Status == "updated" {
		s.scheduleRating()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": outcome.Status, "guid": outcome.GUID})
}

func (s *Server) handleGameSetVisibility(w http.ResponseWriter, r *http.Request) {
	guid := r.URL.Query().Get("guid")
	level, err := strconv.Atoi(r.URL.Query().Get("visibility"))
	if !isHexGUID(guid) || err != nil || level < 0 || level > 2 {
		writeError(w, http.StatusBadRequest, "bad_request", "guid and visibility (0-2) are required")
		return
	}
	if _, err := s.DB.ExecContext(r.Context(), `UPDATE games SET visibility = ? WHERE game_guid = ?`, level, guid); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"guid": guid, "visibility": level})
}

var hexGUIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

func isHexGUID(s string) bool {
	return hexGUIDPattern.MatchString(s)
}

func clampLimit(raw string, def, max int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// fetchGameByGUID returns a game row; admin callers may pass
// includePrivate=true to bypass the visibility filter.
func fetchGameByGUID(ctx context.Context, db *sql.DB, guid string, includePrivate bool) (map[string]any, error) {
	query := `SELECT game_guid, duration, matchup, map_name, map_size, version_code, game_time, visibility FROM games WHERE game_guid = ?`
	if !includePrivate {
		query += fmt.Sprintf(" AND visibility = %d", model.VisibilityPublic)
	}
	row := db.QueryRowContext(ctx, query, guid)

	var (
		gGUID, matchup, mapName, mapSize, versionCode string
		duration                                       sql.NullInt64
		gameTime                                       time.Time
		visibility                                      int
	)
	if err := row.Scan(&gGUID, &duration, &matchup, &mapName, &mapSize, &versionCode, &gameTime, &visibility); err != nil {
		return nil, err
	}
	return map[string]any{
		"guid": gGUID, "duration": duration.Int64, "matchup": matchup,
		"map_name": mapName, "map_size": mapSize, "version_code": versionCode,
		"game_time": gameTime, "visibility": visibility,
	}, nil
}
