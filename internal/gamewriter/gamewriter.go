// Package gamewriter implements the add_game write path (spec.md §4.D):
// it reconciles a parsed record against any existing row for the same
// game_guid, replaces the player lineup, records the source file, and
// upserts chat lines while ignoring duplicates.
package gamewriter

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"
)

// Outcome values returned by Write.
const (
	StatusInvalid    = "invalid"
	StatusExists     = "exists"
	StatusDuplicated = "duplicated"
	StatusUpdated    = "updated"
	StatusSuccess    = "success"
)

// Input mirrors the subset of a parsed record that add_game reads. Field
// names follow the parser's camelCase JSON, decoded by the caller.
type Input struct {
	GUID             string
	Duration         *int
	IncludeAI        bool
	IsMultiplayer    bool
	Population       int
	SpeedEn          string
	Matchup          string
	MapNameEn        string
	MapSizeEn        string
	VersionCode      string
	VersionLogVer    int
	VersionRawStr    string
	VersionSaveVer   float64
	VersionScenario  float64
	VictoryTypeEn    string
	Instruction      string
	GameTimeUnix     *int64
	MD5              string
	Parser           string
	ParseTime        float64
	Status           string
	RealFile         string
	Message          string
	RecPlayer        int
	Players          []PlayerInput
	Chat             []ChatInput
}

type PlayerInput struct {
	Slot           int
	Index          int
	Name           string
	TypeEn         string
	Team           int
	ColorIndex     int
	InitX, InitY   float64
	Disconnected   bool
	IsWinner       bool
	MainOp         bool
	CivID          int
	CivNameEn      string
	FeudalTime     *int
	CastleTime     *int
	ImperialTime   *int
	Resigned       *int
}

type ChatInput struct {
	Time int
	Msg  string
}

// Writer performs the add_game algorithm against a *sql.DB.
type Writer struct {
	DB  *sql.DB
	log *logrus.Entry
}

func New(db *sql.DB, log *logrus.Entry) *Writer {
	return &Writer{DB: db, log: log}
}

// Write runs the full add_game reconciliation. playedAt, if non-nil, is the
// caller-supplied timestamp (e.g. the uploaded file's last-modified time);
// it competes with the parser's embedded gameTime for the earliest,
// most-trustworthy estimate. source identifies the ingestion channel
// ("upload", "watch", etc).
//
// It makes up to 3 attempts in total, each in a fresh transaction, retrying
// after any error (SQLITE_BUSY, constraint races; spec.md §4.D / §5).
func (w *Writer) Write(in Input, playedAt *time.Time, source string) (status string, guid string, err error) {
	if in.GUID == "" {
		return StatusInvalid, "", errors.New("gamewriter: missing guid")
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		status, guid, lastErr = w.writeOnce(in, playedAt, source)
		if lastErr == nil {
			return status, guid, nil
		}
		if w.log != nil {
			w.log.WithFields(logrus.Fields{"guid": in.GUID, "attempt": attempt, "err": lastErr}).
				Warn("gamewriter: retrying after integrity error")
		}
	}
	return "", "", fmt.Errorf("gamewriter: write %s: %w", in.GUID, lastErr)
}

func (w *Writer) writeOnce(in Input, playedAt *time.Time, source string) (string, string, error) {
	gameTime := deriveGameTime(in.GameTimeUnix, playedAt)

	tx, err := w.DB.Begin()
	if err != nil {
		return "", "", err
	}
	defer tx.Rollback()

	var existingID int64
	var existingDuration sql.NullInt64
	var existingGameTime time.Time
	row := tx.QueryRow(`SELECT id, duration, game_time FROM games WHERE game_guid = ?`, in.GUID)
	found := true
	if err := row.Scan(&existingID, &existingDuration, &existingGameTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			found = false
		} else {
			return "", "", err
		}
	}

	if found && existingDuration.Valid {
		updateGameTime := gameTime.Before(existingGameTime)
		newGameTime := existingGameTime
		if updateGameTime {
			newGameTime = gameTime
		}

		existingDur := int(existingDuration.Int64)
		inDur := 0
		if in.Duration != nil {
			inDur = *in.Duration
		}

		if existingDur > inDur {
			if updateGameTime {
				if _, err := tx.Exec(`UPDATE games SET game_time = ? WHERE id = ?`, newGameTime, existingID); err != nil {
					return "", "", err
				}
				if err := tx.Commit(); err != nil {
					return "", "", err
				}
			}
			return StatusExists, in.GUID, nil
		}
		if existingDur == inDur {
			var dummy int64
			sameFileErr := tx.QueryRow(`SELECT id FROM files WHERE md5 = ? LIMIT 1`, in.MD5).Scan(&dummy)
			if sameFileErr == nil {
				if updateGameTime {
					if _, err := tx.Exec(`UPDATE games SET game_time = ? WHERE id = ?`, newGameTime, existingID); err != nil {
						return "", "", err
					}
					if err := tx.Commit(); err != nil {
						return "", "", err
					}
				}
				return StatusDuplicated, in.GUID, nil
			}
			if sameFileErr != nil && !errors.Is(sameFileErr, sql.ErrNoRows) {
				return "", "", sameFileErr
			}
		}
	}

	if err := upsertGame(tx, in, gameTime, found, existingID); err != nil {
		return "", "", err
	}

	if len(in.Players) > 0 {
		if _, err := tx.Exec(`DELETE FROM players WHERE game_guid = ?`, in.GUID); err != nil {
			return "", "", err
		}
		for _, p := range in.Players {
			name := sanitizePlayerName(p.Name)
			if name == "" {
				name = "<NULL>"
			}
			hash := nameHash(name)
			_, err := tx.Exec(`INSERT INTO players
				(game_guid, slot, index_player, name, name_hash, type, team, color_index,
				 init_x, init_y, disconnected, is_winner, is_main_operator, civ_id, civ_name,
				 feudal_time, castle_time, imperial_time, resigned_time)
				VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
				in.GUID, p.Slot, p.Index, name, hash, p.TypeEn, p.Team, p.ColorIndex,
				p.InitX, p.InitY, p.Disconnected, p.IsWinner, p.MainOp, p.CivID, p.CivNameEn,
				p.FeudalTime, p.CastleTime, p.ImperialTime, p.Resigned)
			if err != nil {
				return "", "", err
			}
		}
	}

	_, err = tx.Exec(`INSERT INTO files
		(game_guid, md5, parser, parse_time, parsed_status, raw_filename, raw_lastmodified, notes, recorder_slot, source)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		in.GUID, in.MD5, in.Parser, in.ParseTime, in.Status, in.RealFile, gameTime, in.Message, in.RecPlayer, source)
	if err != nil {
		return "", "", err
	}

	for _, c := range in.Chat {
		_, err := tx.Exec(`INSERT OR IGNORE INTO chats (game_guid, chat_time, chat_content) VALUES (?,?,?)`,
			in.GUID, c.Time, c.Msg)
		if err != nil {
			return "", "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", "", err
	}

	if found {
		return StatusUpdated, in.GUID, nil
	}
	return StatusSuccess, in.GUID, nil
}

func upsertGame(tx *sql.Tx, in Input, gameTime time.Time, found bool, existingID int64) error {
	if found {
		_, err := tx.Exec(`UPDATE games SET
			duration=?, include_ai=?, is_multiplayer=?, population=?, speed=?, matchup=?,
			map_name=?, map_size=?, version_code=?, version_log=?, version_raw=?, version_save=?,
			version_scenario=?, victory_type=?, instruction=?, game_time=?, modified=CURRENT_TIMESTAMP
			WHERE id=?`,
			in.Duration, in.IncludeAI, in.IsMultiplayer, in.Population, in.SpeedEn, in.Matchup,
			in.MapNameEn, in.MapSizeEn, in.VersionCode, in.VersionLogVer, in.VersionRawStr, in.VersionSaveVer,
			in.VersionScenario, in.VictoryTypeEn, in.Instruction, gameTime, existingID)
		return err
	}
	_, err := tx.Exec(`INSERT INTO games
		(game_guid, duration, include_ai, is_multiplayer, population, speed, matchup,
		 map_name, map_size, version_code, version_log, version_raw, version_save,
		 version_scenario, victory_type, instruction, game_time)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		in.GUID, in.Duration, in.IncludeAI, in.IsMultiplayer, in.Population, in.SpeedEn, in.Matchup,
		in.MapNameEn, in.MapSizeEn, in.VersionCode, in.VersionLogVer, in.VersionRawStr, in.VersionSaveVer,
		in.VersionScenario, in.VictoryTypeEn, in.Instruction, gameTime)
	return err
}

// deriveGameTime reproduces add_game's game_time resolution: prefer the
// parser-embedded unix timestamp, narrow it with the caller-supplied time
// if earlier, then clamp to [1999-03-30, now].
func deriveGameTime(gameTimeUnix *int64, playedAt *time.Time) time.Time {
	gt := time.Now()
	if gameTimeUnix != nil {
		gt = time.Unix(*gameTimeUnix, 0)
	}
	if playedAt != nil && playedAt.Before(gt) {
		gt = *playedAt
	}
	floor := time.Date(1999, 3, 30, 0, 0, 0, 0, time.UTC)
	if gt.Before(floor) || gt.After(time.Now()) {
		gt = time.Now()
	}
	return gt
}

// sanitizePlayerName strips non-printable-ASCII characters below 0x80,
// keeping all characters at or above 0x80 (non-ASCII scripts), then trims
// surrounding whitespace. Ported from sanitize_playername in the original
// implementation.
func sanitizePlayerName(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= 0x80 || isASCIIPrintable(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func isASCIIPrintable(r rune) bool {
	return r == '\t' || r == '\n' || r == '\v' || r == '\f' || r == '\r' ||
		(r >= 0x20 && r < 0x7f) || unicode.IsSpace(r) && r < 0x80
}

func nameHash(name string) string {
	sum := md5.Sum([]byte(name))
	return hex.EncodeToString(sum[:])
}
