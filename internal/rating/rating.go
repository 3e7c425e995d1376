// Package rating implements the streaming ELO batch engine of spec.md §4.H.
// It performs a single chronological pass over qualifying games, updating
// an in-memory rating cache keyed by (version_code, matchup partition,
// name_hash), then replaces the Ratings table wholesale.
package rating

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lichifeng/mgxmonitor/internal/model"
)

const (
	defaultStartRating = 1600
	flushEvery         = 10_000
)

// playerRecord is the mutable per-player aggregate kept in the cache while
// the chronological pass runs.
type playerRecord struct {
	nameHash    string
	rating      float64
	total       int
	wins        int
	lowest      float64
	highest     float64
	streak      int
	streakMax   int
	firstPlayed time.Time
	lastPlayed  time.Time
	playerID    int64 // row id of the most recent sighting, for the rating_change flush
}

type cacheKey struct {
	versionCode string
	partition   string
}

// Engine runs one full rating pass against DB.
type Engine struct {
	DB                *sql.DB
	KFactor           int
	DurationThreshold int
	BatchSize         int
	log               *logrus.Entry

	cache        map[cacheKey]map[string]*playerRecord
	pendingDelta []playerDelta
}

type playerDelta struct {
	playerID int64
	delta    int
}

func New(db *sql.DB, kFactor, durationThreshold, batchSize int, log *logrus.Entry) *Engine {
	if kFactor <= 0 {
		kFactor = 32
	}
	return &Engine{
		DB:                db,
		KFactor:           kFactor,
		DurationThreshold: durationThreshold,
		BatchSize:         batchSize,
		log:               log,
		cache:             make(map[cacheKey]map[string]*playerRecord),
	}
}

type gameRow struct {
	gameGUID    string
	versionCode string
	matchup     string
	nameHash    string
	isWinner    bool
	gameTime    time.Time
	playerID    int64
}

// Run performs the full pass: stream qualifying rows, flush per-game
// ratings, periodically persist rating_change to Players, then replace the
// Ratings table and purge the cache.
func (e *Engine) Run() error {
	var currentGUID string
	var winners, losers []*playerRecord
	processed := 0

	rows, err := e.query()
	if err != nil {
		return err
	}
	defer rows.Close()

	flushGame := func(col map[string]*playerRecord) {
		e.updateGameRatings(col, winners, losers)
		winners = nil
		losers = nil
	}

	var currentCol map[string]*playerRecord
	first := true

	for rows.Next() {
		var r gameRow
		if err := rows.Scan(&r.gameGUID, &r.versionCode, &r.matchup, &r.nameHash, &r.isWinner, &r.gameTime, &r.playerID); err != nil {
			return fmt.Errorf("rating: scan: %w", err)
		}

		if first {
			currentGUID = r.gameGUID
			first = false
		}

		if r.gameGUID != currentGUID {
			flushGame(currentCol)
			processed++
			if processed%flushEvery == 0 {
				if err := e.flushPlayerDeltas(); err != nil {
					return err
				}
			}
			currentGUID = r.gameGUID
		}

		partition := model.PartitionTeam
		if r.matchup == model.Partition1v1 {
			partition = model.Partition1v1
		}
		key := cacheKey{versionCode: r.versionCode, partition: partition}
		col, ok := e.cache[key]
		if !ok {
			col = make(map[string]*playerRecord)
			e.cache[key] = col
		}
		currentCol = col

		rec, ok := col[r.nameHash]
		if !ok {
			rec = &playerRecord{
				nameHash:    r.nameHash,
				rating:      defaultStartRating,
				lowest:      defaultStartRating,
				highest:     defaultStartRating,
				firstPlayed: r.gameTime,
				lastPlayed:  r.gameTime,
				playerID:    r.playerID,
			}
			col[r.nameHash] = rec
		} else {
			rec.lastPlayed = r.gameTime
			rec.playerID = r.playerID
		}

		if r.isWinner {
			winners = append(winners, rec)
		} else {
			losers = append(losers, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if currentCol != nil {
		flushGame(currentCol)
	}

	if err := e.flushPlayerDeltas(); err != nil {
		return err
	}
	if err := e.replaceRatingsTable(); err != nil {
		return err
	}
	return e.purgeCache()
}

func (e *Engine) query() (*sql.Rows, error) {
	return e.DB.Query(`
		SELECT players.game_guid, games.version_code, games.matchup, players.name_hash,
		       players.is_winner, games.game_time, players.id
		FROM players
		JOIN games ON players.game_guid = games.game_guid
		WHERE games.duration > ? AND games.is_multiplayer = 1 AND games.include_ai = 0
		  AND players.is_main_operator = 1
		ORDER BY games.game_time ASC, players.game_guid ASC, players.is_winner ASC
	`, e.DurationThreshold)
}

// updateGameRatings applies one game's rating flush (spec.md §4.H step list).
func (e *Engine) updateGameRatings(col map[string]*playerRecord, winners, losers []*playerRecord) {
	if hasDuplicateNameHash(winners) || hasDuplicateNameHash(losers) {
		return
	}
	if len(winners) == 0 || len(losers) == 0 {
		return
	}

	rw := meanRating(winners)
	rl := meanRating(losers)

	if (rw < 500 || rw > 4000 || rl < 500 || rl > 4000) && e.log != nil {
		e.log.WithFields(logrus.Fields{
			"rating_winner": rw,
			"rating_loser":  rl,
		}).Warn("rating.implausible_average")
	}

	deltaWinner, deltaLoser := calcDelta(rw, rl, float64(e.KFactor))

	for _, p := range winners {
		p.rating += deltaWinner
		p.total++
		p.wins++
		if p.rating > p.highest {
			p.highest = p.rating
		}
		p.streak++
		if p.streak > p.streakMax {
			p.streakMax = p.streak
		}
		e.pendingDelta = append(e.pendingDelta, playerDelta{playerID: p.playerID, delta: int(deltaWinner)})
	}
	for _, p := range losers {
		p.rating += deltaLoser
		p.total++
		if p.rating < p.lowest {
			p.lowest = p.rating
		}
		p.streak = 0
		e.pendingDelta = append(e.pendingDelta, playerDelta{playerID: p.playerID, delta: int(deltaLoser)})
	}

	_ = col // retained for symmetry with the chronological cursor; ratings live on *playerRecord directly
}

func hasDuplicateNameHash(list []*playerRecord) bool {
	seen := make(map[string]struct{}, len(list))
	for _, p := range list {
		if _, ok := seen[p.nameHash]; ok {
			return true
		}
		seen[p.nameHash] = struct{}{}
	}
	return false
}

func meanRating(list []*playerRecord) float64 {
	var sum float64
	for _, p := range list {
		sum += p.rating
	}
	return sum / float64(len(list))
}

// calcDelta computes symmetric rating deltas from expected scores on the
// logistic curve: Delta_w = round(K*(1-E_l)), Delta_l = round(K*(0-E_w)).
func calcDelta(ratingWinner, ratingLoser, k float64) (deltaWinner, deltaLoser float64) {
	probWinner := winProbability(ratingWinner, ratingLoser)
	probLoser := winProbability(ratingLoser, ratingWinner)
	deltaWinner = math.Round(k * (1 - probLoser))
	deltaLoser = math.Round(k * (0 - probWinner))
	return deltaWinner, deltaLoser
}

func winProbability(a, b float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (b-a)/400))
}

// flushPlayerDeltas persists buffered rating_change values to the Players
// table and clears the buffer.
func (e *Engine) flushPlayerDeltas() error {
	if len(e.pendingDelta) == 0 {
		return nil
	}
	tx, err := e.DB.Begin()
	if err != nil {
		return fmt.Errorf("rating: begin delta flush: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE players SET rating_change = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range e.pendingDelta {
		if _, err := stmt.Exec(d.delta, d.playerID); err != nil {
			return fmt.Errorf("rating: update rating_change: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.pendingDelta = e.pendingDelta[:0]
	return nil
}

// replaceRatingsTable deletes all Rating rows, resets the identity sequence
// (ignoring errors if sqlite_sequence doesn't exist), and bulk-inserts one
// row per non-empty partition entry.
func (e *Engine) replaceRatingsTable() error {
	tx, err := e.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM ratings`); err != nil {
		return err
	}
	tx.Exec(`UPDATE sqlite_sequence SET seq = 0 WHERE name = 'ratings'`) // ignored: table may not exist yet

	stmt, err := tx.Prepare(`INSERT INTO ratings
		(name_hash, version_code, matchup, rating, wins, total, streak, streak_max, highest, lowest, first_played, last_played)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for key, col := range e.cache {
		for nameHash, p := range col {
			if p.total == 0 {
				continue
			}
			_, err := stmt.Exec(nameHash, key.versionCode, key.partition,
				int(p.rating), p.wins, p.total, p.streak, p.streakMax,
				int(p.highest), int(p.lowest), p.firstPlayed, p.lastPlayed)
			if err != nil {
				return fmt.Errorf("rating: insert rating row: %w", err)
			}
		}
	}

	return tx.Commit()
}

// purgeCache wipes the Cache table wholesale; the next read-through request
// rebuilds whichever aggregate it needs (spec.md §4.H cache side effect).
func (e *Engine) purgeCache() error {
	_, err := e.DB.Exec(`DELETE FROM cache`)
	return err
}
