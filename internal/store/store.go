// Package store opens and migrates the SQLite relational store that backs
// games, players, files, chats, ratings and the response cache (spec.md §3).
// It follows the teacher's database/sql session-factory shape
// (gormbe.OpenDB / services/pool connectDB) adapted from Postgres to SQLite.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Store wraps a *sql.DB opened against the configured SQLite file.
// Per spec.md §5, the file is shared between the HTTP process, ingest
// workers and the rating subprocess. Each process opens one Store and its
// goroutines share the resulting *sql.DB; each write runs in its own
// transaction.
type Store struct {
	DB *sql.DB
}

// Open connects to the SQLite database at path, enabling WAL mode and a busy
// timeout so concurrent writers (ingest workers, the rating subprocess)
// retry instead of failing immediately on SQLITE_BUSY.
func Open(path string, echoSQL bool, log *logrus.Entry) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // one connection: statements from this process run one at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping %s: %w", path, err)
	}

	if echoSQL && log != nil {
		log.WithField("dsn", path).Debug("store: opened")
	}

	s := &Store{DB: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS games (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created DATETIME DEFAULT CURRENT_TIMESTAMP,
	modified DATETIME DEFAULT CURRENT_TIMESTAMP,
	game_guid TEXT UNIQUE NOT NULL,
	duration INTEGER,
	include_ai BOOLEAN,
	is_multiplayer BOOLEAN,
	population INTEGER,
	speed TEXT,
	matchup TEXT,
	map_name TEXT,
	map_size TEXT,
	version_code TEXT,
	version_log INTEGER,
	version_raw TEXT,
	version_save REAL,
	version_scenario REAL,
	victory_type TEXT,
	instruction TEXT,
	game_time DATETIME,
	visibility INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_games_created ON games(created);
CREATE INDEX IF NOT EXISTS idx_games_guid ON games(game_guid);
CREATE INDEX IF NOT EXISTS idx_games_time_guid ON games(game_time, game_guid);

CREATE TABLE IF NOT EXISTS players (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created DATETIME DEFAULT CURRENT_TIMESTAMP,
	modified DATETIME DEFAULT CURRENT_TIMESTAMP,
	game_guid TEXT NOT NULL REFERENCES games(game_guid),
	slot INTEGER,
	index_player INTEGER,
	name TEXT DEFAULT '<NULL>',
	name_hash TEXT DEFAULT '3a7ac8a2092fc743e423336f473c7dac',
	type TEXT,
	team INTEGER,
	color_index INTEGER,
	init_x REAL,
	init_y REAL,
	disconnected BOOLEAN,
	is_winner BOOLEAN,
	is_main_operator BOOLEAN,
	civ_id INTEGER,
	civ_name TEXT,
	feudal_time INTEGER,
	castle_time INTEGER,
	imperial_time INTEGER,
	resigned_time INTEGER,
	rating_change INTEGER,
	UNIQUE(game_guid, slot)
);
CREATE INDEX IF NOT EXISTS idx_players_guid ON players(game_guid);
CREATE INDEX IF NOT EXISTS idx_players_name_hash ON players(name_hash);
CREATE INDEX IF NOT EXISTS idx_players_name_guid ON players(name, game_guid);

CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created DATETIME DEFAULT CURRENT_TIMESTAMP,
	modified DATETIME DEFAULT CURRENT_TIMESTAMP,
	game_guid TEXT NOT NULL REFERENCES games(game_guid),
	md5 TEXT NOT NULL,
	parser TEXT,
	parse_time REAL,
	parsed_status TEXT,
	raw_filename TEXT,
	raw_lastmodified DATETIME,
	notes TEXT,
	recorder_slot INTEGER,
	source TEXT
);
CREATE INDEX IF NOT EXISTS idx_files_guid ON files(game_guid);
CREATE INDEX IF NOT EXISTS idx_files_md5 ON files(md5);

CREATE TABLE IF NOT EXISTS chats (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created DATETIME DEFAULT CURRENT_TIMESTAMP,
	modified DATETIME DEFAULT CURRENT_TIMESTAMP,
	game_guid TEXT NOT NULL REFERENCES games(game_guid),
	chat_time INTEGER,
	chat_content TEXT,
	UNIQUE(game_guid, chat_time, chat_content)
);
CREATE INDEX IF NOT EXISTS idx_chats_time_content ON chats(chat_time, chat_content);

CREATE TABLE IF NOT EXISTS legacy_info (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created DATETIME,
	modified DATETIME,
	legacy_id INTEGER,
	filenames TEXT,
	game_guid TEXT NOT NULL REFERENCES games(game_guid)
);

CREATE TABLE IF NOT EXISTS ratings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT,
	name_hash TEXT,
	version_code TEXT,
	matchup TEXT,
	rating INTEGER,
	wins INTEGER,
	total INTEGER,
	streak INTEGER,
	streak_max INTEGER,
	highest INTEGER,
	lowest INTEGER,
	first_played DATETIME,
	last_played DATETIME
);
CREATE INDEX IF NOT EXISTS idx_ratings_name_hash ON ratings(name_hash);

CREATE TABLE IF NOT EXISTS cache (
	key TEXT PRIMARY KEY,
	value BLOB
);
`

func (s *Store) migrate() error {
	_, err := s.DB.Exec(schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}
