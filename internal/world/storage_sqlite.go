package world

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type sqliteTileStore struct {
	db *sql.DB
}

// NewSQLiteTileStore opens a tile cache backed by a sqlite database at path.
func NewSQLiteTileStore(path string) (TileStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create tile directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open tile db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS tiles (
		fingerprint INTEGER NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (fingerprint, x, y)
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tiles table: %w", err)
	}
	return &sqliteTileStore{db: db}, nil
}

func (s *sqliteTileStore) Load(key TileKey) ([]float32, bool, error) {
	var payload []byte
	err := s.db.QueryRow(
		`SELECT payload FROM tiles WHERE fingerprint = ? AND x = ? AND y = ?`,
		int64(key.Fingerprint), key.Offset.X, key.Offset.Y,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query tile %v: %w", key.Offset, err)
	}
	heights, err := DecodeTile(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode tile %v: %w", key.Offset, err)
	}
	return heights, true, nil
}

func (s *sqliteTileStore) Save(key TileKey, heights []float32) error {
	_, err := s.db.Exec(
		`INSERT INTO tiles (fingerprint, x, y, payload) VALUES (?, ?, ?, ?)
		ON CONFLICT (fingerprint, x, y) DO UPDATE SET payload = excluded.payload`,
		int64(key.Fingerprint), key.Offset.X, key.Offset.Y, EncodeTile(heights),
	)
	if err != nil {
		return fmt.Errorf("save tile %v: %w", key.Offset, err)
	}
	return nil
}

func (s *sqliteTileStore) Len() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tiles: %w", err)
	}
	return n, nil
}

func (s *sqliteTileStore) Close() error {
	return s.db.Close()
}
