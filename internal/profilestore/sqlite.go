package profilestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/roomguard/internal/trust"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps profiles in a single SQLite table. The profile body is
// stored as JSON next to a few indexed columns for inspection.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent Put.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite %s: %w", path, err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS trust_profiles (
		identity TEXT PRIMARY KEY,
		base_level INTEGER NOT NULL,
		current_score REAL NOT NULL,
		last_seen TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		body TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, identity string) (*trust.Profile, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM trust_profiles WHERE identity = ?`, identity).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trust.ErrNotFound
		}
		return nil, fmt.Errorf("query profile %q: %w", identity, err)
	}
	return decodeProfile(identity, []byte(body))
}

func (s *SQLiteStore) Put(ctx context.Context, p *trust.Profile) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	var lastSeen string
	if !p.LastSeen.IsZero() {
		lastSeen = p.LastSeen.UTC().Format(time.RFC3339Nano)
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO trust_profiles (identity, base_level, current_score, last_seen, updated_at, body)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(identity) DO UPDATE SET
		base_level = excluded.base_level,
		current_score = excluded.current_score,
		last_seen = excluded.last_seen,
		updated_at = excluded.updated_at,
		body = excluded.body`,
		p.Identity, int(p.BaseLevel), p.CurrentScore, lastSeen,
		time.Now().UTC().Format(time.RFC3339Nano), string(body))
	if err != nil {
		return fmt.Errorf("upsert profile %q: %w", p.Identity, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*trust.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT identity, body FROM trust_profiles ORDER BY identity`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var profiles []*trust.Profile
	for rows.Next() {
		var identity, body string
		if err := rows.Scan(&identity, &body); err != nil {
			return nil, err
		}
		p, err := decodeProfile(identity, []byte(body))
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, identity string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trust_profiles WHERE identity = ?`, identity)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return trust.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func decodeProfile(identity string, body []byte) (*trust.Profile, error) {
	var p trust.Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("corrupt profile %q: %w", identity, err)
	}
	return &p, nil
}
