package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/doctag-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	key        TEXT PRIMARY KEY,
	id         TEXT NOT NULL,
	document   TEXT NOT NULL,
	state      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

// Migrate creates the sessions table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, key string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE key = ?`, key,
	)
	var stateJSON string
	err := row.Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load session")
	}

	var sess model.Session
	if err := json.Unmarshal([]byte(stateJSON), &sess); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal session")
	}
	return &sess, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key string, sess *model.Session) error {
	sess.UpdatedAt = time.Now().UTC()

	stateJSON, err := json.Marshal(sess)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session")
	}
	docJSON, err := json.Marshal(sess.Document)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal document identity")
	}

	// Wholesale replace keeps the stored record atomic from the caller's
	// perspective; a partial append could never be resumed safely.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (key, id, document, state, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET id = excluded.id, document = excluded.document,
		 state = excluded.state, updated_at = excluded.updated_at`,
		key, sess.ID, string(docJSON), string(stateJSON), sess.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: save session")
}

func (s *SQLiteStore) Clear(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key)
	return eris.Wrap(err, "sqlite: clear session")
}

// List returns all stored sessions, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state FROM sessions ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var stateJSON string
		if err := rows.Scan(&stateJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		var sess model.Session
		if err := json.Unmarshal([]byte(stateJSON), &sess); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal session")
		}
		sessions = append(sessions, sess)
	}
	return sessions, eris.Wrap(rows.Err(), "sqlite: list sessions iterate")
}
