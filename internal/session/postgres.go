package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/doctag-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock
// satisfies it too, which keeps the store testable without a database.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	key        TEXT PRIMARY KEY,
	id         TEXT NOT NULL,
	document   JSONB NOT NULL,
	state      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
`

// Migrate creates the sessions table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, key string) (*model.Session, error) {
	var stateJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM sessions WHERE key = $1`, key,
	).Scan(&stateJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load session")
	}

	var sess model.Session
	if err := json.Unmarshal(stateJSON, &sess); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal session")
	}
	return &sess, nil
}

func (s *PostgresStore) Save(ctx context.Context, key string, sess *model.Session) error {
	sess.UpdatedAt = time.Now().UTC()

	stateJSON, err := json.Marshal(sess)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session")
	}
	docJSON, err := json.Marshal(sess.Document)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal document identity")
	}

	// Wholesale replace keeps the stored record atomic from the caller's
	// perspective; a partial append could never be resumed safely.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (key, id, document, state, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET id = $2, document = $3, state = $4, updated_at = $5`,
		key, sess.ID, docJSON, stateJSON, sess.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: save session")
}

func (s *PostgresStore) Clear(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE key = $1`, key)
	return eris.Wrap(err, "postgres: clear session")
}

// List returns all stored sessions, most recently updated first.
func (s *PostgresStore) List(ctx context.Context) ([]model.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state FROM sessions ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var stateJSON []byte
		if err := rows.Scan(&stateJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		var sess model.Session
		if err := json.Unmarshal(stateJSON, &sess); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal session")
		}
		sessions = append(sessions, sess)
	}
	return sessions, eris.Wrap(rows.Err(), "postgres: list sessions iterate")
}
