package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ardu-agent/internal/core/domain"
	"ardu-agent/internal/core/ports"
)

type PostgresStorage struct {
	Pool *pgxpool.Pool
}

func NewPostgresStorage(ctx context.Context, connStr string) (*PostgresStorage, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database url: %w", err)
	}
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	s := &PostgresStorage{Pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

var _ ports.Storage = (*PostgresStorage)(nil)

func (s *PostgresStorage) Close() {
	s.Pool.Close()
}

func (s *PostgresStorage) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS agent_session (
			id INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			token TEXT NOT NULL,
			expires_at TIMESTAMPTZ,
			user_data JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS feed_snapshot (
			id INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			posts JSONB NOT NULL,
			saved_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS review_log (
			kind TEXT,
			item_id TEXT,
			reviewed_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (kind, item_id)
		)`,
	}

	for _, q := range queries {
		if _, err := s.Pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStorage) SaveSession(ctx context.Context, sess domain.Session) error {
	userData, err := json.Marshal(sess.User)
	if err != nil {
		return err
	}
	var expires *time.Time
	if !sess.ExpiresAt.IsZero() {
		expires = &sess.ExpiresAt
	}
	_, err = s.Pool.Exec(ctx,
		`INSERT INTO agent_session (id, token, expires_at, user_data) VALUES (1, $1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET token = $1, expires_at = $2, user_data = $3`,
		sess.Token, expires, userData)
	return err
}

func (s *PostgresStorage) LoadSession(ctx context.Context) (domain.Session, error) {
	var (
		sess     domain.Session
		expires  *time.Time
		userData []byte
	)
	err := s.Pool.QueryRow(ctx, "SELECT token, expires_at, user_data FROM agent_session WHERE id = 1").
		Scan(&sess.Token, &expires, &userData)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, nil
	}
	if err != nil {
		return domain.Session{}, err
	}
	if expires != nil {
		sess.ExpiresAt = *expires
	}
	if err := json.Unmarshal(userData, &sess.User); err != nil {
		return domain.Session{}, fmt.Errorf("decode stored user: %w", err)
	}
	return sess, nil
}

func (s *PostgresStorage) ClearSession(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, "DELETE FROM agent_session WHERE id = 1")
	return err
}

func (s *PostgresStorage) SaveSnapshot(ctx context.Context, posts []domain.Post) error {
	data, err := json.Marshal(posts)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx,
		`INSERT INTO feed_snapshot (id, posts, saved_at) VALUES (1, $1, CURRENT_TIMESTAMP)
		 ON CONFLICT (id) DO UPDATE SET posts = $1, saved_at = CURRENT_TIMESTAMP`,
		data)
	return err
}

func (s *PostgresStorage) LoadSnapshot(ctx context.Context) ([]domain.Post, error) {
	var data []byte
	err := s.Pool.QueryRow(ctx, "SELECT posts FROM feed_snapshot WHERE id = 1").Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var posts []domain.Post
	if err := json.Unmarshal(data, &posts); err != nil {
		return nil, fmt.Errorf("decode stored snapshot: %w", err)
	}
	return posts, nil
}

func (s *PostgresStorage) IsReviewed(ctx context.Context, kind, id string) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM review_log WHERE kind=$1 AND item_id=$2)", kind, id).Scan(&exists)
	return exists, err
}

func (s *PostgresStorage) MarkReviewed(ctx context.Context, kind, id string) error {
	_, err := s.Pool.Exec(ctx, "INSERT INTO review_log (kind, item_id) VALUES ($1, $2) ON CONFLICT DO NOTHING", kind, id)
	return err
}
