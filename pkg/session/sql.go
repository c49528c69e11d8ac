package session

import (
	"context"
	"fmt"
	"time"

	"github.com/clamentos/blackhole/internal/protocol"
	"github.com/clamentos/blackhole/pkg/repository"
)

// SQLConfig configures a SQLStore.
type SQLConfig struct {
	// Table holds the sessions. Defaults to "sessions".
	Table string `mapstructure:"table"`

	// CreateTable runs CREATE TABLE IF NOT EXISTS at startup.
	CreateTable bool `mapstructure:"create_table"`

	TTL time.Duration `mapstructure:"ttl"`
}

type sessionRow struct {
	ID        string
	User      string
	ExpiresAt int64
}

func (r *sessionRow) Values() []any   { return []any{r.ID, r.User, r.ExpiresAt} }
func (r *sessionRow) Pointers() []any { return []any{&r.ID, &r.User, &r.ExpiresAt} }

// SQLStore keeps sessions in a table reached through the repository, so it
// shares the connection pool and its retry rules with the rest of the
// server.
type SQLStore struct {
	repo       *repository.Repository
	descriptor *repository.Descriptor
	ttl        time.Duration
	now        func() time.Time
}

// NewSQLStore binds a store to repo, creating the table when asked.
func NewSQLStore(ctx context.Context, repo *repository.Repository, cfg SQLConfig) (*SQLStore, error) {
	if cfg.Table == "" {
		cfg.Table = "sessions"
	}

	d := &repository.Descriptor{
		Table:   cfg.Table,
		Columns: []string{"id", "user_name", "expires_at"},
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	s := &SQLStore{repo: repo, descriptor: d, ttl: ttlOrDefault(cfg.TTL), now: time.Now}

	if cfg.CreateTable {
		ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s ("+
			"id VARCHAR(64) PRIMARY KEY, "+
			"user_name VARCHAR(255) NOT NULL, "+
			"expires_at BIGINT NOT NULL)", d.Table)
		if _, err := repo.Exec(ctx, ddl); err != nil {
			return nil, fmt.Errorf("create session table: %w", err)
		}
	}
	return s, nil
}

func (s *SQLStore) Create(ctx context.Context, user string) (*Session, error) {
	sess, err := newSession(user, s.ttl, s.now())
	if err != nil {
		return nil, err
	}

	row := &sessionRow{ID: Key(sess.ID), User: user, ExpiresAt: sess.ExpiresAt.UnixNano()}
	if _, err := s.repo.Insert(ctx, s.descriptor, row); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SQLStore) Validate(ctx context.Context, id protocol.SessionID) (*Session, error) {
	filter := &sessionRow{ID: Key(id)}
	rows, err := s.repo.Select(ctx, s.descriptor, filter, repository.Mask(0), func() repository.Entity {
		return &sessionRow{}
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	row := rows[0].(*sessionRow)
	sess := &Session{ID: id, User: row.User, ExpiresAt: time.Unix(0, row.ExpiresAt)}
	if sess.Expired(s.now()) {
		if _, err := s.repo.Delete(ctx, s.descriptor, filter, repository.Mask(0)); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *SQLStore) Delete(ctx context.Context, id protocol.SessionID) error {
	n, err := s.repo.Delete(ctx, s.descriptor, &sessionRow{ID: Key(id)}, repository.Mask(0))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Sweep deletes every session that expired at or before now.
func (s *SQLStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE expires_at <= ?", s.descriptor.Table)
	n, err := s.repo.Exec(ctx, query, now.UnixNano())
	return int(n), err
}

// Close does nothing; the pool belongs to the server.
func (s *SQLStore) Close() error {
	return nil
}
