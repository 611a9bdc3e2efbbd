package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	idempotencyTable            = "idempotency_keys"
	defaultIdempotencyRetention = 7 * 24 * time.Hour
)

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// Execer runs one statement. *pgxpool.Pool and pgx.Tx satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// IdempotencyStore claims request keys of one module. A claimed key blocks
// replays until it is released or outlives the retention, after which the
// next claim takes it over.
type IdempotencyStore struct {
	db        Execer
	module    string
	retention time.Duration
	builder   squirrel.StatementBuilderType
	now       func() time.Time
}

// NewIdempotencyStore builds the key store of module. A non-positive
// retention keeps claims for a week.
func NewIdempotencyStore(db Execer, module string, retention time.Duration) *IdempotencyStore {
	if retention <= 0 {
		retention = defaultIdempotencyRetention
	}
	return &IdempotencyStore{
		db:        db,
		module:    module,
		retention: retention,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:       time.Now,
	}
}

// Claim records key. It returns ErrIdempotencyConflict while a live claim exists.
func (s *IdempotencyStore) Claim(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	q, err := s.claim(key)
	if err != nil {
		return err
	}
	n, err := s.exec(ctx, q)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// Release drops the claim on key so the request may be submitted again.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return ErrIdempotencyKeyRequired
	}
	_, err := s.exec(ctx, s.builder.Delete(idempotencyTable).
		Where(squirrel.Eq{"module": s.module, "key": key}))
	return err
}

// Expire deletes the claims of the module older than the retention.
func (s *IdempotencyStore) Expire(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, nil
	}
	return s.exec(ctx, s.builder.Delete(idempotencyTable).
		Where(squirrel.Eq{"module": s.module}).
		Where(squirrel.Lt{"created_at": s.cutoff()}))
}

func (s *IdempotencyStore) claim(key string) (squirrel.Sqlizer, error) {
	if key == "" {
		return nil, ErrIdempotencyKeyRequired
	}
	if s.module == "" {
		return nil, errors.New("idempotency: module required")
	}
	return s.builder.Insert(idempotencyTable).
		Columns("module", "key", "created_at").
		Values(s.module, key, s.now().UTC()).
		Suffix("ON CONFLICT (module, key) DO UPDATE SET created_at = EXCLUDED.created_at WHERE "+idempotencyTable+".created_at < ?", s.cutoff()), nil
}

func (s *IdempotencyStore) cutoff() time.Time {
	return s.now().UTC().Add(-s.retention)
}

func (s *IdempotencyStore) exec(ctx context.Context, q squirrel.Sqlizer) (int64, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("idempotency: build statement: %w", err)
	}
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
