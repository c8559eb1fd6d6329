// Package pgx implements lease.Store on PostgreSQL, either through a pgx
// pool or through database/sql with the pgx stdlib driver.
package pgx

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/enverbisevac/leaselock/errors"
	"github.com/enverbisevac/leaselock/lease"
	"github.com/enverbisevac/leaselock/sqlutil"
)

var (
	_ lease.Store    = (*Store)(nil)
	_ lease.Migrator = (*Store)(nil)
	_ lease.Lister   = (*Store)(nil)
)

// Store implements lease.Store on a PostgreSQL table.
type Store struct {
	config Config
	pool   *pgxpool.Pool
	db     *sql.DB
}

// New creates a new lease store using pgxpool.
func New(pool *pgxpool.Pool, options ...Option) *Store {
	return &Store{
		config: defaultConfig(options...),
		pool:   pool,
	}
}

// NewStdLib creates a new lease store using database/sql.
func NewStdLib(db *sql.DB, options ...Option) *Store {
	return &Store{
		config: defaultConfig(options...),
		db:     db,
	}
}

func (s *Store) table() string {
	return s.config.TablePrefix + "lock"
}

// Migrate creates the lock table and its index.
func (s *Store) Migrate(ctx context.Context) error {
	return s.inTx(ctx, "migrate", func(q querier) error {
		for _, stmt := range migrations(s.config.TablePrefix) {
			if _, err := q.exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) TryInsert(ctx context.Context, key, region, owner string, ttl time.Duration) (bool, error) {
	query := fmt.Sprintf(`INSERT INTO %s AS t (region, lock_key, client_id, created_at, expired_after)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (region, lock_key) DO UPDATE SET
	client_id = EXCLUDED.client_id,
	created_at = EXCLUDED.created_at,
	expired_after = EXCLUDED.expired_after
WHERE t.expired_after <= $4`, s.table())

	now := s.config.Now()
	return s.exec(ctx, "try insert", query, region, key, owner, now, now.Add(ttl))
}

func (s *Store) IsValid(ctx context.Context, key, region string) (bool, error) {
	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE region = $1 AND lock_key = $2 AND expired_after > $3`,
		s.table(),
	)

	var count int64
	err := s.inTx(ctx, "is valid", func(q querier) error {
		return q.queryRow(ctx, query, region, key, s.config.Now()).Scan(&count)
	})
	return count > 0, err
}

func (s *Store) Renew(ctx context.Context, key, region, owner string, ttl time.Duration) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s SET created_at = $1, expired_after = $2
WHERE region = $3 AND lock_key = $4 AND client_id = $5 AND expired_after > $1`, s.table())

	now := s.config.Now()
	return s.exec(ctx, "renew", query, now, now.Add(ttl), region, key, owner)
}

func (s *Store) Delete(ctx context.Context, key, region, owner string) (bool, error) {
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE region = $1 AND lock_key = $2 AND client_id = $3`,
		s.table(),
	)
	return s.exec(ctx, "delete", query, region, key, owner)
}

func (s *Store) DeleteExpired(ctx context.Context, region string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE region = $1 AND expired_after <= $2`, s.table())

	var n int64
	err := s.inTx(ctx, "delete expired", func(q querier) error {
		var err error
		n, err = q.exec(ctx, query, region, s.config.Now())
		return err
	})
	return n, err
}

func (s *Store) Check(ctx context.Context) error {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE 1 = 0`, s.table())

	return s.inTx(ctx, "check", func(q querier) error {
		var count int64
		return q.queryRow(ctx, query).Scan(&count)
	})
}

func (s *Store) List(ctx context.Context, region string) ([]lease.Lease, error) {
	query := fmt.Sprintf(`SELECT region, lock_key, client_id, created_at, expired_after
FROM %s WHERE region = $1 ORDER BY lock_key`, s.table())

	var leases []lease.Lease
	err := s.inTx(ctx, "list", func(q querier) error {
		rows, err := q.query(ctx, query, region)
		if err != nil {
			return err
		}
		leases, err = sqlutil.Collect(rows, func(row sqlutil.Scannable) (lease.Lease, error) {
			var l lease.Lease
			err := row.Scan(&l.Region, &l.Key, &l.Owner, &l.CreatedAt, &l.ExpiredAfter)
			return l, err
		})
		return err
	})
	return leases, err
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) (bool, error) {
	var n int64
	err := s.inTx(ctx, op, func(q querier) error {
		var err error
		n, err = q.exec(ctx, query, args...)
		return err
	})
	return n > 0, err
}

// inTx runs fn in a transaction of its own, committed on success.
func (s *Store) inTx(ctx context.Context, op string, fn func(q querier) error) error {
	var err error
	if s.pool != nil {
		err = pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
			return fn(pgxQuerier{tx})
		})
	} else {
		err = s.inStdTx(ctx, fn)
	}
	if err != nil {
		return s.wrap(op, err)
	}
	return nil
}

func (s *Store) inStdTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(sqlQuerier{tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// wrap classifies err. Connection failures, timeouts, serialization and
// deadlock failures are transient; an undefined table is a configuration
// error.
func (s *Store) wrap(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42P01":
			return errors.Configuration(err, "pgx: lock table %s does not exist", s.table())
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == "08",
			pgErr.Code == "40001",
			pgErr.Code == "40P01",
			pgErr.Code == "55P03",
			pgErr.Code == "57P01":
			return errors.Transient(err, "pgx: %s", op)
		}
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return errors.Transient(err, "pgx: %s", op)
	}
	return fmt.Errorf("pgx: %s: %w", op, err)
}

// querier hides the difference between a pgx and a database/sql
// transaction.
type querier interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	queryRow(ctx context.Context, query string, args ...any) sqlutil.Scannable
	query(ctx context.Context, query string, args ...any) (sqlutil.Rows, error)
}

type pgxQuerier struct {
	tx pgx.Tx
}

func (q pgxQuerier) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := q.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q pgxQuerier) queryRow(ctx context.Context, query string, args ...any) sqlutil.Scannable {
	return q.tx.QueryRow(ctx, query, args...)
}

func (q pgxQuerier) query(ctx context.Context, query string, args ...any) (sqlutil.Rows, error) {
	rows, err := q.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlutil.FromPgx(rows), nil
}

type sqlQuerier struct {
	tx *sql.Tx
}

func (q sqlQuerier) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q sqlQuerier) queryRow(ctx context.Context, query string, args ...any) sqlutil.Scannable {
	return q.tx.QueryRowContext(ctx, query, args...)
}

func (q sqlQuerier) query(ctx context.Context, query string, args ...any) (sqlutil.Rows, error) {
	return q.tx.QueryContext(ctx, query, args...)
}
