// Package sqlite implements lease.Store on SQLite using modernc.org/sqlite.
//
// SQLite allows a single writer, so Open limits the pool to one connection;
// every store call then runs in its own short transaction on it.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/enverbisevac/leaselock/errors"
	"github.com/enverbisevac/leaselock/lease"
	"github.com/enverbisevac/leaselock/sqlutil"
)

var (
	_ lease.Store    = (*Store)(nil)
	_ lease.Migrator = (*Store)(nil)
	_ lease.Lister   = (*Store)(nil)
)

// Store implements lease.Store on a SQLite database.
type Store struct {
	config Config
	db     *sql.DB
	owned  bool
}

// Open opens the database file at path with WAL journaling and a busy
// timeout. The returned store closes the database on Close.
func Open(ctx context.Context, path string, options ...Option) (*Store, error) {
	config := defaultConfig()
	for _, opt := range options {
		opt.Apply(&config)
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", config.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}

	s := New(db, options...)
	s.owned = true
	return s, nil
}

// New creates a store on an already opened database.
func New(db *sql.DB, options ...Option) *Store {
	config := defaultConfig()
	for _, opt := range options {
		opt.Apply(&config)
	}
	return &Store{
		config: config,
		db:     db,
	}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the lock table and its index.
func (s *Store) Migrate(ctx context.Context) error {
	return s.inTx(ctx, "migrate", func(tx *sql.Tx) error {
		for _, stmt := range migrations(s.config.TablePrefix) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) table() string {
	return s.config.TablePrefix + "lock"
}

func (s *Store) TryInsert(ctx context.Context, key, region, owner string, ttl time.Duration) (bool, error) {
	query := fmt.Sprintf(`INSERT INTO %[1]s (region, lock_key, client_id, created_at, expired_after)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (region, lock_key) DO UPDATE SET
	client_id = excluded.client_id,
	created_at = excluded.created_at,
	expired_after = excluded.expired_after
WHERE %[1]s.expired_after <= ?`, s.table())

	now := s.config.Now()
	var n int64
	err := s.inTx(ctx, "try insert", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, region, key, owner,
			now.UnixNano(), now.Add(ttl).UnixNano(), now.UnixNano())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n == 1, err
}

func (s *Store) IsValid(ctx context.Context, key, region string) (bool, error) {
	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE region = ? AND lock_key = ? AND expired_after > ?`,
		s.table(),
	)

	var count int
	err := s.inTx(ctx, "is valid", func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, query, region, key, s.config.Now().UnixNano()).Scan(&count)
	})
	return count > 0, err
}

func (s *Store) Renew(ctx context.Context, key, region, owner string, ttl time.Duration) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s SET created_at = ?, expired_after = ?
WHERE region = ? AND lock_key = ? AND client_id = ? AND expired_after > ?`, s.table())

	now := s.config.Now()
	return s.exec(ctx, "renew", query,
		now.UnixNano(), now.Add(ttl).UnixNano(), region, key, owner, now.UnixNano())
}

func (s *Store) Delete(ctx context.Context, key, region, owner string) (bool, error) {
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE region = ? AND lock_key = ? AND client_id = ?`,
		s.table(),
	)
	return s.exec(ctx, "delete", query, region, key, owner)
}

func (s *Store) DeleteExpired(ctx context.Context, region string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE region = ? AND expired_after <= ?`, s.table())

	var n int64
	err := s.inTx(ctx, "delete expired", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, region, s.config.Now().UnixNano())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (s *Store) Check(ctx context.Context) error {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE 1 = 0`, s.table())

	var count int
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return s.wrap("check", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, region string) ([]lease.Lease, error) {
	query := fmt.Sprintf(`SELECT region, lock_key, client_id, created_at, expired_after
FROM %s WHERE region = ? ORDER BY lock_key`, s.table())

	rows, err := s.db.QueryContext(ctx, query, region)
	if err != nil {
		return nil, s.wrap("list", err)
	}
	leases, err := sqlutil.Collect(rows, func(row sqlutil.Scannable) (lease.Lease, error) {
		var l lease.Lease
		var created, expiredAfter int64
		if err := row.Scan(&l.Region, &l.Key, &l.Owner, &created, &expiredAfter); err != nil {
			return l, err
		}
		l.CreatedAt = time.Unix(0, created).UTC()
		l.ExpiredAfter = time.Unix(0, expiredAfter).UTC()
		return l, nil
	})
	if err != nil {
		return nil, s.wrap("list", err)
	}
	return leases, nil
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) (bool, error) {
	var n int64
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n > 0, err
}

// inTx runs fn in a new transaction that commits or rolls back on its own.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return s.wrap(op, err)
	}
	if err := tx.Commit(); err != nil {
		return s.wrap(op, err)
	}
	return nil
}

// wrap classifies err: busy and locked databases are transient, a missing
// table is a configuration error.
func (s *Store) wrap(op string, err error) error {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return errors.Transient(err, "sqlite: %s", op)
		}
	}
	if strings.Contains(err.Error(), "no such table") {
		return errors.Configuration(err, "sqlite: lock table %s does not exist", s.table())
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}
