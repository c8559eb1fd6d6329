// Package memory implements lease.Store in process memory. It is meant for
// tests and for deployments where every contender lives in one process.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/enverbisevac/leaselock/lease"
)

var _ lease.Store = (*Store)(nil)

type rowKey struct {
	region string
	key    string
}

// Store is an in-memory lease table.
type Store struct {
	now lease.NowFunc

	mu   sync.Mutex
	rows map[rowKey]lease.Lease
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source of the store.
func WithClock(now lease.NowFunc) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty store.
func New(options ...Option) *Store {
	s := &Store{
		now:  time.Now,
		rows: make(map[rowKey]lease.Lease),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *Store) TryInsert(_ context.Context, key, region, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	k := rowKey{region: region, key: key}
	if row, ok := s.rows[k]; ok && row.Valid(now) {
		return false, nil
	}
	s.rows[k] = lease.Lease{
		Region:       region,
		Key:          key,
		Owner:        owner,
		CreatedAt:    now,
		ExpiredAfter: now.Add(ttl),
	}
	return true, nil
}

func (s *Store) IsValid(_ context.Context, key, region string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[rowKey{region: region, key: key}]
	return ok && row.Valid(s.now()), nil
}

func (s *Store) Renew(_ context.Context, key, region, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	k := rowKey{region: region, key: key}
	row, ok := s.rows[k]
	if !ok || row.Owner != owner || !row.Valid(now) {
		return false, nil
	}
	row.CreatedAt = now
	row.ExpiredAfter = now.Add(ttl)
	s.rows[k] = row
	return true, nil
}

func (s *Store) Delete(_ context.Context, key, region, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := rowKey{region: region, key: key}
	row, ok := s.rows[k]
	if !ok || row.Owner != owner {
		return false, nil
	}
	delete(s.rows, k)
	return true, nil
}

func (s *Store) DeleteExpired(_ context.Context, region string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for k, row := range s.rows {
		if k.region == region && !row.Valid(now) {
			delete(s.rows, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) Check(context.Context) error {
	return nil
}

// List returns the leases of region ordered by key.
func (s *Store) List(_ context.Context, region string) ([]lease.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []lease.Lease
	for k, row := range s.rows {
		if k.region == region {
			out = append(out, row)
		}
	}
	slices.SortFunc(out, func(a, b lease.Lease) int {
		return strings.Compare(a.Key, b.Key)
	})
	return out, nil
}
