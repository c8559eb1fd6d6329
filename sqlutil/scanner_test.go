package sqlutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRows struct {
	values  []string
	pos     int
	closed  bool
	err     error
	scanErr error
}

func (r *fakeRows) Close() error { r.closed = true; return nil }
func (r *fakeRows) Err() error   { return r.err }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.values) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	*(dest[0].(*string)) = r.values[r.pos-1]
	return nil
}

type pgxLike struct {
	fakeRows
}

func (r *pgxLike) Close() { r.closed = true }

func scanString(row Scannable) (string, error) {
	var s string
	err := row.Scan(&s)
	return s, err
}

func TestCollect(t *testing.T) {
	rows := &fakeRows{values: []string{"a", "b", "c"}}

	got, err := Collect(rows, scanString)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.True(t, rows.closed)
}

func TestCollectScanError(t *testing.T) {
	boom := errors.New("boom")
	rows := &fakeRows{values: []string{"a"}, scanErr: boom}

	_, err := Collect(rows, scanString)
	assert.ErrorIs(t, err, boom)
	assert.True(t, rows.closed)
}

func TestScanRowsIterationError(t *testing.T) {
	boom := errors.New("conn reset")
	rows := &fakeRows{err: boom}

	err := ScanRows(rows, func(Scannable) error { return nil })
	assert.ErrorIs(t, err, boom)
}

func TestFromPgx(t *testing.T) {
	rows := &pgxLike{fakeRows{values: []string{"x"}}}

	got, err := Collect(FromPgx(rows), scanString)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, got)
	assert.True(t, rows.closed)
}
