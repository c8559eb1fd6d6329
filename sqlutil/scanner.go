package sqlutil

// Scannable represents an object that can be scanned into a destination.
type Scannable interface {
	Scan(dest ...any) error
}

// Rows represents a database result set that can be iterated over.
// *sql.Rows satisfies it directly; pgx.Rows through FromPgx.
type Rows interface {
	Close() error
	Err() error
	Next() bool
	Scan(dest ...any) error
}

// ScanRows iterates over database rows and applies the provided scan function to each row.
// Rows are always closed; the first of scan, iteration or close errors is returned.
func ScanRows(r Rows, scanFunc func(row Scannable) error) (err error) {
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for r.Next() {
		if err := scanFunc(r); err != nil {
			return err
		}
	}
	return r.Err()
}

// Collect scans every row into a value of T.
func Collect[T any](r Rows, scanFunc func(row Scannable) (T, error)) ([]T, error) {
	var out []T
	err := ScanRows(r, func(row Scannable) error {
		v, err := scanFunc(row)
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// pgxRows is the subset of pgx.Rows used by FromPgx.
type pgxRows interface {
	Close()
	Err() error
	Next() bool
	Scan(dest ...any) error
}

type pgxAdapter struct {
	pgxRows
}

func (a pgxAdapter) Close() error {
	a.pgxRows.Close()
	return nil
}

// FromPgx adapts pgx rows, whose Close returns nothing, to Rows.
func FromPgx(r pgxRows) Rows {
	return pgxAdapter{r}
}
