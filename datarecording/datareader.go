package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
)

// FiringQuery selects recorded firings. Zero fields do not filter.
type FiringQuery struct {
	// Name keeps only firings of one event type.
	Name string

	// From and To bound the virtual time of the firings, in nanoseconds. To
	// is inclusive.
	From, To int64

	// MinLateness keeps only firings at least this late, in nanoseconds.
	MinLateness int64

	// Latest orders the newest firing first.
	Latest bool

	Limit, Offset int
}

func (q FiringQuery) where() (string, []any) {
	var conds []string
	var args []any

	if q.Name != "" {
		conds = append(conds, "Name = ?")
		args = append(args, q.Name)
	}

	if q.From > 0 {
		conds = append(conds, "Time >= ?")
		args = append(args, q.From)
	}

	if q.To > 0 {
		conds = append(conds, "Time <= ?")
		args = append(args, q.To)
	}

	if q.MinLateness > 0 {
		conds = append(conds, "Lateness >= ?")
		args = append(args, q.MinLateness)
	}

	if len(conds) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

func (q FiringQuery) tail() string {
	s := " ORDER BY Time, FifoID"
	if q.Latest {
		s = " ORDER BY Time DESC, FifoID DESC"
	}

	if q.Limit > 0 {
		s += fmt.Sprintf(" LIMIT %d OFFSET %d", q.Limit, q.Offset)
	}

	return s
}

// DataReader reads a recorded session back.
type DataReader interface {
	// Tables lists the tables present in the recording.
	Tables(ctx context.Context) ([]string, error)

	// Firings returns the firings selected by q, along with how many firings
	// match q when Limit and Offset are ignored.
	Firings(ctx context.Context, q FiringQuery) ([]FiringEntry, int, error)

	// Pauses returns the pause transitions in the order they happened.
	Pauses(ctx context.Context) ([]PauseEntry, error)

	// ExecInfo returns the session properties by name.
	ExecInfo(ctx context.Context) (map[string]string, error)

	Close() error
}

type sqliteReader struct {
	db *sql.DB
}

// NewReader opens an existing recording file.
func NewReader(dbFilename string) DataReader {
	db, err := sql.Open("sqlite3", dbFilename)
	if err != nil {
		panic(err)
	}

	return NewReaderWithDB(db)
}

// NewReaderWithDB reads a recording from an open database.
func NewReaderWithDB(db *sql.DB) DataReader {
	return &sqliteReader{db: db}
}

func (r *sqliteReader) Tables(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		tables = append(tables, name)
	}

	return tables, rows.Err()
}

func (r *sqliteReader) Firings(
	ctx context.Context,
	q FiringQuery,
) ([]FiringEntry, int, error) {
	where, args := q.where()

	var total int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+FiringTable+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	firings, err := selectAll[FiringEntry](ctx, r.db,
		FiringTable, where+q.tail(), args...)
	if err != nil {
		return nil, 0, err
	}

	return firings, total, nil
}

func (r *sqliteReader) Pauses(ctx context.Context) ([]PauseEntry, error) {
	return selectAll[PauseEntry](ctx, r.db, PauseTable, " ORDER BY rowid")
}

func (r *sqliteReader) ExecInfo(ctx context.Context) (map[string]string, error) {
	infos, err := selectAll[ExecInfo](ctx, r.db, ExecInfoTable, "")
	if err != nil {
		return nil, err
	}

	props := make(map[string]string, len(infos))
	for _, info := range infos {
		props[info.Property] = info.Value
	}

	return props, nil
}

func (r *sqliteReader) Close() error {
	return r.db.Close()
}

// selectAll reads the rows of a table written from entries of type T.
// Columns are matched to fields by name and unknown columns are skipped.
func selectAll[T any](
	ctx context.Context,
	db *sql.DB,
	table, clause string,
	args ...any,
) ([]T, error) {
	rows, err := db.QueryContext(ctx, "SELECT * FROM "+table+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	fieldOf := make([]int, len(columns))
	t := reflect.TypeOf((*T)(nil)).Elem()
	for i, col := range columns {
		fieldOf[i] = -1
		if f, ok := t.FieldByName(col); ok {
			fieldOf[i] = f.Index[0]
		}
	}

	var out []T
	for rows.Next() {
		var entry T
		v := reflect.ValueOf(&entry).Elem()

		dest := make([]any, len(columns))
		for i, idx := range fieldOf {
			if idx < 0 {
				dest[i] = new(any)
				continue
			}

			dest[i] = v.Field(idx).Addr().Interface()
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		out = append(out, entry)
	}

	return out, rows.Err()
}
