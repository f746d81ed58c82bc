// Package datarecording persists what happens on the emulated timeline, such
// as event firings and pause intervals, so that a session can be inspected
// after it ends.
package datarecording

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// DataRecorder stores rows of flat structs into named tables.
type DataRecorder interface {
	// CreateTable creates a table whose columns are the fields of
	// sampleEntry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers an entry of the table's type.
	InsertData(tableName string, entry any)

	// ListTables returns the created tables in creation order.
	ListTables() []string

	// Flush writes all buffered entries.
	Flush()

	// Close flushes and releases the database.
	Close() error
}

const defaultBatchSize = 100000

// New creates a recorder writing to path.sqlite3. An empty path picks a
// unique name. It panics if the file exists already.
func New(path string) DataRecorder {
	if path == "" {
		path = "coretiming_record_" + xid.New().String()
	}

	r := newSQLiteRecorder(mustCreateFile(path + ".sqlite3"))
	atexit.Register(r.Flush)

	return r
}

// NewWithDB creates a recorder on an open database.
func NewWithDB(db *sql.DB) DataRecorder {
	r := newSQLiteRecorder(db)
	atexit.Register(r.Flush)

	return r
}

func mustCreateFile(filename string) *sql.DB {
	if _, err := os.Stat(filename); err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	fmt.Fprintf(os.Stderr, "Recording to %s\n", filename)

	return db
}

type recordedTable struct {
	name    string
	typ     reflect.Type
	insert  string
	pending []any
}

// sqliteRecorder buffers rows in memory and writes them in one transaction
// per flush. Inserts may come from the timer goroutine while another
// goroutine flushes.
type sqliteRecorder struct {
	db *sql.DB

	lock      sync.Mutex
	byName    map[string]*recordedTable
	order     []*recordedTable
	buffered  int
	batchSize int
	closed    bool
}

func newSQLiteRecorder(db *sql.DB) *sqliteRecorder {
	return &sqliteRecorder{
		db:        db,
		byName:    make(map[string]*recordedTable),
		batchSize: defaultBatchSize,
	}
}

// columnKinds are the field kinds that map onto a SQLite column.
var columnKinds = map[reflect.Kind]bool{
	reflect.Bool:    true,
	reflect.Int:     true,
	reflect.Int8:    true,
	reflect.Int16:   true,
	reflect.Int32:   true,
	reflect.Int64:   true,
	reflect.Uint:    true,
	reflect.Uint8:   true,
	reflect.Uint16:  true,
	reflect.Uint32:  true,
	reflect.Uint64:  true,
	reflect.Float32: true,
	reflect.Float64: true,
	reflect.String:  true,
}

func checkStructFields(entry any) error {
	t := reflect.TypeOf(entry)
	if t == nil || t.Kind() != reflect.Struct {
		return errors.New("entry must be a struct")
	}

	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || !columnKinds[f.Type.Kind()] {
			return fmt.Errorf("field %s cannot be recorded", f.Name)
		}
	}

	return nil
}

func (r *sqliteRecorder) CreateTable(tableName string, sampleEntry any) {
	if err := checkStructFields(sampleEntry); err != nil {
		panic(err)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if _, dup := r.byName[tableName]; dup {
		panic(fmt.Sprintf("table %s already exists", tableName))
	}

	columns := structs.Names(sampleEntry)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	r.mustExec(fmt.Sprintf("CREATE TABLE %s (%s)",
		tableName, strings.Join(columns, ", ")))

	t := &recordedTable{
		name: tableName,
		typ:  reflect.TypeOf(sampleEntry),
		insert: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			tableName, strings.Join(columns, ", "), marks),
	}
	r.byName[tableName] = t
	r.order = append(r.order, t)
}

func (r *sqliteRecorder) InsertData(tableName string, entry any) {
	r.lock.Lock()
	defer r.lock.Unlock()

	t, ok := r.byName[tableName]
	if !ok {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != t.typ {
		panic(fmt.Sprintf("entry type %T does not match table %s",
			entry, tableName))
	}

	t.pending = append(t.pending, entry)

	r.buffered++
	if r.buffered >= r.batchSize {
		r.flushLocked()
	}
}

func (r *sqliteRecorder) ListTables() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	names := make([]string, 0, len(r.order))
	for _, t := range r.order {
		names = append(names, t.name)
	}

	return names
}

func (r *sqliteRecorder) Flush() {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.flushLocked()
}

func (r *sqliteRecorder) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed {
		return nil
	}

	r.flushLocked()
	r.closed = true

	return r.db.Close()
}

func (r *sqliteRecorder) flushLocked() {
	if r.buffered == 0 || r.closed {
		return
	}

	tx, err := r.db.Begin()
	if err != nil {
		panic(err)
	}

	for _, t := range r.order {
		if err := writeRows(tx, t); err != nil {
			_ = tx.Rollback()
			panic(fmt.Errorf("writing %s: %w", t.name, err))
		}
	}

	if err := tx.Commit(); err != nil {
		panic(err)
	}

	r.buffered = 0
}

func writeRows(tx *sql.Tx, t *recordedTable) error {
	if len(t.pending) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(t.insert)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, entry := range t.pending {
		if _, err := stmt.Exec(structs.Values(entry)...); err != nil {
			return err
		}
	}

	t.pending = nil

	return nil
}

func (r *sqliteRecorder) mustExec(query string) {
	if _, err := r.db.Exec(query); err != nil {
		panic(fmt.Errorf("executing %q: %w", query, err))
	}
}
