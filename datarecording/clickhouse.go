package datarecording

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/tebeka/atexit"
)

// ClickHouseConfig locates a ClickHouse server.
type ClickHouseConfig struct {
	Host      string
	Port      int
	Database  string
	Username  string
	Password  string
	BatchSize int
}

// clickHouseWriter writes the known entry types with typed batches. Tables
// of other entry types are rejected.
type clickHouseWriter struct {
	conn      clickhouse.Conn
	lock      sync.Mutex
	batchSize int

	tables     map[string]any
	tableOrder []string
	pending    map[string][]any
	entryCount int
}

// NewClickHouse creates a DataRecorder that writes to a ClickHouse server.
// It accepts ExecInfo, FiringEntry and PauseEntry tables.
func NewClickHouse(cfg ClickHouseConfig) (DataRecorder, error) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      time.Second * 30,
		MaxOpenConns:     5,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	w := &clickHouseWriter{
		conn:      conn,
		batchSize: cfg.BatchSize,
		tables:    make(map[string]any),
		pending:   make(map[string][]any),
	}

	atexit.Register(func() { w.Flush() })

	return w, nil
}

func clickHouseSchema(sample any) (string, error) {
	switch sample.(type) {
	case ExecInfo:
		return `Property String, Value String`, nil
	case FiringEntry:
		return `FifoID UInt64, Name String, Time Int64, Lateness Int64, ` +
			`Looping Bool, HostStart Int64, HostEnd Int64`, nil
	case PauseEntry:
		return `Paused Bool, Time Int64`, nil
	default:
		return "", fmt.Errorf("entry type %T is not supported", sample)
	}
}

func clickHouseRow(entry any) []any {
	switch e := entry.(type) {
	case ExecInfo:
		return []any{e.Property, e.Value}
	case FiringEntry:
		return []any{e.FifoID, e.Name, e.Time, e.Lateness,
			e.Looping, e.HostStart, e.HostEnd}
	case PauseEntry:
		return []any{e.Paused, e.Time}
	default:
		panic(fmt.Sprintf("entry type %T is not supported", entry))
	}
}

func (w *clickHouseWriter) CreateTable(tableName string, sampleEntry any) {
	schema, err := clickHouseSchema(sampleEntry)
	if err != nil {
		panic(err)
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	createSQL := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = MergeTree() ORDER BY tuple()",
		tableName, schema)

	err = w.conn.Exec(context.Background(), createSQL)
	if err != nil {
		panic(fmt.Errorf("failed to create table %s: %w", tableName, err))
	}

	w.tables[tableName] = sampleEntry
	w.tableOrder = append(w.tableOrder, tableName)
}

func (w *clickHouseWriter) InsertData(tableName string, entry any) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if _, exists := w.tables[tableName]; !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	w.pending[tableName] = append(w.pending[tableName], entry)

	w.entryCount++
	if w.entryCount >= w.batchSize {
		w.flushLocked()
	}
}

func (w *clickHouseWriter) ListTables() []string {
	w.lock.Lock()
	defer w.lock.Unlock()

	tables := make([]string, len(w.tableOrder))
	copy(tables, w.tableOrder)

	return tables
}

func (w *clickHouseWriter) Flush() {
	w.lock.Lock()
	defer w.lock.Unlock()

	w.flushLocked()
}

func (w *clickHouseWriter) flushLocked() {
	if w.entryCount == 0 {
		return
	}

	ctx := context.Background()

	for _, tableName := range w.tableOrder {
		entries := w.pending[tableName]
		if len(entries) == 0 {
			continue
		}

		if err := w.sendBatch(ctx, tableName, entries); err != nil {
			panic(err)
		}

		w.pending[tableName] = nil
	}

	w.entryCount = 0
}

func (w *clickHouseWriter) sendBatch(
	ctx context.Context,
	tableName string,
	entries []any,
) error {
	batch, err := w.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", tableName))
	if err != nil {
		return fmt.Errorf("failed to prepare batch for %s: %w", tableName, err)
	}

	for _, entry := range entries {
		if err := batch.Append(clickHouseRow(entry)...); err != nil {
			return fmt.Errorf("failed to append to %s: %w", tableName, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch for %s: %w", tableName, err)
	}

	return nil
}

func (w *clickHouseWriter) Close() error {
	w.Flush()

	err := w.conn.Close()
	if err != nil {
		return fmt.Errorf("failed to close ClickHouse connection: %w", err)
	}

	return nil
}
