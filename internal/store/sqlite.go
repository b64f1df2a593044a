package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	apperrors "alert-trader/internal/errors"
	"alert-trader/internal/models"
)

// SQLiteStore implements LedgerStore and AlertQueue using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- One row per entry attempt, cells kept as text
	CREATE TABLE IF NOT EXISTS ledger_rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL DEFAULT '',
		symbol TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL DEFAULT '',
		entry_price TEXT NOT NULL DEFAULT '',
		stoploss_price TEXT NOT NULL DEFAULT '',
		entry_order_id TEXT NOT NULL DEFAULT '',
		entry_timestamp TEXT NOT NULL DEFAULT '',
		sl_order_id TEXT NOT NULL DEFAULT '',
		sl_timestamp TEXT NOT NULL DEFAULT '',
		exit_price TEXT NOT NULL DEFAULT '',
		market_order_id TEXT NOT NULL DEFAULT '',
		market_exit_timestamp TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		closed_flag TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL DEFAULT 0
	);

	-- Alerts whose entry order could not be placed
	CREATE TABLE IF NOT EXISTS deferred_alerts (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		entry_price REAL NOT NULL,
		stoploss_price REAL NOT NULL,
		alert_timestamp INTEGER NOT NULL DEFAULT 0,
		received_at INTEGER NOT NULL DEFAULT 0,
		reason TEXT,
		queued_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entry_order ON ledger_rows(entry_order_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_closed ON ledger_rows(closed_flag);
	CREATE INDEX IF NOT EXISTS idx_deferred_queued ON deferred_alerts(queued_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var ledgerColumnList = func() string {
	names := make([]string, len(models.Columns))
	for i, c := range models.Columns {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}()

// AppendRow inserts a row and returns its handle.
func (s *SQLiteStore) AppendRow(ctx context.Context, row models.LedgerRow) (models.RowHandle, error) {
	cells := row.Cells()
	args := make([]interface{}, 0, len(cells)+1)
	for _, c := range cells {
		args = append(args, c)
	}
	args = append(args, time.Now().UnixNano())

	query := fmt.Sprintf(
		"INSERT INTO ledger_rows (%s, updated_at) VALUES (%s?)",
		ledgerColumnList, strings.Repeat("?, ", len(cells)),
	)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to append ledger row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger row id: %w", err)
	}
	return models.RowHandle(id), nil
}

// FindRow returns the newest row for the entry order id.
func (s *SQLiteStore) FindRow(ctx context.Context, entryOrderID string) (models.RowHandle, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM ledger_rows WHERE entry_order_id = ? ORDER BY id DESC LIMIT 1",
		entryOrderID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, apperrors.ErrRowNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find ledger row: %w", err)
	}
	return models.RowHandle(id), nil
}

// GetRow loads one row by handle.
func (s *SQLiteStore) GetRow(ctx context.Context, handle models.RowHandle) (models.LedgerRow, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, %s FROM ledger_rows WHERE id = ?", ledgerColumnList),
		int64(handle),
	)
	r, err := scanLedgerRow(row)
	if err == sql.ErrNoRows {
		return models.LedgerRow{}, apperrors.ErrRowNotFound
	}
	if err != nil {
		return models.LedgerRow{}, fmt.Errorf("failed to get ledger row: %w", err)
	}
	return r, nil
}

// UpdateCell sets one cell of a row.
func (s *SQLiteStore) UpdateCell(ctx context.Context, handle models.RowHandle, column models.Column, value string) error {
	return s.UpdateCells(ctx, handle, map[models.Column]string{column: value})
}

// UpdateCells sets several cells of a row in a single statement.
func (s *SQLiteStore) UpdateCells(ctx context.Context, handle models.RowHandle, cells map[models.Column]string) error {
	if len(cells) == 0 {
		return nil
	}

	sets := make([]string, 0, len(cells))
	args := make([]interface{}, 0, len(cells)+2)
	// Iterate in layout order so the statement text is stable.
	for _, col := range models.Columns {
		v, ok := cells[col]
		if !ok {
			continue
		}
		sets = append(sets, string(col)+" = ?")
		args = append(args, v)
	}
	if len(sets) != len(cells) {
		for col := range cells {
			if !models.IsColumn(col) {
				return fmt.Errorf("%w: %q", apperrors.ErrUnknownField, col)
			}
		}
	}
	args = append(args, time.Now().UnixNano(), int64(handle))

	query := fmt.Sprintf("UPDATE ledger_rows SET %s, updated_at = ? WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update ledger row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update ledger row: %w", err)
	}
	if n == 0 {
		return apperrors.ErrRowNotFound
	}
	return nil
}

// ReadAllRows returns every row in insertion order.
func (s *SQLiteStore) ReadAllRows(ctx context.Context) ([]models.LedgerRow, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, %s FROM ledger_rows ORDER BY id", ledgerColumnList),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	defer rows.Close()

	var result []models.LedgerRow
	for rows.Next() {
		r, err := scanLedgerRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLedgerRow(sc rowScanner) (models.LedgerRow, error) {
	var id int64
	cells := make([]string, len(models.Columns))
	dest := make([]interface{}, 0, len(cells)+1)
	dest = append(dest, &id)
	for i := range cells {
		dest = append(dest, &cells[i])
	}
	if err := sc.Scan(dest...); err != nil {
		return models.LedgerRow{}, err
	}
	return models.RowFromCells(models.RowHandle(id), cells)
}

// SaveDeferred queues an alert, assigning an id when missing.
func (s *SQLiteStore) SaveDeferred(ctx context.Context, alert *models.DeferredAlert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.QueuedAt.IsZero() {
		alert.QueuedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deferred_alerts
			(id, symbol, action, entry_price, stoploss_price, alert_timestamp, received_at, reason, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		alert.ID, alert.Alert.Symbol, string(alert.Alert.Action),
		alert.Alert.EntryPrice, alert.Alert.StopLossPrice, alert.Alert.Timestamp,
		unixNano(alert.Alert.ReceivedAt), alert.Reason, alert.QueuedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save deferred alert: %w", err)
	}
	return nil
}

// ListDeferred returns queued alerts, oldest first.
func (s *SQLiteStore) ListDeferred(ctx context.Context) ([]models.DeferredAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, action, entry_price, stoploss_price, alert_timestamp, received_at, reason, queued_at
		FROM deferred_alerts ORDER BY queued_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list deferred alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.DeferredAlert
	for rows.Next() {
		var (
			a                    models.DeferredAlert
			action               string
			reason               sql.NullString
			receivedAt, queuedAt int64
		)
		if err := rows.Scan(&a.ID, &a.Alert.Symbol, &action, &a.Alert.EntryPrice, &a.Alert.StopLossPrice,
			&a.Alert.Timestamp, &receivedAt, &reason, &queuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deferred alert: %w", err)
		}
		a.Alert.Action = models.Action(action)
		a.Reason = reason.String
		if receivedAt != 0 {
			a.Alert.ReceivedAt = time.Unix(0, receivedAt)
		}
		a.QueuedAt = time.Unix(0, queuedAt)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// CountDeferredSince counts alerts queued at or after since.
func (s *SQLiteStore) CountDeferredSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM deferred_alerts WHERE queued_at >= ?", since.UnixNano(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count deferred alerts: %w", err)
	}
	return n, nil
}

// RemoveDeferred deletes one queued alert.
func (s *SQLiteStore) RemoveDeferred(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM deferred_alerts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to remove deferred alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deferred alert %s not found", id)
	}
	return nil
}

// ClearDeferred deletes all queued alerts and reports how many were removed.
func (s *SQLiteStore) ClearDeferred(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM deferred_alerts")
	if err != nil {
		return 0, fmt.Errorf("failed to clear deferred alerts: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
