package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"logrelay/internal/models"

	"go.uber.org/zap"
)

const createLogTableSQL = `
CREATE TABLE IF NOT EXISTS tbl_log (
id TEXT PRIMARY KEY,
ts TEXT NOT NULL,
level TEXT,
message TEXT NOT NULL,
context TEXT,
source TEXT
);
`

const createLogIndexSQL = `CREATE INDEX IF NOT EXISTS idx_log_ts_id ON tbl_log (ts DESC, id DESC);`

// LogRepository is the durable log store: a retention-bounded, time-ordered
// table of entries. All write operations are expected to run from the hub's
// single-writer context.
type LogRepository interface {
	// Init idempotently ensures the table and its descending (ts, id) index
	// exist. Safe to call on every startup.
	Init(ctx context.Context) error
	// Upsert durably persists the entry, replacing any prior row with the
	// same id.
	Upsert(ctx context.Context, entry models.LogEntry) error
	// TrimToLimit deletes every row not among the limit most-recent by
	// (ts desc, id desc), as a single statement so readers never observe a
	// partially trimmed set.
	TrimToLimit(ctx context.Context, limit int) error
	// LoadRecent returns the limit most-recent entries, oldest first.
	LoadRecent(ctx context.Context, limit int) ([]models.LogEntry, error)
	// Count reports the number of persisted rows.
	Count(ctx context.Context) (int, error)
}

// sqliteLogRepository implements LogRepository over SQLite.
type sqliteLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLogRepository creates a new LogRepository
func NewLogRepository(db *sql.DB, logger *zap.Logger) LogRepository {
	if logger == nil {
		fallbackLogger, _ := zap.NewDevelopment()
		logger = fallbackLogger
		logger.Warn("NewLogRepository received nil logger, using fallback.")
	}
	return &sqliteLogRepository{
		db:     db,
		logger: logger,
	}
}

func (r *sqliteLogRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createLogTableSQL); err != nil {
		r.logger.Error("Failed to create tbl_log in SQLite", zap.Error(err))
		return fmt.Errorf("sqlite create table failed: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, createLogIndexSQL); err != nil {
		r.logger.Error("Failed to create idx_log_ts_id in SQLite", zap.Error(err))
		return fmt.Errorf("sqlite create index failed: %w", err)
	}
	r.logger.Debug("SQLite tbl_log and idx_log_ts_id verified/created.")
	return nil
}

func (r *sqliteLogRepository) Upsert(ctx context.Context, entry models.LogEntry) error {
	query := `INSERT OR REPLACE INTO tbl_log (id, ts, level, message, context, source) VALUES (?, ?, ?, ?, ?, ?)`

	var contextJSON sql.NullString
	if len(entry.Context) > 0 {
		raw, err := json.Marshal(entry.Context)
		if err != nil {
			// Context is best-effort payload, the entry itself still persists
			r.logger.Warn("Failed to marshal entry context, storing entry without it", zap.String("id", entry.ID), zap.Error(err))
		} else {
			contextJSON = sql.NullString{String: string(raw), Valid: true}
		}
	}
	var source sql.NullString
	if entry.Source != "" {
		source = sql.NullString{String: entry.Source, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query, entry.ID, entry.StoredTimestamp(), entry.Level, entry.Message, contextJSON, source)
	if err != nil {
		r.logger.Error("Failed to upsert log into SQLite", zap.String("id", entry.ID), zap.Error(err))
		return fmt.Errorf("sqlite upsert failed: %w", err)
	}
	return nil
}

func (r *sqliteLogRepository) TrimToLimit(ctx context.Context, limit int) error {
	// One statement against the computed retained-id set, so a concurrent
	// reader never sees a partially trimmed table.
	query := `DELETE FROM tbl_log WHERE id NOT IN (SELECT id FROM tbl_log ORDER BY ts DESC, id DESC LIMIT ?)`
	result, err := r.db.ExecContext(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to trim logs in SQLite", zap.Int("limit", limit), zap.Error(err))
		return fmt.Errorf("sqlite trim failed: %w", err)
	}
	if rowsAffected, err := result.RowsAffected(); err == nil && rowsAffected > 0 {
		r.logger.Debug("Trimmed logs from SQLite", zap.Int64("rows_affected", rowsAffected), zap.Int("limit", limit))
	}
	return nil
}

func (r *sqliteLogRepository) LoadRecent(ctx context.Context, limit int) ([]models.LogEntry, error) {
	query := `SELECT id, ts, level, message, context, source FROM tbl_log ORDER BY ts DESC, id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to query logs from SQLite", zap.Error(err))
		return nil, fmt.Errorf("sqlite query failed: %w", err)
	}
	defer rows.Close()

	var logs []models.LogEntry
	for rows.Next() {
		var entry models.LogEntry
		var tsStr string
		var level, contextStr, source sql.NullString
		if err := rows.Scan(&entry.ID, &tsStr, &level, &entry.Message, &contextStr, &source); err != nil {
			r.logger.Error("Failed to scan log row from SQLite", zap.Error(err))
			continue
		}
		entry.Timestamp, err = time.Parse(models.StoredTimeLayout, tsStr)
		if err != nil {
			r.logger.Warn("Failed to parse timestamp from SQLite", zap.String("raw_ts", tsStr), zap.Error(err))
			entry.Timestamp = time.Now().UTC()
		}
		if level.Valid {
			entry.Level = level.String
		}
		if source.Valid {
			entry.Source = source.String
		}
		if contextStr.Valid {
			entry.Context = parseStoredContext(contextStr.String)
		}
		logs = append(logs, entry)
	}
	if err = rows.Err(); err != nil {
		r.logger.Error("Error during iteration over SQLite log rows", zap.Error(err))
		return nil, fmt.Errorf("sqlite row iteration error: %w", err)
	}

	// Query order is newest-first for the index; presentation order is
	// oldest-first.
	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
	return logs, nil
}

func (r *sqliteLogRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tbl_log`).Scan(&count); err != nil {
		r.logger.Error("Failed to count logs in SQLite", zap.Error(err))
		return 0, fmt.Errorf("sqlite count failed: %w", err)
	}
	return count, nil
}

// parseStoredContext decodes a stored context payload. A row whose context
// fails to parse, or is not a JSON object, degrades to an absent context
// rather than failing the whole read.
func parseStoredContext(payload string) map[string]interface{} {
	decoded := map[string]interface{}{}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil
	}
	if len(decoded) == 0 {
		return nil
	}
	return decoded
}
