package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"
)

// LogDatabaseFileName is the log database written by the assistant
const LogDatabaseFileName = "logs.db"

// SQLiteLog reads the `responses` table of the assistant's logs.db
type SQLiteLog struct {
	db   *sql.DB
	path string
}

var _ LogSource = (*SQLiteLog)(nil)

// NewSQLiteLog opens path read-only. The assistant keeps writing to the
// database, so reads wait on its locks for a short while instead of failing.
func NewSQLiteLog(path string) (*SQLiteLog, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(2000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open log database", goerr.V("path", path))
	}
	db.SetMaxOpenConns(1)

	return &SQLiteLog{db: db, path: path}, nil
}

// Path returns the database file path
func (s *SQLiteLog) Path() string {
	return s.path
}

// Close closes the database handle
func (s *SQLiteLog) Close() error {
	return s.db.Close()
}

const (
	sqliteQueryAll   = `SELECT id, prompt, model, datetime_utc FROM responses ORDER BY id LIMIT ?`
	sqliteQuerySince = `SELECT id, prompt, model, datetime_utc FROM responses WHERE id > ? ORDER BY id LIMIT ?`
)

func (s *SQLiteLog) EntriesSince(ctx context.Context, checkpoint model.EntryID, limit int) ([]*model.LogEntry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if checkpoint.IsNone() {
		rows, err = s.db.QueryContext(ctx, sqliteQueryAll, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, sqliteQuerySince, checkpointArg(checkpoint), limit)
	}
	if err != nil {
		return nil, goerr.Wrap(transient(err), "failed to query log database",
			goerr.V("path", s.path),
			goerr.V("checkpoint", checkpoint))
	}
	defer rows.Close()

	var entries []*model.LogEntry
	for rows.Next() {
		var (
			id       any
			prompt   sql.NullString
			modelID  sql.NullString
			datetime sql.NullString
		)
		if err := rows.Scan(&id, &prompt, &modelID, &datetime); err != nil {
			return nil, goerr.Wrap(transient(err), "failed to scan log row", goerr.V("path", s.path))
		}

		entries = append(entries, &model.LogEntry{
			ID:        entryID(id),
			UserText:  prompt.String,
			Model:     modelID.String,
			Timestamp: parseLogTime(datetime.String),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(transient(err), "failed to iterate log rows", goerr.V("path", s.path))
	}

	return entries, nil
}

// checkpointArg binds integer checkpoints as integers so they compare
// numerically against INTEGER id columns.
func checkpointArg(checkpoint model.EntryID) any {
	if n, err := strconv.ParseInt(string(checkpoint), 10, 64); err == nil {
		return n
	}
	return string(checkpoint)
}

func entryID(v any) model.EntryID {
	switch id := v.(type) {
	case nil:
		return model.NoCheckpoint
	case int64:
		return model.EntryID(strconv.FormatInt(id, 10))
	case []byte:
		return model.EntryID(id)
	case string:
		return model.EntryID(id)
	default:
		return model.EntryID(fmt.Sprint(id))
	}
}

var logTimeLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	time.RFC3339Nano,
}

func parseLogTime(s string) time.Time {
	for _, layout := range logTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
