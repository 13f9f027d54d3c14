package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps the task and review ledgers in a local SQLite database.
// It stands in for the spreadsheet transport behind the same Store contract;
// busy/locked responses surface as ErrRateLimited so callers exercise the
// same backoff path either way.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	row_index     INTEGER PRIMARY KEY AUTOINCREMENT,
	seq           INTEGER NOT NULL DEFAULT 0,
	upper_path    TEXT    NOT NULL DEFAULT '',
	sub_path      TEXT    NOT NULL DEFAULT '',
	file_name     TEXT    NOT NULL DEFAULT '',
	file_size     INTEGER NOT NULL DEFAULT 0,
	file_kind     TEXT    NOT NULL DEFAULT '',
	status        TEXT    NOT NULL DEFAULT 'WAITING',
	start_time    TEXT    NOT NULL DEFAULT '',
	end_time      TEXT    NOT NULL DEFAULT '',
	error_detail  TEXT    NOT NULL DEFAULT '',
	note          TEXT    NOT NULL DEFAULT '',
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS review (
	row_index         INTEGER PRIMARY KEY,
	seq               INTEGER NOT NULL DEFAULT 0,
	upper_path        TEXT    NOT NULL DEFAULT '',
	sub_path          TEXT    NOT NULL DEFAULT '',
	original_file     TEXT    NOT NULL DEFAULT '',
	translated_file   TEXT    NOT NULL DEFAULT '',
	original_exists   INTEGER NOT NULL DEFAULT 0,
	translated_exists INTEGER NOT NULL DEFAULT 0,
	original_opens    INTEGER NOT NULL DEFAULT 0,
	translated_opens  INTEGER NOT NULL DEFAULT 0,
	translation_done  INTEGER NOT NULL DEFAULT 0,
	review_time       TEXT    NOT NULL DEFAULT ''
);
`

// OpenSQLite opens (and if needed initializes) the ledger database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// wrapErr maps SQLite busy/locked errors onto ErrRateLimited.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		if se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}
	return err
}

const rowColumns = `row_index, seq, upper_path, sub_path, file_name, file_size,
	file_kind, status, start_time, end_time, error_detail, note,
	input_tokens, output_tokens`

func scanRow(s interface{ Scan(...any) error }) (Row, error) {
	var r Row
	var status string
	err := s.Scan(&r.Index, &r.Seq, &r.UpperPath, &r.SubPath, &r.FileName,
		&r.FileSize, &r.FileKind, &status, &r.StartTime, &r.EndTime,
		&r.ErrorDetail, &r.Note, &r.InputTokens, &r.OutputTokens)
	r.Status = Status(status)
	return r, err
}

// AllRows returns every task row in row order.
func (s *SQLiteStore) AllRows(ctx context.Context) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rowColumns+` FROM tasks ORDER BY row_index`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, r)
	}
	return out, wrapErr(rows.Err())
}

// Row returns a single task row by its key.
func (s *SQLiteStore) Row(ctx context.Context, index int64) (Row, error) {
	r, err := scanRow(s.db.QueryRowContext(ctx,
		`SELECT `+rowColumns+` FROM tasks WHERE row_index = ?`, index))
	if err != nil {
		return Row{}, wrapErr(err)
	}
	return r, nil
}

// InsertRow appends a task row and returns its key.
func (s *SQLiteStore) InsertRow(ctx context.Context, row Row) (int64, error) {
	status := row.Status
	if status == "" {
		status = StatusWaiting
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (seq, upper_path, sub_path, file_name, file_size,
			file_kind, status) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.Seq, row.UpperPath, row.SubPath, row.FileName, row.FileSize,
		row.FileKind, string(status))
	if err != nil {
		return 0, wrapErr(err)
	}
	id, err := res.LastInsertId()
	return id, wrapErr(err)
}

func (s *SQLiteStore) updateColumn(ctx context.Context, index int64, column string, value any) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET `+column+` = ? WHERE row_index = ?`, value, index)
	if err != nil {
		return wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(err)
	}
	if n == 0 {
		return fmt.Errorf("ledger: no task row %d", index)
	}
	return nil
}

// UpdateStatus writes the status column.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, index int64, status Status) error {
	return s.updateColumn(ctx, index, "status", string(status))
}

// UpdateFileName writes the file-name column, used when an upper-case
// extension is normalized.
func (s *SQLiteStore) UpdateFileName(ctx context.Context, index int64, name string) error {
	return s.updateColumn(ctx, index, "file_name", name)
}

// UpdateNote writes the note column.
func (s *SQLiteStore) UpdateNote(ctx context.Context, index int64, note string) error {
	return s.updateColumn(ctx, index, "note", note)
}

// SetStartTime writes the start-time column.
func (s *SQLiteStore) SetStartTime(ctx context.Context, index int64, value string) error {
	return s.updateColumn(ctx, index, "start_time", value)
}

// SetEndTime writes the end-time column.
func (s *SQLiteStore) SetEndTime(ctx context.Context, index int64, value string) error {
	return s.updateColumn(ctx, index, "end_time", value)
}

// Tokens reads the accumulated token counters.
func (s *SQLiteStore) Tokens(ctx context.Context, index int64) (int64, int64, error) {
	var in, out int64
	err := s.db.QueryRowContext(ctx,
		`SELECT input_tokens, output_tokens FROM tasks WHERE row_index = ?`,
		index).Scan(&in, &out)
	if err != nil {
		return 0, 0, wrapErr(err)
	}
	return in, out, nil
}

// SetTokens overwrites the token counters.
func (s *SQLiteStore) SetTokens(ctx context.Context, index int64, in, out int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET input_tokens = ?, output_tokens = ? WHERE row_index = ?`,
		in, out, index)
	if err != nil {
		return wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(err)
	}
	if n == 0 {
		return fmt.Errorf("ledger: no task row %d", index)
	}
	return nil
}

// SetErrorDetail writes the error column.
func (s *SQLiteStore) SetErrorDetail(ctx context.Context, index int64, detail string) error {
	return s.updateColumn(ctx, index, "error_detail", detail)
}

// UpsertReviewRow writes one review ledger row keyed by the task row index.
func (s *SQLiteStore) UpsertReviewRow(ctx context.Context, row ReviewRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review (row_index, seq, upper_path, sub_path,
			original_file, translated_file, original_exists, translated_exists,
			original_opens, translated_opens, translation_done, review_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(row_index) DO UPDATE SET
			translated_file = excluded.translated_file,
			original_exists = excluded.original_exists,
			translated_exists = excluded.translated_exists,
			original_opens = excluded.original_opens,
			translated_opens = excluded.translated_opens,
			translation_done = excluded.translation_done,
			review_time = excluded.review_time`,
		row.Index, row.Seq, row.UpperPath, row.SubPath, row.OriginalFile,
		row.TranslatedFile, row.OriginalExists, row.TranslatedExists,
		row.OriginalOpens, row.TranslatedOpens, row.TranslationDone,
		row.ReviewTime)
	return wrapErr(err)
}

// ReviewRows returns every review ledger row in row order.
func (s *SQLiteStore) ReviewRows(ctx context.Context) ([]ReviewRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_index, seq, upper_path, sub_path, original_file,
			translated_file, original_exists, translated_exists,
			original_opens, translated_opens, translation_done, review_time
		FROM review ORDER BY row_index`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []ReviewRow
	for rows.Next() {
		var r ReviewRow
		err := rows.Scan(&r.Index, &r.Seq, &r.UpperPath, &r.SubPath,
			&r.OriginalFile, &r.TranslatedFile, &r.OriginalExists,
			&r.TranslatedExists, &r.OriginalOpens, &r.TranslatedOpens,
			&r.TranslationDone, &r.ReviewTime)
		if err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, r)
	}
	return out, wrapErr(rows.Err())
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
