package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3" // SQLite driver (registers "sqlite3")
)

// sqlite3Handle pins a single *sql.Conn from a one-connection pool so that
// transaction statements issued as plain text land on the same connection.
type sqlite3Handle struct {
	db   *sql.DB
	conn *sql.Conn
}

// openSQLite3 opens a Handle through github.com/mattn/go-sqlite3.
func openSQLite3(ctx context.Context, cfg Config) (Handle, error) {
	dsn := fmt.Sprintf("file:%s?mode=%s&_busy_timeout=%d",
		cfg.Path,
		cfg.Flags.mode(),
		cfg.BusyTimeout.Milliseconds(),
	)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	// One physical connection per handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close() //nolint:errcheck // Best-effort cleanup on open failure
		return nil, mapSQLite3Err(err)
	}

	// sql.Open is lazy; force the file open now so flag errors surface here.
	if err := conn.PingContext(ctx); err != nil {
		conn.Close() //nolint:errcheck // Best-effort cleanup on open failure
		db.Close()   //nolint:errcheck // Best-effort cleanup on open failure
		return nil, mapSQLite3Err(err)
	}

	return &sqlite3Handle{db: db, conn: conn}, nil
}

func (h *sqlite3Handle) Exec(ctx context.Context, stmt string, args ...any) error {
	if h.conn == nil {
		return ErrClosed
	}
	if _, err := h.conn.ExecContext(ctx, stmt, args...); err != nil {
		return mapSQLite3Err(err)
	}
	return nil
}

// ExecScript relies on go-sqlite3 executing every statement in a
// multi-statement string when no arguments are bound.
func (h *sqlite3Handle) ExecScript(ctx context.Context, script string) error {
	return h.Exec(ctx, script)
}

func (h *sqlite3Handle) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if h.conn == nil {
		return nil, false, ErrClosed
	}

	var value []byte
	err := h.conn.QueryRowContext(ctx, getStmt, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapSQLite3Err(err)
	}
	return value, true, nil
}

func (h *sqlite3Handle) Put(ctx context.Context, key string, value []byte) error {
	return h.Exec(ctx, putStmt, key, value)
}

func (h *sqlite3Handle) Delete(ctx context.Context, key string) error {
	return h.Exec(ctx, deleteStmt, key)
}

func (h *sqlite3Handle) Count(ctx context.Context, prefix string) (int64, error) {
	if h.conn == nil {
		return 0, ErrClosed
	}

	var (
		n   int64
		err error
	)
	if prefix == "" {
		err = h.conn.QueryRowContext(ctx, countStmt).Scan(&n)
	} else {
		err = h.conn.QueryRowContext(ctx, countPrefixSQL, prefix).Scan(&n)
	}
	if err != nil {
		return 0, mapSQLite3Err(err)
	}
	return n, nil
}

func (h *sqlite3Handle) Query(ctx context.Context, stmt string, args ...any) ([][]string, error) {
	if h.conn == nil {
		return nil, ErrClosed
	}

	rows, err := h.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, mapSQLite3Err(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, mapSQLite3Err(err)
	}

	result := [][]string{}
	for rows.Next() {
		cells := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, mapSQLite3Err(err)
		}

		row := make([]string, len(cols))
		for i, c := range cells {
			row[i] = c.String
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLite3Err(err)
	}
	return result, nil
}

func (h *sqlite3Handle) ReadQuery(ctx context.Context, stmt string, args ...any) (rows [][]string, err error) {
	if h.conn == nil {
		return nil, ErrClosed
	}
	if _, err := h.conn.ExecContext(ctx, queryOnlyOn); err != nil {
		return nil, mapSQLite3Err(err)
	}
	defer func() {
		// The reset must run even when ctx is done.
		if _, resetErr := h.conn.ExecContext(context.WithoutCancel(ctx), queryOnlyOff); resetErr != nil {
			rows, err = nil, errors.Join(err, mapSQLite3Err(resetErr))
		}
	}()

	rows, err = h.Query(ctx, stmt, args...)
	if isSQLite3ReadOnly(err) {
		return nil, fmt.Errorf("%w: %w", ErrWriteStatement, err)
	}
	return rows, err
}

func isSQLite3ReadOnly(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrReadonly
}

func (h *sqlite3Handle) Close() error {
	if h.conn == nil {
		return nil
	}
	connErr := h.conn.Close()
	dbErr := h.db.Close()
	h.conn = nil
	h.db = nil
	return errors.Join(connErr, dbErr)
}

// mapSQLite3Err tags engine lock contention with ErrBusy and closed
// connections with ErrClosed, keeping the original error in the chain.
func mapSQLite3Err(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%w: %w", ErrBusy, err)
		}
	}
	return err
}
