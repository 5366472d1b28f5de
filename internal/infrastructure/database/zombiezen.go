package database

import (
	"context"
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// zombiezenHandle wraps one *sqlite.Conn from zombiezen.com/go/sqlite.
type zombiezenHandle struct {
	conn *sqlite.Conn
}

// openZombiezen opens a Handle through zombiezen.com/go/sqlite.
func openZombiezen(_ context.Context, cfg Config) (Handle, error) {
	var flags []sqlite.OpenFlags
	switch cfg.Flags.mode() {
	case "rwc":
		flags = []sqlite.OpenFlags{sqlite.OpenReadWrite, sqlite.OpenCreate}
	case "ro":
		flags = []sqlite.OpenFlags{sqlite.OpenReadOnly}
	default:
		flags = []sqlite.OpenFlags{sqlite.OpenReadWrite}
	}

	conn, err := sqlite.OpenConn(cfg.Path, flags...)
	if err != nil {
		return nil, mapZombiezenErr(err)
	}
	conn.SetBusyTimeout(cfg.BusyTimeout)

	return &zombiezenHandle{conn: conn}, nil
}

// run executes fn with ctx wired to the connection's interrupt channel.
func (h *zombiezenHandle) run(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	if h.conn == nil {
		return ErrClosed
	}
	defer h.conn.SetInterrupt(h.conn.SetInterrupt(ctx.Done()))
	return mapZombiezenErr(fn(h.conn))
}

func (h *zombiezenHandle) Exec(ctx context.Context, stmt string, args ...any) error {
	return h.run(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteTransient(conn, stmt, &sqlitex.ExecOptions{Args: args})
	})
}

func (h *zombiezenHandle) ExecScript(ctx context.Context, script string) error {
	return h.run(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, script, nil)
	})
}

func (h *zombiezenHandle) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := h.run(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, getStmt, &sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				if stmt.ColumnIsNull(0) {
					return nil
				}
				value = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, value)
				return nil
			},
		})
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

func (h *zombiezenHandle) Put(ctx context.Context, key string, value []byte) error {
	return h.run(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, putStmt, &sqlitex.ExecOptions{
			Args: []any{key, value},
		})
	})
}

func (h *zombiezenHandle) Delete(ctx context.Context, key string) error {
	return h.run(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, deleteStmt, &sqlitex.ExecOptions{
			Args: []any{key},
		})
	})
}

func (h *zombiezenHandle) Count(ctx context.Context, prefix string) (int64, error) {
	var n int64
	collect := func(stmt *sqlite.Stmt) error {
		n = stmt.ColumnInt64(0)
		return nil
	}
	err := h.run(ctx, func(conn *sqlite.Conn) error {
		if prefix == "" {
			return sqlitex.Execute(conn, countStmt, &sqlitex.ExecOptions{ResultFunc: collect})
		}
		return sqlitex.Execute(conn, countPrefixSQL, &sqlitex.ExecOptions{
			Args:       []any{prefix},
			ResultFunc: collect,
		})
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (h *zombiezenHandle) Query(ctx context.Context, stmt string, args ...any) ([][]string, error) {
	var result [][]string
	err := h.run(ctx, func(conn *sqlite.Conn) error {
		var err error
		result, err = collectRows(conn, stmt, args)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (h *zombiezenHandle) ReadQuery(ctx context.Context, stmt string, args ...any) ([][]string, error) {
	var result [][]string
	err := h.run(ctx, func(conn *sqlite.Conn) (err error) {
		if err := sqlitex.ExecuteTransient(conn, queryOnlyOn, nil); err != nil {
			return err
		}
		defer func() {
			// Lift the interrupt so the reset runs even when ctx is done.
			prev := conn.SetInterrupt(nil)
			err = errors.Join(err, sqlitex.ExecuteTransient(conn, queryOnlyOff, nil))
			conn.SetInterrupt(prev)
		}()

		result, err = collectRows(conn, stmt, args)
		if sqlite.ErrCode(err).ToPrimary() == sqlite.ResultReadOnly {
			return fmt.Errorf("%w: %w", ErrWriteStatement, err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// collectRows runs stmt and renders every column as text.
func collectRows(conn *sqlite.Conn, stmt string, args []any) ([][]string, error) {
	result := [][]string{}
	err := sqlitex.ExecuteTransient(conn, stmt, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(s *sqlite.Stmt) error {
			row := make([]string, s.ColumnCount())
			for i := range row {
				if !s.ColumnIsNull(i) {
					row[i] = s.ColumnText(i)
				}
			}
			result = append(result, row)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (h *zombiezenHandle) Close() error {
	if h.conn == nil {
		return nil
	}
	err := h.conn.Close()
	h.conn = nil
	return err
}

// mapZombiezenErr tags engine lock contention with ErrBusy.
func mapZombiezenErr(err error) error {
	if err == nil {
		return nil
	}
	switch sqlite.ErrCode(err).ToPrimary() {
	case sqlite.ResultBusy, sqlite.ResultLocked:
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}
	return err
}
