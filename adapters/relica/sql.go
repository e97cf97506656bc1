package relica

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coregx/messagehub"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// withTx runs fn in a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise.
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return messagehub.NewErrorWithCause(messagehub.ErrCodeDatabase, "failed to begin transaction", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = messagehub.NewErrorWithCause(messagehub.ErrCodeDatabase, "failed to commit transaction", cerr)
		}
	}()

	return fn(tx)
}

// exec runs a statement written with ? placeholders and returns the number of
// affected rows.
func exec(ctx context.Context, tx *sqlx.Tx, query string, args ...interface{}) (int64, error) {
	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// isUniqueViolation reports whether err is a unique or primary key violation
// of any supported driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	return false
}

func conflict(format string, args ...interface{}) error {
	return messagehub.NewError(messagehub.ErrCodeConflict, fmt.Sprintf(format, args...))
}

func dbError(message string, err error) error {
	var hubErr *messagehub.Error
	if errors.As(err, &hubErr) {
		return err
	}
	return messagehub.NewErrorWithCause(messagehub.ErrCodeDatabase, message, err)
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
