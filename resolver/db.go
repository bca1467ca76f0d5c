package resolver

import (
	"database/sql"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BurntSushi/migration"
)

// The migration package keeps its version in a table whose SQL differs per
// database, so the version functions are parameterised here.

type dbVersion struct {
	// SQL to get the version of this db, returns one row and one column
	GetSQL string
	// SQL to insert a new version of this db. takes one parameter, the new
	// version
	SetSQL string
	// the SQL to create the version table for this db
	CreateSQL string
}

func (d dbVersion) Get(tx migration.LimitedTx) (int, error) {
	var version sql.NullInt64
	if err := tx.QueryRow(d.GetSQL).Scan(&version); err != nil {
		// we assume error means there is no migration table
		slog.Debug("reading schema version", "error", err)
		return 0, nil
	}
	return int(version.Int64), nil
}

func (d dbVersion) Set(tx migration.LimitedTx, version int) error {
	if _, err := tx.Exec(d.CreateSQL); err != nil {
		return err
	}
	_, err := tx.Exec(d.SetSQL, version)
	return err
}

// performExec runs a single statement in its own transaction. QL only
// accepts writes inside a transaction.
func performExec(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	result, err := tx.Exec(query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return result, tx.Commit()
}

// scanRow reads the current row of rows into a map keyed by lowercase
// column name. Every value is read as a string, which works for the
// textual protocols of both MySQL and QL.
func scanRow(rows *sql.Rows) (map[string]sql.NullString, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	vals := make([]sql.NullString, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	result := make(map[string]sql.NullString, len(cols))
	for i, c := range cols {
		result[strings.ToLower(c)] = vals[i]
	}
	return result, nil
}

// truthy interprets the textual form of a boolean or bit column.
func truthy(s string) bool {
	s = strings.TrimSpace(s)
	if s == "\x01" {
		return true
	}
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
