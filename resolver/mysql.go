package resolver

import (
	"context"
	"database/sql"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

// MySQL looks documents up in the PCM document database. Business keys go
// through the GetDocumentGuidByParams procedure, which answers with two
// result sets: the first holds the error and verified flags, the second the
// matching document.
type MySQL struct {
	db *sql.DB
}

var _ Lookup = &MySQL{}

// NewMySQL connects to the database described by the go-sql-driver DSN.
// The schema is owned by the document service and is not migrated here.
func NewMySQL(dsn string) (*MySQL, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "mysql dsn")
	}
	// CALL returns several result sets
	cfg.MultiStatements = true
	cfg.ParseTime = true
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	return &MySQL{db: db}, nil
}

// NewMySQLFromDB wraps an existing connection pool.
func NewMySQLFromDB(db *sql.DB) *MySQL {
	return &MySQL{db: db}
}

func (ms *MySQL) LookupByKey(ctx context.Context, key Key) (*Record, error) {
	const query = `CALL GetDocumentGuidByParams(?, ?, ?, ?, ?, ?)`

	rows, err := ms.db.QueryContext(ctx, query,
		key.Company, key.ObjectType, key.DocumentType,
		key.ItemNumber, key.Language, key.Size)
	if err != nil {
		return nil, errors.Wrap(err, "GetDocumentGuidByParams")
	}
	defer rows.Close()

	var rec Record
	if rows.Next() {
		status, err := scanRow(rows)
		if err != nil {
			return nil, errors.Wrap(err, "GetDocumentGuidByParams status")
		}
		rec.Error = status["error"].String
		rec.Verified = truthy(status["verified"].String)
	}
	if !rows.NextResultSet() {
		return nil, rows.Err()
	}
	if !rows.Next() {
		return nil, rows.Err()
	}
	doc, err := scanRow(rows)
	if err != nil {
		return nil, errors.Wrap(err, "GetDocumentGuidByParams document")
	}
	rec.Identity = doc["guid"].String
	rec.MimeType = doc["mime_type"].String
	if rec.Identity == "" {
		return nil, nil
	}
	return &rec, nil
}

func (ms *MySQL) FindByIdentity(ctx context.Context, identity string) (*Record, error) {
	const query = `SELECT guid, mime_type FROM document WHERE guid = ? LIMIT 1`

	var guid, mime sql.NullString
	err := ms.db.QueryRowContext(ctx, query, identity).Scan(&guid, &mime)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "find document")
	}
	return &Record{Identity: guid.String, MimeType: mime.String, Verified: true}, nil
}

// Close releases the connection pool.
func (ms *MySQL) Close() error {
	return ms.db.Close()
}
