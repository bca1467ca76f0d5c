package resolver

import (
	"context"
	"database/sql"
	"strings"

	"github.com/BurntSushi/migration"
	_ "github.com/cznic/ql/driver"
	"github.com/pkg/errors"
)

// QL is a document lookup kept in the embedded QL database. It is intended
// for development and tests, where no document database is available, and
// is seeded with Register.
type QL struct {
	db *sql.DB
}

var _ Lookup = &QL{}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var qlMigrations = []migration.Migrator{
	qlschema1,
}

var qlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?1, now())`,
	CreateSQL: `CREATE TABLE IF NOT EXISTS migration_version (version int, applied time)`,
}

// NewQL opens the QL database stored in filename. The name "memory" keeps
// everything in memory; "memory:NAME" selects a separate in-memory database.
func NewQL(filename string) (*QL, error) {
	driver, dsn := "ql", filename
	if filename == "memory" {
		driver, dsn = "ql-mem", "mem.db"
	} else if strings.HasPrefix(filename, "memory:") {
		driver, dsn = "ql-mem", strings.TrimPrefix(filename, "memory:")
	}
	db, err := migration.OpenWith(
		driver,
		dsn,
		qlMigrations,
		qlVersioning.Get,
		qlVersioning.Set)
	if err != nil {
		return nil, errors.Wrap(err, "open ql")
	}
	return &QL{db: db}, nil
}

func qlschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE IF NOT EXISTS documents (
			company string,
			objecttype string,
			documenttype string,
			itemnum string,
			language string,
			size string,
			guid string,
			mime_type string,
			message string,
			verified bool
		)`,
		`CREATE INDEX IF NOT EXISTS documentsguid ON documents (guid)`,
		`CREATE INDEX IF NOT EXISTS documentsitem ON documents (itemnum)`,
	}
	return execlist(tx, s)
}

func execlist(tx migration.LimitedTx, stms []string) error {
	for _, s := range stms {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (qc *QL) LookupByKey(ctx context.Context, key Key) (*Record, error) {
	const query = `
		SELECT guid, mime_type, message, verified
		FROM documents
		WHERE company == ?1 && objecttype == ?2 && documenttype == ?3 &&
			itemnum == ?4 && language == ?5 && size == ?6
		LIMIT 1`

	var rec Record
	var mime, errText sql.NullString
	var verified sql.NullBool
	err := qc.db.QueryRowContext(ctx, query,
		key.Company, key.ObjectType, key.DocumentType,
		key.ItemNumber, key.Language, key.Size).
		Scan(&rec.Identity, &mime, &errText, &verified)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "ql lookup")
	}
	rec.MimeType = mime.String
	rec.Error = errText.String
	rec.Verified = verified.Bool
	return &rec, nil
}

func (qc *QL) FindByIdentity(ctx context.Context, identity string) (*Record, error) {
	const query = `SELECT guid, mime_type, verified FROM documents WHERE guid == ?1 LIMIT 1`

	var rec Record
	var mime sql.NullString
	var verified sql.NullBool
	err := qc.db.QueryRowContext(ctx, query, identity).Scan(&rec.Identity, &mime, &verified)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "ql find")
	}
	rec.MimeType = mime.String
	rec.Verified = verified.Bool
	return &rec, nil
}

// Register stores rec as the document for key, replacing any previous one.
// The key is defaulted first, the same way lookups are.
func (qc *QL) Register(ctx context.Context, key Key, rec Record) error {
	const dbDelete = `DELETE FROM documents
		WHERE company == ?1 && objecttype == ?2 && documenttype == ?3 &&
			itemnum == ?4 && language == ?5 && size == ?6`
	const dbInsert = `INSERT INTO documents VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10)`

	key.Defaults()
	id := string(Canonical(rec.Identity))
	_, err := performExec(qc.db, dbDelete,
		key.Company, key.ObjectType, key.DocumentType,
		key.ItemNumber, key.Language, key.Size)
	if err != nil {
		return errors.Wrap(err, "ql register")
	}
	_, err = performExec(qc.db, dbInsert,
		key.Company, key.ObjectType, key.DocumentType,
		key.ItemNumber, key.Language, key.Size,
		id, rec.MimeType, rec.Error, rec.Verified)
	return errors.Wrap(err, "ql register")
}

// Close closes the database.
func (qc *QL) Close() error {
	return qc.db.Close()
}
