package resolver

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Postgres looks documents up in a PostgreSQL copy of the document
// database. The procedure is exposed there as a set returning function with
// the same parameters.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Lookup = &Postgres{}

// NewPostgres connects a pool to the database at dsn.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	return &Postgres{pool: pool}, nil
}

func (pg *Postgres) LookupByKey(ctx context.Context, key Key) (*Record, error) {
	const query = `
		SELECT error, verified, guid::text, mime_type
		FROM get_document_guid_by_params($1, $2, $3, $4, $5, $6)
		LIMIT 1`

	var errText, guid, mime *string
	var verified *bool
	err := pg.pool.QueryRow(ctx, query,
		key.Company, key.ObjectType, key.DocumentType,
		key.ItemNumber, key.Language, key.Size).
		Scan(&errText, &verified, &guid, &mime)
	if err == pgx.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "get_document_guid_by_params")
	}
	if guid == nil || *guid == "" {
		return nil, nil
	}
	rec := &Record{Identity: *guid}
	if mime != nil {
		rec.MimeType = *mime
	}
	if errText != nil {
		rec.Error = *errText
	}
	if verified != nil {
		rec.Verified = *verified
	}
	return rec, nil
}

func (pg *Postgres) FindByIdentity(ctx context.Context, identity string) (*Record, error) {
	const query = `SELECT guid::text, mime_type FROM documents WHERE guid::text = $1 LIMIT 1`

	var guid string
	var mime *string
	err := pg.pool.QueryRow(ctx, query, identity).Scan(&guid, &mime)
	if err == pgx.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "find document")
	}
	rec := &Record{Identity: guid, Verified: true}
	if mime != nil {
		rec.MimeType = *mime
	}
	return rec, nil
}

// Close releases the pool.
func (pg *Postgres) Close() error {
	pg.pool.Close()
	return nil
}
