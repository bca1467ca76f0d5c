// Package resolver turns the identifiers found in a request into the
// identity of a stored asset.
//
// A raw identity resolves to itself. A business key (company, object type,
// document type, item number, language and size) is looked up in the
// document database through a Lookup. When nothing matches, the outcome
// depends on strict mode: a strict lookup fails hard, otherwise the request
// resolves to the Sentinel identity, which names a neutral placeholder image.
package resolver

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/groupclaes/pcm-api-i/content"
)

// Sentinel is the identity served when a business key has no document and
// the lookup is not strict.
var Sentinel = uuid.MustParse("6258fae1-fbd0-45f1-8aef-68b76a30276e")

// SentinelIdentity is Sentinel as an asset identity.
func SentinelIdentity() content.Identity {
	return content.Identity(Sentinel.String())
}

// A Key identifies a document by its business attributes.
type Key struct {
	Company      string
	ObjectType   string
	DocumentType string
	ItemNumber   string
	Language     string
	Size         string
	Strict       bool // no match is a hard failure instead of the sentinel
}

// Defaults fills in the optional parts of the key.
func (k *Key) Defaults() {
	if k.ItemNumber == "" {
		k.ItemNumber = "100"
	}
	if k.Language == "" {
		k.Language = "nl"
	}
	if k.Size == "" {
		k.Size = "any"
	}
}

// A Record is a row returned by the document database.
type Record struct {
	Identity string
	MimeType string
	Error    string
	Verified bool
}

// Lookup is the document database. Both methods return a nil record and a
// nil error when nothing matches.
type Lookup interface {
	LookupByKey(ctx context.Context, key Key) (*Record, error)
	FindByIdentity(ctx context.Context, identity string) (*Record, error)
}

// Outcome says how a resolution ended.
type Outcome int

const (
	Found Outcome = iota
	NotFoundSoft
	NotFoundHard
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case NotFoundSoft:
		return "not-found-soft"
	case NotFoundHard:
		return "not-found-hard"
	}
	return "unknown"
}

// A Document is the result of a resolution. Identity is set for Found and
// NotFoundSoft; the latter always carries the sentinel.
type Document struct {
	Outcome  Outcome
	Identity content.Identity
	MimeType string
	Verified bool
}

// ErrNoLookup is returned when a business key is resolved without a
// document database.
var ErrNoLookup = errors.New("no document lookup configured")

// Resolver resolves identities and business keys. Lookup may be nil, in
// which case only raw identities can be resolved.
type Resolver struct {
	Lookup Lookup
	Log    *slog.Logger
}

// New returns a Resolver which uses lookup.
func New(lookup Lookup, log *slog.Logger) *Resolver {
	return &Resolver{Lookup: lookup, Log: log}
}

func (r *Resolver) logger() *slog.Logger {
	if r.Log == nil {
		return slog.Default()
	}
	return r.Log
}

// ByIdentity resolves a raw identity, which always resolves to itself,
// lowercased and otherwise unchanged. When
// a lookup is configured the document's media type is filled in; lookup
// failures only cost that extra information.
func (r *Resolver) ByIdentity(ctx context.Context, identity string) (Document, error) {
	doc := Document{Outcome: Found, Identity: content.Normalize(identity)}
	if r.Lookup != nil {
		rec, err := r.Lookup.FindByIdentity(ctx, string(doc.Identity))
		if err != nil {
			r.logger().Warn("identity lookup failed", "identity", doc.Identity, "error", err)
		} else if rec != nil {
			doc.MimeType = rec.MimeType
			doc.Verified = rec.Verified
		}
	}
	r.logger().Debug("resolved identity",
		"identity", doc.Identity,
		"outcome", doc.Outcome)
	return doc, nil
}

// ByKey resolves a business key through the lookup. Missing optional key
// parts are defaulted first. An error from the lookup is returned as is,
// wrapped with the key.
func (r *Resolver) ByKey(ctx context.Context, key Key) (Document, error) {
	if r.Lookup == nil {
		return Document{}, ErrNoLookup
	}
	key.Defaults()
	rec, err := r.Lookup.LookupByKey(ctx, key)
	if err != nil {
		return Document{}, errors.Wrapf(err, "lookup %s/%s/%s/%s/%s/%s",
			key.Company, key.ObjectType, key.DocumentType,
			key.ItemNumber, key.Language, key.Size)
	}
	var doc Document
	switch {
	case rec != nil && strings.TrimSpace(rec.Identity) != "":
		doc = Document{
			Outcome:  Found,
			Identity: Canonical(rec.Identity),
			MimeType: rec.MimeType,
			Verified: rec.Verified,
		}
	case key.Strict:
		doc = Document{Outcome: NotFoundHard}
	default:
		doc = Document{Outcome: NotFoundSoft, Identity: SentinelIdentity()}
	}
	r.logger().Debug("resolved business key",
		"company", key.Company,
		"objecttype", key.ObjectType,
		"documenttype", key.DocumentType,
		"itemnum", key.ItemNumber,
		"language", key.Language,
		"size", key.Size,
		"strict", key.Strict,
		"outcome", doc.Outcome,
		"identity", doc.Identity)
	return doc, nil
}

// Canonical returns the identity form of an id returned by the document
// database. UUIDs are rendered in their lowercase hyphenated form, whatever
// their input form. Identities from requests are only lowercased.
func Canonical(id string) content.Identity {
	if u, err := uuid.Parse(strings.TrimSpace(id)); err == nil {
		return content.Identity(u.String())
	}
	return content.Normalize(id)
}
