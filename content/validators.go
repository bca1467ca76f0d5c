package content

import (
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"time"
)

// MaxAge is how long clients may keep a delivered image, in seconds.
const MaxAge = 172800

// CacheControl is sent with every image response.
const CacheControl = "must-revalidate, max-age=172800, private"

// isoMillis renders a time the way ECMAScript's Date.toISOString does. The
// ETag is derived from this exact string so validators stay stable for
// clients that cached images from earlier deployments.
const isoMillis = "2006-01-02T15:04:05.000Z"

// Validators are the HTTP cache headers for one asset. They are computed per
// request and never stored.
type Validators struct {
	ETag         string
	LastModified time.Time
	Expires      time.Time
	CacheControl string
}

// NewValidators derives the validators for a master modified at modTime, as
// seen at time now.
func NewValidators(modTime, now time.Time) Validators {
	return Validators{
		ETag:         ETag(modTime),
		LastModified: modTime,
		Expires:      now.Add(MaxAge * time.Second),
		CacheControl: CacheControl,
	}
}

// ETag returns the hex SHA-1 of the millisecond ISO-8601 form of t.
func ETag(t time.Time) string {
	sum := sha1.Sum([]byte(t.UTC().Format(isoMillis)))
	return hex.EncodeToString(sum[:])
}

// Apply writes the validators into h.
func (v Validators) Apply(h http.Header) {
	h.Set("Cache-Control", v.CacheControl)
	h.Set("Expires", v.Expires.UTC().Format(http.TimeFormat))
	h.Set("Last-Modified", v.LastModified.UTC().Format(http.TimeFormat))
	h.Set("ETag", v.ETag)
}
