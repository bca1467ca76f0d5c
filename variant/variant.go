// Package variant decides which rendition of a master image a request asks
// for. It turns the query parameters and the Accept header of a request into
// a Request, using a table of size classes loaded from configuration.
package variant

import "strings"

// Size classes with a fixed meaning.
const (
	// Source asks for the master itself. It is not resized and may be sent
	// unmodified when its encoding is acceptable to the client.
	Source = "source"

	// Original keeps the master dimensions but still goes through the
	// transcoder, so it can be re-encoded.
	Original = "original"
)

// MaxQuality is used whenever the client picks the output format.
const MaxQuality = 100

// Params are the request parameters which select a variant.
type Params struct {
	Size string // size class, the "s" query parameter
	Ext  string // explicit output format, the "ext" query parameter
}

// A Request describes the variant to deliver.
type Request struct {
	SizeClass  string
	TargetSize int // longest side in pixels, 0 leaves the dimensions alone
	Quality    int
	Format     string // explicit output format, empty when not overridden
	Cache      bool   // generated variants may be stored and reused
	WebP       bool
	SVG        bool
}

// formats are the values accepted for an explicit format override.
var formats = map[string]bool{
	"png":  true,
	"gif":  true,
	"jpg":  true,
	"jpeg": true,
	"webp": true,
}

// Negotiate derives the variant request from the parameters and the raw
// Accept header. The Accept header is only checked for the webp and svg
// media types as substrings, so "image/webp,*/*;q=0.8" accepts webp.
func (t *Tables) Negotiate(p Params, accept string, cache bool) Request {
	class := strings.TrimSpace(p.Size)
	if class == "" {
		class = Source
	}
	r := Request{
		SizeClass:  class,
		TargetSize: t.size(class),
		Quality:    t.quality(class),
		Cache:      cache,
		WebP:       strings.Contains(accept, "image/webp"),
		SVG:        strings.Contains(accept, "image/svg+xml"),
	}
	if ext := strings.ToLower(p.Ext); formats[ext] {
		r.Quality = MaxQuality
		r.Format = ext
	}
	switch class {
	case Original, Source:
		r.TargetSize = 0
	}
	return r
}

// Passthrough reports whether the request may be answered with the master
// file as stored, given its native media type.
func (r Request) Passthrough(native string) bool {
	if r.SizeClass != Source || r.Format != "" {
		return false
	}
	switch {
	case native == "image/webp" && r.WebP:
		return true
	case native == "image/svg+xml" && r.SVG:
		return true
	}
	return native == MimeType(r)
}

// VariantName is the file the request is stored under in the asset
// directory. Sizes without a file name map to the master.
func (r Request) VariantName(t *Tables) string {
	if name, ok := t.Files[r.TargetSize]; ok && r.TargetSize > 0 {
		return name
	}
	return Master
}

// MimeType is the media type of the response body for r. An explicit
// format wins, then webp negotiation, and everything else is sent as jpeg.
func MimeType(r Request) string {
	switch r.Format {
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	}
	if r.WebP {
		return "image/webp"
	}
	return "image/jpeg"
}

// Encoding is the short format name the transcoder should produce.
func (r Request) Encoding() string {
	switch MimeType(r) {
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	}
	return "jpeg"
}
