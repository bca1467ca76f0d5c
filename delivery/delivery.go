// Package delivery assembles the response for an image request: it picks
// between sending the master as stored and asking the transcoder for a
// variant, and sets the cache validators and diagnostic headers.
package delivery

import (
	"net/http"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"github.com/facebookgo/stats"
	"github.com/pkg/errors"

	"github.com/groupclaes/pcm-api-i/content"
	"github.com/groupclaes/pcm-api-i/transcode"
	"github.com/groupclaes/pcm-api-i/variant"
)

// Custom response headers.
const (
	HeaderGUID  = "image-guid"
	HeaderColor = "image-color"
)

// ErrNotFound means the master disappeared, or was never there. It is the
// same value as content.ErrNotFound.
var ErrNotFound = content.ErrNotFound

// Imager produces variants and dominant colours of a master file.
type Imager interface {
	GetImage(path, name, etag string, o transcode.Options) ([]byte, error)
	GetColor(path string, o transcode.Options) (string, error)
}

// A Response is a complete HTTP response, ready to be written.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Pipeline delivers images. Clock and Stats may be nil.
type Pipeline struct {
	Tables *variant.Tables
	Imager Imager
	Clock  clock.Clock
	Stats  stats.Client
}

func (p *Pipeline) now() time.Time {
	if p.Clock == nil {
		return time.Now()
	}
	return p.Clock.Now()
}

// Validators returns the cache validators for asset as of now.
func (p *Pipeline) Validators(asset *content.Asset) content.Validators {
	return content.NewValidators(asset.ModTime, p.now())
}

// NotModified returns a 304 response when ifNoneMatch names the current
// etag of asset, and nil otherwise.
func (p *Pipeline) NotModified(asset *content.Asset, ifNoneMatch string) *Response {
	if asset == nil || ifNoneMatch == "" {
		return nil
	}
	v := p.Validators(asset)
	if !etagMatches(ifNoneMatch, v.ETag) {
		return nil
	}
	h := make(http.Header)
	v.Apply(h)
	h.Set(HeaderGUID, asset.Identity.String())
	stats.BumpSum(p.Stats, "delivery.notmodified", 1)
	return &Response{Status: http.StatusNotModified, Header: h}
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		candidate = strings.TrimPrefix(candidate, "W/")
		if strings.Trim(candidate, `"`) == etag {
			return true
		}
	}
	return false
}

// Deliver builds the response for req from asset. native is the media type
// recorded for the master, if any. It only saves sniffing the file when the
// master is transcoded; before the master is sent as stored its type is
// always taken from its contents. A master
// which is missing, or disappears while being read, gives ErrNotFound. Any
// other error is returned wrapped.
func (p *Pipeline) Deliver(asset *content.Asset, req variant.Request, native string) (*Response, error) {
	if asset == nil {
		return nil, ErrNotFound
	}
	// vector masters cannot be rasterised, so they are always sent as is
	passthrough := func(mime string) bool {
		return req.Passthrough(mime) || mime == "image/svg+xml"
	}
	if native == "" || passthrough(native) {
		sniffed, err := asset.Sniff()
		if err != nil {
			return nil, notFoundOr(err, "sniff master")
		}
		native = sniffed
	}
	v := p.Validators(asset)
	h := make(http.Header)
	v.Apply(h)
	h.Set(HeaderGUID, asset.Identity.String())

	if passthrough(native) {
		body, err := asset.ReadAll()
		if err != nil {
			return nil, notFoundOr(err, "read master")
		}
		h.Set("Content-Type", native)
		stats.BumpSum(p.Stats, "delivery.passthrough", 1)
		return &Response{Status: http.StatusOK, Header: h, Body: body}, nil
	}

	o := transcode.Options{
		Size:    req.TargetSize,
		Quality: req.Quality,
		Cache:   req.Cache,
		WebP:    req.WebP,
		Format:  req.Format,
	}
	t := stats.BumpTime(p.Stats, "delivery.transcode")
	color, err := p.Imager.GetColor(asset.Path, o)
	if err != nil {
		t.End()
		return nil, notFoundOr(err, "dominant colour")
	}
	body, err := p.Imager.GetImage(asset.Path, req.VariantName(p.tables()), v.ETag, o)
	t.End()
	if err != nil {
		return nil, notFoundOr(err, "generate variant")
	}
	h.Set(HeaderColor, color)
	h.Set("Content-Type", variant.MimeType(req))
	stats.BumpSum(p.Stats, "delivery.transcoded", 1)
	return &Response{Status: http.StatusOK, Header: h, Body: body}, nil
}

func (p *Pipeline) tables() *variant.Tables {
	if p.Tables == nil {
		return variant.DefaultTables()
	}
	return p.Tables
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, content.ErrNotFound) {
		return ErrNotFound
	}
	return errors.Wrap(err, msg)
}
