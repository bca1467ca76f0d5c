package delivery

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/facebookgo/stats"

	"github.com/groupclaes/pcm-api-i/content"
)

// PlaceholderColor is the image-color of the placeholder.
const PlaceholderColor = "#FFFFFF"

// a 1x1 transparent gif
var placeholderGIF, _ = base64.StdEncoding.DecodeString("R0lGODlhAQABAIAAAP///wAAACwAAAAAAQABAAACAkQBADs=")

// Placeholder is the response for a document which has no image: a 1x1
// transparent gif.
func Placeholder(now time.Time) *Response {
	h := make(http.Header)
	h.Set("Cache-Control", content.CacheControl)
	h.Set("Expires", now.Add(content.MaxAge*time.Second).UTC().Format(http.TimeFormat))
	h.Set("Content-Type", "image/gif")
	h.Set(HeaderColor, PlaceholderColor)
	body := make([]byte, len(placeholderGIF))
	copy(body, placeholderGIF)
	return &Response{Status: http.StatusOK, Header: h, Body: body}
}

// Placeholder returns the placeholder response as of the pipeline clock.
func (p *Pipeline) Placeholder() *Response {
	stats.BumpSum(p.Stats, "delivery.placeholder", 1)
	return Placeholder(p.now())
}
