// Package transcode produces the variants of a master image. Variants are
// resized and re-encoded on first request and kept next to the master,
// together with an etag sidecar which records what the variant was made
// from. A later request is answered from disk while the sidecar still
// matches.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/groupclaes/pcm-api-i/content"
	"github.com/groupclaes/pcm-api-i/util"
	"github.com/groupclaes/pcm-api-i/variant"
)

// Options control the rendition of a variant.
type Options struct {
	Size    int  // longest side in pixels, 0 keeps the dimensions
	Quality int  // encoder quality, 1 to 100
	Cache   bool // keep generated variants on disk and reuse them
	WebP    bool // the client accepts webp
	Format  string
}

// Encoding is the output format for o: the explicit format if there is
// one, otherwise webp when the client accepts it and jpeg when not.
func (o Options) Encoding() string {
	switch strings.ToLower(o.Format) {
	case "png":
		return "png"
	case "gif":
		return "gif"
	case "jpg", "jpeg":
		return "jpeg"
	case "webp":
		return "webp"
	}
	if o.WebP {
		return "webp"
	}
	return "jpeg"
}

func (o Options) quality() int {
	if o.Quality < 1 || o.Quality > 100 {
		return variant.DefaultQuality
	}
	return o.Quality
}

// ErrUnsupported is returned for masters which cannot be decoded.
var ErrUnsupported = errors.New("unsupported image format")

// Transcoder generates variants. Generations are bounded by Gate, and
// concurrent requests for the same variant share one generation.
type Transcoder struct {
	Gate   *util.Gate
	Log    *slog.Logger
	flight singleflight
}

// New returns a Transcoder running at most n generations at once.
func New(n int, log *slog.Logger) *Transcoder {
	return &Transcoder{
		Gate: util.NewGate(n),
		Log:  log,
	}
}

func (t *Transcoder) logger() *slog.Logger {
	if t.Log == nil {
		return slog.Default()
	}
	return t.Log
}

// sidecarValue is what the etag sidecar holds for a variant of a master
// with the given etag.
func sidecarValue(etag string, o Options) string {
	return fmt.Sprintf("%s %s q%d", etag, o.Encoding(), o.quality())
}

// GetImage returns the variant name of the master at path. A cached
// variant is used when caching is on and its sidecar matches etag and the
// requested encoding. The master name itself is never written.
func (t *Transcoder) GetImage(path, name, etag string, o Options) ([]byte, error) {
	dir := filepath.Dir(path)
	persist := o.Cache && name != variant.Master && variant.IsGenerated(name)
	want := sidecarValue(etag, o)
	if persist {
		if data, ok := readCached(dir, name, want); ok {
			return data, nil
		}
	}
	key := fmt.Sprintf("%s\x00%s s%d", filepath.Join(dir, name), want, o.Size)
	return t.flight.Do(key, func() ([]byte, error) {
		data, err := t.render(path, o)
		if err != nil {
			return nil, err
		}
		if persist {
			t.store(dir, name, want, data)
		}
		return data, nil
	})
}

func readCached(dir, name, want string) ([]byte, bool) {
	side, err := os.ReadFile(filepath.Join(dir, name+variant.EtagSuffix))
	if err != nil || strings.TrimSpace(string(side)) != want {
		return nil, false
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}

// store writes the variant and then its sidecar, so a sidecar never
// describes a variant which is not on disk yet. Failures only cost the
// cache entry.
func (t *Transcoder) store(dir, name, sidecar string, data []byte) {
	err := content.WriteAtomic(filepath.Join(dir, name), data)
	if err == nil {
		err = content.WriteAtomic(filepath.Join(dir, name+variant.EtagSuffix), []byte(sidecar))
	}
	if err != nil {
		t.logger().Warn("caching variant", "dir", dir, "variant", name, "error", err)
	}
}

// render decodes, resizes and encodes the master at path.
func (t *Transcoder) render(path string, o Options) ([]byte, error) {
	if err := t.Gate.Enter(context.Background()); err != nil {
		return nil, err
	}
	defer t.Gate.Leave()

	img, err := decode(path)
	if err != nil {
		return nil, err
	}
	if o.Size > 0 {
		b := img.Bounds()
		if b.Dx() > o.Size || b.Dy() > o.Size {
			img = imaging.Fit(img, o.Size, o.Size, imaging.Lanczos)
		}
	}
	var buf bytes.Buffer
	switch o.Encoding() {
	case "png":
		err = imaging.Encode(&buf, img, imaging.PNG)
	case "gif":
		err = imaging.Encode(&buf, img, imaging.GIF)
	case "webp":
		err = webp.Encode(&buf, img, webp.Options{Quality: o.quality()})
	default:
		err = imaging.Encode(&buf, flatten(img), imaging.JPEG, imaging.JPEGQuality(o.quality()))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", o.Encoding())
	}
	return buf.Bytes(), nil
}

func decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, content.ErrNotFound
		}
		return nil, err
	}
	defer f.Close()
	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err == image.ErrFormat {
		return nil, ErrUnsupported
	} else if err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	return img, nil
}

// flatten draws img onto a white background, since jpeg has no alpha.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
