package transcode

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/groupclaes/pcm-api-i/content"
	"github.com/groupclaes/pcm-api-i/variant"
)

// DefaultColor is reported for images without any opaque pixel.
const DefaultColor = "#FFFFFF"

// colorSample is the width the master is reduced to before counting.
const colorSample = 64

var hexColor = regexp.MustCompile(`^#[0-9A-F]{6}$`)

// GetColor returns the dominant colour of the master at path as #RRGGBB.
// With caching on, the value is kept in the color_code sidecar and reused
// while the sidecar is not older than the master.
func (t *Transcoder) GetColor(path string, o Options) (string, error) {
	sidecar := filepath.Join(filepath.Dir(path), variant.ColorSidecar)
	if o.Cache {
		if c, ok := readColor(path, sidecar); ok {
			return c, nil
		}
	}
	c, err := t.dominant(path)
	if err != nil {
		return "", err
	}
	if o.Cache {
		if err := content.WriteAtomic(sidecar, []byte(c)); err != nil {
			t.logger().Warn("caching colour", "path", sidecar, "error", err)
		}
	}
	return c, nil
}

func readColor(master, sidecar string) (string, bool) {
	si, err := os.Stat(sidecar)
	if err != nil {
		return "", false
	}
	mi, err := os.Stat(master)
	if err != nil || si.ModTime().Before(mi.ModTime()) {
		return "", false
	}
	data, err := os.ReadFile(sidecar)
	if err != nil {
		return "", false
	}
	c := strings.ToUpper(strings.TrimSpace(string(data)))
	if !hexColor.MatchString(c) {
		return "", false
	}
	return c, true
}

func (t *Transcoder) dominant(path string) (string, error) {
	if err := t.Gate.Enter(context.Background()); err != nil {
		return "", err
	}
	defer t.Gate.Leave()

	img, err := decode(path)
	if err != nil {
		return "", err
	}
	if img.Bounds().Dx() > colorSample {
		img = imaging.Resize(img, colorSample, 0, imaging.Box)
	}
	return dominantColor(img), nil
}

// dominantColor counts the opaque pixels of img in buckets of 4 bits per
// channel and returns the mean colour of the fullest bucket.
func dominantColor(img image.Image) string {
	type bucket struct {
		n       int
		r, g, b uint64
	}
	buckets := make(map[uint16]*bucket)
	var best *bucket
	nrgba := imaging.Clone(img)
	bounds := nrgba.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := nrgba.NRGBAAt(x, y)
			if c.A < 128 {
				continue
			}
			k := uint16(c.R>>4)<<8 | uint16(c.G>>4)<<4 | uint16(c.B>>4)
			bk := buckets[k]
			if bk == nil {
				bk = &bucket{}
				buckets[k] = bk
			}
			bk.n++
			bk.r += uint64(c.R)
			bk.g += uint64(c.G)
			bk.b += uint64(c.B)
			if best == nil || bk.n > best.n {
				best = bk
			}
		}
	}
	if best == nil {
		return DefaultColor
	}
	n := float64(best.n) * 255
	c := colorful.Color{
		R: float64(best.r) / n,
		G: float64(best.g) / n,
		B: float64(best.b) / n,
	}
	return strings.ToUpper(c.Clamped().Hex())
}
