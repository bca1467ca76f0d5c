package delivery

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupclaes/pcm-api-i/content"
	"github.com/groupclaes/pcm-api-i/transcode"
	"github.com/groupclaes/pcm-api-i/variant"
)

type fakeImager struct {
	mu     sync.Mutex
	calls  []string
	color  string
	body   []byte
	err    error
	lastOp transcode.Options
}

func (f *fakeImager) GetImage(path, name, etag string, o transcode.Options) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "image:"+name+":"+etag)
	f.lastOp = o
	return f.body, f.err
}

func (f *fakeImager) GetColor(path string, o transcode.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "color")
	return f.color, nil
}

type countingStats struct {
	mu   sync.Mutex
	sums map[string]float64
}

func (c *countingStats) BumpAvg(key string, val float64)       {}
func (c *countingStats) BumpHistogram(key string, val float64) {}
func (c *countingStats) BumpSum(key string, val float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sums == nil {
		c.sums = make(map[string]float64)
	}
	c.sums[key] += val
}
func (c *countingStats) BumpTime(key string) interface{ End() } { return endFunc(func() {}) }

type endFunc func()

func (e endFunc) End() { e() }

var webpMagic = []byte("RIFF\x24\x00\x00\x00WEBPVP8 \x18\x00\x00\x00")

// newAsset stores data as a master and locates it.
func newAsset(t *testing.T, data []byte) *content.Asset {
	root := t.TempDir()
	dir := filepath.Join(root, "ab", "abcdef")
	require.NoError(t, os.MkdirAll(dir, 0775))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), data, 0664))
	mod := time.Date(2022, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "file"), mod, mod))
	a, err := content.NewLocator(root).Locate("ABCDEF")
	require.NoError(t, err)
	return a
}

func newPipeline(im Imager) (*Pipeline, *clock.Mock, *countingStats) {
	c := clock.NewMock()
	c.Add(1000 * time.Hour)
	s := &countingStats{}
	return &Pipeline{
		Tables: variant.DefaultTables(),
		Imager: im,
		Clock:  c,
		Stats:  s,
	}, c, s
}

func TestDeliverPassthroughWebP(t *testing.T) {
	im := &fakeImager{}
	p, c, s := newPipeline(im)
	asset := newAsset(t, webpMagic)
	req := p.Tables.Negotiate(variant.Params{}, "image/webp,*/*;q=0.8", true)

	resp, err := p.Deliver(asset, req, "")
	require.NoError(t, err)
	assert.Empty(t, im.calls, "imager must not be called")
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, webpMagic, resp.Body)
	assert.Equal(t, "image/webp", resp.Header.Get("Content-Type"))
	assert.Equal(t, "abcdef", resp.Header.Get(HeaderGUID))
	assert.Equal(t, "", resp.Header.Get(HeaderColor))
	assert.Equal(t, content.ETag(asset.ModTime), resp.Header.Get("ETag"))
	assert.Equal(t, "must-revalidate, max-age=172800, private", resp.Header.Get("Cache-Control"))
	assert.Equal(t, c.Now().Add(172800*time.Second).UTC().Format(http.TimeFormat), resp.Header.Get("Expires"))
	assert.Equal(t, "Fri, 06 May 2022 07:08:09 GMT", resp.Header.Get("Last-Modified"))
	assert.Equal(t, 1.0, s.sums["delivery.passthrough"])
}

func TestDeliverSourceWithoutWebPTranscodes(t *testing.T) {
	im := &fakeImager{color: "#123456", body: []byte("jpegdata")}
	p, _, s := newPipeline(im)
	asset := newAsset(t, webpMagic)
	req := p.Tables.Negotiate(variant.Params{}, "image/jpeg", true)

	resp, err := p.Deliver(asset, req, "image/webp")
	require.NoError(t, err)
	assert.Equal(t, []string{"color", "image:file:" + content.ETag(asset.ModTime)}, im.calls)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "#123456", resp.Header.Get(HeaderColor))
	assert.Equal(t, []byte("jpegdata"), resp.Body)
	assert.Equal(t, 0, im.lastOp.Size)
	assert.Equal(t, 1.0, s.sums["delivery.transcoded"])
}

func TestDeliverRecordedTypeIsChecked(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	im := &fakeImager{color: "#000000", body: []byte("jpegdata")}
	p, _, _ := newPipeline(im)
	asset := newAsset(t, png)
	req := p.Tables.Negotiate(variant.Params{Size: variant.Source}, "image/jpeg", true)

	// recorded as jpeg, stored as png: the png must not go out as jpeg
	resp, err := p.Deliver(asset, req, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, []byte("jpegdata"), resp.Body)
	assert.Len(t, im.calls, 2)

	// recorded as webp, stored as webp: sent as stored
	im = &fakeImager{}
	p, _, _ = newPipeline(im)
	asset = newAsset(t, webpMagic)
	req = p.Tables.Negotiate(variant.Params{Size: variant.Source}, "image/webp", true)
	resp, err = p.Deliver(asset, req, "image/webp")
	require.NoError(t, err)
	assert.Empty(t, im.calls)
	assert.Equal(t, webpMagic, resp.Body)
	assert.Equal(t, "image/webp", resp.Header.Get("Content-Type"))
}

func TestDeliverFormatOverrideSkipsPassthrough(t *testing.T) {
	im := &fakeImager{color: "#FFFFFF", body: []byte("gif")}
	p, _, _ := newPipeline(im)
	asset := newAsset(t, webpMagic)
	req := p.Tables.Negotiate(variant.Params{Ext: "gif"}, "image/webp", true)

	resp, err := p.Deliver(asset, req, "")
	require.NoError(t, err)
	assert.Len(t, im.calls, 2)
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))
	assert.Equal(t, 100, im.lastOp.Quality)
	assert.Equal(t, "gif", im.lastOp.Format)
}

func TestDeliverThumb(t *testing.T) {
	im := &fakeImager{color: "#ABCDEF", body: []byte("webp")}
	p, _, _ := newPipeline(im)
	asset := newAsset(t, []byte("\xff\xd8\xff\xe0\x00\x10JFIF"))
	req := p.Tables.Negotiate(variant.Params{Size: "thumb"}, "image/webp", true)

	resp, err := p.Deliver(asset, req, "")
	require.NoError(t, err)
	assert.Equal(t, "image:thumb:"+content.ETag(asset.ModTime), im.calls[1])
	assert.Equal(t, "image/webp", resp.Header.Get("Content-Type"))
	assert.Equal(t, transcode.Options{Size: 128, Quality: 80, Cache: true, WebP: true}, im.lastOp)
}

func TestDeliverSVG(t *testing.T) {
	im := &fakeImager{}
	p, _, _ := newPipeline(im)
	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`)
	asset := newAsset(t, svg)
	req := p.Tables.Negotiate(variant.Params{}, "image/svg+xml", true)

	resp, err := p.Deliver(asset, req, "")
	require.NoError(t, err)
	assert.Empty(t, im.calls)
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
	assert.Equal(t, svg, resp.Body)
}

func TestDeliverNotFound(t *testing.T) {
	p, _, _ := newPipeline(&fakeImager{})
	_, err := p.Deliver(nil, variant.Request{}, "")
	assert.Equal(t, ErrNotFound, err)

	// the master vanishes between locate and read
	asset := newAsset(t, webpMagic)
	require.NoError(t, os.Remove(asset.Path))
	req := p.Tables.Negotiate(variant.Params{}, "image/webp", true)
	_, err = p.Deliver(asset, req, "image/webp")
	assert.Equal(t, ErrNotFound, err)
}

func TestDeliverImagerFailure(t *testing.T) {
	boom := errors.New("encoder crashed")
	p, _, _ := newPipeline(&fakeImager{err: boom})
	asset := newAsset(t, webpMagic)
	req := p.Tables.Negotiate(variant.Params{Size: "thumb"}, "", true)
	_, err := p.Deliver(asset, req, "")
	require.Error(t, err)
	assert.NotEqual(t, ErrNotFound, err)
	assert.ErrorIs(t, err, boom)
}

func TestNotModified(t *testing.T) {
	p, _, s := newPipeline(&fakeImager{})
	asset := newAsset(t, webpMagic)
	etag := content.ETag(asset.ModTime)
	var table = []struct {
		header string
		match  bool
	}{
		{"", false},
		{"abc", false},
		{etag, true},
		{`"` + etag + `"`, true},
		{`W/"` + etag + `", "other"`, true},
		{"*", true},
	}
	for _, tab := range table {
		resp := p.NotModified(asset, tab.header)
		if !tab.match {
			assert.Nil(t, resp, tab.header)
			continue
		}
		require.NotNil(t, resp, tab.header)
		assert.Equal(t, http.StatusNotModified, resp.Status)
		assert.Equal(t, etag, resp.Header.Get("ETag"))
		assert.Empty(t, resp.Body)
	}
	assert.Equal(t, 4.0, s.sums["delivery.notmodified"])
}

func TestPlaceholder(t *testing.T) {
	p, c, s := newPipeline(nil)
	resp := p.Placeholder()
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))
	assert.Equal(t, "#FFFFFF", resp.Header.Get(HeaderColor))
	assert.Equal(t, "must-revalidate, max-age=172800, private", resp.Header.Get("Cache-Control"))
	assert.Equal(t, c.Now().Add(48*time.Hour).UTC().Format(http.TimeFormat), resp.Header.Get("Expires"))
	assert.Equal(t, "GIF89a", string(resp.Body[:6]))
	assert.Len(t, resp.Body, 35)
	assert.Equal(t, 1.0, s.sums["delivery.placeholder"])

	// callers may not corrupt the shared image
	resp.Body[0] = 'X'
	assert.Equal(t, "GIF89a", string(Placeholder(time.Now()).Body[:6]))
}
