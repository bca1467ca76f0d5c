package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupclaes/pcm-api-i/resolver"
)

const (
	testID     = "7c1f0e2a-3b4d-4e5f-8a9b-0c1d2e3f4a5b"
	testSecret = "test-secret"
)

var flushKey = resolver.Key{Company: "dis", ObjectType: "artikel", DocumentType: "foto", ItemNumber: "4520"}

type testEnv struct {
	t      *testing.T
	root   string // content root
	server *httptest.Server
	rs     *RESTServer
	ql     *resolver.QL
}

func pngBytes(t *testing.T, w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func (e *testEnv) addMaster(id string, data []byte) string {
	dir := filepath.Join(e.root, id[0:2], id)
	require.NoError(e.t, os.MkdirAll(dir, 0775))
	require.NoError(e.t, os.WriteFile(filepath.Join(dir, "file"), data, 0664))
	return dir
}

func newTestEnv(t *testing.T) *testEnv {
	data := t.TempDir()
	ql, err := resolver.NewQL("memory:" + t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { ql.Close() })

	rs := &RESTServer{
		AppVersion:   "v1",
		DataPath:     data,
		CacheEnabled: true,
		Resolver:     resolver.New(ql, nil),
		Decoder:      NewJWTDecoder([]byte(testSecret)),
	}
	ts := httptest.NewServer(rs.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{
		t:      t,
		root:   filepath.Join(data, "content"),
		server: ts,
		rs:     rs,
		ql:     ql,
	}
}

func (e *testEnv) do(method, route string, header map[string]string) *http.Response {
	req, err := http.NewRequest(method, e.server.URL+route, nil)
	require.NoError(e.t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	require.NoError(e.t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return body
}

func TestIdentityRoute(t *testing.T) {
	e := newTestEnv(t)
	dir := e.addMaster(testID, pngBytes(t, 300, 200))

	resp := e.do("GET", "/v1/i/"+testID+"?s=thumb", map[string]string{"Accept": "image/webp,*/*;q=0.8"})
	body := readBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/webp", resp.Header.Get("Content-Type"))
	assert.Equal(t, testID, resp.Header.Get("image-guid"))
	assert.Equal(t, "#C81E1E", resp.Header.Get("image-color"))
	assert.Equal(t, "must-revalidate, max-age=172800, private", resp.Header.Get("Cache-Control"))
	assert.NotEmpty(t, resp.Header.Get("Expires"))
	assert.NotEmpty(t, resp.Header.Get("Last-Modified"))
	assert.Len(t, resp.Header.Get("ETag"), 40)
	assert.Equal(t, "RIFF", string(body[:4]))

	// the variant and its sidecars are cached
	for _, name := range []string{"thumb", "thumb_etag", "color_code"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	// identities are not case sensitive
	resp = e.do("GET", "/v1/i/7C1F0E2A-3B4D-4E5F-8A9B-0C1D2E3F4A5B?s=thumb", nil)
	readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	// conditional requests
	etag := resp.Header.Get("ETag")
	resp = e.do("GET", "/v1/i/"+testID+"?s=thumb", map[string]string{"If-None-Match": `"` + etag + `"`})
	body = readBody(t, resp)
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)
	assert.Empty(t, body)

	// explicit format
	resp = e.do("GET", "/v1/i/"+testID+"?s=original&ext=png", nil)
	body = readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	cfg, err := png.DecodeConfig(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Width)

	// a png master is re-encoded for clients which did not ask for png
	resp = e.do("GET", "/v1/i/"+testID, nil)
	body = readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
}

func TestIdentityRouteKeepsSpelling(t *testing.T) {
	e := newTestEnv(t)
	const id = "7c1f0e2a3b4d4e5f8a9b0c1d2e3f4a5b"
	e.addMaster(id, pngBytes(t, 16, 16))

	resp := e.do("GET", "/v1/i/7C1F0E2A3B4D4E5F8A9B0C1D2E3F4A5B?s=thumb", nil)
	readBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, resp.Header.Get("image-guid"))

	// the hyphenated form names another directory
	resp = e.do("GET", "/v1/i/7c1f0e2a-3b4d-4e5f-8a9b-0c1d2e3f4a5b?s=thumb", nil)
	readBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIdentityRouteNotFound(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do("GET", "/v1/i/6258fae1-fbd0-45f1-8aef-68b76a30276e?s=thumb", nil)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, body)
	for _, h := range []string{"ETag", "Cache-Control", "Expires", "Last-Modified", "image-guid", "image-color"} {
		assert.Empty(t, resp.Header.Get(h), h)
	}
}

func TestDocumentRoute(t *testing.T) {
	e := newTestEnv(t)
	e.addMaster(testID, pngBytes(t, 64, 64))
	ctx := context.Background()
	require.NoError(t, e.ql.Register(ctx, flushKey, resolver.Record{Identity: testID}))
	require.NoError(t, e.ql.Register(ctx,
		resolver.Key{Company: "dis", ObjectType: "artikel", DocumentType: "foto", ItemNumber: "999"},
		resolver.Record{Identity: "99999999-0000-0000-0000-000000000000"}))

	var table = []struct {
		route  string
		status int
		ctype  string
	}{
		{"/v1/i/dis/artikel/foto/4520?s=thumb", 200, "image/jpeg"},
		{"/v1/i/dis/artikel/foto/4520/nl?s=thumb", 200, "image/jpeg"},
		{"/v1/i/dis/artikel/foto/999?s=thumb", 400, ""},              // file missing
		{"/v1/i/dis/artikel/foto/1?s=thumb&swp=1", 404, ""},          // strict
		{"/v1/i/dis/artikel/foto/1?s=thumb&swp=true", 404, ""},       // strict
		{"/v1/i/dis/artikel/foto/1?s=thumb", 200, "image/gif"},       // placeholder
		{"/v1/i/dis/artikel/foto/1?s=thumb&swp=0", 200, "image/gif"}, // not strict
	}
	for _, row := range table {
		for _, method := range []string{"GET", "HEAD"} {
			resp := e.do(method, row.route, nil)
			body := readBody(t, resp)
			assert.Equal(t, row.status, resp.StatusCode, method, row.route)
			assert.Equal(t, row.ctype, resp.Header.Get("Content-Type"), method, row.route)
			if method == "HEAD" {
				assert.Empty(t, body, row.route)
			}
		}
	}
}

func TestDocumentRoutePlaceholder(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do("GET", "/v1/i/dis/artikel/foto/1", nil)
	body := readBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))
	assert.Equal(t, "#FFFFFF", resp.Header.Get("image-color"))
	assert.Equal(t, "must-revalidate, max-age=172800, private", resp.Header.Get("Cache-Control"))
	cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Width)
	assert.Equal(t, 1, cfg.Height)

	// with the sentinel on disk, it is served instead
	e.addMaster(resolver.Sentinel.String(), pngBytes(t, 8, 8))
	resp = e.do("GET", "/v1/i/dis/artikel/foto/1?s=thumb", nil)
	readBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, resolver.Sentinel.String(), resp.Header.Get("image-guid"))
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
}

type failingLookup struct{}

func (failingLookup) LookupByKey(ctx context.Context, key resolver.Key) (*resolver.Record, error) {
	return nil, errors.New("database unavailable")
}

func (failingLookup) FindByIdentity(ctx context.Context, id string) (*resolver.Record, error) {
	return nil, errors.New("database unavailable")
}

func TestDocumentRouteUpstreamFailure(t *testing.T) {
	e := newTestEnv(t)
	e.rs.Resolver.Lookup = failingLookup{}
	resp := e.do("GET", "/v1/i/dis/artikel/foto/1?swp=1", nil)
	body := readBody(t, resp)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var v map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Contains(t, v["error"], "database unavailable")
	assert.Contains(t, v, "executionTime")

	// the raw route only loses the media type hint
	e.addMaster(testID, pngBytes(t, 8, 8))
	resp = e.do("GET", "/v1/i/"+testID+"?s=thumb", nil)
	readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func signed(t *testing.T, perms ...string) string {
	tok, err := SignToken([]byte(testSecret), Principal{Subject: "tester", Permissions: perms})
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestFlushAll(t *testing.T) {
	e := newTestEnv(t)
	dir := e.addMaster("ab11aaaa-0000-0000-0000-000000000000", pngBytes(t, 8, 8))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "thumb"), []byte("x"), 0664))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "thumb_etag"), []byte("x"), 0664))

	resp := e.do("POST", "/v1/i/manage/flush-all", nil)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"jwt":"missing authorization"}`, string(body))

	resp = e.do("POST", "/v1/i/manage/flush-all", map[string]string{"Authorization": "Bearer garbage"})
	readBody(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	anonymous, err := SignToken([]byte(testSecret), Principal{Permissions: []string{"delete:GroupClaes.PCM/document"}})
	require.NoError(t, err)
	resp = e.do("POST", "/v1/i/manage/flush-all", map[string]string{"Authorization": "Bearer " + anonymous})
	body = readBody(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"jwt":"missing authorization"}`, string(body))

	resp = e.do("POST", "/v1/i/manage/flush-all", map[string]string{"Authorization": signed(t, "read:*")})
	body = readBody(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.JSONEq(t, `{"role":"missing permission"}`, string(body))
	_, err = os.Stat(filepath.Join(dir, "thumb"))
	assert.NoError(t, err, "a refused flush must not delete anything")

	resp = e.do("POST", "/v1/i/manage/flush-all", map[string]string{"Authorization": signed(t, "delete:GroupClaes.PCM/document")})
	body = readBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"paths":["ab/ab11aaaa-0000-0000-0000-000000000000"],"length":1}`, string(body))
	for _, name := range []string{"thumb", "thumb_etag"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(err), name)
	}
	_, err = os.Stat(filepath.Join(dir, "file"))
	assert.NoError(t, err)
}

type fakeQueue struct {
	users []string
}

func (f *fakeQueue) EnqueueFlush(ctx context.Context, requestedBy string) (string, error) {
	f.users = append(f.users, requestedBy)
	return "task-1", nil
}

func TestFlushAllAsync(t *testing.T) {
	e := newTestEnv(t)
	auth := map[string]string{"Authorization": signed(t, "delete:*")}

	resp := e.do("POST", "/v1/i/manage/flush-all?async=1", auth)
	readBody(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	q := &fakeQueue{}
	e.rs.Queue = q
	resp = e.do("POST", "/v1/i/manage/flush-all?async=1", auth)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"task":"task-1"}`, string(body))
	assert.Equal(t, []string{"tester"}, q.users)
}

func TestFlushAllMissingRoot(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do("POST", "/v1/i/manage/flush-all", map[string]string{"Authorization": signed(t, "*")})
	body := readBody(t, resp)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), "executionTime")
}

func TestThumbnailRedirect(t *testing.T) {
	e := newTestEnv(t)
	var table = []struct {
		route    string
		location string
	}{
		{"/thumbnails/280-4520.jpg", "/v1/i/dis/artikel/foto/4520?s=thumb_large"},
		{"/thumbnails/4520.jpg", "/v1/i/dis/artikel/foto/4520?s=small"},
		{"/thumbnails/4520", "/v1/i/dis/artikel/foto/4520?s=small"},
		{"/thumbnails/280-12.3.jpg", "/v1/i/dis/artikel/foto/12?s=thumb_large"},
	}
	for _, row := range table {
		resp := e.do("GET", row.route, nil)
		readBody(t, resp)
		assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode, row.route)
		assert.Equal(t, row.location, resp.Header.Get("Location"), row.route)
	}

	e.rs.RedirectBase = "https://pcm.example.com/"
	resp := e.do("GET", "/thumbnails/280-1.png", nil)
	readBody(t, resp)
	assert.Equal(t, "https://pcm.example.com/v1/i/dis/artikel/foto/1?s=thumb_large", resp.Header.Get("Location"))
}

func TestOtherRoutes(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do("GET", "/", nil)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "/v1/i")

	resp = e.do("GET", "/debug/vars", nil)
	body = readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var v map[string]interface{}
	assert.NoError(t, json.Unmarshal(body, &v))
	assert.Contains(t, v, "pcm")
}

func TestStopBeforeRun(t *testing.T) {
	rs := &RESTServer{PortNumber: "0", DataPath: t.TempDir()}
	require.NoError(t, rs.Stop())

	done := make(chan error, 1)
	go func() { done <- rs.Run() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after an early Stop")
	}
}

func TestStopWhileRunning(t *testing.T) {
	rs := &RESTServer{PortNumber: "0", DataPath: t.TempDir()}
	done := make(chan error, 1)
	go func() { done <- rs.Run() }()
	go rs.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
