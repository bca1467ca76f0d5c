// Package client talks to a running image service over HTTP.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/antonholmquist/jason"
)

// Exported errors
var (
	ErrNotFound       = errors.New("image not found")
	ErrNotAuthorized  = errors.New("access denied")
	ErrUnavailable    = errors.New("service cannot queue flushes")
	ErrUnexpectedResp = errors.New("unexpected response code")
)

// A Connection represents a connection with an image service.
// It can be shared between multiple goroutines.
type Connection struct {
	// The server this connection is to, e.g. "http://pcm:3000"
	HostURL string

	// AppVersion and Service give the route prefix. They default to
	// "v3" and "i".
	AppVersion string
	Service    string

	// Token is sent as a bearer token on administrative requests.
	Token string

	Client *http.Client
}

// FlushResult is the outcome of a flush.
type FlushResult struct {
	// Paths lists the asset directories visited by a synchronous flush.
	Paths  []string
	Length int64

	// Task is the id of the queued task for an asynchronous flush. It is
	// empty if an identical flush was already waiting.
	Task string
}

func (c *Connection) prefix() string {
	v, s := c.AppVersion, c.Service
	if v == "" {
		v = "v3"
	}
	if s == "" {
		s = "i"
	}
	return c.HostURL + "/" + v + "/" + s
}

// FlushAll asks the service to delete every generated variant. If async is
// set the flush is queued and the call returns at once.
func (c *Connection) FlushAll(ctx context.Context, async bool) (*FlushResult, error) {
	path := c.prefix() + "/manage/flush-all"
	if async {
		path += "?async=1"
	}
	req, err := http.NewRequestWithContext(ctx, "POST", path, nil)
	if err != nil {
		return nil, err
	}
	v, err := c.doJason(req, http.StatusOK, http.StatusAccepted)
	if err != nil {
		return nil, err
	}
	result := new(FlushResult)
	if async {
		result.Task, _ = v.GetString("task")
		return result, nil
	}
	result.Paths, _ = v.GetStringArray("paths")
	result.Length, err = v.GetInt64("length")
	return result, err
}

// Download copies the image for identity into w. The query is passed
// along unchanged, e.g. url.Values{"s": {"thumb"}}. The content type of the
// image is returned.
func (c *Connection) Download(ctx context.Context, w io.Writer, identity string, query url.Values) (string, error) {
	path := c.prefix() + "/" + url.PathEscape(identity)
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, "GET", path, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case 200:
		_, err = io.Copy(w, resp.Body)
		return resp.Header.Get("Content-Type"), err
	case 404:
		return "", ErrNotFound
	default:
		return "", fmt.Errorf("received status %d for GET %s", resp.StatusCode, path)
	}
}

func (c *Connection) do(req *http.Request) (*http.Response, error) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	hc := c.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	return hc.Do(req)
}

func (c *Connection) doJason(req *http.Request, ok ...int) (*jason.Object, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	for _, code := range ok {
		if resp.StatusCode == code {
			return jason.NewObjectFromReader(resp.Body)
		}
	}
	switch resp.StatusCode {
	case 401, 403:
		return nil, ErrNotAuthorized
	case 404:
		return nil, ErrNotFound
	case 503:
		return nil, ErrUnavailable
	case 500:
		// the service reports the reason in the body
		v, err := jason.NewObjectFromReader(resp.Body)
		if err == nil {
			if msg, err := v.GetString("error"); err == nil {
				return nil, fmt.Errorf("server error: %s", msg)
			}
		}
	}
	return nil, fmt.Errorf("%w: %d for %s %s", ErrUnexpectedResp, resp.StatusCode, req.Method, req.URL.Path)
}
