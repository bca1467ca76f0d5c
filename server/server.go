// Package server is the HTTP surface of the image service. It resolves the
// identity named by a request, hands the stored asset to the delivery
// pipeline and writes the response. It also exposes the administrative
// flush of generated variants.
package server

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // for pprof server
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/facebookgo/httpdown"
	"github.com/facebookgo/stats"
	raven "github.com/getsentry/raven-go"
	"github.com/julienschmidt/httprouter"

	"github.com/groupclaes/pcm-api-i/content"
	"github.com/groupclaes/pcm-api-i/delivery"
	"github.com/groupclaes/pcm-api-i/invalidate"
	"github.com/groupclaes/pcm-api-i/resolver"
	"github.com/groupclaes/pcm-api-i/transcode"
	"github.com/groupclaes/pcm-api-i/variant"
)

// Version is the version of the service, set at link time.
var Version = "dev"

// The permission needed to flush generated variants.
const (
	FlushAction = "delete"
	FlushScope  = "GroupClaes.PCM/document"
)

// A FlushQueue runs flushes in the background.
type FlushQueue interface {
	EnqueueFlush(ctx context.Context, requestedBy string) (string, error)
}

// RESTServer holds the configuration for the image REST API server.
//
// Set all the public fields and then call Run. Run will listen on the given
// port and handle requests. Do not change any fields after calling Run.
//
// It should be enough to set DataPath. The other fields are exposed to
// allow more customization, and are given defaults when left nil.
type RESTServer struct {
	// Port number to listen on. defaults to 3000
	PortNumber string
	PProfPort  string

	// AppVersion and Service form the prefix of the image routes,
	// /{AppVersion}/{Service}/...
	AppVersion string
	Service    string

	// DataPath holds the content tree in its "content" subdirectory.
	DataPath string

	// RedirectBase is prepended to the location of legacy thumbnail
	// redirects. Empty gives a host relative location.
	RedirectBase string

	// CacheEnabled lets the transcoder keep generated variants on disk.
	CacheEnabled bool

	Tables   *variant.Tables
	Locator  *content.Locator
	Resolver *resolver.Resolver
	Pipeline *delivery.Pipeline
	Sweeper  *invalidate.Sweeper

	// Decoder validates the tokens presented to the flush route. If this
	// is nil nobody may flush.
	Decoder TokenDecoder

	// Queue runs flushes asked for with ?async=1. If nil those requests
	// are refused.
	Queue FlushQueue

	Log   *slog.Logger
	Stats stats.Client

	mu      sync.Mutex      // protects server and stopped
	server  httpdown.Server // used to close our listening socket
	stopped bool
}

// Run initializes the server and then blocks listening for and handling
// http requests.
func (s *RESTServer) Run() error {
	s.init()
	s.Log.Info("starting image server",
		"version", Version,
		"data", s.DataPath,
		"prefix", s.prefix(),
		"cache", s.CacheEnabled,
		"lookup", s.Resolver.Lookup != nil)

	// for pprof
	if s.PProfPort != "" {
		s.Log.Info("starting pprof", "port", s.PProfPort)
		go func() {
			s.Log.Error("pprof", "error", http.ListenAndServe(":"+s.PProfPort, nil))
		}()
	}
	s.Log.Info("listening", "port", s.PortNumber)

	h := httpdown.HTTP{
		StopTimeout: 10 * time.Second,
		KillTimeout: 5 * time.Second,
		Stats:       s.Stats,
		Clock:       clock.New(),
	}
	srv, err := h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.addRoutes(),
	})
	if err != nil {
		s.Log.Error("listen", "error", err)
		return err
	}
	s.mu.Lock()
	s.server = srv
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		// Stop was called while we were starting
		srv.Stop()
	}
	return srv.Wait()
}

// Stop will stop the server and return when all the server goroutines have
// exited and the socket closed. If Run has not started listening yet, it
// stops the server as soon as it does.
func (s *RESTServer) Stop() error {
	s.mu.Lock()
	s.stopped = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Stop()
}

// Handler returns the routes of the server, filling in defaults first. It
// is what Run serves.
func (s *RESTServer) Handler() http.Handler {
	s.init()
	return s.addRoutes()
}

func (s *RESTServer) init() {
	if s.Log == nil {
		s.Log = slog.Default()
	}
	if s.Stats == nil {
		s.Stats = ExpvarStats
	}
	if s.PortNumber == "" {
		s.PortNumber = "3000"
	}
	if s.AppVersion == "" {
		s.AppVersion = "v3"
	}
	if s.Service == "" {
		s.Service = "i"
	}
	if s.Tables == nil {
		s.Tables = variant.DefaultTables()
	}
	root := filepath.Join(s.DataPath, "content")
	if s.Locator == nil {
		s.Locator = content.NewLocator(root)
	}
	if s.Resolver == nil {
		s.Resolver = resolver.New(nil, s.Log)
	}
	if s.Pipeline == nil {
		s.Pipeline = &delivery.Pipeline{
			Tables: s.Tables,
			Imager: transcode.New(4, s.Log),
			Clock:  clock.New(),
			Stats:  s.Stats,
		}
	}
	if s.Sweeper == nil {
		s.Sweeper = invalidate.NewSweeper(root, 0, s.Log)
	}
	if s.Decoder == nil {
		s.Log.Warn("no token decoder given, flush is disabled")
		s.Decoder = noneDecoder{}
	}
}

func (s *RESTServer) prefix() string {
	return "/" + s.AppVersion + "/" + s.Service
}

// a permission of "" means no token is needed to access the route
type permission struct {
	action string
	scope  string
}

func (s *RESTServer) addRoutes() http.Handler {
	p := s.prefix()
	flush := permission{FlushAction, FlushScope}
	var routes = []struct {
		method  string
		route   string
		perm    permission
		handler httprouter.Handle
	}{
		{"GET", p + "/:id", permission{}, s.IdentityHandler},
		{"HEAD", p + "/:id", permission{}, s.IdentityHandler},
		{"GET", p + "/:id/:objecttype/:documenttype", permission{}, s.DocumentHandler},
		{"HEAD", p + "/:id/:objecttype/:documenttype", permission{}, s.DocumentHandler},
		{"GET", p + "/:id/:objecttype/:documenttype/:itemnum", permission{}, s.DocumentHandler},
		{"HEAD", p + "/:id/:objecttype/:documenttype/:itemnum", permission{}, s.DocumentHandler},
		{"GET", p + "/:id/:objecttype/:documenttype/:itemnum/:language", permission{}, s.DocumentHandler},
		{"HEAD", p + "/:id/:objecttype/:documenttype/:itemnum/:language", permission{}, s.DocumentHandler},

		{"POST", p + "/manage/flush-all", flush, s.FlushAllHandler},

		// links from the previous site
		{"GET", "/thumbnails/:itemNum", permission{}, s.ThumbnailRedirectHandler},

		// other
		{"GET", "/", permission{}, s.WelcomeHandler},
		{"GET", "/debug/vars", permission{}, VarHandler}, // standard route for expvars data
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method,
			route.route,
			s.logWrapper(s.authzWrapper(route.handler, route.perm)))
	}
	return r
}

// General route handlers and convenience functions

// VarHandler adapts the expvar default handler to the httprouter three parameter handler.
func VarHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// this code is taken from the stdlib expvar package.
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprintf(w, "\n}\n")
}

func writeJSON(w http.ResponseWriter, status int, val interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(val)
}

// writeResponse sends a response built by the delivery pipeline.
func writeResponse(w http.ResponseWriter, resp *delivery.Response) {
	h := w.Header()
	for k, v := range resp.Header {
		h[k] = v
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
}

// fail reports an unexpected error as a 500 carrying the message and how
// long the request ran.
func (s *RESTServer) fail(w http.ResponseWriter, r *http.Request, start time.Time, err error) {
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	s.Log.Error("request failed",
		"method", r.Method,
		"url", r.URL.String(),
		"elapsed_ms", elapsed,
		"error", err)
	raven.CaptureError(err, map[string]string{"url": r.URL.String()})
	stats.BumpSum(s.Stats, "server.errors", 1)
	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"error":         err.Error(),
		"executionTime": elapsed,
	})
}

// authzWrapper returns a Handler which will first verify the user token as
// having the given permission. The user name is added as a parameter
// "username".
func (s *RESTServer) authzWrapper(handler httprouter.Handle, perm permission) httprouter.Handle {
	if perm.action == "" {
		return handler
	}
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		p, err := s.Decoder.TokenDecode(bearerToken(r))
		if err != nil {
			s.fail(w, r, time.Now(), err)
			return
		}
		if p == nil || p.Subject == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"jwt": "missing authorization"})
			return
		}
		if !p.HasPermission(perm.action, perm.scope) {
			writeJSON(w, http.StatusForbidden, map[string]string{"role": "missing permission"})
			return
		}

		// remove any previous username
		for i := range ps {
			if ps[i].Key == "username" {
				ps[i].Value = p.Subject
				goto out
			}
		}
		// add a new username if none found
		ps = append(ps, httprouter.Param{Key: "username", Value: p.Subject})
	out:
		handler(w, r, ps)
	}
}

// bearerToken returns the token of the Authorization header, or the
// X-Api-Key header when there is none.
func bearerToken(r *http.Request) string {
	const prefix = "bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return r.Header.Get("X-Api-Key")
}

// logWrapper takes a handler and returns a handler which does the same thing,
// after first logging the request URL.
func (s *RESTServer) logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s.Log.Info("request", "method", r.Method, "url", r.URL.String())
		handler(w, r, ps)
	}
}

// noneDecoder refuses every token.
type noneDecoder struct{}

func (noneDecoder) TokenDecode(token string) (*Principal, error) { return nil, nil }
