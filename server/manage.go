package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
)

// FlushAllHandler handles
//
//	POST /:version/:service/manage/flush-all[?async=1]
//
// and deletes every generated variant, answering with the asset paths
// visited. With async set the flush is queued instead and the task id is
// returned with a 202.
func (s *RESTServer) FlushAllHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	start := time.Now()
	user := ps.ByName("username")
	if flagSet(r.URL.Query(), "async") {
		if s.Queue == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no queue configured"})
			return
		}
		id, err := s.Queue.EnqueueFlush(r.Context(), user)
		if err != nil {
			s.fail(w, r, start, err)
			return
		}
		s.Log.Info("flush queued", "user", user, "task", id)
		writeJSON(w, http.StatusAccepted, map[string]string{"task": id})
		return
	}
	// a flush runs to completion even if the client goes away
	res, err := s.Sweeper.FlushAll(context.Background())
	if err != nil {
		s.fail(w, r, start, err)
		return
	}
	s.Log.Info("flush done", "user", user, "assets", res.Length, "elapsed", time.Since(start))
	writeJSON(w, http.StatusOK, res)
}

// ThumbnailRedirectHandler handles
//
//	GET /thumbnails/:itemNum
//
// which is how the previous site linked article photos. A "280-" prefix
// asked for the large thumbnail; everything else gets the small size.
func (s *RESTServer) ThumbnailRedirectHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	item, size := legacyThumbnail(ps.ByName("itemNum"))
	target := strings.TrimSuffix(s.RedirectBase, "/") + s.prefix() +
		"/dis/artikel/foto/" + url.PathEscape(item) + "?s=" + size
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

func legacyThumbnail(name string) (item, size string) {
	item, _, _ = strings.Cut(name, ".")
	size = "small"
	if strings.HasPrefix(item, "280-") {
		item = item[len("280-"):]
		size = "thumb_large"
	}
	return item, size
}
