package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/groupclaes/pcm-api-i/content"
	"github.com/groupclaes/pcm-api-i/delivery"
	"github.com/groupclaes/pcm-api-i/resolver"
	"github.com/groupclaes/pcm-api-i/variant"
)

// IdentityHandler handles
//
//	GET /:version/:service/:id?s=&ext=
//
// and returns the variant of the asset named by id. An unknown asset is a
// 404 without any headers.
func (s *RESTServer) IdentityHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	start := time.Now()
	doc, err := s.Resolver.ByIdentity(r.Context(), ps.ByName("id"))
	if err != nil {
		s.fail(w, r, start, err)
		return
	}
	asset, err := s.Locator.Locate(string(doc.Identity))
	if err == content.ErrNotFound {
		w.WriteHeader(http.StatusNotFound)
		return
	} else if err != nil {
		s.fail(w, r, start, err)
		return
	}
	resp, err := s.deliver(r, asset, nativeHint(doc.MimeType))
	if errors.Is(err, delivery.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	} else if err != nil {
		s.fail(w, r, start, err)
		return
	}
	writeResponse(w, resp)
}

// DocumentHandler handles
//
//	GET /:version/:service/:company/:objecttype/:documenttype[/:itemnum[/:language]]?swp=&size=&s=&ext=
//
// and returns the variant of the document found for the business key. A
// key without a document gives the placeholder image, unless swp is set, in
// which case it is a 404. A document whose file is missing is a 400.
func (s *RESTServer) DocumentHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	start := time.Now()
	q := r.URL.Query()
	key := resolver.Key{
		Company:      ps.ByName("id"),
		ObjectType:   ps.ByName("objecttype"),
		DocumentType: ps.ByName("documenttype"),
		ItemNumber:   ps.ByName("itemnum"),
		Language:     ps.ByName("language"),
		Size:         q.Get("size"),
		Strict:       flagSet(q, "swp"),
	}
	doc, err := s.Resolver.ByKey(r.Context(), key)
	if err != nil {
		s.fail(w, r, start, err)
		return
	}

	var asset *content.Asset
	switch doc.Outcome {
	case resolver.NotFoundHard:
		w.WriteHeader(http.StatusNotFound)
		return
	case resolver.NotFoundSoft:
		asset, err = s.Locator.Locate(string(doc.Identity))
		if err == content.ErrNotFound {
			writeResponse(w, s.Pipeline.Placeholder())
			return
		}
	default:
		asset, err = s.Locator.Locate(string(doc.Identity))
		if err == content.ErrNotFound {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}
	if err != nil {
		s.fail(w, r, start, err)
		return
	}

	resp, err := s.deliver(r, asset, nativeHint(doc.MimeType))
	if errors.Is(err, delivery.ErrNotFound) {
		if doc.Outcome == resolver.NotFoundSoft {
			writeResponse(w, s.Pipeline.Placeholder())
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	} else if err != nil {
		s.fail(w, r, start, err)
		return
	}
	writeResponse(w, resp)
}

// deliver answers a conditional request from the validators alone, and
// otherwise runs the delivery pipeline for the request's variant.
func (s *RESTServer) deliver(r *http.Request, asset *content.Asset, native string) (*delivery.Response, error) {
	if resp := s.Pipeline.NotModified(asset, r.Header.Get("If-None-Match")); resp != nil {
		return resp, nil
	}
	q := r.URL.Query()
	req := s.Tables.Negotiate(variant.Params{
		Size: q.Get("s"),
		Ext:  q.Get("ext"),
	}, r.Header.Get("Accept"), s.CacheEnabled)
	return s.Pipeline.Deliver(asset, req, native)
}

// nativeHint returns the media type recorded for a document when it names
// an image format. Anything else is left to sniffing.
func nativeHint(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch mime {
	case "image/webp", "image/png", "image/jpeg", "image/gif", "image/svg+xml":
		return mime
	}
	return ""
}

// flagSet reports whether the query flag name is present and not
// explicitly turned off.
func flagSet(q map[string][]string, name string) bool {
	v, ok := q[name]
	if !ok {
		return false
	}
	if len(v) == 0 {
		return true
	}
	switch strings.ToLower(v[0]) {
	case "0", "false", "no", "off":
		return false
	}
	return true
}
