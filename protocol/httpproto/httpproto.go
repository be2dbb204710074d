// Package httpproto implements the built-in "http" and "https"
// protocol handlers: resource-only schemes with no browsable root,
// grounded on the teacher's backend/http package (net/http client,
// HEAD-then-GET size/modtime probing, status-code error mapping) but
// trimmed to single-resource fetches since spec §4.A treats http(s)
// as addressing individually materialized resources rather than
// crawlable directory listings.
package httpproto

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/owlcore-storage/storagefs/protocol"
	"github.com/owlcore-storage/storagefs/storable"
	"github.com/owlcore-storage/storagefs/storageerr"
)

// Handler is the built-in http/https protocol handler. One type serves
// both schemes; New takes the scheme an instance answers to, so
// registration installs one instance under "http" and another under
// "https".
type Handler struct {
	scheme string
	client *http.Client
}

// New constructs the handler for scheme ("http" or "https").
func New(scheme string) *Handler {
	return &Handler{scheme: scheme, client: &http.Client{Timeout: 30 * time.Second}}
}

func (h *Handler) Scheme() string                { return h.scheme }
func (h *Handler) HasBrowsableRoot() bool        { return false }
func (h *Handler) NeedsRegistration(string) bool { return false }

// CreateChildID is unused for a resource-only handler, but URL path
// joining is the obvious native shape if ever asked for.
func (h *Handler) CreateChildID(parentID, childName string) string {
	sep := "/"
	if len(parentID) > 0 && parentID[len(parentID)-1] == '/' {
		sep = ""
	}
	return parentID + sep + childName
}

func (h *Handler) DriveInfo(ctx context.Context, rootURI string) (*storable.DriveInfo, error) {
	return nil, storageerr.New("httpproto.DriveInfo", storageerr.Unsupported, "http(s) has no browsable root")
}

// CreateResource fetches headers for resourceURI via HEAD and returns
// a resource whose Reader performs the actual GET lazily. A HEAD that
// fails or answers with a non-2xx status fails CreateResource; no GET
// is tried in its place.
func (h *Handler) CreateResource(ctx context.Context, resourceURI string) (storable.Storable, error) {
	url := toURL(h.scheme, resourceURI)
	size, modTime, err := h.probe(ctx, url)
	if err != nil {
		return nil, err
	}
	return &resource{handler: h, url: url, id: resourceURI, size: size, modTime: modTime}, nil
}

func toURL(scheme, resourceURI string) string {
	_, tail, ok := protocol.SplitID(resourceURI)
	if !ok {
		tail = resourceURI
	}
	return scheme + "://" + tail
}

func (h *Handler) probe(ctx context.Context, url string) (int64, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, time.Time{}, storageerr.Wrap("httpproto.probe", storageerr.InvalidArgument, err, "build HEAD request")
	}
	res, err := h.client.Do(req)
	if err != nil {
		return 0, time.Time{}, storageerr.Wrap("httpproto.probe", storageerr.Unavailable, err, "HEAD request failed")
	}
	defer func() { _ = res.Body.Close() }()
	if err := statusError(res); err != nil {
		return 0, time.Time{}, err
	}
	var modTime time.Time
	if lm := res.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			modTime = t
		}
	}
	return res.ContentLength, modTime, nil
}

func statusError(res *http.Response) error {
	if res.StatusCode == http.StatusNotFound {
		return storageerr.Newf("httpproto", storageerr.NotFound, "HTTP %s", res.Status)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return storageerr.Newf("httpproto", storageerr.Unavailable, "HTTP %s", res.Status)
	}
	return nil
}

// resource is a single HTTP(S) file. It is never a folder: spec §4.A
// notes http(s) is resource-only.
type resource struct {
	handler *Handler
	url     string
	id      string
	size    int64
	modTime time.Time
}

func (r *resource) ID() string                           { return r.id }
func (r *resource) Name() string                         { return lastSegment(r.url) }
func (r *resource) Size() int64                          { return r.size }
func (r *resource) ModTime(ctx context.Context) time.Time { return r.modTime }

func (r *resource) Reader(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, storageerr.Wrap("httpproto.Reader", storageerr.InvalidArgument, err, "build GET request")
	}
	res, err := r.handler.client.Do(req)
	if err != nil {
		return nil, storageerr.Wrap("httpproto.Reader", storageerr.Unavailable, err, "GET request failed")
	}
	if err := statusError(res); err != nil {
		_ = res.Body.Close()
		return nil, err
	}
	return res.Body, nil
}

func (r *resource) ReadAll(ctx context.Context) ([]byte, error) {
	return storable.ReadAllFile(ctx, r)
}

func lastSegment(url string) string {
	i := len(url) - 1
	for i >= 0 && url[i] == '/' {
		i--
	}
	end := i + 1
	for i >= 0 && url[i] != '/' {
		i--
	}
	if i+1 > end {
		return url
	}
	return url[i+1 : end]
}

var (
	_ protocol.ResourceHandler = (*Handler)(nil)
	_ storable.File            = (*resource)(nil)
)
