// Package site serves a built blog: its static files, the service worker
// script and a paginated post API over the JSON index.
package site

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/0xkiire/coredumped/internal/blog"
)

var corsHandler = cors.New(cors.Options{AllowedMethods: []string{http.MethodGet, http.MethodHead}})

// Options configure the site handler
type Options struct {
	// Dir is the built site, as laid out by blog.DefaultBuildOptions
	Dir                        string
	DisableCrossOriginRequests bool
	// DisableAccessLog turns off the combined access log
	DisableAccessLog bool
	// APILimitPerSecond and APIBurst rate limit the post API per source
	// IP. A zero limit disables it.
	APILimitPerSecond float64
	APIBurst          int
	// Proxied trusts X-Forwarded-For and X-Real-IP for the source IP
	Proxied bool
}

type site struct {
	dir   string
	files http.Handler
}

// New returns the handler serving the site in opts.Dir
func New(opts Options) http.Handler {
	s := &site{dir: opts.Dir, files: http.FileServer(http.Dir(opts.Dir))}

	router := mux.NewRouter()
	var posts http.Handler = http.HandlerFunc(s.handlePosts)
	var post http.Handler = http.HandlerFunc(s.handlePost)
	if opts.APILimitPerSecond > 0 {
		limiter := newRateLimiter(opts.APILimitPerSecond, max(opts.APIBurst, 1))
		posts, post = limiter.middleware(posts), limiter.middleware(post)
	}
	router.Handle("/api/posts", posts).Methods(http.MethodGet, http.MethodHead)
	router.Handle("/api/posts/{slug}", post).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/sw.js", s.handleServiceWorker).Methods(http.MethodGet, http.MethodHead)
	router.PathPrefix("/").HandlerFunc(s.handleStatic).Methods(http.MethodGet, http.MethodHead)

	var handler http.Handler = handlers.CompressHandler(router)
	if !opts.DisableCrossOriginRequests {
		handler = corsHandler.Handler(handler)
	}
	if !opts.DisableAccessLog {
		handler = handlers.CombinedLoggingHandler(accessLog{}, handler)
	}
	if opts.Proxied {
		handler = handlers.ProxyHeaders(handler)
	}
	return handler
}

func (s *site) indexPath() string {
	return filepath.Join(s.dir, "blogs", "index.json")
}

// readIndex loads the post index, answering the request itself on failure
func (s *site) readIndex(w http.ResponseWriter) ([]blog.Post, bool) {
	f, err := os.Open(s.indexPath())
	if errors.Is(err, fs.ErrNotExist) {
		http.Error(w, "post index not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		logrus.Errorf("Failed to open post index: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, false
	}
	defer func() { _ = f.Close() }()

	posts, err := blog.ReadIndex(f)
	if err != nil {
		logrus.Errorf("Failed to read post index: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, false
	}
	return posts, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warnf("Failed to write response: %v", err)
	}
}

// Pattern: /api/posts?page=&tag=&q=
func (s *site) handlePosts(w http.ResponseWriter, r *http.Request) {
	posts, ok := s.readIndex(w)
	if !ok {
		return
	}

	params := r.URL.Query()
	// an unparsable page is page 1
	page, _ := strconv.Atoi(params.Get("page"))
	result := blog.List(posts, blog.Query{
		Page:   page,
		Tag:    params.Get("tag"),
		Search: params.Get("q"),
	})

	writeJSON(w, result)
}

// Pattern: /api/posts/{slug}
func (s *site) handlePost(w http.ResponseWriter, r *http.Request) {
	posts, ok := s.readIndex(w)
	if !ok {
		return
	}

	post, ok := blog.Find(posts, mux.Vars(r)["slug"])
	if !ok {
		http.Error(w, "post not found", http.StatusNotFound)
		return
	}

	raw, err := os.ReadFile(filepath.Join(s.dir, "blogs", filepath.FromSlash(path.Clean("/"+post.File))))
	if errors.Is(err, fs.ErrNotExist) {
		http.Error(w, "post not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logrus.Errorf("Failed to read post %s: %v", post.File, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	rendered, err := blog.Render(post, raw)
	if err != nil {
		logrus.Errorf("Failed to render post %s: %v", post.File, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rendered)
}

// Pattern: /sw.js
func (s *site) handleServiceWorker(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Service-Worker-Allowed", "/")
	s.serveFile(w, r, "/sw.js")
}

func (s *site) handleStatic(w http.ResponseWriter, r *http.Request) {
	// http.FileServer redirects index.html to its directory, but the app
	// shell pre-caches it by name
	if strings.HasSuffix(r.URL.Path, "/index.html") {
		s.serveFile(w, r, r.URL.Path)
		return
	}
	s.files.ServeHTTP(w, r)
}

// serveFile serves one regular file of the site without redirects
func (s *site) serveFile(w http.ResponseWriter, r *http.Request, name string) {
	f, err := os.Open(filepath.Join(s.dir, filepath.FromSlash(path.Clean("/"+name))))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// accessLog forwards combined log lines to logrus
type accessLog struct{}

func (accessLog) Write(p []byte) (int, error) {
	logrus.WithField("component", "access").Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
