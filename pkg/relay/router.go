package relay

import (
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Router wires the relay API under /api and the static asset root for every
// other path.
type Router struct {
	svc      *Service
	staticFS fs.FS
	mux      *http.ServeMux
	logger   zerolog.Logger
}

type RouterOption func(*Router) error

// WithStaticFS serves assets from fsys. Unknown paths get fsys's index.html.
func WithStaticFS(fsys fs.FS) RouterOption {
	return func(r *Router) error {
		if fsys == nil {
			return errors.New("static fs is nil")
		}
		r.staticFS = fsys
		return nil
	}
}

// WithStaticDir serves assets from dir. A missing dir disables the UI handler.
func WithStaticDir(dir string) RouterOption {
	return func(r *Router) error {
		if strings.TrimSpace(dir) == "" {
			return nil
		}
		st, err := os.Stat(dir)
		if err != nil || !st.IsDir() {
			r.logger.Warn().Str("static_dir", dir).Msg("static dir not found; UI handler disabled")
			return nil
		}
		r.staticFS = os.DirFS(dir)
		return nil
	}
}

func NewRouter(svc *Service, opts ...RouterOption) (*Router, error) {
	if svc == nil {
		return nil, errors.New("relay service is nil")
	}
	r := &Router{
		svc:    svc,
		mux:    http.NewServeMux(),
		logger: log.With().Str("component", "relay").Logger(),
	}
	for _, o := range opts {
		if err := o(r); err != nil {
			return nil, errors.Wrap(err, "relay router")
		}
	}
	r.registerAPIHandlers(r.mux)
	r.registerUIHandlers(r.mux)
	return r, nil
}

// Handler returns the full relay surface with CORS applied.
func (r *Router) Handler() http.Handler { return withCORS(r.mux) }

// APIHandler returns only the /api routes.
func (r *Router) APIHandler() http.Handler {
	mux := http.NewServeMux()
	r.registerAPIHandlers(mux)
	return withCORS(mux)
}

// Mount attaches the relay under prefix on an existing mux.
func (r *Router) Mount(mux *http.ServeMux, prefix string) {
	if prefix == "" || prefix == "/" {
		mux.Handle("/", r.Handler())
		return
	}
	prefix = strings.TrimRight(prefix, "/")
	mux.Handle(prefix+"/", http.StripPrefix(prefix, r.Handler()))
	mux.HandleFunc(prefix, func(w http.ResponseWriter, r0 *http.Request) {
		http.Redirect(w, r0, prefix+"/", http.StatusPermanentRedirect)
	})
}

func (r *Router) registerAPIHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/threads", r.handleCreateThread)
	mux.HandleFunc("POST /api/threads/{threadId}/messages", r.handlePostMessage)
	mux.HandleFunc("GET /api/threads/{threadId}/messages", r.handleListMessages)
	mux.HandleFunc("POST /api/threads/{threadId}/runs", r.handleRun)
	mux.HandleFunc("/api/", r.handleAPINotFound)
}

func (r *Router) registerUIHandlers(mux *http.ServeMux) {
	if r.staticFS == nil {
		r.logger.Warn().Msg("static FS not configured; UI handler disabled")
		return
	}
	files := http.FileServerFS(r.staticFS)
	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+req.URL.Path), "/")
		if name != "" && !hiddenPath(name) {
			if st, err := fs.Stat(r.staticFS, name); err == nil && !st.IsDir() {
				files.ServeHTTP(w, req)
				return
			}
		}
		b, err := fs.ReadFile(r.staticFS, "index.html")
		if err != nil {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	})
	r.logger.Info().Msg("mounted static asset handler")
}

func hiddenPath(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
