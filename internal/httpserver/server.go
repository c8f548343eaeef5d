package httpserver

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"aird/internal/auth"
	"aird/internal/config"
	"aird/internal/fsops"
	"aird/internal/fsutil"
	"aird/internal/kind"
	"aird/internal/logging"
	"aird/internal/metrics"
	"aird/internal/tail"
	"aird/internal/upload"
)

//go:embed web/login.html web/directory.html web/file.html
var webFS embed.FS

// Options configures a Server.
type Options struct {
	Config config.Config
}

// Server wires the gate, the filesystem operations, the upload receiver,
// and the tail transport behind one http.Handler.
type Server struct {
	cfg     config.Config
	ops     fsops.Ops
	gate    *auth.Gate
	uploads upload.Receiver
	tmpl    *template.Template
}

// New builds a Server from a finalized config.
func New(opts Options) (*Server, error) {
	tmpl, err := template.New("web").Funcs(template.FuncMap{
		"isImage": isImageName,
		"child":   childPath,
		"mtime": func(sec int64) string {
			return time.Unix(sec, 0).Format("2006-01-02 15:04")
		},
	}).ParseFS(webFS, "web/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Server{
		cfg:     opts.Config,
		ops:     fsops.Ops{Root: opts.Config.Root},
		gate:    auth.New(opts.Config.Token, opts.Config.TokenBcrypt),
		uploads: upload.Receiver{Root: opts.Config.Root},
		tmpl:    tmpl,
	}, nil
}

// Handler returns the fully assembled route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/login", s.handleLogin)

	protected := http.NewServeMux()
	protected.HandleFunc("/stream/", s.handleStream)
	protected.HandleFunc("/upload", s.handleUpload)
	protected.HandleFunc("/delete", s.handleDelete)
	protected.HandleFunc("/rename", s.handleRename)
	protected.HandleFunc("/api/list", s.handleList)
	protected.HandleFunc("/thumb", s.handleThumb)

	dav := &webdav.Handler{
		Prefix:     "/dav",
		FileSystem: davFS{root: s.cfg.Root},
		LockSystem: webdav.NewMemLS(),
	}
	protected.Handle("/dav/", dav)

	protected.HandleFunc("/", s.handleBrowse)

	mux.Handle("/", s.gate.Middleware(protected))

	return logging.Middleware(metrics.Middleware(withHeaders(mux)))
}

// withHeaders applies the baseline hardening headers.
func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// writeError maps a taxonomy error onto an HTTP result. Containment
// failures deliberately carry no path detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case kind.IsContainment(err):
		metrics.RecordContainmentReject()
		logging.WithContext(r.Context()).Warn("containment rejection",
			zap.String("path", r.URL.Path))
		http.Error(w, "Forbidden", http.StatusForbidden)
	case kind.IsNotFound(err):
		http.Error(w, "Not found", http.StatusNotFound)
	case kind.IsInvalidCredential(err):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	default:
		logging.WithContext(r.Context()).Error("internal error", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// --- login ---

type loginPage struct {
	Error string
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if s.gate.Validate(auth.CredentialFromRequest(r)) {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		s.render(w, r, "login.html", loginPage{})
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		cred, err := s.gate.Login(r.FormValue("token"))
		if err != nil {
			metrics.RecordAuthAttempt(false)
			logging.WithContext(r.Context()).Warn("login failed",
				zap.String("remote", r.RemoteAddr))
			w.WriteHeader(http.StatusUnauthorized)
			s.render(w, r, "login.html", loginPage{Error: "Invalid token. Try again."})
			return
		}
		metrics.RecordAuthAttempt(true)
		http.SetCookie(w, &http.Cookie{
			Name:     auth.CookieName,
			Value:    cred,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, "/", http.StatusFound)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- browsing ---

type directoryPage struct {
	Path    string
	Parent  string
	Entries []fsops.Entry
}

type filePage struct {
	Path      string
	Name      string
	Content   string
	Streaming bool
}

// handleBrowse serves the directory page for directories, the file view for
// files, and the raw bytes when ?download=1 is set.
func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	logical := strings.TrimPrefix(r.URL.Path, "/")
	abs, err := s.ops.Resolve(logical)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := os.Stat(abs)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %s", kind.ErrNotFound, fsutil.CleanRelPath(logical)))
		return
	}

	if st.IsDir() {
		entries, err := s.ops.List(logical)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		rel := fsutil.CleanRelPath(logical)
		parent := ""
		if rel != "" {
			parent = path.Dir(rel)
			if parent == "." {
				parent = ""
			}
		}
		s.render(w, r, "directory.html", directoryPage{Path: rel, Parent: parent, Entries: entries})
		return
	}

	if r.URL.Query().Get("download") != "" {
		s.serveDownload(w, r, logical, st)
		return
	}

	content, err := s.ops.ReadFileText(logical)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.render(w, r, "file.html", filePage{
		Path:      fsutil.CleanRelPath(logical),
		Name:      st.Name(),
		Content:   content,
		Streaming: r.URL.Query().Get("stream") != "",
	})
}

func (s *Server) serveDownload(w http.ResponseWriter, r *http.Request, logical string, st os.FileInfo) {
	abs, err := s.ops.Resolve(logical)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := os.Open(abs)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("open: %w", kind.ErrIO))
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	// FormatMediaType quotes/escapes the name, so a crafted filename
	// cannot smuggle additional header content.
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": st.Name()}))
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
	metrics.RecordDownloadBytes(st.Size())
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	logical := r.URL.Query().Get("path")
	entries, err := s.ops.List(logical)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"path": fsutil.CleanRelPath(logical), "items": entries})
}

// --- mutations ---

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	logical := r.FormValue("path")
	if err := s.ops.Delete(logical); err != nil {
		s.writeError(w, r, err)
		return
	}
	logging.WithContext(r.Context()).Info("deleted", zap.String("path", fsutil.CleanRelPath(logical)))
	redirectToParent(w, r, logical)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	logical := r.FormValue("path")
	newName := r.FormValue("new_name")
	if err := s.ops.Rename(logical, newName); err != nil {
		s.writeError(w, r, err)
		return
	}
	logging.WithContext(r.Context()).Info("renamed",
		zap.String("path", fsutil.CleanRelPath(logical)), zap.String("to", newName))
	redirectToParent(w, r, logical)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(256 << 20); err != nil {
		http.Error(w, "bad multipart", http.StatusBadRequest)
		return
	}
	saved, err := s.uploads.Receive(r.MultipartForm)
	for _, sv := range saved {
		metrics.RecordUploadBytes(sv.Size)
	}
	if err != nil {
		var be *upload.BatchError
		if errors.As(err, &be) && kind.IsContainment(be.Err) {
			metrics.RecordContainmentReject()
			http.Error(w, fmt.Sprintf("Forbidden path: %s", be.RelPath), http.StatusForbidden)
			return
		}
		s.writeError(w, r, err)
		return
	}
	logging.WithContext(r.Context()).Info("upload complete", zap.Int("files", len(saved)))
	if wantsJSON(r) {
		writeJSON(w, map[string]any{"ok": true, "saved": saved})
		return
	}
	dir := ""
	if v := r.MultipartForm.Value[upload.FieldDirectory]; len(v) > 0 {
		dir = fsutil.CleanRelPath(v[0])
	}
	http.Redirect(w, r, "/"+dir, http.StatusFound)
}

// --- tail transport (SSE) ---

// handleStream serves /stream/<path> as a server-sent event stream: one
// backfill event, then one event per appended line. A validation failure
// produces a single diagnostic event before the stream ends.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	logical := strings.TrimPrefix(r.URL.Path, "/stream/")
	abs, err := s.ops.Resolve(logical)
	if err == nil {
		var st os.FileInfo
		if st, err = os.Stat(abs); err != nil {
			err = fmt.Errorf("%w: %s", kind.ErrNotFound, fsutil.CleanRelPath(logical))
		} else if !st.Mode().IsRegular() {
			err = fmt.Errorf("%w: not a regular file", kind.ErrNotFound)
		}
	}
	if err != nil {
		w.WriteHeader(http.StatusOK)
		writeSSE(w, "error", diagnosticFor(err))
		flusher.Flush()
		return
	}

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.TailSessionOpened()
	defer metrics.TailSessionClosed()

	sess := tail.NewSession(abs)
	defer sess.Close()

	done := make(chan error, 1)
	go func() { done <- sess.Run(r.Context()) }()

	log := logging.WithContext(r.Context())
	log.Info("tail session opened", zap.String("path", fsutil.CleanRelPath(logical)))
	for msg := range sess.Out() {
		writeSSE(w, "line", msg)
		flusher.Flush()
		n := strings.Count(msg, "\n")
		if n == 0 {
			n = 1
		}
		metrics.RecordTailLines(n)
	}
	if err := <-done; err != nil {
		writeSSE(w, "error", diagnosticFor(err))
		flusher.Flush()
	}
	log.Info("tail session closed", zap.String("path", fsutil.CleanRelPath(logical)))
}

// writeSSE frames one event; multi-line payloads become multiple data:
// fields per the SSE wire format, preserving line boundaries.
func writeSSE(w io.Writer, event, payload string) {
	fmt.Fprintf(w, "event: %s\n", event)
	payload = strings.TrimSuffix(payload, "\n")
	for _, line := range strings.Split(payload, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}

// diagnosticFor is the one client-visible message a failed stream gets.
// Containment failures stay opaque.
func diagnosticFor(err error) string {
	switch {
	case kind.IsContainment(err):
		return "Forbidden"
	case kind.IsNotFound(err):
		return "File not found"
	default:
		return "Stream unavailable"
	}
}

// --- helpers ---

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		logging.WithContext(r.Context()).Error("template render", zap.Error(err))
	}
}

// childPath joins a directory page's path with an entry name for links.
func childPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func redirectToParent(w http.ResponseWriter, r *http.Request, logical string) {
	parent := path.Dir(fsutil.CleanRelPath(logical))
	if parent == "." {
		parent = ""
	}
	http.Redirect(w, r, "/"+parent, http.StatusFound)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
