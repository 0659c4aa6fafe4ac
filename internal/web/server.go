package web

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"VirtualDoctor/internal/chat"
	"VirtualDoctor/internal/completion"
	"VirtualDoctor/internal/nutrition"
	"VirtualDoctor/internal/report"
	"VirtualDoctor/internal/session"
	"VirtualDoctor/internal/tips"
)

//go:embed templates/*.html
var templateFS embed.FS

// CookieName is the cookie carrying the session ID.
const CookieName = "vdoc_session"

// ChatSender runs one doctor chat turn.
type ChatSender interface {
	Send(ctx context.Context, conv chat.Conversation, text string) (chat.Turn, error)
}

// PlanBuilder generates a nutrition plan.
type PlanBuilder interface {
	BuildPlan(ctx context.Context, req nutrition.Request) completion.Result
}

// Options configures a Server.
type Options struct {
	Chat      ChatSender
	Nutrition PlanBuilder
	Exporter  *report.Exporter
	ReportDir string // Downloads are also archived here when set

	Tips        []string
	TipInterval time.Duration
	Theme       Theme

	SecureCookie bool
	Logger       *slog.Logger
}

// Server serves the Virtual Doctor pages for every browser session.
type Server struct {
	sessions *session.Manager
	chat     ChatSender
	planner  PlanBuilder
	exporter *report.Exporter

	reportDir   string
	tips        []string
	tipInterval time.Duration
	theme       Theme
	secure      bool

	pages    map[session.Page]*template.Template
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer parses the embedded templates and returns a Server backed by
// sessions.
func NewServer(sessions *session.Manager, opts Options) (*Server, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session manager cannot be nil")
	}
	if opts.Chat == nil || opts.Nutrition == nil {
		return nil, fmt.Errorf("chat and nutrition services are required")
	}

	s := &Server{
		sessions:    sessions,
		chat:        opts.Chat,
		planner:     opts.Nutrition,
		exporter:    opts.Exporter,
		reportDir:   opts.ReportDir,
		tips:        opts.Tips,
		tipInterval: opts.TipInterval,
		theme:       opts.Theme,
		secure:      opts.SecureCookie,
		logger:      opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if s.exporter == nil {
		s.exporter = report.NewExporter()
	}
	if len(s.tips) == 0 {
		s.tips = tips.Default
	}
	if s.tipInterval <= 0 {
		s.tipInterval = tips.DefaultInterval
	}
	if s.theme == (Theme{}) {
		s.theme = DefaultTheme()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	s.pages = pages
	return s, nil
}

func parsePages() (map[session.Page]*template.Template, error) {
	funcs := template.FuncMap{"markdown": renderMarkdown}
	files := map[session.Page]string{
		session.PageHome:       "templates/home.html",
		session.PageDoctorChat: "templates/chat.html",
		session.PageNutrition:  "templates/nutrition.html",
		session.PageAbout:      "templates/about.html",
	}

	pages := make(map[session.Page]*template.Template, len(files))
	for page, file := range files {
		tmpl, err := template.New("layout").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file, err)
		}
		pages[page] = tmpl
	}
	return pages, nil
}

// Handler returns the instrumented HTTP handler for every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.interaction(s.handleIndex))
	mux.HandleFunc("POST /navigate", s.interaction(s.handleNavigate))
	mux.HandleFunc("POST /chat", s.interaction(s.handleChat))
	mux.HandleFunc("POST /nutrition", s.interaction(s.handleNutrition))
	mux.HandleFunc("GET /nutrition/report.pdf", s.interaction(s.handleReport))
	mux.HandleFunc("POST /session/reset", s.handleReset)
	mux.HandleFunc("GET /ws/tips", s.handleTips)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return otelhttp.NewHandler(s.logRequests(mux), "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		level := slog.LevelInfo
		if m.Code >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.LogAttrs(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", m.Code),
			slog.Int64("bytes", m.Written),
			slog.Int64("duration_ms", m.Duration.Milliseconds()),
		)
	})
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

// interaction resolves the caller's session and holds its turn lock until
// h returns.
func (s *Server) interaction(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sess *session.Session
		for {
			var err error
			sess, err = s.resolve(w, r)
			if err != nil {
				s.logger.Error("failed to resolve session", "error", err)
				http.Error(w, "session unavailable", http.StatusInternalServerError)
				return
			}

			sess.Lock()
			if !sess.Ended() {
				break
			}
			// reset or expired while this request waited for the turn
			sess.Unlock()
			s.logger.Debug("session ended before turn, starting a new one", "session_id", sess.ID)
		}
		defer sess.Unlock()
		sess.Touch()

		h(w, r, sess)
	}
}

// resolve returns the session named by the request cookie, starting a new
// one (and setting the cookie) when there is none.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	var id string
	if c, err := r.Cookie(CookieName); err == nil {
		id = c.Value
	}

	sess, created, err := s.sessions.Resolve(id)
	if err != nil {
		return nil, err
	}
	if created {
		http.SetCookie(w, s.cookie(sess.ID, 0))
	}
	return sess, nil
}

// existing returns the session named by the request cookie without
// creating one.
func (s *Server) existing(r *http.Request) (*session.Session, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return nil, false
	}
	return s.sessions.Get(c.Value)
}

func (s *Server) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// render executes the page template into memory before writing so a
// template failure still produces a clean 500.
func (s *Server) render(w http.ResponseWriter, status int, page session.Page, data *pageData) {
	tmpl, ok := s.pages[page]
	if !ok {
		http.Error(w, "unknown page", http.StatusNotFound)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.logger.Error("failed to render page", "page", page.String(), "error", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Debug("failed to write page", "page", page.String(), "error", err)
	}
}

func (s *Server) redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
