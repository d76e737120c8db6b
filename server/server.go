// Package server implements the report server: session auth, encrypted
// draft persistence, report submission, PDF rendering and account
// administration over a single SQLite database.
package server

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"

	"github.com/Jacob-Maurice/PCR/auth"
	"github.com/Jacob-Maurice/PCR/field"
	"github.com/Jacob-Maurice/PCR/securebox"
	"github.com/Jacob-Maurice/PCR/shield"
)

//go:embed static
var staticFS embed.FS

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT 'user',
	wrapped_key   TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS drafts (
	user_id    TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	payload    TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS submissions (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	payload      TEXT NOT NULL,
	submitted_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submissions_user ON submissions(user_id, submitted_at DESC);
`

// Config holds the server dependencies and secrets.
type Config struct {
	// Secret signs session tokens. Must be at least auth.MinSecretLen bytes.
	Secret []byte
	// MasterKey wraps per-user draft encryption keys, standard base64.
	MasterKey string
	// AdminPassword seeds the initial admin account when no admin exists.
	AdminPassword string
	// TokenExpiry defaults to auth.DefaultExpiry.
	TokenExpiry time.Duration
}

// Server holds the handlers and their shared state.
type Server struct {
	db        *sql.DB
	logger    *slog.Logger
	secret    []byte
	expiry    time.Duration
	users     *userService
	schema    *field.Schema
	sanitizer *bluemonday.Policy
}

// New migrates the database, seeds the admin account and verifies the
// embedded form template against the field schema.
func New(ctx context.Context, db *sql.DB, cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := auth.ValidateSecret(cfg.Secret); err != nil {
		return nil, err
	}
	master, err := securebox.NewFromBase64(cfg.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("server: master key: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("server: migrate: %w", err)
	}

	expiry := cfg.TokenExpiry
	if expiry <= 0 {
		expiry = auth.DefaultExpiry
	}

	s := &Server{
		db:        db,
		logger:    logger,
		secret:    cfg.Secret,
		expiry:    expiry,
		users:     &userService{db: db, master: master},
		schema:    field.DefaultSchema(),
		sanitizer: bluemonday.StrictPolicy(),
	}

	if err := s.checkFormTemplate(); err != nil {
		return nil, err
	}
	if err := s.seedAdmin(ctx, cfg.AdminPassword); err != nil {
		return nil, fmt.Errorf("server: seed admin: %w", err)
	}
	return s, nil
}

// seedAdmin creates the initial admin account when none exists. Without a
// configured password it only logs a warning; a server with no admin can
// still serve existing accounts.
func (s *Server) seedAdmin(ctx context.Context, password string) error {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE role = ?`, auth.RoleAdmin).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if password == "" {
		s.logger.Warn("no admin account and no ADMIN_PASSWORD set")
		return nil
	}
	u, err := s.users.create(ctx, "admin", password, auth.RoleAdmin)
	if err != nil {
		return err
	}
	s.logger.Info("seeded admin account", "user_id", u.ID)
	return nil
}

// Router builds the chi router with the full middleware stack and all
// routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}
	r.Use(auth.Middleware(s.secret)) // soft parse; enforcement is per-route

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Get("/login", s.servePage("static/login.html"))
	r.Post("/login", s.handleLogin)
	r.Get("/logout", s.handleLogout)
	r.Handle("/static/*", http.FileServer(http.FS(staticFS)))

	// The report form requires a session; unauthenticated requests land on
	// the login page.
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)
		r.Get("/", s.servePage("static/index.html"))
	})

	// Draft and submission endpoints speak JSON and reject without a
	// session instead of redirecting.
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuthAPI)

		r.Post("/submit_draft", s.handleSubmitDraft)
		r.Get("/get_draft", s.handleGetDraft)
		r.Post("/api/clear_draft", s.handleClearDraft)

		r.Post("/api/submit", s.handleSubmit)
		r.Get("/api/submission", s.handleGetSubmission)
		r.Get("/api/download_pdf", s.handleDownloadPDF)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAdmin)

		r.Get("/admin/get_users", s.handleGetUsers)
		r.Post("/admin/add_user", s.handleAddUser)
		r.Post("/admin/remove_user", s.handleRemoveUser)
		r.Get("/admin/export_submissions", s.handleExportSubmissions)
	})

	return r
}

func (s *Server) servePage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		f, err := staticFS.Open(name)
		if err != nil {
			http.Error(w, "not found", 404)
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.Copy(w, f)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	claims, err := s.users.authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeJSON(w, 401, map[string]string{"message": "invalid credentials"})
		return
	}
	token, err := auth.GenerateToken(s.secret, claims, s.expiry)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	secure := r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
	auth.SetTokenCookie(w, token, secure)
	writeJSON(w, 200, map[string]string{
		"id": claims.UserID, "username": claims.Username, "role": claims.Role, "token": token,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearTokenCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// StaticFS exposes the embedded assets, used by the template check and in
// tests.
func StaticFS() fs.FS { return staticFS }

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"message": err.Error()})
}
