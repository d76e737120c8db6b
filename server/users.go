package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Jacob-Maurice/PCR/auth"
	"github.com/Jacob-Maurice/PCR/idgen"
	"github.com/Jacob-Maurice/PCR/securebox"
)

// User is the public view of an account row.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type userService struct {
	db     *sql.DB
	master *securebox.Box
}

const passwordSpecials = "@$!%*?&"

// validatePassword enforces the account password policy: at least 8
// characters, one uppercase letter, one digit, one special character, and
// nothing outside letters, digits and the special set.
func validatePassword(pw string) error {
	if len(pw) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	var upper, digit, special bool
	for _, r := range pw {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		default:
			return fmt.Errorf("password contains disallowed character %q", r)
		}
	}
	if !upper {
		return errors.New("password must contain an uppercase letter")
	}
	if !digit {
		return errors.New("password must contain a digit")
	}
	if !special {
		return fmt.Errorf("password must contain one of %s", passwordSpecials)
	}
	return nil
}

// authenticate verifies credentials and returns session claims.
func (s *userService) authenticate(ctx context.Context, username, password string) (*auth.Claims, error) {
	var id, hash, role string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, password_hash, role FROM users WHERE username = ?`, username).
		Scan(&id, &hash, &role)
	if errors.Is(err, sql.ErrNoRows) {
		// Burn a comparison so a missing account costs the same as a wrong
		// password.
		bcrypt.CompareHashAndPassword([]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"), []byte(password))
		return nil, errors.New("unknown user")
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, errors.New("wrong password")
	}
	return &auth.Claims{UserID: id, Username: username, Role: role}, nil
}

// create adds an account with a fresh wrapped draft-encryption key.
func (s *userService) create(ctx context.Context, username, password, role string) (*User, error) {
	if username == "" {
		return nil, errors.New("username required")
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if role != auth.RoleAdmin {
		role = auth.RoleUser
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	userKey, err := securebox.GenerateKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := s.master.WrapKey(userKey)
	if err != nil {
		return nil, err
	}

	id := idgen.New()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, role, wrapped_key, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, username, string(hash), role, wrapped, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &User{ID: id, Username: username, Role: role}, nil
}

func (s *userService) list(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, role FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Role); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// remove deletes an account. Drafts and submissions follow via the
// foreign-key cascade.
func (s *userService) remove(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New("user not found")
	}
	return nil
}

// box returns the per-user encryption box by unwrapping the stored key.
func (s *userService) box(ctx context.Context, userID string) (*securebox.Box, error) {
	var wrapped string
	err := s.db.QueryRowContext(ctx,
		`SELECT wrapped_key FROM users WHERE id = ?`, userID).Scan(&wrapped)
	if err != nil {
		return nil, fmt.Errorf("user key: %w", err)
	}
	return s.master.UnwrapKey(wrapped)
}

// --- Admin handlers ---

func (s *Server) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.list(r.Context())
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, users)
}

func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	user, err := s.users.create(r.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	writeJSON(w, 201, user)
}

func (s *Server) handleRemoveUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	claims := auth.GetClaims(r.Context())
	if claims != nil && claims.Username == req.Username {
		writeError(w, 400, errors.New("cannot remove your own account"))
		return
	}
	if err := s.users.remove(r.Context(), req.Username); err != nil {
		writeError(w, 400, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}
