package server

import (
	"database/sql"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Jacob-Maurice/PCR/auth"
	"github.com/Jacob-Maurice/PCR/snapshot"
)

// handleSubmitDraft upserts the caller's draft. One draft per account: a
// new save replaces the previous one. The payload is stored encrypted
// under the caller's wrapped key.
func (s *Server) handleSubmitDraft(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	// Reject payloads that don't parse as a draft document before they hit
	// storage.
	if _, err := snapshot.Unmarshal(body); err != nil {
		writeError(w, 400, err)
		return
	}

	box, err := s.users.box(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	sealed, err := box.SealString(string(body))
	if err != nil {
		writeError(w, 500, err)
		return
	}

	_, err = s.db.ExecContext(r.Context(),
		`INSERT INTO drafts (user_id, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		claims.UserID, sealed, time.Now().UnixMilli())
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "saved"})
}

// handleGetDraft returns the caller's draft as a JSON string inside an
// envelope, or 404 when no draft exists.
func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())

	var sealed string
	err := s.db.QueryRowContext(r.Context(),
		`SELECT payload FROM drafts WHERE user_id = ?`, claims.UserID).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, 404, map[string]string{"message": "No draft found"})
		return
	}
	if err != nil {
		writeError(w, 500, err)
		return
	}

	box, err := s.users.box(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	draft, err := box.OpenString(sealed)
	if err != nil {
		// Undecryptable rows are unrecoverable; treat as absent rather than
		// failing the form load forever.
		s.logger.Warn("draft decrypt failed", "user_id", claims.UserID, "error", err)
		writeJSON(w, 404, map[string]string{"message": "No draft found"})
		return
	}
	writeJSON(w, 200, map[string]string{"draft": draft})
}

// handleClearDraft deletes the caller's draft. Clearing an absent draft
// succeeds.
func (s *Server) handleClearDraft(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if _, err := s.db.ExecContext(r.Context(),
		`DELETE FROM drafts WHERE user_id = ?`, claims.UserID); err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "cleared"})
}
