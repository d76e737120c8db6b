package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Jacob-Maurice/PCR/auth"
	"github.com/Jacob-Maurice/PCR/field"
	"github.com/Jacob-Maurice/PCR/idgen"
	"github.com/Jacob-Maurice/PCR/snapshot"
)

// sanitize strips markup from every free-text value. Checkbox and radio
// values come from the fixed option lists and pass through unchanged.
func (s *Server) sanitize(snap *snapshot.Snapshot) {
	for key, v := range snap.Scalars {
		desc, ok := s.schema.Lookup(key)
		if ok && desc.Kind == field.KindRadio {
			continue
		}
		snap.Scalars[key] = strings.TrimSpace(s.sanitizer.Sanitize(v))
	}
	snap.SavedBy = strings.TrimSpace(s.sanitizer.Sanitize(snap.SavedBy))
}

// handleSubmit finalizes the caller's report: the payload is sanitized,
// stored as a submission, and the working draft is destroyed.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	snap, err := snapshot.Unmarshal(body)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	s.sanitize(&snap)
	snap.SavedBy = claims.Username

	clean, err := snapshot.Marshal(snap)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	box, err := s.users.box(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	sealed, err := box.SealString(string(clean))
	if err != nil {
		writeError(w, 500, err)
		return
	}

	tx, err := s.db.BeginTx(r.Context(), nil)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	defer tx.Rollback()

	id := idgen.New()
	if _, err := tx.ExecContext(r.Context(),
		`INSERT INTO submissions (id, user_id, payload, submitted_at) VALUES (?, ?, ?, ?)`,
		id, claims.UserID, sealed, time.Now().UnixMilli()); err != nil {
		writeError(w, 500, err)
		return
	}
	if _, err := tx.ExecContext(r.Context(),
		`DELETE FROM drafts WHERE user_id = ?`, claims.UserID); err != nil {
		writeError(w, 500, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "submitted", "id": id})
}

// latestSubmission loads and decrypts the caller's most recent submission.
func (s *Server) latestSubmission(ctx context.Context, userID string) (snapshot.Snapshot, string, error) {
	var id, sealed string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, payload FROM submissions WHERE user_id = ? ORDER BY submitted_at DESC LIMIT 1`,
		userID).Scan(&id, &sealed)
	if err != nil {
		return snapshot.Snapshot{}, "", err
	}
	box, err := s.users.box(ctx, userID)
	if err != nil {
		return snapshot.Snapshot{}, "", err
	}
	raw, err := box.OpenString(sealed)
	if err != nil {
		return snapshot.Snapshot{}, "", err
	}
	snap, err := snapshot.Unmarshal([]byte(raw))
	return snap, id, err
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	snap, id, err := s.latestSubmission(r.Context(), claims.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, 404, map[string]string{"message": "No submission found"})
		return
	}
	if err != nil {
		writeError(w, 500, err)
		return
	}
	raw, err := snapshot.Marshal(snap)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]any{"id": id, "submission": string(raw)})
}

// handleExportSubmissions writes every submission to an XLSX workbook, one
// row per report with a column per field.
func (s *Server) handleExportSubmissions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(),
		`SELECT s.id, s.user_id, u.username, s.payload, s.submitted_at
		 FROM submissions s JOIN users u ON u.id = s.user_id
		 ORDER BY s.submitted_at`)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	defer rows.Close()

	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Submissions"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"id", "username", "submitted_at"}
	for _, d := range s.schema.Descs() {
		headers = append(headers, d.Key)
	}
	headers = append(headers, "injury_points")
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	rowNr := 2
	for rows.Next() {
		var id, userID, username, sealed string
		var submittedAt int64
		if err := rows.Scan(&id, &userID, &username, &sealed, &submittedAt); err != nil {
			writeError(w, 500, err)
			return
		}
		box, err := s.users.box(r.Context(), userID)
		if err != nil {
			s.logger.Warn("export: user key", "user_id", userID, "error", err)
			continue
		}
		raw, err := box.OpenString(sealed)
		if err != nil {
			s.logger.Warn("export: decrypt", "submission", id, "error", err)
			continue
		}
		snap, err := snapshot.Unmarshal([]byte(raw))
		if err != nil {
			s.logger.Warn("export: parse", "submission", id, "error", err)
			continue
		}

		values := []any{id, username, time.UnixMilli(submittedAt).UTC().Format(time.RFC3339)}
		for _, d := range s.schema.Descs() {
			if d.Kind == field.KindMulti {
				values = append(values, strings.Join(snap.Multis[d.Key], ", "))
			} else {
				values = append(values, snap.Scalars[d.Key])
			}
		}
		points := make([]string, 0, len(snap.Points))
		for _, p := range snap.Points {
			points = append(points, fmt.Sprintf("(%d,%d)", p.X, p.Y))
		}
		values = append(values, strings.Join(points, " "))

		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, rowNr)
			f.SetCellValue(sheet, cell, v)
		}
		rowNr++
	}
	if err := rows.Err(); err != nil {
		writeError(w, 500, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="submissions.xlsx"`)
	if err := f.Write(w); err != nil {
		s.logger.Warn("export: write workbook", "error", err)
	}
}
