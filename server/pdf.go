package server

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"net/http"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/Jacob-Maurice/PCR/auth"
	"github.com/Jacob-Maurice/PCR/field"
	"github.com/Jacob-Maurice/PCR/snapshot"
)

// Page layout for the rendered report. Injury points are recorded in the
// coordinate space of the on-screen diagram and rescaled into the diagram
// box here.
const (
	pageW = 850
	pageH = 1100

	diagramX = 540
	diagramY = 90
	diagramW = 260
	diagramH = 390

	canvasRefW = 400
	canvasRefH = 600
)

var markerColor = color.RGBA{R: 0xd0, G: 0x1c, B: 0x1c, A: 0xff}

// renderReportImage draws a submission onto a single page image: field
// values as text lines on the left, the injury diagram box with rescaled
// markers on the right.
func (s *Server) renderReportImage(snap snapshot.Snapshot) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, pageW, pageH))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
	}
	line := func(x, y int, text string) {
		d.Dot = fixed.P(x, y)
		d.DrawString(text)
	}

	line(40, 50, "PATIENT CARE REPORT")
	line(40, 66, "Completed by: "+snap.SavedBy)

	y := 100
	for _, desc := range s.schema.Descs() {
		var value string
		if desc.Kind == field.KindMulti {
			value = strings.Join(snap.Multis[desc.Key], ", ")
		} else {
			value = snap.Scalars[desc.Key]
		}
		if value == "" {
			value = "-"
		}
		line(40, y, fmt.Sprintf("%s: %s", desc.Key, value))
		y += 18
		if y > pageH-40 {
			break
		}
	}

	// Diagram box.
	box := image.Rect(diagramX, diagramY, diagramX+diagramW, diagramY+diagramH)
	for x := box.Min.X; x < box.Max.X; x++ {
		img.Set(x, box.Min.Y, color.Black)
		img.Set(x, box.Max.Y-1, color.Black)
	}
	for yy := box.Min.Y; yy < box.Max.Y; yy++ {
		img.Set(box.Min.X, yy, color.Black)
		img.Set(box.Max.X-1, yy, color.Black)
	}
	line(diagramX, diagramY-10, "Injury locations")

	for _, p := range snap.Points {
		px := diagramX + p.X*diagramW/canvasRefW
		py := diagramY + p.Y*diagramH/canvasRefH
		drawMarker(img, px, py, 4)
	}
	return img
}

func drawMarker(img *image.RGBA, cx, cy, r int) {
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy <= r*r {
				img.Set(cx+dx, cy+dy, markerColor)
			}
		}
	}
}

// renderPDF renders the submission image and wraps it into a single-page
// PDF.
func (s *Server) renderPDF(snap snapshot.Snapshot) ([]byte, error) {
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, s.renderReportImage(snap)); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	imp, err := api.Import("form:A4, pos:c", types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("pdf import config: %w", err)
	}
	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, []io.Reader{&pngBuf}, imp, nil); err != nil {
		return nil, fmt.Errorf("pdf import: %w", err)
	}
	return out.Bytes(), nil
}

// handleDownloadPDF renders the caller's latest submission as a PDF.
func (s *Server) handleDownloadPDF(w http.ResponseWriter, r *http.Request) {
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

	pdf, err := s.renderPDF(snap)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="report-%s.pdf"`, id))
	w.Write(pdf)
}
