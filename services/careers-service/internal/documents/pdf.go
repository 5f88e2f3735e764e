// Package documents renders CV and cover letter PDFs.
package documents

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/northpeak/studio/services/careers-service/internal/profile"
)

const (
	margin     = 18.0
	lineHeight = 5.5
	creator    = "studio careers-service"
)

// Letter carries what the cover letter needs besides the profile.
type Letter struct {
	Company   string
	RoleTitle string
	Body      string
	Date      time.Time
}

type writer struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func newWriter(title, author string) *writer {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	pdf.SetTitle(title, true)
	pdf.SetAuthor(author, true)
	pdf.SetCreator(creator, true)
	pdf.AddPage()
	// Core fonts are cp1252; the translator maps UTF-8 input onto it.
	return &writer{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
}

func (w *writer) text(family, style string, size float64, s string) {
	w.pdf.SetFont(family, style, size)
	w.pdf.MultiCell(0, lineHeight, w.tr(s), "", "L", false)
}

func (w *writer) heading(s string) {
	w.pdf.Ln(3)
	w.pdf.SetTextColor(40, 40, 40)
	w.pdf.SetFont("Helvetica", "B", 12)
	w.pdf.CellFormat(0, 7, w.tr(strings.ToUpper(s)), "", 1, "L", false, 0, "")
	y := w.pdf.GetY()
	w.pdf.SetDrawColor(180, 180, 180)
	w.pdf.Line(margin, y, 210-margin, y)
	w.pdf.Ln(2)
	w.pdf.SetTextColor(0, 0, 0)
}

func (w *writer) bytes() ([]byte, error) {
	if err := w.pdf.Error(); err != nil {
		return nil, fmt.Errorf("documents: render: %w", err)
	}
	var buf bytes.Buffer
	if err := w.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("documents: output: %w", err)
	}
	return buf.Bytes(), nil
}

func contactLine(p profile.Profile) string {
	parts := []string{}
	for _, s := range []string{p.Email, p.Phone, p.Location, p.Website} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "  |  ")
}

// CV renders a one-column CV from p.
func CV(p profile.Profile) ([]byte, error) {
	w := newWriter(p.Name+" - CV", p.Name)

	w.text("Helvetica", "B", 20, p.Name)
	if p.Headline != "" {
		w.text("Helvetica", "", 12, p.Headline)
	}
	if c := contactLine(p); c != "" {
		w.text("Helvetica", "", 9, c)
	}

	if p.Summary != "" {
		w.heading("Summary")
		w.text("Helvetica", "", 10, p.Summary)
	}
	if len(p.Skills) > 0 {
		w.heading("Skills")
		w.text("Helvetica", "", 10, strings.Join(p.Skills, ", "))
	}
	if len(p.Experience) > 0 {
		w.heading("Experience")
		for _, e := range p.Experience {
			w.text("Helvetica", "B", 10, e.Title+", "+e.Company)
			w.text("Helvetica", "I", 9, e.Period())
			for _, h := range e.Highlights {
				w.text("Helvetica", "", 10, "- "+h)
			}
			w.pdf.Ln(2)
		}
	}
	if len(p.Education) > 0 {
		w.heading("Education")
		for _, e := range p.Education {
			line := e.Degree + ", " + e.Institution
			if e.Year != "" {
				line += " (" + e.Year + ")"
			}
			w.text("Helvetica", "", 10, line)
		}
	}
	return w.bytes()
}

// CoverLetter renders l.Body as a letter signed by p.
func CoverLetter(p profile.Profile, l Letter) ([]byte, error) {
	if strings.TrimSpace(l.Body) == "" {
		return nil, fmt.Errorf("documents: cover letter body is empty")
	}
	w := newWriter(fmt.Sprintf("%s - Cover letter for %s", p.Name, l.Company), p.Name)

	w.text("Helvetica", "B", 14, p.Name)
	if c := contactLine(p); c != "" {
		w.text("Helvetica", "", 9, c)
	}
	w.pdf.Ln(8)
	if l.Date.IsZero() {
		l.Date = time.Now()
	}
	w.text("Helvetica", "", 10, l.Date.Format("2 January 2006"))
	w.text("Helvetica", "", 10, l.Company)
	w.pdf.Ln(4)
	w.text("Helvetica", "B", 10, "Re: "+l.RoleTitle)
	w.pdf.Ln(4)

	for _, para := range strings.Split(strings.ReplaceAll(l.Body, "\r\n", "\n"), "\n\n") {
		if para = strings.TrimSpace(para); para == "" {
			continue
		}
		w.text("Times", "", 11, para)
		w.pdf.Ln(3)
	}
	w.pdf.Ln(4)
	w.text("Times", "", 11, "Kind regards,")
	w.text("Times", "B", 11, p.Name)
	return w.bytes()
}
