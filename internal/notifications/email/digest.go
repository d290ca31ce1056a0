// Package email performs client-side rendering of the expiry digest
// using Go's html/template and text/template with embedded template
// files. Rendering happens before any provider is involved, so the same
// output goes to SES, SendGrid, or the local stub.
package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	texttemplate "text/template"
	"time"

	"fleetops/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// digestDateLayout is how dates are displayed inside the digest body.
const digestDateLayout = "02 Jan 2006"

// RenderedDigest holds the pre-rendered email content ready for
// transmission.
type RenderedDigest struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// digestRow is one alert line inside the digest tables.
type digestRow struct {
	Title      string
	Category   string
	Priority   string
	DueDate    string
	DaysBefore int
	Urgent     bool
}

// digestData is the struct passed into the Go templates for rendering.
type digestData struct {
	Subject     string
	RunDate     string
	Total       int
	UrgentCount int
	Rows        []digestRow
}

// DigestRenderer renders the batched expiry digest from embedded
// templates.
type DigestRenderer struct {
	html *template.Template
	text *texttemplate.Template
}

// NewDigestRenderer parses the embedded templates and returns a
// DigestRenderer. Returns an error if any template fails to parse.
func NewDigestRenderer() (*DigestRenderer, error) {
	htmlContent, err := templateFS.ReadFile("templates/expiry_digest.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read expiry_digest.html: %w", err)
	}
	htmlTmpl, err := template.New("expiry_digest").Parse(string(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse expiry_digest.html: %w", err)
	}

	txtContent, err := templateFS.ReadFile("templates/expiry_digest.txt")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read expiry_digest.txt: %w", err)
	}
	txtTmpl, err := texttemplate.New("expiry_digest").Parse(string(txtContent))
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse expiry_digest.txt: %w", err)
	}

	return &DigestRenderer{
		html: htmlTmpl,
		text: txtTmpl,
	}, nil
}

// DigestSubject computes the digest subject line. Any high or urgent
// alert in the batch escalates the subject so it stands out in a crowded
// inbox; otherwise a neutral summary is used.
func DigestSubject(alerts []types.Alert) string {
	for _, a := range alerts {
		if a.Priority.Escalates() {
			return fmt.Sprintf("[URGENT] %d expiring documents need attention", len(alerts))
		}
	}
	return fmt.Sprintf("Document Expiry Alert: %d items", len(alerts))
}

// Render produces the digest subject and both bodies for the given
// alerts. Callers pass alerts already sorted by due date; the renderer
// preserves their order.
func (r *DigestRenderer) Render(alerts []types.Alert, now time.Time) (*RenderedDigest, error) {
	if len(alerts) == 0 {
		return nil, fmt.Errorf("renderer: no alerts to render")
	}

	data := digestData{
		Subject: DigestSubject(alerts),
		RunDate: now.UTC().Format(digestDateLayout),
		Total:   len(alerts),
		Rows:    make([]digestRow, 0, len(alerts)),
	}
	for _, a := range alerts {
		if a.Priority.Escalates() {
			data.UrgentCount++
		}
		data.Rows = append(data.Rows, digestRow{
			Title:      a.Title,
			Category:   a.Type.Category(),
			Priority:   string(a.Priority),
			DueDate:    a.DueDate.Format(digestDateLayout),
			DaysBefore: a.DaysBefore,
			Urgent:     a.Priority.Escalates(),
		})
	}

	var htmlBuf bytes.Buffer
	if err := r.html.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render HTML digest: %w", err)
	}

	var txtBuf bytes.Buffer
	if err := r.text.Execute(&txtBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render text digest: %w", err)
	}

	return &RenderedDigest{
		Subject:  data.Subject,
		BodyHTML: htmlBuf.String(),
		BodyText: txtBuf.String(),
	}, nil
}
