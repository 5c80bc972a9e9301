// Package report renders an analysis as a PDF document.
package report

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/hyperjump/datalens/internal/models"
	"github.com/hyperjump/datalens/pkg/utils"
)

const (
	fontFamily    = "Helvetica"
	lineHeight    = 6.0
	maxAnswerLen  = 4000
	maxAttributes = 12
)

var markdownImage = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)

// Filename returns the download name for an analysis report.
func Filename(analysisID string) string {
	return "analysis-" + analysisID + ".pdf"
}

// Render writes the PDF report for a to w. The data source, if attached,
// should already be redacted.
func Render(w io.Writer, a *models.Analysis, generatedAt time.Time) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Data Analysis Report", true)
	pdf.SetCreator("datalens", true)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(fontFamily, "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont(fontFamily, "B", 20)
	pdf.CellFormat(0, 12, "Data Analysis Report", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	r := &writer{pdf: pdf, tr: tr}
	r.dataSource(a.DataSource)
	r.heading("Summary")
	r.body(fallback(a.Summary, "No summary available"))

	r.heading("Key Insights")
	if len(a.KeyInsights) == 0 {
		r.body("No insights available")
	}
	for i, insight := range a.KeyInsights {
		r.body(fmt.Sprintf("%d. %s", i+1, insight))
	}

	if len(a.Visualizations) > 0 {
		r.heading("Visualizations")
		for i, v := range a.Visualizations {
			r.body(fmt.Sprintf("%d. %s (%s)", i+1, v.Title, v.ChartType))
			if v.Description != "" {
				r.small("   " + v.Description)
			}
		}
	}

	if a.Schema != nil && len(a.Schema.Nodes) > 0 {
		r.schema(a.Schema)
	}
	if len(a.Conversations) > 0 {
		r.conversations(a.Conversations)
	}

	pdf.Ln(6)
	pdf.SetFont(fontFamily, "", 10)
	pdf.CellFormat(0, lineHeight, tr("Generated on: "+generatedAt.Format("2006-01-02 15:04:05 MST")), "", 1, "R", false, 0, "")

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render PDF: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write PDF: %w", err)
	}
	return nil
}

type writer struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (r *writer) heading(text string) {
	r.pdf.Ln(4)
	r.pdf.SetFont(fontFamily, "BU", 16)
	r.pdf.CellFormat(0, 9, r.tr(text), "", 1, "L", false, 0, "")
	r.pdf.Ln(1)
}

func (r *writer) subheading(text string) {
	r.pdf.SetFont(fontFamily, "B", 12)
	r.pdf.CellFormat(0, 7, r.tr(text), "", 1, "L", false, 0, "")
}

func (r *writer) body(text string) {
	r.pdf.SetFont(fontFamily, "", 12)
	r.pdf.MultiCell(0, lineHeight, r.tr(text), "", "L", false)
}

func (r *writer) small(text string) {
	r.pdf.SetFont(fontFamily, "", 10)
	r.pdf.MultiCell(0, 5, r.tr(text), "", "L", false)
}

func (r *writer) dataSource(ds *models.DataSource) {
	if ds == nil {
		return
	}
	r.heading("Data Source")
	r.body("Name: " + ds.Name)
	r.body("Type: " + string(ds.Kind))
	switch {
	case ds.FileConfig != nil:
		r.body(fmt.Sprintf("File: %s (%s, %d bytes)", ds.FileConfig.FileName, ds.FileConfig.FileType, ds.FileConfig.FileSize))
	case ds.DBConfig != nil:
		r.body("Database: " + ds.DBConfig.DBType)
		r.body("Connection: " + models.RedactConnectionString(ds.DBConfig.ConnectionString))
	}
	if ds.Metadata != nil && ds.Metadata.ColumnCount > 0 {
		r.body(fmt.Sprintf("Rows: %d, Columns: %d", ds.Metadata.RowCount, ds.Metadata.ColumnCount))
		r.small("Columns: " + strings.Join(ds.Metadata.Columns, ", "))
	}
}

func (r *writer) schema(g *models.SchemaGraph) {
	r.heading("Schema")
	r.subheading(fmt.Sprintf("Tables (%d)", len(g.Nodes)))
	for _, n := range g.Nodes {
		line := fmt.Sprintf("- %s (%s)", n.Name, n.Type)
		if attrs := attributeNames(n.Attributes); attrs != "" {
			line += ": " + attrs
		}
		r.small(line)
	}
	if len(g.Links) == 0 {
		return
	}
	r.pdf.Ln(2)
	r.subheading(fmt.Sprintf("Relationships (%d)", len(g.Links)))
	for _, l := range g.Links {
		line := fmt.Sprintf("- %s -> %s (%s)", l.Source, l.Target, l.Relationship)
		if l.Label != "" {
			line += " via " + l.Label
		}
		r.small(line)
	}
}

func (r *writer) conversations(turns []models.ConversationTurn) {
	r.heading("Conversation")
	for i, t := range turns {
		if i > 0 {
			r.pdf.Ln(2)
		}
		r.subheading(fmt.Sprintf("Q%d: %s", i+1, utils.Truncate(t.Question, 200)))
		r.small(utils.Truncate(plainAnswer(t.Answer), maxAnswerLen))
		if t.ImageURL != "" {
			r.small("[image attached]")
		}
		r.small(t.Timestamp.Format("2006-01-02 15:04"))
	}
}

// plainAnswer drops inline images, which can be megabytes of base64.
func plainAnswer(answer string) string {
	return markdownImage.ReplaceAllString(answer, "[image: $1]")
}

func attributeNames(attrs []any) string {
	names := make([]string, 0, len(attrs))
	for _, a := range attrs {
		if len(names) == maxAttributes {
			names = append(names, fmt.Sprintf("+%d more", len(attrs)-maxAttributes))
			break
		}
		switch v := a.(type) {
		case string:
			names = append(names, v)
		case map[string]any:
			if name, ok := v["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return strings.Join(names, ", ")
}

func fallback(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
