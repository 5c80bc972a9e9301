// Package cli provides the HTTP client and output formatting used by the
// datalens command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/hyperjump/datalens/internal/models"
	"github.com/hyperjump/datalens/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSubmission writes the ids returned by a submit call.
func WriteSubmission(w io.Writer, s *Submission, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "Data source: %s\nAnalysis:    %s\nStatus:      %s\n", s.DataSourceID, s.AnalysisID, s.Status)
	return nil
}

// WriteStatus writes the polling view of an analysis.
func WriteStatus(w io.Writer, id string, st *models.AnalysisStatus, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "%s: %s (%dms)\n", id, st.Status, st.ProcessingTime)
	if st.ErrorMessage != "" {
		fmt.Fprintf(w, "Error: %s\n", st.ErrorMessage)
	}
	return nil
}

// WriteAnalyses writes one line per analysis.
func WriteAnalyses(w io.Writer, list []models.Analysis, format OutputFormat) error {
	if format == OutputJSON {
		if list == nil {
			list = []models.Analysis{}
		}
		return writeJSON(w, list)
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "No analyses.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSOURCE\tCREATED\tSUMMARY")
	for _, a := range list {
		source := a.DataSourceID
		if a.DataSource != nil {
			source = a.DataSource.Name
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Status, source, a.CreatedAt.Format("2006-01-02 15:04"), utils.Truncate(oneLine(a.Summary), 60))
	}
	return tw.Flush()
}

// WriteDataSources writes one line per data source.
func WriteDataSources(w io.Writer, list []models.DataSource, format OutputFormat) error {
	if format == OutputJSON {
		if list == nil {
			list = []models.DataSource{}
		}
		return writeJSON(w, list)
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "No data sources.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSTATUS\tTARGET")
	for _, ds := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ds.ID, ds.Name, ds.Kind, ds.Status, target(&ds))
	}
	return tw.Flush()
}

func target(ds *models.DataSource) string {
	switch {
	case ds.DBConfig != nil:
		return ds.DBConfig.DBType + " " + ds.DBConfig.ConnectionString
	case ds.FileConfig != nil:
		return fmt.Sprintf("%s (%s, %d bytes)", ds.FileConfig.FileName, ds.FileConfig.FileType, ds.FileConfig.FileSize)
	}
	return ""
}

// WriteAnalysis writes the full view of one analysis.
func WriteAnalysis(w io.Writer, a *models.Analysis, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, a)
	}
	fmt.Fprintf(w, "Analysis %s\n", a.ID)
	fmt.Fprintf(w, "Status: %s (%dms)\n", a.Status, a.ProcessingTime)
	if a.DataSource != nil {
		fmt.Fprintf(w, "Source: %s [%s] %s\n", a.DataSource.Name, a.DataSource.Kind, target(a.DataSource))
	}
	if a.ErrorMessage != "" {
		fmt.Fprintf(w, "Error: %s\n", a.ErrorMessage)
	}
	if a.Summary != "" {
		fmt.Fprintf(w, "\nSummary\n  %s\n", a.Summary)
	}
	if len(a.KeyInsights) > 0 {
		fmt.Fprintln(w, "\nKey insights")
		for i, in := range a.KeyInsights {
			fmt.Fprintf(w, "  %d. %s\n", i+1, in)
		}
	}
	if a.Schema != nil && (len(a.Schema.Nodes) > 0 || len(a.Schema.Links) > 0) {
		fmt.Fprintf(w, "\nSchema: %d tables, %d relationships\n", len(a.Schema.Nodes), len(a.Schema.Links))
		for _, n := range a.Schema.Nodes {
			fmt.Fprintf(w, "  %s\n", n.ID)
		}
		for _, l := range a.Schema.Links {
			fmt.Fprintf(w, "  %s -> %s (%s)\n", l.Source, l.Target, l.Relationship)
		}
	}
	if a.SchemaImageURL != "" {
		fmt.Fprintf(w, "Schema image: %s\n", utils.Truncate(a.SchemaImageURL, 80))
	}
	if len(a.Conversations) > 0 {
		fmt.Fprintf(w, "\nConversation (%d)\n", len(a.Conversations))
		for _, turn := range a.Conversations {
			fmt.Fprintf(w, "  Q: %s\n  A: %s\n", turn.Question, utils.Truncate(oneLine(turn.Answer), 200))
		}
	}
	return nil
}

// WriteAnswer writes the reply to a question.
func WriteAnswer(w io.Writer, ans *Answer, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, ans)
	}
	fmt.Fprintln(w, ans.Answer)
	if ans.ImageURL != "" {
		fmt.Fprintf(w, "\nImage: %s\n", utils.Truncate(ans.ImageURL, 80))
	}
	return nil
}

// WriteStats writes server counts and disk usage.
func WriteStats(w io.Writer, s *Stats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "Data sources: %d\n", s.DataSources)
	statuses := make([]string, 0, len(s.Analyses))
	for st := range s.Analyses {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	fmt.Fprintln(w, "Analyses:")
	for _, st := range statuses {
		fmt.Fprintf(w, "  %-10s %d\n", st, s.Analyses[models.Status(st)])
	}
	fmt.Fprintf(w, "Disk usage: %s\n", HumanBytes(s.DiskTotal))
	return nil
}

// HumanBytes formats n with a binary unit suffix.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
