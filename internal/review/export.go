package review

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Export renders the pending items as a markdown report.
func (q *Queue) Export() string {
	items := q.GetPendingItems()
	stats := q.Stats()

	var sb strings.Builder
	sb.WriteString("# Review Queue\n\n")
	sb.WriteString(fmt.Sprintf("%d pending, %d expired, %d reviewed\n\n", stats.Pending, stats.Expired, stats.Reviewed))
	if len(items) == 0 {
		sb.WriteString("Nothing awaits review.\n")
		return sb.String()
	}

	for _, item := range items {
		env := item.Envelope
		sb.WriteString(fmt.Sprintf("## %s `%s`\n\n", env.Operation, shortID(item.ID)))
		sb.WriteString(fmt.Sprintf("- **Reason:** %s\n", item.Reason))
		sb.WriteString(fmt.Sprintf("- **Confidence:** %.2f\n", env.OverallConfidence))
		if !item.ExpiresAt.IsZero() {
			sb.WriteString(fmt.Sprintf("- **Expires:** %s\n", item.ExpiresAt.Format("2006-01-02 15:04")))
		}
		if item.Recommendation != "" {
			sb.WriteString(fmt.Sprintf("- **Recommendation:** %s\n", item.Recommendation))
		}
		sb.WriteString("\n### Questions\n\n")
		for _, question := range item.Questions {
			sb.WriteString("- " + question + "\n")
		}

		sb.WriteString("\n### Options\n\n")
		sb.WriteString("| Option | Confidence | Details |\n|---|---|---|\n")
		for _, opt := range item.Options {
			sb.WriteString(fmt.Sprintf("| `%s` %s | %.2f | %s |\n", opt.ID, opt.Label, opt.Confidence, escapeCell(opt.Description)))
		}

		if len(env.Factors) > 0 {
			sb.WriteString("\n### Factors\n\n")
			sb.WriteString("| Factor | Score | Weight | Reason |\n|---|---|---|---|\n")
			for _, f := range env.Factors {
				sb.WriteString(fmt.Sprintf("| %s | %.2f | %.2f | %s |\n", f.Name, f.Score, f.Weight, escapeCell(f.Reason)))
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// ExportHTML renders the markdown report as HTML.
func (q *Queue) ExportHTML() (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var buf bytes.Buffer
	if err := md.Convert([]byte(q.Export()), &buf); err != nil {
		return "", fmt.Errorf("render review report: %w", err)
	}
	return buf.String(), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
