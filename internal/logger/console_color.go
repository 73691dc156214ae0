package logger

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/harrison/gatekeeper/internal/models"
)

// Confidence bands used for coloring scores.
const (
	highConfidence   = 0.85
	mediumConfidence = 0.65
)

// colorScheme defines consistent colors for batch output.
// Green: success/verified
// Red: failure
// Yellow: review/held
// Cyan: labels and identifiers
type colorScheme struct {
	success *color.Color
	fail    *color.Color
	warn    *color.Color
	label   *color.Color
	value   *color.Color
}

// newColorScheme creates the standard scheme. With enabled false every color
// prints plain text.
func newColorScheme(enabled bool) *colorScheme {
	s := &colorScheme{
		success: color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		warn:    color.New(color.FgYellow),
		label:   color.New(color.FgCyan),
		value:   color.New(color.FgWhite),
	}
	for _, c := range []*color.Color{s.success, s.fail, s.warn, s.label, s.value} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return s
}

// confidence formats a score, green when high, yellow when medium, red below.
func (s *colorScheme) confidence(score float64) string {
	text := fmt.Sprintf("%.2f", score)
	switch {
	case score >= highConfidence:
		return s.success.Sprint(text)
	case score >= mediumConfidence:
		return s.warn.Sprint(text)
	default:
		return s.fail.Sprint(text)
	}
}

// outcome colors an operation outcome.
func (s *colorScheme) outcome(outcome string) string {
	switch outcome {
	case "verified", "executed":
		return s.success.Sprint(outcome)
	case "held":
		return s.label.Sprint(outcome)
	case "failed", "verification_failed":
		return s.fail.Sprint(outcome)
	}
	return outcome
}

// countOrPlain colors "label: n" only when n is non-zero.
func (s *colorScheme) countOrPlain(c *color.Color, label string, n int) string {
	if n > 0 {
		return c.Sprintf("%s: %d", label, n)
	}
	return fmt.Sprintf("%s: %d", label, n)
}

// formatColorizedMetric formats "label: value" with a cyan label.
func formatColorizedMetric(label string, value interface{}, scheme *colorScheme) string {
	return fmt.Sprintf("%s: %s", scheme.label.Sprint(label), scheme.value.Sprintf("%v", value))
}

// formatPassCounts summarizes a pass.
// Format: "executed: N, held: N, review: N, failed: N, avg: 0.00"
func formatPassCounts(pass *models.ProcessingPass, scheme *colorScheme) string {
	parts := []string{
		fmt.Sprintf("%s: %d", scheme.success.Sprint("executed"), len(pass.Executed)),
		formatColorizedMetric("held", len(pass.Held), scheme),
	}
	if n := len(pass.SentToReview); n > 0 {
		parts = append(parts, fmt.Sprintf("%s: %d", scheme.warn.Sprint("review"), n))
	} else {
		parts = append(parts, formatColorizedMetric("review", 0, scheme))
	}
	if n := len(pass.Failed); n > 0 {
		parts = append(parts, fmt.Sprintf("%s: %s", scheme.fail.Sprint("failed"), scheme.fail.Sprintf("%d", n)))
	}
	parts = append(parts, fmt.Sprintf("%s: %s", scheme.label.Sprint("avg"), scheme.confidence(pass.AvgScore)))
	return strings.Join(parts, ", ")
}
