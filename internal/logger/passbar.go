package logger

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/harrison/gatekeeper/internal/models"
)

// PassBar draws how a closed pass disposed of its queue, one glyph per
// outcome: '=' executed, 'x' failed, '>' held for the next pass, '?' sent
// to review. Segments are scaled to width cells.
type PassBar struct {
	width    int
	color    bool
	queued   int
	segments []barSegment
}

type barSegment struct {
	glyph string
	count int
	attr  color.Attribute
}

// NewPassBar builds a bar for pass. A width below 1 falls back to 10.
func NewPassBar(pass *models.ProcessingPass, width int, enableColor bool) *PassBar {
	if width < 1 {
		width = 10
	}
	b := &PassBar{width: width, color: enableColor}
	if pass == nil {
		return b
	}
	b.queued = len(pass.Queued)
	b.segments = []barSegment{
		{"=", len(pass.Executed), color.FgGreen},
		{"x", len(pass.Failed), color.FgRed},
		{">", len(pass.Held), color.FgYellow},
		{"?", len(pass.SentToReview), color.FgMagenta},
	}
	return b
}

// Settled counts queued operations that left the pass for good.
// Held operations are not settled.
func (b *PassBar) Settled() int {
	n := 0
	for _, s := range b.segments {
		if s.glyph != ">" {
			n += s.count
		}
	}
	return n
}

// Render returns e.g. "[====xx>>??] 4/5 settled (80%)".
func (b *PassBar) Render() string {
	total := b.queued
	var sb strings.Builder
	sb.WriteByte('[')
	drawn, cum := 0, 0
	if total > 0 {
		for _, s := range b.segments {
			cum += s.count
			end := min(cum*b.width/total, b.width)
			if end <= drawn {
				continue
			}
			cells := strings.Repeat(s.glyph, end-drawn)
			if b.color {
				c := color.New(s.attr)
				c.EnableColor()
				cells = c.Sprint(cells)
			}
			sb.WriteString(cells)
			drawn = end
		}
	}
	sb.WriteString(strings.Repeat(" ", b.width-drawn))
	sb.WriteByte(']')

	settled := b.Settled()
	pct := 0
	if total > 0 {
		pct = settled * 100 / total
	}
	fmt.Fprintf(&sb, " %d/%d settled (%d%%)", settled, total, pct)
	return sb.String()
}
