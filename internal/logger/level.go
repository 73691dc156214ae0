package logger

import (
	"strings"

	"github.com/fatih/color"
)

// Level orders message severity. A logger emits messages at or above its level.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levels = [...]struct {
	name string
	attr color.Attribute
}{
	LevelTrace: {"TRACE", color.FgHiBlack},
	LevelDebug: {"DEBUG", color.FgCyan},
	LevelInfo:  {"INFO", color.FgBlue},
	LevelWarn:  {"WARN", color.FgYellow},
	LevelError: {"ERROR", color.FgRed},
}

// ParseLevel maps a case-insensitive level name. Empty or unknown names
// give LevelInfo and ok=false.
func ParseLevel(name string) (level Level, ok bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for l, meta := range levels {
		if meta.name == name {
			return Level(l), true
		}
	}
	return LevelInfo, false
}

func (l Level) String() string {
	if l < LevelTrace || l > LevelError {
		return "INFO"
	}
	return levels[l].name
}

// Enables reports whether a logger at l emits a message at msg.
func (l Level) Enables(msg Level) bool {
	return msg >= l
}

// tag renders the bracketed level label.
func (l Level) tag(colored bool) string {
	if !colored || l < LevelTrace || l > LevelError {
		return l.String()
	}
	c := color.New(levels[l].attr)
	c.EnableColor()
	return c.Sprint(levels[l].name)
}
