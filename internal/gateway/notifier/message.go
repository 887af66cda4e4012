package notifier

import (
	"fmt"
	"strings"
	"time"
)

const maxMessageLen = 3800

type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelCritical
)

func (l Level) icon() string {
	switch l {
	case LevelWarn:
		return "⚠️"
	case LevelCritical:
		return "🚨"
	default:
		return "ℹ️"
	}
}

type Section struct {
	Title string
	Lines []string
}

// StructuredMessage renders as a header line, fenced bullet sections and a
// timestamp footer.
type StructuredMessage struct {
	Level     Level
	Title     string
	Sections  []Section
	Footer    string
	Timestamp time.Time
}

// Field formats one "key: value" bullet.
func Field(key string, value any) string {
	return fmt.Sprintf("%s: %v", key, value)
}

// RenderMarkdown truncates the body to fit one chat message.
func (m StructuredMessage) RenderMarkdown() string {
	var b strings.Builder
	if title := strings.TrimSpace(m.Title); title != "" {
		b.WriteString(m.Level.icon() + " *" + escape(title) + "*\n\n")
	}
	b.WriteString(renderSections(m.Sections))
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(escape(footer) + "\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("Time: " + m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxMessageLen {
		body = body[:maxMessageLen] + "..."
	}
	return body
}

func renderSections(secs []Section) string {
	var b strings.Builder
	for _, sec := range secs {
		lines := nonEmpty(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		if title := strings.TrimSpace(sec.Title); title != "" {
			b.WriteString(fence(title) + "\n")
		}
		for _, line := range lines {
			b.WriteString("- " + fence(line) + "\n")
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "```\n" + b.String() + "```\n\n"
}

func nonEmpty(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// fence keeps text from closing the code block it sits in.
func fence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

var markdownEscaper = strings.NewReplacer("*", "\\*", "_", "\\_", "`", "\\`", "[", "\\[")

func escape(s string) string {
	return markdownEscaper.Replace(s)
}
