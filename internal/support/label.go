package support

import (
	"fmt"
	"strings"
	"time"
)

// DisplayLabel builds the label shown instead of a raw account identity:
// @username when present, else the trimmed full name, else a synthetic
// id:<n>. Applied symmetrically to clients and managers.
func DisplayLabel(p Party) string {
	if u := strings.TrimSpace(p.Username); u != "" {
		return "@" + u
	}
	name := strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
	if name != "" {
		return name
	}
	return fmt.Sprintf("id:%d", p.ID)
}

// ManagerLabel is DisplayLabel with a neutral fallback, so a client never
// sees a bare numeric manager id.
func ManagerLabel(p Party) string {
	if strings.TrimSpace(p.Username) == "" &&
		strings.TrimSpace(p.FirstName) == "" && strings.TrimSpace(p.LastName) == "" {
		return "manager"
	}
	return DisplayLabel(p)
}

// FormatDuration renders a reaction time for the activity log: seconds
// under a minute, minutes and seconds under an hour, else hours, minutes
// and seconds.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second).Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// Preview truncates text for log lines.
func Preview(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
