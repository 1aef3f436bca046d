package bot

import (
	"fmt"
	"strings"

	"notice_hub/internal/model"
)

const statusPaused = "paused"

// FormatRule describes the criteria of a rule on one line.
func FormatRule(r model.AlertRule) string {
	var parts []string
	if len(r.Keywords) > 0 {
		parts = append(parts, "keywords: "+strings.Join(r.Keywords, ", "))
	}
	if len(r.ExamNames) > 0 {
		parts = append(parts, "exams: "+strings.Join(r.ExamNames, ", "))
	}
	if len(r.Types) > 0 {
		types := make([]string, len(r.Types))
		for i, t := range r.Types {
			types[i] = string(t)
		}
		parts = append(parts, "types: "+strings.Join(types, ", "))
	}
	if len(r.Locations) > 0 {
		parts = append(parts, "locations: "+strings.Join(r.Locations, ", "))
	}
	if r.MinTrustLevel > 0 {
		parts = append(parts, fmt.Sprintf("min trust %d", r.MinTrustLevel))
	}
	if len(parts) == 0 {
		parts = append(parts, "everything")
	}
	s := strings.Join(parts, "; ")
	if !r.IsActive {
		s += " [" + statusPaused + "]"
	}
	return s
}

// FormatRuleList formats a user's rules, numbered from 1.
func FormatRuleList(rules []model.AlertRule) string {
	if len(rules) == 0 {
		return "You have no alert rules yet. Use /subscribe to add one."
	}
	var b strings.Builder
	b.WriteString("Your alert rules:\n")
	for i, r := range rules {
		fmt.Fprintf(&b, "\n%d. %s", i+1, FormatRule(r))
	}
	return b.String()
}

// FormatSourceList formats the monitored sources.
func FormatSourceList(sources []model.Source) string {
	if len(sources) == 0 {
		return "No sources are being monitored yet."
	}
	var b strings.Builder
	b.WriteString("Monitored sources:\n")
	for _, s := range sources {
		name := s.Name
		if name == "" {
			name = s.URL
		}
		fmt.Fprintf(&b, "\n%s (%s, trust %d, every %d min)", name, s.Kind, s.TrustLevel, s.PollIntervalMinutes)
	}
	return b.String()
}
