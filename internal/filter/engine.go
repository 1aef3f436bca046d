// Package filter implements the alert rule matching engine.
package filter

import (
	"slices"
	"strings"

	"notice_hub/internal/model"
)

// Match checks whether an item satisfies every non-empty criterion of rule.
// Within a criterion any one value is enough; an empty criterion always
// passes. Trust and the active flag are not considered here, see Eligible.
func Match(item model.Item, rule model.AlertRule) bool {
	text := searchText(item)

	if len(rule.Keywords) > 0 && !containsAny(text, rule.Keywords) {
		return false
	}

	if len(rule.ExamNames) > 0 && !matchesExam(text, item.Entities.ExamName, rule.ExamNames) {
		return false
	}

	if len(rule.Types) > 0 && !slices.Contains(rule.Types, item.Type) {
		return false
	}

	if len(rule.Locations) > 0 && !containsAny(text, rule.Locations) {
		return false
	}

	return true
}

// Eligible reports whether rule may be evaluated for items from a source
// with the given trust level.
func Eligible(rule model.AlertRule, trustLevel int) bool {
	return rule.IsActive && rule.MinTrustLevel <= trustLevel
}

// MatchingRules returns the eligible rules that match item, in input order.
func MatchingRules(item model.Item, trustLevel int, rules []model.AlertRule) []model.AlertRule {
	var matched []model.AlertRule
	for _, r := range rules {
		if Eligible(r, trustLevel) && Match(item, r) {
			matched = append(matched, r)
		}
	}
	return matched
}

func searchText(item model.Item) string {
	return strings.ToLower(item.Title + " " + item.Body + " " + item.ShortSummary)
}

func containsAny(text string, values []string) bool {
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" && strings.Contains(text, v) {
			return true
		}
	}
	return false
}

func matchesExam(text, extracted string, names []string) bool {
	if containsAny(text, names) {
		return true
	}
	if extracted == "" {
		return false
	}
	for _, n := range names {
		if strings.EqualFold(strings.TrimSpace(n), extracted) {
			return true
		}
	}
	return false
}
