// Package classify assigns notice types from a fixed keyword table.
package classify

import (
	"regexp"
	"strings"

	"notice_hub/internal/model"
)

// ExamAcronyms are the examination bodies and boards recognized in notices.
var ExamAcronyms = []string{
	"JEE", "NEET", "UPSC", "SSC", "GATE", "CAT", "MAT", "XAT",
	"CLAT", "AILET", "NTA", "CBSE", "ICSE", "State Board",
}

var examPattern = func() *regexp.Regexp {
	alts := make([]string, len(ExamAcronyms))
	for i, a := range ExamAcronyms {
		alts[i] = strings.ReplaceAll(regexp.QuoteMeta(a), " ", `\s+`)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(alts, "|") + `)\b`)
}()

type entry struct {
	typ      model.NoticeType
	keywords []string
}

// Checked in order; the first entry with a hit wins. A bare exam acronym
// only decides the type when no keyword matched.
var table = []entry{
	{typ: model.TypeExam, keywords: []string{"exam", "entrance", "admit card"}},
	{typ: model.TypeScholarship, keywords: []string{"scholarship"}},
	{typ: model.TypeResult, keywords: []string{"result"}},
	{typ: model.TypeAdmission, keywords: []string{"admission"}},
}

// Classify returns the notice type for a title and body. Text that matches
// no entry is OTHER.
func Classify(title, body string) model.NoticeType {
	text := title + " " + body
	lower := strings.ToLower(text)
	for _, e := range table {
		for _, kw := range e.keywords {
			if strings.Contains(lower, kw) {
				return e.typ
			}
		}
	}
	if examPattern.MatchString(text) {
		return model.TypeExam
	}
	return model.TypeOther
}

// ExamName returns the first known exam acronym mentioned in text, in its
// canonical spelling, or "" if there is none.
func ExamName(text string) string {
	m := examPattern.FindString(text)
	if m == "" {
		return ""
	}
	m = strings.Join(strings.Fields(m), " ")
	for _, a := range ExamAcronyms {
		if strings.EqualFold(a, m) {
			return a
		}
	}
	return m
}
