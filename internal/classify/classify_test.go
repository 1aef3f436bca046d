package classify

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"notice_hub/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		title string
		body  string
		want  model.NoticeType
	}{
		{name: "exam keyword", title: "Semester Examination Schedule", want: model.TypeExam},
		{name: "entrance", title: "Entrance test dates", want: model.TypeExam},
		{name: "admit card", title: "Download your Admit Card", want: model.TypeExam},
		{name: "acronym only", title: "JEE Main 2024 Registration Open", body: "Apply before 15/02/2024", want: model.TypeExam},
		{name: "acronym lowercase", title: "neet ug update", want: model.TypeExam},
		{name: "state board", title: "State   Board circular", want: model.TypeExam},
		{name: "acronym inside word ignored", title: "Notification on certificate format", want: model.TypeOther},
		{name: "scholarship", title: "National Scholarship Portal", want: model.TypeScholarship},
		{name: "exam wins over scholarship", title: "Scholarship exam announced", want: model.TypeExam},
		{name: "result", title: "Class 10 Results declared", want: model.TypeResult},
		{name: "scholarship wins over result", title: "Scholarship results", want: model.TypeScholarship},
		{name: "admission", title: "Admission open for 2024", want: model.TypeAdmission},
		{name: "board result", title: "CBSE Class 12 Result 2024 Declared", want: model.TypeResult},
		{name: "acronym result", title: "JEE Advanced Result announced", want: model.TypeResult},
		{name: "acronym scholarship", title: "NTA Scholarship Scheme 2024", want: model.TypeScholarship},
		{name: "acronym admission", title: "UPSC Admission for Foundation Course", want: model.TypeAdmission},
		{name: "acronym with exam keyword", title: "NEET Exam Result", want: model.TypeExam},
		{name: "keyword in body", title: "Update", body: "admission process extended", want: model.TypeAdmission},
		{name: "nothing matches", title: "Holiday notice", body: "Campus closed Friday", want: model.TypeOther},
		{name: "empty", want: model.TypeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.title, tt.body)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Classify() mismatch (-want +got):\n%s", diff)
			}
			if !got.Valid() {
				t.Errorf("Classify() returned invalid type %q", got)
			}
			if again := Classify(tt.title, tt.body); again != got {
				t.Errorf("Classify() not stable: %q then %q", got, again)
			}
		})
	}
}

func TestExamName(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{text: "JEE Main 2024 Registration Open", want: "JEE"},
		{text: "Results of neet and jee", want: "NEET"},
		{text: "gate 2025 brochure", want: "GATE"},
		{text: "state board exams postponed", want: "State Board"},
		{text: "Educational notification", want: ""},
		{text: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ExamName(tt.text)); diff != "" {
				t.Errorf("ExamName(%q) mismatch (-want +got):\n%s", tt.text, diff)
			}
		})
	}
}
