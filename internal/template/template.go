// Package template holds the built-in message templates, the placeholder
// renderer and the resolver that prefers organization overrides.
package template

import (
	"regexp"
)

// EventType identifies what happened to a student.
type EventType string

const (
	EventCheckIn       EventType = "checkin"
	EventCheckOut      EventType = "checkout"
	EventStudyOut      EventType = "study_out"
	EventStudyReturn   EventType = "study_return"
	EventLate          EventType = "late"
	EventAbsent        EventType = "absent"
	EventDailyReport   EventType = "daily_report"
	EventLessonReport  EventType = "lesson_report"
	EventExamResult    EventType = "exam_result"
	EventAssignmentNew EventType = "assignment_new"
)

// Valid reports whether e is a known event type.
func (e EventType) Valid() bool {
	_, ok := defaults[AudienceParent][e]
	return ok
}

// Audience is the intended recipient class of a message.
type Audience string

const (
	AudienceParent  Audience = "parent"
	AudienceStudent Audience = "student"
	AudienceBoth    Audience = "both"
)

// Targets expands an audience selection into the concrete audiences to
// render for. Unknown values fall back to parent.
func (a Audience) Targets() []Audience {
	switch a {
	case AudienceStudent:
		return []Audience{AudienceStudent}
	case AudienceBoth:
		return []Audience{AudienceParent, AudienceStudent}
	default:
		return []Audience{AudienceParent}
	}
}

// Variable names understood by the built-in templates.
const (
	VarOrgName           = "기관명"
	VarStudentName       = "학생명"
	VarTime              = "시간"
	VarScheduledTime     = "예정시간"
	VarDate              = "날짜"
	VarSubject           = "수업명"
	VarTeacherName       = "강사명"
	VarLessonContent     = "수업내용"
	VarExamName          = "시험명"
	VarScore             = "점수"
	VarAssignmentName    = "과제명"
	VarDueDate           = "마감일"
	VarTotalStudyTime    = "총학습시간"
	VarCompletedSubjects = "완료과목"

	VarTodayLesson     = "오늘수업"
	VarKeyPoint        = "학습포인트"
	VarTeacherComment  = "선생님코멘트"
	VarDirectorComment = "원장님코멘트"
	VarHomework        = "숙제"
	VarReviewTip       = "복습팁"
)

// Vars maps placeholder names to values.
type Vars map[string]string

var placeholder = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Render substitutes every {{name}} in tmpl with vars[name]. Placeholders
// without an entry are left untouched. A present but empty value replaces
// the placeholder with nothing.
func Render(tmpl string, vars Vars) string {
	if len(vars) == 0 {
		return tmpl
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[2 : len(m)-2]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// Placeholders lists the distinct placeholder names in tmpl in order of
// first appearance.
func Placeholders(tmpl string) []string {
	matches := placeholder.FindAllStringSubmatch(tmpl, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	return out
}
