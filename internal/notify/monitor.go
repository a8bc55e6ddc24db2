package notify

import (
	"fmt"
	"strings"

	"studyroom/internal/template"
)

var emojis = map[template.EventType]string{
	template.EventLate:          "⏰",
	template.EventAbsent:        "❌",
	template.EventCheckIn:       "✅",
	template.EventCheckOut:      "👋",
	template.EventStudyOut:      "🚶",
	template.EventStudyReturn:   "🔙",
	template.EventDailyReport:   "📈",
	template.EventLessonReport:  "📚",
	template.EventExamResult:    "📊",
	template.EventAssignmentNew: "📝",
}

// Emoji returns the monitoring prefix for an event.
func Emoji(e template.EventType) string {
	if s, ok := emojis[e]; ok {
		return s
	}
	return "📋"
}

// MonitorText formats the operator copy of a rendered message.
func MonitorText(e template.EventType, a template.Audience, studentName, msg string) string {
	if e == template.EventLessonReport {
		return fmt.Sprintf("%s %s 학생 수업일지\n\n%s", Emoji(e), studentName, msg)
	}
	tag := strings.ToUpper(string(e))
	if a == template.AudienceStudent {
		tag += "/STUDENT"
	}
	return fmt.Sprintf("%s [%s] %s\n\n%s", Emoji(e), tag, studentName, msg)
}
