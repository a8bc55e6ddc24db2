package template

// Built-in templates used when an organization has no override.
var defaults = map[Audience]map[EventType]string{
	AudienceParent: {
		EventLate:          "{{기관명}}입니다, 학부모님.\n\n{{학생명}} 학생이 예정 시간({{예정시간}})에 아직 도착하지 않아 안내드립니다. 확인 부탁드립니다.",
		EventAbsent:        "{{기관명}}입니다, 학부모님.\n\n{{학생명}} 학생이 오늘 예정된 일정에 출석하지 않아 결석 처리되었습니다. 사유 확인이 필요하시면 연락 부탁드립니다.",
		EventCheckIn:       "{{기관명}}입니다, 학부모님.\n\n{{학생명}} 학생이 {{시간}}에 안전하게 도착했습니다. 오늘도 열심히 공부하겠습니다!",
		EventCheckOut:      "{{기관명}}입니다, 학부모님.\n\n{{학생명}} 학생이 {{시간}}에 일과를 마치고 귀가했습니다. (총 학습시간: {{총학습시간}})\n\n안전하게 귀가하길 바랍니다.",
		EventStudyOut:      "{{기관명}}입니다, 학부모님.\n\n{{학생명}} 학생이 {{시간}}에 잠시 외출합니다.",
		EventStudyReturn:   "{{기관명}}입니다, 학부모님.\n\n{{학생명}} 학생이 {{시간}}에 복귀했습니다.",
		EventDailyReport:   "{{기관명}}입니다, 학부모님.\n\n{{날짜}} {{학생명}} 학생의 학습 결과입니다.\n\n⏱ 총 학습시간: {{총학습시간}}\n✔ 완료 과목: {{완료과목}}",
		EventLessonReport:  "{{기관명}}입니다, 학부모님.\n\n{{학생명}} 학생의 수업일지입니다.\n\n📚 오늘 수업: {{오늘수업}}\n💡 학습 포인트: {{학습포인트}}\n🗣 선생님 코멘트: {{선생님코멘트}}\n🏫 원장님 코멘트: {{원장님코멘트}}\n📝 숙제: {{숙제}}\n🔁 복습 팁: {{복습팁}}",
		EventExamResult:    "{{기관명}}입니다, 학부모님.\n\n{{학생명}} 학생의 시험 결과를 안내드립니다.\n\n{{시험명}}: {{점수}}\n\n궁금하신 점은 편하게 연락 주세요!",
		EventAssignmentNew: "{{기관명}}입니다, 학부모님.\n\n{{학생명}} 학생에게 새 과제가 등록되었습니다.\n\n📚 수업: {{수업명}}\n📝 과제: {{과제명}}\n📅 마감일: {{마감일}}\n\n과제 제출 잊지 마세요!",
	},
	AudienceStudent: {
		EventLate:          "[{{기관명}}] {{학생명}} 학생, 예정 시간({{예정시간}})이 지났어요. 곧 도착하나요?",
		EventAbsent:        "[{{기관명}}] {{학생명}} 학생, 오늘 일정이 결석 처리되었습니다.",
		EventCheckIn:       "[{{기관명}}] {{학생명}} 학생, {{시간}} 입실 확인되었습니다. 오늘도 화이팅!",
		EventCheckOut:      "[{{기관명}}] {{학생명}} 학생, {{시간}} 퇴실 확인되었습니다. 오늘 총 학습시간은 {{총학습시간}}입니다.",
		EventStudyOut:      "[{{기관명}}] {{학생명}} 학생, {{시간}} 외출 처리되었습니다.",
		EventStudyReturn:   "[{{기관명}}] {{학생명}} 학생, {{시간}} 복귀 확인되었습니다.",
		EventDailyReport:   "[{{기관명}}] {{날짜}} 학습 결과: 총 {{총학습시간}}, 완료 과목 {{완료과목}}",
		EventLessonReport:  "[{{기관명}}] {{학생명}} 학생 수업일지\n\n📚 {{오늘수업}}\n💡 {{학습포인트}}\n📝 숙제: {{숙제}}\n🔁 {{복습팁}}",
		EventExamResult:    "[{{기관명}}] {{학생명}} 학생, {{시험명}} 결과: {{점수}}",
		EventAssignmentNew: "[{{기관명}}] 새 과제: {{과제명}} ({{수업명}}), 마감일 {{마감일}}",
	},
}

// Default returns the built-in template for the pair. An audience other
// than student resolves to the parent template.
func Default(event EventType, audience Audience) string {
	if audience != AudienceStudent {
		audience = AudienceParent
	}
	return defaults[audience][event]
}
