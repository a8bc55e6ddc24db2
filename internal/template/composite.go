package template

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"studyroom/internal/apperr"
)

// MaxVariableLength caps each composite lesson-report field, counted in
// characters after NFC normalisation.
const MaxVariableLength = 50

// CompositeFields are the lesson-report variables subject to the cap, in
// the order they are reported.
var CompositeFields = []string{
	VarTodayLesson,
	VarKeyPoint,
	VarTeacherComment,
	VarDirectorComment,
	VarHomework,
	VarReviewTip,
}

// CharCount counts user-perceived characters the way the provider does:
// NFC-composed runes, so decomposed Hangul jamo count as one syllable.
func CharCount(s string) int {
	return utf8.RuneCountInString(norm.NFC.String(s))
}

// ValidateComposite rejects any composite field longer than
// MaxVariableLength. Values are never truncated.
func ValidateComposite(vars Vars) error {
	var fields []apperr.FieldError
	for _, name := range CompositeFields {
		v, ok := vars[name]
		if !ok {
			continue
		}
		if n := CharCount(v); n > MaxVariableLength {
			fields = append(fields, apperr.FieldError{
				Field: name,
				Error: fmt.Sprintf("%d characters, max %d", n, MaxVariableLength),
			})
		}
	}
	if len(fields) > 0 {
		return apperr.Validation("lesson report fields too long", fields...)
	}
	return nil
}
