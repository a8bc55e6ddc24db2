package template

import (
	"fmt"
	"strconv"
	"time"
)

// FormatClock renders a wall-clock time as "15:04" in loc.
func FormatClock(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("15:04")
}

// FormatDate renders a date as "1월 2일".
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%d월 %d일", int(t.Month()), t.Day())
}

// FormatStudyTime renders minutes as "H시간 M분", or "M분" under an hour.
func FormatStudyTime(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	h, m := minutes/60, minutes%60
	if h == 0 {
		return strconv.Itoa(m) + "분"
	}
	return fmt.Sprintf("%d시간 %d분", h, m)
}

// FormatScore renders "85/100점", with the cohort rank appended when known.
func FormatScore(score, maxScore float64, rank, total int) string {
	s := trimFloat(score) + "/" + trimFloat(maxScore) + "점"
	if rank > 0 && total > 0 {
		s += fmt.Sprintf(" (%d명 중 %d등)", total, rank)
	}
	return s
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// OrDash substitutes "-" for empty values.
func OrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
