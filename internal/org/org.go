// Package org reads organization settings and the student directory that
// the notification pipeline needs.
package org

import (
	"strings"

	"studyroom/internal/template"
)

// Organization is a tenant.
type Organization struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Settings      Settings `json:"settings"`
	CreditBalance int      `json:"credit_balance"`
}

// Settings is the subset of the organization settings document consumed here.
type Settings struct {
	TemplatesParent   map[string]string `json:"messageTemplatesParent,omitempty"`
	TemplatesStudent  map[string]string `json:"messageTemplatesStudent,omitempty"`
	Audiences         map[string]string `json:"notificationAudience,omitempty"`
	DailyDispatchTime string            `json:"dailyDispatchTime,omitempty"`
	MonitoringEnabled *bool             `json:"monitoringEnabled,omitempty"`
}

// AudienceFor returns the configured audience for an event, parent by default.
func (s Settings) AudienceFor(event template.EventType) template.Audience {
	switch a := template.Audience(strings.ToLower(strings.TrimSpace(s.Audiences[string(event)]))); a {
	case template.AudienceParent, template.AudienceStudent, template.AudienceBoth:
		return a
	default:
		return template.AudienceParent
	}
}

// Monitoring reports whether outbound messages are mirrored to the
// monitoring channel. Unset means enabled.
func (s Settings) Monitoring() bool {
	return s.MonitoringEnabled == nil || *s.MonitoringEnabled
}

// Overrides converts the stored template maps into resolver overrides.
func (s Settings) Overrides() template.Overrides {
	ov := template.Overrides{}
	add := func(a template.Audience, m map[string]string) {
		if len(m) == 0 {
			return
		}
		ov[a] = make(map[template.EventType]string, len(m))
		for k, v := range m {
			ov[a][template.EventType(k)] = v
		}
	}
	add(template.AudienceParent, s.TemplatesParent)
	add(template.AudienceStudent, s.TemplatesStudent)
	return ov
}

// Student is a directory entry with per-audience contacts.
type Student struct {
	ID           string `json:"id"`
	OrgID        string `json:"org_id"`
	Name         string `json:"name"`
	ParentPhone  string `json:"parent_phone"`
	StudentPhone string `json:"student_phone"`
	ParentEmail  string `json:"parent_email"`
	StudentEmail string `json:"student_email"`
}

// Contact is where a message for one audience goes.
type Contact struct {
	Phone string
	Email string
}

// Empty reports whether the contact has no route at all.
func (c Contact) Empty() bool {
	return strings.TrimSpace(c.Phone) == "" && strings.TrimSpace(c.Email) == ""
}

// ContactFor returns the contact for an audience.
func (s Student) ContactFor(a template.Audience) Contact {
	if a == template.AudienceStudent {
		return Contact{Phone: s.StudentPhone, Email: s.StudentEmail}
	}
	return Contact{Phone: s.ParentPhone, Email: s.ParentEmail}
}
