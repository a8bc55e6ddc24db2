package org

import (
	"context"
	"database/sql"
	"encoding/json"

	"studyroom/internal/apperr"
	"studyroom/internal/store"
)

var (
	ErrOrgNotFound     = apperr.NotFound("organization not found")
	ErrStudentNotFound = apperr.NotFound("student not found")
)

// Store loads organizations and students.
type Store interface {
	Organization(ctx context.Context, id string) (Organization, error)
	Student(ctx context.Context, orgID, id string) (Student, error)
	Students(ctx context.Context, orgID string, ids []string) ([]Student, error)
}

// Repository reads the directory from Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Organization(ctx context.Context, id string) (Organization, error) {
	var (
		o   Organization
		raw []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, settings, credit_balance
		FROM organizations WHERE id = $1
	`, id).Scan(&o.ID, &o.Name, &raw, &o.CreditBalance)
	if err != nil {
		if store.IsNotFound(err) {
			return Organization{}, apperr.Wrap(ErrOrgNotFound, err)
		}
		return Organization{}, apperr.Persistence("load organization", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o.Settings); err != nil {
			return Organization{}, apperr.Persistence("decode organization settings", err)
		}
	}
	return o, nil
}

// Student loads a student scoped to the organization.
func (r *Repository) Student(ctx context.Context, orgID, id string) (Student, error) {
	var s Student
	err := r.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, parent_phone, student_phone, parent_email, student_email
		FROM students WHERE id = $1 AND org_id = $2
	`, id, orgID).Scan(&s.ID, &s.OrgID, &s.Name, &s.ParentPhone, &s.StudentPhone, &s.ParentEmail, &s.StudentEmail)
	if err != nil {
		if store.IsNotFound(err) {
			return Student{}, apperr.Wrap(ErrStudentNotFound, err)
		}
		return Student{}, apperr.Persistence("load student", err)
	}
	return s, nil
}

// Students loads the given students of the organization. Unknown ids are
// silently omitted.
func (r *Repository) Students(ctx context.Context, orgID string, ids []string) ([]Student, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, name, parent_phone, student_phone, parent_email, student_email
		FROM students WHERE org_id = $1 AND id::text = ANY($2)
		ORDER BY name
	`, orgID, ids)
	if err != nil {
		return nil, apperr.Persistence("list students", err)
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.OrgID, &s.Name, &s.ParentPhone, &s.StudentPhone, &s.ParentEmail, &s.StudentEmail); err != nil {
			return nil, apperr.Persistence("scan student", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list students", err)
	}
	return out, nil
}
