package org

import (
	"context"
	"sort"
	"sync"
)

var (
	_ Store = (*Repository)(nil)
	_ Store = (*MemoryStore)(nil)
	_ Store = (*Directory)(nil)
)

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	orgs     map[string]Organization
	students map[string]Student
	loads    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orgs: map[string]Organization{}, students: map[string]Student{}}
}

func (m *MemoryStore) PutOrganization(o Organization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgs[o.ID] = o
}

func (m *MemoryStore) PutStudent(s Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[s.ID] = s
}

// Loads reports how many times Organization was called.
func (m *MemoryStore) Loads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loads
}

func (m *MemoryStore) Organization(_ context.Context, id string) (Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	o, ok := m.orgs[id]
	if !ok {
		return Organization{}, ErrOrgNotFound
	}
	return o, nil
}

func (m *MemoryStore) Student(_ context.Context, orgID, id string) (Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok || s.OrgID != orgID {
		return Student{}, ErrStudentNotFound
	}
	return s, nil
}

func (m *MemoryStore) Students(_ context.Context, orgID string, ids []string) ([]Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Student
	for _, id := range ids {
		if s, ok := m.students[id]; ok && s.OrgID == orgID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
