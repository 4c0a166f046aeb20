package store

import (
	"context"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"studentcal/internal/model"
)

// Fixture is a YAML document holding records of all four kinds and
// per-student preferences. It seeds the database and backs Memory.
type Fixture struct {
	Classes     []model.ClassRecord          `yaml:"classes"`
	Assignments []model.AssignmentRecord     `yaml:"assignments"`
	Exams       []model.ExamRecord           `yaml:"exams"`
	Events      []model.EventRecord          `yaml:"events"`
	Preferences map[string]model.Preferences `yaml:"preferences,omitempty"`
}

// activeFlags picks the is_active keys out of a fixture document.
type activeFlags struct {
	Classes []struct {
		IsActive *bool `yaml:"is_active"`
	} `yaml:"classes"`
	Exams []struct {
		IsActive *bool `yaml:"is_active"`
	} `yaml:"exams"`
	Events []struct {
		IsActive *bool `yaml:"is_active"`
	} `yaml:"events"`
}

// LoadFixture reads a Fixture from a YAML file. Classes, exams and events
// without an is_active key are active, matching the column defaults.
func LoadFixture(path string) (Fixture, error) {
	var f Fixture
	data, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, err
	}

	var flags activeFlags
	if err := yaml.Unmarshal(data, &flags); err != nil {
		return f, err
	}
	for i, c := range flags.Classes {
		if c.IsActive == nil && i < len(f.Classes) {
			f.Classes[i].IsActive = true
		}
	}
	for i, e := range flags.Exams {
		if e.IsActive == nil && i < len(f.Exams) {
			f.Exams[i].IsActive = true
		}
	}
	for i, e := range flags.Events {
		if e.IsActive == nil && i < len(f.Events) {
			f.Events[i].IsActive = true
		}
	}
	return f, nil
}

// Memory is an in-memory store over a Fixture. It applies the same
// per-student filters as DB but does not expand recurrences.
type Memory struct {
	mu    sync.RWMutex
	f     Fixture
	prefs map[string]model.Preferences
}

func NewMemory(f Fixture) *Memory {
	return &Memory{f: f, prefs: copyPreferences(f.Preferences)}
}

// Replace swaps the records and preferences served by m.
func (m *Memory) Replace(f Fixture) {
	m.mu.Lock()
	m.f = f
	m.prefs = copyPreferences(f.Preferences)
	m.mu.Unlock()
}

func copyPreferences(in map[string]model.Preferences) map[string]model.Preferences {
	out := make(map[string]model.Preferences, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *Memory) LoadPreferences(_ context.Context, studentID string) (model.Preferences, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prefs[studentID]
	if !ok {
		return model.DefaultPreferences(), false, nil
	}
	return p, true, nil
}

func (m *Memory) SavePreferences(_ context.Context, studentID string, p model.Preferences) error {
	if p.View == "" {
		p.View = model.DefaultView
	}
	m.mu.Lock()
	m.prefs[studentID] = p
	m.mu.Unlock()
	return nil
}

func (m *Memory) QueryClasses(_ context.Context, studentID string) ([]model.ClassRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ClassRecord
	for _, c := range m.f.Classes {
		if c.StudentID == studentID && c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) QueryAssignments(_ context.Context, studentID string) ([]model.AssignmentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.AssignmentRecord
	for _, a := range m.f.Assignments {
		if a.StudentID == studentID && a.Status == model.AssignmentStatusAssigned {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) QueryExams(_ context.Context, studentID string) ([]model.ExamRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ExamRecord
	for _, e := range m.f.Exams {
		if e.StudentID == studentID && e.IsActive {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) QueryEvents(_ context.Context, studentID string) ([]model.EventRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.EventRecord
	for _, e := range m.f.Events {
		if e.StudentID == studentID && e.IsActive {
			out = append(out, e)
		}
	}
	return out, nil
}
