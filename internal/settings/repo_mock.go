package settings

import (
	"context"
	"sync"
)

// repoMock mimics the postgres repo in memory, compare-and-swap included.
type repoMock struct {
	mu       sync.Mutex
	nextID   int64
	settings map[int64]UserSettings
}

func newRepoMock() *repoMock {
	return &repoMock{
		nextID:   1,
		settings: make(map[int64]UserSettings),
	}
}

func (m *repoMock) Get(_ context.Context, athleteID int64) (*UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[athleteID]
	if !ok {
		return nil, ErrSettingsNotFound
	}
	return &s, nil
}

func (m *repoMock) Create(_ context.Context, s UserSettings) (*UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.nextID
	m.nextID++
	m.settings[s.AthleteID] = s
	return &s, nil
}

func (m *repoMock) Update(_ context.Context, s UserSettings, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.settings[s.AthleteID]
	if !ok {
		return ErrSettingsNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	s.ID = stored.ID
	m.settings[s.AthleteID] = s
	return nil
}

func (m *repoMock) Delete(_ context.Context, athleteID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.settings[athleteID]; !ok {
		return ErrSettingsNotFound
	}
	delete(m.settings, athleteID)
	return nil
}

func (m *repoMock) stored(athleteID int64) (UserSettings, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[athleteID]
	return s, ok
}
