package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"promptarena-backend/internal/models"
	"promptarena-backend/internal/repository"
)

// memSessions mimics SessionRepo: the version check and GREATEST(score, n)
// happen atomically under the mutex.
type memSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]models.Session
	history  map[uuid.UUID][]int

	// conflicts forces the next n updates to fail as if another writer won.
	conflicts int
	updates   int
}

func newMemSessions(sessions ...models.Session) *memSessions {
	m := &memSessions{sessions: make(map[uuid.UUID]models.Session), history: make(map[uuid.UUID][]int)}
	for _, s := range sessions {
		m.sessions[s.ID] = s
	}
	return m
}

func (m *memSessions) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	s.Prompts = append([]string(nil), s.Prompts...)
	return &s, nil
}

func (m *memSessions) UpdateIfVersion(ctx context.Context, s *models.Session, expectedVersion int, submittedScore int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++

	stored, ok := m.sessions[s.ID]
	if !ok || stored.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	if m.conflicts > 0 {
		m.conflicts--
		stored.Version++
		m.sessions[s.ID] = stored
		return repository.ErrVersionConflict
	}

	if submittedScore > stored.Score {
		stored.Score = submittedScore
	}
	stored.Prompts = append([]string(nil), s.Prompts...)
	stored.Feedback = s.Feedback
	stored.State = s.State
	stored.Version++
	m.sessions[s.ID] = stored
	m.history[s.ID] = append(m.history[s.ID], submittedScore)

	s.Score = stored.Score
	s.Version = stored.Version
	return nil
}

func (m *memSessions) get(id uuid.UUID) models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

type recordedEvent struct {
	userID uuid.UUID
	msg    models.WSMessage
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *fakePublisher) PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{userID: userID, msg: msg})
}

type fakeInvalidator struct {
	mu    sync.Mutex
	tasks []uuid.UUID
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, taskID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, taskID)
}

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCache() *memCache { return &memCache{entries: make(map[string][]byte)} }

func (c *memCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}

func (c *memCache) Delete(ctx context.Context, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
}

type fakeTasks struct {
	tasks []models.Task
}

func (f *fakeTasks) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	for _, t := range f.tasks {
		if t.ID == id {
			t := t
			return &t, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeTasks) List(ctx context.Context) ([]models.Task, error) {
	return f.tasks, nil
}

type fakeRows struct {
	rows  []models.SessionRow
	calls int
}

func (f *fakeRows) ListScored(ctx context.Context, taskID *uuid.UUID) ([]models.SessionRow, error) {
	f.calls++
	var out []models.SessionRow
	for _, r := range f.rows {
		if taskID == nil || r.TaskID == *taskID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeProfiles map[uuid.UUID]models.Profile

func (f fakeProfiles) Profiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error) {
	out := make(map[uuid.UUID]models.Profile)
	for _, id := range ids {
		if p, ok := f[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
