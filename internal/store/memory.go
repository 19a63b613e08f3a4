package store

import (
	"context"
	"sync"

	"agentdesk/internal/domain"
)

// Memory is a process-local Store. It starts empty and keeps nothing across
// restarts.
type Memory struct {
	mu sync.RWMutex

	tasks     map[string]domain.Task
	taskOrder []string

	keys     map[string]domain.Key
	keyOrder []string
	users    map[string]domain.User

	accounts     map[string]domain.AgentAccount
	accountOrder []string

	events []domain.Event
}

func NewMemory() *Memory {
	return &Memory{
		tasks:    map[string]domain.Task{},
		keys:     map[string]domain.Key{},
		users:    map[string]domain.User{},
		accounts: map[string]domain.AgentAccount{},
	}
}

func (m *Memory) SaveTask(_ context.Context, t domain.Task, evts ...domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		m.taskOrder = append(m.taskOrder, t.ID)
	}
	m.tasks[t.ID] = t.Clone()
	m.appendEventsLocked(evts)
	return nil
}

func (m *Memory) GetTask(_ context.Context, id string) (domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, domain.NotFound("task", id)
	}
	return t.Clone(), nil
}

func (m *Memory) ListTasks(_ context.Context, ownerID string) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Task, 0, len(m.taskOrder))
	for _, id := range m.taskOrder {
		t := m.tasks[id]
		if ownerID != "" && t.OwnerID != ownerID {
			continue
		}
		out = append(out, t.Clone())
	}
	return out, nil
}

func (m *Memory) CreateKey(_ context.Context, key domain.Key, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key.ID]; !ok {
		m.keyOrder = append(m.keyOrder, key.ID)
	}
	m.keys[key.ID] = key.Clone()
	m.users[user.ID] = user
	return nil
}

func (m *Memory) GetKey(_ context.Context, id string) (domain.Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[id]
	if !ok {
		return domain.Key{}, domain.NotFound("key", id)
	}
	return k.Clone(), nil
}

func (m *Memory) GetKeyByHash(_ context.Context, hash string) (domain.Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.keyOrder {
		if k := m.keys[id]; k.KeyHash == hash {
			return k.Clone(), nil
		}
	}
	return domain.Key{}, domain.NotFound("key", "by hash")
}

func (m *Memory) ListKeys(_ context.Context) ([]domain.Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Key, 0, len(m.keyOrder))
	for _, id := range m.keyOrder {
		out = append(out, m.keys[id].Clone())
	}
	return out, nil
}

func (m *Memory) SaveKey(_ context.Context, key domain.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key.ID]; !ok {
		return domain.NotFound("key", key.ID)
	}
	m.keys[key.ID] = key.Clone()
	return nil
}

func (m *Memory) GetUser(_ context.Context, id string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.NotFound("user", id)
	}
	return u, nil
}

func (m *Memory) SaveAccount(_ context.Context, a domain.AgentAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.ID]; !ok {
		m.accountOrder = append(m.accountOrder, a.ID)
	}
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id string) (domain.AgentAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return domain.AgentAccount{}, domain.NotFound("agent account", id)
	}
	return a, nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]domain.AgentAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.AgentAccount, 0, len(m.accountOrder))
	for _, id := range m.accountOrder {
		out = append(out, m.accounts[id])
	}
	return out, nil
}

func (m *Memory) AppendEvents(_ context.Context, evts ...domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendEventsLocked(evts)
	return nil
}

func (m *Memory) appendEventsLocked(evts []domain.Event) {
	for _, e := range evts {
		e.ID = int64(len(m.events) + 1)
		m.events = append(m.events, e)
	}
}

func (m *Memory) EventsAfter(_ context.Context, afterID int64, limit int) ([]domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit = normalizeLimit(limit)
	if afterID < 0 {
		afterID = 0
	}
	var out []domain.Event
	// ids are 1-based positions in m.events
	for i := int(afterID); i < len(m.events) && len(out) < limit; i++ {
		out = append(out, m.events[i])
	}
	return out, nil
}

func (m *Memory) LatestEventID(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.events)), nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }
