// Package kvstore provides the local persistent key-value capability the
// session manager persists its state through.
package kvstore

import "sync"

// Documented key set. No migration logic exists beyond these keys.
const (
	KeyToken              = "token"
	KeyUserJSON           = "user-json"
	KeyCourierProfileJSON = "courier-profile-json"
	KeyNotifPermission    = "notification-permission-flag"
	KeyEmployeeDashboard  = "show-employee-dashboard-flag"
	KeyDeviceID           = "device-id"
)

// Store is a synchronous key-value store over string keys. Implementations
// must be safe for concurrent use; callers treat writes as fire-and-forget.
type Store interface {
	GetString(key string) (string, bool)
	SetString(key, value string)
	GetBool(key string) (bool, bool)
	SetBool(key string, value bool)
	GetInt64(key string) (int64, bool)
	SetInt64(key string, value int64)
	Delete(key string)
	Contains(key string) bool
}

// Memory is an in-process Store, used in tests and as the base for the
// file-backed store.
type Memory struct {
	mu      sync.RWMutex
	strings map[string]string
	bools   map[string]bool
	ints    map[string]int64
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		strings: make(map[string]string),
		bools:   make(map[string]bool),
		ints:    make(map[string]int64),
	}
}

func (m *Memory) GetString(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.strings[key]
	return v, ok
}

func (m *Memory) SetString(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = value
}

func (m *Memory) GetBool(key string) (bool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.bools[key]
	return v, ok
}

func (m *Memory) SetBool(key string, value bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bools[key] = value
}

func (m *Memory) GetInt64(key string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.ints[key]
	return v, ok
}

func (m *Memory) SetInt64(key string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ints[key] = value
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.strings, key)
	delete(m.bools, key)
	delete(m.ints, key)
}

func (m *Memory) Contains(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.strings[key]; ok {
		return true
	}
	if _, ok := m.bools[key]; ok {
		return true
	}
	_, ok := m.ints[key]
	return ok
}

// snapshot copies the current contents for serialization
func (m *Memory) snapshot() (map[string]string, map[string]bool, map[string]int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ss := make(map[string]string, len(m.strings))
	for k, v := range m.strings {
		ss[k] = v
	}
	bs := make(map[string]bool, len(m.bools))
	for k, v := range m.bools {
		bs[k] = v
	}
	is := make(map[string]int64, len(m.ints))
	for k, v := range m.ints {
		is[k] = v
	}
	return ss, bs, is
}

// restore replaces the current contents
func (m *Memory) restore(ss map[string]string, bs map[string]bool, is map[string]int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ss != nil {
		m.strings = ss
	}
	if bs != nil {
		m.bools = bs
	}
	if is != nil {
		m.ints = is
	}
}
