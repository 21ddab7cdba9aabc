package telegram

import (
	"sync"

	"receipt-proxy/api/internal/receipt"
)

// Backend is one configured engine together with the operator key it runs with.
type Backend struct {
	Service *receipt.Service
	APIKey  string
}

// Manager remembers which backend each chat picked with /engine.
type Manager struct {
	def      string
	backends map[string]Backend
	m        sync.Map // chatID -> backend name
}

func NewManager(def string, backends map[string]Backend) *Manager {
	return &Manager{def: def, backends: backends}
}

func (m *Manager) Get(chatID int64) (string, Backend) {
	if v, ok := m.m.Load(chatID); ok {
		name := v.(string)
		if b, ok := m.backends[name]; ok {
			return name, b
		}
	}
	return m.def, m.backends[m.def]
}

// Set switches the chat to name and reports whether such a backend exists.
func (m *Manager) Set(chatID int64, name string) bool {
	if _, ok := m.backends[name]; !ok {
		return false
	}
	m.m.Store(chatID, name)
	return true
}

func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.backends))
	for _, n := range []string{"gpt", "gemini"} {
		if _, ok := m.backends[n]; ok {
			out = append(out, n)
		}
	}
	return out
}
