package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Manager is the runtime configuration hub. It is thread-safe and uses an
// atomic pointer plus a publish/subscribe model for lock-free reads and
// hot-reload notification.
type Manager struct {
	filePath    string
	settings    atomic.Value // *RuntimeSettings
	subscribers map[string][]ConfigurableModule
	mu          sync.RWMutex
}

// NewManager creates a settings manager, loading from filePath or falling
// back to in-memory defaults when filePath is empty.
func NewManager(filePath string) (*Manager, error) {
	m := &Manager{
		filePath:    filePath,
		subscribers: make(map[string][]ConfigurableModule),
	}

	if filePath == "" {
		m.settings.Store(createDefaultSettings())
		return m, nil
	}

	if err := m.load(); err != nil {
		return nil, fmt.Errorf("failed to load initial settings: %w", err)
	}
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.filePath)
	s := &RuntimeSettings{}

	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", m.filePath).Msg("settings.json not found, creating defaults.")
			s = createDefaultSettings()
			if err := m.persist(s); err != nil {
				return fmt.Errorf("failed to write default settings file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to read settings file: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, s); err != nil {
			return fmt.Errorf("failed to parse settings.json: %w", err)
		}
		ensureDefaultModules(s)
	}

	m.settings.Store(s)
	return nil
}

// Register subscribes a module to notifications for the named settings key.
func (m *Manager) Register(moduleKey string, module ConfigurableModule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[moduleKey] = append(m.subscribers[moduleKey], module)
}

// Get returns a snapshot of the current settings. Lock-free.
func (m *Manager) Get() *RuntimeSettings {
	return m.settings.Load().(*RuntimeSettings)
}

// Update applies raw JSON to the named module, persists to disk (if a file
// path was configured), swaps in the new snapshot, and notifies subscribers.
func (m *Manager) Update(moduleKey string, raw json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.Get()
	next := deepCopy(current)

	target := moduleByKey(next, moduleKey)
	if target == nil {
		return fmt.Errorf("unknown settings module: %s", moduleKey)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to parse JSON for module %s: %w", moduleKey, err)
	}

	if m.filePath != "" {
		if err := m.persist(next); err != nil {
			return fmt.Errorf("failed to save updated settings: %w", err)
		}
	}

	m.settings.Store(next)
	go m.notify(moduleKey, target)

	return nil
}

func (m *Manager) persist(s *RuntimeSettings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.filePath, data, 0644)
}

func (m *Manager) notify(moduleKey string, newSettings interface{}) {
	m.mu.RLock()
	subs := m.subscribers[moduleKey]
	m.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.OnSettingsUpdate(moduleKey, newSettings); err != nil {
			log.Error().Err(err).Str("module", moduleKey).Msg("settings subscriber rejected update")
		}
	}
}

func deepCopy(s *RuntimeSettings) *RuntimeSettings {
	next := *s
	if s.Admission != nil {
		a := *s.Admission
		next.Admission = &a
	}
	if s.Fleet != nil {
		f := *s.Fleet
		next.Fleet = &f
	}
	return &next
}

func moduleByKey(s *RuntimeSettings, key string) interface{} {
	switch key {
	case "admission":
		return s.Admission
	case "fleet":
		return s.Fleet
	default:
		return nil
	}
}
