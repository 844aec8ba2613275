// Package config persists application settings as section/key/value
// triples in a single JSON file under the user's config directory,
// lazily loaded and written back on explicit Save.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/gladius-go/slicer/internal/cerrors"
)

const (
	configDirName  = "gladius"
	configFileName = "settings.json"
)

// Manager holds settings in memory as a two-level map (section -> key
// -> raw JSON value) and mirrors them to a single JSON file.
type Manager struct {
	mu       sync.Mutex
	path     string
	sections map[string]map[string]json.RawMessage
}

// NewManager resolves the settings file path under os.UserConfigDir
// but does not touch the filesystem; call Load to populate it.
func NewManager() (*Manager, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, cerrors.New(cerrors.KindIO, "config.NewManager", err)
	}
	return &Manager{
		path:     filepath.Join(dir, configDirName, configFileName),
		sections: make(map[string]map[string]json.RawMessage),
	}, nil
}

// Path returns the resolved settings file path.
func (m *Manager) Path() string { return m.path }

// Load reads the settings file if it exists, replacing in-memory
// state. A missing file is not an error: it leaves the manager with
// an empty section map, matching NoiseTorch's initializeConfigIfNot
// first-run behavior of proceeding with defaults rather than failing.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			m.sections = make(map[string]map[string]json.RawMessage)
			return nil
		}
		return cerrors.New(cerrors.KindIO, "config.Manager.Load", err)
	}

	var sections map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return cerrors.New(cerrors.KindUnsupportedFormat, "config.Manager.Load", err)
	}
	m.sections = sections
	return nil
}

// Save writes the current in-memory settings to the settings file,
// creating the config directory if needed.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return cerrors.New(cerrors.KindIO, "config.Manager.Save", err)
	}
	data, err := json.MarshalIndent(m.sections, "", "  ")
	if err != nil {
		return cerrors.New(cerrors.KindUnsupportedFormat, "config.Manager.Save", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return cerrors.New(cerrors.KindIO, "config.Manager.Save", err)
	}
	return nil
}

func (m *Manager) rawLocked(section, key string) (json.RawMessage, bool) {
	keys, ok := m.sections[section]
	if !ok {
		return nil, false
	}
	raw, ok := keys[key]
	return raw, ok
}

func (m *Manager) setLocked(section, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return cerrors.New(cerrors.KindUnsupportedFormat, "config.Manager.setValue", err)
	}
	if m.sections[section] == nil {
		m.sections[section] = make(map[string]json.RawMessage)
	}
	m.sections[section][key] = raw
	return nil
}

// String returns the string at section/key, or defaultValue if absent
// or of a different type, mirroring ConfigManager::getValue's
// swallow-the-mismatch-and-return-default behavior.
func (m *Manager) String(section, key, defaultValue string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.rawLocked(section, key)
	if !ok {
		return defaultValue
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return defaultValue
	}
	return v
}

// Float returns the float64 at section/key, or defaultValue if absent
// or of a different type.
func (m *Manager) Float(section, key string, defaultValue float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.rawLocked(section, key)
	if !ok {
		return defaultValue
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return defaultValue
	}
	return v
}

// Bool returns the bool at section/key, or defaultValue if absent or
// of a different type.
func (m *Manager) Bool(section, key string, defaultValue bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.rawLocked(section, key)
	if !ok {
		return defaultValue
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return defaultValue
	}
	return v
}

// Int returns the int at section/key, or defaultValue if absent or of
// a different type.
func (m *Manager) Int(section, key string, defaultValue int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.rawLocked(section, key)
	if !ok {
		return defaultValue
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return defaultValue
	}
	return v
}

// SetString stores a string at section/key.
func (m *Manager) SetString(section, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(section, key, value)
}

// SetFloat stores a float64 at section/key.
func (m *Manager) SetFloat(section, key string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(section, key, value)
}

// SetBool stores a bool at section/key.
func (m *Manager) SetBool(section, key string, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(section, key, value)
}

// SetInt stores an int at section/key.
func (m *Manager) SetInt(section, key string, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(section, key, value)
}
