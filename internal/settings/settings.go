package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Settings holds user preferences that persist across restarts.
type Settings struct {
	CrashReporting bool   `json:"crashReporting"`         // Whether to send crash reports to Sentry
	DefaultProfile string `json:"defaultProfile,omitempty"` // Profile name cardresctl uses when none is given
	LogLevel       string `json:"logLevel,omitempty"`       // debug, info, warn, or error
}

var (
	current  *Settings
	mu       sync.RWMutex
	filePath string
)

// DefaultSettings returns the default settings.
func DefaultSettings() *Settings {
	return &Settings{
		CrashReporting: false, // Opt-in, disabled by default
		DefaultProfile: "",
		LogLevel:       "info",
	}
}

// getSettingsPath returns the path to the settings file.
func getSettingsPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "cardresd", "settings.json"), nil
}

// Load reads settings from disk, or returns defaults if file doesn't exist.
func Load() (*Settings, error) {
	mu.Lock()
	defer mu.Unlock()

	path, err := getSettingsPath()
	if err != nil {
		current = DefaultSettings()
		return current, err
	}
	filePath = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			current = DefaultSettings()
			return current, nil
		}
		current = DefaultSettings()
		return current, err
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		current = DefaultSettings()
		return current, err
	}

	current = &s
	return current, nil
}

// Save writes the current settings to disk.
func Save() error {
	mu.Lock()
	defer mu.Unlock()

	if current == nil {
		current = DefaultSettings()
	}

	path, err := getSettingsPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Get returns the current settings (loads from disk if not yet loaded).
func Get() *Settings {
	mu.RLock()
	if current != nil {
		defer mu.RUnlock()
		return current
	}
	mu.RUnlock()

	// Not loaded yet, load now
	s, _ := Load()
	return s
}

// SetCrashReporting updates the crash reporting preference and saves.
func SetCrashReporting(enabled bool) error {
	mu.Lock()
	if current == nil {
		current = DefaultSettings()
	}
	current.CrashReporting = enabled
	mu.Unlock()

	return Save()
}

// IsCrashReportingEnabled returns whether crash reporting is enabled.
func IsCrashReportingEnabled() bool {
	return Get().CrashReporting
}

// SetDefaultProfile updates the default allocation profile and saves.
func SetDefaultProfile(name string) error {
	mu.Lock()
	if current == nil {
		current = DefaultSettings()
	}
	current.DefaultProfile = name
	mu.Unlock()

	return Save()
}

// SetLogLevel updates the persisted log level and saves.
func SetLogLevel(level string) error {
	mu.Lock()
	if current == nil {
		current = DefaultSettings()
	}
	current.LogLevel = level
	mu.Unlock()

	return Save()
}
