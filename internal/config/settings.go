package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings holds optional defaults loaded from the settings file. Flags
// always win over settings; settings win over built-in defaults.
type Settings struct {
	// Headers are default HTTP headers applied to every remote request.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Transport is the default transport type (sse or http).
	Transport string `yaml:"transport,omitempty"`

	// CallbackPort is the default preferred callback port.
	CallbackPort int `yaml:"callbackPort,omitempty"`
}

// settingsFileName is resolved relative to the base config dir (not the
// version-namespaced one) so settings survive version upgrades.
const settingsFileName = "settings.yaml"

// SettingsPath returns the location of the optional settings file.
func SettingsPath() (string, error) {
	if override := os.Getenv(EnvConfigDir); override != "" {
		return filepath.Join(override, settingsFileName), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, baseConfigDir, settingsFileName), nil
}

// LoadSettings reads the settings file at path. A missing file is a normal
// outcome and yields zero-valued settings.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}

	return &settings, nil
}

// Apply merges settings into the config for every field the caller did not
// set explicitly on the command line.
func (s *Settings) Apply(cfg *Config, transportSet, portSet bool) error {
	for name, value := range s.Headers {
		if _, ok := cfg.Headers[name]; !ok {
			cfg.Headers[name] = value
		}
	}

	if !transportSet && s.Transport != "" {
		transport, err := ParseTransport(s.Transport)
		if err != nil {
			return err
		}
		cfg.Transport = transport
	}

	if !portSet && s.CallbackPort != 0 {
		cfg.CallbackPort = s.CallbackPort
	}

	return nil
}
