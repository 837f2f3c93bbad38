package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// CommandConfig maps a command name used by nodes ("mpv", "ffmpeg") to the
// executable and leading arguments actually run.
type CommandConfig struct {
	Name        string            `yaml:"name" json:"name" toml:"name"`
	Command     string            `yaml:"command" json:"command" toml:"command"`
	Args        []string          `yaml:"args" json:"args" toml:"args"`
	Environment map[string]string `yaml:"env" json:"env" toml:"env"`
	Description string            `yaml:"description" json:"description" toml:"description"`
}

// commandsFile is the layout of a commands file:
//
//	commands:
//	  - name: mpv
//	    command: /opt/mpv/bin/mpv
//	    args: ["--no-config"]
type commandsFile struct {
	Commands []CommandConfig `yaml:"commands" json:"commands" toml:"commands"`
}

// LoadCommands reads a commands file and returns the overrides keyed by name.
// The format follows the extension (.json, .toml, otherwise YAML). Entries
// without a name or command are skipped; $VARS in the command path are
// expanded. A missing file yields no overrides.
func LoadCommands(path string) (map[string]CommandConfig, error) {
	commands := make(map[string]CommandConfig)
	if path == "" {
		return commands, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return commands, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read commands config: %w", err)
	}

	var file commandsFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &file)
	case ".toml":
		_, err = toml.Decode(string(data), &file)
	default:
		err = yaml.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	for _, c := range file.Commands {
		if c.Name == "" || c.Command == "" {
			continue
		}
		if _, dup := commands[c.Name]; dup {
			return nil, fmt.Errorf("%s: command %q defined twice", filepath.Base(path), c.Name)
		}
		c.Command = os.ExpandEnv(c.Command)
		commands[c.Name] = c
	}
	return commands, nil
}
