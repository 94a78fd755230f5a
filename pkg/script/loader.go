package script

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

//go:embed data/*.yaml
var embeddedScripts embed.FS

// LoadEmbedded loads a built-in script by name.
func LoadEmbedded(name string) (*Script, error) {
	data, err := embeddedScripts.ReadFile(fmt.Sprintf("data/%s.yaml", name))
	if err != nil {
		return nil, fmt.Errorf("script %q not found: %w", name, err)
	}
	return parseNamed(name, data)
}

// LoadFromFile loads a script from a YAML file on disk.
func LoadFromFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script file: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return parseNamed(name, data)
}

// Load resolves ref as a file path when it exists on disk and as a built-in
// script name otherwise.
func Load(ref string) (*Script, error) {
	if _, err := os.Stat(ref); err == nil {
		return LoadFromFile(ref)
	}
	return LoadEmbedded(ref)
}

// ListEmbedded returns the names of all built-in scripts.
func ListEmbedded() ([]string, error) {
	entries, err := embeddedScripts.ReadDir("data")
	if err != nil {
		return nil, fmt.Errorf("failed to list embedded scripts: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".yaml") {
			names = append(names, strings.TrimSuffix(entry.Name(), ".yaml"))
		}
	}
	return names, nil
}

func parseNamed(name string, data []byte) (*Script, error) {
	s, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if s.Name == "" {
		s.Name = name
	}
	return s, nil
}
