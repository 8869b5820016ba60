package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// LoadFile reads the configuration of an environment from an ini or
// yaml file.
//
// Ini files use dotted keys and sections named after environments; a
// section "[development : production]" inherits the keys of production.
// An empty env reads the keys outside any section.
//
// Yaml files hold the configuration tree, optionally under one top-level
// key per environment. An empty env, or an env without a key of its own,
// reads the whole document.
func LoadFile(path, env string) (*Config, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".ini":
		props, err := loadINI(path, env)
		if err != nil {
			return nil, err
		}
		return FromProperties(props)
	case ".yaml", ".yml":
		tree, err := loadYAML(path, env)
		if err != nil {
			return nil, err
		}
		return FromTree(tree)
	default:
		return nil, fmt.Errorf("config: unsupported file type %q", ext)
	}
}

func loadINI(path, env string) (map[string]string, error) {
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if env == "" {
		return f.Section(ini.DefaultSection).KeysHash(), nil
	}
	sections := make(map[string]*ini.Section)
	parents := make(map[string]string)
	for _, s := range f.Sections() {
		name, parent, _ := strings.Cut(s.Name(), ":")
		name = strings.TrimSpace(name)
		sections[name] = s
		if parent = strings.TrimSpace(parent); parent != "" {
			parents[name] = parent
		}
	}
	var chain []*ini.Section
	for name := env; name != ""; name = parents[name] {
		s, ok := sections[name]
		if !ok {
			return nil, fmt.Errorf("config: %s: no section %q", path, name)
		}
		if len(chain) > len(sections) {
			return nil, fmt.Errorf("config: %s: section %q inherits from itself", path, env)
		}
		chain = append(chain, s)
	}
	props := make(map[string]string)
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].KeysHash() {
			props[k] = v
		}
	}
	return props, nil
}

func loadYAML(path, env string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(b, &tree); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if env != "" {
		if sub, ok := tree[env].(map[string]any); ok {
			return sub, nil
		}
	}
	return tree, nil
}
