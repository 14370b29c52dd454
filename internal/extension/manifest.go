// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package extension

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Type identifies the extension runtime kind.
type Type string

// Extension types supported by the reference runtime.
const (
	TypeWasm Type = "wasm"
	TypeLua  Type = "lua"
)

// ManifestFile is the well-known manifest file name inside an extension dir.
const ManifestFile = "graft.yaml"

// Manifest represents a graft.yaml file.
type Manifest struct {
	Name         string      `yaml:"name" json:"name"`
	Version      string      `yaml:"version" json:"version"`
	Type         Type        `yaml:"type" json:"type"`
	Events       []string    `yaml:"events,omitempty" json:"events,omitempty"`
	Capabilities []string    `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Wasm         *WasmConfig `yaml:"wasm,omitempty" json:"wasm,omitempty"`
	Lua          *LuaConfig  `yaml:"lua,omitempty" json:"lua,omitempty"`
}

// WasmConfig holds WASM-specific configuration.
type WasmConfig struct {
	Module string `yaml:"module" json:"module"`
}

// LuaConfig holds Lua-specific configuration.
type LuaConfig struct {
	Entry string `yaml:"entry" json:"entry"`
}

// maxNameLength is the maximum allowed length for extension names.
const maxNameLength = 64

// namePattern validates extension names: must start with lowercase letter,
// followed by lowercase letters, digits, or hyphens.
// Cannot end with a hyphen. Single character names are allowed.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ParseManifest parses and validates a graft.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}

	switch m.Type {
	case TypeWasm:
		if m.Wasm == nil {
			return fmt.Errorf("wasm is required when type is wasm")
		}
		if m.Wasm.Module == "" {
			return fmt.Errorf("wasm.module is required")
		}
	case TypeLua:
		if m.Lua == nil {
			return fmt.Errorf("lua is required when type is lua")
		}
		if m.Lua.Entry == "" {
			return fmt.Errorf("lua.entry is required")
		}
	default:
		return fmt.Errorf("type must be 'wasm' or 'lua', got %q", m.Type)
	}

	return nil
}
