package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type providerFile struct {
	Providers []ProviderOverride `yaml:"providers"`
}

// ProviderOverride changes a built-in tool or declares a new one. Empty
// fields keep the built-in value.
type ProviderOverride struct {
	Tool         string            `yaml:"tool"`
	Kind         string            `yaml:"kind"`
	Endpoint     string            `yaml:"endpoint"`
	Model        string            `yaml:"model"`
	API          string            `yaml:"api"`
	Path         string            `yaml:"path"`
	InputField   string            `yaml:"input_field"`
	ResponseKeys []string          `yaml:"response_keys"`
	Extra        map[string]any    `yaml:"extra"`
	AuthHeader   string            `yaml:"auth_header"`
	AuthScheme   string            `yaml:"auth_scheme"`
	Headers      map[string]string `yaml:"headers"`
	BodyTemplate string            `yaml:"body_template"`
	Keyless      bool              `yaml:"keyless"`
	AllowHost    bool              `yaml:"allow_host"`
}

func LoadProviderFile(path string) ([]ProviderOverride, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	return ParseProviders(raw)
}

func ParseProviders(raw []byte) ([]ProviderOverride, error) {
	var f providerFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Providers))
	for i, p := range f.Providers {
		tool := strings.TrimSpace(p.Tool)
		if tool == "" {
			return nil, fmt.Errorf("providers[%d]: tool is required", i)
		}
		if strings.EqualFold(tool, "Auto") {
			return nil, fmt.Errorf("providers[%d]: tool %q is reserved", i, tool)
		}
		if _, dup := seen[tool]; dup {
			return nil, fmt.Errorf("providers[%d]: tool %q listed twice", i, tool)
		}
		seen[tool] = struct{}{}
		f.Providers[i].Tool = tool
	}
	return f.Providers, nil
}
