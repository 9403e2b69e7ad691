package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Protocol is how a kernel process reports its events on stdout.
type Protocol string

const (
	// ProtocolText forwards stdout and stderr as stream events.
	ProtocolText Protocol = "text"
	// ProtocolJSONL expects one encoded execution event per stdout line.
	ProtocolJSONL Protocol = "jsonl"
)

// KernelConfig describes how to launch an interpreter for one execution.
// The cell source is written to the process stdin.
type KernelConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Language    string            `yaml:"language" json:"language"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Environment map[string]string `yaml:"env" json:"env"`
	Protocol    Protocol          `yaml:"protocol" json:"protocol"`
	Description string            `yaml:"description" json:"description"`
}

// ConfigFile represents the structure of kernels.yaml
type ConfigFile struct {
	Kernels []KernelConfig `yaml:"kernels" json:"kernels"`
}

// DefaultKernels returns the kernels available without a config file.
func DefaultKernels() map[string]KernelConfig {
	return map[string]KernelConfig{
		"sh": {
			Name:     "sh",
			Language: "shell",
			Command:  "sh",
			Protocol: ProtocolText,
		},
		"python3": {
			Name:     "python3",
			Language: "python",
			Command:  "python3",
			Args:     []string{"-u", "-"},
			Protocol: ProtocolText,
		},
	}
}

// LoadKernels reads a configuration file (YAML or JSON) and returns a map of kernel names to configs.
func LoadKernels(path string) (map[string]KernelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// A missing file means "no kernels configured".
			return map[string]KernelConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read kernels config: %w", err)
	}

	var cfg ConfigFile
	ext := strings.ToLower(filepath.Ext(path))

	if ext == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse kernels.json: %w", err)
		}
	} else {
		// Default to YAML
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse kernels.yaml: %w", err)
		}
	}

	kernels := make(map[string]KernelConfig)
	for _, k := range cfg.Kernels {
		if k.Name == "" {
			continue
		}
		if k.Command == "" {
			return nil, fmt.Errorf("kernel %q has no command", k.Name)
		}
		if k.Protocol == "" {
			k.Protocol = ProtocolText
		}
		if k.Protocol != ProtocolText && k.Protocol != ProtocolJSONL {
			return nil, fmt.Errorf("kernel %q has unknown protocol %q", k.Name, k.Protocol)
		}
		kernels[k.Name] = k
	}

	return kernels, nil
}
