// Package pluginconfig loads sidecar launch descriptors: the name,
// executable, arguments, and init payload a Manager needs to spawn and
// initialize one plugin, either built programmatically or parsed from a
// YAML manifest in the teacher's kit-manifest style.
package pluginconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quillhive/sidecar/internal/hostprobe"
)

// Descriptor is the launch descriptor for one plugin.
type Descriptor struct {
	Name       string            `yaml:"name" json:"name"`
	Executable string            `yaml:"executable" json:"executable"`
	Args       []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env        map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// InitPayload is sent verbatim as the params of the "initialize" request.
	InitPayload map[string]any `yaml:"init_payload,omitempty" json:"init_payload,omitempty"`

	// PersistDirectory, if set, is created (EnsureDir) before the plugin is
	// spawned and merged into InitPayload under "persist_directory", per the
	// environment contract's "guaranteed to exist before being passed to a
	// child."
	PersistDirectory string `yaml:"persist_directory,omitempty" json:"persist_directory,omitempty"`

	// ReadyTimeoutSeconds is parsed from the manifest but read by no code in
	// this module: WaitUntilReady always uses the fixed 30s
	// readiness.ReadyDeadline.
	ReadyTimeoutSeconds int `yaml:"ready_timeout_seconds,omitempty" json:"ready_timeout_seconds,omitempty"`
}

// ParseFile reads and parses a plugin manifest from a YAML file.
func ParseFile(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pluginconfig: read manifest: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes parses a plugin manifest from YAML bytes.
func ParseBytes(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("pluginconfig: parse manifest: %w", err)
	}
	if d.Name == "" {
		return nil, fmt.Errorf("pluginconfig: manifest missing required field: name")
	}
	if d.Executable == "" {
		return nil, fmt.Errorf("pluginconfig: manifest missing required field: executable")
	}
	return &d, nil
}

// Prepare ensures PersistDirectory exists and merges it into InitPayload.
// Call this once, right before spawning.
func (d *Descriptor) Prepare() error {
	if d.PersistDirectory == "" {
		return nil
	}
	if err := hostprobe.EnsureDir(d.PersistDirectory); err != nil {
		return err
	}
	if d.InitPayload == nil {
		d.InitPayload = make(map[string]any)
	}
	d.InitPayload["persist_directory"] = d.PersistDirectory
	return nil
}
