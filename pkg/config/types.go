package config

import (
	"fmt"
	"strings"

	"github.com/openfroyo/catletctl/pkg/engine"
)

// File is a parsed catlets file: shared defaults plus the declared machines.
type File struct {
	// Version is the file format version.
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	// Defaults apply to every machine unless the machine overrides them.
	Defaults MachineConfig `yaml:"defaults,omitempty" json:"defaults,omitempty"`

	// Machines are the declared catlets, in declaration order.
	Machines []MachineConfig `yaml:"machines" json:"machines"`

	// Source is the path the file was loaded from.
	Source string `yaml:"-" json:"source,omitempty"`
}

// Machine returns the declared machine with the given name.
func (f *File) Machine(name string) (MachineConfig, bool) {
	for _, m := range f.Machines {
		if m.Name == name {
			return m, true
		}
	}
	return MachineConfig{}, false
}

// Names returns the declared machine names in order.
func (f *File) Names() []string {
	names := make([]string, len(f.Machines))
	for i, m := range f.Machines {
		names[i] = m.Name
	}
	return names
}

// MachineConfig declares one catlet.
type MachineConfig struct {
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	Project     string `yaml:"project,omitempty" json:"project,omitempty"`
	Parent      string `yaml:"parent,omitempty" json:"parent,omitempty"`
	Hostname    string `yaml:"hostname,omitempty" json:"hostname,omitempty"`
	Location    string `yaml:"location,omitempty" json:"location,omitempty"`
	Environment string `yaml:"environment,omitempty" json:"environment,omitempty"`
	Store       string `yaml:"store,omitempty" json:"store,omitempty"`

	CPU          int                   `yaml:"cpu,omitempty" json:"cpu,omitempty"`
	Memory       *engine.MemorySpec    `yaml:"memory,omitempty" json:"memory,omitempty"`
	Capabilities []engine.Capability   `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Drives       []engine.DriveSpec    `yaml:"drives,omitempty" json:"drives,omitempty"`
	Networks     []engine.NetworkSpec  `yaml:"networks,omitempty" json:"networks,omitempty"`
	Variables    []engine.VariableSpec `yaml:"variables,omitempty" json:"variables,omitempty"`

	// Fodder is user-supplied fodder.
	Fodder []engine.FodderItem `yaml:"fodder,omitempty" json:"fodder,omitempty"`

	// Genes are fodder gene references ("gene:<geneset>:<gene>") added as
	// template fodder.
	Genes []string `yaml:"genes,omitempty" json:"genes,omitempty"`

	Bootstrap *BootstrapConfig `yaml:"bootstrap,omitempty" json:"bootstrap,omitempty"`
	SSH       *SSHConfig       `yaml:"ssh,omitempty" json:"ssh,omitempty"`

	// StopMode is the default stop mode for halt and reload.
	StopMode string `yaml:"stop_mode,omitempty" json:"stop_mode,omitempty"`

	// Provision lists scripts run over SSH on a running catlet.
	Provision []ProvisionScript `yaml:"provision,omitempty" json:"provision,omitempty"`
}

// BootstrapConfig controls the generated access-user fodder.
type BootstrapConfig struct {
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	OS             string   `yaml:"os,omitempty" json:"os,omitempty"`
	Username       string   `yaml:"username,omitempty" json:"username,omitempty"`
	Password       string   `yaml:"password,omitempty" json:"password,omitempty"`
	RemoteAccess   *bool    `yaml:"remote_access,omitempty" json:"remote_access,omitempty"`
	GenerateKey    *bool    `yaml:"generate_key,omitempty" json:"generate_key,omitempty"`
	AuthorizedKeys []string `yaml:"authorized_keys,omitempty" json:"authorized_keys,omitempty"`
}

// SSHConfig overrides how catletctl connects to a running catlet.
type SSHConfig struct {
	Username       string `yaml:"username,omitempty" json:"username,omitempty"`
	Password       string `yaml:"password,omitempty" json:"password,omitempty"`
	Port           int    `yaml:"port,omitempty" json:"port,omitempty"`
	PrivateKeyPath string `yaml:"private_key_path,omitempty" json:"private_key_path,omitempty"`
}

// ProvisionScript is one provisioning step: an inline script or a local
// script file.
type ProvisionScript struct {
	Name   string `yaml:"name,omitempty" json:"name,omitempty"`
	Inline string `yaml:"inline,omitempty" json:"inline,omitempty"`
	Path   string `yaml:"path,omitempty" json:"path,omitempty"`
	Sudo   bool   `yaml:"sudo,omitempty" json:"sudo,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the path to the offending value (e.g., "machines.0.cpu").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors is returned when a catlets file violates the schema.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.String()
	}
	return "invalid catlets file: " + strings.Join(msgs, "; ")
}
