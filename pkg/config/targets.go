package config

import (
	"fmt"

	"github.com/openfroyo/catletctl/pkg/engine"
)

// Merged returns the named machine with the file defaults applied.
func (f *File) Merged(name string) (MachineConfig, error) {
	m, ok := f.Machine(name)
	if !ok {
		return MachineConfig{}, fmt.Errorf("machine %q is not declared in %s", name, f.sourceName())
	}
	return mergeMachine(f.Defaults, m), nil
}

// Targets converts the named machines, or all machines when names is
// empty, into orchestrator targets in declaration order.
func (f *File) Targets(names ...string) ([]*engine.Target, error) {
	if len(names) == 0 {
		names = f.Names()
	}

	targets := make([]*engine.Target, 0, len(names))
	for _, name := range names {
		m, err := f.Merged(name)
		if err != nil {
			return nil, err
		}
		t, err := m.Target()
		if err != nil {
			return nil, fmt.Errorf("machine %s: %w", name, err)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func (f *File) sourceName() string {
	if f.Source != "" {
		return f.Source
	}
	return "catlets file"
}

// Target converts a merged machine into an orchestrator target. The target
// carries no catlet id or private key; callers fill those from local state.
func (m MachineConfig) Target() (*engine.Target, error) {
	stopMode := engine.StopGraceful
	if m.StopMode != "" {
		stopMode = engine.StopMode(m.StopMode)
	}
	if err := stopMode.Validate(); err != nil {
		return nil, err
	}

	bootstrap := m.BootstrapOptions()

	spec := engine.CatletSpec{
		Name:         m.Name,
		Project:      m.Project,
		Parent:       m.Parent,
		Hostname:     m.Hostname,
		Location:     m.Location,
		Environment:  m.Environment,
		Store:        m.Store,
		Memory:       m.Memory,
		Capabilities: m.Capabilities,
		Drives:       m.Drives,
		Networks:     m.Networks,
		Variables:    m.Variables,
	}
	if m.CPU > 0 {
		spec.CPU = &engine.CPUSpec{Count: m.CPU}
	}

	templates := make([]engine.FodderItem, 0, len(m.Genes))
	for _, gene := range m.Genes {
		templates = append(templates, engine.FodderItem{Source: gene})
	}

	return &engine.Target{
		Spec:           spec,
		UserFodder:     m.Fodder,
		TemplateFodder: templates,
		Bootstrap:      bootstrap,
		Credentials:    m.Credentials(),
		StopMode:       stopMode,
	}, nil
}

// BootstrapOptions returns the bootstrap settings with defaults applied:
// enabled, linux and remote access on.
func (m MachineConfig) BootstrapOptions() engine.BootstrapOptions {
	opts := engine.BootstrapOptions{
		Enabled:            true,
		OS:                 engine.GuestLinux,
		EnableRemoteAccess: true,
	}

	b := m.Bootstrap
	if b == nil {
		return opts
	}
	if b.Enabled != nil {
		opts.Enabled = *b.Enabled
	}
	if b.OS != "" {
		opts.OS = engine.GuestOS(b.OS)
	}
	if b.RemoteAccess != nil {
		opts.EnableRemoteAccess = *b.RemoteAccess
	}
	opts.Username = b.Username
	opts.Password = b.Password
	opts.AuthorizedKeys = append([]string(nil), b.AuthorizedKeys...)

	return opts
}

// GenerateKey reports whether a key pair should be generated for the
// bootstrap user. It defaults to true for enabled linux bootstrap.
func (m MachineConfig) GenerateKey() bool {
	opts := m.BootstrapOptions()
	if !opts.Enabled || opts.OS != engine.GuestLinux {
		return false
	}
	if m.Bootstrap != nil && m.Bootstrap.GenerateKey != nil {
		return *m.Bootstrap.GenerateKey
	}
	return m.SSH == nil || m.SSH.PrivateKeyPath == ""
}

// Credentials returns the connection credentials without a private key.
// SSH settings win over the bootstrap user.
func (m MachineConfig) Credentials() engine.Credentials {
	opts := m.BootstrapOptions()
	creds := engine.Credentials{
		Username: opts.EffectiveUsername(),
		Password: opts.EffectivePassword(),
		Port:     engine.DefaultSSHPort,
	}

	if m.SSH != nil {
		if m.SSH.Username != "" {
			creds.Username = m.SSH.Username
		}
		if m.SSH.Password != "" {
			creds.Password = m.SSH.Password
		}
		if m.SSH.Port > 0 {
			creds.Port = m.SSH.Port
		}
	}

	return creds
}

// mergeMachine applies defaults d under machine m. Scalars set on the
// machine win; named lists merge by name with machine entries replacing
// defaults in place; genes are unioned.
func mergeMachine(d, m MachineConfig) MachineConfig {
	out := m

	out.Project = firstNonEmpty(m.Project, d.Project)
	out.Parent = firstNonEmpty(m.Parent, d.Parent)
	out.Hostname = firstNonEmpty(m.Hostname, d.Hostname)
	out.Location = firstNonEmpty(m.Location, d.Location)
	out.Environment = firstNonEmpty(m.Environment, d.Environment)
	out.Store = firstNonEmpty(m.Store, d.Store)
	out.StopMode = firstNonEmpty(m.StopMode, d.StopMode)

	if m.CPU == 0 {
		out.CPU = d.CPU
	}
	if m.Memory == nil && d.Memory != nil {
		mem := *d.Memory
		out.Memory = &mem
	}

	out.Capabilities = mergeNamed(d.Capabilities, m.Capabilities, func(c engine.Capability) string { return c.Name })
	out.Drives = mergeNamed(d.Drives, m.Drives, func(v engine.DriveSpec) string { return v.Name })
	out.Networks = mergeNamed(d.Networks, m.Networks, func(v engine.NetworkSpec) string { return v.Name })
	out.Variables = mergeNamed(d.Variables, m.Variables, func(v engine.VariableSpec) string { return v.Name })
	out.Fodder = mergeNamed(d.Fodder, m.Fodder, engine.FodderItem.Key)
	out.Genes = mergeNamed(d.Genes, m.Genes, func(s string) string { return s })

	out.Bootstrap = mergeBootstrap(d.Bootstrap, m.Bootstrap)
	out.SSH = mergeSSH(d.SSH, m.SSH)

	if len(m.Provision) == 0 {
		out.Provision = append([]ProvisionScript(nil), d.Provision...)
	}

	return out
}

// mergeNamed returns base with each override replacing the entry of the
// same key in place, or appended when new. The inputs are not modified.
func mergeNamed[T any](base, overrides []T, key func(T) string) []T {
	if len(base) == 0 && len(overrides) == 0 {
		return nil
	}

	out := make([]T, 0, len(base)+len(overrides))
	index := make(map[string]int, len(base)+len(overrides))
	for _, item := range base {
		k := key(item)
		if i, ok := index[k]; ok {
			out[i] = item
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}
	for _, item := range overrides {
		k := key(item)
		if i, ok := index[k]; ok {
			out[i] = item
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}
	return out
}

func mergeBootstrap(d, m *BootstrapConfig) *BootstrapConfig {
	if d == nil && m == nil {
		return nil
	}
	var out BootstrapConfig
	if d != nil {
		out = *d
	}
	if m == nil {
		return &out
	}

	if m.Enabled != nil {
		out.Enabled = m.Enabled
	}
	if m.RemoteAccess != nil {
		out.RemoteAccess = m.RemoteAccess
	}
	if m.GenerateKey != nil {
		out.GenerateKey = m.GenerateKey
	}
	out.OS = firstNonEmpty(m.OS, out.OS)
	out.Username = firstNonEmpty(m.Username, out.Username)
	out.Password = firstNonEmpty(m.Password, out.Password)
	out.AuthorizedKeys = mergeNamed(out.AuthorizedKeys, m.AuthorizedKeys, func(s string) string { return s })

	return &out
}

func mergeSSH(d, m *SSHConfig) *SSHConfig {
	if d == nil && m == nil {
		return nil
	}
	var out SSHConfig
	if d != nil {
		out = *d
	}
	if m == nil {
		return &out
	}

	out.Username = firstNonEmpty(m.Username, out.Username)
	out.Password = firstNonEmpty(m.Password, out.Password)
	out.PrivateKeyPath = firstNonEmpty(m.PrivateKeyPath, out.PrivateKeyPath)
	if m.Port > 0 {
		out.Port = m.Port
	}
	return &out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
