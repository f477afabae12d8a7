package engine

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func baseSpec() CatletSpec {
	return CatletSpec{
		Name:   "web-1",
		Parent: "dbosoft/ubuntu-22.04/starter",
		CPU:    &CPUSpec{Count: 2},
		Memory: &MemorySpec{Startup: 1024},
	}
}

func fodderNames(items []ResolvedFodder) []string {
	out := make([]string, len(items))
	for i, f := range items {
		if f.Name != "" {
			out[i] = f.Name
		} else {
			out[i] = f.Source
		}
	}
	return out
}

func TestResolveAutoOnly(t *testing.T) {
	auto, err := BootstrapFodder(BootstrapOptions{Enabled: true, OS: GuestLinux})
	require.NoError(t, err)

	req, err := NewResolver().Resolve(baseSpec(), auto, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{FodderUserSetup}, fodderNames(req.Fodder))
	assert.Equal(t, FodderCloudConfig, req.Fodder[0].Type)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(req.Fodder[0].Content), &doc))
	users, ok := doc["users"].([]any)
	require.True(t, ok)
	require.Len(t, users, 1)
	user := users[0].(map[string]any)
	assert.Equal(t, DefaultBootstrapUser, user["name"])
	assert.Equal(t, DefaultLinuxPassword, user["plain_text_passwd"])
}

func TestResolveUserReplacesAutoInPlace(t *testing.T) {
	auto, err := BootstrapFodder(BootstrapOptions{Enabled: true, OS: GuestLinux, EnableRemoteAccess: true})
	require.NoError(t, err)
	require.Len(t, auto, 2)

	user := []FodderItem{
		{Name: FodderUserSetup, Content: "#cloud-config\nusers: []\n"},
		{Name: "motd", Type: FodderShellScript, Content: "#!/bin/sh\necho hi > /etc/motd\n"},
	}

	req, err := NewResolver().Resolve(baseSpec(), auto, user, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{FodderUserSetup, FodderSSHSetup, "motd"}, fodderNames(req.Fodder))
	assert.Equal(t, "#cloud-config\nusers: []\n", req.Fodder[0].Content)
	assert.Equal(t, FodderCloudConfig, req.Fodder[0].Type, "empty type defaults to cloud-config")
	assert.Equal(t, FodderShellScript, req.Fodder[2].Type)
}

func TestResolveTemplateOrderingAndDedup(t *testing.T) {
	auto := []FodderItem{{Name: "base", Content: "#cloud-config\n{}\n"}}
	templates := []FodderItem{
		{Source: "gene:dbosoft/starter-food:win-starter"},
		{Source: "gene:dbosoft/guest-services:linux-install"},
		{Source: "gene:dbosoft/starter-food:win-starter"},
	}
	user := []FodderItem{{Name: "extra", Content: "#!/bin/sh\n", Type: FodderShellScript}}

	req, err := NewResolver().Resolve(baseSpec(), auto, user, templates)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"base",
		"gene:dbosoft/starter-food:win-starter",
		"gene:dbosoft/guest-services:linux-install",
		"extra",
	}, fodderNames(req.Fodder))
	assert.Empty(t, req.Fodder[1].Type, "gene references keep the remote type")
}

func TestResolveTemplateAlreadyInAuto(t *testing.T) {
	auto := []FodderItem{{Source: "gene:dbosoft/guest-services:linux-install"}}
	templates := []FodderItem{{Source: "gene:dbosoft/guest-services:linux-install"}}

	req, err := NewResolver().Resolve(baseSpec(), auto, nil, templates)
	require.NoError(t, err)
	assert.Len(t, req.Fodder, 1)
}

func TestResolveUserReplacesTemplateBySource(t *testing.T) {
	templates := []FodderItem{{Source: "gene:dbosoft/guest-services:linux-install"}}
	user := []FodderItem{{
		Source:    "gene:dbosoft/guest-services:linux-install",
		Variables: []VariableSpec{{Name: "version", Value: "2"}},
	}}

	req, err := NewResolver().Resolve(baseSpec(), nil, user, templates)
	require.NoError(t, err)
	require.Len(t, req.Fodder, 1)
	assert.Equal(t, []VariableSpec{{Name: "version", Value: "2"}}, req.Fodder[0].Variables)
}

func TestResolveIsDeterministic(t *testing.T) {
	auto, err := BootstrapFodder(BootstrapOptions{
		Enabled:            true,
		OS:                 GuestLinux,
		AuthorizedKeys:     []string{"ssh-ed25519 AAAA test"},
		EnableRemoteAccess: true,
	})
	require.NoError(t, err)
	user := []FodderItem{{Name: "packages", Data: map[string]any{
		"packages":        []any{"nginx", "curl"},
		"package_upgrade": true,
		"write_files":     []any{map[string]any{"path": "/etc/x", "content": "y"}},
	}}}
	templates := []FodderItem{{Source: "gene:dbosoft/starter-food:linux-starter"}}

	r := NewResolver()
	first, err := r.Resolve(baseSpec(), auto, user, templates)
	require.NoError(t, err)
	second, err := r.Resolve(baseSpec(), auto, user, templates)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestResolveDoesNotMutateInputs(t *testing.T) {
	spec := baseSpec()
	spec.Capabilities = []Capability{{Name: "nested_virtualization"}, {Name: "nested_virtualization", Details: []string{"off"}}}
	user := []FodderItem{{Name: FodderUserSetup, Content: "x"}}
	auto := []FodderItem{{Name: FodderUserSetup, Content: "y"}}

	_, err := NewResolver().Resolve(spec, auto, user, nil)
	require.NoError(t, err)

	assert.Equal(t, "y", auto[0].Content)
	assert.Len(t, spec.Capabilities, 2)
}

func TestResolveCapabilities(t *testing.T) {
	spec := baseSpec()
	spec.Memory = &MemorySpec{Startup: 1024, Minimum: 512, Maximum: 4096}
	spec.Capabilities = []Capability{
		{Name: CapabilityNestedVirtualization},
		{Name: CapabilitySecureBoot, Details: []string{"template:MicrosoftUEFICertificateAuthority"}},
		{Name: CapabilityNestedVirtualization, Details: []string{"disabled"}},
	}

	req, err := NewResolver().Resolve(spec, nil, nil, nil)
	require.NoError(t, err)

	require.Len(t, req.Spec.Capabilities, 3)
	assert.Equal(t, CapabilitySecureBoot, req.Spec.Capabilities[0].Name)
	assert.Equal(t, CapabilityNestedVirtualization, req.Spec.Capabilities[1].Name)
	assert.Equal(t, []string{"disabled"}, req.Spec.Capabilities[1].Details)
	assert.Equal(t, CapabilityDynamicMemory, req.Spec.Capabilities[2].Name)
}

func TestResolveRejectsInvalidSpecs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CatletSpec)
		detail string
	}{
		{"missing name", func(s *CatletSpec) { s.Name = "" }, "CatletSpec.Name"},
		{"missing parent", func(s *CatletSpec) { s.Parent = "" }, "CatletSpec.Parent"},
		{"zero cpu", func(s *CatletSpec) { s.CPU = &CPUSpec{Count: 0} }, "Count"},
		{"bad drive type", func(s *CatletSpec) { s.Drives = []DriveSpec{{Name: "sda", Type: "floppy"}} }, "Type"},
		{"startup over maximum", func(s *CatletSpec) { s.Memory = &MemorySpec{Startup: 8192, Maximum: 4096} }, "exceeds maximum"},
		{"minimum over startup", func(s *CatletSpec) { s.Memory = &MemorySpec{Startup: 512, Minimum: 1024} }, "exceeds startup"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := baseSpec()
			tt.mutate(&spec)

			_, err := NewResolver().Resolve(spec, nil, nil, nil)
			require.Error(t, err)
			assert.True(t, IsConfiguration(err))

			var e *Error
			require.True(t, errors.As(err, &e))
			assert.Contains(t, e.Error(), tt.detail)
		})
	}
}

func TestResolveRejectsInvalidFodder(t *testing.T) {
	tests := []struct {
		name      string
		user      []FodderItem
		templates []FodderItem
	}{
		{"content and source", []FodderItem{{Name: "a", Content: "x", Source: "gene:a/b:c"}}, nil},
		{"data and content", []FodderItem{{Name: "a", Content: "x", Data: map[string]any{"a": 1}}}, nil},
		{"anonymous", []FodderItem{{Content: "x"}}, nil},
		{"bad source", []FodderItem{{Source: "http://example.com/x"}}, nil},
		{"bad type", []FodderItem{{Name: "a", Type: "powershell", Content: "x"}}, nil},
		{"template without source", nil, []FodderItem{{Name: "a", Content: "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver().Resolve(baseSpec(), nil, tt.user, tt.templates)
			require.Error(t, err)
			assert.True(t, IsConfiguration(err))
		})
	}
}

func TestResolveTarget(t *testing.T) {
	target := &Target{
		Spec:       baseSpec(),
		Bootstrap:  BootstrapOptions{Enabled: true, OS: GuestWindows, Username: "admin"},
		UserFodder: []FodderItem{{Name: "extra", Type: FodderShellScript, Content: "#ps1\n"}},
	}

	req, err := NewResolver().ResolveTarget(target)
	require.NoError(t, err)
	assert.Equal(t, []string{FodderUserSetupWindows, "extra"}, fodderNames(req.Fodder))
	assert.Contains(t, req.Fodder[0].Content, "admin")
	assert.Contains(t, req.Fodder[0].Content, DefaultWindowsPassword)

	target.Bootstrap.OS = "plan9"
	_, err = NewResolver().ResolveTarget(target)
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
}
