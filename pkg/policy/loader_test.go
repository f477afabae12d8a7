package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromPaths(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"naming.rego":      "# Names must be short.\npackage team.naming\n\n# inner comment\ndeny contains \"x\" if { false }\n",
		"naming_test.rego": "package team.naming_test\n",
		"limits.json":      `{"name": "json-limits", "rego": "package team.limits\n", "severity": "error"}`,
		"README.md":        "ignored",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{dir})
	require.NoError(t, err)
	require.Len(t, policies, 2)

	byName := map[string]Policy{}
	for _, p := range policies {
		byName[p.Name] = p
	}

	naming := byName["naming"]
	assert.Equal(t, "Names must be short.", naming.Description)
	assert.Equal(t, SeverityWarning, naming.Severity)
	assert.True(t, naming.Enabled)
	assert.Equal(t, filepath.Join(dir, "naming.rego"), naming.Source)

	limits := byName["json-limits"]
	assert.Equal(t, SeverityError, limits.Severity)
	assert.True(t, limits.Enabled)
}

func TestLoadFromPathsErrors(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	_, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"rego": "package x"}`), 0o644))
	_, err = loader.LoadFromPaths(context.Background(), []string{bad})
	assert.ErrorContains(t, err, "no name")

	txt := filepath.Join(dir, "policy.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))
	_, err = loader.LoadFromPaths(context.Background(), []string{txt})
	assert.ErrorContains(t, err, "unsupported file type")
}

func TestSeverityValidate(t *testing.T) {
	for _, s := range []Severity{SeverityInfo, SeverityWarning, SeverityError} {
		assert.NoError(t, s.Validate())
	}
	assert.Error(t, Severity("critical").Validate())
	assert.True(t, SeverityError.Blocking())
	assert.False(t, SeverityWarning.Blocking())
}
