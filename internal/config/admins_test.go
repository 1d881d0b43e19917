package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/remotehub/internal/config"
)

func TestAdminDirectoryCompiledSeed(t *testing.T) {
	d := config.NewAdminDirectory()
	a, ok := d.Lookup("adminCLA")
	require.True(t, ok)
	assert.Equal(t, []string{"CLA1", "CLA2"}, a.AllowedTenants)
	assert.NotEmpty(t, a.PasswordHash)

	_, ok = d.Lookup("nobody")
	assert.False(t, ok)
}

func TestAdminDirectoryOverlayTakesPrecedence(t *testing.T) {
	d := config.NewAdminDirectory()
	dir := t.TempDir()
	path := filepath.Join(dir, "admins.yaml")
	yamlContent := `
admins:
  - username: adminCLA
    password_hash: "$argon2id$v=19$m=65536,t=1,p=4$abc$def"
    allowed_tenants: ["CLA9"]
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))
	require.NoError(t, d.LoadOverlay(path))

	a, ok := d.Lookup("adminCLA")
	require.True(t, ok)
	assert.Equal(t, []string{"CLA9"}, a.AllowedTenants)
}

func TestAdminDirectoryOverlayMissingFileClears(t *testing.T) {
	d := config.NewAdminDirectory()
	require.NoError(t, d.LoadOverlay(filepath.Join(t.TempDir(), "missing.yaml")))

	a, ok := d.Lookup("adminCLA")
	require.True(t, ok)
	assert.Equal(t, []string{"CLA1", "CLA2"}, a.AllowedTenants)
}
