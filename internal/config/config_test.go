package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaultsAndGeneratesSelfID(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	require.Equal(t, 20, cfg.K)
	require.Equal(t, 3, cfg.Alpha)
	require.Len(t, cfg.SelfID, 40)
}

func TestLoadOverridesDefaultsFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kadnode.toml")
	content := `
k = 8
alpha = 2
bind_addr = "127.0.0.1:4000"
self_id = "000000000000000000000000000000000000000a"
bootstrap_peers = ["10.0.0.1:4000", "10.0.0.2:4000"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.K)
	require.Equal(t, 2, cfg.Alpha)
	require.Equal(t, "127.0.0.1:4000", cfg.BindAddr)
	require.Equal(t, []string{"10.0.0.1:4000", "10.0.0.2:4000"}, cfg.BootstrapPeers)
}

func TestLoadRejectsBadSelfID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kadnode.toml")
	require.NoError(t, os.WriteFile(path, []byte(`self_id = "tooshort"`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadBootstrapPeersYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- 10.0.0.1:4000\n- 10.0.0.2:4000\n"), 0o644))

	peers, err := LoadBootstrapPeersYAML(path)
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1:4000", "10.0.0.2:4000"}, peers)
}
