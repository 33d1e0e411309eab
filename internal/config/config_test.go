package config

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port":"9000","writable":true}`), 0o600))

	cfg := Default()
	require.NoError(t, LoadFile(cfg, path))

	assert.Equal(t, "9000", cfg.Port)
	assert.True(t, cfg.Writable)
	assert.Equal(t, "xterm-256color", cfg.TerminalType, "unset fields keep their defaults")
}

func TestLoadFileYAMLMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"9100\"\nwritable: true\n"), 0o600))

	cfg := Default()
	require.NoError(t, LoadFile(cfg, path))

	assert.Equal(t, "9100", cfg.Port)
	assert.True(t, cfg.Writable)
}

func TestLoadFileEmptyPathIsNoop(t *testing.T) {
	cfg := Default()
	require.NoError(t, LoadFile(cfg, ""))
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileMissingPathErrors(t *testing.T) {
	cfg := Default()
	err := LoadFile(cfg, "/nonexistent/gottyd-config.json")
	assert.Error(t, err)
}

func TestParseSignalByName(t *testing.T) {
	sig, err := ParseSignal("SIGHUP")
	require.NoError(t, err)
	assert.Equal(t, syscall.SIGHUP, sig)

	sig, err = ParseSignal("TERM")
	require.NoError(t, err)
	assert.Equal(t, syscall.SIGTERM, sig)
}

func TestParseSignalByNumber(t *testing.T) {
	sig, err := ParseSignal("9")
	require.NoError(t, err)
	assert.Equal(t, syscall.SIGKILL, sig)
}

func TestParseSignalUnknown(t *testing.T) {
	_, err := ParseSignal("NOTASIGNAL")
	assert.Error(t, err)
}

func TestParseClientOptions(t *testing.T) {
	raw, err := ParseClientOptions([]string{"fontSize=14", "theme=dark"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"fontSize":"14","theme":"dark"}`, string(raw))
}

func TestParseClientOptionsMalformed(t *testing.T) {
	_, err := ParseClientOptions([]string{"noequals"})
	assert.Error(t, err)
}

func TestParseCredential(t *testing.T) {
	user, pass, err := ParseCredential("alice:secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "secret", pass)
}

func TestParseCredentialMalformed(t *testing.T) {
	_, _, err := ParseCredential("nocolon")
	assert.Error(t, err)
}

func TestResolveIndexPathExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	resolved, err := ResolveIndexPath("~/index.html")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "index.html"), resolved)
}

func TestResolveIndexPathLeavesAbsolute(t *testing.T) {
	resolved, err := ResolveIndexPath("/etc/gottyd/index.html")
	require.NoError(t, err)
	assert.Equal(t, "/etc/gottyd/index.html", resolved)
}
