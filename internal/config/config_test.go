package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, cfg Config) string {
	t.Helper()
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	p := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(p, b, 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvToken, "")

	cfg, err := Load(nil)
	require.NoError(t, err)

	wd, _ := os.Getwd()
	assert.Equal(t, wd, cfg.Root)
	assert.Equal(t, 8000, cfg.Port)
	assert.True(t, cfg.TokenGenerated)
	assert.NotEmpty(t, cfg.Token)
}

func TestGeneratedTokensDiffer(t *testing.T) {
	t.Setenv(EnvToken, "")

	a, err := Load(nil)
	require.NoError(t, err)
	b, err := Load(nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)
}

func TestEnvToken(t *testing.T) {
	t.Setenv(EnvToken, "from-env")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Token)
	assert.False(t, cfg.TokenGenerated)
}

func TestConfigFile(t *testing.T) {
	t.Setenv(EnvToken, "")
	p := writeConfigFile(t, Config{Root: "/srv/files", Port: 9000, Token: "from-file"})

	cfg, err := Load([]string{"-config", p})
	require.NoError(t, err)
	assert.Equal(t, "/srv/files", cfg.Root)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "from-file", cfg.Token)
}

func TestFlagBeatsFileBeatsEnv(t *testing.T) {
	t.Setenv(EnvToken, "from-env")
	p := writeConfigFile(t, Config{Port: 9000, Token: "from-file"})

	cfg, err := Load([]string{"-config", p, "-port", "9100", "-token", "from-flag"})
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "from-flag", cfg.Token)

	// File beats env when the flag is absent.
	cfg, err = Load([]string{"-config", p})
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Token)
}

func TestTokenFlagClearsFileHash(t *testing.T) {
	t.Setenv(EnvToken, "")
	p := writeConfigFile(t, Config{TokenBcrypt: "$2a$10$notarealhash"})

	cfg, err := Load([]string{"-config", p, "-token", "plain"})
	require.NoError(t, err)
	assert.Equal(t, "plain", cfg.Token)
	assert.Empty(t, cfg.TokenBcrypt)
}

func TestLoadBadConfigFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(p, []byte("{not json"), 0o600))

	_, err := Load([]string{"-config", p})
	assert.Error(t, err)

	_, err = Load([]string{"-config", filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)
}

func TestFinalizeCanonicalizesRoot(t *testing.T) {
	dir := t.TempDir()
	real, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	cfg := Config{Root: dir}
	require.NoError(t, cfg.Finalize())
	assert.Equal(t, real, cfg.Root)
	assert.True(t, filepath.IsAbs(cfg.Root))
}

func TestFinalizeRejectsFileRoot(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	cfg := Config{Root: p}
	assert.Error(t, cfg.Finalize())
}

func TestFinalizeRejectsMissingRoot(t *testing.T) {
	cfg := Config{Root: filepath.Join(t.TempDir(), "nope")}
	assert.Error(t, cfg.Finalize())
}
