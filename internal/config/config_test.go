package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, env map[string]string, args ...string) *Flags {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f := BindFlags(fs)
	f.LookupEnv = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	require.NoError(t, fs.Parse(args))
	return f
}

func TestLoadDefaults(t *testing.T) {
	f := newFlags(t, nil)
	cfg, err := f.Load()
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	assert.Equal(t, DefaultAPIBaseURL, cfg.APIBaseURL)
	assert.Equal(t, "sqlite", cfg.PrefsBackend)
	assert.Equal(t, filepath.Join(home, ".local", "share", "docchat", "prefs.sqlite"), cfg.PrefsPath)
	assert.Equal(t, filepath.Join(home, ".local", "share", "docchat", "docchat.log"), cfg.LogPath)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultGlamourStyle, cfg.GlamourStyle)
	assert.Empty(t, cfg.ConfigPath)
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_url: http://file.example/api/
token: from-file
prefs_backend: bolt
timeout: 5s
extra_models: [llama]
`), 0o644))

	env := map[string]string{
		EnvToken:  "from-env",
		EnvAPIURL: "http://env.example/api",
	}
	f := newFlags(t, env, "--config", path, "--api-url", "http://flag.example/api", "--extra-model", "mistral")
	cfg, err := f.Load()
	require.NoError(t, err)

	assert.Equal(t, path, cfg.ConfigPath)
	assert.Equal(t, "http://flag.example/api", cfg.APIBaseURL, "flags beat env")
	assert.Equal(t, "from-env", cfg.Token, "env beats file")
	assert.Equal(t, "bolt", cfg.PrefsBackend)
	assert.Equal(t, "prefs.bolt", filepath.Base(cfg.PrefsPath))
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"llama", "mistral"}, cfg.ExtraModels)
}

func TestLoadUnchangedFlagsDoNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("verbose: true\ntimeout: 2m\n"), 0o644))

	cfg, err := newFlags(t, map[string]string{EnvConfig: path}).Load()
	require.NoError(t, err)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
}

func TestLoadErrors(t *testing.T) {
	_, err := newFlags(t, nil, "--config", filepath.Join(t.TempDir(), "missing.yaml")).Load()
	assert.Error(t, err)

	_, err = newFlags(t, nil, "--prefs-backend", "redis").Load()
	assert.Error(t, err)

	_, err = newFlags(t, nil, "--timeout=-1s").Load()
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("timeout: [nope"), 0o644))
	_, err = newFlags(t, nil, "--config", bad).Load()
	assert.Error(t, err)
}

func TestMemoryBackendHasNoPath(t *testing.T) {
	cfg, err := newFlags(t, nil, "--prefs-backend", "memory").Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.PrefsPath)
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	assert.Equal(t, filepath.Join(home, "x", "y"), expandHome("~/x/y"))
	assert.Equal(t, "/abs/p", expandHome("/abs//p"))
}
