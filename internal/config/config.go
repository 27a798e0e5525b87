// Package config resolves the application settings. Values are layered:
// built-in defaults, then the YAML config file, then DOCCHAT_* environment
// variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	DefaultGlamourStyle = "dark"
	DefaultAPIBaseURL   = "http://localhost:8000/api"
	DefaultTimeout      = 60 * time.Second

	EnvConfig    = "DOCCHAT_CONFIG"
	EnvAPIURL    = "DOCCHAT_API_URL"
	EnvToken     = "DOCCHAT_TOKEN"
	EnvTokenFile = "DOCCHAT_TOKEN_FILE"

	appName = "docchat"
)

type AppConfig struct {
	APIBaseURL   string        `yaml:"api_url"`
	Token        string        `yaml:"token"`
	TokenFile    string        `yaml:"token_file"`
	PrefsBackend string        `yaml:"prefs_backend"`
	PrefsPath    string        `yaml:"prefs_path"`
	ExportDir    string        `yaml:"export_dir"`
	LogPath      string        `yaml:"log_path"`
	Timeout      time.Duration `yaml:"timeout"`
	ExtraModels  []string      `yaml:"extra_models"`
	GlamourStyle string        `yaml:"glamour_style"`
	Verbose      bool          `yaml:"verbose"`

	// ConfigPath is the file the values were read from, empty when none was.
	ConfigPath string `yaml:"-"`
}

func Defaults() AppConfig {
	return AppConfig{
		APIBaseURL:   DefaultAPIBaseURL,
		PrefsBackend: "sqlite",
		Timeout:      DefaultTimeout,
		GlamourStyle: DefaultGlamourStyle,
	}
}

// Flags holds the command-line layer. Only flags the user actually set
// override the file and environment.
type Flags struct {
	fs     *pflag.FlagSet
	values AppConfig
	config string

	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// BindFlags registers the shared flags on fs, typically a cobra command's
// persistent flag set.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs, LookupEnv: os.LookupEnv}
	fs.StringVar(&f.config, "config", "", "path to config.yaml (default ~/.config/docchat/config.yaml)")
	fs.StringVar(&f.values.APIBaseURL, "api-url", "", "conversation backend base URL")
	fs.StringVar(&f.values.Token, "token", "", "bearer token for the backend")
	fs.StringVar(&f.values.TokenFile, "token-file", "", "file holding the bearer token, re-read per request")
	fs.StringVar(&f.values.PrefsBackend, "prefs-backend", "", "preferences storage: sqlite, bolt or memory")
	fs.StringVar(&f.values.PrefsPath, "prefs-path", "", "path to the preferences database")
	fs.StringVar(&f.values.ExportDir, "export-dir", "", "override export output directory")
	fs.StringVar(&f.values.LogPath, "log-file", "", "write logs to this file")
	fs.DurationVar(&f.values.Timeout, "timeout", 0, "per-request timeout")
	fs.StringSliceVar(&f.values.ExtraModels, "extra-model", nil, "extra model names offered in settings (repeatable)")
	fs.BoolVarP(&f.values.Verbose, "verbose", "v", false, "debug logging")
	return f
}

// Load resolves the final configuration. Call it after flags are parsed.
func (f *Flags) Load() (AppConfig, error) {
	cfg := Defaults()
	lookup := f.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	path, explicit := f.config, f.config != ""
	if !explicit {
		if v, ok := lookup(EnvConfig); ok && v != "" {
			path, explicit = v, true
		}
	}
	if !explicit {
		p, err := DefaultConfigPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}
	found, err := readFile(path, &cfg)
	if err != nil {
		return cfg, err
	}
	if found {
		cfg.ConfigPath = path
	} else if explicit {
		return cfg, fmt.Errorf("config file %s not found", path)
	}

	if v, ok := lookup(EnvAPIURL); ok && v != "" {
		cfg.APIBaseURL = v
	}
	if v, ok := lookup(EnvToken); ok && v != "" {
		cfg.Token = v
	}
	if v, ok := lookup(EnvTokenFile); ok && v != "" {
		cfg.TokenFile = v
	}

	f.applyChanged(&cfg)
	return finalize(cfg)
}

func (f *Flags) applyChanged(cfg *AppConfig) {
	changed := func(name string) bool {
		fl := f.fs.Lookup(name)
		return fl != nil && fl.Changed
	}
	if changed("api-url") {
		cfg.APIBaseURL = f.values.APIBaseURL
	}
	if changed("token") {
		cfg.Token = f.values.Token
	}
	if changed("token-file") {
		cfg.TokenFile = f.values.TokenFile
	}
	if changed("prefs-backend") {
		cfg.PrefsBackend = f.values.PrefsBackend
	}
	if changed("prefs-path") {
		cfg.PrefsPath = f.values.PrefsPath
	}
	if changed("export-dir") {
		cfg.ExportDir = f.values.ExportDir
	}
	if changed("log-file") {
		cfg.LogPath = f.values.LogPath
	}
	if changed("timeout") {
		cfg.Timeout = f.values.Timeout
	}
	if changed("extra-model") {
		cfg.ExtraModels = append(cfg.ExtraModels, f.values.ExtraModels...)
	}
	if changed("verbose") {
		cfg.Verbose = f.values.Verbose
	}
}

func readFile(path string, cfg *AppConfig) (bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return false, fmt.Errorf("parse config %s: %w", path, err)
	}
	return true, nil
}

func finalize(cfg AppConfig) (AppConfig, error) {
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.Timeout <= 0 {
		return cfg, fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	cfg.PrefsBackend = strings.ToLower(strings.TrimSpace(cfg.PrefsBackend))
	switch cfg.PrefsBackend {
	case "", "sqlite":
		cfg.PrefsBackend = "sqlite"
	case "bolt", "memory":
	default:
		return cfg, fmt.Errorf("unknown prefs backend %q", cfg.PrefsBackend)
	}
	if cfg.PrefsPath == "" && cfg.PrefsBackend != "memory" {
		dir, err := DataDir()
		if err != nil {
			return cfg, err
		}
		name := "prefs.sqlite"
		if cfg.PrefsBackend == "bolt" {
			name = "prefs.bolt"
		}
		cfg.PrefsPath = filepath.Join(dir, name)
	}
	if cfg.PrefsPath != "" {
		cfg.PrefsPath = expandHome(cfg.PrefsPath)
	}
	if cfg.TokenFile != "" {
		cfg.TokenFile = expandHome(cfg.TokenFile)
	}
	if cfg.ExportDir != "" {
		cfg.ExportDir = expandHome(cfg.ExportDir)
	}
	if cfg.LogPath == "" {
		dir, err := DataDir()
		if err != nil {
			return cfg, err
		}
		cfg.LogPath = filepath.Join(dir, "docchat.log")
	} else {
		cfg.LogPath = expandHome(cfg.LogPath)
	}
	if cfg.GlamourStyle == "" {
		cfg.GlamourStyle = DefaultGlamourStyle
	}
	return cfg, nil
}

func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", appName, "config.yaml"), nil
}

// DataDir is where the preferences database and log live.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", appName), nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return filepath.Clean(p)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Clean(p)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
