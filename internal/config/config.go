package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Update policy modes. The mode decides whether and when the daemon
// checks for updates on its own.
const (
	ModeNone    = "none"
	ModeManual  = "manual"
	ModeStart   = "start"
	ModeDefault = "default"
)

// Installation targets.
const (
	TargetUser   = "user"
	TargetSystem = "system"
)

// DisableUpdatesEnv disables the whole update subsystem when set to a
// non-empty value, regardless of configuration.
const DisableUpdatesEnv = "SIID_DISABLE_UPDATES"

type Config struct {
	UpdateURL      string `mapstructure:"update_url"`
	Quality        string `mapstructure:"quality"`
	Commit         string `mapstructure:"commit"`
	CurrentVersion string `mapstructure:"current_version"`
	Mode           string `mapstructure:"mode"`
	Target         string `mapstructure:"target"`
	FastUpdate     bool   `mapstructure:"fast_update"`
	RequireNewer   bool   `mapstructure:"require_newer"`
	GitHubFeed     bool   `mapstructure:"github_feed"`
	QueryVariant   bool   `mapstructure:"query_variant"`
	InstallPath    string `mapstructure:"install_path"`
	CachePath      string `mapstructure:"cache_path"`
	LogFormat      string `mapstructure:"log_format"`
	LogLevel       string `mapstructure:"log_level"`
}

func Default() *Config {
	return &Config{
		Quality:      "stable",
		Mode:         ModeDefault,
		Target:       TargetSystem,
		RequireNewer: true,
		LogFormat:    "text",
		LogLevel:     "info",
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("updater")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SIID")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("update_url", cfg.UpdateURL)
	viper.Set("quality", cfg.Quality)
	viper.Set("commit", cfg.Commit)
	viper.Set("current_version", cfg.CurrentVersion)
	viper.Set("mode", cfg.Mode)
	viper.Set("target", cfg.Target)
	viper.Set("fast_update", cfg.FastUpdate)
	viper.Set("require_newer", cfg.RequireNewer)
	viper.Set("github_feed", cfg.GitHubFeed)
	viper.Set("query_variant", cfg.QueryVariant)
	viper.Set("install_path", cfg.InstallPath)
	viper.Set("cache_path", cfg.CachePath)
	viper.Set("log_format", cfg.LogFormat)
	viper.Set("log_level", cfg.LogLevel)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "updater.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

// UpdatesDisabledByEnvironment reports whether updates are switched off
// at the environment level.
func UpdatesDisabledByEnvironment() bool {
	return os.Getenv(DisableUpdatesEnv) != ""
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "SIID")
	case "darwin":
		return "/Library/Application Support/SIID"
	default:
		return "/etc/siid"
	}
}

// DefaultCacheDir returns the per-quality, per-architecture artifact
// cache directory used when cache_path is not configured.
func DefaultCacheDir(quality string) string {
	base := os.TempDir()
	switch runtime.GOOS {
	case "windows":
		if d := os.Getenv("LOCALAPPDATA"); d != "" {
			base = filepath.Join(d, "SIID")
		}
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			base = filepath.Join(home, "Library", "Caches", "SIID")
		}
	default:
		if home, err := os.UserHomeDir(); err == nil {
			base = filepath.Join(home, ".cache", "siid")
		}
	}
	return filepath.Join(base, "updates-"+quality+"-"+runtime.GOARCH)
}
