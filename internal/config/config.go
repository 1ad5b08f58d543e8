package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level d20meter configuration.
type Config struct {
	DBPath        string        `mapstructure:"db_path"`
	Owner         string        `mapstructure:"owner"`
	RosterPath    string        `mapstructure:"roster_path"`
	Session       Session       `mapstructure:"session"`
	Normalizer    Normalizer    `mapstructure:"normalizer"`
	Feed          Feed          `mapstructure:"feed"`
	Notifications Notifications `mapstructure:"notifications"`
	Output        Output        `mapstructure:"output"`
	Log           Log           `mapstructure:"log"`
}

// Session defines the session lifecycle policy.
type Session struct {
	ClosePreviousOnCreate bool `mapstructure:"close_previous_on_create"`
	AutoStartMinUsers     int  `mapstructure:"auto_start_min_users"`
}

// Normalizer defines the markers used to recognize special rolls.
type Normalizer struct {
	StratagemFlavor  string   `mapstructure:"stratagem_flavor"`
	KnowledgeMarkers []string `mapstructure:"knowledge_markers"`
	KnowledgeDomain  string   `mapstructure:"knowledge_domain"`
}

// Feed defines how the event feed is followed.
type Feed struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Notifications defines where user-visible messages go.
type Notifications struct {
	Desktop bool `mapstructure:"desktop"`
}

// Output defines output preferences.
type Output struct {
	Color bool `mapstructure:"color"`
	Width int  `mapstructure:"width"`
}

// Log defines structured logging preferences.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Load reads configuration from the given path (or the default location)
// and returns a Config with all defaults applied. Environment variables
// prefixed D20METER_ override file values.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	// Set defaults.
	v.SetDefault("db_path", filepath.Join(DefaultConfigDir, DefaultDBName))
	v.SetDefault("owner", "")
	v.SetDefault("roster_path", filepath.Join(DefaultConfigDir, DefaultRosterName))
	v.SetDefault("session.close_previous_on_create", DefaultSession.ClosePreviousOnCreate)
	v.SetDefault("session.auto_start_min_users", DefaultSession.AutoStartMinUsers)
	v.SetDefault("normalizer.stratagem_flavor", DefaultNormalizer.StratagemFlavor)
	v.SetDefault("normalizer.knowledge_markers", DefaultNormalizer.KnowledgeMarkers)
	v.SetDefault("normalizer.knowledge_domain", DefaultNormalizer.KnowledgeDomain)
	v.SetDefault("feed.interval", DefaultFeed.Interval)
	v.SetDefault("notifications.desktop", false)
	v.SetDefault("output.color", DefaultOutput.Color)
	v.SetDefault("output.width", DefaultOutput.Width)
	v.SetDefault("log.level", DefaultLog.Level)
	v.SetDefault("log.format", DefaultLog.Format)

	v.SetEnvPrefix("d20meter")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(expandPath(cfgFile))
	} else {
		configDir := expandPath(DefaultConfigDir)
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Read config file if it exists; missing file is not an error.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Only return error for problems other than file not found.
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Expand paths.
	cfg.DBPath = expandPath(cfg.DBPath)
	cfg.RosterPath = expandPath(cfg.RosterPath)

	return &cfg, nil
}

// ConfigDir returns the expanded configuration directory.
func ConfigDir() string {
	return expandPath(DefaultConfigDir)
}

// PIDPath returns the watch daemon's PID file path.
func PIDPath() string {
	return filepath.Join(ConfigDir(), DefaultPIDName)
}
