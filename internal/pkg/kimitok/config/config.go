package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	RepoID        string        `mapstructure:"repo_id"`
	Revision      string        `mapstructure:"revision"`
	CacheDir      string        `mapstructure:"cache_dir"`
	InputPath     string        `mapstructure:"input"`
	SpecialPolicy string        `mapstructure:"special_policy"`
	DownloadOnly  bool          `mapstructure:"download_only"`
	Serve         bool          `mapstructure:"serve"`
	Listen        string        `mapstructure:"listen"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	Workers       int           `mapstructure:"workers"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFile       string        `mapstructure:"log_file"`
}

func LoadAndParse() (*Config, error) {
	viper.SetDefault("repo_id", "moonshotai/Kimi-K2-Thinking")
	viper.SetDefault("revision", "612681931a8c906ddb349f8ad0f582cb552189cd")
	viper.SetDefault("cache_dir", "models/kimi")
	viper.SetDefault("input", "")
	viper.SetDefault("special_policy", "")
	viper.SetDefault("listen", "127.0.0.1:11660")
	viper.SetDefault("fetch_timeout", 2*time.Minute)
	viper.SetDefault("workers", 0)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_file", "")

	flagSet := pflag.NewFlagSet("kimitok", pflag.ContinueOnError)
	configFile := flagSet.StringP("config", "c", "", "Path to config file")
	flagSet.String("repo-id", "", "Hub repository holding the tokenizer artifacts")
	flagSet.String("revision", "", "Repository revision to pin")
	flagSet.String("cache-dir", "", "Directory for downloaded artifacts")
	flagSet.StringP("input", "i", "", "Tokenize request JSON file ('-' or empty reads stdin)")
	flagSet.String("special-policy", "", "Special-token policy override (forbid, allow, plain)")
	flagSet.Bool("download-only", false, "Download artifacts and exit")
	flagSet.Bool("serve", false, "Serve the tokenizer over HTTP instead of reading one request")
	flagSet.String("listen", "", "Listen address for --serve")
	flagSet.Duration("fetch-timeout", 2*time.Minute, "Timeout for artifact downloads")
	flagSet.Int("workers", 0, "Parallel encoders per batch (0 = number of CPUs)")
	flagSet.StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	flagSet.String("log-file", "", "Log file path")
	helpFlag := flagSet.BoolP("help", "h", false, "Show help message")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if *helpFlag {
		fmt.Fprintf(os.Stderr, "Usage: kimitok [options]\n\nOptions:\n")
		flagSet.PrintDefaults()
		os.Exit(0)
	}

	bindings := map[string]string{
		"repo_id":        "repo-id",
		"revision":       "revision",
		"cache_dir":      "cache-dir",
		"input":          "input",
		"special_policy": "special-policy",
		"download_only":  "download-only",
		"serve":          "serve",
		"listen":         "listen",
		"fetch_timeout":  "fetch-timeout",
		"workers":        "workers",
		"log_level":      "log-level",
		"log_file":       "log-file",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, flagSet.Lookup(flag)); err != nil {
			return nil, err
		}
	}

	if *configFile != "" {
		viper.SetConfigFile(*configFile)
	} else {
		viper.SetConfigName("kimitok.cfg")
		viper.SetConfigType("toml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("configs")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "kimitok"))
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	viper.SetEnvPrefix("KIMITOK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.RepoID == "" {
		return nil, fmt.Errorf("repo-id is required")
	}
	if cfg.Revision == "" {
		return nil, fmt.Errorf("revision is required")
	}
	switch cfg.SpecialPolicy {
	case "", "forbid", "allow", "plain":
	default:
		return nil, fmt.Errorf("special-policy must be forbid, allow, or plain")
	}
	if cfg.FetchTimeout <= 0 {
		return nil, fmt.Errorf("fetch-timeout must be positive")
	}
	if cfg.Serve && cfg.Listen == "" {
		return nil, fmt.Errorf("listen address is required with --serve")
	}

	return &cfg, nil
}

// ArtifactDir is where this revision's files live under the cache directory.
func (c *Config) ArtifactDir() string {
	return filepath.Join(c.CacheDir, c.Revision)
}
