package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "USERS"

// Config holds application level configuration aggregated from env/config files and flags.
type Config struct {
	Database struct {
		Path string
	}
	Log struct {
		Level string
	}
	Server struct {
		Addr string
	}
	Auth struct {
		PasswordScheme string
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"db":              "database.path",
	"log-level":       "log.level",
	"addr":            "server.addr",
	"password-scheme": "auth.passwordscheme",
	"bucket":          "storage.bucket",
}

// RegisterFlags adds the config-backed flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("db", "", "path to the sqlite database file")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("addr", "", "listen address for serve")
	fs.String("password-scheme", "", "password storage scheme (plain, bcrypt)")
	fs.String("bucket", "", "object storage bucket for backups")
}

// Load reads configuration from environment variables, optional config files and flags.
// Flags win over environment, which wins over files and defaults.
func Load(fs *pflag.FlagSet) (Config, error) {
	loadDotEnv(".env")

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.path", "users.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("auth.passwordscheme", "plain")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "users-backups")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// the file is optional, but one that exists must parse
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks values that have no usable fallback.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database path is required")
	}
	switch c.Auth.PasswordScheme {
	case "plain", "bcrypt":
	default:
		return fmt.Errorf("unknown password scheme %q", c.Auth.PasswordScheme)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// loadDotEnv copies entries from path into the environment without overriding set variables.
func loadDotEnv(path string) {
	envMap, err := godotenv.Read(path)
	if err != nil {
		return
	}
	for k, v := range envMap {
		if _, exists := os.LookupEnv(k); !exists {
			_ = os.Setenv(k, v)
		}
	}
}
