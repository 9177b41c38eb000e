package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config holds everything needed to start paperstore. Values come from an
// optional TOML file, then the environment, then command line flags, each
// overriding the one before.
type Config struct {
	Port      string `toml:"port"`
	PProfPort string `toml:"pprof_port"`

	// Storage is the location of the blob store. See parselocation.
	Storage string `toml:"storage"`
	Codec   string `toml:"codec"`

	// MySQL is a dial string. If empty the QL database at DBPath is used.
	MySQL  string `toml:"mysql"`
	DBPath string `toml:"db_path"`

	// TokenFile lists the API keys for the admin routes. If empty every
	// caller is an admin.
	TokenFile string   `toml:"token_file"`
	Origins   []string `toml:"origins"`

	ChunkSize     int      `toml:"chunk_size"`
	MaxUploadSize int64    `toml:"max_upload_size"`
	MaxUploads    int      `toml:"max_uploads"`
	UploadTimeout duration `toml:"upload_timeout"`

	SentryDSN string `toml:"sentry_dsn"`
}

// duration lets a time.Duration be written as "10m" in the config file.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func defaultConfig() *Config {
	return &Config{
		Port:  "5000",
		Codec: "none",
	}
}

// loadConfig reads the config file at path, if path is not empty, and then
// applies the environment.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return errors.Errorf("PORT %q is not a number", v)
		}
		cfg.Port = v
	}
	if v := getenv("STORAGE_URI"); v != "" {
		cfg.Storage = v
	}
	if v := getenv("MYSQL_DSN"); v != "" {
		cfg.MySQL = v
	}
	if v := getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("SENTRY_DSN"); v != "" {
		cfg.SentryDSN = v
	}
	if v := strings.TrimSpace(getenv("CORS_ORIGINS")); v != "" {
		cfg.Origins = strings.Split(v, ",")
		for i := range cfg.Origins {
			cfg.Origins[i] = strings.TrimSpace(cfg.Origins[i])
		}
	}
	return nil
}

// applyFlags copies the flags that were set on the command line.
func (cfg *Config) applyFlags(fs *pflag.FlagSet) {
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	str("port", &cfg.Port)
	str("pprof", &cfg.PProfPort)
	str("storage", &cfg.Storage)
	str("codec", &cfg.Codec)
	str("mysql", &cfg.MySQL)
	str("db", &cfg.DBPath)
	str("tokens", &cfg.TokenFile)
	if fs.Changed("chunk-size") {
		cfg.ChunkSize, _ = fs.GetInt("chunk-size")
	}
	if fs.Changed("max-size") {
		cfg.MaxUploadSize, _ = fs.GetInt64("max-size")
	}
	if fs.Changed("max-uploads") {
		cfg.MaxUploads, _ = fs.GetInt("max-uploads")
	}
	if fs.Changed("upload-timeout") {
		cfg.UploadTimeout.Duration, _ = fs.GetDuration("upload-timeout")
	}
}

// databasePath is where the QL database goes. Unless set, it sits beside a
// file system blob store, or is kept in memory.
func (cfg *Config) databasePath() string {
	if cfg.DBPath != "" {
		return cfg.DBPath
	}
	if dir := localDir(cfg.Storage); dir != "" {
		return filepath.Join(dir, "paperstore.ql")
	}
	return "memory"
}
