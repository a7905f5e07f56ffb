package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/thatjpcsguy/printtrack/internal/tracing"
)

// File names, lowest priority first.
const (
	GlobalDir       = ".printtrack"
	GlobalFile      = "config.yaml"
	ProjectFile     = ".printtrack.yaml"
	LocalFile       = ".printtrack.local.yaml"
	EnvPrefix       = "PRINTTRACK"
	DefaultDBPath   = ".printtrack/printtrack.db"
	DefaultBlobDir  = ".printtrack/blobs"
	DefaultProject  = "default"
	DefaultBoxCount = 50
)

// Config represents the printtrack configuration
type Config struct {
	DBPath     string           `mapstructure:"db_path"`
	Project    string           `mapstructure:"project"`
	Boxes      BoxesConfig      `mapstructure:"boxes"`
	Allocation AllocationConfig `mapstructure:"allocation"`
	Blob       BlobConfig       `mapstructure:"blob"`
	Import     ImportConfig     `mapstructure:"import"`
	Log        LogConfig        `mapstructure:"log"`
	Tracing    tracing.Config   `mapstructure:"tracing"`

	// Hooks (fallback if hook files don't exist)
	Hooks HooksConfig `mapstructure:"hooks"`
}

// BoxesConfig sizes the storage pool.
type BoxesConfig struct {
	Count  int    `mapstructure:"count"`
	Prefix string `mapstructure:"prefix"`
}

// AllocationConfig controls how units get storage.
type AllocationConfig struct {
	// Mode is "box" or "label".
	Mode        string        `mapstructure:"mode"`
	Strategy    string        `mapstructure:"strategy"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	LabelTTL    time.Duration `mapstructure:"label_ttl"`
}

// BlobConfig selects where model files are stored.
type BlobConfig struct {
	// Backend is "local" or "s3".
	Backend string   `mapstructure:"backend"`
	Dir     string   `mapstructure:"dir"`
	S3      S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket         string        `mapstructure:"bucket"`
	Region         string        `mapstructure:"region"`
	Endpoint       string        `mapstructure:"endpoint"`
	Prefix         string        `mapstructure:"prefix"`
	ForcePathStyle bool          `mapstructure:"force_path_style"`
	URLExpiry      time.Duration `mapstructure:"url_expiry"`
}

type ImportConfig struct {
	DefaultStage string `mapstructure:"default_stage"`
}

type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `mapstructure:"level"`
	// Format is "console" or "json".
	Format string `mapstructure:"format"`
}

type HooksConfig struct {
	PostRegister string `mapstructure:"post_register"`
	PostDefect   string `mapstructure:"post_defect"`
	PostComplete string `mapstructure:"post_complete"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		DBPath:  DefaultDBPath,
		Project: DefaultProject,
		Boxes:   BoxesConfig{Count: DefaultBoxCount, Prefix: "BOX"},
		Allocation: AllocationConfig{
			Mode:        "box",
			Strategy:    "random",
			MaxAttempts: 3,
			Backoff:     5 * time.Millisecond,
			MaxBackoff:  100 * time.Millisecond,
			LabelTTL:    10 * time.Minute,
		},
		Blob: BlobConfig{
			Backend: "local",
			Dir:     DefaultBlobDir,
			S3:      S3Config{URLExpiry: 15 * time.Minute},
		},
		Import:  ImportConfig{DefaultStage: "PRINTED"},
		Log:     LogConfig{Level: "info", Format: "console"},
		Tracing: tracing.DefaultConfig(),
	}
}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// ConfigFile replaces the project and local files when set.
	ConfigFile string
	// Dir is the project directory. Empty means the working directory.
	Dir string
	// Home is the user home directory. Empty means os.UserHomeDir.
	Home string
	// Flags are bound by name: "db" to db_path and "project" to project.
	Flags *pflag.FlagSet
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"db":      "db_path",
	"project": "project",
	"mode":    "allocation.mode",
}

// Load reads configuration in priority order: defaults, the global file, the
// project file, the local override file, PRINTTRACK_* environment variables
// and finally flags.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	home := opts.Home
	if home == "" {
		home, _ = os.UserHomeDir()
	}

	var files []string
	if home != "" {
		files = append(files, filepath.Join(home, GlobalDir, GlobalFile))
	}
	if opts.ConfigFile != "" {
		files = append(files, opts.ConfigFile)
	} else {
		files = append(files, filepath.Join(opts.Dir, ProjectFile), filepath.Join(opts.Dir, LocalFile))
	}

	for _, path := range files {
		if _, err := os.Stat(path); err != nil {
			if path == opts.ConfigFile {
				return nil, fmt.Errorf("failed to load %s: %w", path, err)
			}
			continue
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.expandPaths(home, opts.Dir); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("project", d.Project)
	v.SetDefault("boxes.count", d.Boxes.Count)
	v.SetDefault("boxes.prefix", d.Boxes.Prefix)
	v.SetDefault("allocation.mode", d.Allocation.Mode)
	v.SetDefault("allocation.strategy", d.Allocation.Strategy)
	v.SetDefault("allocation.max_attempts", d.Allocation.MaxAttempts)
	v.SetDefault("allocation.backoff", d.Allocation.Backoff)
	v.SetDefault("allocation.max_backoff", d.Allocation.MaxBackoff)
	v.SetDefault("allocation.label_ttl", d.Allocation.LabelTTL)
	v.SetDefault("blob.backend", d.Blob.Backend)
	v.SetDefault("blob.dir", d.Blob.Dir)
	v.SetDefault("blob.s3.bucket", d.Blob.S3.Bucket)
	v.SetDefault("blob.s3.region", d.Blob.S3.Region)
	v.SetDefault("blob.s3.endpoint", d.Blob.S3.Endpoint)
	v.SetDefault("blob.s3.prefix", d.Blob.S3.Prefix)
	v.SetDefault("blob.s3.force_path_style", d.Blob.S3.ForcePathStyle)
	v.SetDefault("blob.s3.url_expiry", d.Blob.S3.URLExpiry)
	v.SetDefault("import.default_stage", d.Import.DefaultStage)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("hooks.post_register", d.Hooks.PostRegister)
	v.SetDefault("hooks.post_defect", d.Hooks.PostDefect)
	v.SetDefault("hooks.post_complete", d.Hooks.PostComplete)
}

// expandPaths expands ~ and resolves relative local paths against dir.
func (c *Config) expandPaths(home, dir string) error {
	for _, p := range []*string{&c.DBPath, &c.Blob.Dir, &c.Tracing.FilePath} {
		if *p == "" {
			continue
		}
		if strings.HasPrefix(*p, "~") {
			if home == "" {
				return fmt.Errorf("failed to expand ~ in %s: no home directory", *p)
			}
			*p = strings.Replace(*p, "~", home, 1)
			continue
		}
		if dir != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	return nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.Project == "" {
		errs = append(errs, errors.New("project is required"))
	}
	if c.Boxes.Count < 0 {
		errs = append(errs, fmt.Errorf("boxes.count must not be negative, got %d", c.Boxes.Count))
	}
	if c.Boxes.Prefix == "" {
		errs = append(errs, errors.New("boxes.prefix is required"))
	}
	if !oneOf(c.Allocation.Mode, "box", "label") {
		errs = append(errs, fmt.Errorf("allocation.mode must be box or label, got %q", c.Allocation.Mode))
	}
	if !oneOf(c.Allocation.Strategy, "first", "random") {
		errs = append(errs, fmt.Errorf("allocation.strategy must be first or random, got %q", c.Allocation.Strategy))
	}
	if c.Allocation.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("allocation.max_attempts must be at least 1, got %d", c.Allocation.MaxAttempts))
	}
	if c.Allocation.Backoff < 0 || c.Allocation.MaxBackoff < 0 {
		errs = append(errs, errors.New("allocation backoff must not be negative"))
	}
	switch c.Blob.Backend {
	case "local":
		if c.Blob.Dir == "" {
			errs = append(errs, errors.New("blob.dir is required for the local backend"))
		}
	case "s3":
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob.backend must be local or s3, got %q", c.Blob.Backend))
	}
	if !oneOf(strings.ToLower(c.Log.Level), "debug", "info", "warn", "error") {
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	if !oneOf(c.Log.Format, "console", "json") {
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %v", c.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
