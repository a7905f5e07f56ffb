package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// WriteDefault writes the built-in configuration to path. An existing file is
// left alone unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}

	data, err := yaml.Marshal(defaultDocument(Defaults()))
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// defaultDocument renders durations as strings so the file stays readable.
func defaultDocument(c Config) map[string]any {
	return map[string]any{
		"db_path": c.DBPath,
		"project": c.Project,
		"boxes": map[string]any{
			"count":  c.Boxes.Count,
			"prefix": c.Boxes.Prefix,
		},
		"allocation": map[string]any{
			"mode":         c.Allocation.Mode,
			"strategy":     c.Allocation.Strategy,
			"max_attempts": c.Allocation.MaxAttempts,
			"backoff":      c.Allocation.Backoff.String(),
			"max_backoff":  c.Allocation.MaxBackoff.String(),
			"label_ttl":    c.Allocation.LabelTTL.String(),
		},
		"blob": map[string]any{
			"backend": c.Blob.Backend,
			"dir":     c.Blob.Dir,
			"s3": map[string]any{
				"bucket":           c.Blob.S3.Bucket,
				"region":           c.Blob.S3.Region,
				"endpoint":         c.Blob.S3.Endpoint,
				"prefix":           c.Blob.S3.Prefix,
				"force_path_style": c.Blob.S3.ForcePathStyle,
				"url_expiry":       c.Blob.S3.URLExpiry.String(),
			},
		},
		"import": map[string]any{
			"default_stage": c.Import.DefaultStage,
		},
		"log": map[string]any{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
		"tracing": c.Tracing,
		"hooks": map[string]any{
			"post_register": c.Hooks.PostRegister,
			"post_defect":   c.Hooks.PostDefect,
			"post_complete": c.Hooks.PostComplete,
		},
	}
}
