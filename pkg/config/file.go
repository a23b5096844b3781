package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/hub/pkg/observability"
)

type fileConfig struct {
	Tenancy TenancyConfig `yaml:"tenancy"`
}

// LoadTenancyFile reads the tenancy section of a YAML config file
func LoadTenancyFile(path string) (TenancyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TenancyConfig{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return TenancyConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return fc.Tenancy, nil
}

// WatchTenancyFile calls onChange with the re-read tenancy section each time
// path is written, created or renamed into place. It blocks until ctx is done.
// Parse failures are logged and the previous settings stay in effect.
func WatchTenancyFile(ctx context.Context, path string, logger *observability.Logger, onChange func(TenancyConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and config-map mounts replace the file rather than write it.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	log := logger.WithField("config_file", target)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			tenancy, err := LoadTenancyFile(target)
			if err != nil {
				log.WithError(err).Warn("Ignoring invalid tenancy config")
				continue
			}
			log.Info("Tenancy config reloaded")
			onChange(tenancy)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("Config watcher error")
		}
	}
}
