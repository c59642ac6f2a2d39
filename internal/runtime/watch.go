package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/tjfontaine/restpipe/internal/pkg/config"
)

// WatchConfig reloads the client's config file whenever it changes and
// applies the result until ctx is done. A file that fails to load or
// validate is logged and ignored; the previous configuration stays active.
//
// onChange, if non-nil, is called after each reload attempt with the
// applied configuration or the error.
func (c *Client) WatchConfig(ctx context.Context, onChange func(*config.Config, error)) error {
	if c.configPath == "" {
		return fmt.Errorf("client has no config file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory: editors often replace the file rather than
	// writing it in place, which drops a watch on the file itself.
	dir := filepath.Dir(c.configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(c.configPath)

	c.logger.Info("watching config file for changes", slog.String("path", c.configPath))

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				c.logger.Debug("config watch stopped")
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				c.logger.Info("config file changed, reloading", slog.String("path", event.Name))
				cfg, err := c.Reload()
				if err != nil {
					c.logger.Error("failed to reload config",
						slog.String("error", err.Error()),
						slog.String("path", c.configPath))
				}
				if onChange != nil {
					onChange(cfg, err)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Error("config watch error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}

// Reload reads the config file again and applies it.
func (c *Client) Reload() (*config.Config, error) {
	if c.configPath == "" {
		return nil, fmt.Errorf("client has no config file to reload")
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := c.apply(cfg); err != nil {
		return nil, err
	}
	c.logger.Info("config reloaded",
		slog.Int("pipes", len(cfg.Pipes)),
		slog.Int("auth_modules", len(cfg.AuthModules)),
		slog.Int("stores", len(cfg.Stores)),
	)
	return cfg, nil
}
