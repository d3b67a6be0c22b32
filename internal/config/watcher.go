package config

import (
	"context"
	"os"
	"sync"
	"time"

	"chatwire/internal/models"

	"github.com/sirupsen/logrus"
)

// Watcher polls the configuration file and reloads it on change. Only
// settings that are safe to apply live (log level, static tokens) should be
// consumed through callbacks; connection settings require a restart.
type Watcher struct {
	configPath string
	logger     *logrus.Logger
	mu         sync.RWMutex
	config     *models.Config
	callbacks  []func(*models.Config)
}

func NewWatcher(configPath string, logger *logrus.Logger) *Watcher {
	return &Watcher{
		configPath: configPath,
		logger:     logger,
		callbacks:  make([]func(*models.Config), 0),
	}
}

// Start begins polling the configuration file for changes. It blocks until
// the context is canceled.
func (cw *Watcher) Start(ctx context.Context) error {
	config, err := LoadConfig(cw.configPath)
	if err != nil {
		return err
	}

	cw.mu.Lock()
	cw.config = config
	cw.mu.Unlock()

	stat, err := os.Stat(cw.configPath)
	if err != nil {
		return err
	}
	lastModTime := stat.ModTime()

	cw.logger.WithField("path", cw.configPath).Info("Configuration watcher started")

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cw.logger.Info("Configuration watcher stopping")
			return nil

		case <-ticker.C:
			stat, err := os.Stat(cw.configPath)
			if err != nil {
				cw.logger.WithError(err).Error("Failed to stat configuration file")
				continue
			}

			if stat.ModTime().After(lastModTime) {
				cw.logger.Debug("Configuration file changed")
				lastModTime = stat.ModTime()

				// Small delay so a partially written file is not read.
				time.Sleep(100 * time.Millisecond)
				cw.reloadConfig()
			}
		}
	}
}

// GetConfig returns the current configuration (thread-safe)
func (cw *Watcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

// OnConfigChange registers a callback to be called when configuration changes
func (cw *Watcher) OnConfigChange(callback func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

func (cw *Watcher) reloadConfig() {
	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to reload configuration")
		return
	}

	cw.mu.Lock()
	oldConfig := cw.config
	cw.config = newConfig
	callbacks := make([]func(*models.Config), len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.Unlock()

	cw.logger.Info("Configuration reloaded successfully")

	for _, callback := range callbacks {
		go func(cb func(*models.Config)) {
			defer func() {
				if r := recover(); r != nil {
					cw.logger.WithField("panic", r).Error("Config change callback panicked")
				}
			}()
			cb(newConfig)
		}(callback)
	}

	cw.logConfigChanges(oldConfig, newConfig)
}

// logConfigChanges logs notable configuration changes
func (cw *Watcher) logConfigChanges(old, new *models.Config) {
	if old == nil {
		return
	}

	if old.LogLevel != new.LogLevel {
		cw.logger.WithFields(logrus.Fields{
			"old": old.LogLevel,
			"new": new.LogLevel,
		}).Info("Log level changed")
	}

	if old.Broker.URL != new.Broker.URL {
		cw.logger.Info("Broker URL changed, restart required to take effect")
	}

	if old.Database.Path != new.Database.Path {
		cw.logger.Info("Database path changed, restart required to take effect")
	}

	if len(old.Auth.StaticTokens) != len(new.Auth.StaticTokens) {
		cw.logger.WithFields(logrus.Fields{
			"old_count": len(old.Auth.StaticTokens),
			"new_count": len(new.Auth.StaticTokens),
		}).Info("Static token table changed")
	}
}
