package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"freebooter/internal/config"
	"freebooter/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *logging.Logger
	loggerErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

// ensureLogger builds the process logger from the loaded configuration and
// makes it the slog default.
func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		logger, err := logging.New(logging.Options{
			Level:        cfg.Logging.Level,
			Format:       cfg.Logging.Format,
			AlertWebhook: cfg.Logging.AlertWebhook.Value(),
		})
		if err != nil {
			c.loggerErr = fmt.Errorf("failed to set up logging: %w", err)
			return
		}
		slog.SetDefault(logger.Logger)
		c.logger = logger
	})
	if c.loggerErr != nil {
		return nil, c.loggerErr
	}
	return c.logger.Logger, nil
}

func (c *commandContext) close() {
	if c.logger != nil {
		c.logger.Close()
	}
}
