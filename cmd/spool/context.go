package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/odm"
	"spool/internal/pipeline"
	"spool/internal/state"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withPipeline opens the logger, state store, and orchestrator, recovers any
// stranded stages, and runs fn under a signal-aware context. Interrupts halt
// progress without releasing licenses or deleting staged parts.
func (c *commandContext) withPipeline(fn func(ctx context.Context, orch *pipeline.Orchestrator, store *state.Store, logger *slog.Logger) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return err
	}

	store, err := state.Open(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := pipeline.New(cfg, logger, store)
	if err := orch.Recover(ctx); err != nil {
		return err
	}
	return fn(ctx, orch, store, logger)
}

// resolveMediaID accepts either a media id or a path to an ODM file.
func resolveMediaID(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", fmt.Errorf("media id or ODM path required")
	}
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		raw, err := os.ReadFile(arg)
		if err != nil {
			return "", fmt.Errorf("read odm file: %w", err)
		}
		manifest, err := odm.Parse(raw)
		if err != nil {
			return "", err
		}
		return manifest.MediaID, nil
	}
	return arg, nil
}
