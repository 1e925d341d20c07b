package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"freebooter/internal/loader"
)

const lockFile = "freebooter.lock"

func newRunCommand(ctx *commandContext) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every watcher until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := os.MkdirAll(cfg.Engine.StateDir, 0o755); err != nil {
				return fmt.Errorf("failed to create state directory: %w", err)
			}
			lock := flock.New(filepath.Join(cfg.Engine.StateDir, lockFile))
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !locked {
				return errors.New("another freebooter instance is using " + cfg.Engine.StateDir)
			}
			defer lock.Unlock()

			st, err := loader.NewLoader(cfg, loader.Options{Logger: logger}).Initialize(runCtx)
			if err != nil {
				return err
			}
			defer st.Close(context.WithoutCancel(runCtx))

			if once {
				logger.Info("Running one cycle")
				return st.Engine.RunOnce(runCtx)
			}

			if err := st.Server().Start(runCtx); err != nil {
				return err
			}
			logger.Info("Freebooter running", "state_dir", cfg.Engine.StateDir)
			err = st.Engine.Run(runCtx)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Poll every watcher once, wait for uploads and exit")
	return cmd
}
