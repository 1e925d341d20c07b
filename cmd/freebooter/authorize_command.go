package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"freebooter/internal/components"
)

func newAuthorizeCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Create and store platform sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "bluesky",
		Short: "Log in with the configured app password and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if _, err := ctx.ensureLogger(); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Engine.StateDir, 0o755); err != nil {
				return fmt.Errorf("failed to create state directory: %w", err)
			}

			platforms := components.NewPlatformComponent(cfg.Platforms, cfg.Engine.StateDir)
			bluesky, err := platforms.NewBluesky()
			if err != nil {
				return err
			}
			session, err := bluesky.Login(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Authorized %s (%s)\n", session.Handle, session.Did)
			return nil
		},
	})
	return cmd
}
