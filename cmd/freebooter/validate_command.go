package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"freebooter/internal/loader"
)

func newValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and build the flow graph without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			st, err := loader.NewLoader(cfg, loader.Options{Logger: logger}).Initialize(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close(context.WithoutCancel(cmd.Context()))

			watchers, uploaders, middlewares := cfg.Names()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration valid")
			fmt.Fprintf(out, "  watchers:    %s\n", list(watchers))
			fmt.Fprintf(out, "  middlewares: %s\n", list(middlewares))
			fmt.Fprintf(out, "  uploaders:   %s\n", list(uploaders))
			fmt.Fprintf(out, "  shared chain: %d stage(s)\n", st.Engine.Shared().Len())
			return nil
		},
	}
}

func list(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}
