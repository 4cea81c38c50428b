package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gantryproject/gantry/internal/metrics"
)

func newLoadCmd(configPath *string, verbose *bool) *cobra.Command {
	var asJSON bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Discover, resolve, and report the loadable construct set",
		Long: `Discover constructs across all configured source roots, validate the
licenses of registry- and pack-sourced candidates, and print the admission
report.

An unresolved name is reported, not treated as a failure; the command exits
non-zero only when the run itself cannot complete.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger := newLogger(*verbose)
			l, err := newLoader(cfg, metrics.New(), logger)
			if err != nil {
				return err
			}
			defer l.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			rep, err := l.load(ctx)
			if err != nil {
				return err
			}

			if asJSON {
				data, err := rep.JSON()
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Print(rep.Text())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall load timeout")

	return cmd
}
