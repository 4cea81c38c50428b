package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gantryproject/gantry/internal/license"
	"github.com/gantryproject/gantry/internal/metrics"
)

func newValidateCmd(configPath *string, verbose *bool) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "validate <token-file>",
		Short: "Validate a single license token",
		Long: `Validate a license token file and print its state.

The process exit code follows the stable mapping other tooling branches on:
  0=valid  1=grace  2=expired  3=missing  4=invalid  5=error`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := newLogger(*verbose)
			l, err := newLoader(cfg, metrics.New(), logger)
			if err != nil {
				return err
			}
			defer l.Close()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read token file: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			token := strings.TrimSpace(string(raw))
			state := l.validator.Validate(ctx, token, time.Now())

			printTokenInfo(l.validator, token)
			fmt.Printf("State: %s\n", state)

			// The exit code is the contract; bypass cobra's error path
			// so the exact value reaches the caller.
			if code := state.ExitCode(); code != 0 {
				l.Close()
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "validation timeout")

	return cmd
}

// printTokenInfo shows the decoded, unverified token fields for context.
func printTokenInfo(v *license.Validator, raw string) {
	info, err := v.Inspect(raw)
	if err != nil {
		return
	}

	fmt.Printf("Key ID:    %s\n", info.KeyID)
	fmt.Printf("Algorithm: %s\n", info.Algorithm)
	fmt.Printf("Subject:   %s\n", info.Subject)
	fmt.Printf("Tier:      %s\n", info.Tier)
	if len(info.Scope) > 0 {
		fmt.Printf("Scope:     %s\n", strings.Join(info.Scope, ", "))
	}
	if !info.ExpiresAt.IsZero() {
		fmt.Printf("Expires:   %s\n", info.ExpiresAt.Format(time.RFC3339))
	}
}
