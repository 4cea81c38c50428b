package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/gantryproject/gantry/internal/metrics"
)

func newKeysCmd(configPath *string, verbose *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect and manage the public key cache",
	}

	cmd.AddCommand(
		newKeysListCmd(configPath, verbose),
		newKeysRefreshCmd(configPath, verbose),
		newKeysImportCmd(configPath, verbose),
	)

	return cmd
}

func newKeysListCmd(configPath *string, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached public keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			l, err := newLoader(cfg, metrics.New(), newLogger(*verbose))
			if err != nil {
				return err
			}
			defer l.Close()

			entries := l.cache.Entries()
			if len(entries) == 0 {
				fmt.Println("No keys cached.")
				return nil
			}

			sort.Slice(entries, func(i, j int) bool {
				return entries[i].KeyID < entries[j].KeyID
			})

			fmt.Printf("%-24s %-10s %-26s %s\n", "KEY ID", "SOURCE", "FETCHED", "FRESHNESS")
			for _, e := range entries {
				freshness := "fresh"
				if l.cache.IsStale(e) {
					freshness = "stale"
				}
				if e.Source == "bundled" {
					freshness = "never expires"
				}
				fmt.Printf("%-24s %-10s %-26s %s\n",
					e.KeyID, e.Source, e.FetchedAt.Format(time.RFC3339), freshness)
			}

			return nil
		},
	}
}

func newKeysRefreshCmd(configPath *string, verbose *bool) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-fetch stale registry keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Registry.URL == "" {
				return fmt.Errorf("no registry URL configured")
			}

			l, err := newLoader(cfg, metrics.New(), newLogger(*verbose))
			if err != nil {
				return err
			}
			defer l.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			refreshed := l.cache.RefreshStale(ctx)
			fmt.Printf("Refreshed %d key(s).\n", refreshed)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "refresh timeout")

	return cmd
}

func newKeysImportCmd(configPath *string, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "import <key-id> <pem-file>",
		Short: "Install a PEM public key into the bundled key directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.BundledKeyDir == "" {
				return fmt.Errorf("bundled_key_dir is not configured")
			}

			keyID, pemFile := args[0], args[1]

			l, err := newLoader(cfg, metrics.New(), newLogger(*verbose))
			if err != nil {
				return err
			}
			defer l.Close()

			pem, err := os.ReadFile(pemFile)
			if err != nil {
				return fmt.Errorf("read key file: %w", err)
			}

			// Validates the PEM before anything is written.
			if err := l.cache.AddBundled(keyID, pem); err != nil {
				return fmt.Errorf("invalid public key: %w", err)
			}

			if err := os.MkdirAll(cfg.BundledKeyDir, 0700); err != nil {
				return fmt.Errorf("create bundled key directory: %w", err)
			}

			dest := filepath.Join(cfg.BundledKeyDir, keyID+".pem")
			if err := os.WriteFile(dest, pem, 0600); err != nil {
				return fmt.Errorf("write bundled key: %w", err)
			}

			fmt.Printf("Key %s installed to %s\n", keyID, dest)
			return nil
		},
	}
}
