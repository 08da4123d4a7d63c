package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"plankabot/internal/app"
	"plankabot/internal/config"
)

type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "plankabot",
		Short: "Telegram notifications for Planka boards",
		Long: `plankabot polls a Planka instance and tells Telegram users about
changes on the boards they can see: new cards, moves, comments, due dates
and completed tasks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "./config.yaml", "path to config (yaml or json)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newCheckConfigCommand(opts))
	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var stopTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), opts.ConfigPath, stopTimeout)
		},
	}
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "upper bound for a graceful shutdown")
	return cmd
}

func runBot(parent context.Context, cfgPath string, stopTimeout time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case sig := <-sigs:
			if sig == os.Interrupt {
				cancel(app.StopSIGINT)
			} else {
				cancel(app.StopSIGTERM)
			}
		case <-ctx.Done():
		}
	}()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	a.SetStopTimeout(stopTimeout)
	return a.Run(ctx)
}

func newCheckConfigCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and print the effective settings",
		Long: `Load the config file the way "run" does, environment overrides
included, and validate every section. Secrets are masked in the output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.CheckConfig(opts.ConfigPath)
			if err != nil {
				return fmt.Errorf("%s: %w", opts.ConfigPath, err)
			}
			return printConfig(cmd.OutOrStdout(), opts.ConfigPath, cfg, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the effective config as JSON")
	return cmd
}

func printConfig(w io.Writer, path string, cfg *config.Config, asJSON bool) error {
	masked := maskSecrets(*cfg)
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(masked)
	}
	driver := masked.Storage.Driver
	if driver == "" {
		driver = "file"
	}
	fmt.Fprintf(w, "config ok: %s\n", path)
	fmt.Fprintf(w, "  planka:   %s as %s\n", masked.Planka.URL, masked.Planka.Username)
	fmt.Fprintf(w, "  storage:  %s %s\n", driver, masked.Storage.Path)
	fmt.Fprintf(w, "  poll:     %s\n", orDefault(masked.Watch.PollSchedule, "10s"))
	fmt.Fprintf(w, "  ops:      %t\n", masked.Ops.Enabled)
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

const mask = "********"

func maskSecrets(cfg config.Config) config.Config {
	hide := func(s *string) {
		if *s != "" {
			*s = mask
		}
	}
	hide(&cfg.Telegram.Token)
	hide(&cfg.Planka.Password)
	hide(&cfg.Storage.SecretKey)
	hide(&cfg.Ops.Token)
	return cfg
}
