package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/invoicehub/mirror/internal/config"
	"github.com/invoicehub/mirror/internal/logging"
	"github.com/invoicehub/mirror/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli carries state shared by every subcommand of one invocation.
type cli struct {
	v         *viper.Viper
	cfg       *config.Config
	logCloser io.Closer
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "mirror",
		Short:         "Mirror remote invoicing records into a local SQLite database",
		Version:       version.Detailed(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["config"] == "skip" {
				return nil
			}
			return c.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.logCloser != nil {
				return c.logCloser.Close()
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.SortFlags = false
	flags.StringP("config", "c", "", "config file (default $HOME/.mirror/config.{json,yaml})")
	flags.String("remote-url", "", "remote record API base url")
	flags.String("db", "", "SQLite database path")
	flags.Int("concurrency", 0, "concurrent fetches and writes per type")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.Bool("json", false, "print results as JSON")

	rootCmd.AddCommand(
		newSyncCmd(c),
		newReconcileCmd(c),
		newUploadCmd(c),
		newFilesCmd(c),
		newServeCmd(c),
		newVersionCmd(),
	)
	return rootCmd
}

// run opens the app for the duration of fn.
func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, a *app, p printer) error) error {
	a, err := newApp(cmd.Context(), c.cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	asJSON, _ := cmd.Flags().GetBool("json")
	return fn(cmd.Context(), a, printer{w: cmd.OutOrStdout(), json: asJSON})
}

func (c *cli) load(cmd *cobra.Command) error {
	configPath, _ := cmd.Flags().GetString("config")
	if err := config.ReadInConfig(c.v, configPath); err != nil {
		return err
	}

	for key, flag := range map[string]string{
		"remote.base_url":  "remote-url",
		"db.path":          "db",
		"sync.concurrency": "concurrency",
		"log.level":        "log-level",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			c.v.Set(key, f.Value.String())
		}
	}

	cfg, err := config.Load(c.v)
	if err != nil {
		return err
	}
	c.cfg = cfg

	closer, err := logging.Setup(logging.Options{
		Level:      logging.ParseLevel(cfg.Log.Level),
		FilePath:   cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Console:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	c.logCloser = closer

	slog.Debug("mirror", "version", version.Version, "revision", version.Revision, "config", cfg.Path)
	return nil
}
