// Command fieldsync runs the offline-first sync core for one organization:
// a local REST and websocket server for the UI shell, plus one-shot
// maintenance commands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fieldsync/backend/internal/config"
	"github.com/kimhsiao/fieldsync/backend/internal/core"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
)

// Version is set at build time
var Version = "0.1.0"

// app holds what the persistent flags resolve to.
type app struct {
	configPath string
	dataDir    string
	orgID      string

	cfg    *config.Config
	logger *logging.Logger
	closer io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "fieldsync",
		Short:         "Offline-first sync core for field sales",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.closer != nil {
				a.closer.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "data directory (overrides config)")
	root.PersistentFlags().StringVar(&a.orgID, "org", "", "organization id (overrides config)")

	root.AddCommand(
		newServeCmd(a),
		newSyncCmd(a),
		newStatusCmd(a),
		newPendingCmd(a),
		newRetryCmd(a),
		newCleanupCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads the config and sets up logging. Only serve logs to stdout;
// one-shot commands keep stdout for their output.
func (a *app) load(cmd *cobra.Command) error {
	path := a.configPath
	if path == "" {
		path = os.Getenv("FIELDSYNC_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}
	if a.orgID != "" {
		cfg.OrganizationID = a.orgID
	}

	opts := logging.Options{
		Level:      logging.ParseLevel(cfg.LogLevel),
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	}
	if cmd.Name() != "serve" {
		opts.Output = cmd.ErrOrStderr()
		if cfg.LogFile == "" {
			opts.Level = logging.LevelWarn
		}
	}
	a.logger, a.closer = logging.NewWithOptions(opts)
	logging.SetGlobal(a.logger)
	a.cfg = cfg
	return nil
}

// withCore builds a Core for a one-shot command and shuts it down after fn.
func (a *app) withCore(ctx context.Context, fn func(c *core.Core) error) error {
	c, err := core.New(a.cfg, core.WithLogger(a.logger))
	if err != nil {
		return err
	}
	defer c.Shutdown(context.WithoutCancel(ctx))
	return fn(c)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fieldsync v%s\n", Version)
		},
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
