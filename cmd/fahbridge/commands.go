package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
}

// newRootCmd builds the command tree. Without a subcommand the bridge runs.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "fahbridge",
		Short: "Busch-Jaeger free@home to MQTT bridge",
		Long: `fahbridge connects to a free@home System Access Point over its local
XMPP interface and mirrors every light, cover, thermostat, scene, lock and
sensor onto MQTT.

The configuration file is taken from --config, then the FAHBRIDGE_CONFIG
environment variable, then configs/config.yaml. Secrets such as the SysAP
password are best supplied through FAHBRIDGE_SYSAP_PASSWORD or a .env file.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), getConfigPath(opts.configPath))
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the configuration file")

	root.AddCommand(
		newServeCmd(opts),
		newDumpCmd(opts),
		newMonitorCmd(opts),
	)
	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), getConfigPath(opts.configPath))
		},
	}
}

func newDumpCmd(opts *rootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Save the SysAP configuration as pretty-printed XML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup(getConfigPath(opts.configPath))
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Monitor.OutputDir
			}

			session, err := openSession(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer session.Disconnect() //nolint:errcheck // one-shot command, the dump result is what matters

			path, err := session.Dump(ctx, dir)
			if err != nil {
				return fmt.Errorf("dumping configuration: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Output directory (default monitor.output_dir)")
	return cmd
}

func newMonitorCmd(opts *rootOptions) *cobra.Command {
	var (
		dir      string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Record raw SysAP update messages to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup(getConfigPath(opts.configPath))
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Monitor.OutputDir
			}
			if duration <= 0 {
				duration = cfg.GetMonitorDuration()
			}

			session, err := openSession(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer session.Disconnect() //nolint:errcheck // one-shot command, the recording is what matters

			log.Info("recording updates", "duration", duration)
			path, err := session.Monitor(ctx, dir, duration)
			if err != nil {
				return fmt.Errorf("monitoring updates: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Output directory (default monitor.output_dir)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Recording time (default monitor.default_duration)")
	return cmd
}
