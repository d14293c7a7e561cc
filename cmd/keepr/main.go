package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/keepr/internal/config"
	"github.com/loykin/keepr/pkg/client"
	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	global := &GlobalFlags{}
	root := createRootCommand(global)
	root.AddCommand(
		createRunCommand(),
		createValidateCommand(),
		createDumpCommand(),
		createStatusCommand(global),
		createActionCommand(global, "start", "Start an app"),
		createActionCommand(global, "stop", "Stop an app and cancel pending restarts"),
		createActionCommand(global, "restart", "Restart an app and reset its restart count"),
		createDeployTargetsCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "keepr",
		Short: "Keep apps from an ecosystem file running",
		Long: `keepr supervises the apps declared in an ecosystem file: it starts them,
restarts them with exponential backoff when they crash, restarts them when
watched files change, and serves their status over HTTP.

Examples:
  keepr run ecosystem.yaml
  keepr validate ecosystem.yaml
  keepr status
  keepr restart bot --api-url=http://127.0.0.1:9615/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", client.DefaultBaseURL, "daemon API URL")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	root.PersistentFlags().StringVar(&flags.APICACert, "api-cacert", "", "PEM CA certificate for an https daemon")
	return root
}

func createRunCommand() *cobra.Command {
	f := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Supervise the apps of a config file in the foreground",
		Long: `Start every app of the config file and keep them running until SIGINT or
SIGTERM. SIGHUP reloads the file: new apps start, removed apps stop and
changed apps restart with their new definition.

The status API listens on server.listen (default ` + config.DefaultListen + `).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = args[0]
			ctx := cmd.Context()
			d, err := newDaemon(ctx, *f, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(sigCh)
			return d.run(ctx, sigCh)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "override server.listen")
	cmd.Flags().StringVar(&f.PIDFile, "pidfile", "", "write the daemon pid to this file")
	cmd.Flags().DurationVar(&f.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "max time to stop all apps")
	return cmd
}

func createValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config>",
		Short: "Check a config file and report every problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cmd.OutOrStdout(), args[0])
		},
	}
}

func createDumpCommand() *cobra.Command {
	f := &DumpFlags{}
	cmd := &cobra.Command{
		Use:   "dump <config>",
		Short: "Print the resolved config with every default filled in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = args[0]
			return dumpConfig(cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Format, "format", config.FormatYAML, "output format: json, yaml or toml")
	return cmd
}

func createStatusCommand(global *GlobalFlags) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status [name]",
		Short: "Show app status from the running daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				f.Name = args[0]
			}
			f.API = *global
			return showStatus(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON instead of a table")
	return cmd
}

func createActionCommand(global *GlobalFlags, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd.Context(), cmd.OutOrStdout(), verb, ActionFlags{Name: args[0], API: *global})
		},
	}
}

func createDeployTargetsCommand() *cobra.Command {
	f := &DeployFlags{}
	cmd := &cobra.Command{
		Use:   "deploy-targets <config> [target]",
		Short: "List the deploy targets of a config file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = args[0]
			if len(args) == 2 {
				f.Target = args[1]
			}
			return showDeployTargets(cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON instead of a table")
	return cmd
}
