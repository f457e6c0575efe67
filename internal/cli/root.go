// Package cli provides the command-line interface for vermuda.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/javanstorm/vermuda/internal/config"
)

// exitError carries a non-zero exit code that needs no message.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// globalFlags are shared by every command that reads configuration.
type globalFlags struct {
	configFile    string
	logLevel      string
	metricsListen string
	iso           string
}

// NewRootCommand builds the command tree. Running it without a subcommand
// boots the VM.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "vermuda",
		Short: "vermuda - run a Linux VM on the host hypervisor",
		Long: `vermuda boots a Linux virtual machine from the configuration in
$VM_HOME/config.toml (VM_HOME defaults to ~/.vm), bridges its network to the
host and shows its console until the guest or the user ends the run.

Press Ctrl-C once to ask the guest to shut down, twice to force it off.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "config file (default $VM_HOME/config.toml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	pf.StringVar(&flags.metricsListen, "metrics-listen", "", "address for the Prometheus /metrics endpoint")
	pf.StringVar(&flags.iso, "iso", "", "installer ISO to attach as USB storage")

	root.AddCommand(newRunCommand(flags))
	root.AddCommand(newConfigCommand(flags))
	root.AddCommand(newVersionCommand())
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	return execute(NewRootCommand(), os.Args[1:], os.Stderr)
}

func execute(root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

// loadConfig reads configuration with command-line overrides applied.
func loadConfig(flags *globalFlags) (*config.Paths, *config.Loader, *config.Config, error) {
	paths, err := config.GetPaths()
	if err != nil {
		return nil, nil, nil, err
	}

	loader := config.NewLoader(paths, flags.configFile)
	if flags.iso != "" {
		loader.Set("iso.path", flags.iso)
	}
	if flags.logLevel != "" {
		loader.Set("log.level", flags.logLevel)
	}
	if flags.metricsListen != "" {
		loader.Set("metrics.listen", flags.metricsListen)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	return paths, loader, cfg, nil
}
