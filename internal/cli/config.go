package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/javanstorm/vermuda/internal/config"
)

func newConfigCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration vermuda would run with, after defaults,
the config file, VERMUDA_* environment variables and flags are applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, loader, cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			data, err := config.Encode(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}

			out := cmd.OutOrStdout()
			if used := loader.ConfigFileUsed(); used != "" {
				fmt.Fprintf(out, "# %s\n", used)
			}
			_, err = out.Write(data)
			return err
		},
	}
}
