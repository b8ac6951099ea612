package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/luam/pkg/config"
)

func (c *CLI) configCommand() *cobra.Command {
	var showPath bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  `Print the configuration after defaults, the config file and LUAM_* environment variables are applied. Secrets are masked.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showPath {
				path := c.configPath
				if path == "" {
					p, err := config.DefaultPath()
					if err != nil {
						return err
					}
					path = p
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), path)
				return err
			}
			return c.cfg.Redacted().Encode(cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&showPath, "path", false, "print the config file location instead")
	return cmd
}
