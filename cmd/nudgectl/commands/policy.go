package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ashureev/nudge/internal/config"
)

// NewPolicyCmd creates the policy command.
func NewPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Print the effective trigger policy",
		Long:  "Print the policy the daemon would run with, after defaults and environment overrides, as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			out, err := yaml.Marshal(cfg.Policy.File())
			if err != nil {
				return fmt.Errorf("failed to render policy: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# policy file: %s\n# timezone: %s\n", cfg.PolicyFile, cfg.Location)
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	return cmd
}
