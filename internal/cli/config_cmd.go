package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openclaw/conductor/internal/config"
)

func defaultConfigPath() string {
	if v := os.Getenv("CONDUCTOR_CONFIG"); v != "" {
		return v
	}
	return "config.yml"
}

func newConfigCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate the conductor's configuration",
	}
	cmd.PersistentFlags().StringVar(&path, "path", "", "Config file path (defaults to CONDUCTOR_CONFIG or config.yml)")

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show resolved config (after defaults applied)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolvePath(path))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(resolvePath(path)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	})

	return cmd
}

func resolvePath(path string) string {
	if path != "" {
		return path
	}
	return defaultConfigPath()
}
