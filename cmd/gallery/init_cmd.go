package main

import (
	"fmt"

	"github.com/openmined/bucketgallery/internal/utils"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func newInitCmd() *cobra.Command {
	var accessKey, secretKey string
	var pathStyle, overwrite bool

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file from flags and environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flag("access-key").Changed {
				cfg.AccessKey = accessKey
			}
			if cmd.Flag("secret-key").Changed {
				cfg.SecretKey = secretKey
			}
			if cmd.Flag("path-style").Changed {
				cfg.PathStyle = pathStyle
			}

			path := cfg.Path
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if utils.FileExists(path) && !overwrite {
				return fmt.Errorf("config '%s' already exists, pass --overwrite to replace it", path)
			}
			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s config written to %s\n", green.Render("✓"), cyan.Render(path))
			return nil
		},
	}

	initCmd.Flags().StringVar(&accessKey, "access-key", "", "bucket access key")
	initCmd.Flags().StringVar(&secretKey, "secret-key", "", "bucket secret key")
	initCmd.Flags().BoolVar(&pathStyle, "path-style", false, "use path style bucket addressing")
	initCmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing config file")
	return initCmd
}
