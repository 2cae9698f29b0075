package main

import (
	"fmt"

	"github.com/openmined/bucketgallery/internal/version"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	var short bool

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := version.DetailedWithApp()
			if short {
				v = version.Version
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), v)
			return err
		},
	}

	versionCmd.Flags().BoolVarP(&short, "short", "s", false, "print only the version number")
	return versionCmd
}
