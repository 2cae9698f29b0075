package main

import (
	"fmt"
	"io"

	"github.com/openmined/bucketgallery/internal/localhttp"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	var addr string
	var force bool

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Ask a running gallery to sync with the bucket now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			res, err := newAPIClient(addr).Sync(cmd.Context(), force)
			if err != nil {
				return err
			}
			printSyncResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	syncCmd.Flags().StringVarP(&addr, "http-addr", "a", localhttp.DefaultAddr, "address of the running gallery")
	syncCmd.Flags().BoolVarP(&force, "force", "f", false, "skip the refresh cooldown")
	return syncCmd
}

func printSyncResult(w io.Writer, res *localhttp.SyncResponse) {
	if !res.Changed {
		fmt.Fprintln(w, gray.Render("gallery is up to date"))
		return
	}
	fmt.Fprintf(w, "%s %d  %s %d  %s %d\n",
		green.Render("added"), res.Added,
		yellow.Render("modified"), res.Modified,
		red.Render("removed"), res.Removed,
	)
}
