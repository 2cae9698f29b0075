package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newURLCmd())
	rootCmd.AddCommand(newRmCmd())
}

func newURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "url <key>",
		Short: "Print the access url of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			s, err := openSession(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			u, err := s.resolveURL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), u)
			return err
		},
	}
}

func newRmCmd() *cobra.Command {
	var yes bool

	rmCmd := &cobra.Command{
		Use:   "rm <key>...",
		Short: "Delete objects from the bucket",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			if !yes {
				return fmt.Errorf("refusing to delete %d object(s) without --yes", len(args))
			}

			s, err := openSession(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			failed := 0
			for _, key := range args {
				if err := s.client.DeleteObject(cmd.Context(), key); err != nil {
					failed++
					fmt.Fprintf(out, "%s %s: %v\n", red.Render("✗"), key, err)
					continue
				}
				s.cache.Delete(key)
				fmt.Fprintf(out, "%s %s\n", green.Render("✓"), key)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d deletes failed", failed, len(args))
			}
			return nil
		},
	}

	rmCmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the delete")
	return rmCmd
}
