package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/openmined/bucketgallery/internal/urlcache"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newCacheCmd())
}

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the url cache",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show url cache usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			s, err := openSession(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			printCacheStats(cmd.OutOrStdout(), s.cache.Stats(), s.cfg.Cache.MaxSize)
			return nil
		},
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every cached url",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			s, err := openSession(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			n := s.cache.Stats().Count
			s.cache.Clear()
			fmt.Fprintf(cmd.OutOrStdout(), "%s cleared %d entries\n", green.Render("✓"), n)
			return nil
		},
	})

	return cacheCmd
}

func printCacheStats(w io.Writer, st urlcache.Stats, maxSize int64) {
	pct := 0.0
	if maxSize > 0 {
		pct = float64(st.TotalSize) / float64(maxSize) * 100
	}
	fmt.Fprintf(w, "%s %d\n", lightGray.Render("entries"), st.Count)
	fmt.Fprintf(w, "%s %s of %s (%.1f%%)\n", lightGray.Render("size   "),
		humanize.IBytes(uint64(st.TotalSize)), humanize.IBytes(uint64(maxSize)), pct)
}
