package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/openmined/bucketgallery/internal/objects"
	"github.com/openmined/bucketgallery/internal/search"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newLsCmd())
}

func newLsCmd() *cobra.Command {
	var query string
	var useRegex bool
	var limit int

	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List gallery images, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			s, err := openSession(cmd, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			objs, err := s.client.ListObjects(cmd.Context())
			if err != nil {
				return fmt.Errorf("list objects: %w", err)
			}
			objects.SortByLastModified(objs)

			media := s.cfg.GalleryConfig().MediaMatcher
			if media == nil {
				media = objects.DefaultMediaMatcher()
			}

			if query == "" {
				objs = media.Filter(objs)
			} else {
				engine := search.NewEngine(s.resolveURL, &search.Options{MediaMatcher: media})
				objs, err = engine.Search(cmd.Context(), objs, query, useRegex, 0)
				if err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderObjects(objs, limit, time.Now()))
			return nil
		},
	}

	lsCmd.Flags().StringVarP(&query, "search", "s", "", "filter by wildcard (or regex with --regex) on the object url")
	lsCmd.Flags().BoolVarP(&useRegex, "regex", "r", false, "treat --search as a regular expression")
	lsCmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n images (0 = all)")
	return lsCmd
}

func renderObjects(objs []objects.RemoteObject, limit int, now time.Time) string {
	total := len(objs)
	if limit > 0 && limit < total {
		objs = objs[:limit]
	}

	rows := make([][]string, 0, len(objs))
	for _, o := range objs {
		rows = append(rows, []string{
			o.Name,
			humanize.IBytes(uint64(o.Size)),
			humanize.RelTime(o.LastModified, now, "ago", "from now"),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(gray).
		Headers("NAME", "SIZE", "MODIFIED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return style.Inherit(cyan).Bold(true)
			}
			return style
		})

	footer := gray.Render(fmt.Sprintf("%d of %d images", len(objs), total))
	return t.String() + "\n" + footer
}
