package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/openmined/bucketgallery/internal/localhttp"
	"github.com/spf13/cobra"
)

const txtWatchHelp = "'r' sync  'R' force sync  'q' quit"

var (
	titleStyle   = cyan.Bold(true)
	labelStyle   = lightGray.Width(12)
	helpStyle    = gray
	errorStyle   = red
	spinnerStyle = cyan
)

func init() {
	rootCmd.AddCommand(newWatchCmd())
}

func newWatchCmd() *cobra.Command {
	var addr string
	var interval time.Duration

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Live status of a running gallery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			ctx := cmd.Context()
			m := newWatchModel(ctx, newAPIClient(addr), interval)
			_, err := tea.NewProgram(m, tea.WithContext(ctx)).Run()
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	watchCmd.Flags().StringVarP(&addr, "http-addr", "a", localhttp.DefaultAddr, "address of the running gallery")
	watchCmd.Flags().DurationVarP(&interval, "interval", "i", 2*time.Second, "poll interval")
	return watchCmd
}

type galleryAPI interface {
	Gallery(ctx context.Context) (*localhttp.GalleryResponse, error)
	Sync(ctx context.Context, force bool) (*localhttp.SyncResponse, error)
	CacheStats(ctx context.Context) (*localhttp.CacheStatsResponse, error)
}

type watchModel struct {
	ctx      context.Context
	api      galleryAPI
	interval time.Duration
	spinner  spinner.Model

	gallery  *localhttp.GalleryResponse
	stats    *localhttp.CacheStatsResponse
	lastSync *localhttp.SyncResponse
	syncing  bool
	err      error
}

// --- Messages ---
type statusMsg struct {
	gallery *localhttp.GalleryResponse
	stats   *localhttp.CacheStatsResponse
	err     error
}
type pollTickMsg struct{}
type syncDoneMsg struct {
	res *localhttp.SyncResponse
	err error
}

func newWatchModel(ctx context.Context, api galleryAPI, interval time.Duration) watchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return watchModel{ctx: ctx, api: api, interval: interval, spinner: s}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r", "R":
			if m.syncing {
				return m, nil
			}
			m.syncing = true
			return m, m.sync(msg.String() == "R")
		}

	case statusMsg:
		m.err = msg.err
		if msg.err == nil {
			m.gallery, m.stats = msg.gallery, msg.stats
		}
		return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return pollTickMsg{} })

	case pollTickMsg:
		return m, m.poll()

	case syncDoneMsg:
		m.syncing = false
		m.err = msg.err
		if msg.err == nil {
			m.lastSync = msg.res
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Bucket Gallery") + "\n\n")

	if g := m.gallery; g != nil {
		row := func(label, value string) {
			b.WriteString(labelStyle.Render(label) + value + "\n")
		}
		row("images", fmt.Sprintf("%d shown / %d objects", len(g.Visible), g.Known))
		if g.SearchQuery != "" {
			mode := "wildcard"
			if g.UseRegex {
				mode = "regex"
			}
			row("search", fmt.Sprintf("%q (%s)", g.SearchQuery, mode))
		}
		if g.LastSync.IsZero() {
			row("last sync", "never")
		} else {
			row("last sync", humanize.Time(g.LastSync))
		}
		row("version", fmt.Sprint(g.Version))
		if len(g.Oversized) > 0 {
			row("oversized", yellow.Render(fmt.Sprintf("%d images", len(g.Oversized))))
		}
	}
	if s := m.stats; s != nil {
		b.WriteString(labelStyle.Render("url cache") + fmt.Sprintf("%d entries, %s", s.Count, humanize.IBytes(uint64(s.TotalSize))) + "\n")
	}

	b.WriteString("\n")
	if m.syncing || (m.gallery != nil && m.gallery.IsSyncing) {
		b.WriteString(m.spinner.View() + " syncing...\n")
	} else if r := m.lastSync; r != nil {
		if r.Changed {
			b.WriteString(green.Render(fmt.Sprintf("synced: +%d ~%d -%d", r.Added, r.Modified, r.Removed)) + "\n")
		} else {
			b.WriteString(gray.Render("synced: no changes") + "\n")
		}
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()) + "\n")
	}

	b.WriteString("\n" + helpStyle.Render(txtWatchHelp) + "\n")
	return b.String()
}

func (m watchModel) poll() tea.Cmd {
	return func() tea.Msg {
		g, err := m.api.Gallery(m.ctx)
		if err != nil {
			return statusMsg{err: err}
		}
		s, err := m.api.CacheStats(m.ctx)
		if err != nil {
			return statusMsg{err: err}
		}
		return statusMsg{gallery: g, stats: s}
	}
}

func (m watchModel) sync(force bool) tea.Cmd {
	return func() tea.Msg {
		res, err := m.api.Sync(m.ctx, force)
		return syncDoneMsg{res: res, err: err}
	}
}
