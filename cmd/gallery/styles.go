package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/openmined/bucketgallery/internal/version"
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	red       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan      = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray      = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	lightGray = lipgloss.NewStyle().Foreground(lipgloss.Color("248"))
)

func showHeader(w io.Writer) {
	fmt.Fprintln(w, cyan.Bold(true).Render("▚ "+version.AppName)+" "+gray.Render(version.Short()))
}
