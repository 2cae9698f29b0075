// Package logging configures the process-wide slog logger: a colored console
// handler and an optional plain-text log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/bucketgallery/internal/utils"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

type Options struct {
	Level slog.Level

	// Console receives colored output. Colors are disabled unless it is a terminal.
	Console io.Writer

	// FilePath, when set, receives every record as a numbered text line.
	// The file is truncated on open.
	FilePath string
}

// New builds a logger from opts. The returned close func releases the log file.
func New(opts Options) (*slog.Logger, func() error, error) {
	var handlers fanout
	closeFn := func() error { return nil }

	if opts.Console != nil {
		handlers = append(handlers, tint.NewHandler(opts.Console, &tint.Options{
			Level:      opts.Level,
			TimeFormat: consoleTimeFormat,
			NoColor:    !isTerminal(opts.Console),
		}))
	}

	if opts.FilePath != "" {
		if err := utils.EnsureParent(opts.FilePath); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		file, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, slog.NewTextHandler(newNumberedWriter(file), &slog.HandlerOptions{
			Level: opts.Level,
		}))
		closeFn = file.Close
	}

	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(io.Discard, nil))
	}

	return slog.New(handlers), closeFn, nil
}

// Setup installs the logger from New as the slog default.
func Setup(opts Options) (func() error, error) {
	logger, closeFn, err := New(opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return closeFn, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// numberedWriter prefixes every write with a running line number. slog text
// handlers emit exactly one record per Write.
type numberedWriter struct {
	mu      sync.Mutex
	w       io.Writer
	counter atomic.Uint64
}

func newNumberedWriter(w io.Writer) *numberedWriter {
	return &numberedWriter{w: w}
}

func (n *numberedWriter) Write(p []byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	prefix := slog.Uint64("line", n.counter.Add(1)).String() + " "
	if _, err := io.WriteString(n.w, prefix); err != nil {
		return 0, err
	}
	return n.w.Write(p)
}
