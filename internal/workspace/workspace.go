package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/openmined/bucketgallery/internal/utils"
)

const (
	logsDir     = "logs"
	metadataDir = ".data"
	lockFile    = "gallery.lock"
	cacheDBFile = "cache.db"
	logFile     = "gallery.log"
)

var ErrWorkspaceLocked = errors.New("workspace locked by another gallery session")

// Workspace is the on-disk home of one gallery session: logs and the durable
// cache store. Only one process may hold it at a time.
type Workspace struct {
	Root        string
	LogsDir     string
	MetadataDir string

	flock *flock.Flock
}

func NewWorkspace(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %s: %w", rootDir, err)
	}

	return &Workspace{
		Root:        root,
		LogsDir:     filepath.Join(root, logsDir),
		MetadataDir: filepath.Join(root, metadataDir),
		flock:       flock.New(filepath.Join(root, metadataDir, lockFile)),
	}, nil
}

// CacheDBPath is the sqlite file backing the URL cache.
func (w *Workspace) CacheDBPath() string {
	return filepath.Join(w.MetadataDir, cacheDBFile)
}

func (w *Workspace) LogFilePath() string {
	return filepath.Join(w.LogsDir, logFile)
}

// Setup creates the workspace directories.
func (w *Workspace) Setup() error {
	for _, dir := range []string{w.Root, w.LogsDir, w.MetadataDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("create %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

// Unlock releases the lock and removes the lock file. It is a no-op when
// this process does not hold the lock.
func (w *Workspace) Unlock() error {
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}
