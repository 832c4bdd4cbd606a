package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

func timeNow() time.Time { return time.Now() }

// Local is a filesystem-backed Sandbox rooted at a single directory. Every
// path argument is cleaned and resolved relative to root; anything that
// escapes it is rejected with ErrBoundaryViolation.
type Local struct {
	root   string
	logger *slog.Logger

	mu       sync.Mutex
	watchers []*fsnotify.Watcher
}

// NewLocal creates a Local sandbox rooted at root. root must already exist.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("sandbox: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox: root %q is not a directory", abs)
	}
	return &Local{
		root:   abs,
		logger: slog.Default().With("component", "sandbox"),
	}, nil
}

func (l *Local) Root() string { return l.root }

// resolve cleans and joins path against root, rejecting any traversal that
// would escape the boundary.
func (l *Local) resolve(path string) (string, error) {
	cleaned := filepath.Clean("/" + path)
	full := filepath.Join(l.root, cleaned)
	rel, err := filepath.Rel(l.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrBoundaryViolation
	}
	return full, nil
}

func (l *Local) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

func (l *Local) Write(ctx context.Context, path string, data io.Reader) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("sandbox: mkdir: %w", err)
	}
	tmp := full + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sandbox: open tmp: %w", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sandbox: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sandbox: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("sandbox: close: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("sandbox: rename: %w", err)
	}
	return nil
}

func (l *Local) Edit(ctx context.Context, path string, oldText, newText string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(full)
	if err != nil {
		return fmt.Errorf("sandbox: read for edit: %w", err)
	}
	n := strings.Count(string(raw), oldText)
	if n == 0 {
		return fmt.Errorf("sandbox: edit: old text not found in %s", path)
	}
	if n > 1 {
		return fmt.Errorf("sandbox: edit: old text not unique in %s (%d matches)", path, n)
	}
	updated := strings.Replace(string(raw), oldText, newText, 1)
	return l.Write(ctx, path, bytes.NewReader([]byte(updated)))
}

func (l *Local) Stat(ctx context.Context, path string) (Stat, error) {
	full, err := l.resolve(path)
	if err != nil {
		return Stat{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return Stat{}, err
	}
	return statFromFileInfo(path, info), nil
}

func statFromFileInfo(path string, info os.FileInfo) Stat {
	kind := FileKindRegular
	switch {
	case info.IsDir():
		kind = FileKindDir
	case info.Mode()&os.ModeSymlink != 0:
		kind = FileKindSymlink
	}
	return Stat{Path: path, Kind: kind, Size: info.Size(), ModTime: info.ModTime()}
}

func (l *Local) List(ctx context.Context, dir string) ([]Stat, error) {
	full, err := l.resolve(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("sandbox: readdir: %w", err)
	}
	out := make([]Stat, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, statFromFileInfo(filepath.Join(dir, e.Name()), info))
	}
	return out, nil
}

// execAllowlist mirrors the runtime's sandbox boundary: only a small set
// of read-oriented binaries are permitted without an explicit policy
// override, matching the safe-bins pattern the permission engine uses
// for auto-approved shell tools.
var execAllowlist = map[string]bool{
	"ls": true, "cat": true, "grep": true, "find": true,
	"echo": true, "pwd": true, "wc": true, "head": true, "tail": true,
}

func (l *Local) Exec(ctx context.Context, cmd string, args []string) (ExecResult, error) {
	if !execAllowlist[cmd] {
		return ExecResult{}, fmt.Errorf("sandbox: exec: %q not in allowlist", cmd)
	}
	c := exec.CommandContext(ctx, cmd, args...)
	c.Dir = l.root
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()
	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("sandbox: exec: %w", err)
	}
	return res, nil
}

func (l *Local) Watch(ctx context.Context, path string) (<-chan WatchEvent, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("sandbox: new watcher: %w", err)
	}
	if err := watcher.Add(full); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("sandbox: watch add: %w", err)
	}

	l.mu.Lock()
	l.watchers = append(l.watchers, watcher)
	l.mu.Unlock()

	out := make(chan WatchEvent, 32)
	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				op, handled := watchOp(ev.Op)
				if !handled {
					continue
				}
				rel, err := filepath.Rel(l.root, ev.Name)
				if err != nil {
					continue
				}
				select {
				case out <- WatchEvent{Path: rel, Op: op, Time: timeNow()}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("sandbox watch error", "error", err)
			}
		}
	}()

	return out, nil
}

func watchOp(op fsnotify.Op) (WatchEventOp, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return WatchOpCreate, true
	case op&fsnotify.Write != 0:
		return WatchOpWrite, true
	case op&fsnotify.Remove != 0:
		return WatchOpRemove, true
	case op&fsnotify.Rename != 0:
		return WatchOpRename, true
	default:
		return "", false
	}
}

func (l *Local) Dispose() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, w := range l.watchers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.watchers = nil
	return firstErr
}
