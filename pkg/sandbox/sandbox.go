// Package sandbox defines the filesystem/process capability that tools
// execute against. A Sandbox scopes every operation to a root boundary
// and exposes a watch stream for file-system events, both requirements
// that the local implementation satisfies with fsnotify.
package sandbox

import (
	"context"
	"io"
	"time"
)

// FileKind discriminates the entries of a watch event or directory listing.
type FileKind string

const (
	FileKindRegular FileKind = "file"
	FileKindDir     FileKind = "dir"
	FileKindSymlink FileKind = "symlink"
)

// Stat describes a single filesystem entry.
type Stat struct {
	Path    string
	Kind    FileKind
	Size    int64
	ModTime time.Time
}

// WatchEventOp discriminates the kind of change a Watch delivers.
type WatchEventOp string

const (
	WatchOpCreate WatchEventOp = "create"
	WatchOpWrite  WatchEventOp = "write"
	WatchOpRemove WatchEventOp = "remove"
	WatchOpRename WatchEventOp = "rename"
)

// WatchEvent is a single change notification from Watch.
type WatchEvent struct {
	Path string
	Op   WatchEventOp
	Time time.Time
}

// ExecResult carries the outcome of Exec.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ErrBoundaryViolation is returned when a requested path resolves outside
// the sandbox root; callers surface this as an ErrSandboxViolation.
var ErrBoundaryViolation = boundaryError{}

type boundaryError struct{}

func (boundaryError) Error() string { return "sandbox: path escapes boundary" }

// Sandbox is the capability tools execute file and process operations
// against. Every method must resolve its path argument(s) against the
// sandbox root and reject escapes with ErrBoundaryViolation before
// touching the underlying filesystem.
type Sandbox interface {
	Read(ctx context.Context, path string) (io.ReadCloser, error)
	Write(ctx context.Context, path string, data io.Reader) error
	Edit(ctx context.Context, path string, oldText, newText string) error
	Stat(ctx context.Context, path string) (Stat, error)
	List(ctx context.Context, dir string) ([]Stat, error)
	Exec(ctx context.Context, cmd string, args []string) (ExecResult, error)

	// Watch streams filesystem events under path until ctx is cancelled
	// or Dispose is called. The returned channel is closed on either.
	Watch(ctx context.Context, path string) (<-chan WatchEvent, error)

	// Root returns the absolute boundary every path is resolved against.
	Root() string

	// Dispose releases resources (watchers, temp dirs) held by the
	// sandbox. Safe to call more than once.
	Dispose() error
}
