// Package ingest watches the directory the ledger event logs are written to
// and reports which log files changed.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Op represents the type of file operation.
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpDelete
)

// String returns a human-readable representation of the operation.
func (o Op) String() string {
	switch o {
	case OpCreate:
		return "Create"
	case OpModify:
		return "Modify"
	case OpDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// FileEvent reports a change to one event log.
type FileEvent struct {
	Path string
	Op   Op
}

// ErrorCallback is called when an error occurs during watching.
type ErrorCallback func(err error)

// DefaultExtension is the suffix of event log files.
const DefaultExtension = ".jsonl"

var (
	// ErrRootNotExist is returned when the event directory does not exist.
	ErrRootNotExist = errors.New("ingest: event directory does not exist")

	// ErrRootNotDirectory is returned when the event path is not a directory.
	ErrRootNotDirectory = errors.New("ingest: event path is not a directory")
)

// Watcher monitors one directory for event log changes. Subdirectories and
// files without the log extension are ignored.
type Watcher struct {
	root      string
	extension string
	events    chan<- FileEvent
	fsw       *fsnotify.Watcher

	onError      ErrorCallback
	droppedCount atomic.Int64

	done chan struct{}
}

// NewWatcher creates a watcher for root that sends to events.
func NewWatcher(root string, events chan<- FileEvent) (*Watcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRootNotExist, root)
		}
		return nil, fmt.Errorf("cannot access event directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRootNotDirectory, root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		root:      root,
		extension: DefaultExtension,
		events:    events,
		fsw:       fsw,
		done:      make(chan struct{}),
	}, nil
}

// SetExtension changes the log file suffix. Call before Start.
func (w *Watcher) SetExtension(ext string) {
	w.extension = ext
}

// SetErrorCallback sets a callback function that will be called when errors occur.
func (w *Watcher) SetErrorCallback(cb ErrorCallback) {
	w.onError = cb
}

// DroppedEventCount returns the number of events that were dropped due to channel full.
func (w *Watcher) DroppedEventCount() int64 {
	return w.droppedCount.Load()
}

// Root returns the watched directory.
func (w *Watcher) Root() string {
	return w.root
}

func (w *Watcher) matches(path string) bool {
	return strings.HasSuffix(filepath.Base(path), w.extension)
}

// Scan returns the log files already present, sorted by name. Logs are
// replayed in this order on startup.
func (w *Watcher) Scan() ([]string, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !w.matches(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(w.root, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Start begins watching for events (blocking).
// Returns when the context is cancelled or Close() is called.
func (w *Watcher) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.matches(event.Name) {
				continue
			}

			var op Op
			switch {
			case event.Op&fsnotify.Create != 0:
				op = OpCreate
			case event.Op&fsnotify.Write != 0:
				op = OpModify
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				op = OpDelete
			default:
				continue
			}

			// The synchronizer rereads the whole tail of a file, so a
			// dropped event only delays ingestion until the next one.
			select {
			case w.events <- FileEvent{Path: event.Name, Op: op}:
			default:
				w.droppedCount.Add(1)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

// Close stops the watcher and signals Start() to return.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	return w.fsw.Close()
}
