package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// FileTailer follows a JSON-lines events file. It survives truncation
// (copytruncate rotation) and replacement by rename or remove/create.
type FileTailer struct {
	path      string
	fromStart bool
	dec       *Decoder

	f       *os.File
	r       *bufio.Reader
	offset  int64
	partial []byte // unterminated tail of the last read
}

// NewFileTailer returns a tailer for path. Unless fromStart is set, lines
// already in the file when Run starts are skipped.
func NewFileTailer(path string, fromStart bool, dec *Decoder) *FileTailer {
	return &FileTailer{path: filepath.Clean(path), fromStart: fromStart, dec: dec}
}

// Run tails the file until ctx is cancelled. The file does not have to exist
// yet; it is picked up when created.
func (t *FileTailer) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ingest: new watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so that create and rename of the file are seen.
	dir := filepath.Dir(t.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("ingest: watch %q: %w", dir, err)
	}

	if err := t.open(!t.fromStart); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	defer t.close()
	t.drain()

	slog.Info("ingest: tailing events file", "path", t.path, "from_start", t.fromStart)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != t.path {
				continue
			}
			switch {
			case event.Has(fsnotify.Create):
				// A new file under the same name: read it from the start.
				t.drain()
				t.close()
				if err := t.open(false); err != nil {
					slog.Error("ingest: reopen events file", "path", t.path, "err", err)
					continue
				}
				t.drain()
			case event.Has(fsnotify.Write):
				if t.f == nil {
					if err := t.open(false); err != nil {
						continue
					}
				}
				t.drain()
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				t.drain()
				t.close()
				slog.Info("ingest: events file moved away", "path", t.path)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("ingest: file watcher error", "err", err)
		}
	}
}

func (t *FileTailer) open(seekEnd bool) error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("ingest: open %q: %w", t.path, err)
	}
	var off int64
	if seekEnd {
		if off, err = f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return fmt.Errorf("ingest: seek %q: %w", t.path, err)
		}
	}
	t.f = f
	t.r = bufio.NewReader(f)
	t.offset = off
	t.partial = nil
	return nil
}

func (t *FileTailer) close() {
	if t.f != nil {
		t.f.Close()
	}
	t.f, t.r, t.offset, t.partial = nil, nil, 0, nil
}

// drain reads every complete line currently in the file.
func (t *FileTailer) drain() {
	if t.f == nil {
		return
	}
	if fi, err := t.f.Stat(); err == nil && fi.Size() < t.offset {
		slog.Info("ingest: events file truncated, rewinding", "path", t.path)
		if _, err := t.f.Seek(0, io.SeekStart); err != nil {
			slog.Error("ingest: rewind events file", "path", t.path, "err", err)
			return
		}
		t.r.Reset(t.f)
		t.offset = 0
		t.partial = nil
	}

	for {
		b, err := t.r.ReadBytes('\n')
		t.offset += int64(len(b))
		if err == nil {
			line := append(t.partial, b...)
			t.partial = nil
			t.dec.Line(SourceFile, line)
			continue
		}
		if errors.Is(err, io.EOF) {
			t.partial = append(t.partial, b...)
			return
		}
		slog.Error("ingest: read events file", "path", t.path, "err", err)
		return
	}
}
