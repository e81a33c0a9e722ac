package router

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// FileSource is a minimal, concrete EventSource: it tails a
// newline-delimited "project\tref\tupdater" file, emitting an event for
// every line appended after Subscribe starts watching. Real event
// observation (a Gerrit event stream, a message bus) is out of scope
// (SPEC_FULL.md §1); this exists so cmd/replication-daemon is runnable
// end-to-end without one.
type FileSource struct {
	path string
}

// NewFileSource returns a FileSource tailing path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Subscribe implements EventSource.
func (f *FileSource) Subscribe(ctx context.Context, handler func(project, ref, updater string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("filesource: new watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(f.path); err != nil {
		return fmt.Errorf("filesource: watch %s: %w", f.path, err)
	}

	var offset int64
	if info, err := os.Stat(f.path); err == nil {
		offset = info.Size()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watcher.Errors:
			return fmt.Errorf("filesource: watch error: %w", err)
		case ev := <-watcher.Events:
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			n, err := f.readFrom(offset, handler)
			if err != nil {
				return err
			}
			offset += n
		}
	}
}

func (f *FileSource) readFrom(offset int64, handler func(project, ref, updater string)) (int64, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return 0, fmt.Errorf("filesource: open %s: %w", f.path, err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("filesource: seek %s: %w", f.path, err)
	}

	var read int64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		read += int64(len(line)) + 1
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			continue
		}
		handler(fields[0], fields[1], fields[2])
	}
	return read, scanner.Err()
}
