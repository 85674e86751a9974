package daemonctl

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// followPollInterval reads the file even without events, for filesystems
// whose change notifications are unreliable
const followPollInterval = time.Second

// fileFollower tails a log file that may be rotated or recreated
type fileFollower struct {
	path    string
	f       *os.File
	r       *bufio.Reader
	partial strings.Builder
}

// followStopGrace bounds how long Stop waits for the reader goroutine
const followStopGrace = 100 * time.Millisecond

// Follow is a running file follower
type Follow struct {
	lines <-chan string
	sctx  *stopper.Context
}

// Lines delivers the followed lines. It is closed once the follower stops.
func (f *Follow) Lines() <-chan string {
	return f.lines
}

// Stop ends the follow and waits for its goroutine to exit. It is safe to
// call more than once.
func (f *Follow) Stop() error {
	f.sctx.Stop(followStopGrace)
	err := f.sctx.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// FollowFile streams lines appended to path after the call, like `tail -F`.
// The file is reopened from the start when it is recreated or rotated.
// The channel is closed when ctx is done.
func FollowFile(ctx context.Context, path string) (<-chan string, error) {
	f, err := StartFollow(ctx, path)
	if err != nil {
		return nil, err
	}
	return f.Lines(), nil
}

// StartFollow is FollowFile with an explicit Stop. Cancelling ctx stops it
// too.
func StartFollow(ctx context.Context, path string) (*Follow, error) {
	ff := &fileFollower{path: path}
	if err := ff.open(true); err != nil {
		return nil, &OpError{Op: "follow", Target: path, Err: err}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		_ = ff.close()
		return nil, &OpError{Op: "follow", Target: path, Err: err}
	}
	// Watch the directory so rotation and recreation are seen
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		_ = ff.close()
		return nil, &OpError{Op: "follow", Target: path, Err: err}
	}

	ch := make(chan string, 64)
	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = watcher.Close()
		_ = ff.close()
	})

	sctx.Go(func(sctx *stopper.Context) error {
		defer close(ch)

		ticker := time.NewTicker(followPollInterval)
		defer ticker.Stop()

		emit := func() bool {
			for _, line := range ff.readLines() {
				select {
				case ch <- line:
				case <-sctx.Stopping():
					return false
				}
			}
			return true
		}

		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					// Drain what the old file still holds, then switch over
					if !emit() {
						return nil
					}
					_ = ff.close()
					_ = ff.open(false)
				}
				if !emit() {
					return nil
				}

			case _, ok := <-watcher.Errors:
				if !ok {
					return nil
				}

			case <-ticker.C:
				if ff.f == nil {
					_ = ff.open(false)
				}
				if !emit() {
					return nil
				}
			}
		}
		return nil
	})

	return &Follow{lines: ch, sctx: sctx}, nil
}

// open opens the file, positioned at its end when atEnd is set. A missing
// file is not an error; it is picked up once created.
func (ff *fileFollower) open(atEnd bool) error {
	f, err := os.Open(ff.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if atEnd {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			_ = f.Close()
			return err
		}
	}
	ff.f = f
	ff.r = bufio.NewReader(f)
	ff.partial.Reset()
	return nil
}

func (ff *fileFollower) close() error {
	if ff.f == nil {
		return nil
	}
	err := ff.f.Close()
	ff.f, ff.r = nil, nil
	return err
}

// readLines returns every complete line available. An incomplete trailing
// line is held back until its newline arrives.
func (ff *fileFollower) readLines() []string {
	if ff.r == nil {
		return nil
	}
	var lines []string
	for {
		chunk, err := ff.r.ReadString('\n')
		ff.partial.WriteString(chunk)
		if err != nil {
			return lines
		}
		lines = append(lines, strings.TrimRight(ff.partial.String(), "\r\n"))
		ff.partial.Reset()
	}
}
