package daemonctl

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
)

const (
	hubBacklogLimit = 1000
	hubSubBuffer    = 256
)

// lineHub fans the lines of one process pipe out to any number of followers.
// Lines printed before the first follower attaches are kept (up to a limit)
// and handed to that follower, the way an unread pipe would hold them.
//
// pump is the only sender on subscriber input channels and the only one
// closing them.
type lineHub struct {
	mu       sync.Mutex
	subs     map[*lineSub]struct{}
	backlog  []string
	attached bool
	closed   bool
}

type lineSub struct {
	in   chan string
	done <-chan struct{}
}

func newLineHub() *lineHub {
	return &lineHub{subs: make(map[*lineSub]struct{})}
}

// pump reads r until EOF, then closes every follower
func (h *lineHub) pump(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		h.publish(strings.TrimRight(scanner.Text(), "\r"))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		close(sub.in)
		delete(h.subs, sub)
	}
}

func (h *lineHub) publish(line string) {
	h.mu.Lock()
	if !h.attached {
		h.backlog = append(h.backlog, line)
		if len(h.backlog) > hubBacklogLimit {
			h.backlog = h.backlog[len(h.backlog)-hubBacklogLimit:]
		}
	}
	subs := make([]*lineSub, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		select {
		case <-sub.done:
			h.drop(sub)
			continue
		default:
		}
		select {
		case sub.in <- line:
		case <-sub.done:
			h.drop(sub)
		}
	}
}

func (h *lineHub) drop(sub *lineSub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.in)
	}
}

// follow returns a fresh stream of lines, closed at EOF or when ctx is done
func (h *lineHub) follow(ctx context.Context) <-chan string {
	h.mu.Lock()
	var backlog []string
	if !h.attached {
		backlog = h.backlog
		h.backlog = nil
		h.attached = true
	}

	sub := &lineSub{in: make(chan string, hubSubBuffer+len(backlog)), done: ctx.Done()}
	for _, line := range backlog {
		sub.in <- line
	}
	if h.closed {
		close(sub.in)
	} else {
		h.subs[sub] = struct{}{}
	}
	h.mu.Unlock()

	out := make(chan string)
	go func() {
		defer close(out)
		for {
			select {
			case line, ok := <-sub.in:
				if !ok {
					return
				}
				select {
				case out <- line:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
