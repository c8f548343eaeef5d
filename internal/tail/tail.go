// Package tail streams a growing text file to a single consumer: a bounded
// backfill of recent history first, then newly appended complete lines in
// arrival order. Growth is picked up by a fixed-interval poll; an fsnotify
// watcher only shortcuts teardown when the file is deleted or renamed away
// underneath the session.
package tail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"aird/internal/kind"
)

// State is the lifecycle phase of a Session.
type State int32

const (
	StateOpening State = iota
	StateBackfilling
	StateStreaming
	StateClosed
)

const (
	// DefaultInterval is the poll period between reads for new lines.
	DefaultInterval = 500 * time.Millisecond

	// DefaultBackfillLines bounds how much history the initial message
	// carries, independent of file size.
	DefaultBackfillLines = 100

	outBuffer = 64
)

// Session tails one file for one consumer. Create with NewSession, drive
// with Run, receive on Out. Close is idempotent and safe to call from any
// goroutine, including concurrently with Run returning on its own.
type Session struct {
	path     string
	interval time.Duration
	backfill int

	out       chan string
	closing   chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
}

// Option adjusts a Session before it starts.
type Option func(*Session)

// WithInterval overrides the poll interval (tests use a short one).
func WithInterval(d time.Duration) Option {
	return func(s *Session) { s.interval = d }
}

// WithBackfillLines overrides the backfill bound.
func WithBackfillLines(n int) Option {
	return func(s *Session) { s.backfill = n }
}

// NewSession prepares a tail of the file at the already-resolved absolute
// path. Path containment is the caller's concern; the session only trusts
// paths that went through fsutil.
func NewSession(path string, opts ...Option) *Session {
	s := &Session{
		path:     path,
		interval: DefaultInterval,
		backfill: DefaultBackfillLines,
		out:      make(chan string, outBuffer),
		closing:  make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Out is the message stream: one backfill message first (if the file was
// non-empty), then one message per appended complete line. The channel is
// closed when the session reaches Closed.
func (s *Session) Out() <-chan string { return s.out }

// State reports the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

// Close requests teardown. After the poll loop observes it, no further
// messages are delivered. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// Run executes the session until the file becomes unreadable, the context
// is cancelled, Close is called, or the consumer stops. The output channel
// is closed before Run returns. A validation failure is returned immediately
// so the caller can send a diagnostic instead.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		s.state.Store(int32(StateClosed))
		close(s.out)
	}()

	st, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: file vanished before tailing", kind.ErrNotFound)
		}
		return fmt.Errorf("tail open: %w", kind.ErrIO)
	}
	if !st.Mode().IsRegular() {
		return fmt.Errorf("%w: not a regular file", kind.ErrNotFound)
	}

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("tail open: %w", kind.ErrIO)
	}
	defer f.Close()

	s.state.Store(int32(StateBackfilling))
	offset, history, err := readBackfill(f, s.backfill)
	if err != nil {
		return fmt.Errorf("tail backfill: %w", kind.ErrIO)
	}
	if history != "" {
		if !s.send(ctx, history) {
			return nil
		}
	}

	// Watch for the file being deleted or renamed out from under us so
	// teardown does not wait for the next failing poll. Watch errors are
	// non-fatal: polling alone still terminates via read errors.
	var watch chan fsnotify.Event
	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(s.path); err == nil {
			watch = make(chan fsnotify.Event, 1)
			go forwardRemovals(w, watch)
		}
		defer w.Close()
	}

	s.state.Store(int32(StateStreaming))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closing:
			return nil
		case <-watch:
			return nil
		case <-ticker.C:
			var lines []string
			lines, offset, err = readNewLines(f, offset)
			if err != nil {
				// Deletion or rename racing the open handle ends the
				// session, never the process.
				return nil
			}
			for _, line := range lines {
				if !s.send(ctx, line) {
					return nil
				}
			}
		}
	}
}

// send delivers one message, blocking until the consumer takes it or the
// session is torn down. Returns false once closing.
func (s *Session) send(ctx context.Context, msg string) bool {
	select {
	case s.out <- msg:
		return true
	case <-ctx.Done():
		return false
	case <-s.closing:
		return false
	}
}

// readBackfill scans the whole file keeping only the most recent n lines
// (terminators preserved, a final unterminated line included), and returns
// the end-of-file offset where live streaming picks up.
func readBackfill(f *os.File, n int) (offset int64, history string, err error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, "", err
	}
	ring := make([]string, 0, n)
	r := bufio.NewReader(f)
	for {
		line, rerr := r.ReadString('\n')
		if line != "" {
			if len(ring) == n {
				ring = append(ring[1:], line)
			} else {
				ring = append(ring, line)
			}
			offset += int64(len(line))
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				return 0, "", rerr
			}
			break
		}
	}
	for _, l := range ring {
		history += l
	}
	return offset, history, nil
}

// readNewLines reads every complete line appended since offset. The offset
// advances only past newline-terminated lines, so a partially written tail
// is re-read on the next tick rather than emitted as a fragment.
func readNewLines(f *os.File, offset int64) ([]string, int64, error) {
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, err
	}
	var lines []string
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if err == nil {
			lines = append(lines, line)
			offset += int64(len(line))
			continue
		}
		if errors.Is(err, io.EOF) {
			return lines, offset, nil
		}
		return lines, offset, err
	}
}

// forwardRemovals turns Remove/Rename events into a single close signal and
// drains the watcher until it shuts down.
func forwardRemovals(w *fsnotify.Watcher, out chan<- fsnotify.Event) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				select {
				case out <- ev:
				default:
				}
			}
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}
