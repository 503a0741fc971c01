// Package progress defines the narrow, non-blocking sink dsg's
// lifecycle layer reports progress through, and a simple TTY-aware
// text renderer — the only renderer this engine ships, since richer
// UIs are out of scope per the specification.
package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// Operation names one unit of work the engine reports progress for.
type Operation struct {
	Kind string // "upload", "download", "delete", "scan", ...
	Path string
}

// Sink receives progress callbacks. Every method must return
// promptly and never block the engine on I/O or user interaction —
// callers that need to throttle output do so internally (see
// TextSink's TTY-aware line handling).
type Sink interface {
	OnOperationStart(op Operation, total int64)
	OnOperationProgress(op Operation, done int64)
	OnOperationEnd(op Operation, err error)
}

// NoopSink discards every callback, used where no progress reporting
// is wanted (library callers, tests).
type NoopSink struct{}

func (NoopSink) OnOperationStart(Operation, int64)    {}
func (NoopSink) OnOperationProgress(Operation, int64) {}
func (NoopSink) OnOperationEnd(Operation, error)      {}

// TextSink renders progress as plain text lines. When its output is a
// TTY it overwrites the current line with carriage returns; otherwise
// (redirected to a file, a pipe, a log) it prints one line when an
// operation starts and one when it ends, and nothing for intermediate
// progress, since carriage-return overwriting only makes sense on an
// interactive terminal.
type TextSink struct {
	w      io.Writer
	isTTY  bool
	mu     sync.Mutex
	active string
}

// NewTextSink returns a TextSink writing to w, detecting terminal-ness
// via go-isatty when w is backed by an *os.File.
func NewTextSink(w io.Writer) *TextSink {
	tty := false

	if f, ok := w.(interface{ Fd() uintptr }); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	return &TextSink{w: w, isTTY: tty}
}

func (s *TextSink) OnOperationStart(op Operation, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := fmt.Sprintf("%s %s", op.Kind, op.Path)
	if total > 0 {
		line += fmt.Sprintf(" (%s)", humanize.Bytes(uint64(total)))
	}

	s.emit(line)
}

func (s *TextSink) OnOperationProgress(op Operation, done int64) {
	if !s.isTTY {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.emit(fmt.Sprintf("%s %s: %s", op.Kind, op.Path, humanize.Bytes(uint64(done))))
}

func (s *TextSink) OnOperationEnd(op Operation, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.emit(fmt.Sprintf("%s %s: failed: %v", op.Kind, op.Path, err))
		return
	}

	s.emit(fmt.Sprintf("%s %s: done", op.Kind, op.Path))
}

func (s *TextSink) emit(line string) {
	if s.isTTY {
		fmt.Fprintf(s.w, "\r\x1b[K%s", line)
		s.active = line
	} else {
		fmt.Fprintln(s.w, line)
	}
}
