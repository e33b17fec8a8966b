// Package logging implements the handling of logs.
package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// RingBuffer is a simple ring-buffer implementation. Every line is
// timestamped, retained for the dashboard and streamed to the output
// writer. Debug lines are recorded only while debug mode is enabled.
type RingBuffer struct {
	mu    sync.Mutex
	out   io.Writer
	buf   []string
	index int
	full  bool
	size  int
	debug atomic.Bool
}

// NewRingBuffer returns a pointer to a new [RingBuffer].
func NewRingBuffer(size int, out io.Writer) *RingBuffer {
	return &RingBuffer{
		out:  out,
		buf:  make([]string, size),
		size: size,
	}
}

// Size returns the size of the ring-buffer.
func (b *RingBuffer) Size() int {
	return b.size
}

// Debug returns the debug-verbosity switch of the ring-buffer.
func (b *RingBuffer) Debug() *atomic.Bool {
	return &b.debug
}

// Lines returns a copy of the slice of ring-buffer contents.
func (b *RingBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]string, b.index)
		copy(out, b.buf[:b.index])

		return out
	}
	out := make([]string, b.size)
	copy(out, b.buf[b.index:])
	copy(out[b.size-b.index:], b.buf[:b.index])

	return out
}

// Reset returns the ring-buffer to zero state.
func (b *RingBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = make([]string, b.size)
	b.index = 0
	b.full = false
}

// Printf adds a message to the ring-buffer and also prints it to the stream.
func (b *RingBuffer) Printf(format string, args ...any) {
	b.emit(fmt.Sprintf(format, args...))
}

// Println adds a message to the ring-buffer and also prints it to the stream.
func (b *RingBuffer) Println(args ...any) {
	b.emit(fmt.Sprintln(args...))
}

// Debugf is [RingBuffer.Printf] gated behind the debug-verbosity switch.
func (b *RingBuffer) Debugf(format string, args ...any) {
	if !b.debug.Load() {
		return
	}
	b.emit("DEBUG " + fmt.Sprintf(format, args...))
}

func (b *RingBuffer) emit(msg string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	full := fmt.Sprintf("%s %s", timestamp, strings.TrimRight(msg, "\n"))

	b.add(full)                      // add to buffer with timestamp
	fmt.Fprintf(b.out, "%s\n", full) // also goes to stream
}

// add adds a new message to the ring-buffer.
func (b *RingBuffer) add(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf[b.index] = strings.TrimSuffix(msg, "\n")
	b.index = (b.index + 1) % b.size
	if b.index == 0 {
		b.full = true
	}
}
