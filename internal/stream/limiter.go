// Package stream multiplexes the stdout and stderr of a child process
// into line-bounded flushes.
package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Stream names one of the two output streams of a process.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Valid reports whether s is stdout or stderr.
func (s Stream) Valid() bool {
	return s == Stdout || s == Stderr
}

const (
	DefaultReadSize    = 128
	DefaultMaxLineSize = 1 << 20
)

// ErrStream is returned when reading one of the streams
// fails. The exit status returned alongside it is not the
// process's result.
var ErrStream = errors.New("output stream read failure")

// FlushFunc receives one line (newline included) or the final
// unterminated fragment of a stream.
type FlushFunc func(s Stream, text string)

// WaitFunc waits for the process to exit and returns its
// exit status.
type WaitFunc func() (int, error)

// Limiter reads both output streams of a process in small
// increments and flushes them downstream one line at a time.
type Limiter struct {
	readSize    int
	maxLineSize int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithReadSize sets the largest number of bytes taken from a
// stream in one read.
func WithReadSize(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.readSize = n
		}
	}
}

// WithMaxLineSize forces a flush once a line grows to n bytes
// without a newline. Zero disables the limit.
func WithMaxLineSize(n int) Option {
	return func(l *Limiter) {
		if n >= 0 {
			l.maxLineSize = n
		}
	}
}

// NewLimiter creates a Limiter.
func NewLimiter(opts ...Option) *Limiter {
	l := &Limiter{
		readSize:    DefaultReadSize,
		maxLineSize: DefaultMaxLineSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type chunk struct {
	stream Stream
	data   []byte
	err    error
}

// Run consumes stdout and stderr until both reach EOF, calling
// flush for every completed line, then waits for the process
// and returns its exit status. A nil reader counts as an
// already closed stream. flush is only ever called from the
// goroutine running Run, and lines of one stream are flushed
// in order; ordering between the two streams follows data
// availability.
func (l *Limiter) Run(stdout, stderr io.Reader, wait WaitFunc, flush FlushFunc) (int, error) {
	var (
		chunks  = make(chan chunk)
		done    = make(chan struct{})
		open    = 0
		readers = map[Stream]io.Reader{}
		buffers = map[Stream]*bytes.Buffer{}
	)
	defer close(done)

	for _, src := range []struct {
		stream Stream
		r      io.Reader
	}{{Stdout, stdout}, {Stderr, stderr}} {
		if src.r == nil {
			continue
		}
		open++
		readers[src.stream] = src.r
		buffers[src.stream] = new(bytes.Buffer)
		go l.read(src.stream, src.r, chunks, done)
	}

	for open > 0 {
		c := <-chunks
		buf := buffers[c.stream]

		if c.err != nil {
			if !errors.Is(c.err, io.EOF) {
				closeAll(readers)
				return -1, fmt.Errorf("%w: %s: %v", ErrStream, c.stream, c.err)
			}
			if buf.Len() > 0 {
				flush(c.stream, buf.String())
				buf.Reset()
			}
			delete(readers, c.stream)
			open--
			continue
		}

		for _, b := range c.data {
			buf.WriteByte(b)
			if b == '\n' || (l.maxLineSize > 0 && buf.Len() >= l.maxLineSize) {
				flush(c.stream, buf.String())
				buf.Reset()
			}
		}
	}

	if wait == nil {
		return 0, nil
	}
	return wait()
}

func (l *Limiter) read(s Stream, r io.Reader, out chan<- chunk, done <-chan struct{}) {
	buf := make([]byte, l.readSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case out <- chunk{stream: s, data: data}:
			case <-done:
				return
			}
		}
		if err != nil {
			select {
			case out <- chunk{stream: s, err: err}:
			case <-done:
			}
			return
		}
	}
}

// closeAll releases readers still blocked in Read after the
// loop gave up on them.
func closeAll(readers map[Stream]io.Reader) {
	for _, r := range readers {
		if c, ok := r.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
