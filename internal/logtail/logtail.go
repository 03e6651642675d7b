// Package logtail reads the recent and newly appended lines of process logs.
package logtail

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	DefaultLines = 50
	MaxLines     = 1000
	// NoLogsMessage is returned when a process has not written any log yet.
	NoLogsMessage = "No logs available yet"

	// scanWindow bounds how much of a large file is read to find its tail.
	scanWindow   = 4 << 20
	maxLineBytes = 1 << 20
)

// Tail keeps the last n lines written to it.
type Tail struct {
	lines []string
	next  int
	full  bool
}

// NewTail returns a Tail holding at most n lines.
func NewTail(n int) *Tail {
	if n < 1 {
		n = 1
	}
	return &Tail{lines: make([]string, n)}
}

// Add records one line, evicting the oldest when full.
func (t *Tail) Add(line string) {
	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)
	if t.next == 0 {
		t.full = true
	}
}

// Lines returns the retained lines, oldest first.
func (t *Tail) Lines() []string {
	if !t.full {
		return append([]string{}, t.lines[:t.next]...)
	}
	out := make([]string, 0, len(t.lines))
	out = append(out, t.lines[t.next:]...)
	return append(out, t.lines[:t.next]...)
}

// ClampLines maps a requested line count onto [1, MaxLines], using
// DefaultLines for zero or negative input.
func ClampLines(n int) int {
	switch {
	case n <= 0:
		return DefaultLines
	case n > MaxLines:
		return MaxLines
	default:
		return n
	}
}

// Last returns the last n lines of the file at path.
func Last(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log: %w", err)
	}
	start := info.Size() - scanWindow
	if start < 0 {
		start = 0
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek log: %w", err)
	}

	tail := NewTail(n)
	first := start > 0
	err = eachLine(bufio.NewReaderSize(f, 64*1024), func(line string) {
		if first {
			// Drop the partial line the window starts in.
			first = false
			return
		}
		tail.Add(line)
	})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return tail.Lines(), nil
}

// eachLine calls fn for every line of r. Lines longer than maxLineBytes are
// cut to their first maxLineBytes bytes.
func eachLine(r *bufio.Reader, fn func(line string)) error {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if room := maxLineBytes - len(line); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			line = append(line, chunk...)
		}
		if isPrefix {
			continue
		}
		fn(string(line))
		line = line[:0]
	}
}

// Read returns the last n lines of outPath, falling back to errPath, and
// finally to a single NoLogsMessage line when neither file exists.
func Read(outPath, errPath string, n int) ([]string, error) {
	n = ClampLines(n)
	for _, p := range []string{outPath, errPath} {
		lines, err := Last(p, n)
		if err == nil {
			return lines, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return []string{NoLogsMessage}, nil
}

// Follow calls fn for every complete line appended to path after Follow
// starts, polling every interval until ctx is done or fn returns an error.
// A missing file is waited for; a truncated file is read from the start.
func Follow(ctx context.Context, path string, interval time.Duration, fn func(line string) error) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	var offset int64 = -1
	var pending []byte

	for {
		info, err := os.Stat(path)
		switch {
		case err == nil:
			size := info.Size()
			if offset < 0 {
				offset = size
			}
			if size < offset {
				offset, pending = 0, nil
			}
			if size > offset {
				chunk, err := readRange(path, offset, size)
				if err != nil {
					return err
				}
				offset += int64(len(chunk))
				pending = append(pending, chunk...)
				for {
					i := bytes.IndexByte(pending, '\n')
					if i < 0 {
						break
					}
					line := string(bytes.TrimRight(pending[:i], "\r"))
					pending = pending[i+1:]
					if err := fn(line); err != nil {
						return err
					}
				}
				if len(pending) > maxLineBytes {
					pending = pending[len(pending)-maxLineBytes:]
				}
			}
		case errors.Is(err, os.ErrNotExist):
			if offset < 0 {
				offset = 0
			}
		default:
			return fmt.Errorf("stat log: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func readRange(path string, from, to int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()
	buf := make([]byte, to-from)
	n, err := f.ReadAt(buf, from)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return buf[:n], nil
}
