// Package shared holds helpers for reading the process logs agsb writes.
package shared

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// FileTailer polls a file and emits newly appended lines.
type FileTailer struct {
	path     string
	interval time.Duration
	offset   int64
	out      chan string
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewFileTailer follows path starting at byte offset. Pass the end offset
// from TailLastNOffset to continue exactly where that read stopped.
func NewFileTailer(path string, interval time.Duration, offset int64) *FileTailer {
	return &FileTailer{path: path, interval: interval, offset: offset, out: make(chan string, 256), stopCh: make(chan struct{})}
}

// Out returns a receive-only channel of lines.
func (t *FileTailer) Out() <-chan string { return t.out }

func (t *FileTailer) Start() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		var leftover string
		for {
			if st, err := os.Stat(t.path); err == nil {
				// truncated, e.g. the process was restarted
				if st.Size() < t.offset {
					t.offset = 0
					leftover = ""
				}
				if st.Size() > t.offset {
					leftover = t.readFrom(leftover)
				}
			}
			select {
			case <-t.stopCh:
				return
			case <-time.After(t.interval):
			}
		}
	}()
}

// readFrom emits complete lines after t.offset and returns the unterminated
// remainder.
func (t *FileTailer) readFrom(leftover string) string {
	f, err := os.Open(t.path)
	if err != nil {
		return leftover
	}
	defer f.Close()
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return leftover
	}
	r := bufio.NewReaderSize(f, 64*1024)
	for {
		chunk, err := r.ReadString('\n')
		if len(chunk) > 0 {
			t.offset += int64(len(chunk))
			s := leftover + chunk
			if !strings.HasSuffix(s, "\n") {
				leftover = s
			} else {
				leftover = ""
				if line := strings.TrimRight(s, "\r\n"); line != "" {
					select {
					case t.out <- line:
					case <-t.stopCh:
						return ""
					}
				}
			}
		}
		if err != nil {
			return leftover
		}
	}
}

func (t *FileTailer) Stop() {
	close(t.stopCh)
	t.wg.Wait()
	close(t.out)
}

// TailLastN reads the last N lines from a file.
// It reads at most maxBytes from the end for efficiency.
func TailLastN(path string, n int, maxBytes int64) ([]string, error) {
	lines, _, err := TailLastNOffset(path, n, maxBytes)
	return lines, err
}

// TailLastNOffset is TailLastN that also returns the offset just past the
// last byte it read.
func TailLastNOffset(path string, n int, maxBytes int64) ([]string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	size := st.Size()
	var start int64
	if maxBytes > 0 && size > maxBytes {
		start = size - maxBytes
	}
	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			return nil, 0, err
		}
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, 0, err
	}
	end := start + int64(len(data))
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	// drop possible empty last element
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if n <= 0 || len(lines) <= n {
		return lines, end, nil
	}
	return lines[len(lines)-n:], end, nil
}
