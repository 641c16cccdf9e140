package source

import (
	"bufio"
	"context"
	"os"
	"sync"
)

// FileSource replays a recorded CSI log one line at a time.
type FileSource struct {
	path   string
	mu     sync.Mutex
	f      *os.File
	r      *bufio.Reader
	closed bool
}

// OpenFile opens a recorded log. A missing or unreadable file is reported
// as ErrUnavailable.
func OpenFile(path string) (*FileSource, error) {
	if path == "" {
		return nil, unavailable("no log file configured")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, unavailable("open %s: %v", path, err)
	}
	return &FileSource{path: path, f: f, r: bufio.NewReaderSize(f, 64*1024)}, nil
}

func (s *FileSource) Kind() string { return KindFile }

// Path returns the log file being replayed.
func (s *FileSource) Path() string { return s.path }

// Next returns the next line, or io.EOF once the file is exhausted.
func (s *FileSource) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", os.ErrClosed
	}
	return readLine(s.r)
}

func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}
