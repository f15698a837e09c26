package output

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/JakeFAU/replica-harvester/internal/harvest"
)

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// FileSink appends "<item> <payload>\n" lines to a file. A mutex serializes
// writers and each line goes out in a single write, so lines never interleave.
type FileSink struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	start  int64
	lines  int64
	closed bool
}

var _ harvest.Sink = (*FileSink)(nil)

// OpenFile opens path for appending, creating it if needed. Existing content is kept.
func OpenFile(path string) (*FileSink, error) {
	// #nosec G304 -- the output path is an operator-supplied CLI argument.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat output %s: %w", path, err)
	}
	return &FileSink{f: f, path: path, start: info.Size()}, nil
}

// FormatLine renders one output record. Line breaks inside the item or payload
// are replaced by spaces so each record stays on one line.
func FormatLine(item, payload string) string {
	return lineBreaks.Replace(item) + " " + lineBreaks.Replace(payload) + "\n"
}

// Append writes one record.
func (s *FileSink) Append(_ context.Context, item, payload string) error {
	line := FormatLine(item, payload)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return harvest.ErrSinkClosed
	}
	if _, err := s.f.WriteString(line); err != nil {
		return fmt.Errorf("append output: %w", err)
	}
	s.lines++
	return nil
}

// Lines reports how many records this sink has written.
func (s *FileSink) Lines() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines
}

// StartOffset is the file size when the sink opened. Bytes from that offset on
// were written by this sink.
func (s *FileSink) StartOffset() int64 {
	return s.start
}

// Path returns the output file path.
func (s *FileSink) Path() string {
	return s.path
}

// Close syncs and closes the file. Later Appends return harvest.ErrSinkClosed.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.f.Sync(); err != nil {
		_ = s.f.Close()
		return fmt.Errorf("sync output: %w", err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}
