package results

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore writes each stream to its own text file, one record per line.
type FileStore struct {
	mu    sync.Mutex
	paths map[Stream]string
}

// NewFileStore creates a FileStore. Relative file names are resolved against
// dir. Directories are created lazily on first write.
func NewFileStore(dir string, files map[Stream]string) (*FileStore, error) {
	paths := make(map[Stream]string, len(files))
	for stream, name := range files {
		if err := validStream(stream); err != nil {
			return nil, err
		}
		if name == "" {
			return nil, fmt.Errorf("results: file for stream %q is required", stream)
		}
		if !filepath.IsAbs(name) {
			name = filepath.Join(dir, name)
		}
		paths[stream] = name
	}
	return &FileStore{paths: paths}, nil
}

// Path returns the file backing stream.
func (s *FileStore) Path(stream Stream) string {
	return s.paths[stream]
}

// Append writes record and a newline to the stream's file.
func (s *FileStore) Append(_ context.Context, stream Stream, record string) error {
	path, ok := s.paths[stream]
	if !ok {
		return fmt.Errorf("results: no file configured for stream %q", stream)
	}
	if strings.ContainsAny(record, "\r\n") {
		return fmt.Errorf("results: record for %q contains a newline", stream)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("results: create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("results: open %s: %w", path, err)
	}
	if _, err := f.WriteString(record + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("results: append to %s: %w", path, err)
	}
	return f.Close()
}

// Records returns the non-empty lines of the stream's file.
func (s *FileStore) Records(_ context.Context, stream Stream) ([]string, error) {
	path, ok := s.paths[stream]
	if !ok {
		return nil, fmt.Errorf("results: no file configured for stream %q", stream)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return ReadLines(path)
}

// Close is a no-op; files are opened per write.
func (s *FileStore) Close() error {
	return nil
}

// ReadLines returns the trimmed, non-empty lines of path. A missing file
// yields no lines and no error.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("results: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("results: scan %s: %w", path, err)
	}
	return lines, nil
}
