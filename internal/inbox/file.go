package inbox

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/autoref/internal/logging"
)

// FileSource turns lines appended to a file into messages. Content present
// when Listen starts is skipped; truncating the file starts over from the
// beginning. Messages carry the configured ChatID so they pass the same
// chat filter as messages from the operator's chat.
type FileSource struct {
	path   string
	chatID string
	logger *logging.Logger

	offset  int64
	partial []byte
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path, chatID string, logger *logging.Logger) *FileSource {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &FileSource{
		path:   path,
		chatID: chatID,
		logger: logger.WithComponent("inbox").With("path", path),
	}
}

// Listen watches the file's directory and hands each new complete line to
// handle. It returns nil when ctx is cancelled.
func (s *FileSource) Listen(ctx context.Context, handle Handler) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create inbox directory: %w", err)
	}
	// Watch the directory so the file may be created or replaced after start.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if info, err := os.Stat(s.path); err == nil {
		s.offset = info.Size()
	}
	s.logger.Info("watching file inbox", "offset", s.offset)

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				s.offset, s.partial = 0, nil
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			for _, line := range s.readNew() {
				handle(ctx, Message{ChatID: s.chatID, Text: line, Source: SourceFile})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("file watcher error", "error", err.Error())
		}
	}
}

// readNew returns the complete, non-blank lines written since the last read.
func (s *FileSource) readNew() []string {
	f, err := os.Open(s.path)
	if err != nil {
		s.logger.Warn("failed to open inbox file", "error", err.Error())
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil
	}
	if info.Size() < s.offset {
		s.logger.Info("inbox file truncated, rereading")
		s.offset, s.partial = 0, nil
	}

	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return nil
	}
	data, err := io.ReadAll(f)
	if err != nil {
		s.logger.Warn("failed to read inbox file", "error", err.Error())
		return nil
	}
	s.offset += int64(len(data))

	buf := append(s.partial, data...)
	last := bytes.LastIndexByte(buf, '\n')
	if last < 0 {
		s.partial = buf
		return nil
	}
	s.partial = append([]byte(nil), buf[last+1:]...)

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(buf[:last+1]))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
