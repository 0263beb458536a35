package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// FileName is the name of the log file created inside Options.Dir.
const FileName = "autoref.log"

// Options controls where and how much the logger writes.
type Options struct {
	// Dir is the directory holding autoref.log. Empty means stderr.
	Dir string
	// Level is one of DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string
	// Rotation applies when Dir is set. A zero MaxSizeMB disables rotation.
	Rotation RotationConfig
}

// Logger provides structured logging with context propagation.
// It is safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	closer io.Closer
	mu     *sync.Mutex
	attrs  []slog.Attr // Persistent attributes (component, task, op)
}

// NewLogger creates a Logger writing JSON lines according to opts.
func NewLogger(opts Options) (*Logger, error) {
	var (
		writer io.Writer = os.Stderr
		closer io.Closer
	)

	if opts.Dir != "" {
		rw, err := NewRotatingWriter(filepath.Join(opts.Dir, FileName), opts.Rotation)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writer = rw
		closer = rw
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: parseLevel(opts.Level),
	})

	return &Logger{
		logger: slog.New(handler),
		closer: closer,
		mu:     &sync.Mutex{},
	}, nil
}

// New wraps an existing slog handler. Used by tests that need to inspect output.
func New(handler slog.Handler) *Logger {
	return &Logger{logger: slog.New(handler), mu: &sync.Mutex{}}
}

// parseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent returns a child Logger tagged with the component name.
func (l *Logger) WithComponent(name string) *Logger {
	return l.withAttr(slog.String("component", name))
}

// WithTask returns a child Logger tagged with the pipeline task index.
func (l *Logger) WithTask(index int) *Logger {
	return l.withAttr(slog.Int("task", index))
}

// WithOp returns a child Logger tagged with a remote operation name.
func (l *Logger) WithOp(op string) *Logger {
	return l.withAttr(slog.String("op", op))
}

// With returns a child Logger with arbitrary key-value pairs attached.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}

	child := l
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		child = child.withAttr(slog.Any(key, args[i+1]))
	}
	return child
}

func (l *Logger) withAttr(attr slog.Attr) *Logger {
	attrs := make([]slog.Attr, len(l.attrs), len(l.attrs)+1)
	copy(attrs, l.attrs)

	return &Logger{
		logger: l.logger,
		closer: l.closer,
		mu:     l.mu,
		attrs:  append(attrs, attr),
	}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, msg, args...)
}

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, msg, args...)
}

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args...)
}

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}

	all := make([]any, 0, len(l.attrs)+len(args))
	for _, attr := range l.attrs {
		all = append(all, attr)
	}
	all = append(all, args...)

	l.logger.Log(ctx, level, msg, all...)
}

// Close flushes and closes the log file. It is a no-op for stderr loggers.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	return err
}

// NopLogger returns a Logger that discards all log output.
// Useful for testing or when logging is disabled.
func NopLogger() *Logger {
	return New(slog.NewJSONHandler(io.Discard, nil))
}

// ParseLevel converts a string level to the corresponding constant.
// Returns LevelInfo if the level string is not recognized.
func ParseLevel(level string) string {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}

// BotLogger adapts a Logger to the Println/Printf logger interface used by
// the Telegram client library, so its long-polling failures land in the
// structured log at ERROR level.
type BotLogger struct {
	Logger *Logger
}

// Println implements the library logger interface.
func (b BotLogger) Println(v ...any) {
	b.Logger.Error("telegram polling error", "detail", strings.TrimSpace(fmt.Sprintln(v...)))
}

// Printf implements the library logger interface.
func (b BotLogger) Printf(format string, v ...any) {
	b.Logger.Error("telegram polling error", "detail", strings.TrimSpace(fmt.Sprintf(format, v...)))
}
