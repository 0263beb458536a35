package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/autoref/internal/util"
)

var (
	timeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

// Console echoes notifications to a terminal. Styling and width truncation
// are applied only when the writer is a TTY.
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	tty   bool
	width int
	now   func() time.Time
}

// NewConsole returns a Console writing to w.
func NewConsole(w io.Writer) *Console {
	c := &Console{w: w, now: time.Now}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.tty = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil {
			c.width = width
		}
	}
	return c
}

// Send implements Sink.
func (c *Console) Send(_ context.Context, text string) error {
	stamp := c.now().Format("15:04:05")
	line := fmt.Sprintf("[%s] %s", stamp, text)

	if c.tty {
		line = timeStyle.Render("["+stamp+"]") + " " + styleFor(text).Render(text)
		if c.width > 0 {
			line = util.TruncateANSI(line, c.width)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.w, line)
	return err
}

// styleFor picks a color from the message's leading emoji.
func styleFor(text string) lipgloss.Style {
	switch {
	case strings.HasPrefix(text, "✅"), strings.HasPrefix(text, "🚀"):
		return successStyle
	case strings.HasPrefix(text, "❌"):
		return errorStyle
	case strings.HasPrefix(text, "⚠️"):
		return warnStyle
	default:
		return infoStyle
	}
}
