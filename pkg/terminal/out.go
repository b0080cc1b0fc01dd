package terminal

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

const (
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiYellow = 33
	ansiBlue   = 34
)

// getColorableWriter returns a writer for stdout that translates ANSI
// escape sequences on consoles that do not understand them.
func getColorableWriter() io.Writer {
	return colorable.NewColorableStdout()
}

// colorEnabled decides whether output should be colored according to the
// color configuration setting.
func colorEnabled(setting string) bool {
	switch setting {
	case "always":
		return true
	case "never":
		return false
	}
	if strings.ToLower(os.Getenv("TERM")) == "dumb" {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// highlight wraps s in the escape sequence for color if colored output
// is enabled.
func (t *Term) highlight(color int, s string) string {
	if !t.colors {
		return s
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, color) + s + terminalResetEscapeCode
}
