package terminal

import (
	"io"

	"github.com/mattn/go-colorable"
)

// getColorableWriter returns a writer translating the escape codes of
// the OK and NG lines for the windows console.
func getColorableWriter() io.Writer {
	return colorable.NewColorableStdout()
}
