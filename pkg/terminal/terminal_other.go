//go:build !windows

package terminal

import (
	"io"
	"os"
)

// getColorableWriter returns stdout, terminals outside of windows
// understand the escape codes.
func getColorableWriter() io.Writer {
	return os.Stdout
}
