package terminal

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// opLog appends the commands that changed the debugger configuration,
// breakpoints and watchpoints, so that the next session can replay them.
type opLog struct {
	fh *os.File
}

// replayOpLog executes every line of the operation log, then keeps the
// file open to append to it.
func (t *Term) replayOpLog() error {
	fh, err := os.OpenFile(t.OpLog, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	var lines []string
	s := bufio.NewScanner(fh)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		lines = append(lines, line)
	}
	if err := s.Err(); err != nil {
		fh.Close()
		return err
	}
	// Replayed commands must not be logged twice.
	t.oplog = nil
	for _, line := range lines {
		fmt.Fprintf(t.stdout, "%s%s\n", debugPrompt, line)
		if err := t.Exec(line); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				fh.Close()
				return err
			}
		}
	}
	t.oplog = &opLog{fh: fh}
	return nil
}

func (l *opLog) append(cmdstr string) {
	if l == nil {
		return
	}
	fmt.Fprintln(l.fh, cmdstr)
}

func (l *opLog) close() {
	if l == nil {
		return
	}
	l.fh.Close()
}
