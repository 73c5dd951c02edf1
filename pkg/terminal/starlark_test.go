package terminal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStarlarkBuiltins(t *testing.T) {
	withTestTerminal(t, 1, func(term *FakeTerminal) {
		out := term.MustExecStarlark(`
def main():
	bps = create_breakpoint("inner")
	print(len(bps), bps[0].Addr, bps[0].FunctionName)
	wp = create_watchpoint("counter", 0, "w")
	print(wp.Addr, wp.Size, wp.Type)
	print(len(breakpoints()), len(watchpoints()))
`)
		if out != "1 32 inner\n65536 4 W\n1 1\n" {
			t.Fatalf("unexpected output %q", out)
		}

		out = term.MustExecStarlark(`
def main():
	clear_breakpoint(0)
	clear_watchpoint(0)
	s = command("continue", Budget=40)
	c = s.Cores[0]
	print(c.State, c.PC, c.Clock)
	write_memory(0x10000, [1, 2])
	print(read_memory(0x10000, 2))
	v = eval_symbol("counter")
	print(v.Global.Name, len(v.Data))
	print(elaps())
`)
		if out != "stopped 16 40\n[1, 2]\ncounter 4\n[40]\n" {
			t.Fatalf("unexpected output %q", out)
		}
	})
}

func TestStarlarkErrors(t *testing.T) {
	withTestTerminal(t, 1, func(term *FakeTerminal) {
		if _, err := term.ExecStarlark(`
def main():
	create_breakpoint("nothere")
`); err == nil || !strings.Contains(err.Error(), "nothere") {
			t.Fatalf("expected a symbol error, got %v", err)
		}
		if _, err := term.ExecStarlark(`
def main():
	read_memory(0x10000, 4, 5)
`); err == nil {
			t.Fatalf("expected an error for too many arguments")
		}
	})
}

func TestStarlarkCommands(t *testing.T) {
	withTestTerminal(t, 1, func(term *FakeTerminal) {
		path := filepath.Join(t.TempDir(), "cmds.star")
		script := `
def command_setbp(args):
	"sets a breakpoint on inner"
	dbg_command("break", "inner")

def command_twice(n):
	print(n * 2)
`
		if err := os.WriteFile(path, []byte(script), 0644); err != nil {
			t.Fatal(err)
		}
		term.MustExec("source " + path)

		term.AssertExec("setbp", "break inner 0x20\n")
		term.AssertExec("twice 21", "42\n")
		term.AssertExec("help setbp", "sets a breakpoint on inner\n")
		if n := len(term.d.Breakpoints()); n != 1 {
			t.Fatalf("expected 1 breakpoint, got %d", n)
		}
	})
}

func TestStarlarkReadWriteFile(t *testing.T) {
	withTestTerminal(t, 1, func(term *FakeTerminal) {
		path := filepath.Join(t.TempDir(), "out.txt")
		out := term.MustExecStarlark(`
def main():
	write_file("` + filepath.ToSlash(path) + `", "hello")
	print(read_file("` + filepath.ToSlash(path) + `"))
`)
		if out != "hello\n" {
			t.Fatalf("unexpected output %q", out)
		}
	})
}
