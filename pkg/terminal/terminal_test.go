package terminal

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestOpLogReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oplog")
	if err := os.WriteFile(path, []byte("# previous session\nbreak inner\nwatch -w counter\n"), 0644); err != nil {
		t.Fatal(err)
	}
	withTestTerminal(t, 1, func(term *FakeTerminal) {
		term.OpLog = path
		if err := term.replayOpLog(); err != nil {
			t.Fatal(err)
		}
		defer term.oplog.close()
		out := term.out.String()
		if !strings.Contains(out, debugPrompt+"break inner\nbreak inner 0x20\nOK\n") {
			t.Fatalf("unexpected replay output %q", out)
		}
		if len(term.d.Breakpoints()) != 1 || len(term.d.Watchpoints()) != 1 {
			t.Fatalf("operation log not replayed")
		}

		term.Term.Exec("break main")
		term.Term.Exec("print counter")
		term.Term.Exec("break nothere")
		buf, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if string(buf) != "# previous session\nbreak inner\nwatch -w counter\nbreak main\n" {
			t.Fatalf("unexpected operation log %q", buf)
		}
	})
}

func TestComplete(t *testing.T) {
	withTestTerminal(t, 1, func(term *FakeTerminal) {
		if c := term.complete("bre"); !reflect.DeepEqual(c, []string{"break"}) {
			t.Fatalf("unexpected command completions %v", c)
		}
		if c := term.complete("break in"); !reflect.DeepEqual(c, []string{"break inner"}) {
			t.Fatalf("unexpected function completions %v", c)
		}
		if c := term.complete("print cou"); !reflect.DeepEqual(c, []string{"print counter"}) {
			t.Fatalf("unexpected global completions %v", c)
		}
		if c := term.complete("elaps "); len(c) != 0 {
			t.Fatalf("unexpected completions %v", c)
		}
	})
}

func TestPrompt(t *testing.T) {
	withTestTerminal(t, 1, func(term *FakeTerminal) {
		if p := term.prompt(); p != debugPrompt {
			t.Fatalf("unexpected prompt %q", p)
		}
		term.MustExec("cont")
		if p := term.prompt(); p != cpuPrompt {
			t.Fatalf("unexpected prompt while running %q", p)
		}
		term.MustExec("quit")
		if p := term.prompt(); p != debugPrompt {
			t.Fatalf("unexpected prompt after quit %q", p)
		}
	})
}

func TestConfigCommand(t *testing.T) {
	withTestTerminal(t, 1, func(term *FakeTerminal) {
		term.MustExec("config alias break bk")
		term.AssertExec("bk inner", "break inner 0x20\n")
		term.MustExec("config alias bk")
		term.AssertExecError("bk inner", "command not available")
		term.AssertExecError("config alias nothing x", "unknown command")

		term.MustExec("config view-mode true")
		if !term.d.ViewMode() {
			t.Fatalf("view-mode not applied")
		}
		term.MustExec("config malloc-unit-size 4")
		term.AssertExecError("config malloc-unit-size x", "must be a number")
		term.AssertExecError("config malloc-free-policy sometimes", "unknown malloc-free-policy")
		term.AssertExecError("config nothing 1", "is not a configuration parameter")

		out := term.MustExec("config -list")
		found := false
		for _, line := range strings.Split(out, "\n") {
			if f := strings.Fields(line); len(f) == 2 && f[0] == "malloc-unit-size" && f[1] == "4" {
				found = true
			}
		}
		if !found || !strings.Contains(out, "view-mode") {
			t.Fatalf("unexpected configuration list %q", out)
		}
	})
}
