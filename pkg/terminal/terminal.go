package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-delve/liner"

	"github.com/athrill-go/athrill/pkg/config"
	"github.com/athrill-go/athrill/pkg/terminal/starbind"
	"github.com/athrill-go/athrill/service/api"
	"github.com/athrill-go/athrill/service/debugger"
)

const (
	historyFile                 string = ".dbg_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed    = 31
	ansiGreen  = 32
	ansiYellow = 33
)

const (
	debugPrompt = "[DBG>"
	cpuPrompt   = "[CPU>"
)

// Term represents the debugger console.
type Term struct {
	d      *debugger.Debugger
	conf   *config.Config
	line   *liner.State
	cmds   *Commands
	dumb   bool
	stdout *transcriptWriter

	// InitFile is a file of commands executed before the first prompt.
	InitFile string
	// OpLog is the path of the operation log.
	OpLog string
	oplog *opLog

	starlarkEnv *starbind.Env
}

// New returns a new Term.
func New(d *debugger.Debugger, conf *config.Config) *Term {
	cmds := DebugCommands(d)
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}

	t := &Term{
		d:      d,
		conf:   conf,
		line:   liner.NewLiner(),
		cmds:   cmds,
		dumb:   dumb,
		stdout: &transcriptWriter{pw: &pagingWriter{w: w}},
		OpLog:  conf.OpLog,
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
	t.oplog.close()
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		fmt.Fprintf(t.stdout, "received SIGINT, stopping every core\n")
		if _, err := t.d.Command(&api.DebuggerCommand{Name: api.Halt}); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}
}

// Run begins running the console.
func (t *Term) Run() (int, error) {
	defer t.Close()

	// Send the debugger a halt command on SIGINT
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	removeListener := t.d.AddStopListener(t.onStop)
	defer removeListener()

	t.line.SetCompleter(t.complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}

	t.line.ReadHistory(f)
	f.Close()
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.OpLog != "" {
		if err := t.replayOpLog(); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error replaying operation log: %s\n", err)
		}
	}

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}

		if err := t.Exec(cmdstr); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
		}
	}
}

// Exec runs one command line and prints the OK or NG line closing its
// output. Commands that succeed are appended to the operation log.
func (t *Term) Exec(cmdstr string) error {
	cmdstr = strings.TrimSpace(cmdstr)
	if cmdstr == "" {
		return nil
	}
	err := t.cmds.Call(cmdstr, t)
	if _, ok := err.(ExitRequestError); ok {
		t.println(ansiGreen, "OK")
		return err
	}
	if err != nil {
		fmt.Fprintf(t.stdout, "ERROR: %v\n", err)
		t.println(ansiRed, "NG")
		return err
	}
	t.println(ansiGreen, "OK")
	if t.cmds.logged(cmdstr) {
		t.oplog.append(cmdstr)
	}
	return nil
}

// onStop reports the stop events of unbounded continues, which return
// before the cores stop.
func (t *Term) onStop(ev api.StopEvent) {
	fmt.Fprintln(t.stdout)
	t.println(ansiYellow, ev.String())
}

func (t *Term) println(color int, str string) {
	if !t.dumb {
		str = fmt.Sprintf(terminalHighlightEscapeCode, color) + str + terminalResetEscapeCode
	}
	fmt.Fprintln(t.stdout, str)
}

// prompt is "[DBG>" while every debuggable core is stopped and "[CPU>"
// while the program runs.
func (t *Term) prompt() string {
	if t.d.State().Running {
		return cpuPrompt
	}
	return debugPrompt
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt())
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

// complete completes command names and, after a command taking a
// symbol, function or global names.
func (t *Term) complete(line string) (c []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 || (len(fields) == 1 && !strings.HasSuffix(line, " ")) {
		for _, cmd := range t.cmds.cmds {
			for _, alias := range cmd.aliases {
				if strings.HasPrefix(alias, strings.ToLower(line)) {
					c = append(c, alias)
				}
			}
		}
		return
	}
	cmd := t.cmds.find(fields[0])
	if cmd == nil || cmd.complete == noCompletion {
		return
	}
	prefix := ""
	head := line
	if !strings.HasSuffix(line, " ") {
		prefix = fields[len(fields)-1]
		head = line[:len(line)-len(prefix)]
	}
	var names []string
	switch cmd.complete {
	case completeFunctions:
		names = t.d.FunctionCandidates(prefix, maxCompletions)
	case completeGlobals:
		names = t.d.GlobalCandidates(prefix, maxCompletions)
	}
	for _, name := range names {
		c = append(c, head+name)
	}
	return
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	if err := t.d.Detach(); err != nil {
		return 1, err
	}
	return 0, nil
}
