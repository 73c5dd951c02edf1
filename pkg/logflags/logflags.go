package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var mpu = false
var malloc = false
var cpuctrl = false
var emulator = false
var debugger = false
var loader = false
var dap = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

// makeFlaggableLogger returns a logger that logs at DebugLevel when flag
// is set and only errors otherwise.
func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// MPU returns true if the memory protection layer should log region
// resolution failures and permission violations.
func MPU() bool {
	return mpu
}

// MPULogger returns a logger for the region table.
func MPULogger() Logger {
	return makeFlaggableLogger(mpu, Fields{"layer": "mpu"})
}

// Malloc returns true if guest allocations should be logged.
func Malloc() bool {
	return malloc
}

// MallocLogger returns a logger for the malloc pool allocator.
func MallocLogger() Logger {
	return makeFlaggableLogger(malloc, Fields{"layer": "mpu", "kind": "malloc"})
}

// CPUCtrl returns true if core state transitions should be logged.
func CPUCtrl() bool {
	return cpuctrl
}

// CPUCtrlLogger returns a logger for the core debug-state controller.
func CPUCtrlLogger() Logger {
	return makeFlaggableLogger(cpuctrl, Fields{"layer": "cpuctrl"})
}

// Emulator returns true if the execution loop should log.
func Emulator() bool {
	return emulator
}

// EmulatorLogger returns a logger for the execution loop.
func EmulatorLogger() Logger {
	return makeFlaggableLogger(emulator, Fields{"layer": "emulator"})
}

// Debugger returns true if the debugger package should log.
func Debugger() bool {
	return debugger
}

// DebuggerLogger returns a logger for the debugger package.
func DebuggerLogger() Logger {
	return makeFlaggableLogger(debugger, Fields{"layer": "debugger"})
}

// Loader returns true if image and configuration loading should be logged.
func Loader() bool {
	return loader
}

// LoaderLogger returns a logger for the loader package.
func LoaderLogger() Logger {
	return makeFlaggableLogger(loader, Fields{"layer": "loader"})
}

// DAP returns true if dap package should log.
func DAP() bool {
	return dap
}

// DAPLogger returns a logger for dap package.
func DAPLogger() Logger {
	return makeFlaggableLogger(dap, Fields{"layer": "dap"})
}

// WriteDAPListeningMessage writes the "DAP server listening" message in dap mode.
func WriteDAPListeningMessage(addr string) {
	writeListeningMessage("DAP", addr)
}

func writeListeningMessage(server string, addr string) {
	msg := server + " server listening at: " + addr
	if logOut != nil {
		_, _ = io.WriteString(logOut, msg+"\n")
		return
	}
	_, _ = io.WriteString(os.Stdout, msg+"\n")
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "athrill-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return err
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "debugger"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		// If adding another value, do make sure to
		// update "Help about logging flags" in commands.go.
		switch logcmd {
		case "mpu":
			mpu = true
		case "malloc":
			malloc = true
		case "cpuctrl":
			cpuctrl = true
		case "emulator":
			emulator = true
		case "debugger":
			debugger = true
		case "loader":
			loader = true
		case "dap":
			dap = true
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// textFormatterInstance is the default formatter for every logger this
// package creates.
var textFormatterInstance = &textFormatter{}

type textFormatter struct {
}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(entry.Time.Format("2006-01-02T15:04:05Z07:00"))
	b.WriteByte(' ')
	b.WriteString(entry.Level.String())
	b.WriteByte(' ')
	if layer, ok := entry.Data["layer"]; ok {
		b.WriteString(toString(layer))
		b.WriteByte(' ')
	}
	b.WriteString(entry.Message)
	for k, v := range entry.Data {
		if k == "layer" {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(toString(v))
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func toString(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case error:
		return v.Error()
	case uint32:
		return fmt.Sprintf("%#x", v)
	}
	return fmt.Sprint(v)
}
