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

var debugger = false
var gdbWire = false
var reg = false
var sym = false
var abi = false

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

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Debugger returns true if the debugger package should log.
func Debugger() bool {
	return debugger
}

// DebuggerLogger returns a logger for the debugger package.
func DebuggerLogger() Logger {
	return makeFlaggableLogger(debugger, Fields{"layer": "debugger"})
}

// GdbWire returns true if the gdbserial package should log all the packets
// exchanged with the stub.
func GdbWire() bool {
	return gdbWire
}

// GdbWireLogger returns a configured logger for the gdbserial wire protocol.
func GdbWireLogger() Logger {
	return makeFlaggableLogger(gdbWire, Fields{"layer": "gdbconn"})
}

// Reg returns true if register reads and writes should be logged.
func Reg() bool {
	return reg
}

// RegLogger returns a logger for register operations.
func RegLogger() Logger {
	return makeFlaggableLogger(reg, Fields{"layer": "proc", "kind": "reg"})
}

// Sym returns true if imaginary register symbol discovery should be logged.
func Sym() bool {
	return sym
}

// SymLogger returns a logger for symbol scanning.
func SymLogger() Logger {
	return makeFlaggableLogger(sym, Fields{"layer": "proc", "kind": "sym"})
}

// ABI returns true if calling convention and fallback decisions should be
// logged.
func ABI() bool {
	return abi
}

// ABILogger returns a logger for calling convention and fallback logic.
// Warnings are always emitted, even when the abi channel is disabled.
func ABILogger() Logger {
	if !abi {
		return makeLogger(logrus.WarnLevel, Fields{"layer": "proc", "kind": "abi"})
	}
	return makeLogger(logrus.DebugLevel, Fields{"layer": "proc", "kind": "abi"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "mosdbg-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
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
		case "debugger":
			debugger = true
		case "gdbwire":
			gdbWire = true
		case "reg":
			reg = true
		case "sym":
			sym = true
		case "abi":
			abi = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'mosdbg help log' for usage.\n", logcmd)
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

// reset restores the package defaults, it is used by tests.
func reset() {
	debugger, gdbWire, reg, sym, abi = false, false, false, false, false
	logOut = nil
	loggerFactory = nil
}
