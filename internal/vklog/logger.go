// Package vklog generalizes BaseCore's logging
// (vulkan-go-asche usage; three *log.Logger sinks opened over files) into a
// single value type the Render Engine holds by pointer instead of
// recreating per type.
package vklog

import (
	"io"
	"log"
	"os"
)

// Logger bundles the three severities NewBaseCore wires up by hand:
// info, warning, error.
type Logger struct {
	Info  *log.Logger
	Warn  *log.Logger
	Error *log.Logger
}

const logFlags = log.Ldate | log.Ltime | log.Lshortfile

// New builds a Logger over arbitrary writers, useful for tests and for
// embedders that want the engine's diagnostics routed into their own
// logging pipeline instead of files.
func New(info, warn, errw io.Writer) *Logger {
	return &Logger{
		Info:  log.New(info, "INFO: ", logFlags),
		Warn:  log.New(warn, "WARNING: ", logFlags),
		Error: log.New(errw, "ERROR: ", logFlags),
	}
}

// NewFileLogger opens info_log.txt/warn_log.txt/error_log.txt in dir,
// matching NewBaseCore's file-per-severity layout.
func NewFileLogger(dir string) (*Logger, error) {
	open := func(name string) (*os.File, error) {
		return os.OpenFile(dir+"/"+name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	}
	infoFile, err := open("info_log.txt")
	if err != nil {
		return nil, err
	}
	warnFile, err := open("warn_log.txt")
	if err != nil {
		return nil, err
	}
	errFile, err := open("error_log.txt")
	if err != nil {
		return nil, err
	}
	return New(infoFile, warnFile, errFile), nil
}

// Discard is a Logger that throws every line away, handy as a test default.
func Discard() *Logger {
	return New(io.Discard, io.Discard, io.Discard)
}
