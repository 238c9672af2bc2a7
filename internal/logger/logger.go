// Package logger wraps logrus behind the writer discipline the TUI
// requires: unless debug is enabled, output is discarded entirely so it
// can never corrupt the terminal dashboard.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is a leveled logger. It embeds *logrus.Logger, so both the
// plain Printf/Println/Fatalf and the leveled Debugf/Infof/Warnf/Errorf
// are available.
type Logger struct {
	debug bool
	*logrus.Logger
}

// New creates a logger writing to stderr when debug is enabled and
// discarding output otherwise.
func New(debug bool) *Logger {
	var w io.Writer = io.Discard
	if debug {
		w = os.Stderr
	}
	return NewWithWriter(debug, w)
}

// NewWithWriter creates a logger with an explicit output writer, used
// to redirect debug logs to a file while the TUI owns the terminal.
func NewWithWriter(debug bool, w io.Writer) *Logger {
	l := logrus.New()
	if debug {
		l.SetOutput(w)
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetOutput(io.Discard)
	}
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{debug: debug, Logger: l}
}
