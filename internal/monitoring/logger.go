// Package monitoring holds the process-wide diagnostic logger and the
// prometheus collectors for the CSI pipeline.
package monitoring

import (
	"io"
	"log"
	"os"
	"sync/atomic"
)

// Connection and source events go to the info stream; problems an
// operator should act on go to the warn stream with a "warning: " prefix.
// Both write to stderr until SetLogWriters is called. Loggers are swapped
// atomically because MQTT and websocket callbacks log from their own
// goroutines.
var (
	infoLog atomic.Pointer[log.Logger]
	warnLog atomic.Pointer[log.Logger]
)

func init() {
	SetLogWriters(os.Stderr, os.Stderr)
}

func newLogger(w io.Writer, prefix string) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmsgprefix)
}

// SetLogWriters routes the info and warn streams; nil silences a stream.
func SetLogWriters(info, warn io.Writer) {
	infoLog.Store(newLogger(info, ""))
	warnLog.Store(newLogger(warn, "warning: "))
}

// Logf writes to the info stream.
func Logf(format string, v ...interface{}) {
	if l := infoLog.Load(); l != nil {
		l.Printf(format, v...)
	}
}

// Warnf writes to the warn stream.
func Warnf(format string, v ...interface{}) {
	if l := warnLog.Load(); l != nil {
		l.Printf(format, v...)
	}
}
