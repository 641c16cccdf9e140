package csi

import (
	"io"
	"log"
)

// The package logs to three independent streams:
//
//	ops   source failures, producer start and stop, renderer errors
//	diag  transient read errors and per-tick summaries
//	trace every rejected or skipped record
//
// All three are off until SetLogWriters is called.
const (
	streamOps = iota
	streamDiag
	streamTrace
	numStreams
)

var streams [numStreams]*log.Logger

// SetLogWriters routes each stream to its writer; nil silences a stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	for i, w := range [numStreams]io.Writer{ops, diag, trace} {
		streams[i] = nil
		if w != nil {
			streams[i] = log.New(w, "[csi] ", log.LstdFlags|log.Lmicroseconds)
		}
	}
}

// SetLegacyLogger sends all three streams to w.
func SetLegacyLogger(w io.Writer) {
	SetLogWriters(w, w, w)
}

func logTo(stream int, format string, args []interface{}) {
	if l := streams[stream]; l != nil {
		l.Printf(format, args...)
	}
}

func opsf(format string, args ...interface{})   { logTo(streamOps, format, args) }
func diagf(format string, args ...interface{})  { logTo(streamDiag, format, args) }
func tracef(format string, args ...interface{}) { logTo(streamTrace, format, args) }
