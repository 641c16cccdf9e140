// Package source provides the raw record streams that feed the CSI
// pipeline: recorded log files, a live serial port, a UDP listener and
// packet captures of that UDP stream.
package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable reports that a source's backing resource could not be
// opened at all: a missing file, an absent serial device, a port that
// cannot be bound. It is fatal to the producer.
var ErrUnavailable = errors.New("frame source unavailable")

// ErrLineTooLong is reported, as a transient error, for a record longer
// than MaxLineBytes. The record is discarded.
var ErrLineTooLong = errors.New("record exceeds maximum line length")

// MaxLineBytes bounds one raw record. ESP32 CSI lines are a few KiB.
const MaxLineBytes = 1 << 20

// FrameSource yields raw records one at a time.
//
// Next blocks until a record is available, the source is exhausted
// (io.EOF), or ctx is done (ctx.Err()). A *TransientError means one read
// failed and the caller may call Next again.
type FrameSource interface {
	Next(ctx context.Context) (string, error)
	Close() error
	// Kind names the source type for logs and metrics.
	Kind() string
}

// TransientError wraps a read failure that does not end the stream.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient read error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a recoverable read failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func unavailable(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

// readLine reads one newline-terminated record, stripping the line ending.
// Overlong lines are drained and reported as ErrLineTooLong.
func readLine(r *bufio.Reader) (string, error) {
	var (
		buf     []byte
		tooLong bool
	)
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if len(buf) > 0 && !tooLong {
				return string(buf), nil
			}
			return "", err
		}
		if len(buf)+len(chunk) > MaxLineBytes {
			tooLong = true
			buf = buf[:0]
		} else if !tooLong {
			buf = append(buf, chunk...)
		}
		if !isPrefix {
			break
		}
	}
	if tooLong {
		return "", &TransientError{Err: ErrLineTooLong}
	}
	return string(buf), nil
}

// splitRecords splits a datagram payload into its non-empty lines.
func splitRecords(payload []byte) []string {
	var out []string
	for _, line := range strings.Split(string(payload), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// Kinds accepted by Config.Kind.
const (
	KindFile   = "file"
	KindSerial = "serial"
	KindUDP    = "udp"
	KindPCAP   = "pcap"
)

// Config selects and parameterises a FrameSource.
type Config struct {
	Kind string `json:"kind" yaml:"kind"`
	// Path is the log file, serial device or capture file.
	Path string `json:"path" yaml:"path"`
	// Address is the UDP listen address, e.g. ":5566".
	Address string `json:"address" yaml:"address"`
	// Port filters capture replay to one UDP port; 0 accepts any.
	Port   int         `json:"port" yaml:"port"`
	Serial PortOptions `json:"serial" yaml:"serial"`
}

// Open builds the FrameSource described by cfg.
func Open(cfg Config) (FrameSource, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", KindFile:
		return OpenFile(cfg.Path)
	case KindSerial:
		return OpenSerial(cfg.Path, cfg.Serial)
	case KindUDP:
		return ListenUDP(cfg.Address, NewRealUDPSocketFactory())
	case KindPCAP:
		return OpenPCAP(cfg.Path, cfg.Port)
	default:
		return nil, fmt.Errorf("unknown source kind %q: expected file, serial, udp or pcap", cfg.Kind)
	}
}
