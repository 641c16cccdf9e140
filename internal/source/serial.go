package source

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go.bug.st/serial"
	"tailscale.com/tsweb"

	"github.com/banshee-data/csimotion/internal/httputil"
	"github.com/banshee-data/csimotion/internal/monitoring"
)

// SerialPorter is the minimal interface needed from a serial port. Tests
// substitute TestablePort.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// serialRetryDelay paces retries after a failed port read.
const serialRetryDelay = 50 * time.Millisecond

// SerialSource reads newline-delimited records from the CSI receiver's
// console port. A background goroutine owns the port reader; every line it
// reads is also fanned out to admin subscribers.
type SerialSource struct {
	port SerialPorter
	path string

	records chan string
	errs    chan error
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error

	subscriberMu sync.Mutex
	subscribers  map[string]chan string
}

// OpenSerial opens the device at path with opts. A device that cannot be
// opened is reported as ErrUnavailable.
func OpenSerial(path string, opts PortOptions) (*SerialSource, error) {
	if path == "" {
		return nil, unavailable("no serial device configured")
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, unavailable("open serial port %s: %v", path, err)
	}
	monitoring.Logf("opened serial port %s at %d baud", path, mode.BaudRate)
	return NewSerialSource(port, path), nil
}

// NewSerialSource starts reading port. The source takes ownership of port
// and closes it on Close.
func NewSerialSource(port SerialPorter, path string) *SerialSource {
	s := &SerialSource{
		port:        port,
		path:        path,
		records:     make(chan string),
		errs:        make(chan error),
		done:        make(chan struct{}),
		subscribers: make(map[string]chan string),
	}
	go s.monitor()
	return s
}

func (s *SerialSource) Kind() string { return KindSerial }

// Path returns the device path, or the name given to NewSerialSource.
func (s *SerialSource) Path() string { return s.path }

func (s *SerialSource) monitor() {
	defer close(s.records)
	r := bufio.NewReaderSize(s.port, 64*1024)
	for {
		line, err := readLine(r)
		if err != nil {
			if errors.Is(err, io.EOF) || s.isClosed() {
				return
			}
			if !IsTransient(err) {
				err = &TransientError{Err: err}
			}
			select {
			case s.errs <- err:
			case <-s.done:
				return
			}
			select {
			case <-time.After(serialRetryDelay):
			case <-s.done:
				return
			}
			continue
		}

		s.publish(line)
		select {
		case s.records <- line:
		case <-s.done:
			return
		}
	}
}

// Next returns the next line read from the port. Read failures surface as
// *TransientError; io.EOF means the port reported end of stream or the
// source was closed.
func (s *SerialSource) Next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-s.errs:
		return "", err
	case line, ok := <-s.records:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

func (s *SerialSource) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close stops the reader, closes all subscriber channels and the port.
func (s *SerialSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.subscriberMu.Lock()
		for id, ch := range s.subscribers {
			close(ch)
			delete(s.subscribers, id)
		}
		s.subscriberMu.Unlock()

		s.closeErr = s.port.Close()
	})
	return s.closeErr
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns a channel receiving a copy of every line read from the
// port. Lines are dropped for a subscriber that is not keeping up.
func (s *SerialSource) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.isClosed() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *SerialSource) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *SerialSource) publish(line string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

// AttachAdminRoutes registers a live tail of the raw port output under
// /debug/csi-tail. tsweb restricts /debug/ to local and tailnet clients.
func (s *SerialSource) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("csi-tail", "live tail of raw CSI serial output (SSE)", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w, http.MethodGet)
			return
		}
		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		stream, err := httputil.NewEventStream(w)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}

		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if err := stream.Send(line); err != nil {
					return
				}
			case <-r.Context().Done():
				return
			}
		}
	})
}
