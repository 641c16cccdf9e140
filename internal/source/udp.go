package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/banshee-data/csimotion/internal/monitoring"
)

const (
	// udpPollInterval bounds how long one socket read blocks before the
	// context is checked again.
	udpPollInterval = 100 * time.Millisecond
	// udpReadBuffer is the kernel receive buffer requested for the socket.
	udpReadBuffer = 1 << 20
	maxDatagram   = 65535
)

// UDPSocket is the subset of *net.UDPConn the listener needs. Tests
// substitute MockUDPSocket.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPSocketFactory creates UDP sockets.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocketFactory implements UDPSocketFactory using net.ListenUDP.
type RealUDPSocketFactory struct{}

func NewRealUDPSocketFactory() *RealUDPSocketFactory {
	return &RealUDPSocketFactory{}
}

func (f *RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// UDPSource receives CSI records forwarded as UDP datagrams. A datagram may
// carry several newline-separated records; they are returned one per Next
// call in arrival order.
type UDPSource struct {
	sock    UDPSocket
	buf     []byte
	pending []string
}

// ListenUDP binds address through factory. An address that cannot be
// resolved or bound is reported as ErrUnavailable.
func ListenUDP(address string, factory UDPSocketFactory) (*UDPSource, error) {
	if address == "" {
		return nil, unavailable("no UDP listen address configured")
	}
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, unavailable("resolve %s: %v", address, err)
	}
	sock, err := factory.ListenUDP("udp", addr)
	if err != nil {
		return nil, unavailable("listen on %s: %v", address, err)
	}
	if err := sock.SetReadBuffer(udpReadBuffer); err != nil {
		monitoring.Warnf("failed to set UDP receive buffer: %v", err)
	}
	monitoring.Logf("listening for CSI datagrams on %s", sock.LocalAddr())
	return &UDPSource{sock: sock, buf: make([]byte, maxDatagram)}, nil
}

func (s *UDPSource) Kind() string { return KindUDP }

// LocalAddr returns the bound address.
func (s *UDPSource) LocalAddr() net.Addr { return s.sock.LocalAddr() }

// Next returns the next record. It is not safe for concurrent use; Close
// may be called from another goroutine and makes Next return io.EOF.
func (s *UDPSource) Next(ctx context.Context) (string, error) {
	for {
		if len(s.pending) > 0 {
			rec := s.pending[0]
			s.pending = s.pending[1:]
			return rec, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if err := s.sock.SetReadDeadline(time.Now().Add(udpPollInterval)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return "", io.EOF
			}
			// Without a deadline the read below could block past ctx.
			return "", &TransientError{Err: fmt.Errorf("set read deadline: %w", err)}
		}
		n, _, err := s.sock.ReadFromUDP(s.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return "", io.EOF
			}
			return "", &TransientError{Err: err}
		}
		s.pending = splitRecords(s.buf[:n])
	}
}

func (s *UDPSource) Close() error {
	return s.sock.Close()
}
