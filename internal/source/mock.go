package source

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// TestablePort implements SerialPorter with scripted reads for tests.
// Read blocks until data is added, the input is ended, or the port is
// closed.
type TestablePort struct {
	mu   sync.Mutex
	cond *sync.Cond

	readBuf  bytes.Buffer
	written  bytes.Buffer
	readErrs []error
	ended    bool
	closed   bool

	// ReadCalls records the number of Read calls.
	ReadCalls int
	// CloseCalls records the number of Close calls.
	CloseCalls int
	// CloseError is returned by Close if set.
	CloseError error
}

// NewTestablePort creates an empty TestablePort.
func NewTestablePort() *TestablePort {
	p := &TestablePort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *TestablePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReadCalls++
	for {
		if p.closed {
			return 0, errors.New("serial port closed")
		}
		if len(p.readErrs) > 0 {
			err := p.readErrs[0]
			p.readErrs = p.readErrs[1:]
			return 0, err
		}
		if p.readBuf.Len() > 0 {
			return p.readBuf.Read(b)
		}
		if p.ended {
			return 0, io.EOF
		}
		p.cond.Wait()
	}
}

func (p *TestablePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("serial port closed")
	}
	return p.written.Write(b)
}

func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCalls++
	p.closed = true
	p.cond.Broadcast()
	return p.CloseError
}

// AddReadData queues data for subsequent Read calls.
func (p *TestablePort) AddReadData(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuf.WriteString(data)
	p.cond.Broadcast()
}

// FailNextRead makes the next Read return err, ahead of any queued data.
func (p *TestablePort) FailNextRead(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErrs = append(p.readErrs, err)
	p.cond.Broadcast()
}

// EndInput makes Read return io.EOF once queued data is drained.
func (p *TestablePort) EndInput() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ended = true
	p.cond.Broadcast()
}

// Closed reports whether Close was called.
func (p *TestablePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// MockUDPSocket implements UDPSocket for tests. Once its datagrams are
// exhausted every read times out.
type MockUDPSocket struct {
	mu        sync.Mutex
	datagrams [][]byte
	readErrs  []error
	closed    bool

	// ReadBufferSize holds the value set by SetReadBuffer.
	ReadBufferSize int
	// SetReadBufferError is returned by SetReadBuffer if set.
	SetReadBufferError error
	// SetReadDeadlineError is returned by SetReadDeadline if set.
	SetReadDeadlineError error
	// LocalAddress is returned by LocalAddr.
	LocalAddress *net.UDPAddr
}

// NewMockUDPSocket creates a socket that yields datagrams in order.
func NewMockUDPSocket(datagrams ...string) *MockUDPSocket {
	m := &MockUDPSocket{LocalAddress: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5566}}
	for _, d := range datagrams {
		m.datagrams = append(m.datagrams, []byte(d))
	}
	return m
}

// FailNextRead makes the next ReadFromUDP return err.
func (m *MockUDPSocket) FailNextRead(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErrs = append(m.readErrs, err)
}

func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, nil, net.ErrClosed
	}
	if len(m.readErrs) > 0 {
		err := m.readErrs[0]
		m.readErrs = m.readErrs[1:]
		return 0, nil, err
	}
	if len(m.datagrams) == 0 {
		m.mu.Unlock()
		time.Sleep(time.Millisecond)
		m.mu.Lock()
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
	d := m.datagrams[0]
	m.datagrams = m.datagrams[1:]
	return copy(b, d), &net.UDPAddr{IP: net.IPv4(192, 168, 4, 1), Port: 5566}, nil
}

func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetReadBufferError != nil {
		return m.SetReadBufferError
	}
	m.ReadBufferSize = bytes
	return nil
}

func (m *MockUDPSocket) SetReadDeadline(time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return net.ErrClosed
	}
	return m.SetReadDeadlineError
}

func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockUDPSocket) LocalAddr() net.Addr { return m.LocalAddress }

// MockUDPSocketFactory returns Socket, or Error, from ListenUDP.
type MockUDPSocketFactory struct {
	Socket *MockUDPSocket
	Error  error
	// Addrs records every address passed to ListenUDP.
	Addrs []*net.UDPAddr
}

func (f *MockUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.Addrs = append(f.Addrs, laddr)
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Socket, nil
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
