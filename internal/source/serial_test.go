package source

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRecord = `CSI_DATA,0,aa:bb:cc:dd:ee:ff,-62,11,1,0,0,0,0,0,-93,0,1,1,0,0,0,0,0,0,0,0,0,0,0,0,128,0,"[3,-4,0,5]"`

func nextWithTimeout(t *testing.T, src FrameSource) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return src.Next(ctx)
}

func TestSerialSource_DeliversLinesInOrder(t *testing.T) {
	port := NewTestablePort()
	src := NewSerialSource(port, "test")
	defer src.Close()

	port.AddReadData("first\r\nsecond\n")
	port.EndInput()

	got, err := nextWithTimeout(t, src)
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	got, err = nextWithTimeout(t, src)
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	_, err = nextWithTimeout(t, src)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, KindSerial, src.Kind())
}

func TestSerialSource_ReadErrorIsTransient(t *testing.T) {
	port := NewTestablePort()
	port.FailNextRead(errors.New("framing error"))
	port.AddReadData("after\n")
	src := NewSerialSource(port, "test")
	defer src.Close()

	_, err := nextWithTimeout(t, src)
	require.Error(t, err)
	assert.True(t, IsTransient(err), "got %v", err)

	got, err := nextWithTimeout(t, src)
	require.NoError(t, err)
	assert.Equal(t, "after", got)
}

func TestSerialSource_NextHonoursContext(t *testing.T) {
	port := NewTestablePort()
	src := NewSerialSource(port, "test")
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSerialSource_Close(t *testing.T) {
	port := NewTestablePort()
	src := NewSerialSource(port, "test")
	id, ch := src.Subscribe()
	require.NotEmpty(t, id)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.True(t, port.Closed())
	assert.Equal(t, 1, port.CloseCalls)

	_, ok := <-ch
	assert.False(t, ok, "subscriber channel should be closed")

	_, err := nextWithTimeout(t, src)
	assert.ErrorIs(t, err, io.EOF)

	_, late := src.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribe after close should return a closed channel")
}

func TestSerialSource_FanOut(t *testing.T) {
	port := NewTestablePort()
	src := NewSerialSource(port, "test")
	defer src.Close()

	id, ch := src.Subscribe()
	port.AddReadData(sampleRecord + "\n")

	got, err := nextWithTimeout(t, src)
	require.NoError(t, err)
	assert.Equal(t, sampleRecord, got)

	select {
	case line := <-ch:
		assert.Equal(t, sampleRecord, line)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive line")
	}

	src.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)
	src.Unsubscribe(id)
}

func TestOpenSerial_Unavailable(t *testing.T) {
	_, err := OpenSerial("", PortOptions{})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = OpenSerial("/dev/csimotion-does-not-exist", PortOptions{})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = OpenSerial("/dev/ttyUSB0", PortOptions{Parity: "mark"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestSerialSource_AdminTail(t *testing.T) {
	port := NewTestablePort()
	src := NewSerialSource(port, "test")
	defer src.Close()

	httpMux := http.NewServeMux()
	src.AttachAdminRoutes(httpMux)
	ts := httptest.NewServer(httpMux)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/debug/csi-tail", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	scanner := bufio.NewScanner(resp.Body)
	require.True(t, scanner.Scan())
	assert.True(t, strings.HasPrefix(scanner.Text(), ": ping"))

	// The handler subscribes before the ping, so the line reaches it.
	port.AddReadData("hello-sse\n")
	go func() { _, _ = src.Next(ctx) }()

	gotData := false
	for i := 0; i < 5 && scanner.Scan(); i++ {
		if strings.Contains(scanner.Text(), "hello-sse") {
			gotData = true
			break
		}
	}
	assert.True(t, gotData, "did not receive SSE data event")
}

func TestSerialSource_AdminTail_MethodNotAllowed(t *testing.T) {
	src := NewSerialSource(NewTestablePort(), "test")
	defer src.Close()

	httpMux := http.NewServeMux()
	src.AttachAdminRoutes(httpMux)

	req := httptest.NewRequest(http.MethodPost, "/debug/csi-tail", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
