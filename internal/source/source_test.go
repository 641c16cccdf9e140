package source

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "csi.log")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func drain(t *testing.T, src FrameSource) []string {
	t.Helper()
	var out []string
	for {
		rec, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestFileSource(t *testing.T) {
	path := writeLog(t, "boot banner\n"+sampleRecord+"\r\n\nlast line without newline")
	src, err := OpenFile(path)
	require.NoError(t, err)
	defer src.Close()

	want := []string{"boot banner", sampleRecord, "", "last line without newline"}
	if diff := cmp.Diff(want, drain(t, src)); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, KindFile, src.Kind())
	assert.Equal(t, path, src.Path())

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestFileSource_Unavailable(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing.log"))
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = OpenFile("")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFileSource_ClosedAndCancelled(t *testing.T) {
	src, err := OpenFile(writeLog(t, "a\nb\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestReadLine_TooLong(t *testing.T) {
	long := strings.Repeat("x", MaxLineBytes+10)
	r := bufio.NewReaderSize(strings.NewReader(long+"\nshort\n"), 4096)

	_, err := readLine(r)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, ErrLineTooLong)

	got, err := readLine(r)
	require.NoError(t, err)
	assert.Equal(t, "short", got)

	_, err = readLine(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSplitRecords(t *testing.T) {
	got := splitRecords([]byte("one\r\n\n  \ntwo\nthree"))
	if diff := cmp.Diff([]string{"one", "two", "three"}, got); diff != "" {
		t.Errorf("splitRecords mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, splitRecords(nil))
}

func TestTransientError(t *testing.T) {
	base := errors.New("parity error")
	err := error(&TransientError{Err: base})
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "parity error")
	assert.False(t, IsTransient(base))
	assert.False(t, IsTransient(nil))
}

func TestOpen(t *testing.T) {
	path := writeLog(t, sampleRecord+"\n")

	src, err := Open(Config{Path: path})
	require.NoError(t, err)
	assert.Equal(t, KindFile, src.Kind())
	require.NoError(t, src.Close())

	src, err = Open(Config{Kind: " FILE ", Path: path})
	require.NoError(t, err)
	require.NoError(t, src.Close())

	src, err = Open(Config{Kind: KindUDP, Address: "127.0.0.1:0"})
	require.NoError(t, err)
	assert.Equal(t, KindUDP, src.Kind())
	require.NoError(t, src.Close())

	_, err = Open(Config{Kind: KindSerial})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = Open(Config{Kind: KindPCAP, Path: filepath.Join(t.TempDir(), "none.pcap")})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = Open(Config{Kind: "carrier-pigeon"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
}
