package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/csimotion/internal/csi"
	"github.com/banshee-data/csimotion/internal/source"
)

var fixture = filepath.Join("..", "..", "testdata", "csi_data.log")

func defaultOptions(path string) options {
	return options{
		Source: source.Config{Kind: source.KindFile, Path: path},
		Mode:   "windowed",
		Span:   csi.DefaultSmoothingSpan,
		Scale:  csi.DefaultThresholdScale,
		Policy: "average",
		Index:  150,
	}
}

func TestReplay_FindsMotionBurst(t *testing.T) {
	opts := defaultOptions(fixture)
	opts.JSON = true

	var out bytes.Buffer
	require.NoError(t, replay(context.Background(), opts, &out))

	var tick csi.Tick
	require.NoError(t, json.Unmarshal(out.Bytes(), &tick))
	assert.Equal(t, 241, tick.WindowLen)
	require.Len(t, tick.Regions, 1)
	r := tick.Regions[0]
	assert.InDelta(t, 100, r.Start, 3)
	assert.InDelta(t, 161, r.End, 3)
}

func TestReplay_Summary(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, replay(context.Background(), defaultOptions(fixture), &out))

	text := out.String()
	assert.Contains(t, text, "242 records, 241 samples, 1 rejected")
	assert.Contains(t, text, "mode windowed")
	assert.Contains(t, text, "region")
}

func TestReplay_NoActivity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat.log")
	line := `CSI_DATA,0,24:0a:c4:8d:3f:51,-62,11,1,0,1,1,1,0,0,0,0,-93,0,6,2,0,0,128,0,"[5,5,5,5]"`
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat(line+"\n", 20)), 0o644))

	var out bytes.Buffer
	require.NoError(t, replay(context.Background(), defaultOptions(path), &out))
	assert.Contains(t, out.String(), "no activity")
}

func TestReplay_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	var out bytes.Buffer
	require.NoError(t, replay(context.Background(), defaultOptions(path), &out))
	assert.Contains(t, out.String(), "0 records, 0 samples")
}

func TestReplay_WritesPNG(t *testing.T) {
	opts := defaultOptions(fixture)
	opts.PNG = filepath.Join(t.TempDir(), "replay.png")

	require.NoError(t, replay(context.Background(), opts, &bytes.Buffer{}))
	data, err := os.ReadFile(opts.PNG)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

func TestReplay_WritesPNGIntoDir(t *testing.T) {
	opts := defaultOptions(fixture)
	opts.PNGDir = t.TempDir()

	require.NoError(t, replay(context.Background(), opts, &bytes.Buffer{}))
	_, err := os.Stat(filepath.Join(opts.PNGDir, "csi_data.png"))
	assert.NoError(t, err)
}

func TestReplay_Streaming(t *testing.T) {
	opts := defaultOptions(fixture)
	opts.Mode = "streaming"
	opts.JSON = true

	var out bytes.Buffer
	require.NoError(t, replay(context.Background(), opts, &out))

	var tick csi.Tick
	require.NoError(t, json.Unmarshal(out.Bytes(), &tick))
	assert.Equal(t, "streaming", tick.ModeName)
	assert.NotEmpty(t, tick.Stats)
	assert.NotEmpty(t, tick.Regions)
}

func TestReplay_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*options)
	}{
		{"live source", func(o *options) { o.Source.Kind = source.KindUDP }},
		{"missing file", func(o *options) { o.Source.Path = filepath.Join(t.TempDir(), "absent.log") }},
		{"bad mode", func(o *options) { o.Mode = "sometimes" }},
		{"bad reduction", func(o *options) { o.Policy = "median" }},
		{"zero span", func(o *options) { o.Span = 0 }},
		{"missing png dir", func(o *options) { o.PNGDir = filepath.Join(t.TempDir(), "absent") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultOptions(fixture)
			tt.mutate(&opts)
			assert.Error(t, replay(context.Background(), opts, &bytes.Buffer{}))
		})
	}
}
