package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/csimotion/internal/config"
	"github.com/banshee-data/csimotion/internal/monitoring"
	"github.com/banshee-data/csimotion/internal/render"
)

// setFlag sets a command-line flag for the duration of the test.
func setFlag(t *testing.T, name, value string) {
	t.Helper()
	f := flag.CommandLine.Lookup(name)
	require.NotNil(t, f, "flag %s not defined", name)
	require.NoError(t, flag.CommandLine.Set(name, value))
	t.Cleanup(func() {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
}

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, "", *configPath)
	assert.Equal(t, "ops", *logLevel)
	assert.False(t, *showVersion)
	assert.Equal(t, 0, *windowSize)
}

func TestLoadConfig_DefaultsWithoutFlags(t *testing.T) {
	cfg, err := loadConfig("", flag.NewFlagSet("empty", flag.ContinueOnError))
	require.NoError(t, err)
	if diff := cmp.Diff(config.DefaultConfig(), cfg); diff != "" {
		t.Errorf("loadConfig() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "csi.yaml")
	require.NoError(t, os.WriteFile(path, []byte("window_size: 120\nmode: windowed\nsource:\n  kind: udp\n  address: \":7000\"\n"), 0o644))

	setFlag(t, "mode", "streaming")
	setFlag(t, "scale", "2.5")
	setFlag(t, "listen", "127.0.0.1:9999")
	setFlag(t, "mqtt-broker", "tcp://broker:1883")

	cfg, err := loadConfig(path, flag.CommandLine)
	require.NoError(t, err)

	assert.Equal(t, 120, cfg.GetWindowSize())
	assert.Equal(t, "streaming", cfg.GetMode())
	assert.Equal(t, 2.5, cfg.GetThresholdScale())
	assert.Equal(t, "127.0.0.1:9999", cfg.GetHTTPListen())
	assert.Equal(t, "udp", cfg.Source.Kind)
	assert.Equal(t, ":7000", cfg.Source.Address)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
}

func TestLoadConfig_InvalidFlagValue(t *testing.T) {
	setFlag(t, "mode", "sometimes")
	_, err := loadConfig("", flag.CommandLine)
	assert.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"), flag.CommandLine)
	assert.Error(t, err)
}

func TestConfigureLogging(t *testing.T) {
	for _, level := range []string{"quiet", "ops", "diag", "trace"} {
		assert.NoError(t, configureLogging(level, &bytes.Buffer{}), level)
	}
	assert.Error(t, configureLogging("verbose", &bytes.Buffer{}))

	var buf bytes.Buffer
	require.NoError(t, configureLogging("ops", &buf))
	monitoring.Warnf("mqtt disabled")
	assert.Contains(t, buf.String(), "warning: mqtt disabled")

	require.NoError(t, configureLogging("quiet", nil))
	monitoring.Warnf("silenced")
	assert.NotContains(t, buf.String(), "silenced")
}

func TestNewMux(t *testing.T) {
	latest := render.NewLatest()
	hub := render.NewHub("run-1")
	defer hub.Close()
	srv := httptest.NewServer(newMux(latest, hub, monitoring.NewMetrics(), "run-1"))
	defer srv.Close()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}

	tests := []struct {
		path string
		want int
	}{
		{"/api/status", http.StatusOK},
		{"/chart", http.StatusOK},
		{"/plot.png", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/", http.StatusFound},
		{"/missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := client.Get(srv.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	resp, err := client.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status render.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "run-1", status.RunID)
	assert.False(t, status.Ready)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	listen := "127.0.0.1:0"
	pacing := "0s"
	cfg.HTTPListen = &listen
	cfg.Pacing = &pacing
	cfg.Source.Path = filepath.Join("..", "..", "testdata", "csi_data.log")
	return cfg
}

func TestRun_ShutsDownOnDeadline(t *testing.T) {
	require.NoError(t, configureLogging("quiet", nil))
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	assert.NoError(t, run(ctx, testConfig(t), "run-1"))
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	require.NoError(t, configureLogging("quiet", nil))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	assert.NoError(t, run(ctx, testConfig(t), "run-1"))
}

func TestRun_UnavailableSourceKeepsServing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source.Path = filepath.Join(t.TempDir(), "absent.log")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.NoError(t, run(ctx, cfg, "run-1"))
}

func TestRun_BadListenAddress(t *testing.T) {
	cfg := testConfig(t)
	bad := "127.0.0.1:notaport"
	cfg.HTTPListen = &bad

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := run(ctx, cfg, "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http server")
}
