package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/csimotion/internal/config"
	"github.com/banshee-data/csimotion/internal/csi"
	"github.com/banshee-data/csimotion/internal/monitoring"
	"github.com/banshee-data/csimotion/internal/render"
	"github.com/banshee-data/csimotion/internal/source"
	"github.com/banshee-data/csimotion/internal/version"
)

const (
	chartTitle      = "CSI motion"
	shutdownTimeout = 2 * time.Second
)

var (
	configPath  = flag.StringP("config", "c", "", "Path to a YAML or JSON config file")
	sourceKind  = flag.String("source", "", "Record source: file, serial, udp or pcap")
	sourcePath  = flag.String("path", "", "Log file, serial device or capture file")
	udpAddress  = flag.String("udp", "", "UDP listen address for the udp source")
	pcapPort    = flag.Int("pcap-port", 0, "Only replay UDP packets to or from this port (0 = any)")
	baudRate    = flag.Int("baud", 0, "Serial baud rate")
	mode        = flag.StringP("mode", "m", "", "Detection mode: windowed or streaming")
	windowSize  = flag.IntP("window", "w", 0, "Sliding window capacity in samples")
	span        = flag.Int("span", 0, "Moving-average span in samples")
	scale       = flag.Float64("scale", 0, "Threshold scale for windowed mode")
	listen      = flag.StringP("listen", "l", "", "HTTP listen address")
	mqttBroker  = flag.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	mqttTopic   = flag.String("mqtt-topic", "", "MQTT topic prefix")
	logLevel    = flag.String("log-level", "ops", "Log streams to enable: quiet, ops, diag or trace")
	showVersion = flag.BoolP("version", "v", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("csi-motion"))
		return
	}

	if err := configureLogging(*logLevel, os.Stderr); err != nil {
		log.Fatalf("%v", err)
	}

	cfg, err := loadConfig(*configPath, flag.CommandLine)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, uuid.NewString()); err != nil {
		log.Fatalf("csi-motion: %v", err)
	}
	log.Printf("graceful shutdown complete")
}

// configureLogging enables the csi log streams up to level.
func configureLogging(level string, w io.Writer) error {
	switch level {
	case "quiet":
		csi.SetLogWriters(nil, nil, nil)
		monitoring.SetLogWriters(nil, nil)
	case "ops":
		csi.SetLogWriters(w, nil, nil)
		monitoring.SetLogWriters(w, w)
	case "diag":
		csi.SetLogWriters(w, w, nil)
		monitoring.SetLogWriters(w, w)
	case "trace":
		csi.SetLogWriters(w, w, w)
		monitoring.SetLogWriters(w, w)
	default:
		return fmt.Errorf("unknown log level %q: expected quiet, ops, diag or trace", level)
	}
	return nil
}

// loadConfig reads path (or starts from defaults) and applies any flag the
// user set explicitly on top.
func loadConfig(path string, fs *flag.FlagSet) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	applyFlags(cfg, fs)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, fs *flag.FlagSet) {
	changed := func(name string) bool {
		f := fs.Lookup(name)
		return f != nil && f.Changed
	}
	if changed("source") {
		cfg.Source.Kind = *sourceKind
	}
	if changed("path") {
		cfg.Source.Path = *sourcePath
	}
	if changed("udp") {
		cfg.Source.Address = *udpAddress
	}
	if changed("pcap-port") {
		cfg.Source.Port = *pcapPort
	}
	if changed("baud") {
		cfg.Source.BaudRate = *baudRate
	}
	if changed("mode") {
		v := *mode
		cfg.Mode = &v
	}
	if changed("window") {
		v := *windowSize
		cfg.WindowSize = &v
	}
	if changed("span") {
		v := *span
		cfg.SmoothingSpan = &v
	}
	if changed("scale") {
		v := *scale
		cfg.ThresholdScale = &v
	}
	if changed("listen") {
		v := *listen
		cfg.HTTPListen = &v
	}
	if changed("mqtt-broker") {
		cfg.MQTT.Broker = *mqttBroker
	}
	if changed("mqtt-topic") {
		cfg.MQTT.Topic = *mqttTopic
	}
}

// adminRouter is implemented by sources that expose debug routes.
type adminRouter interface {
	AttachAdminRoutes(mux *http.ServeMux)
}

// newMux mounts the HTTP views over latest, the websocket hub and metrics.
func newMux(latest *render.Latest, hub *render.Hub, metrics *monitoring.Metrics, runID string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/chart", render.ChartHandler(latest, chartTitle))
	mux.Handle("/plot.png", render.PlotHandler(latest, chartTitle))
	mux.Handle("/api/status", render.StatusHandler(latest, runID))
	mux.Handle("/ws", hub)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/chart", http.StatusFound)
	})
	return mux
}

func run(ctx context.Context, cfg *config.Config, runID string) error {
	pcfg, err := cfg.PipelineConfig()
	if err != nil {
		return err
	}

	metrics := monitoring.NewMetrics()
	pipeline, err := csi.New(pcfg, csi.WithMetrics(metrics))
	if err != nil {
		return err
	}
	log.Printf("csi-motion %s run %s: mode=%s window=%d span=%d scale=%.3g",
		version.Version, runID, pcfg.Mode, pcfg.Capacity, pcfg.SmoothingSpan, pcfg.ThresholdScale)

	latest := render.NewLatest()
	hub := render.NewHub(runID)
	defer hub.Close()
	renderers := []csi.Renderer{latest, hub}

	if cfg.MQTT.Broker != "" {
		pub, err := render.NewMQTTPublisher(render.MQTTConfig{
			Broker:         cfg.MQTT.Broker,
			Topic:          cfg.MQTT.Topic,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			StatusInterval: cfg.MQTT.GetStatusInterval(),
		}, runID)
		if err != nil {
			monitoring.Warnf("mqtt disabled: %v", err)
		} else {
			defer pub.Close()
			renderers = append(renderers, pub)
		}
	}

	mux := newMux(latest, hub, metrics, runID)

	// An unavailable source is reported and the views keep serving an
	// empty window.
	src, err := source.Open(cfg.SourceConfig())
	if err != nil {
		if !errors.Is(err, source.ErrUnavailable) {
			return err
		}
		monitoring.Warnf("%v; serving without input", err)
		metrics.SourceError(cfg.SourceConfig().Kind)
		src = nil
	} else {
		defer src.Close()
		if a, ok := src.(adminRouter); ok {
			a.AttachAdminRoutes(mux)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if src != nil {
		producer := csi.NewProducer(pipeline, src, cfg.GetPacing(), nil)
		g.Go(func() error {
			err := producer.Run(gctx)
			switch {
			case err == nil:
				log.Printf("%s source finished; serving last window", src.Kind())
			case gctx.Err() != nil:
			default:
				monitoring.Warnf("producer stopped: %v", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			producer.Stop()
			return nil
		})
	}

	consumer := csi.NewConsumer(pipeline, cfg.GetTickInterval(), nil, renderers...)
	g.Go(func() error {
		if err := consumer.Run(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})

	server := &http.Server{
		Addr:              cfg.GetHTTPListen(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Printf("serving on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			return server.Close()
		}
		return nil
	})

	return g.Wait()
}
