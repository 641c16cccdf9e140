// Command csi-replay evaluates a whole recorded CSI log or capture in one
// pass, with the window sized to hold every sample, and prints the
// activity regions it finds.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	flag "github.com/spf13/pflag"

	"github.com/banshee-data/csimotion/internal/csi"
	"github.com/banshee-data/csimotion/internal/render"
	"github.com/banshee-data/csimotion/internal/security"
	"github.com/banshee-data/csimotion/internal/source"
	"github.com/banshee-data/csimotion/internal/version"
)

var (
	kind      = flag.String("source", source.KindFile, "Input kind: file or pcap")
	port      = flag.Int("pcap-port", 0, "Only replay UDP packets to or from this port (0 = any)")
	mode      = flag.StringP("mode", "m", csi.ModeWindowed.String(), "Detection mode: windowed or streaming")
	span      = flag.Int("span", csi.DefaultSmoothingSpan, "Moving-average span in samples")
	scale     = flag.Float64("scale", csi.DefaultThresholdScale, "Threshold scale for windowed mode")
	reduction = flag.String("reduction", csi.PolicyAverage.String(), "Frame reduction: average or indexed")
	index     = flag.Int("index", 150, "Subcarrier index for indexed reduction")
	pngPath   = flag.String("png", "", "Write a plot of the evaluated series to this PNG file")
	pngDir    = flag.String("png-dir", "", "Write the plot into this directory, named after the input")
	asJSON    = flag.Bool("json", false, "Print the evaluated tick as JSON")
	verbose   = flag.BoolP("verbose", "V", false, "Log rejected records")
	showVer   = flag.BoolP("version", "v", false, "Print version and exit")
)

type options struct {
	Source  source.Config
	Mode    string
	Span    int
	Scale   float64
	Policy  string
	Index   int
	PNG     string
	PNGDir  string
	JSON    bool
	Verbose bool
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: csi-replay [flags] <log-or-capture>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVer {
		fmt.Println(version.String("csi-replay"))
		return
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	opts := options{
		Source:  source.Config{Kind: *kind, Path: flag.Arg(0), Port: *port},
		Mode:    *mode,
		Span:    *span,
		Scale:   *scale,
		Policy:  *reduction,
		Index:   *index,
		PNG:     *pngPath,
		PNGDir:  *pngDir,
		JSON:    *asJSON,
		Verbose: *verbose,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := replay(ctx, opts, os.Stdout); err != nil {
		log.Fatalf("csi-replay: %v", err)
	}
}

// readAll drains src into memory so the window can be sized to fit.
func readAll(ctx context.Context, src source.FrameSource) ([]string, error) {
	var records []string
	for {
		rec, err := src.Next(ctx)
		switch {
		case err == nil:
			records = append(records, rec)
		case errors.Is(err, io.EOF):
			return records, nil
		case source.IsTransient(err):
			log.Printf("skipping unreadable input: %v", err)
		default:
			return nil, err
		}
	}
}

func replay(ctx context.Context, opts options, w io.Writer) error {
	switch opts.Source.Kind {
	case "", source.KindFile, source.KindPCAP:
	default:
		return fmt.Errorf("csi-replay reads files only, got source %q", opts.Source.Kind)
	}

	src, err := source.Open(opts.Source)
	if err != nil {
		return err
	}
	defer src.Close()

	records, err := readAll(ctx, src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", opts.Source.Path, err)
	}

	m, err := csi.ParseMode(opts.Mode)
	if err != nil {
		return err
	}
	policy, err := csi.ParsePolicy(opts.Policy)
	if err != nil {
		return err
	}
	capacity := len(records)
	if capacity < 1 {
		capacity = 1
	}
	cfg := csi.DefaultConfig()
	cfg.Capacity = capacity
	cfg.SmoothingSpan = opts.Span
	cfg.ThresholdScale = opts.Scale
	cfg.Policy = policy
	cfg.Index = opts.Index
	cfg.Mode = m

	if opts.Verbose {
		csi.SetLogWriters(os.Stderr, os.Stderr, os.Stderr)
	}
	p, err := csi.New(cfg)
	if err != nil {
		return err
	}

	rejected := 0
	for _, rec := range records {
		if _, ok := p.Ingest(rec); !ok {
			rejected++
			continue
		}
		p.Observe()
	}
	p.Stop()
	tick := p.Tick()

	var pngPaths []string
	if opts.PNG != "" {
		pngPaths = append(pngPaths, opts.PNG)
	}
	if opts.PNGDir != "" {
		path, err := security.OutputPath(opts.PNGDir, opts.Source.Path, ".png")
		if err != nil {
			return err
		}
		pngPaths = append(pngPaths, path)
	}
	for _, path := range pngPaths {
		if err := render.PlotPNG(tick, opts.Source.Path, path); err != nil {
			return err
		}
		log.Printf("wrote %s", path)
	}
	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tick)
	}
	return printSummary(w, opts.Source.Path, len(records), rejected, tick)
}

func printSummary(w io.Writer, name string, records, rejected int, t csi.Tick) error {
	fmt.Fprintf(w, "%s: %d records, %d samples, %d rejected\n", name, records, t.WindowLen, rejected)
	fmt.Fprintf(w, "mode %s, threshold %.4f, %d of %d samples active\n",
		t.ModeName, t.Result.Threshold, t.Result.ActiveCount(), len(t.Result.Mask))
	if len(t.Regions) == 0 {
		fmt.Fprintln(w, "no activity")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "region\tstart\tend\tsamples")
	for i, r := range t.Regions {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\n", i+1, r.Start, r.End, r.Len())
	}
	return tw.Flush()
}
