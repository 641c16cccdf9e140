package csi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/csimotion/internal/monitoring"
	"github.com/banshee-data/csimotion/internal/timeutil"
)

// Mode selects which conditioning and detection rule a Pipeline applies.
type Mode int

const (
	// ModeWindowed renormalizes and smooths the full window on every tick
	// and thresholds at a scaled mean of the smoothed series.
	ModeWindowed Mode = iota
	// ModeStreaming tracks the window mean and standard deviation per
	// sample and thresholds at mean + std of the raw amplitudes.
	ModeStreaming
)

func (m Mode) String() string {
	switch m {
	case ModeWindowed:
		return "windowed"
	case ModeStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "windowed", "window", "normalize":
		return ModeWindowed, nil
	case "streaming", "stream", "stats":
		return ModeStreaming, nil
	default:
		return 0, fmt.Errorf("unknown operating mode %q: expected windowed or streaming", s)
	}
}

// DefaultCapacity is the window size used by the file replay tool.
const DefaultCapacity = 300

// ErrInvalidConfig is wrapped by every Config validation failure.
var ErrInvalidConfig = errors.New("invalid pipeline config")

// Config holds the construction-time parameters of a Pipeline.
type Config struct {
	Capacity       int
	SmoothingSpan  int
	ThresholdScale float64
	Policy         Policy
	// Index is the subcarrier used by PolicyIndexed.
	Index int
	Mode  Mode
	// MinStreamingSamples is the window length before streaming mode
	// emits statistics.
	MinStreamingSamples int
}

// DefaultConfig returns the reference parameters.
func DefaultConfig() Config {
	return Config{
		Capacity:            DefaultCapacity,
		SmoothingSpan:       DefaultSmoothingSpan,
		ThresholdScale:      DefaultThresholdScale,
		Policy:              PolicyAverage,
		Index:               150,
		Mode:                ModeWindowed,
		MinStreamingSamples: DefaultMinStreamingSamples,
	}
}

// Validate checks that the configuration can build a Pipeline.
func (c Config) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("%w: capacity must be at least 1, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.SmoothingSpan < 1 {
		return fmt.Errorf("%w: smoothing span must be at least 1, got %d", ErrInvalidConfig, c.SmoothingSpan)
	}
	if c.Mode == ModeWindowed && c.ThresholdScale <= 0 {
		return fmt.Errorf("%w: threshold scale must be positive, got %g", ErrInvalidConfig, c.ThresholdScale)
	}
	if c.Policy == PolicyIndexed && c.Index < 0 {
		return fmt.Errorf("%w: subcarrier index must be non-negative, got %d", ErrInvalidConfig, c.Index)
	}
	if c.Mode == ModeStreaming && c.MinStreamingSamples < DefaultMinStreamingSamples {
		return fmt.Errorf("%w: streaming mode needs at least %d samples, got %d",
			ErrInvalidConfig, DefaultMinStreamingSamples, c.MinStreamingSamples)
	}
	if c.Mode != ModeWindowed && c.Mode != ModeStreaming {
		return fmt.Errorf("%w: unknown mode %v", ErrInvalidConfig, c.Mode)
	}
	return nil
}

// Tick is everything a renderer needs for one frame of output. It is
// computed fresh from a single window snapshot and shares no memory with
// the window or with other ticks.
type Tick struct {
	Mode      Mode        `json:"-"`
	ModeName  string      `json:"mode"`
	Taken     time.Time   `json:"taken"`
	WindowLen int         `json:"window_len"`
	Total     uint64      `json:"total"`
	Series    Series      `json:"series"`
	Result    Result      `json:"result"`
	Regions   []Region    `json:"regions"`
	Stats     []StatPoint `json:"stats,omitempty"`
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithClock replaces the wall clock used for sample timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithMetrics attaches prometheus collectors.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline wires parsing, reduction, the shared Window, conditioning and
// detection. The producer side calls Ingest; consumers call Tick or
// Observe. The Window is the only mutable state it owns.
type Pipeline struct {
	cfg      Config
	reducer  Reducer
	window   *Window
	detector Detector
	stats    *StreamingStats
	clock    timeutil.Clock
	start    time.Time
	metrics  *monitoring.Metrics
}

// New builds a Pipeline after validating cfg.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:     cfg,
		reducer: Reducer{Policy: cfg.Policy, Index: cfg.Index},
		window:  NewWindow(cfg.Capacity),
		clock:   timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.start = p.clock.Now()

	switch cfg.Mode {
	case ModeStreaming:
		p.detector = MeanStdDetector{}
		p.stats = NewStreamingStats(cfg.Capacity, cfg.MinStreamingSamples)
	default:
		p.detector = ScaledMeanDetector{Scale: cfg.ThresholdScale}
	}

	diagf("pipeline ready: mode=%s capacity=%d span=%d detector=%s policy=%s",
		cfg.Mode, cfg.Capacity, cfg.SmoothingSpan, p.detector.Name(), cfg.Policy)
	return p, nil
}

func (p *Pipeline) Config() Config     { return p.cfg }
func (p *Pipeline) Window() *Window    { return p.window }
func (p *Pipeline) Detector() Detector { return p.detector }

// Ingest parses, reduces and pushes one raw record. It reports false when
// the record produced no sample: not a data record, an out-of-range
// subcarrier, or a frozen window.
func (p *Pipeline) Ingest(record string) (Sample, bool) {
	frame, ok := ParseFrame(record)
	if !ok {
		p.metrics.RecordOutcome(monitoring.OutcomeRejected)
		tracef("rejected record (%d bytes)", len(record))
		return Sample{}, false
	}

	value, ok := p.reducer.Reduce(frame)
	if !ok {
		p.metrics.RecordOutcome(monitoring.OutcomeSkipped)
		tracef("skipped frame: %d subcarriers, index %d", len(frame), p.reducer.Index)
		return Sample{}, false
	}

	s, ok := p.window.Push(value, p.clock.Since(p.start))
	if !ok {
		return Sample{}, false
	}
	p.metrics.RecordOutcome(monitoring.OutcomeAccepted)
	p.metrics.SetWindowLength(p.window.Len())
	return s, true
}

// Observe appends the streaming statistics for the newest sample. It
// reports false in windowed mode and until enough samples have arrived.
func (p *Pipeline) Observe() (StatPoint, bool) {
	if p.stats == nil {
		return StatPoint{}, false
	}
	return p.stats.Observe(p.window)
}

// Tick snapshots the window and evaluates it. Only the snapshot holds the
// window lock; conditioning and detection run on the private copy.
func (p *Pipeline) Tick() Tick {
	snap, total := p.window.SnapshotTotal()
	started := time.Now()

	t := Tick{
		Mode:      p.cfg.Mode,
		ModeName:  p.cfg.Mode.String(),
		Taken:     p.clock.Now(),
		WindowLen: len(snap),
		Total:     total,
	}

	switch p.cfg.Mode {
	case ModeStreaming:
		t.Stats = p.stats.Points()
		if len(snap) >= p.cfg.MinStreamingSamples {
			t.Series = rawSeries(snap)
			t.Result = p.detector.Detect(t.Series.Values)
		}
	default:
		t.Series = Condition(snap, p.cfg.SmoothingSpan)
		t.Result = p.detector.Detect(t.Series.Values)
	}
	t.Regions = Regions(t.Result.Mask)

	p.metrics.ObserveEvaluation(t.ModeName, t.Result.Threshold, t.Result.ActiveCount(), time.Since(started))
	return t
}

// Stop freezes the window. Later Ingest calls store nothing; Tick keeps
// evaluating the final contents.
func (p *Pipeline) Stop() {
	p.window.Freeze()
}

func rawSeries(samples []Sample) Series {
	indexes := make([]uint64, len(samples))
	for i, s := range samples {
		indexes[i] = s.Index
	}
	return Series{Values: SampleValues(samples), Indexes: indexes}
}
