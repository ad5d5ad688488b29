package quality

import (
	"log/slog"
	"sync"
	"time"

	"github.com/huddlehq/huddle-recorder/internal/types"
)

// Sink receives each snapshot. It must not block; delivery is fire-and-forget.
type Sink func(types.QualityMetrics)

// Analyzer samples a Window on a fixed interval and emits quality snapshots
// while started. It is safe for concurrent use.
type Analyzer struct {
	interval time.Duration
	window   *Window
	sink     Sink

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	latest  *types.QualityMetrics
	running bool
}

// NewAnalyzer creates an analyzer reading from w every interval.
func NewAnalyzer(w *Window, interval time.Duration, sink Sink) *Analyzer {
	return &Analyzer{
		interval: interval,
		window:   w,
		sink:     sink,
	}
}

// Start begins periodic sampling. Calling Start on a running analyzer is a no-op.
func (a *Analyzer) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	a.running = true
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.run(a.stopCh, a.doneCh)
	slog.Debug("quality analyzer started", "interval", a.interval)
}

// Stop halts sampling and releases the spectrum state. It waits for an
// in-progress sample to finish and is idempotent.
func (a *Analyzer) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.stopCh)
	done := a.doneCh
	a.mu.Unlock()

	<-done
	slog.Debug("quality analyzer stopped")
}

// Running reports whether the analyzer is sampling.
func (a *Analyzer) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Latest returns the most recent snapshot, or nil if none was produced.
func (a *Analyzer) Latest() *types.QualityMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.latest == nil {
		return nil
	}
	m := *a.latest
	return &m
}

func (a *Analyzer) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	spectrum := NewSpectrum(DefaultSmoothing)
	samples := make([]float64, FFTSize)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			samples = a.window.Snapshot(samples)
			m := Compute(spectrum.Magnitudes(samples))

			a.mu.Lock()
			a.latest = &m
			a.mu.Unlock()

			if a.sink != nil {
				a.sink(m)
			}
		}
	}
}
