package quality

import (
	"sync"

	"github.com/huddlehq/huddle-recorder/internal/audio"
)

// Window holds the most recent FFTSize samples of the captured signal.
// The capture reader writes to it; the analyzer reads it. It is safe for
// concurrent use.
type Window struct {
	mu      sync.Mutex
	ring    [FFTSize]float64
	next    int
	scratch []float64

	// A read can end mid-sample; the odd byte waits for the next Write.
	carry    byte
	hasCarry bool
	joined   []byte
}

// NewWindow returns an empty (silent) window.
func NewWindow() *Window {
	return &Window{}
}

// Write appends mono S16LE PCM to the window, keeping only the newest samples.
// Chunks need not be sample aligned.
func (w *Window) Write(pcm []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.hasCarry {
		w.joined = append(append(w.joined[:0], w.carry), pcm...)
		pcm = w.joined
		w.hasCarry = false
	}
	if len(pcm)%2 == 1 {
		w.carry = pcm[len(pcm)-1]
		w.hasCarry = true
		pcm = pcm[:len(pcm)-1]
	}

	w.scratch = audio.DecodeS16LE(pcm, w.scratch)
	samples := w.scratch
	if len(samples) > FFTSize {
		samples = samples[len(samples)-FFTSize:]
	}
	for _, s := range samples {
		w.ring[w.next] = s
		w.next = (w.next + 1) % FFTSize
	}
}

// Snapshot copies the window into dst, oldest sample first.
func (w *Window) Snapshot(dst []float64) []float64 {
	if cap(dst) < FFTSize {
		dst = make([]float64, FFTSize)
	}
	dst = dst[:FFTSize]

	w.mu.Lock()
	defer w.mu.Unlock()
	n := copy(dst, w.ring[w.next:])
	copy(dst[n:], w.ring[:w.next])
	return dst
}

// Reset silences the window.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.ring[:])
	w.next = 0
	w.hasCarry = false
}
