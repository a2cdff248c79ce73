package producer

import "sync"

type vadChange int

const (
	vadNone vadChange = iota
	vadSpeaking
	vadStopped
)

const vadHistory = 100

// voiceDetector turns a stream of level readings into speaking transitions.
// Speech starts once two of the last three readings were above the threshold
// and stops only after the whole history has been quiet.
type voiceDetector struct {
	mu        sync.Mutex
	threshold float64
	history   []bool
	pos       int
	above     int
	speaking  bool
}

func newVoiceDetector(threshold float64, history int) *voiceDetector {
	if history < 3 {
		history = 3
	}
	return &voiceDetector{threshold: threshold, history: make([]bool, history)}
}

func (d *voiceDetector) setThreshold(db float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.threshold = db
}

func (d *voiceDetector) feed(db float64) vadChange {
	d.mu.Lock()
	defer d.mu.Unlock()

	change := vadNone
	switch {
	case db > d.threshold && !d.speaking:
		if d.recentAbove(3) >= 2 {
			d.speaking = true
			change = vadSpeaking
		}
	case db < d.threshold && d.speaking:
		if d.above == 0 {
			d.speaking = false
			change = vadStopped
		}
	}

	if d.history[d.pos] {
		d.above--
	}
	d.history[d.pos] = db > d.threshold
	if d.history[d.pos] {
		d.above++
	}
	d.pos = (d.pos + 1) % len(d.history)
	return change
}

func (d *voiceDetector) recentAbove(n int) int {
	count := 0
	for i := 1; i <= n; i++ {
		idx := (d.pos - i + len(d.history)) % len(d.history)
		if d.history[idx] {
			count++
		}
	}
	return count
}

func (d *voiceDetector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}
