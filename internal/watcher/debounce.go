package watcher

import "time"

// debouncer reports paths once they have not been scheduled again for a delay.
//
// Its methods are not safe for concurrent use: they are called from the watch loop only.
type debouncer struct {
	delay time.Duration

	// ready receives every fired timer, which may be stale: check it with settled.
	ready chan settledPath
	done  chan struct{}

	pending map[string]pendingPath
	gen     uint64
}

type settledPath struct {
	path string
	gen  uint64
}

type pendingPath struct {
	timer *time.Timer
	gen   uint64
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{
		delay:   delay,
		ready:   make(chan settledPath),
		done:    make(chan struct{}),
		pending: make(map[string]pendingPath),
	}
}

// schedule (re)starts the delay of path.
func (d *debouncer) schedule(path string) {
	if p, ok := d.pending[path]; ok {
		// A timer which already fired is superseded by the new generation.
		p.timer.Stop()
	}

	d.gen++
	gen := d.gen
	d.pending[path] = pendingPath{
		gen: gen,
		timer: time.AfterFunc(d.delay, func() {
			select {
			case d.ready <- settledPath{path: path, gen: gen}:
			case <-d.done:
			}
		}),
	}
}

// cancel forgets path.
func (d *debouncer) cancel(path string) {
	p, ok := d.pending[path]
	if !ok {
		return
	}
	p.timer.Stop()
	delete(d.pending, path)
}

// settled returns true if s is the latest schedule of its path, which is then forgotten.
func (d *debouncer) settled(s settledPath) bool {
	p, ok := d.pending[s.path]
	if !ok || p.gen != s.gen {
		return false
	}
	delete(d.pending, s.path)
	return true
}

// stop stops all timers and releases the fired ones. The debouncer can't be used afterwards.
func (d *debouncer) stop() {
	close(d.done)
	for _, p := range d.pending {
		p.timer.Stop()
	}
	d.pending = nil
}
