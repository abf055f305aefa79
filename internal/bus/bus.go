// Package bus provides a bounded state-change notifier. Feed ingestion
// goroutines push notices without blocking; a single consumer drains and
// coalesces them into rebuilds.
package bus

// Notifier coalesces change notices onto a bounded channel. Notify never
// blocks: when the channel is full the notice is dropped, which is safe
// because one pending notice already guarantees a rebuild.
type Notifier struct {
	ch chan struct{}
}

// NewNotifier creates a Notifier with the given channel capacity (minimum 1).
func NewNotifier(buffer int) *Notifier {
	if buffer < 1 {
		buffer = 1
	}
	return &Notifier{ch: make(chan struct{}, buffer)}
}

// Notify enqueues a change notice, dropping it if the channel is full.
func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// C returns the receive side consumed by the rebuild loop.
func (n *Notifier) C() <-chan struct{} { return n.ch }
