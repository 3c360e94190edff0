package webhook

import (
	"fmt"
	"sync"
)

// deliveryWindow remembers the most recent deliveries so redelivered
// payloads do not start a second run for the same diff. The window is a
// bounded FIFO: once full, admitting a new delivery evicts the oldest.
type deliveryWindow struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	cap   int
}

func newDeliveryWindow(capacity int) *deliveryWindow {
	if capacity <= 0 {
		capacity = 256
	}
	return &deliveryWindow{
		seen: make(map[string]struct{}, capacity),
		cap:  capacity,
	}
}

// admit records the delivery and reports true the first time a given
// repo, PR and payload digest combination is seen within the window.
func (w *deliveryWindow) admit(repo string, prNumber int, digest string) bool {
	key := fmt.Sprintf("%s#%d:%s", repo, prNumber, digest)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[key]; ok {
		return false
	}

	if len(w.order) >= w.cap {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.seen, oldest)
	}
	w.seen[key] = struct{}{}
	w.order = append(w.order, key)
	return true
}

// forget releases a previously admitted delivery so it can be admitted
// again. Used when the server could not act on the delivery after all and
// a redelivery must not be treated as a duplicate.
func (w *deliveryWindow) forget(repo string, prNumber int, digest string) {
	key := fmt.Sprintf("%s#%d:%s", repo, prNumber, digest)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[key]; !ok {
		return
	}
	delete(w.seen, key)
	for i, k := range w.order {
		if k == key {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}
