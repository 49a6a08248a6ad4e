package webhook

import "sync"

// deliveryWindow is how many delivery ids each endpoint remembers.
const deliveryWindow = 256

// deliveryLog remembers the most recent delivery ids for one endpoint so a
// sender's retry of an already-applied delivery is acknowledged without
// running the action again.
type deliveryLog struct {
	mu   sync.Mutex
	seen map[string]struct{}
	ring []string
	next int
}

func newDeliveryLog(size int) *deliveryLog {
	return &deliveryLog{seen: make(map[string]struct{}, size), ring: make([]string, size)}
}

// firstSeen records id and reports whether it was new.
func (l *deliveryLog) firstSeen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.seen[id]; dup {
		return false
	}
	if old := l.ring[l.next]; old != "" {
		delete(l.seen, old)
	}
	l.ring[l.next] = id
	l.seen[id] = struct{}{}
	l.next = (l.next + 1) % len(l.ring)
	return true
}

// forget drops id so a delivery whose action failed can be retried.
func (l *deliveryLog) forget(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, id)
}
