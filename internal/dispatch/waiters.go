package dispatch

import (
	"sync"

	"github.com/google/uuid"

	"github.com/hamsafar/dispatch/pkg/models"
)

// waiterRegistry connects driver responses (HTTP or WebSocket goroutines) to
// the offer loop blocked on the trip. One waiter per trip: offers are
// sequential and exclusive. The zero value is ready to use.
type waiterRegistry struct {
	mu sync.Mutex
	m  map[uuid.UUID]chan models.OfferStatus
}

func (w *waiterRegistry) register(tripID uuid.UUID) chan models.OfferStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.m == nil {
		w.m = make(map[uuid.UUID]chan models.OfferStatus)
	}
	ch := make(chan models.OfferStatus, 1)
	w.m[tripID] = ch
	return ch
}

func (w *waiterRegistry) unregister(tripID uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.m, tripID)
}

// signal wakes the loop waiting on the trip, if any. The buffered channel
// keeps the winning outcome even when the loop is between selects.
func (w *waiterRegistry) signal(tripID uuid.UUID, outcome models.OfferStatus) {
	w.mu.Lock()
	ch := w.m[tripID]
	w.mu.Unlock()
	if ch == nil {
		return
	}

	select {
	case ch <- outcome:
	default:
	}
}
