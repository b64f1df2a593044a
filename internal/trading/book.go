package trading

import (
	"fmt"
	"sort"
	"sync"

	"alert-trader/internal/models"
)

// PositionBook holds pending entries and active positions. All access goes
// through one mutex; callers get copies.
type PositionBook struct {
	mu       sync.Mutex
	pending  map[string]models.PendingEntry // by entry order id
	active   map[string]models.Position     // by position id
	inflight map[string]struct{}            // entry order ids with a stop-loss being placed
}

// NewPositionBook creates an empty book.
func NewPositionBook() *PositionBook {
	return &PositionBook{
		pending:  make(map[string]models.PendingEntry),
		active:   make(map[string]models.Position),
		inflight: make(map[string]struct{}),
	}
}

// AddPending tracks an accepted entry order.
func (b *PositionBook) AddPending(p models.PendingEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[p.EntryOrderID] = p
}

// RemovePending drops a pending entry, returning it if present.
func (b *PositionBook) RemovePending(entryOrderID string) (models.PendingEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[entryOrderID]
	delete(b.pending, entryOrderID)
	return p, ok
}

// PendingEntries returns pending entries ordered by alert time.
func (b *PositionBook) PendingEntries() []models.PendingEntry {
	b.mu.Lock()
	out := make([]models.PendingEntry, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, p)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AlertTime.Equal(out[j].AlertTime) {
			return out[i].EntryOrderID < out[j].EntryOrderID
		}
		return out[i].AlertTime.Before(out[j].AlertTime)
	})
	return out
}

// AddPosition tracks an active position. A position already tracked under
// the same id is kept as is, exit time included.
func (b *PositionBook) AddPosition(p models.Position) error {
	if p.SLOrderID == "" {
		return fmt.Errorf("position %s has no stop-loss order", p.PositionID)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.active[p.PositionID]; !ok {
		b.active[p.PositionID] = p
	}
	return nil
}

// Promote moves a filled entry from pending to active in one step.
func (b *PositionBook) Promote(p models.Position) error {
	if p.SLOrderID == "" {
		return fmt.Errorf("position %s has no stop-loss order", p.PositionID)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, p.EntryOrderID)
	if _, ok := b.active[p.PositionID]; !ok {
		b.active[p.PositionID] = p
	}
	return nil
}

// RemovePosition drops an active position.
func (b *PositionBook) RemovePosition(positionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.active, positionID)
}

// PositionForEntry finds the active position opened by an entry order.
func (b *PositionBook) PositionForEntry(entryOrderID string) (models.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.active {
		if p.EntryOrderID == entryOrderID {
			return p, true
		}
	}
	return models.Position{}, false
}

// Positions returns active positions ordered by exit time.
func (b *PositionBook) Positions() []models.Position {
	b.mu.Lock()
	out := make([]models.Position, 0, len(b.active))
	for _, p := range b.active {
		out = append(out, p)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ExitTime.Equal(out[j].ExitTime) {
			return out[i].PositionID < out[j].PositionID
		}
		return out[i].ExitTime.Before(out[j].ExitTime)
	})
	return out
}

// Counts returns the number of pending entries and active positions.
func (b *PositionBook) Counts() (pending, active int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending), len(b.active)
}

// BeginStopLoss claims stop-loss placement for an entry. It returns false
// when another placement for the same entry is in flight.
func (b *PositionBook) BeginStopLoss(entryOrderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, busy := b.inflight[entryOrderID]; busy {
		return false
	}
	b.inflight[entryOrderID] = struct{}{}
	return true
}

// EndStopLoss releases the claim taken by BeginStopLoss.
func (b *PositionBook) EndStopLoss(entryOrderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inflight, entryOrderID)
}
